package jwt_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pixelmint/pkg/jwt"
)

var now = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func claims(sub string, ttl time.Duration) jwt.Claims {
	return jwt.Claims{
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    "https://clerk.pixelmint.test",
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(ttl)),
		},
		Email: sub + "@example.com",
	}
}

func hmacService(t *testing.T) *jwt.Service {
	t.Helper()
	s, err := jwt.New(jwt.Config{
		Secret:     "test-secret-with-enough-entropy!",
		Issuer:     "https://clerk.pixelmint.test",
		CookieName: "__session",
	}, jwt.WithClock(clock))
	require.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := jwt.New(jwt.Config{})
	assert.ErrorIs(t, err, jwt.ErrMissingKey)

	_, err = jwt.New(jwt.Config{PublicKey: "not a pem"})
	assert.ErrorIs(t, err, jwt.ErrInvalidKey)
}

func TestService_HMAC(t *testing.T) {
	t.Parallel()
	s := hmacService(t)

	token, err := s.Generate(claims("user_1", time.Hour))
	require.NoError(t, err)

	c, err := s.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "user_1", c.Subject)
	assert.Equal(t, "user_1@example.com", c.Email)

	expired, err := s.Generate(claims("user_1", -time.Hour))
	require.NoError(t, err)
	_, err = s.Parse(expired)
	assert.ErrorIs(t, err, jwt.ErrExpiredToken)

	_, err = s.Parse(token[:len(token)-2] + "xx")
	assert.ErrorIs(t, err, jwt.ErrInvalidToken)

	anon, err := s.Generate(claims("", time.Hour))
	require.NoError(t, err)
	_, err = s.Parse(anon)
	assert.ErrorIs(t, err, jwt.ErrMissingSubject)

	other := claims("user_1", time.Hour)
	other.Issuer = "https://evil.test"
	foreign, err := s.Generate(other)
	require.NoError(t, err)
	_, err = s.Parse(foreign)
	assert.ErrorIs(t, err, jwt.ErrInvalidToken)
}

func TestService_RSA(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	pemKey := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	s, err := jwt.New(jwt.Config{PublicKey: strings.ReplaceAll(pemKey, "\n", `\n`)}, jwt.WithClock(clock))
	require.NoError(t, err)

	token, err := gojwt.NewWithClaims(gojwt.SigningMethodRS256, claims("user_rs", time.Hour)).SignedString(priv)
	require.NoError(t, err)
	c, err := s.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "user_rs", c.Subject)

	_, err = s.Generate(claims("user_rs", time.Hour))
	assert.ErrorIs(t, err, jwt.ErrSigningForbidden)

	hs, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims("user_rs", time.Hour)).SignedString([]byte(pemKey))
	require.NoError(t, err)
	_, err = s.Parse(hs)
	assert.ErrorIs(t, err, jwt.ErrInvalidToken, "algorithm must be pinned")
}

func TestMiddleware(t *testing.T) {
	t.Parallel()
	s := hmacService(t)
	token, err := s.Generate(claims("user_1", time.Hour))
	require.NoError(t, err)

	var seen string
	h := jwt.Middleware(s)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = jwt.UserID(r.Context())
	}))

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
		user   string
	}{
		{"anonymous", func(*http.Request) {}, http.StatusOK, ""},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusOK, "user_1"},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "__session", Value: token}) }, http.StatusOK, "user_1"},
		{"garbage", func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc.def.ghi") }, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		seen = ""
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		tt.setup(req)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tt.status, rec.Code, tt.name)
		assert.Equal(t, tt.user, seen, tt.name)
	}
}

func TestRequireUser(t *testing.T) {
	t.Parallel()
	s := hmacService(t)
	h := jwt.Middleware(s)(jwt.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":{"code":"unauthorized","message":"unauthorized"}}`, rec.Body.String())

	token, err := s.Generate(claims("user_1", time.Hour))
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
