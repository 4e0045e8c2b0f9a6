package jwt

import (
	"errors"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// Config selects the verification key. PublicKey wins when both are set.
type Config struct {
	PublicKey  string        `env:"JWT_PUBLIC_KEY"`
	Secret     string        `env:"JWT_SECRET"`
	Issuer     string        `env:"JWT_ISSUER"`
	Leeway     time.Duration `env:"JWT_LEEWAY" envDefault:"5s"`
	CookieName string        `env:"JWT_COOKIE_NAME" envDefault:"__session"`
}

// Claims are the session claims. Subject is the user id.
type Claims struct {
	gojwt.RegisteredClaims
	SessionID string `json:"sid,omitempty"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
}

// Service verifies session tokens.
type Service struct {
	key     any
	method  gojwt.SigningMethod
	parser  *gojwt.Parser
	cookie  string
	signing []byte
}

type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func New(cfg Config, opts ...Option) (*Service, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{cookie: cfg.CookieName}
	switch {
	case strings.TrimSpace(cfg.PublicKey) != "":
		key, err := gojwt.ParseRSAPublicKeyFromPEM([]byte(normalizePEM(cfg.PublicKey)))
		if err != nil {
			return nil, errors.Join(ErrInvalidKey, err)
		}
		s.key, s.method = key, gojwt.SigningMethodRS256
	case cfg.Secret != "":
		s.signing = []byte(cfg.Secret)
		s.key, s.method = s.signing, gojwt.SigningMethodHS256
	default:
		return nil, ErrMissingKey
	}

	parserOpts := []gojwt.ParserOption{
		gojwt.WithValidMethods([]string{s.method.Alg()}),
		gojwt.WithExpirationRequired(),
		gojwt.WithLeeway(cfg.Leeway),
		gojwt.WithTimeFunc(o.now),
	}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, gojwt.WithIssuer(cfg.Issuer))
	}
	s.parser = gojwt.NewParser(parserOpts...)
	return s, nil
}

// Parse verifies the token and returns its claims.
func (s *Service) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := s.parser.ParseWithClaims(token, claims, func(*gojwt.Token) (any, error) {
		return s.key, nil
	})
	if err != nil {
		if errors.Is(err, gojwt.ErrTokenExpired) {
			return nil, errors.Join(ErrExpiredToken, err)
		}
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}

// Generate signs claims with the shared secret. RS256 services only verify.
func (s *Service) Generate(claims Claims) (string, error) {
	if s.signing == nil {
		return "", ErrSigningForbidden
	}
	return gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(s.signing)
}

// Env files often carry the key on one line with literal \n separators.
func normalizePEM(key string) string {
	return strings.ReplaceAll(strings.TrimSpace(key), `\n`, "\n")
}
