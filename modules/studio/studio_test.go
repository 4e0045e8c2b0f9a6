package studio_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pixelmint/modules/studio"
	"github.com/dmitrymomot/pixelmint/pkg/inference"
	"github.com/dmitrymomot/pixelmint/pkg/jwt"
	"github.com/dmitrymomot/pixelmint/pkg/period"
	"github.com/dmitrymomot/pixelmint/pkg/ratelimiter"
	"github.com/dmitrymomot/pixelmint/pkg/storage"
	"github.com/dmitrymomot/pixelmint/pkg/subscription"
	"github.com/dmitrymomot/pixelmint/pkg/usage"
)

type mockModel struct {
	mock.Mock
}

func (m *mockModel) Generate(ctx context.Context, req inference.GenerateRequest) (inference.Output, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(inference.Output), args.Error(1)
}

func (m *mockModel) Upscale(ctx context.Context, req inference.UpscaleRequest) (inference.Output, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(inference.Output), args.Error(1)
}

func (m *mockModel) EnhancePrompt(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

type mockImages struct {
	mock.Mock
}

func (m *mockImages) Put(ctx context.Context, userID string, data []byte) (storage.Image, error) {
	args := m.Called(ctx, userID, data)
	return args.Get(0).(storage.Image), args.Error(1)
}

type basicUsers struct{}

func (basicUsers) Tier(context.Context, string) (subscription.Tier, error) {
	return subscription.TierBasic, nil
}

type fixture struct {
	limiter *ratelimiter.Limiter
	model   *mockModel
	images  *mockImages
	handler http.Handler
	ops     []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 10, 19, 15, 30, 0, 0, time.UTC)
	ledger := usage.NewLedger(usage.NewMemoryStore(),
		usage.WithPolicy(period.New(period.WithClock(func() time.Time { return now }))))

	f := &fixture{
		limiter: ratelimiter.New(ledger, basicUsers{}),
		model:   &mockModel{},
		images:  &mockImages{},
	}
	svc := studio.NewService(f.limiter, f.model, f.images,
		studio.WithObserver(func(op string, _ time.Duration, _ error) { f.ops = append(f.ops, op) }))

	h := svc.Handle()
	f.handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := r.Header.Get("X-Test-User"); user != "" {
			claims := &jwt.Claims{RegisteredClaims: gojwt.RegisteredClaims{Subject: user}}
			r = r.WithContext(jwt.WithClaims(r.Context(), claims))
		}
		h.ServeHTTP(w, r)
	})
	t.Cleanup(func() {
		f.model.AssertExpectations(t)
		f.images.AssertExpectations(t)
	})
	return f
}

func (f *fixture) post(path, user string, body any) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) used(t *testing.T, user string, feat usage.Feature) int64 {
	t.Helper()
	res, err := f.limiter.Can(context.Background(), user, subscription.TierBasic, feat, 1)
	require.NoError(t, err)
	return res.UsageCount
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error.Code
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	t.Run("stores the image and counts one unit", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		png := []byte("\x89PNG...")
		f.model.On("Generate", mock.Anything, inference.GenerateRequest{Prompt: "a lighthouse", Width: 512, Height: 512}).
			Return(inference.Output{Image: png, Seed: 99}, nil).Once()
		f.images.On("Put", mock.Anything, "user_1", png).
			Return(storage.Image{ID: "img_1", URL: "https://cdn.test/images/user_1/img_1.png"}, nil).Once()

		rec := f.post("/generate", "user_1", map[string]any{"prompt": "a lighthouse", "width": 512, "height": 512})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))

		var body struct {
			Data studio.ImageResponse `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "https://cdn.test/images/user_1/img_1.png", body.Data.Image.URL)
		assert.Equal(t, int64(99), body.Data.Seed)
		assert.Equal(t, int64(1), body.Data.Usage.UsageCount)
		assert.Equal(t, int64(1), f.used(t, "user_1", usage.FeatureGenerator))
		assert.Equal(t, []string{"generate"}, f.ops)
	})

	t.Run("model rejection refunds", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.model.On("Generate", mock.Anything, mock.Anything).
			Return(inference.Output{}, errors.Join(inference.ErrRejected, errors.New("nsfw"))).Once()

		rec := f.post("/generate", "user_1", map[string]any{"prompt": "something"})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "prompt_rejected", errorCode(t, rec))
		assert.Zero(t, f.used(t, "user_1", usage.FeatureGenerator))
	})

	t.Run("open circuit refunds", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.model.On("Generate", mock.Anything, mock.Anything).Return(inference.Output{}, inference.ErrCircuitOpen).Once()

		rec := f.post("/generate", "user_1", map[string]any{"prompt": "something"})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Zero(t, f.used(t, "user_1", usage.FeatureGenerator))
	})

	t.Run("upload failure refunds", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.model.On("Generate", mock.Anything, mock.Anything).Return(inference.Output{Image: []byte("img")}, nil).Once()
		f.images.On("Put", mock.Anything, "user_1", []byte("img")).
			Return(storage.Image{}, errors.Join(storage.ErrServiceUnavailable, errors.New("503"))).Once()

		rec := f.post("/generate", "user_1", map[string]any{"prompt": "something"})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Zero(t, f.used(t, "user_1", usage.FeatureGenerator))
	})

	t.Run("invalid body refunds without calling the model", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		rec := f.post("/generate", "user_1", map[string]any{"width": 100})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "validation_error", errorCode(t, rec))
		assert.Zero(t, f.used(t, "user_1", usage.FeatureGenerator))
	})

	t.Run("anonymous", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		rec := f.post("/generate", "", map[string]any{"prompt": "x"})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestUpscale(t *testing.T) {
	t.Parallel()

	t.Run("default scale", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.model.On("Upscale", mock.Anything, inference.UpscaleRequest{Image: []byte("small"), Scale: 2}).
			Return(inference.Output{Image: []byte("large")}, nil).Once()
		f.images.On("Put", mock.Anything, "user_2", []byte("large")).Return(storage.Image{ID: "img_2"}, nil).Once()

		rec := f.post("/upscale", "user_2", map[string]any{"image": []byte("small")})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, int64(1), f.used(t, "user_2", usage.FeatureUpscaler))
	})

	t.Run("limit reached", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		_, err := f.limiter.Increment(t.Context(), "user_2", subscription.TierBasic, usage.FeatureUpscaler, 5)
		require.NoError(t, err)

		rec := f.post("/upscale", "user_2", map[string]any{"image": []byte("small")})
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "limit_reached", errorCode(t, rec))
		assert.Equal(t, int64(5), f.used(t, "user_2", usage.FeatureUpscaler))
	})

	t.Run("unsupported scale", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		rec := f.post("/upscale", "user_2", map[string]any{"image": []byte("small"), "scale": 3})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Zero(t, f.used(t, "user_2", usage.FeatureUpscaler))
	})
}

func TestEnhancePrompt(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.model.On("EnhancePrompt", mock.Anything, "a cat").Return("a fluffy cat, golden hour", nil).Once()

	rec := f.post("/enhance-prompt", "user_3", map[string]any{"prompt": "a cat"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Data studio.EnhanceResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "a fluffy cat, golden hour", body.Data.Prompt)
	assert.Equal(t, int64(1), body.Data.Usage.UsageCount)
}
