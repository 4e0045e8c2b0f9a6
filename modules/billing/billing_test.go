package billing_test

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
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pixelmint/modules/billing"
	"github.com/dmitrymomot/pixelmint/pkg/jwt"
	"github.com/dmitrymomot/pixelmint/pkg/queue"
	"github.com/dmitrymomot/pixelmint/pkg/retry"
	"github.com/dmitrymomot/pixelmint/pkg/subscription"
)

type mockSubs struct {
	mock.Mock
}

func (m *mockSubs) Catalog() *subscription.Catalog { return subscription.DefaultCatalog() }

func (m *mockSubs) Info(ctx context.Context, userID string) (subscription.Info, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(subscription.Info), args.Error(1)
}

func (m *mockSubs) CreateCheckout(ctx context.Context, userID string, tier subscription.Tier, successURL, cancelURL string) (string, error) {
	args := m.Called(ctx, userID, tier, successURL, cancelURL)
	return args.String(0), args.Error(1)
}

func (m *mockSubs) CreatePortal(ctx context.Context, userID, returnURL string) (string, error) {
	args := m.Called(ctx, userID, returnURL)
	return args.String(0), args.Error(1)
}

func (m *mockSubs) ScheduleChange(ctx context.Context, userID string, target subscription.Tier) (subscription.Info, error) {
	args := m.Called(ctx, userID, target)
	return args.Get(0).(subscription.Info), args.Error(1)
}

func (m *mockSubs) CancelPendingChange(ctx context.Context, userID string) (subscription.Info, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(subscription.Info), args.Error(1)
}

func (m *mockSubs) Cancel(ctx context.Context, userID string) (subscription.Info, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(subscription.Info), args.Error(1)
}

func (m *mockSubs) Renew(ctx context.Context, userID string) (subscription.Info, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(subscription.Info), args.Error(1)
}

func newHandler(t *testing.T, subs *mockSubs) http.Handler {
	t.Helper()
	svc := billing.NewService(subs, billing.Config{AppURL: "https://app.pixelmint.io"},
		billing.WithBackoff(retry.Linear{Interval: time.Millisecond}))
	h := svc.Handle()
	t.Cleanup(func() { subs.AssertExpectations(t) })
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := &jwt.Claims{RegisteredClaims: gojwt.RegisteredClaims{Subject: "user_1"}}
		h.ServeHTTP(w, r.WithContext(jwt.WithClaims(r.Context(), claims)))
	})
}

func do(h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		raw, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error.Code
}

func TestInfoAndPlans(t *testing.T) {
	t.Parallel()

	subs := &mockSubs{}
	h := newHandler(t, subs)
	subs.On("Info", mock.Anything, "user_1").
		Return(subscription.Info{Tier: subscription.TierPro, Status: subscription.StatusActive}, nil).Once()

	rec := do(h, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var info struct {
		Data subscription.Info `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, subscription.TierPro, info.Data.Tier)

	rec = do(h, http.MethodGet, "/plans", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var plans struct {
		Data []billing.PlanResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plans))
	require.Len(t, plans.Data, 4)
	assert.Equal(t, int64(10), plans.Data[0].Limits["generator"])
}

func TestCheckout(t *testing.T) {
	t.Parallel()

	t.Run("retries transient provider errors", func(t *testing.T) {
		t.Parallel()
		subs := &mockSubs{}
		h := newHandler(t, subs)
		transient := &subscription.ProviderError{Status: http.StatusServiceUnavailable, Message: "try later"}
		subs.On("CreateCheckout", mock.Anything, "user_1", subscription.TierPremium,
			"https://app.pixelmint.io/billing/done", "https://app.pixelmint.io/billing").
			Return("", transient).Twice()
		subs.On("CreateCheckout", mock.Anything, "user_1", subscription.TierPremium,
			"https://app.pixelmint.io/billing/done", "https://app.pixelmint.io/billing").
			Return("https://checkout.stripe.test/cs_1", nil).Once()

		rec := do(h, http.MethodPost, "/checkout", map[string]string{
			"tier":        "premium",
			"success_url": "https://app.pixelmint.io/billing/done",
			"cancel_url":  "https://app.pixelmint.io/billing",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Contains(t, rec.Body.String(), "cs_1")
	})

	t.Run("domain errors are not retried", func(t *testing.T) {
		t.Parallel()
		subs := &mockSubs{}
		h := newHandler(t, subs)
		subs.On("CreateCheckout", mock.Anything, "user_1", subscription.TierPro, mock.Anything, mock.Anything).
			Return("", subscription.ErrAlreadySubscribed).Once()

		rec := do(h, http.MethodPost, "/checkout", map[string]string{
			"tier":        "pro",
			"success_url": "https://app.pixelmint.io/ok",
			"cancel_url":  "https://app.pixelmint.io/no",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "already_subscribed", errorCode(t, rec))
	})

	t.Run("foreign return url", func(t *testing.T) {
		t.Parallel()
		h := newHandler(t, &mockSubs{})
		rec := do(h, http.MethodPost, "/checkout", map[string]string{
			"tier":        "pro",
			"success_url": "https://evil.example/ok",
			"cancel_url":  "https://app.pixelmint.io/no",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("basic is not purchasable", func(t *testing.T) {
		t.Parallel()
		h := newHandler(t, &mockSubs{})
		rec := do(h, http.MethodPost, "/checkout", map[string]string{
			"tier":        "basic",
			"success_url": "https://app.pixelmint.io/ok",
			"cancel_url":  "https://app.pixelmint.io/no",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestChange(t *testing.T) {
	t.Parallel()

	pending := subscription.TierUltimate
	tests := []struct {
		name   string
		tier   string
		setup  func(m *mockSubs)
		status int
		code   string
	}{
		{
			name: "upgrade is scheduled",
			tier: "ultimate",
			setup: func(m *mockSubs) {
				m.On("ScheduleChange", mock.Anything, "user_1", subscription.TierUltimate).
					Return(subscription.Info{Tier: subscription.TierPro, PendingTier: &pending}, nil).Once()
			},
			status: http.StatusOK,
		},
		{
			name: "basic cancels at period end",
			tier: "basic",
			setup: func(m *mockSubs) {
				m.On("Cancel", mock.Anything, "user_1").
					Return(subscription.Info{Tier: subscription.TierPro, Status: subscription.StatusCanceling}, nil).Once()
			},
			status: http.StatusOK,
		},
		{
			name: "same tier",
			tier: "pro",
			setup: func(m *mockSubs) {
				m.On("ScheduleChange", mock.Anything, "user_1", subscription.TierPro).
					Return(subscription.Info{}, subscription.ErrSameTier).Once()
			},
			status: http.StatusConflict,
			code:   "same_tier",
		},
		{
			name: "provider rejects",
			tier: "premium",
			setup: func(m *mockSubs) {
				m.On("ScheduleChange", mock.Anything, "user_1", subscription.TierPremium).
					Return(subscription.Info{}, &subscription.ProviderError{Status: 402, Code: "card_declined", Message: "Your card was declined."}).Once()
			},
			status: http.StatusBadRequest,
			code:   "billing_rejected",
		},
		{
			name: "unclassified failure",
			tier: "premium",
			setup: func(m *mockSubs) {
				m.On("ScheduleChange", mock.Anything, "user_1", subscription.TierPremium).
					Return(subscription.Info{}, errors.New("boom")).Times(3)
			},
			status: http.StatusInternalServerError,
			code:   "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			subs := &mockSubs{}
			tt.setup(subs)
			h := newHandler(t, subs)

			rec := do(h, http.MethodPost, "/change", map[string]string{"tier": tt.tier})
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, errorCode(t, rec))
			}
		})
	}
}

func TestTransitions(t *testing.T) {
	t.Parallel()

	subs := &mockSubs{}
	h := newHandler(t, subs)
	subs.On("Renew", mock.Anything, "user_1").Return(subscription.Info{Status: subscription.StatusActive}, nil).Once()
	subs.On("CancelPendingChange", mock.Anything, "user_1").Return(subscription.Info{}, subscription.ErrInvalidTransition).Once()

	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/renew", nil).Code)

	rec := do(h, http.MethodPost, "/cancel-pending", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", errorCode(t, rec))
}

type pendingList []string

func (p pendingList) DuePending(context.Context) ([]string, error) { return p, nil }

type recordingEnqueuer struct {
	tasks []subscription.SyncTask
	fail  string
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, payload any, _ ...queue.EnqueueOption) (uuid.UUID, error) {
	task := payload.(subscription.SyncTask)
	if task.UserID == e.fail {
		return uuid.Nil, errors.New("queue down")
	}
	e.tasks = append(e.tasks, task)
	return uuid.New(), nil
}

func TestResync_RunOnce(t *testing.T) {
	t.Parallel()

	enq := &recordingEnqueuer{fail: "user_b"}
	r := billing.NewResync(pendingList{"user_a", "user_b", "user_c"}, enq, "", nil)

	n, err := r.RunOnce(t.Context())
	assert.Error(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []subscription.SyncTask{{UserID: "user_a"}, {UserID: "user_c"}}, enq.tasks)
}

func TestResync_RunStopsWithContext(t *testing.T) {
	t.Parallel()

	r := billing.NewResync(pendingList{}, &recordingEnqueuer{}, "@every 1h", nil)
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.Fail(t, "resync did not stop")
	}

	bad := billing.NewResync(pendingList{}, &recordingEnqueuer{}, "not a schedule", nil)
	assert.Error(t, bad.Run(t.Context()))
}
