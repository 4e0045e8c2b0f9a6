package subscription_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pixelmint/pkg/redis"
	"github.com/dmitrymomot/pixelmint/pkg/subscription"
	"github.com/dmitrymomot/pixelmint/pkg/usage"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) GetCustomer(ctx context.Context, customerID string) (*subscription.Customer, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.Customer), args.Error(1)
}

func (m *mockProvider) CreateCustomer(ctx context.Context, userID string, contact subscription.Contact) (*subscription.Customer, error) {
	args := m.Called(ctx, userID, contact)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.Customer), args.Error(1)
}

func (m *mockProvider) GetSubscription(ctx context.Context, subscriptionID string) (*subscription.ProviderSubscription, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.ProviderSubscription), args.Error(1)
}

func (m *mockProvider) ActiveSubscription(ctx context.Context, customerID string) (*subscription.ProviderSubscription, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.ProviderSubscription), args.Error(1)
}

func (m *mockProvider) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*subscription.ProviderSubscription, error) {
	args := m.Called(ctx, subscriptionID, cancel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.ProviderSubscription), args.Error(1)
}

func (m *mockProvider) SchedulePriceChange(ctx context.Context, sub *subscription.ProviderSubscription, priceID string) (string, error) {
	args := m.Called(ctx, sub, priceID)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) ReleaseSchedule(ctx context.Context, scheduleID string) error {
	return m.Called(ctx, scheduleID).Error(0)
}

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, params subscription.CheckoutParams) (string, error) {
	args := m.Called(ctx, params)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	args := m.Called(ctx, customerID, returnURL)
	return args.String(0), args.Error(1)
}

func (m *mockProvider) ParseWebhook(payload []byte, signature string) (*subscription.Event, error) {
	args := m.Called(payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.Event), args.Error(1)
}

type recordingNotifier struct {
	mu      sync.Mutex
	signals []string
}

func (n *recordingNotifier) Trigger(_ context.Context, channel, event string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.signals = append(n.signals, channel+"/"+event)
	return nil
}

func (n *recordingNotifier) Signals() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.signals...)
}

type staticDirectory map[string]subscription.Contact

func (d staticDirectory) Contact(_ context.Context, userID string) (subscription.Contact, error) {
	return d[userID], nil
}

var periodEnd = time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)

func testCatalog(t *testing.T) *subscription.Catalog {
	t.Helper()
	c, err := subscription.NewCatalog(
		subscription.Plan{Tier: subscription.TierBasic, Name: "Basic", Limits: map[usage.Feature]int64{usage.FeatureGenerator: 10}},
		subscription.Plan{Tier: subscription.TierPro, Name: "Pro", PriceID: "price_pro", Limits: map[usage.Feature]int64{usage.FeatureGenerator: 500}},
		subscription.Plan{Tier: subscription.TierPremium, Name: "Premium", PriceID: "price_premium", Limits: map[usage.Feature]int64{usage.FeatureGenerator: 1500}},
		subscription.Plan{Tier: subscription.TierUltimate, Name: "Ultimate", PriceID: "price_ultimate", Limits: map[usage.Feature]int64{usage.FeatureGenerator: 5000}},
	)
	require.NoError(t, err)
	return c
}

func providerSub(tier subscription.Tier) *subscription.ProviderSubscription {
	return &subscription.ProviderSubscription{
		ID:               "sub_1",
		CustomerID:       "cus_1",
		Status:           "active",
		PriceID:          "price_" + string(tier),
		Tier:             tier,
		CurrentPeriodEnd: periodEnd,
	}
}

type fixture struct {
	mr       *miniredis.Miniredis
	kv       *redis.KV
	base     *subscription.MemoryStore
	store    *subscription.CachedStore
	provider *mockProvider
	notifier *recordingNotifier
	svc      *subscription.Service
}

func newFixture(t *testing.T, opts ...subscription.ServiceOption) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		mr:       mr,
		kv:       redis.NewKV(client, 100),
		base:     subscription.NewMemoryStore(),
		provider: &mockProvider{},
		notifier: &recordingNotifier{},
	}
	f.store = subscription.NewCachedStore(f.base, f.kv, nil)
	opts = append([]subscription.ServiceOption{
		subscription.WithCatalog(testCatalog(t)),
		subscription.WithNotifier(f.notifier),
		subscription.WithDirectory(staticDirectory{"u1": {Email: "u1@example.com", Name: "User One"}}),
	}, opts...)
	f.svc = subscription.NewService(f.store, f.provider, opts...)
	return f
}

// seed saves a paid record for u1 through the cached store.
func (f *fixture) seed(t *testing.T, tier subscription.Tier) *subscription.Record {
	t.Helper()
	end := periodEnd
	r := &subscription.Record{
		UserID:          "u1",
		Tier:            tier,
		Status:          subscription.StatusActive,
		CustomerID:      "cus_1",
		SubscriptionID:  "sub_1",
		NextBillingDate: &end,
	}
	if !tier.Paid() {
		r.Status = subscription.StatusInactive
		r.SubscriptionID = ""
		r.NextBillingDate = nil
	}
	require.NoError(t, f.store.Save(context.Background(), r))
	return r
}
