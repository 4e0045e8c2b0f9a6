package subscription_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pixelmint/pkg/subscription"
)

func TestParseTier(t *testing.T) {
	t.Parallel()

	tier, err := subscription.ParseTier(" Premium ")
	require.NoError(t, err)
	assert.Equal(t, subscription.TierPremium, tier)

	_, err = subscription.ParseTier("gold")
	assert.ErrorIs(t, err, subscription.ErrUnknownTier)
}

func TestTier_Rank(t *testing.T) {
	t.Parallel()

	assert.Less(t, subscription.TierBasic.Rank(), subscription.TierPro.Rank())
	assert.Less(t, subscription.TierPro.Rank(), subscription.TierPremium.Rank())
	assert.Less(t, subscription.TierPremium.Rank(), subscription.TierUltimate.Rank())
	assert.False(t, subscription.TierBasic.Monthly())
	assert.True(t, subscription.TierPro.Monthly())
}

func TestResolveTier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		priceMeta   map[string]string
		productMeta map[string]string
		productName string
		want        subscription.Tier
	}{
		{"price metadata wins", map[string]string{"tier": "ultimate"}, map[string]string{"tier": "pro"}, "Premium", subscription.TierUltimate},
		{"product metadata", nil, map[string]string{"tier": "premium"}, "Pro", subscription.TierPremium},
		{"invalid metadata falls through", map[string]string{"tier": "gold"}, nil, "Pro", subscription.TierPro},
		{"product name is case-insensitive", nil, nil, "PREMIUM", subscription.TierPremium},
		{"marketing name is not a tier", nil, nil, "Pixelmint Pro Monthly", subscription.TierBasic},
		{"nothing resolves to basic", nil, nil, "", subscription.TierBasic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, subscription.ResolveTier(tt.priceMeta, tt.productMeta, tt.productName))
		})
	}
}

func TestRecord_State(t *testing.T) {
	t.Parallel()

	premium := subscription.TierPremium
	basic := subscription.TierBasic

	tests := []struct {
		name   string
		record subscription.Record
		want   subscription.State
	}{
		{"basic", subscription.Record{Tier: subscription.TierBasic, Status: subscription.StatusActive}, subscription.StateBasic},
		{"inactive paid", subscription.Record{Tier: subscription.TierPro, Status: subscription.StatusInactive}, subscription.StateBasic},
		{"active", subscription.Record{Tier: subscription.TierPro, Status: subscription.StatusActive}, subscription.StateActive},
		{"upgrade", subscription.Record{Tier: subscription.TierPro, Status: subscription.StatusActive, PendingUpgrade: &premium}, subscription.StatePendingUpgrade},
		{"downgrade", subscription.Record{Tier: subscription.TierPro, Status: subscription.StatusActive, PendingDowngrade: &basic}, subscription.StatePendingDowngrade},
		{"canceling", subscription.Record{Tier: subscription.TierPro, Status: subscription.StatusCanceling}, subscription.StateCanceling},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.record.State())
		})
	}
}

func TestRecord_SetPending(t *testing.T) {
	t.Parallel()

	r := subscription.Record{Tier: subscription.TierPremium, Status: subscription.StatusActive, ScheduleID: "sched"}
	r.SetPending(subscription.TierUltimate)
	require.NotNil(t, r.PendingUpgrade)
	assert.Nil(t, r.PendingDowngrade)
	assert.Empty(t, r.ScheduleID)

	r.SetPending(subscription.TierPro)
	assert.Nil(t, r.PendingUpgrade)
	require.NotNil(t, r.PendingDowngrade)
	assert.Equal(t, subscription.TierPro, *r.PendingDowngrade)
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	assert.True(t, subscription.CanTransition(subscription.StateBasic, subscription.ActionCheckout))
	assert.False(t, subscription.CanTransition(subscription.StateBasic, subscription.ActionCancel))
	assert.True(t, subscription.CanTransition(subscription.StateActive, subscription.ActionChange))
	assert.False(t, subscription.CanTransition(subscription.StateActive, subscription.ActionCancelPending))
	assert.True(t, subscription.CanTransition(subscription.StatePendingDowngrade, subscription.ActionCancel))
	assert.True(t, subscription.CanTransition(subscription.StateCanceling, subscription.ActionRenew))
	assert.False(t, subscription.CanTransition(subscription.StateCanceling, subscription.ActionChange))
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	missing := &subscription.ProviderError{Code: subscription.CodeResourceMissing, Status: 404}
	assert.True(t, subscription.IsResourceMissing(missing))
	assert.True(t, subscription.IsClientError(missing))
	assert.False(t, subscription.IsRetryable(missing))

	assert.True(t, subscription.IsRetryable(&subscription.ProviderError{Status: 503}))
	assert.True(t, subscription.IsRetryable(&subscription.ProviderError{Status: 429}))
	assert.True(t, subscription.IsRetryable(&subscription.ProviderError{}))
	assert.False(t, subscription.IsRetryable(subscription.ErrInvalidTransition))
	assert.False(t, subscription.IsRetryable(nil))
}
