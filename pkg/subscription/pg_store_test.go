package subscription_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pixelmint/pkg/pg"
	"github.com/dmitrymomot/pixelmint/pkg/pg/pgtest"
	"github.com/dmitrymomot/pixelmint/pkg/subscription"
)

func TestPgStore(t *testing.T) {
	pool := pgtest.Start(t)
	store := subscription.NewPgStore(pool)
	ctx := context.Background()

	end := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	premium := subscription.TierPremium
	r := &subscription.Record{
		UserID:          "u1",
		Tier:            subscription.TierPro,
		Status:          subscription.StatusActive,
		PendingUpgrade:  &premium,
		CustomerID:      "cus_1",
		SubscriptionID:  "sub_1",
		ScheduleID:      "sched_1",
		NextBillingDate: &end,
	}

	t.Run("save and get", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, r))

		got, err := store.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, subscription.TierPro, got.Tier)
		require.NotNil(t, got.PendingUpgrade)
		assert.Equal(t, subscription.TierPremium, *got.PendingUpgrade)
		assert.Nil(t, got.PendingDowngrade)
		assert.Equal(t, "sched_1", got.ScheduleID)
		require.NotNil(t, got.NextBillingDate)
		assert.True(t, end.Equal(*got.NextBillingDate))

		byCustomer, err := store.GetByCustomer(ctx, "cus_1")
		require.NoError(t, err)
		assert.Equal(t, "u1", byCustomer.UserID)
	})

	t.Run("upsert clears fields", func(t *testing.T) {
		r.ClearPending()
		require.NoError(t, store.Save(ctx, r))
		got, err := store.Get(ctx, "u1")
		require.NoError(t, err)
		_, pending := got.Pending()
		assert.False(t, pending)
		assert.Empty(t, got.ScheduleID)
	})

	t.Run("both pending fields violate the check", func(t *testing.T) {
		basic := subscription.TierBasic
		bad := r.Clone()
		bad.PendingUpgrade = &premium
		bad.PendingDowngrade = &basic
		err := store.Save(ctx, bad)
		assert.True(t, pg.IsCheckViolationError(err))
	})

	t.Run("customer is unique", func(t *testing.T) {
		err := store.Save(ctx, &subscription.Record{
			UserID: "u2", Tier: subscription.TierBasic, Status: subscription.StatusInactive, CustomerID: "cus_1",
		})
		assert.ErrorIs(t, err, subscription.ErrCustomerConflict)
	})

	t.Run("list pending", func(t *testing.T) {
		r.SetPending(subscription.TierUltimate)
		r.ScheduleID = "sched_2"
		require.NoError(t, store.Save(ctx, r))

		due, err := store.ListPending(ctx, end.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "u1", due[0].UserID)

		due, err = store.ListPending(ctx, end.Add(-time.Hour))
		require.NoError(t, err)
		assert.Empty(t, due)
	})

	t.Run("all and delete", func(t *testing.T) {
		var ids []string
		require.NoError(t, store.All(ctx, func(r *subscription.Record) error {
			ids = append(ids, r.UserID)
			return nil
		}))
		assert.Equal(t, []string{"u1"}, ids)

		require.NoError(t, store.Delete(ctx, "u1"))
		_, err := store.Get(ctx, "u1")
		assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
	})
}
