package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/pixelmint/pkg/retry"
)

var errBoom = errors.New("boom")

func fast() retry.Option {
	return retry.WithBackoff(retry.Linear{Interval: time.Millisecond})
}

func TestDo(t *testing.T) {
	t.Parallel()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := retry.Do(context.Background(), func(context.Context) error {
			calls++
			if calls < 3 {
				return errBoom
			}
			return nil
		}, fast())
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops after default attempts", func(t *testing.T) {
		t.Parallel()
		calls := 0
		var delays []time.Duration
		err := retry.Do(context.Background(), func(context.Context) error {
			calls++
			return errBoom
		}, fast(), retry.WithOnRetry(func(_ int, _ error, d time.Duration) {
			delays = append(delays, d)
		}))
		require.Error(t, err)
		assert.ErrorIs(t, err, errBoom)
		assert.ErrorIs(t, err, retry.ErrAttemptsExhausted)
		assert.Equal(t, retry.DefaultAttempts, calls)
		assert.Len(t, delays, retry.DefaultAttempts-1)
	})

	t.Run("permanent error is not retried", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := retry.Do(context.Background(), func(context.Context) error {
			calls++
			return retry.Permanent(errBoom)
		}, fast())
		assert.Equal(t, errBoom, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("retryIf rejects", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := retry.Do(context.Background(), func(context.Context) error {
			calls++
			return errBoom
		}, fast(), retry.WithRetryIf(func(error) bool { return false }))
		assert.Equal(t, errBoom, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("context cancellation interrupts wait", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := retry.Do(ctx, func(context.Context) error { return errBoom },
			retry.WithBackoff(retry.Linear{Interval: time.Hour}))
		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, err, errBoom)
	})
}

func TestExponential_DefaultSchedule(t *testing.T) {
	t.Parallel()
	b := retry.Exponential{Initial: time.Second, Multiplier: 2}
	assert.Equal(t, time.Duration(0), b.NextInterval(0))
	assert.Equal(t, time.Second, b.NextInterval(1))
	assert.Equal(t, 2*time.Second, b.NextInterval(2))
	assert.Equal(t, 4*time.Second, b.NextInterval(3))
	assert.Equal(t, time.Minute, b.NextInterval(20))
}

func TestExponential_Jitter(t *testing.T) {
	t.Parallel()
	b := retry.Exponential{Initial: time.Second, JitterFactor: 0.5}
	for range 50 {
		d := b.NextInterval(2)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}

func TestLinear(t *testing.T) {
	t.Parallel()
	b := retry.Linear{Interval: 30 * time.Second, Max: time.Minute}
	assert.Equal(t, 30*time.Second, b.NextInterval(1))
	assert.Equal(t, time.Minute, b.NextInterval(5))
}
