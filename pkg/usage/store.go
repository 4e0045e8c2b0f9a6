package usage

import (
	"context"
	"time"
)

// Store persists counters. Every method treats a counter whose date is before
// periodStart as zero and must apply the reset in the same atomic step as the
// write.
type Store interface {
	// Load returns the raw stored counter without applying any reset.
	Load(ctx context.Context, keys Keys) (Counter, error)
	// Add unconditionally adds n and stamps the date with now.
	Add(ctx context.Context, keys Keys, n int64, periodStart, now time.Time) (Counter, error)
	// AddWithin adds n only if the post-reset count plus n stays within limit.
	// On refusal it returns the post-reset count and false.
	AddWithin(ctx context.Context, keys Keys, n, limit int64, periodStart, now time.Time) (Counter, bool, error)
	// Refund subtracts n from the period count, never below zero. Total is untouched.
	Refund(ctx context.Context, keys Keys, n int64) error
	// Reset clears the period count and date, keeping the total.
	Reset(ctx context.Context, keys Keys) error
	// Delete removes every key of the counters.
	Delete(ctx context.Context, keys ...Keys) error
}
