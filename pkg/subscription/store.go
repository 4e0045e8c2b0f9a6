package subscription

import (
	"context"
	"time"
)

// Store persists subscription records.
type Store interface {
	// Get returns ErrSubscriptionNotFound when the user has no record.
	Get(ctx context.Context, userID string) (*Record, error)
	// GetByCustomer resolves a billing customer id to its record.
	GetByCustomer(ctx context.Context, customerID string) (*Record, error)
	// Save inserts or replaces the record. It is the only write path.
	Save(ctx context.Context, r *Record) error
	Delete(ctx context.Context, userID string) error
	// ListPending returns records with a pending change billed before dueBefore.
	ListPending(ctx context.Context, dueBefore time.Time) ([]*Record, error)
	// All streams every record to fn, stopping at the first error.
	All(ctx context.Context, fn func(*Record) error) error
}
