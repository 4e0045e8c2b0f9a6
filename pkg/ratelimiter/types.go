package ratelimiter

import (
	"context"
	"time"

	"github.com/dmitrymomot/pixelmint/pkg/subscription"
	"github.com/dmitrymomot/pixelmint/pkg/usage"
)

// Unlimited is the limit of features without a quota.
const Unlimited = subscription.Unlimited

// TierResolver returns the caller's current tier.
type TierResolver interface {
	Tier(ctx context.Context, userID string) (subscription.Tier, error)
}

// Config holds the limiter settings read from the environment.
type Config struct {
	FailClosed bool `env:"RATELIMIT_FAIL_CLOSED" envDefault:"false"`
}

// Result is the quota state of one feature for one user.
type Result struct {
	CanProceed bool              `json:"can_proceed"`
	Feature    usage.Feature     `json:"feature"`
	Tier       subscription.Tier `json:"tier"`
	UsageCount int64             `json:"usage_count"`
	Limit      int64             `json:"limit"`
	Remaining  int64             `json:"remaining"`
	Total      int64             `json:"total"`
	ResetsIn   string            `json:"resets_in"`
	ResetAt    time.Time         `json:"reset_at"`
	// Degraded is set when the store failed and the result assumes zero usage.
	Degraded bool `json:"degraded,omitempty"`
}

// Unlimited reports whether the feature has no quota for the tier.
func (r Result) Unlimited() bool {
	return r.Limit < 0
}
