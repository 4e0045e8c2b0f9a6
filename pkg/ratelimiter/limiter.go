package ratelimiter

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dmitrymomot/pixelmint/pkg/logger"
	"github.com/dmitrymomot/pixelmint/pkg/subscription"
	"github.com/dmitrymomot/pixelmint/pkg/usage"
)

// Limiter checks and records feature usage against tier quotas.
type Limiter struct {
	ledger     *usage.Ledger
	tiers      TierResolver
	catalog    *subscription.Catalog
	failClosed bool
	log        *slog.Logger
	onFailOpen func(op string, f usage.Feature)
	onConsume  func(f usage.Feature, tier subscription.Tier, n int64, allowed bool)
}

type Option func(*Limiter)

// WithCatalog sets the plan catalog the limits are read from.
func WithCatalog(c *subscription.Catalog) Option {
	return func(l *Limiter) {
		if c != nil {
			l.catalog = c
		}
	}
}

// WithFailClosed makes store read failures refuse requests instead of assuming zero usage.
func WithFailClosed() Option {
	return func(l *Limiter) { l.failClosed = true }
}

func WithConfig(cfg Config) Option {
	return func(l *Limiter) { l.failClosed = cfg.FailClosed }
}

func WithLogger(log *slog.Logger) Option {
	return func(l *Limiter) {
		if log != nil {
			l.log = log
		}
	}
}

// WithFailOpenObserver is called whenever a request proceeds on assumed zero usage.
func WithFailOpenObserver(fn func(op string, f usage.Feature)) Option {
	return func(l *Limiter) { l.onFailOpen = fn }
}

// WithConsumeObserver is called after every counted CheckAndIncrement with
// whether the units fit.
func WithConsumeObserver(fn func(f usage.Feature, tier subscription.Tier, n int64, allowed bool)) Option {
	return func(l *Limiter) { l.onConsume = fn }
}

func New(ledger *usage.Ledger, tiers TierResolver, opts ...Option) *Limiter {
	l := &Limiter{
		ledger:     ledger,
		tiers:      tiers,
		catalog:    subscription.DefaultCatalog(),
		log:        logger.Discard(),
		onFailOpen: func(string, usage.Feature) {},
		onConsume:  func(usage.Feature, subscription.Tier, int64, bool) {},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With(logger.Component("ratelimiter"))
	return l
}

// Tier resolves the caller's tier, falling back to basic when resolution fails.
func (l *Limiter) Tier(ctx context.Context, userID string) subscription.Tier {
	if l.tiers == nil || userID == "" {
		return subscription.TierBasic
	}
	t, err := l.tiers.Tier(ctx, userID)
	if err != nil || !t.Valid() {
		l.log.WarnContext(ctx, "tier resolution failed, using basic",
			logger.UserID(userID), logger.Error(err))
		return subscription.TierBasic
	}
	return t
}

// Limit returns the quota of a feature for a tier.
func (l *Limiter) Limit(tier subscription.Tier, f usage.Feature) int64 {
	return l.catalog.Plan(tier).Limit(f)
}

// Can reports whether n more units fit in the current period. It never writes.
func (l *Limiter) Can(ctx context.Context, userID string, tier subscription.Tier, f usage.Feature, n int64) (Result, error) {
	if userID == "" {
		return Result{}, ErrUnauthenticated
	}
	if n <= 0 {
		return Result{}, usage.ErrInvalidAmount
	}
	c, err := l.ledger.Read(ctx, userID, f, tier.Monthly())
	degraded := false
	if err != nil {
		if isInputError(err) || l.failClosed {
			return Result{}, l.storeError(err)
		}
		l.failOpen(ctx, "read", userID, f, err)
		c, degraded = usage.Counter{}, true
	}
	res := l.result(tier, f, c)
	res.Degraded = degraded
	res.CanProceed = res.Unlimited() || c.Count+n <= res.Limit
	return res, nil
}

// Increment records n units unconditionally. Store errors propagate.
func (l *Limiter) Increment(ctx context.Context, userID string, tier subscription.Tier, f usage.Feature, n int64) (Result, error) {
	if userID == "" {
		return Result{}, ErrUnauthenticated
	}
	c, err := l.ledger.Increment(ctx, userID, f, n, tier.Monthly())
	if err != nil {
		return Result{}, l.storeError(err)
	}
	res := l.result(tier, f, c)
	res.CanProceed = res.Unlimited() || c.Count <= res.Limit
	return res, nil
}

// CheckAndIncrement records n units only if they fit, in one atomic step.
// A refused request returns CanProceed false and a nil error. When the store
// fails the request proceeds uncounted unless the limiter fails closed.
func (l *Limiter) CheckAndIncrement(ctx context.Context, userID string, tier subscription.Tier, f usage.Feature, n int64) (Result, error) {
	if userID == "" {
		return Result{}, ErrUnauthenticated
	}
	limit := l.Limit(tier, f)
	c, ok, err := l.ledger.Consume(ctx, userID, f, n, limit, tier.Monthly())
	if err != nil {
		if isInputError(err) || l.failClosed {
			return Result{}, l.storeError(err)
		}
		l.failOpen(ctx, "consume", userID, f, err)
		res := l.result(tier, f, usage.Counter{})
		res.CanProceed, res.Degraded = true, true
		return res, nil
	}
	res := l.result(tier, f, c)
	res.CanProceed = ok
	l.onConsume(f, tier, n, ok)
	if !ok {
		l.log.InfoContext(ctx, "usage limit reached",
			logger.UserID(userID), logger.Feature(string(f)), logger.Tier(string(tier)),
			slog.Int64("usage", c.Count), slog.Int64("limit", limit))
	}
	return res, nil
}

// Refund returns n units consumed by an operation that did not complete.
func (l *Limiter) Refund(ctx context.Context, userID string, f usage.Feature, n int64) error {
	if userID == "" {
		return ErrUnauthenticated
	}
	return l.ledger.Refund(ctx, userID, f, n)
}

// Status returns the quota state of every feature.
func (l *Limiter) Status(ctx context.Context, userID string, tier subscription.Tier) ([]Result, error) {
	out := make([]Result, 0, len(usage.Features))
	for _, f := range usage.Features {
		res, err := l.Can(ctx, userID, tier, f, 1)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (l *Limiter) CanGenerate(ctx context.Context, userID string, tier subscription.Tier, n int64) (Result, error) {
	return l.Can(ctx, userID, tier, usage.FeatureGenerator, n)
}

func (l *Limiter) CanUpscale(ctx context.Context, userID string, tier subscription.Tier, n int64) (Result, error) {
	return l.Can(ctx, userID, tier, usage.FeatureUpscaler, n)
}

func (l *Limiter) CanEnhancePrompt(ctx context.Context, userID string, tier subscription.Tier, n int64) (Result, error) {
	return l.Can(ctx, userID, tier, usage.FeatureEnhancePrompt, n)
}

func (l *Limiter) IncrementGeneratorUsage(ctx context.Context, userID string, tier subscription.Tier, n int64) (Result, error) {
	return l.Increment(ctx, userID, tier, usage.FeatureGenerator, n)
}

func (l *Limiter) IncrementUpscalerUsage(ctx context.Context, userID string, tier subscription.Tier, n int64) (Result, error) {
	return l.Increment(ctx, userID, tier, usage.FeatureUpscaler, n)
}

func (l *Limiter) IncrementEnhancePromptUsage(ctx context.Context, userID string, tier subscription.Tier, n int64) (Result, error) {
	return l.Increment(ctx, userID, tier, usage.FeatureEnhancePrompt, n)
}

// CheckAndUpdateGeneratorLimit is CheckAndIncrement for image generation.
func (l *Limiter) CheckAndUpdateGeneratorLimit(ctx context.Context, userID string, tier subscription.Tier, n int64) (Result, error) {
	return l.CheckAndIncrement(ctx, userID, tier, usage.FeatureGenerator, n)
}

func (l *Limiter) result(tier subscription.Tier, f usage.Feature, c usage.Counter) Result {
	limit := l.Limit(tier, f)
	policy := l.ledger.Policy()
	res := Result{
		Feature:    f,
		Tier:       tier,
		UsageCount: c.Count,
		Limit:      limit,
		Remaining:  -1,
		Total:      c.Total,
		ResetsIn:   policy.TimeUntilReset(tier.Monthly()),
		ResetAt:    policy.ResetAt(tier.Monthly()),
	}
	if limit >= 0 {
		res.Remaining = max(limit-c.Count, 0)
	}
	return res
}

func (l *Limiter) failOpen(ctx context.Context, op, userID string, f usage.Feature, err error) {
	l.log.WarnContext(ctx, "usage store unavailable, failing open",
		slog.String("op", op), logger.UserID(userID), logger.Feature(string(f)), logger.Error(err))
	l.onFailOpen(op, f)
}

func (l *Limiter) storeError(err error) error {
	if isInputError(err) {
		return err
	}
	return errors.Join(ErrStoreUnavailable, err)
}

func isInputError(err error) bool {
	return errors.Is(err, usage.ErrEmptyUserID) ||
		errors.Is(err, usage.ErrUnknownFeature) ||
		errors.Is(err, usage.ErrInvalidAmount)
}
