// Package ratelimiter enforces per-tier usage quotas for metered features.
//
// Quotas come from the plan catalog: basic counts per UTC day, paid tiers per
// UTC month, and a limit of -1 means unlimited. Counters live in the usage
// ledger; CheckAndIncrement is a single atomic step there, so concurrent
// requests can never push a user past the limit.
//
// Reads fail open: when the counter store cannot be read the usage is taken
// as zero, the request proceeds, a warning is logged and the fail-open
// observer fires. WithFailClosed turns that into an error. Plain increments
// always propagate store errors.
//
// Basic usage:
//
//	limiter := ratelimiter.New(ledger, subscriptionService,
//		ratelimiter.WithCatalog(catalog),
//		ratelimiter.WithLogger(log),
//	)
//
//	tier := limiter.Tier(ctx, userID)
//	res, err := limiter.CheckAndUpdateGeneratorLimit(ctx, userID, tier, 1)
//	if err != nil {
//		return err
//	}
//	if !res.CanProceed {
//		// 429, try again in res.ResetsIn
//	}
//
// Middleware wraps the same check for handlers that cost a fixed amount.
package ratelimiter
