// Package subscription keeps each user's plan in step with the billing provider.
//
// A Record is the local view of one user's subscription: the tier, its
// status, at most one pending change and pointers to the provider's
// customer, subscription and schedule. Postgres (PgStore) holds records.
// CachedStore wraps it and mirrors the tier and customer pointer into Redis
// after every committed write, so the hot path of the rate limiter never
// touches Postgres and the cache can be rebuilt at any time with Rebuild.
//
// # States
//
// Record.State derives one of basic, active, pending_upgrade,
// pending_downgrade and canceling. User actions are checked against a
// transition table (CanTransition) before anything is sent to the provider:
//
//	basic              checkout
//	active             change, cancel
//	pending_*          change, cancel_pending, cancel
//	canceling          renew
//
// Tier changes are scheduled for the end of the billing period with a
// two-phase subscription schedule; cancelling the change releases the
// schedule. Cancelling a subscription with a pending change releases the
// schedule first.
//
// # Tier resolution
//
// The tier of a provider subscription comes from the "tier" metadata of its
// price, then of its product, then from the catalog price ids, and only then
// from the product name. Unknown prices resolve to basic.
//
// # Webhooks
//
// WebhookHandlers returns the dispatch table for the webhook package. Most
// events just trigger Sync, which re-reads the customer's live subscription
// and rewrites the record, so replays and out-of-order delivery converge on
// the provider's current state. A customer pointer that the provider reports
// as missing is dropped and a new customer is created on the next billing
// action.
//
// # Usage
//
//	catalog, _ := subscription.LoadCatalogFile("plans.yaml")
//	provider, _ := subscription.NewStripeProvider(stripeCfg, catalog)
//	store := subscription.NewCachedStore(subscription.NewPgStore(pool), kv, log)
//	svc := subscription.NewService(store, provider,
//		subscription.WithCatalog(catalog),
//		subscription.WithNotifier(notifier),
//		subscription.WithLogger(log),
//	)
//
//	tier, err := svc.Tier(ctx, userID)
//	url, err := svc.CreateCheckout(ctx, userID, subscription.TierPro, successURL, cancelURL)
//	info, err := svc.ScheduleChange(ctx, userID, subscription.TierPremium)
package subscription
