// Package retry runs an operation until it succeeds, the attempt budget is
// spent, or the context ends.
//
// The default policy is three attempts with exponential delays of 1s and 2s
// between them (1s * 2^attempt). Errors wrapped with Permanent, or rejected by
// a WithRetryIf predicate, stop the loop immediately.
//
//	err := retry.Do(ctx, func(ctx context.Context) error {
//		return svc.Cancel(ctx, userID)
//	}, retry.WithRetryIf(subscription.IsRetryable))
//
// The same Backoff implementations drive the queue worker's reschedule delays.
package retry
