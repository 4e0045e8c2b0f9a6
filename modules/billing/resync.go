package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/pixelmint/pkg/logger"
	"github.com/dmitrymomot/pixelmint/pkg/queue"
	"github.com/dmitrymomot/pixelmint/pkg/subscription"
)

// PendingLister finds users whose scheduled change is overdue.
type PendingLister interface {
	DuePending(ctx context.Context) ([]string, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, payload any, opts ...queue.EnqueueOption) (uuid.UUID, error)
}

// Resync enqueues a subscription.SyncTask for every overdue pending change.
// It covers webhooks that never arrived.
type Resync struct {
	subs PendingLister
	enq  Enqueuer
	spec string
	log  *slog.Logger
}

func NewResync(subs PendingLister, enq Enqueuer, spec string, log *slog.Logger) *Resync {
	if spec == "" {
		spec = "@every 1h"
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Resync{subs: subs, enq: enq, spec: spec, log: log.With(logger.Component("billing.resync"))}
}

// RunOnce enqueues the overdue users and returns how many were queued.
func (r *Resync) RunOnce(ctx context.Context) (int, error) {
	ids, err := r.subs.DuePending(ctx)
	if err != nil {
		return 0, err
	}
	var errs []error
	queued := 0
	for _, id := range ids {
		if _, err := r.enq.Enqueue(ctx, subscription.SyncTask{UserID: id}); err != nil {
			errs = append(errs, err)
			continue
		}
		queued++
	}
	return queued, errors.Join(errs...)
}

// Run schedules RunOnce until ctx is done. Overlapping runs are skipped.
func (r *Resync) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(r.spec, func() {
		start := time.Now()
		n, err := r.RunOnce(ctx)
		if err != nil {
			r.log.ErrorContext(ctx, "pending resync failed", slog.Int("queued", n), logger.Error(err))
			return
		}
		if n > 0 {
			r.log.InfoContext(ctx, "pending resync queued", slog.Int("queued", n), logger.Duration(time.Since(start)))
		}
	}); err != nil {
		return err
	}

	c.Start()
	r.log.InfoContext(ctx, "pending resync scheduled", slog.String("schedule", r.spec))
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
