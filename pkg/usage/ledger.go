package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/pixelmint/pkg/logger"
	"github.com/dmitrymomot/pixelmint/pkg/period"
)

// AuditSink mirrors counters to durable storage after each increment.
type AuditSink interface {
	Record(ctx context.Context, userID string, feature Feature, periodStart time.Time, c Counter) error
	DeleteUser(ctx context.Context, userID string) error
}

// Ledger applies the period policy to a Store.
type Ledger struct {
	store  Store
	policy *period.Policy
	audit  AuditSink
	log    *slog.Logger
}

type Option func(*Ledger)

func WithPolicy(p *period.Policy) Option {
	return func(l *Ledger) {
		if p != nil {
			l.policy = p
		}
	}
}

func WithAudit(a AuditSink) Option {
	return func(l *Ledger) { l.audit = a }
}

func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

// NewLedger panics on a nil store; a ledger without storage is a wiring bug.
func NewLedger(store Store, opts ...Option) *Ledger {
	if store == nil {
		panic("usage: store is required")
	}
	l := &Ledger{store: store, policy: period.New(), log: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With(logger.Component("usage"))
	return l
}

// Policy exposes the period policy so callers can render reset times consistently.
func (l *Ledger) Policy() *period.Policy {
	return l.policy
}

// Read returns the counter with the period reset applied. It never writes.
func (l *Ledger) Read(ctx context.Context, userID string, f Feature, monthly bool) (Counter, error) {
	if err := validate(userID, f, 1); err != nil {
		return Counter{}, err
	}
	c, err := l.store.Load(ctx, KeysFor(f, userID))
	if err != nil {
		return Counter{}, err
	}
	if l.policy.IsNewPeriod(c.LastUsed, monthly) {
		c.Count = 0
	}
	return c, nil
}

// Increment adds n regardless of any limit.
func (l *Ledger) Increment(ctx context.Context, userID string, f Feature, n int64, monthly bool) (Counter, error) {
	if err := validate(userID, f, n); err != nil {
		return Counter{}, err
	}
	start := l.policy.Start(monthly)
	c, err := l.store.Add(ctx, KeysFor(f, userID), n, start, l.policy.Now())
	if err != nil {
		return Counter{}, err
	}
	l.mirror(ctx, userID, f, start, c)
	return c, nil
}

// Consume adds n only when the period count stays within limit. A negative
// limit means unlimited. ok is false when the request was refused.
func (l *Ledger) Consume(ctx context.Context, userID string, f Feature, n, limit int64, monthly bool) (c Counter, ok bool, err error) {
	if err := validate(userID, f, n); err != nil {
		return Counter{}, false, err
	}
	start := l.policy.Start(monthly)
	c, ok, err = l.store.AddWithin(ctx, KeysFor(f, userID), n, limit, start, l.policy.Now())
	if err != nil {
		return Counter{}, false, err
	}
	if ok {
		l.mirror(ctx, userID, f, start, c)
	}
	return c, ok, nil
}

// Refund gives back n units of the current period, e.g. after a failed generation.
func (l *Ledger) Refund(ctx context.Context, userID string, f Feature, n int64) error {
	if err := validate(userID, f, n); err != nil {
		return err
	}
	return l.store.Refund(ctx, KeysFor(f, userID), n)
}

// Reset is the administrative reset of one counter.
func (l *Ledger) Reset(ctx context.Context, userID string, f Feature) error {
	if err := validate(userID, f, 1); err != nil {
		return err
	}
	return l.store.Reset(ctx, KeysFor(f, userID))
}

// DeleteUser drops every counter of the user, including lifetime totals.
func (l *Ledger) DeleteUser(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	keys := make([]Keys, 0, len(Features))
	for _, f := range Features {
		keys = append(keys, KeysFor(f, userID))
	}
	if err := l.store.Delete(ctx, keys...); err != nil {
		return err
	}
	if l.audit != nil {
		return l.audit.DeleteUser(ctx, userID)
	}
	return nil
}

func (l *Ledger) mirror(ctx context.Context, userID string, f Feature, start time.Time, c Counter) {
	if l.audit == nil {
		return
	}
	if err := l.audit.Record(ctx, userID, f, start, c); err != nil {
		l.log.WarnContext(ctx, "failed to mirror usage counter",
			logger.UserID(userID), logger.Feature(string(f)), logger.Error(err))
	}
}

func validate(userID string, f Feature, n int64) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	if !f.Valid() {
		return ErrUnknownFeature
	}
	if n <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
