// Package webhooks receives signed callbacks from the billing provider and the
// identity backend. Requests are verified and queued; processing happens on the
// worker through the handlers in this package and in pkg/subscription.
package webhooks

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/pixelmint/pkg/identity"
	"github.com/dmitrymomot/pixelmint/pkg/logger"
	"github.com/dmitrymomot/pixelmint/pkg/subscription"
	"github.com/dmitrymomot/pixelmint/pkg/webhook"
)

// IdentitySource names identity events on the queue.
const IdentitySource = "identity"

// Routes mounts POST /stripe and, when identity is not nil, POST /identity.
func Routes(sink webhook.Sink, billing, identity webhook.Verifier, opts ...webhook.IngestorOption) http.Handler {
	r := chi.NewRouter()
	r.Method(http.MethodPost, "/stripe", webhook.NewIngestor(subscription.WebhookSource, billing, sink, opts...))
	if identity != nil {
		r.Method(http.MethodPost, "/identity", webhook.NewIngestor(IdentitySource, identity, sink, opts...))
	}
	return r
}

type Accounts interface {
	EnsureRecord(ctx context.Context, userID string) (*subscription.Record, error)
	DeleteUser(ctx context.Context, userID string) error
}

type UsageEraser interface {
	DeleteUser(ctx context.Context, userID string) error
}

type ImageEraser interface {
	DeleteUser(ctx context.Context, userID string) (int, error)
}

type Profiles interface {
	Remember(u identity.User)
	Forget(userID string)
}

// Lifecycle keeps local state in step with the identity backend.
type Lifecycle struct {
	accounts Accounts
	usage    UsageEraser
	images   ImageEraser
	profiles Profiles
	log      *slog.Logger
}

type LifecycleOption func(*Lifecycle)

// WithImages erases stored images on user deletion.
func WithImages(images ImageEraser) LifecycleOption {
	return func(l *Lifecycle) { l.images = images }
}

func WithProfiles(p Profiles) LifecycleOption {
	return func(l *Lifecycle) { l.profiles = p }
}

func WithLogger(log *slog.Logger) LifecycleOption {
	return func(l *Lifecycle) {
		if log != nil {
			l.log = log
		}
	}
}

func NewLifecycle(accounts Accounts, usage UsageEraser, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{accounts: accounts, usage: usage, log: logger.Discard()}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With(logger.Component("identity-webhooks"))
	return l
}

// Handlers is the event table for webhook.Processor.
func (l *Lifecycle) Handlers() map[string]webhook.HandlerFunc {
	return map[string]webhook.HandlerFunc{
		identity.EventUserCreated: l.userCreated,
		identity.EventUserUpdated: l.userUpdated,
		identity.EventUserDeleted: l.userDeleted,
	}
}

// parse returns ok=false for payloads no retry can fix.
func (l *Lifecycle) parse(ctx context.Context, ev webhook.Event) (identity.UserEvent, bool) {
	ue, err := identity.ParseUserEvent(ev.Payload)
	if err != nil {
		l.log.WarnContext(ctx, "dropping malformed user event",
			logger.EventID(ev.ID), logger.EventType(ev.Type), logger.Error(err))
		return identity.UserEvent{}, false
	}
	return ue, true
}

func (l *Lifecycle) userCreated(ctx context.Context, ev webhook.Event) error {
	ue, ok := l.parse(ctx, ev)
	if !ok {
		return nil
	}
	l.remember(ue.User)
	if _, err := l.accounts.EnsureRecord(ctx, ue.User.ID); err != nil {
		return err
	}
	l.log.InfoContext(ctx, "user provisioned", logger.UserID(ue.User.ID))
	return nil
}

func (l *Lifecycle) userUpdated(ctx context.Context, ev webhook.Event) error {
	ue, ok := l.parse(ctx, ev)
	if !ok {
		return nil
	}
	l.remember(ue.User)
	return nil
}

// userDeleted erases everything stored for the user. Every step is idempotent,
// so a partial failure is retried as a whole.
func (l *Lifecycle) userDeleted(ctx context.Context, ev webhook.Event) error {
	ue, ok := l.parse(ctx, ev)
	if !ok {
		return nil
	}
	userID := ue.User.ID
	if l.profiles != nil {
		l.profiles.Forget(userID)
	}

	var errs []error
	if err := l.accounts.DeleteUser(ctx, userID); err != nil && !errors.Is(err, subscription.ErrSubscriptionNotFound) {
		errs = append(errs, err)
	}
	if err := l.usage.DeleteUser(ctx, userID); err != nil {
		errs = append(errs, err)
	}
	removed := 0
	if l.images != nil {
		n, err := l.images.DeleteUser(ctx, userID)
		if err != nil {
			errs = append(errs, err)
		}
		removed = n
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	l.log.InfoContext(ctx, "user data erased", logger.UserID(userID), slog.Int("images", removed))
	return nil
}

func (l *Lifecycle) remember(u identity.User) {
	if l.profiles != nil {
		l.profiles.Remember(u)
	}
}
