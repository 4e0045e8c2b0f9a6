// Package billing exposes the subscription lifecycle over HTTP and runs the
// periodic resync of records whose scheduled change is overdue.
//
// Provider calls are retried up to three times with exponential backoff when
// the failure is transient (transport errors, rate limiting, provider 5xx).
// Domain errors such as an invalid transition fail immediately.
package billing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/dmitrymomot/pixelmint/handler"
	"github.com/dmitrymomot/pixelmint/pkg/jwt"
	"github.com/dmitrymomot/pixelmint/pkg/logger"
	"github.com/dmitrymomot/pixelmint/pkg/retry"
	"github.com/dmitrymomot/pixelmint/pkg/subscription"
)

// Subscriptions is the part of subscription.Service the routes drive.
type Subscriptions interface {
	Catalog() *subscription.Catalog
	Info(ctx context.Context, userID string) (subscription.Info, error)
	CreateCheckout(ctx context.Context, userID string, tier subscription.Tier, successURL, cancelURL string) (string, error)
	CreatePortal(ctx context.Context, userID, returnURL string) (string, error)
	ScheduleChange(ctx context.Context, userID string, target subscription.Tier) (subscription.Info, error)
	CancelPendingChange(ctx context.Context, userID string) (subscription.Info, error)
	Cancel(ctx context.Context, userID string) (subscription.Info, error)
	Renew(ctx context.Context, userID string) (subscription.Info, error)
}

type Config struct {
	// AppURL restricts checkout and portal return URLs to the application origin.
	AppURL       string        `env:"APP_URL"`
	RetryBackoff time.Duration `env:"BILLING_RETRY_BACKOFF" envDefault:"1s"`
	ResyncSpec   string        `env:"BILLING_RESYNC_SCHEDULE" envDefault:"@every 1h"`
}

type Service struct {
	subs         Subscriptions
	appURL       string
	backoff      retry.Backoff
	validate     *validator.Validate
	errorHandler handler.ErrorHandler[handler.Context]
	log          *slog.Logger
}

type Option func(*Service)

func WithBackoff(b retry.Backoff) Option {
	return func(s *Service) {
		if b != nil {
			s.backoff = b
		}
	}
}

func WithErrorHandler(h handler.ErrorHandler[handler.Context]) Option {
	return func(s *Service) {
		if h != nil {
			s.errorHandler = h
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func NewService(subs Subscriptions, cfg Config, opts ...Option) *Service {
	initial := cfg.RetryBackoff
	if initial <= 0 {
		initial = time.Second
	}
	s := &Service{
		subs:     subs,
		appURL:   strings.TrimSuffix(cfg.AppURL, "/"),
		backoff:  retry.Exponential{Initial: initial, Multiplier: 2, Max: 30 * time.Second},
		validate: handler.NewValidator(),
		log:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.errorHandler == nil {
		s.errorHandler = handler.NewErrorHandler(s.log)
	}
	s.log = s.log.With(logger.Component("billing"))
	return s
}

type CheckoutRequest struct {
	Tier       subscription.Tier `json:"tier" validate:"required,oneof=pro premium ultimate"`
	SuccessURL string            `json:"success_url" validate:"required,url"`
	CancelURL  string            `json:"cancel_url" validate:"required,url"`
}

type PortalRequest struct {
	ReturnURL string `json:"return_url" validate:"required,url"`
}

type ChangeRequest struct {
	Tier subscription.Tier `json:"tier" validate:"required,oneof=basic pro premium ultimate"`
}

type RedirectResponse struct {
	URL string `json:"url"`
}

type PlanResponse struct {
	Tier   subscription.Tier `json:"tier"`
	Name   string            `json:"name"`
	Limits map[string]int64  `json:"limits"`
}

func (s *Service) Handle() http.Handler {
	r := chi.NewRouter()

	r.Get("/plans", handler.Wrap(s.plans))

	r.Group(func(r chi.Router) {
		r.Use(jwt.RequireUser)

		r.Get("/", handler.Wrap(s.info, handler.WithErrorHandler[handler.Context, struct{}](s.errorHandler)))
		r.Post("/checkout", handler.Wrap(s.checkout,
			handler.WithBinders[handler.Context, CheckoutRequest](handler.JSONBody(), handler.Validate(s.validate)),
			handler.WithErrorHandler[handler.Context, CheckoutRequest](s.errorHandler),
		))
		r.Post("/portal", handler.Wrap(s.portal,
			handler.WithBinders[handler.Context, PortalRequest](handler.JSONBody(), handler.Validate(s.validate)),
			handler.WithErrorHandler[handler.Context, PortalRequest](s.errorHandler),
		))
		r.Post("/change", handler.Wrap(s.change,
			handler.WithBinders[handler.Context, ChangeRequest](handler.JSONBody(), handler.Validate(s.validate)),
			handler.WithErrorHandler[handler.Context, ChangeRequest](s.errorHandler),
		))
		r.Post("/cancel", s.transition("cancel", s.subs.Cancel))
		r.Post("/renew", s.transition("renew", s.subs.Renew))
		r.Post("/cancel-pending", s.transition("cancel_pending", s.subs.CancelPendingChange))
	})

	return r
}

func (s *Service) plans(_ handler.Context, _ struct{}) handler.Response {
	plans := s.subs.Catalog().Plans()
	out := make([]PlanResponse, 0, len(plans))
	for _, p := range plans {
		limits := make(map[string]int64, len(p.Limits))
		for f, n := range p.Limits {
			limits[string(f)] = n
		}
		out = append(out, PlanResponse{Tier: p.Tier, Name: p.Name, Limits: limits})
	}
	return handler.JSON(out, handler.WithHeader("Cache-Control", "public, max-age=300"))
}

func (s *Service) info(ctx handler.Context, _ struct{}) handler.Response {
	info, err := s.subs.Info(ctx, jwt.UserID(ctx))
	if err != nil {
		return s.fail(ctx, "info", err)
	}
	return handler.JSON(info)
}

func (s *Service) checkout(ctx handler.Context, req CheckoutRequest) handler.Response {
	if err := s.checkReturnURL(req.SuccessURL, req.CancelURL); err != nil {
		return handler.JSONError(err)
	}
	userID := jwt.UserID(ctx)
	var url string
	err := s.do(ctx, "checkout", func(ctx context.Context) (err error) {
		url, err = s.subs.CreateCheckout(ctx, userID, req.Tier, req.SuccessURL, req.CancelURL)
		return err
	})
	if err != nil {
		return s.fail(ctx, "checkout", err)
	}
	return handler.JSON(RedirectResponse{URL: url})
}

func (s *Service) portal(ctx handler.Context, req PortalRequest) handler.Response {
	if err := s.checkReturnURL(req.ReturnURL); err != nil {
		return handler.JSONError(err)
	}
	userID := jwt.UserID(ctx)
	var url string
	err := s.do(ctx, "portal", func(ctx context.Context) (err error) {
		url, err = s.subs.CreatePortal(ctx, userID, req.ReturnURL)
		return err
	})
	if err != nil {
		return s.fail(ctx, "portal", err)
	}
	return handler.JSON(RedirectResponse{URL: url})
}

func (s *Service) change(ctx handler.Context, req ChangeRequest) handler.Response {
	userID := jwt.UserID(ctx)
	var info subscription.Info
	err := s.do(ctx, "change", func(ctx context.Context) (err error) {
		if req.Tier == subscription.TierBasic {
			info, err = s.subs.Cancel(ctx, userID)
			return err
		}
		info, err = s.subs.ScheduleChange(ctx, userID, req.Tier)
		return err
	})
	if err != nil {
		return s.fail(ctx, "change", err)
	}
	return handler.JSON(info)
}

// transition serves the body-less lifecycle actions.
func (s *Service) transition(op string, fn func(ctx context.Context, userID string) (subscription.Info, error)) http.HandlerFunc {
	return handler.Wrap(func(ctx handler.Context, _ struct{}) handler.Response {
		userID := jwt.UserID(ctx)
		var info subscription.Info
		err := s.do(ctx, op, func(ctx context.Context) (err error) {
			info, err = fn(ctx, userID)
			return err
		})
		if err != nil {
			return s.fail(ctx, op, err)
		}
		return handler.JSON(info)
	}, handler.WithErrorHandler[handler.Context, struct{}](s.errorHandler))
}

func (s *Service) do(ctx context.Context, op string, fn func(context.Context) error) error {
	return retry.Do(ctx, fn,
		retry.WithAttempts(retry.DefaultAttempts),
		retry.WithBackoff(s.backoff),
		retry.WithRetryIf(subscription.IsRetryable),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			s.log.WarnContext(ctx, "billing call failed, retrying",
				slog.String("op", op), logger.RetryCount(attempt), logger.Duration(delay), logger.Error(err))
		}),
	)
}

func (s *Service) checkReturnURL(urls ...string) error {
	if s.appURL == "" {
		return nil
	}
	for _, u := range urls {
		if u != s.appURL && !strings.HasPrefix(u, s.appURL+"/") && !strings.HasPrefix(u, s.appURL+"?") {
			return handler.ErrBadRequest.WithMessage("return url must point to the application")
		}
	}
	return nil
}

func (s *Service) fail(ctx handler.Context, op string, err error) handler.Response {
	herr := classify(err)
	attrs := []any{slog.String("op", op), logger.UserID(jwt.UserID(ctx)), logger.Error(err)}
	if herr.Code >= http.StatusInternalServerError {
		s.log.ErrorContext(ctx, "billing request failed", attrs...)
	} else {
		s.log.InfoContext(ctx, "billing request refused", attrs...)
	}
	return handler.JSONError(herr)
}

func classify(err error) handler.HTTPError {
	switch {
	case errors.Is(err, subscription.ErrEmptyUserID):
		return handler.ErrUnauthorized
	case errors.Is(err, subscription.ErrUnknownTier), errors.Is(err, subscription.ErrTierNotPurchasable):
		return handler.NewHTTPError(http.StatusBadRequest, "invalid_tier", err.Error())
	case errors.Is(err, subscription.ErrSameTier):
		return handler.NewHTTPError(http.StatusConflict, "same_tier", "already on the requested tier")
	case errors.Is(err, subscription.ErrAlreadySubscribed):
		return handler.NewHTTPError(http.StatusConflict, "already_subscribed", "an active subscription already exists, change the plan instead")
	case errors.Is(err, subscription.ErrInvalidTransition):
		return handler.NewHTTPError(http.StatusConflict, "invalid_transition", "this change is not allowed in the current subscription state")
	case errors.Is(err, subscription.ErrNoActiveSubscription), errors.Is(err, subscription.ErrSubscriptionNotFound):
		return handler.NewHTTPError(http.StatusNotFound, "no_subscription", "no active subscription")
	case subscription.IsClientError(err):
		var pe *subscription.ProviderError
		errors.As(err, &pe)
		return handler.NewHTTPError(http.StatusBadRequest, "billing_rejected", pe.Message)
	default:
		return handler.ErrInternal
	}
}
