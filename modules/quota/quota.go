// Package quota serves the caller's usage of every metered feature.
package quota

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/pixelmint/handler"
	"github.com/dmitrymomot/pixelmint/pkg/jwt"
	"github.com/dmitrymomot/pixelmint/pkg/ratelimiter"
	"github.com/dmitrymomot/pixelmint/pkg/subscription"
)

// Limiter is the part of ratelimiter.Limiter the module reads.
type Limiter interface {
	Tier(ctx context.Context, userID string) subscription.Tier
	Status(ctx context.Context, userID string, tier subscription.Tier) ([]ratelimiter.Result, error)
}

type Service struct {
	limiter      Limiter
	errorHandler handler.ErrorHandler[handler.Context]
}

func NewService(limiter Limiter, errorHandler handler.ErrorHandler[handler.Context]) *Service {
	return &Service{limiter: limiter, errorHandler: errorHandler}
}

// UsageResponse lists one entry per feature.
type UsageResponse struct {
	Tier     subscription.Tier    `json:"tier"`
	Features []ratelimiter.Result `json:"features"`
}

func (s *Service) Handle() http.Handler {
	r := chi.NewRouter()
	r.Use(jwt.RequireUser)
	r.Get("/", handler.Wrap(s.usage,
		handler.WithErrorHandler[handler.Context, struct{}](s.errorHandler),
	))
	return r
}

func (s *Service) usage(ctx handler.Context, _ struct{}) handler.Response {
	userID := jwt.UserID(ctx)
	tier := s.limiter.Tier(ctx, userID)
	results, err := s.limiter.Status(ctx, userID, tier)
	if err != nil {
		if errors.Is(err, ratelimiter.ErrUnauthenticated) {
			return handler.JSONError(handler.ErrUnauthorized)
		}
		return handler.JSONError(err)
	}
	return handler.JSON(UsageResponse{Tier: tier, Features: results},
		handler.WithHeader("Cache-Control", "no-store"))
}
