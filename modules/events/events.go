// Package events streams refetch signals to the browser. Every signal the
// notify hub delivers on the caller's user channel becomes a datastar signal
// patch; the client refetches the resource the event names.
package events

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/pixelmint/handler"
	"github.com/dmitrymomot/pixelmint/pkg/jwt"
	"github.com/dmitrymomot/pixelmint/pkg/logger"
	"github.com/dmitrymomot/pixelmint/pkg/notify"
)

// Subscriber is implemented by notify.Hub.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string) <-chan notify.Signal
}

type Service struct {
	hub       Subscriber
	heartbeat time.Duration
	log       *slog.Logger
}

type Option func(*Service)

// WithHeartbeat sets how often an idle stream is poked so proxies keep it open.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.heartbeat = d
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

func NewService(hub Subscriber, opts ...Option) *Service {
	s := &Service{hub: hub, heartbeat: 25 * time.Second, log: logger.Discard()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("events"))
	return s
}

func (s *Service) Handle() http.Handler {
	r := chi.NewRouter()
	r.Use(jwt.RequireUser)
	r.Get("/", handler.Wrap(s.stream, handler.WithErrorHandler[handler.Context, struct{}](handler.NewErrorHandler(s.log))))
	return r
}

func (s *Service) stream(ctx handler.Context, _ struct{}) handler.Response {
	userID := jwt.UserID(ctx)
	return handler.SSE(func(stream handler.StreamContext) error {
		signals := s.hub.Subscribe(stream, notify.UserChannel(userID))
		s.log.DebugContext(stream, "event stream opened", logger.UserID(userID))
		defer s.log.DebugContext(stream, "event stream closed", logger.UserID(userID))

		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-stream.Done():
				return nil
			case sig, ok := <-signals:
				if !ok {
					return nil
				}
				if err := stream.SendSignals(map[string]any{
					"refetch":    sig.Event,
					"refetch_at": time.Now().UnixMilli(),
				}); err != nil {
					return nil
				}
			case t := <-ticker.C:
				if err := stream.SendSignal("heartbeat", t.Unix()); err != nil {
					return nil
				}
			}
		}
	})
}
