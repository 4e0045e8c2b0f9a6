package ratelimiter

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrymomot/pixelmint/handler"
	"github.com/dmitrymomot/pixelmint/pkg/logger"
	"github.com/dmitrymomot/pixelmint/pkg/usage"
)

// UserFunc extracts the authenticated user id from a request.
type UserFunc func(r *http.Request) string

type resultKey struct{}

// ResultFromContext returns the quota state recorded by Middleware.
func ResultFromContext(ctx context.Context) (Result, bool) {
	res, ok := ctx.Value(resultKey{}).(Result)
	return res, ok
}

type middlewareConfig struct {
	refundOnError bool
	onLimited     func(w http.ResponseWriter, r *http.Request, res Result)
}

type MiddlewareOption func(*middlewareConfig)

// WithRefundOnServerError gives the units back when the handler answers 5xx.
func WithRefundOnServerError() MiddlewareOption {
	return func(c *middlewareConfig) { c.refundOnError = true }
}

// WithLimitedHandler replaces the default 429 response.
func WithLimitedHandler(fn func(w http.ResponseWriter, r *http.Request, res Result)) MiddlewareOption {
	return func(c *middlewareConfig) { c.onLimited = fn }
}

// Middleware consumes cost units of feature before calling next.
func Middleware(l *Limiter, f usage.Feature, cost int64, user UserFunc, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{onLimited: WriteLimited}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			userID := user(r)
			if userID == "" {
				_ = handler.JSONError(handler.ErrUnauthorized).Render(w, r)
				return
			}

			tier := l.Tier(ctx, userID)
			res, err := l.CheckAndIncrement(ctx, userID, tier, f, cost)
			if err != nil {
				_ = handler.JSONError(err).Render(w, r)
				return
			}
			SetHeaders(w, res)
			if !res.CanProceed {
				cfg.onLimited(w, r, res)
				return
			}

			r = r.WithContext(context.WithValue(ctx, resultKey{}, res))
			if !cfg.refundOnError || res.Degraded {
				next.ServeHTTP(w, r)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if rec.status >= http.StatusInternalServerError {
				if err := l.Refund(context.WithoutCancel(ctx), userID, f, cost); err != nil {
					l.log.WarnContext(ctx, "usage refund failed", logger.UserID(userID), logger.Error(err))
				}
			}
		})
	}
}

// SetHeaders writes the X-RateLimit headers for res. Unlimited features get none.
func SetHeaders(w http.ResponseWriter, res Result) {
	if res.Unlimited() {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
	if !res.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	}
}

// ErrLimitReached is the 429 answered when a feature's quota is used up.
var ErrLimitReached = handler.NewHTTPError(http.StatusTooManyRequests, "limit_reached", "limit reached")

// WriteLimited answers 429 with the quota details and an upgrade hint.
func WriteLimited(w http.ResponseWriter, r *http.Request, res Result) {
	opts := []handler.JSONOption{handler.WithDetails(map[string]any{
		"feature":   res.Feature,
		"tier":      res.Tier,
		"usage":     res.UsageCount,
		"limit":     res.Limit,
		"resets_in": res.ResetsIn,
	})}
	if secs := int64(time.Until(res.ResetAt).Seconds()); secs > 0 {
		opts = append(opts, handler.WithHeader("Retry-After", strconv.FormatInt(secs, 10)))
	}
	msg := "limit reached, try again in " + res.ResetsIn + " or upgrade"
	_ = handler.JSONError(ErrLimitReached.WithMessage(msg), opts...).Render(w, r)
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
