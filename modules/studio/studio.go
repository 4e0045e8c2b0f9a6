package studio

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/dmitrymomot/pixelmint/handler"
	"github.com/dmitrymomot/pixelmint/pkg/inference"
	"github.com/dmitrymomot/pixelmint/pkg/jwt"
	"github.com/dmitrymomot/pixelmint/pkg/logger"
	"github.com/dmitrymomot/pixelmint/pkg/ratelimiter"
	"github.com/dmitrymomot/pixelmint/pkg/storage"
	"github.com/dmitrymomot/pixelmint/pkg/usage"
)

// MaxUpscaleBody caps upscale requests, which carry a base64 image.
const MaxUpscaleBody = 16 << 20

// Model is the image model backend.
type Model interface {
	Generate(ctx context.Context, req inference.GenerateRequest) (inference.Output, error)
	Upscale(ctx context.Context, req inference.UpscaleRequest) (inference.Output, error)
	EnhancePrompt(ctx context.Context, prompt string) (string, error)
}

// ImageStore persists generated images.
type ImageStore interface {
	Put(ctx context.Context, userID string, data []byte) (storage.Image, error)
}

type Service struct {
	limiter      *ratelimiter.Limiter
	model        Model
	images       ImageStore
	validate     *validator.Validate
	errorHandler handler.ErrorHandler[handler.Context]
	observe      func(op string, elapsed time.Duration, err error)
	log          *slog.Logger
}

type Option func(*Service)

func WithErrorHandler(h handler.ErrorHandler[handler.Context]) Option {
	return func(s *Service) {
		if h != nil {
			s.errorHandler = h
		}
	}
}

// WithObserver receives the duration and outcome of every model call.
func WithObserver(fn func(op string, elapsed time.Duration, err error)) Option {
	return func(s *Service) {
		if fn != nil {
			s.observe = fn
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

func NewService(limiter *ratelimiter.Limiter, model Model, images ImageStore, opts ...Option) *Service {
	s := &Service{
		limiter:  limiter,
		model:    model,
		images:   images,
		validate: handler.NewValidator(),
		observe:  func(string, time.Duration, error) {},
		log:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.errorHandler == nil {
		s.errorHandler = handler.NewErrorHandler(s.log)
	}
	s.log = s.log.With(logger.Component("studio"))
	return s
}

type GenerateRequest struct {
	Prompt         string `json:"prompt" validate:"required,max=2000"`
	NegativePrompt string `json:"negative_prompt" validate:"max=2000"`
	Width          int    `json:"width" validate:"omitempty,min=256,max=2048"`
	Height         int    `json:"height" validate:"omitempty,min=256,max=2048"`
	Seed           int64  `json:"seed"`
}

type UpscaleRequest struct {
	Image []byte `json:"image" validate:"required"`
	Scale int    `json:"scale" validate:"omitempty,oneof=2 4"`
}

type EnhanceRequest struct {
	Prompt string `json:"prompt" validate:"required,max=2000"`
}

type ImageResponse struct {
	Image storage.Image      `json:"image"`
	Seed  int64              `json:"seed,omitempty"`
	Usage ratelimiter.Result `json:"usage"`
}

type EnhanceResponse struct {
	Prompt string             `json:"prompt"`
	Usage  ratelimiter.Result `json:"usage"`
}

func userID(r *http.Request) string { return jwt.UserID(r.Context()) }

func (s *Service) Handle() http.Handler {
	r := chi.NewRouter()
	r.Use(jwt.RequireUser)

	r.With(ratelimiter.Middleware(s.limiter, usage.FeatureGenerator, 1, userID)).
		Post("/generate", handler.Wrap(s.generate,
			handler.WithBinders[handler.Context, GenerateRequest](handler.JSONBody(), handler.Validate(s.validate)),
			handler.WithErrorHandler[handler.Context, GenerateRequest](s.refunding(usage.FeatureGenerator)),
		))

	r.With(ratelimiter.Middleware(s.limiter, usage.FeatureUpscaler, 1, userID)).
		Post("/upscale", handler.Wrap(s.upscale,
			handler.WithBinders[handler.Context, UpscaleRequest](handler.JSONBodyLimit(MaxUpscaleBody), handler.Validate(s.validate)),
			handler.WithErrorHandler[handler.Context, UpscaleRequest](s.refunding(usage.FeatureUpscaler)),
		))

	r.With(ratelimiter.Middleware(s.limiter, usage.FeatureEnhancePrompt, 1, userID)).
		Post("/enhance-prompt", handler.Wrap(s.enhance,
			handler.WithBinders[handler.Context, EnhanceRequest](handler.JSONBody(), handler.Validate(s.validate)),
			handler.WithErrorHandler[handler.Context, EnhanceRequest](s.refunding(usage.FeatureEnhancePrompt)),
		))

	return r
}

func (s *Service) generate(ctx handler.Context, req GenerateRequest) handler.Response {
	start := time.Now()
	out, err := s.model.Generate(ctx, inference.GenerateRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Width:          req.Width,
		Height:         req.Height,
		Seed:           req.Seed,
	})
	s.observe("generate", time.Since(start), err)
	if err != nil {
		return s.fail(ctx, usage.FeatureGenerator, err)
	}
	return s.store(ctx, usage.FeatureGenerator, out)
}

func (s *Service) upscale(ctx handler.Context, req UpscaleRequest) handler.Response {
	if req.Scale == 0 {
		req.Scale = 2
	}
	start := time.Now()
	out, err := s.model.Upscale(ctx, inference.UpscaleRequest{Image: req.Image, Scale: req.Scale})
	s.observe("upscale", time.Since(start), err)
	if err != nil {
		return s.fail(ctx, usage.FeatureUpscaler, err)
	}
	return s.store(ctx, usage.FeatureUpscaler, out)
}

func (s *Service) enhance(ctx handler.Context, req EnhanceRequest) handler.Response {
	start := time.Now()
	prompt, err := s.model.EnhancePrompt(ctx, req.Prompt)
	s.observe("enhance_prompt", time.Since(start), err)
	if err != nil {
		return s.fail(ctx, usage.FeatureEnhancePrompt, err)
	}
	res, _ := ratelimiter.ResultFromContext(ctx)
	return handler.JSON(EnhanceResponse{Prompt: prompt, Usage: res})
}

func (s *Service) store(ctx handler.Context, f usage.Feature, out inference.Output) handler.Response {
	img, err := s.images.Put(ctx, jwt.UserID(ctx), out.Image)
	if err != nil {
		return s.fail(ctx, f, err)
	}
	res, _ := ratelimiter.ResultFromContext(ctx)
	return handler.JSON(ImageResponse{Image: img, Seed: out.Seed, Usage: res}, handler.WithStatus(http.StatusCreated))
}

// fail refunds the consumed unit and maps err to an HTTP error.
func (s *Service) fail(ctx handler.Context, f usage.Feature, err error) handler.Response {
	s.refund(ctx, f)
	herr := classify(err)
	s.log.WarnContext(ctx, "generation failed",
		logger.UserID(jwt.UserID(ctx)), logger.Feature(string(f)),
		slog.Int("status", herr.Code), logger.Error(err))
	return handler.JSONError(herr)
}

func (s *Service) refunding(f usage.Feature) handler.ErrorHandler[handler.Context] {
	return func(ctx handler.Context, err error) {
		s.refund(ctx, f)
		s.errorHandler(ctx, err)
	}
}

func (s *Service) refund(ctx handler.Context, f usage.Feature) {
	res, ok := ratelimiter.ResultFromContext(ctx)
	if !ok || res.Degraded {
		return
	}
	userID := jwt.UserID(ctx)
	if err := s.limiter.Refund(context.WithoutCancel(ctx), userID, f, 1); err != nil {
		s.log.ErrorContext(ctx, "usage refund failed",
			logger.UserID(userID), logger.Feature(string(f)), logger.Error(err))
	}
}

var (
	errRejected    = handler.NewHTTPError(http.StatusUnprocessableEntity, "prompt_rejected", "the image model rejected this request")
	errUnavailable = handler.ErrServiceUnavailable.WithMessage("the image model is busy, please try again")
	errTimeout     = handler.NewHTTPError(http.StatusGatewayTimeout, "timeout", "the image model took too long to answer")
	errBadOutput   = handler.ErrBadGateway.WithMessage("the image model returned an invalid image")
	errStorage     = handler.ErrServiceUnavailable.WithMessage("could not save the image, please try again")
)

func classify(err error) handler.HTTPError {
	switch {
	case errors.Is(err, inference.ErrRejected):
		return errRejected
	case errors.Is(err, inference.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return errTimeout
	case errors.Is(err, inference.ErrCircuitOpen), errors.Is(err, inference.ErrUnavailable):
		return errUnavailable
	case errors.Is(err, inference.ErrBadResponse), errors.Is(err, storage.ErrUnsupportedImage), errors.Is(err, storage.ErrEmptyImage):
		return errBadOutput
	case errors.Is(err, inference.ErrInvalidScale), errors.Is(err, inference.ErrEmptyImage), errors.Is(err, inference.ErrEmptyPrompt):
		return handler.ErrBadRequest.WithMessage(err.Error())
	case errors.Is(err, storage.ErrServiceUnavailable), errors.Is(err, storage.ErrTimeout),
		errors.Is(err, storage.ErrAccessDenied), errors.Is(err, storage.ErrBucketNotFound):
		return errStorage
	default:
		return handler.ErrInternal
	}
}
