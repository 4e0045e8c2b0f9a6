package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dmitrymomot/pixelmint/pkg/logger"
	"github.com/dmitrymomot/pixelmint/pkg/requestid"
)

type Config struct {
	URL              string        `env:"INFERENCE_URL"`
	APIKey           string        `env:"INFERENCE_API_KEY"`
	Timeout          time.Duration `env:"INFERENCE_TIMEOUT" envDefault:"120s"`
	FailureThreshold int           `env:"INFERENCE_FAILURE_THRESHOLD" envDefault:"5"`
	RecoveryTimeout  time.Duration `env:"INFERENCE_RECOVERY_TIMEOUT" envDefault:"30s"`
}

type GenerateRequest struct {
	Prompt         string `json:"prompt" validate:"required,max=2000"`
	NegativePrompt string `json:"negative_prompt,omitempty" validate:"max=2000"`
	Width          int    `json:"width,omitempty" validate:"omitempty,min=256,max=2048"`
	Height         int    `json:"height,omitempty" validate:"omitempty,min=256,max=2048"`
	Seed           int64  `json:"seed,omitempty"`
	Model          string `json:"model,omitempty"`
}

type UpscaleRequest struct {
	Image []byte
	Scale int
}

// Output is a decoded model response.
type Output struct {
	Image []byte
	Seed  int64
	Model string
}

type Client struct {
	base    string
	key     string
	http    *http.Client
	breaker *CircuitBreaker
	log     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

func WithBreaker(b *CircuitBreaker) Option {
	return func(cl *Client) {
		if b != nil {
			cl.breaker = b
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(cl *Client) {
		if log != nil {
			cl.log = log
		}
	}
}

func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, ErrMissingURL
	}
	c := &Client{
		base: strings.TrimSuffix(cfg.URL, "/"),
		key:  cfg.APIKey,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(requestid.NewTransport(http.DefaultTransport)),
		},
		breaker: NewCircuitBreaker(cfg.FailureThreshold, 1, cfg.RecoveryTimeout),
		log:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(logger.Component("inference"))
	return c, nil
}

// Breaker exposes the circuit state for health reporting.
func (c *Client) Breaker() *CircuitBreaker {
	return c.breaker
}

type imageResponse struct {
	Image string `json:"image"`
	Seed  int64  `json:"seed,omitempty"`
	Model string `json:"model,omitempty"`
}

func (c *Client) Generate(ctx context.Context, req GenerateRequest) (Output, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Output{}, ErrEmptyPrompt
	}
	var resp imageResponse
	if err := c.call(ctx, "/generate", req, &resp); err != nil {
		return Output{}, err
	}
	return decodeImage(resp)
}

func (c *Client) Upscale(ctx context.Context, req UpscaleRequest) (Output, error) {
	if len(req.Image) == 0 {
		return Output{}, ErrEmptyImage
	}
	if req.Scale != 2 && req.Scale != 4 {
		return Output{}, ErrInvalidScale
	}
	body := map[string]any{
		"image": base64.StdEncoding.EncodeToString(req.Image),
		"scale": req.Scale,
	}
	var resp imageResponse
	if err := c.call(ctx, "/upscale", body, &resp); err != nil {
		return Output{}, err
	}
	return decodeImage(resp)
}

// EnhancePrompt rewrites a prompt into a more detailed one.
func (c *Client) EnhancePrompt(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	var resp struct {
		Prompt string `json:"prompt"`
	}
	if err := c.call(ctx, "/enhance-prompt", map[string]string{"prompt": prompt}, &resp); err != nil {
		return "", err
	}
	if resp.Prompt == "" {
		return "", fmt.Errorf("%w: empty prompt", ErrBadResponse)
	}
	return resp.Prompt, nil
}

func decodeImage(resp imageResponse) (Output, error) {
	img, err := base64.StdEncoding.DecodeString(resp.Image)
	if err != nil || len(img) == 0 {
		return Output{}, fmt.Errorf("%w: image is not base64", ErrBadResponse)
	}
	return Output{Image: img, Seed: resp.Seed, Model: resp.Model}, nil
}

// call posts in as JSON and decodes a 2xx body into out. 5xx, 429 and
// transport failures count against the circuit; other 4xx do not.
func (c *Client) call(ctx context.Context, path string, in, out any) error {
	if !c.breaker.Allow() {
		return ErrCircuitOpen
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		c.breaker.RecordFailure()
		c.log.WarnContext(ctx, "inference request failed",
			slog.String("path", path), logger.Duration(time.Since(start)), logger.Error(err))
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return errors.Join(ErrTimeout, err)
		}
		return errors.Join(ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		msg := strings.ReplaceAll(strings.TrimSpace(string(body)), "\n", " ")
		if len(msg) > 200 {
			msg = msg[:200] + "..."
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			c.breaker.RecordFailure()
			c.log.WarnContext(ctx, "inference backend error",
				slog.String("path", path), slog.Int("status", resp.StatusCode), logger.Duration(time.Since(start)))
			return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, msg)
		}
		c.breaker.RecordSuccess()
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, msg)
	}

	c.breaker.RecordSuccess()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}
