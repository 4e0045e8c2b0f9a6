package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dmitrymomot/pixelmint/pkg/logger"
	"github.com/dmitrymomot/pixelmint/pkg/requestid"
	"github.com/dmitrymomot/pixelmint/pkg/retry"
)

// Config holds the identity backend settings.
type Config struct {
	APIURL        string        `env:"IDENTITY_API_URL" envDefault:"https://api.clerk.com/v1"`
	SecretKey     string        `env:"IDENTITY_SECRET_KEY"`
	WebhookSecret string        `env:"IDENTITY_WEBHOOK_SECRET"`
	Timeout       time.Duration `env:"IDENTITY_TIMEOUT" envDefault:"10s"`
	CacheSize     int           `env:"IDENTITY_CACHE_SIZE" envDefault:"1024"`
	CacheTTL      time.Duration `env:"IDENTITY_CACHE_TTL" envDefault:"10m"`
}

// APIClient reads users from the identity backend REST API.
type APIClient struct {
	base   string
	key    string
	client *http.Client
	retry  []retry.Option
	log    *slog.Logger
}

type APIOption func(*APIClient)

func WithHTTPClient(c *http.Client) APIOption {
	return func(a *APIClient) {
		if c != nil {
			a.client = c
		}
	}
}

func WithRetry(opts ...retry.Option) APIOption {
	return func(a *APIClient) { a.retry = append(a.retry, opts...) }
}

func WithAPILogger(log *slog.Logger) APIOption {
	return func(a *APIClient) {
		if log != nil {
			a.log = log
		}
	}
}

func NewAPIClient(cfg Config, opts ...APIOption) (*APIClient, error) {
	if cfg.SecretKey == "" {
		return nil, ErrMissingAPIKey
	}
	a := &APIClient{
		base:   strings.TrimSuffix(cfg.APIURL, "/"),
		key:    cfg.SecretKey,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(requestid.NewTransport(http.DefaultTransport)),
		},
		log: logger.Discard(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// GetUser fetches one user. Transport errors, 429 and 5xx are retried.
func (a *APIClient) GetUser(ctx context.Context, userID string) (User, error) {
	if userID == "" {
		return User{}, ErrEmptyUserID
	}

	var out apiUser
	opts := append([]retry.Option{
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			a.log.WarnContext(ctx, "identity backend retry",
				logger.UserID(userID), logger.RetryCount(attempt), logger.Error(err), logger.Duration(delay))
		}),
	}, a.retry...)

	err := retry.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base+"/users/"+url.PathEscape(userID), nil)
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+a.key)
		req.Header.Set("Accept", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return errors.Join(ErrBackend, err)
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return retry.Permanent(fmt.Errorf("%w: %s", ErrUserNotFound, userID))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%w: status %d", ErrBackend, resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return retry.Permanent(fmt.Errorf("%w: status %d: %s", ErrBackend, resp.StatusCode, body))
		}

		out = apiUser{}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return retry.Permanent(fmt.Errorf("%w: %v", ErrBackend, err))
		}
		return nil
	}, opts...)
	if err != nil {
		return User{}, err
	}
	if out.Deleted {
		return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return out.user(), nil
}
