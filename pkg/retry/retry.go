package retry

import (
	"context"
	"errors"
	"time"
)

// DefaultAttempts is the total number of tries, including the first one.
const DefaultAttempts = 3

type config struct {
	attempts int
	backoff  Backoff
	retryIf  func(error) bool
	onRetry  func(attempt int, err error, delay time.Duration)
}

type Option func(*config)

func WithAttempts(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.attempts = n
		}
	}
}

func WithBackoff(b Backoff) Option {
	return func(c *config) {
		if b != nil {
			c.backoff = b
		}
	}
}

// WithRetryIf limits retries to errors for which fn returns true.
func WithRetryIf(fn func(error) bool) Option {
	return func(c *config) {
		c.retryIf = fn
	}
}

// WithOnRetry is called before each wait, typically to log.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(c *config) {
		c.onRetry = fn
	}
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the unwrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Do calls fn until it returns nil or attempts are exhausted, returning the last error.
func Do(ctx context.Context, fn func(context.Context) error, opts ...Option) error {
	cfg := &config{
		attempts: DefaultAttempts,
		backoff:  Exponential{Initial: time.Second, Multiplier: 2, Max: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}

		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if cfg.retryIf != nil && !cfg.retryIf(err) {
			return err
		}
		if attempt >= cfg.attempts {
			return errors.Join(ErrAttemptsExhausted, err)
		}

		delay := cfg.backoff.NextInterval(attempt)
		if cfg.onRetry != nil {
			cfg.onRetry(attempt, err, delay)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(ctx.Err(), err)
		case <-t.C:
		}
	}
}
