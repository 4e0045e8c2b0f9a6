package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type options struct {
	files    []string
	required bool
	prefix   string
	environ  map[string]string
}

// Option customises a single Load call.
type Option func(*options)

// WithEnvFiles overrides the default `.env` lookup. Files listed here must exist.
func WithEnvFiles(files ...string) Option {
	return func(o *options) {
		o.files = files
		o.required = true
	}
}

// WithPrefix prepends prefix to every variable name in the struct.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithEnvironment parses from the given map instead of the process environment.
// No .env files are read. Intended for tests.
func WithEnvironment(environ map[string]string) Option {
	return func(o *options) {
		o.environ = environ
	}
}

// Load parses the environment into a new T.
func Load[T any](opts ...Option) (T, error) {
	var cfg T
	o := &options{files: []string{".env"}}
	for _, opt := range opts {
		opt(o)
	}

	envOpts := env.Options{Prefix: o.prefix}
	if o.environ != nil {
		envOpts.Environment = o.environ
	} else if err := loadFiles(o.files, o.required); err != nil {
		return cfg, err
	}

	if err := env.ParseWithOptions(&cfg, envOpts); err != nil {
		return cfg, errors.Join(ErrParsingConfig, err)
	}
	return cfg, nil
}

// MustLoad is Load that panics on error. Use it only in main.
func MustLoad[T any](opts ...Option) T {
	cfg, err := Load[T](opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
	return cfg
}

func loadFiles(files []string, required bool) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			if required {
				return errors.Join(ErrLoadingEnvFile, err)
			}
			continue
		}
		// godotenv.Load never overrides variables that are already set.
		if err := godotenv.Load(f); err != nil {
			return errors.Join(ErrLoadingEnvFile, err)
		}
	}
	return nil
}
