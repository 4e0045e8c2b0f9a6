package main

import (
	"github.com/dmitrymomot/pixelmint/modules/billing"
	"github.com/dmitrymomot/pixelmint/pkg/httpserver"
	"github.com/dmitrymomot/pixelmint/pkg/identity"
	"github.com/dmitrymomot/pixelmint/pkg/inference"
	"github.com/dmitrymomot/pixelmint/pkg/jwt"
	"github.com/dmitrymomot/pixelmint/pkg/pg"
	"github.com/dmitrymomot/pixelmint/pkg/queue"
	"github.com/dmitrymomot/pixelmint/pkg/ratelimiter"
	"github.com/dmitrymomot/pixelmint/pkg/redis"
	"github.com/dmitrymomot/pixelmint/pkg/storage"
	"github.com/dmitrymomot/pixelmint/pkg/subscription"
	"github.com/dmitrymomot/pixelmint/pkg/telemetry"
)

type appConfig struct {
	Env          string `env:"APP_ENV" envDefault:"development"`
	Service      string `env:"APP_NAME" envDefault:"pixelmint"`
	LogLevel     string `env:"LOG_LEVEL"`
	NotifyPrefix string `env:"NOTIFY_CHANNEL_PREFIX" envDefault:"pixelmint:"`

	HTTP         httpserver.Config
	Postgres     pg.Config
	Redis        redis.Config
	Queue        queue.Config
	Subscription subscription.Config
	Stripe       subscription.StripeConfig
	RateLimit    ratelimiter.Config
	JWT          jwt.Config
	Identity     identity.Config
	Storage      storage.Config
	Inference    inference.Config
	Telemetry    telemetry.Config
	Billing      billing.Config
}
