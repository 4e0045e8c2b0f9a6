package subscription

import "time"

// StripeConfig holds the billing provider credentials.
type StripeConfig struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY,required"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
}

// Config tunes the reconciler.
type Config struct {
	PlansFile    string        `env:"PLANS_FILE"`
	InfoCacheTTL time.Duration `env:"SUBSCRIPTION_INFO_TTL" envDefault:"5m"`
	InfoJitter   time.Duration `env:"SUBSCRIPTION_INFO_JITTER" envDefault:"30s"`
	RebuildCache bool          `env:"REBUILD_CACHE" envDefault:"false"`
}
