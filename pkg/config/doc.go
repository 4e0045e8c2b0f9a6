// Package config loads typed configuration structs from the process
// environment.
//
// Values come from `.env` files (loaded with github.com/joho/godotenv, missing
// files are ignored) and are parsed into structs through
// github.com/caarlos0/env/v11 field tags:
//
//	type Config struct {
//	    RedisURL string        `env:"REDIS_URL,required"`
//	    CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"5m"`
//	}
//
//	cfg, err := config.Load[Config]()
//
// Nested structs may carry their own prefix with `envPrefix`, which is how the
// server composes package-level configs (redis.Config, pg.Config, ...) into a
// single application config.
//
// Load does not cache results. Call it once at startup and pass the values
// down explicitly.
package config
