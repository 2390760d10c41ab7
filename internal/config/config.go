package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the API process configuration, loaded from ACCESSHUB_-prefixed
// environment variables. A .env file in the working directory is read first
// when present; real environment variables win over it.
type Config struct {
	Addr string `env:"ADDR" envDefault:":8080"`

	// PostgresDSN selects the persistent store. When empty the API runs on
	// the in-memory store, which is only suitable for development.
	PostgresDSN string `env:"PG_DSN"`

	Redis RedisConfig `envPrefix:"REDIS_"`

	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"720h"`
	TokenTTL   time.Duration `env:"TOKEN_TTL" envDefault:"24h"`

	RatePerSec float64 `env:"RATE_PER_SEC" envDefault:"20"`
	RateBurst  int     `env:"RATE_BURST" envDefault:"40"`

	MaxBodyBytes int64 `env:"MAX_BODY_BYTES" envDefault:"1048576"`
}

// RedisConfig selects the session backend. When Addr is empty sessions are
// kept in process memory.
type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		// ignore parse failures in the optional .env, the environment is
		// authoritative either way
		_ = godotenv.Load()
	}
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "ACCESSHUB_"}); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.sanitize()
	return cfg, nil
}

func (c *Config) sanitize() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 720 * time.Hour
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 24 * time.Hour
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 20
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 40
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
}
