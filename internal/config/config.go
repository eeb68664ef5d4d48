// Package config loads the demo server settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds everything the server binary needs. Rate and burst are
// validated by the limiter itself at construction.
type Config struct {
	Addr            string        `env:"GCRA_ADDR" envDefault:":8080"`
	Rate            float64       `env:"GCRA_RATE" envDefault:"5"`
	Burst           float64       `env:"GCRA_BURST" envDefault:"10"`
	Shards          int           `env:"GCRA_SHARDS" envDefault:"64"`
	KeyTTL          time.Duration `env:"GCRA_KEY_TTL" envDefault:"1h"`
	SweepInterval   time.Duration `env:"GCRA_SWEEP_INTERVAL" envDefault:"5m"`
	ShutdownTimeout time.Duration `env:"GCRA_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	LogLevel        string        `env:"GCRA_LOG_LEVEL" envDefault:"info"`
}

// Load reads the configuration from the environment, consulting a .env
// file first when one exists.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.Shards < 1 {
		return Config{}, fmt.Errorf("GCRA_SHARDS must be positive, got %d", cfg.Shards)
	}

	if cfg.ShutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("GCRA_SHUTDOWN_TIMEOUT must be positive, got %s", cfg.ShutdownTimeout)
	}

	return cfg, nil
}
