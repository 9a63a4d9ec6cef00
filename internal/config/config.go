// Package config loads server configuration from the environment.
package config

import (
	"fmt"

	"github.com/Rhymond/go-money"
	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port         string `env:"PORT" envDefault:"8080"`
	DBPath       string `env:"DB_PATH" envDefault:"consolidator.db"`
	BaseCurrency string `env:"BASE_CURRENCY" envDefault:"USD"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	SeedDemo     bool   `env:"SEED_DEMO" envDefault:"true"`
}

// Load parses the environment and validates the base currency against
// the ISO-4217 registry.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if c := money.GetCurrency(cfg.BaseCurrency); c == nil {
		return nil, fmt.Errorf("unknown base currency %q", cfg.BaseCurrency)
	}
	return cfg, nil
}
