// Package config provides application configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all gateway configuration, read from environment variables.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:""`
	DBPath      string `env:"DB_PATH" envDefault:"./data/session.db"`

	Backend BackendConfig
	Session SessionConfig
}

// BackendConfig controls the reading backend client.
type BackendConfig struct {
	BaseURL        string        `env:"BACKEND_BASE_URL" envDefault:"http://localhost:9000"`
	Retries        int           `env:"BACKEND_RETRIES" envDefault:"2"`
	Backoff        time.Duration `env:"BACKEND_BACKOFF" envDefault:"1s"`
	ReadingTimeout time.Duration `env:"BACKEND_READING_TIMEOUT" envDefault:"15s"`
}

// SessionConfig controls per-visitor session behavior.
type SessionConfig struct {
	DefaultLanguage string        `env:"DEFAULT_LANGUAGE" envDefault:"en"`
	TTL             time.Duration `env:"SESSION_TTL" envDefault:"60m"`
	AdminMode       bool          `env:"ADMIN_MODE" envDefault:"false"`
	DevMode         bool          `env:"DEV_MODE" envDefault:"false"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are sane.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("BACKEND_BASE_URL cannot be empty")
	}
	if c.Backend.Retries < 0 {
		return fmt.Errorf("BACKEND_RETRIES must be >= 0")
	}
	if c.Backend.Backoff < 0 {
		return fmt.Errorf("BACKEND_BACKOFF must be >= 0")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.Session.DefaultLanguage == "" {
		return fmt.Errorf("DEFAULT_LANGUAGE cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}
