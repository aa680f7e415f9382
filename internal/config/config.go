package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds application configuration, populated from MAILDESK_* environment
// variables. A .env file is loaded first in development.
type Config struct {
	Environment string `env:"MAILDESK_ENV" envDefault:"development"`
	Port        string `env:"PORT" envDefault:"8080"`

	// Credential vault. Empty disables encryption at rest: passwords are
	// stored as given.
	VaultSecret string `env:"MAILDESK_VAULT_SECRET"`

	// Database
	DBHost     string `env:"MAILDESK_DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"MAILDESK_DB_PORT" envDefault:"5432"`
	DBUsername string `env:"MAILDESK_DB_USER" envDefault:"maildesk"`
	DBPassword string `env:"MAILDESK_DB_PASSWORD,required"`
	DBName     string `env:"MAILDESK_DB_NAME" envDefault:"maildesk"`
	DBSSLMode  string `env:"MAILDESK_DB_SSLMODE" envDefault:"disable"`

	// Mailbox watchers
	ReconnectDelay   time.Duration `env:"MAILDESK_RECONNECT_DELAY" envDefault:"15s"`
	IdlePollInterval time.Duration `env:"MAILDESK_IDLE_POLL_INTERVAL" envDefault:"1m"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // "json" or "text"
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// DatabaseURL assembles the Postgres connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}
