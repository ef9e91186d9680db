// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Server
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8000"`

	// Storage. DATABASE_URL selects PostgreSQL; otherwise SQLite at
	// SQLITE_PATH is used.
	DatabaseURL        string `env:"DATABASE_URL"`
	SQLitePath         string `env:"SQLITE_PATH" envDefault:"data/chat.db"`
	DBMaxOpenConns     int    `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int    `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLifetime  int    `env:"DB_CONN_MAX_LIFETIME_MINUTES" envDefault:"30"`
	DBConnMaxIdleTime  int    `env:"DB_CONN_MAX_IDLE_MINUTES" envDefault:"10"`

	// Auth
	JWTSecret     string `env:"JWT_SECRET,required"`
	TokenTTLHours int    `env:"TOKEN_TTL_HOURS" envDefault:"24"`

	// Uploads
	UploadDir      string `env:"UPLOAD_DIR" envDefault:"data/uploads"`
	MaxUploadBytes int64  `env:"MAX_UPLOAD_BYTES" envDefault:"52428800"`

	// Streaming
	ProgressTimeoutSeconds int `env:"PROGRESS_TIMEOUT_SECONDS" envDefault:"90"`

	// Provider base URL overrides, used in tests and self-hosted setups.
	OpenAIBaseURL     string `env:"OPENAI_BASE_URL"`
	AnthropicBaseURL  string `env:"ANTHROPIC_BASE_URL"`
	OpenRouterBaseURL string `env:"OPENROUTER_BASE_URL"`

	// Logging
	LogFile     string `env:"LOG_FILE" envDefault:"logs/chatd.log"`
	LogMaxBytes int64  `env:"LOG_MAX_BYTES" envDefault:"10485760"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// UsePostgres reports whether PostgreSQL is configured.
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}
