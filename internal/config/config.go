// Package config loads focuswatch settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/hperssn/focuswatch/internal/domain"
	"github.com/hperssn/focuswatch/internal/storage"
)

type Config struct {
	// HTTPAddr is the API listen address.
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DBDriver selects the store: sqlite, postgres or memory.
	DBDriver string `mapstructure:"DB_DRIVER"`
	// DatabaseURL is the Postgres DSN, required when DBDriver is postgres.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	SQLitePath  string `mapstructure:"SQLITE_PATH"`

	RecentEventsLimit          int           `mapstructure:"RECENT_EVENTS_LIMIT"`
	DefaultDailyGoalMinutes    int           `mapstructure:"DEFAULT_DAILY_GOAL_MINUTES"`
	DefaultEyeClosureThreshold time.Duration `mapstructure:"DEFAULT_EYE_CLOSURE_THRESHOLD"`

	// IdleTimeout stops a run whose detector went quiet. Zero disables it.
	IdleTimeout     time.Duration `mapstructure:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	RecoverOrphans  bool          `mapstructure:"RECOVER_ORPHANS"`
	MetricsEnabled  bool          `mapstructure:"METRICS_ENABLED"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment via Viper. Variables already set in the environment win over
// .env entries.
func Load() (*Config, error) {
	_ = godotenv.Load() // missing .env is fine

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DB_DRIVER", storage.DriverSQLite)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SQLITE_PATH", "focuswatch.db")
	v.SetDefault("RECENT_EVENTS_LIMIT", 20)
	v.SetDefault("DEFAULT_DAILY_GOAL_MINUTES", domain.DefaultDailyGoalMinutes)
	v.SetDefault("DEFAULT_EYE_CLOSURE_THRESHOLD", domain.DefaultEyeClosureThreshold.String())
	v.SetDefault("IDLE_TIMEOUT", "0s")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("RECOVER_ORPHANS", true)
	v.SetDefault("METRICS_ENABLED", true)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}

	switch c.DBDriver {
	case storage.DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("config: SQLITE_PATH must be set for the sqlite driver")
		}
	case storage.DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set for the postgres driver")
		}
	case storage.DriverMemory:
	default:
		return fmt.Errorf("config: unknown DB_DRIVER %q", c.DBDriver)
	}

	if c.RecentEventsLimit <= 0 {
		return errors.New("config: RECENT_EVENTS_LIMIT must be positive")
	}
	if err := c.DefaultSettings().Validate(); err != nil {
		return fmt.Errorf("config: DEFAULT_*: %w", err)
	}
	if c.IdleTimeout < 0 {
		return errors.New("config: IDLE_TIMEOUT must not be negative")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("config: SHUTDOWN_TIMEOUT must be positive")
	}

	return nil
}

// DSN returns the data source for the configured driver.
func (c *Config) DSN() string {
	switch c.DBDriver {
	case storage.DriverPostgres:
		return c.DatabaseURL
	case storage.DriverSQLite:
		return c.SQLitePath
	}
	return ""
}

// DefaultSettings are the settings given to users on first login.
func (c *Config) DefaultSettings() domain.Settings {
	return domain.Settings{
		DailyGoalMinutes:    c.DefaultDailyGoalMinutes,
		EyeClosureThreshold: c.DefaultEyeClosureThreshold,
	}
}
