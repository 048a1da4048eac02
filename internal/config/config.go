// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	// Embedded zone database; TIMEZONE must resolve on minimal images.
	_ "time/tzdata"

	"github.com/ashureev/deadlinebot/internal/reminder"
	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration.
type Config struct {
	Port            string        `env:"PORT"                 envDefault:"8080"`
	AppEnv          string        `env:"APP_ENV"              envDefault:"production"`
	DBPath          string        `env:"DB_PATH"              envDefault:"./data/deadlinebot.db"`
	DeadlinesPath   string        `env:"DEADLINES_PATH"       envDefault:"./data/deadlines.yaml"`
	DeadlinesWatch  bool          `env:"DEADLINES_WATCH"      envDefault:"true"`
	IdleTimeout     time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"60s"`
	Timezone        string        `env:"TIMEZONE"             envDefault:"CET"`
	DailyDigestAt   string        `env:"DAILY_DIGEST_AT"      envDefault:"10:08"`
	WeeklyDigestDay string        `env:"WEEKLY_DIGEST_DAY"    envDefault:"sunday"`
	WeeklyDigestAt  string        `env:"WEEKLY_DIGEST_AT"     envDefault:"19:00"`
	DispatchTimeout time.Duration `env:"DISPATCH_TIMEOUT"     envDefault:"10s"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS"      envDefault:"*"          envSeparator:","`
	LogFile         string        `env:"LOG_FILE"`
	LogLevel        string        `env:"LOG_LEVEL"            envDefault:"info"`
	NATSURL         string        `env:"NATS_URL"`
	NATSPrefix      string        `env:"NATS_SUBJECT_PREFIX"  envDefault:"deadlinebot"`

	location  *time.Location
	dailyAt   reminder.Clock
	weeklyDay time.Weekday
	weeklyAt  reminder.Clock
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration and resolves the derived schedule values.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if n, err := strconv.Atoi(c.Port); err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("PORT must be a valid port number, got %q", c.Port)
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	if c.DeadlinesPath == "" {
		return errors.New("DEADLINES_PATH cannot be empty")
	}
	if c.IdleTimeout <= 0 {
		return errors.New("SESSION_IDLE_TIMEOUT must be > 0")
	}
	if c.DispatchTimeout <= 0 {
		return errors.New("DISPATCH_TIMEOUT must be > 0")
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("TIMEZONE: %w", err)
	}
	c.location = loc

	if c.dailyAt, err = reminder.ParseClock(c.DailyDigestAt); err != nil {
		return fmt.Errorf("DAILY_DIGEST_AT: %w", err)
	}
	if c.weeklyDay, err = reminder.ParseWeekday(c.WeeklyDigestDay); err != nil {
		return fmt.Errorf("WEEKLY_DIGEST_DAY: %w", err)
	}
	if c.weeklyAt, err = reminder.ParseClock(c.WeeklyDigestAt); err != nil {
		return fmt.Errorf("WEEKLY_DIGEST_AT: %w", err)
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// Location is the zone used for dates and digest triggers.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// DailyDigestClock is the time of day of the next-day digest.
func (c *Config) DailyDigestClock() reminder.Clock { return c.dailyAt }

// WeeklyDigestSchedule is the weekday and time of day of the next-week digest.
func (c *Config) WeeklyDigestSchedule() (time.Weekday, reminder.Clock) {
	return c.weeklyDay, c.weeklyAt
}

// SlogLevel returns the configured log level. Invalid values fall back to info.
func (c *Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}
