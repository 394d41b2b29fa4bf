package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env         string `env:"ENV"          envDefault:"local" validate:"required,oneof=local staging production"`
	LogLevel    string `env:"LOG_LEVEL"    envDefault:"info"  validate:"oneof=debug info warn error"`
	HTTPPort    string `env:"HTTP_PORT"    envDefault:"8080"  validate:"required"`
	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"  validate:"required"`

	TasksFile    string `env:"TASKS_FILE"    envDefault:"tasks.json" validate:"required"`
	OutputDir    string `env:"OUTPUT_DIR"    envDefault:"."          validate:"required"`
	SourceDriver string `env:"SOURCE_DRIVER" envDefault:"postgres"   validate:"oneof=postgres mysql"`

	CredentialsFile string `env:"CREDENTIALS_FILE" envDefault:"credentials.json" validate:"required"`

	// SecretKeyFile unset or empty means the credentials file holds plain text.
	SecretKeyFile string `env:"SECRET_KEY_FILE"`

	WindowDays      []int  `env:"WINDOW_DAYS"       envDefault:"1,2,3,4,5" envSeparator:"," validate:"dive,min=0,max=6"`
	WindowStartHour int    `env:"WINDOW_START_HOUR" envDefault:"7"  validate:"min=0,max=23"`
	WindowEndHour   int    `env:"WINDOW_END_HOUR"   envDefault:"18" validate:"min=0,max=23,gtfield=WindowStartHour"`
	Timezone        string `env:"TIMEZONE"          envDefault:"Local"`

	ErrorRetrySec     int `env:"ERROR_RETRY_SEC"     envDefault:"60"   validate:"min=1"`
	ConfigRecheckSec  int `env:"CONFIG_RECHECK_SEC"  envDefault:"3600" validate:"min=1"`
	ConnectTimeoutSec int `env:"CONNECT_TIMEOUT_SEC" envDefault:"10"   validate:"min=1,max=300"`

	NotifyTo     []string `env:"NOTIFY_TO"      envSeparator:"," validate:"dive,email"`
	ResendAPIKey string   `env:"RESEND_API_KEY"`
	ResendFrom   string   `env:"RESEND_FROM"    validate:"required_with=ResendAPIKey"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if _, err := cfg.Location(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Location is the time zone the execution window and fixed times are
// evaluated in.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c *Config) ErrorRetry() time.Duration {
	return time.Duration(c.ErrorRetrySec) * time.Second
}

func (c *Config) ConfigRecheck() time.Duration {
	return time.Duration(c.ConfigRecheckSec) * time.Second
}

func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSec) * time.Second
}
