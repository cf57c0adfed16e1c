package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all runtime configuration loaded from environment variables.
// Credentials have no defaults: a missing DATABASE_URL fails Load.
type Config struct {
	// Server
	Port           int    `mapstructure:"PORT" validate:"min=1,max=65535"`
	Env            string `mapstructure:"APP_ENV" validate:"oneof=development production test"`
	WorkerPoolSize int    `mapstructure:"WORKER_POOL_SIZE" validate:"min=1"`

	// HTTP edge
	RateLimitPerMinute        int    `mapstructure:"RATE_LIMIT_PER_MINUTE" validate:"min=1"`
	WebhookRateLimitPerMinute int    `mapstructure:"WEBHOOK_RATE_LIMIT_PER_MINUTE" validate:"min=1"`
	CORSAllowedOrigins        string `mapstructure:"CORS_ALLOWED_ORIGINS" validate:"required"`

	// Database
	DatabaseURL string `mapstructure:"DATABASE_URL" validate:"required"`

	// Redis (empty disables the queues, the dead-letter lists and the worker pool)
	RedisURL string `mapstructure:"REDIS_URL"`

	// Caja
	ReconciliationTolerance string        `mapstructure:"RECONCILIATION_TOLERANCE" validate:"required"`
	SyncMaxRetries          uint64        `mapstructure:"SYNC_MAX_RETRIES" validate:"min=1,max=20"`
	SyncInitialBackoff      time.Duration `mapstructure:"SYNC_INITIAL_BACKOFF" validate:"gt=0"`
	BackfillInterval        time.Duration `mapstructure:"BACKFILL_INTERVAL" validate:"gt=0"`
	ReportTimezone          string        `mapstructure:"REPORT_TIMEZONE" validate:"required"`

	// SMTP (alerts are disabled when SMTP_HOST or ALERT_EMAIL is empty)
	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUser     string `mapstructure:"SMTP_USER"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM" validate:"omitempty,email"`
	AlertEmail   string `mapstructure:"ALERT_EMAIL" validate:"omitempty,email"`

	tolerancia decimal.Decimal
	location   *time.Location
}

// Tolerancia is the canonical reconciliation epsilon.
func (c *Config) Tolerancia() decimal.Decimal { return c.tolerancia }

// Location is the timezone days are cut in for range summaries.
func (c *Config) Location() *time.Location { return c.location }

func (c *Config) AlertasHabilitadas() bool { return c.SMTPHost != "" && c.AlertEmail != "" }

// Origins splits CORS_ALLOWED_ORIGINS; "*" allows any origin.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Load reads configuration from environment variables (and optional .env file).
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	v.SetDefault("PORT", 8000)
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("WORKER_POOL_SIZE", 5)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 1000)
	v.SetDefault("WEBHOOK_RATE_LIMIT_PER_MINUTE", 300)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("RECONCILIATION_TOLERANCE", "0.01")
	v.SetDefault("SYNC_MAX_RETRIES", 3)
	v.SetDefault("SYNC_INITIAL_BACKOFF", "200ms")
	v.SetDefault("BACKFILL_INTERVAL", "1m")
	v.SetDefault("REPORT_TIMEZONE", "America/Argentina/Buenos_Aires")
	v.SetDefault("SMTP_PORT", 587)
	// No default: bound so AutomaticEnv values reach Unmarshal.
	for _, key := range []string{"DATABASE_URL", "REDIS_URL", "SMTP_HOST", "SMTP_USER", "SMTP_PASSWORD", "SMTP_FROM", "ALERT_EMAIL"} {
		_ = v.BindEnv(key)
	}

	// Optional .env file for local development; does not fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	tol, err := decimal.NewFromString(c.ReconciliationTolerance)
	if err != nil {
		return fmt.Errorf("config: RECONCILIATION_TOLERANCE %q: %w", c.ReconciliationTolerance, err)
	}
	if tol.IsNegative() {
		return fmt.Errorf("config: RECONCILIATION_TOLERANCE must be >= 0, got %s", tol)
	}
	loc, err := time.LoadLocation(c.ReportTimezone)
	if err != nil {
		return fmt.Errorf("config: REPORT_TIMEZONE: %w", err)
	}
	c.tolerancia = tol
	c.location = loc
	return nil
}
