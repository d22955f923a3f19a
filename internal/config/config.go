package config

import (
	"fmt"
	"strings"

	"github.com/labstack/gommon/bytes"
	"github.com/spf13/viper"
)

const maxTimelinePageSize = 200

type Config struct {
	Port                    string   `mapstructure:"PORT"`
	Env                     string   `mapstructure:"ENV"`
	DatabaseURL             string   `mapstructure:"DATABASE_URL"`
	DBMaxConns              int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns              int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL                string   `mapstructure:"REDIS_URL"`
	NotifyChannel           string   `mapstructure:"NOTIFY_CHANNEL"`
	AuthIssuer              string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience            string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey          string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins             []string `mapstructure:"CORS_ORIGINS"`
	TimelinePageSize        int      `mapstructure:"TIMELINE_PAGE_SIZE"`
	CheckInBatchConcurrency int      `mapstructure:"CHECKIN_BATCH_CONCURRENCY"`
	OTelEnabled             bool     `mapstructure:"OTEL_ENABLED"`
	OTelSampleRatio         float64  `mapstructure:"OTEL_SAMPLE_RATIO"`
	MigrationsDir           string   `mapstructure:"MIGRATIONS_DIR"`
	BodyLimit               string   `mapstructure:"BODY_LIMIT"`
	RateLimitRPS            float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst          int      `mapstructure:"RATE_LIMIT_BURST"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "NOTIFY_CHANNEL", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"AUTH_SIGNING_KEY", "CORS_ORIGINS", "TIMELINE_PAGE_SIZE",
	"CHECKIN_BATCH_CONCURRENCY", "OTEL_ENABLED", "OTEL_SAMPLE_RATIO",
	"MIGRATIONS_DIR", "BODY_LIMIT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("NOTIFY_CHANNEL", "emr.pipeline")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("TIMELINE_PAGE_SIZE", 50)
	v.SetDefault("CHECKIN_BATCH_CONCURRENCY", 4)
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SAMPLE_RATIO", 0.1)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)

	// Unmarshal only sees keys viper knows about.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.TimelinePageSize > maxTimelinePageSize {
		cfg.TimelinePageSize = maxTimelinePageSize
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate refuses configurations that would run production without
// authentication or with out-of-range tuning values.
func (c *Config) Validate() error {
	if c.IsProduction() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required in production (ENV=%q)", c.Env)
	}
	if c.OTelSampleRatio < 0 || c.OTelSampleRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATIO must be within [0,1], got %v", c.OTelSampleRatio)
	}
	if c.CheckInBatchConcurrency <= 0 {
		return fmt.Errorf("CHECKIN_BATCH_CONCURRENCY must be positive, got %d", c.CheckInBatchConcurrency)
	}
	if c.TimelinePageSize <= 0 {
		return fmt.Errorf("TIMELINE_PAGE_SIZE must be positive, got %d", c.TimelinePageSize)
	}
	if c.RateLimitRPS < 0 || (c.RateLimitRPS > 0 && c.RateLimitBurst <= 0) {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0 with a positive RATE_LIMIT_BURST, got %v/%d", c.RateLimitRPS, c.RateLimitBurst)
	}
	if _, err := bytes.Parse(c.BodyLimit); err != nil {
		return fmt.Errorf("BODY_LIMIT %q: %w", c.BodyLimit, err)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
