package config

import "time"

// Config holds runtime configuration for the hydration bot.
type Config struct {
	AppEnv    string          `mapstructure:"-"`
	App       AppConfig       `mapstructure:"app"`
	Bot       BotConfig       `mapstructure:"bot" validate:"required"`
	Reminder  ReminderConfig  `mapstructure:"reminder" validate:"required"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

type AppConfig struct {
	Name            string        `mapstructure:"name"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// BotConfig describes the Telegram gateway connection and command surface. APIURL points at
// a self-hosted Bot API server; empty uses api.telegram.org.
type BotConfig struct {
	Token          string        `mapstructure:"token" validate:"required"`
	APIURL         string        `mapstructure:"api_url" validate:"omitempty,url"`
	Prefix         string        `mapstructure:"prefix" validate:"required"`
	Owners         []int64       `mapstructure:"owners" validate:"required,min=1,dive,ne=0"`
	PollTimeout    time.Duration `mapstructure:"poll_timeout" validate:"gt=0"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	PresenceSource string        `mapstructure:"presence_source" validate:"oneof=membership chat_member"`
	SkipBots       bool          `mapstructure:"skip_bots"`
}

// ReminderConfig tunes the reminder sweep.
type ReminderConfig struct {
	Tick            time.Duration `mapstructure:"tick" validate:"gt=0"`
	Threshold       time.Duration `mapstructure:"threshold" validate:"gt=0"`
	Message         string        `mapstructure:"message" validate:"required"`
	ReadAloud       bool          `mapstructure:"read_aloud"`
	OnlyPresent     bool          `mapstructure:"only_present"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout" validate:"gt=0"`
	Concurrency     int           `mapstructure:"concurrency" validate:"gte=1"`
	Retries         int           `mapstructure:"retries" validate:"gte=0"`
}

type LoggerConfig struct {
	Level  string     `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string     `mapstructure:"format" validate:"oneof=text json"`
	File   FileConfig `mapstructure:"file"`
}

// FileConfig enables rotating file output in addition to stdout.
type FileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path" validate:"required_if=Enabled true"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type SentryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn" validate:"required_if=Enabled true"`
}

type MetricsConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RedisConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr" validate:"required_if=Enabled true"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	PoolTimeout     time.Duration `mapstructure:"pool_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
	IdempotencyTTL  time.Duration `mapstructure:"idempotency_ttl"`
}

type DatabaseConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	DSN          string        `mapstructure:"dsn" validate:"required_if=Enabled true"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RateLimitConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	PerUser   RateLimitRule `mapstructure:"per_user"`
	Whitelist []int64       `mapstructure:"whitelist"`
}

type RateLimitRule struct {
	Limit  int    `mapstructure:"limit"`
	Window string `mapstructure:"window"`
}
