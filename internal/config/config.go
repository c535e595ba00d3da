package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth" validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
	Batch    BatchConfig    `mapstructure:"batch" validate:"required"`
	Poller   PollerConfig   `mapstructure:"poller" validate:"required"`
	Budget   BudgetConfig   `mapstructure:"budget" validate:"required"`
	Notifier NotifierConfig `mapstructure:"notifier" validate:"required"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL           string `mapstructure:"url" validate:"required,url"`
	MigrateOnBoot bool   `mapstructure:"migrate_on_boot"`
}

// RedisConfig points at the Redis instance holding the budget ledger and
// the batch lifecycle stream.
type RedisConfig struct {
	Addr            string `mapstructure:"addr" validate:"required,hostname_port"`
	Password        string `mapstructure:"password"`
	DB              int    `mapstructure:"db" validate:"gte=0"`
	KeyPrefix       string `mapstructure:"key_prefix" validate:"required"`
	LifecycleStream string `mapstructure:"lifecycle_stream" validate:"required"`
	StreamMaxLen    int64  `mapstructure:"stream_max_len" validate:"gt=0"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret" validate:"required,min=32"`
	TokenLifetime time.Duration `mapstructure:"token_lifetime" validate:"gt=0"`
}

// LLMConfig contains the generation backend settings. The fallback model is
// optional; when set, transient failures on the primary model are retried
// once against it.
type LLMConfig struct {
	GeminiAPIKey string      `mapstructure:"gemini_api_key" validate:"required"`
	Primary      ModelConfig `mapstructure:"primary" validate:"required"`
	Fallback     ModelConfig `mapstructure:"fallback"`
	ArtifactDir  string      `mapstructure:"artifact_dir" validate:"required"`
}

// ModelConfig prices a single backend model.
type ModelConfig struct {
	Model                string  `mapstructure:"model"`
	CostPerRequest       float64 `mapstructure:"cost_per_request" validate:"gte=0"`
	CostPerMillionTokens float64 `mapstructure:"cost_per_million_tokens" validate:"gte=0"`
}

// BatchConfig controls the dual trigger of the request aggregator.
type BatchConfig struct {
	MaxSize int           `mapstructure:"max_size" validate:"gt=0,lte=1000"`
	Window  time.Duration `mapstructure:"window" validate:"gt=0"`
}

// PollerConfig describes the three-phase polling schedule.
type PollerConfig struct {
	FastInterval   time.Duration `mapstructure:"fast_interval" validate:"gt=0"`
	FastUntil      time.Duration `mapstructure:"fast_until" validate:"gt=0"`
	MediumInterval time.Duration `mapstructure:"medium_interval" validate:"gt=0"`
	MediumUntil    time.Duration `mapstructure:"medium_until" validate:"gtfield=FastUntil"`
	SlowInterval   time.Duration `mapstructure:"slow_interval" validate:"gt=0"`
	Ceiling        time.Duration `mapstructure:"ceiling" validate:"gtfield=MediumUntil"`
	RateLimit      float64       `mapstructure:"rate_limit" validate:"gt=0"`
	RateBurst      int           `mapstructure:"rate_burst" validate:"gt=0"`
}

// BudgetConfig configures the spending circuit breaker.
type BudgetConfig struct {
	Limit             float64       `mapstructure:"limit" validate:"gt=0"`
	ThresholdFraction float64       `mapstructure:"threshold_fraction" validate:"gt=0,lte=1"`
	RefreshInterval   time.Duration `mapstructure:"refresh_interval" validate:"gt=0"`
	Period            string        `mapstructure:"period" validate:"required,oneof=daily monthly"`
}

// NotifierConfig configures subscriber delivery and reaping.
type NotifierConfig struct {
	SweepInterval      time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	SendTimeout        time.Duration `mapstructure:"send_timeout" validate:"gt=0"`
	MaxConcurrentSends int           `mapstructure:"max_concurrent_sends" validate:"gt=0"`
}

// TracingConfig enables OTLP trace export.
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Endpoint   string  `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	SampleRate float64 `mapstructure:"sample_rate" validate:"gte=0,lte=1"`
}
