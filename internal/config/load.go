package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "GARMAX"

// requiredKeys have no defaults, so viper only sees them from the
// environment if they are bound explicitly.
var requiredKeys = []string{
	"database.url",
	"auth.jwt_secret",
	"llm.gemini_api_key",
	"redis.password",
	"llm.fallback.model",
	"tracing.endpoint",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.migrate_on_boot", false)

	v.SetDefault("auth.token_lifetime", time.Hour)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "garmax")
	v.SetDefault("redis.lifecycle_stream", "garmax:batch-lifecycle")
	v.SetDefault("redis.stream_max_len", 10000)

	v.SetDefault("llm.primary.model", "gemini-2.5-flash-image")
	v.SetDefault("llm.primary.cost_per_request", 0.039)
	v.SetDefault("llm.primary.cost_per_million_tokens", 30.0)
	v.SetDefault("llm.fallback.cost_per_request", 0.01)
	v.SetDefault("llm.fallback.cost_per_million_tokens", 2.5)
	v.SetDefault("llm.artifact_dir", "artifacts")

	v.SetDefault("batch.max_size", 50)
	v.SetDefault("batch.window", 45*time.Second)

	v.SetDefault("poller.fast_interval", 5*time.Second)
	v.SetDefault("poller.fast_until", 30*time.Second)
	v.SetDefault("poller.medium_interval", 15*time.Second)
	v.SetDefault("poller.medium_until", 90*time.Second)
	v.SetDefault("poller.slow_interval", 60*time.Second)
	v.SetDefault("poller.ceiling", 10*time.Minute)
	v.SetDefault("poller.rate_limit", 10.0)
	v.SetDefault("poller.rate_burst", 5)

	v.SetDefault("budget.limit", 200.0)
	v.SetDefault("budget.threshold_fraction", 0.9)
	v.SetDefault("budget.refresh_interval", 5*time.Minute)
	v.SetDefault("budget.period", "daily")

	v.SetDefault("notifier.sweep_interval", 60*time.Second)
	v.SetDefault("notifier.send_timeout", 5*time.Second)
	v.SetDefault("notifier.max_concurrent_sends", 16)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sample_rate", 1.0)
}

// Load configuration from environment variables and optionally a config.yaml
// in the working directory. Environment variables take precedence over values
// from the config file. Returns a populated Config or an error if loading or
// validation fails.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range requiredKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("error binding environment variable for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags on cfg.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}
