package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "DOCREVIEW"

// setDefaults registers default values. Every key must have a default (even
// an empty one) so that AutomaticEnv can bind it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("llm.api_keys", []string{})
	v.SetDefault("llm.model_name", "gemini-2.0-flash")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay_seconds", 2)
	v.SetDefault("llm.request_timeout", "120s")

	v.SetDefault("queue.reconcile_interval", "1m")
	v.SetDefault("queue.stranded_after", "10m")
	v.SetDefault("queue.default_priority", 0)
	v.SetDefault("queue.large_fan_out", 4)
	v.SetDefault("queue.chunk_token_limit", 60000)
	v.SetDefault("queue.max_images_per_call", 20)

	v.SetDefault("storage.root_dir", "./data")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.lock_ttl", "2m")
	v.SetDefault("redis.keyspace_prefix", "docreview")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "stdout")
}

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Comma separated keys are accepted from the environment.
	cfg.LLM.APIKeys = splitKeys(cfg.LLM.APIKeys)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the struct tags of cfg.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

func splitKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, part := range strings.Split(k, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
