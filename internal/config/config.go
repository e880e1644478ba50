package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue" validate:"required"`
	Storage  StorageConfig  `mapstructure:"storage" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" validate:"required,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=1"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	// APIKeys are the credentials workers may use. Tasks reference them by
	// hash only; a task whose hash is not configured fails with AI_CONFIG_MISSING.
	APIKeys           []string      `mapstructure:"api_keys" validate:"required,min=1,dive,required"`
	ModelName         string        `mapstructure:"model_name" validate:"required"`
	MaxRetries        int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	RetryDelaySeconds int           `mapstructure:"retry_delay_seconds" validate:"gte=1"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
}

// QueueConfig tunes the review queue and execution engine.
type QueueConfig struct {
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" validate:"gt=0"`
	StrandedAfter     time.Duration `mapstructure:"stranded_after" validate:"gt=0"`
	DefaultPriority   int           `mapstructure:"default_priority"`
	LargeFanOut       int           `mapstructure:"large_fan_out" validate:"gte=1,lte=64"`
	ChunkTokenLimit   int           `mapstructure:"chunk_token_limit" validate:"gte=256"`
	MaxImagesPerCall  int           `mapstructure:"max_images_per_call" validate:"gte=1"`
}

// StorageConfig configures the blob store for uploads and document caches.
type StorageConfig struct {
	RootDir string `mapstructure:"root_dir" validate:"required"`
}

// RedisConfig enables the cross-process worker lease. Empty URL disables it.
type RedisConfig struct {
	URL            string        `mapstructure:"url" validate:"omitempty,url"`
	LockTTL        time.Duration `mapstructure:"lock_ttl" validate:"gte=0"`
	KeyspacePrefix string        `mapstructure:"keyspace_prefix"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Exporter string `mapstructure:"exporter" validate:"omitempty,oneof=stdout"`
}
