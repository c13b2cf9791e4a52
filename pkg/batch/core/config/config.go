// Package config holds the application configuration and its loader.
package config

import (
	"time"

	dbconfig "github.com/tigerroll/parabatch/pkg/batch/adapter/database/config"
)

// EmbeddedConfig holds the default configuration compiled into the binary.
type EmbeddedConfig []byte

// RetryConfig configures chunk write retries.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" validate:"gte=1"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
}

// SkipConfig holds per-kind skip limits. Zero means no item may be skipped.
type SkipConfig struct {
	ReadLimit    int64 `yaml:"read_limit" validate:"gte=0"`
	ProcessLimit int64 `yaml:"process_limit" validate:"gte=0"`
}

// StepConfig overrides the batch defaults for one step. Zero values inherit.
type StepConfig struct {
	ChunkSize int   `yaml:"chunk_size" validate:"gte=0"`
	Workers   int   `yaml:"workers" validate:"gte=0"`
	FailFast  *bool `yaml:"fail_fast"`
}

// BatchConfig holds the chunk processing defaults.
type BatchConfig struct {
	ChunkSize int                   `yaml:"chunk_size" validate:"gt=0"`
	Workers   int                   `yaml:"workers" validate:"gte=1"`
	FailFast  bool                  `yaml:"fail_fast"`
	Retry     RetryConfig           `yaml:"retry"`
	Skip      SkipConfig            `yaml:"skip"`
	Steps     map[string]StepConfig `yaml:"steps" validate:"dive"`
}

// ForStep returns the batch settings with the overrides for stepName applied.
func (b BatchConfig) ForStep(stepName string) BatchConfig {
	out := b
	out.Steps = nil
	o, ok := b.Steps[stepName]
	if !ok {
		return out
	}
	if o.ChunkSize > 0 {
		out.ChunkSize = o.ChunkSize
	}
	if o.Workers > 0 {
		out.Workers = o.Workers
	}
	if o.FailFast != nil {
		out.FailFast = *o.FailFast
	}
	return out
}

type RepositoryConfig struct {
	// Type selects the metadata store: "inmemory" or "sql".
	Type string `yaml:"type" validate:"oneof=inmemory sql"`
	// AutoMigrate applies the metadata and application migrations before a run.
	AutoMigrate bool `yaml:"auto_migrate"`
}

type MetricsConfig struct {
	Exporter     string        `yaml:"exporter" validate:"oneof=none prometheus otlp-grpc otlp-http"`
	TextfilePath string        `yaml:"textfile_path"`
	Endpoint     string        `yaml:"endpoint"`
	Insecure     bool          `yaml:"insecure"`
	Interval     time.Duration `yaml:"interval"`
}

type TracingConfig struct {
	Exporter string `yaml:"exporter" validate:"oneof=none otlp-grpc otlp-http"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

type StorageConfig struct {
	GCSCredentialsFile string `yaml:"gcs_credentials_file"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Config is the root of the application configuration.
type Config struct {
	ServiceName string                  `yaml:"service_name"`
	Batch       BatchConfig             `yaml:"batch"`
	Database    dbconfig.DatabaseConfig `yaml:"database"`
	Repository  RepositoryConfig        `yaml:"repository"`
	Metrics     MetricsConfig           `yaml:"metrics"`
	Tracing     TracingConfig           `yaml:"tracing"`
	Storage     StorageConfig           `yaml:"storage"`
	Logging     LoggingConfig           `yaml:"logging"`
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	return &Config{
		ServiceName: "parabatch",
		Batch: BatchConfig{
			ChunkSize: 100,
			Workers:   8,
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: 100 * time.Millisecond,
				MaxInterval:     2 * time.Second,
				Multiplier:      2,
			},
		},
		Database: dbconfig.DatabaseConfig{
			Type:     "sqlite",
			Path:     "parabatch.db",
			LogLevel: "SILENT",
		},
		Repository: RepositoryConfig{Type: "sql", AutoMigrate: true},
		Metrics:    MetricsConfig{Exporter: "none", Interval: 10 * time.Second},
		Tracing:    TracingConfig{Exporter: "none"},
		Logging:    LoggingConfig{Level: "INFO", Format: "text"},
	}
}
