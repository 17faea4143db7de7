// Package config defines process configuration and its loading order:
// defaults, then an optional YAML file, then ETL_-prefixed environment
// variables.
package config

import (
	"time"
)

// StorageConfig selects and parameterizes the relational backend.
type StorageConfig struct {
	// Kind names a registered backend: sqlite, postgres, mssql, memory.
	Kind string `koanf:"kind"`

	// DSN is backend-specific: a file path or :memory: for sqlite, a
	// connection URL for postgres and mssql.
	DSN string `koanf:"dsn"`
}

// ValidationConfig bounds the accepted age range, inclusive.
type ValidationConfig struct {
	AgeMin int `koanf:"age_min"`
	AgeMax int `koanf:"age_max"`
}

// MetricsConfig selects the metrics backend.
type MetricsConfig struct {
	// Backend is one of: none, pushgateway, datadog.
	Backend string `koanf:"backend"`

	// PushgatewayURL is required when Backend is pushgateway.
	PushgatewayURL string `koanf:"pushgateway_url"`

	// FlushEvery is the background flush interval for buffered backends.
	FlushEvery time.Duration `koanf:"flush_every"`

	// Tags are extra key:value pairs attached to every series,
	// comma-separated (for example "env:prod,team:data").
	Tags string `koanf:"tags"`
}

// Config is the full process configuration.
type Config struct {
	// Job names this pipeline instance in logs and metrics.
	Job string `koanf:"job"`

	// InputDir is scanned for *.csv source files.
	InputDir string `koanf:"input_dir"`

	// RejectedDir receives one rejected_<source> CSV per source file.
	RejectedDir string `koanf:"rejected_dir"`

	Storage    StorageConfig    `koanf:"storage"`
	Validation ValidationConfig `koanf:"validation"`
	Metrics    MetricsConfig    `koanf:"metrics"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Job:         "personetl",
		InputDir:    "data",
		RejectedDir: "rejected",
		Storage: StorageConfig{
			Kind: "sqlite",
			DSN:  "etl.db",
		},
		Validation: ValidationConfig{
			AgeMin: 0,
			AgeMax: 130,
		},
		Metrics: MetricsConfig{
			Backend:    "none",
			FlushEvery: 15 * time.Second,
		},
	}
}
