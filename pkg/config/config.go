// Package config loads the harvester configuration from a YAML file,
// applying defaults and validating every consumed key. The configuration is
// constructed once at process start and passed by handle into each
// component's constructor; there is no process-wide mutable state.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when the configuration file does not exist.
var ErrNotFound = errors.New("configuration file not found")

// Config holds every key consumed by the harvester.
type Config struct {
	// MaxAttemptTimes is the retry bound shared by the planner probe loop
	// and the fetch engine.
	MaxAttemptTimes int `yaml:"max_attempt_times"`

	// LocalThreadsRatio divides the thread budget to size the local
	// classification pool.
	LocalThreadsRatio int `yaml:"local_threads_ratio"`

	// GlobalThreads is the default thread budget per harvest job.
	GlobalThreads int `yaml:"global_threads"`

	// CSVChunkSize is the maximum row count per output chunk file.
	CSVChunkSize int `yaml:"csv_chunk_size"`

	// AllowMaxMissingTimestamps is the gap-count ceiling for gap fill.
	AllowMaxMissingTimestamps int `yaml:"allow_max_missing_timestamps"`

	// DefaultSinceTime is the epoch-ms start used when a job gives none.
	DefaultSinceTime int64 `yaml:"default_since_time"`

	// DataPath is the output root directory.
	DataPath string `yaml:"data_path"`

	// LogLevel is the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// RedisURL enables the page cache when non-empty (host:port).
	RedisURL string `yaml:"redis_url"`

	// CacheTTL is the page cache entry lifetime.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		MaxAttemptTimes:           3,
		LocalThreadsRatio:         4,
		GlobalThreads:             8,
		CSVChunkSize:              50000,
		AllowMaxMissingTimestamps: 1000,
		DefaultSinceTime:          1262304000000, // 2010-01-01 00:00:00 UTC
		DataPath:                  "data",
		LogLevel:                  "info",
		CacheTTL:                  24 * time.Hour,
	}
}

// Load reads and validates a YAML configuration file. Keys not present in
// the file keep their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read configuration: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse configuration %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every consumed key for a usable value.
func (c *Config) Validate() error {
	if c.MaxAttemptTimes < 1 {
		return fmt.Errorf("max_attempt_times must be at least 1, got %d", c.MaxAttemptTimes)
	}
	if c.LocalThreadsRatio < 1 {
		return fmt.Errorf("local_threads_ratio must be at least 1, got %d", c.LocalThreadsRatio)
	}
	if c.GlobalThreads < 1 {
		return fmt.Errorf("global_threads must be at least 1, got %d", c.GlobalThreads)
	}
	if c.CSVChunkSize < 1 {
		return fmt.Errorf("csv_chunk_size must be at least 1, got %d", c.CSVChunkSize)
	}
	if c.AllowMaxMissingTimestamps < 0 {
		return fmt.Errorf("allow_max_missing_timestamps must not be negative, got %d", c.AllowMaxMissingTimestamps)
	}
	if c.DataPath == "" {
		return errors.New("data_path must not be empty")
	}
	return nil
}
