package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
max_attempt_times: 5
csv_chunk_size: 1000
data_path: /tmp/harvest
redis_url: localhost:6379
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.MaxAttemptTimes)
	assert.Equal(t, 1000, cfg.CSVChunkSize)
	assert.Equal(t, "/tmp/harvest", cfg.DataPath)
	assert.Equal(t, "localhost:6379", cfg.RedisURL)

	// Unset keys keep their defaults.
	assert.Equal(t, Default().GlobalThreads, cfg.GlobalThreads)
	assert.Equal(t, Default().AllowMaxMissingTimestamps, cfg.AllowMaxMissingTimestamps)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "max_attempt_times: [not an int")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "zero attempts", mutate: func(c *Config) { c.MaxAttemptTimes = 0 }},
		{name: "zero ratio", mutate: func(c *Config) { c.LocalThreadsRatio = 0 }},
		{name: "zero threads", mutate: func(c *Config) { c.GlobalThreads = 0 }},
		{name: "zero chunk size", mutate: func(c *Config) { c.CSVChunkSize = 0 }},
		{name: "negative missing ceiling", mutate: func(c *Config) { c.AllowMaxMissingTimestamps = -1 }},
		{name: "empty data path", mutate: func(c *Config) { c.DataPath = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	valid := Default()
	assert.NoError(t, valid.Validate())
}
