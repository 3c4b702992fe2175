package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing endpoint", func(c *Config) { c.Generation.Endpoint = "" }},
		{"missing provider", func(c *Config) { c.Generation.Provider = "" }},
		{"missing default model", func(c *Config) { c.Generation.Default = "" }},
		{"temperature out of range", func(c *Config) { c.Generation.Temperature = 1.5 }},
		{"missing nats url", func(c *Config) { c.NATS.URL = "" }},
		{"missing stream", func(c *Config) { c.Queue.Stream = "" }},
		{"zero max deliver", func(c *Config) { c.Queue.MaxDeliver = 0 }},
		{"zero workers", func(c *Config) { c.Queue.Workers = 0 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{}
	override.Generation.Default = "bigger-model"
	override.Generation.Models = map[string]string{"mockups": "vision-model"}
	override.Generation.Timeout = 10 * time.Minute
	override.NATS.URL = "nats://prod:4222"
	override.Queue.Workers = 4

	base.Merge(override)

	assert.Equal(t, "bigger-model", base.Generation.Default)
	assert.Equal(t, "vision-model", base.Generation.Models["mockups"])
	assert.Equal(t, 10*time.Minute, base.Generation.Timeout)
	assert.Equal(t, "nats://prod:4222", base.NATS.URL)
	assert.Equal(t, 4, base.Queue.Workers)

	// Unset fields keep their defaults.
	assert.Equal(t, "openai", base.Generation.Provider)
	assert.Equal(t, "DRAFTFORGE_JOBS", base.Queue.Stream)
}

func TestMergeNil(t *testing.T) {
	base := DefaultConfig()
	base.Merge(nil)
	require.NoError(t, base.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "draftforge.yaml")
	content := `
generation:
  default: local-model
  endpoint: http://localhost:8080/v1
  models:
    requirements: reasoning-model
queue:
  workers: 2
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "local-model", cfg.Generation.Default)
	assert.Equal(t, "http://localhost:8080/v1", cfg.Generation.Endpoint)
	assert.Equal(t, "reasoning-model", cfg.Generation.Models["requirements"])
	assert.Equal(t, 2, cfg.Queue.Workers)
	// Unspecified fields come from the defaults.
	assert.Equal(t, "openai", cfg.Generation.Provider)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	// Load distinguishes a missing user config from a broken one, so the
	// wrapped error must still match fs.ErrNotExist.
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := DefaultConfig()
	cfg.Generation.Default = "saved-model"
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "saved-model", loaded.Generation.Default)
}
