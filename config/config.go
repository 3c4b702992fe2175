// Package config provides configuration loading and management for
// Draftforge.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Draftforge configuration
type Config struct {
	Generation GenerationConfig `yaml:"generation"`
	NATS       NATSConfig       `yaml:"nats"`
	Queue      QueueConfig      `yaml:"queue"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// GenerationConfig configures the generative-service client
type GenerationConfig struct {
	// Endpoint is the OpenAI-compatible API base URL
	Endpoint string `yaml:"endpoint"`
	// Provider selects the registered provider ("openai")
	Provider string `yaml:"provider"`
	// Default is the model used when a stage has no override
	Default string `yaml:"default"`
	// Models maps a stage name to a model override
	Models map[string]string `yaml:"models"`
	// Temperature controls randomness (0.0-1.0)
	Temperature float64 `yaml:"temperature"`
	// MaxTokens caps the response length (0 = provider default)
	MaxTokens int `yaml:"max_tokens"`
	// Timeout is the maximum time to wait for one model response
	Timeout time.Duration `yaml:"timeout"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL
	URL string `yaml:"url"`
}

// QueueConfig configures the job stream and worker consumer
type QueueConfig struct {
	Stream        string        `yaml:"stream"`
	Consumer      string        `yaml:"consumer"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	MaxDeliver    int           `yaml:"max_deliver"`
	AckWait       time.Duration `yaml:"ack_wait"`
	Workers       int           `yaml:"workers"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	// Listen is the address /metrics is served on (empty = disabled)
	Listen string `yaml:"listen"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Generation: GenerationConfig{
			Endpoint:    "https://api.openai.com/v1",
			Provider:    "openai",
			Default:     "gpt-4o-mini",
			Temperature: 0.2,
			Timeout:     3 * time.Minute,
		},
		NATS: NATSConfig{
			URL: "nats://localhost:4222",
		},
		Queue: QueueConfig{
			Stream:        "DRAFTFORGE_JOBS",
			Consumer:      "draftforge-worker",
			SubjectPrefix: "draftforge.jobs",
			MaxDeliver:    5,
			AckWait:       15 * time.Minute,
			Workers:       1,
		},
		Metrics: MetricsConfig{
			Listen: ":9090",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Generation.Endpoint == "" {
		return fmt.Errorf("generation.endpoint is required")
	}
	if c.Generation.Provider == "" {
		return fmt.Errorf("generation.provider is required")
	}
	if c.Generation.Default == "" {
		return fmt.Errorf("generation.default is required")
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 1 {
		return fmt.Errorf("generation.temperature must be between 0 and 1")
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	if c.Queue.Stream == "" || c.Queue.SubjectPrefix == "" {
		return fmt.Errorf("queue.stream and queue.subject_prefix are required")
	}
	if c.Queue.MaxDeliver < 1 {
		return fmt.Errorf("queue.max_deliver must be at least 1")
	}
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be at least 1")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for
// non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Generation
	if other.Generation.Endpoint != "" {
		c.Generation.Endpoint = other.Generation.Endpoint
	}
	if other.Generation.Provider != "" {
		c.Generation.Provider = other.Generation.Provider
	}
	if other.Generation.Default != "" {
		c.Generation.Default = other.Generation.Default
	}
	if len(other.Generation.Models) > 0 {
		if c.Generation.Models == nil {
			c.Generation.Models = make(map[string]string)
		}
		for stage, model := range other.Generation.Models {
			c.Generation.Models[stage] = model
		}
	}
	if other.Generation.Temperature != 0 {
		c.Generation.Temperature = other.Generation.Temperature
	}
	if other.Generation.MaxTokens != 0 {
		c.Generation.MaxTokens = other.Generation.MaxTokens
	}
	if other.Generation.Timeout != 0 {
		c.Generation.Timeout = other.Generation.Timeout
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}

	// Queue
	if other.Queue.Stream != "" {
		c.Queue.Stream = other.Queue.Stream
	}
	if other.Queue.Consumer != "" {
		c.Queue.Consumer = other.Queue.Consumer
	}
	if other.Queue.SubjectPrefix != "" {
		c.Queue.SubjectPrefix = other.Queue.SubjectPrefix
	}
	if other.Queue.MaxDeliver != 0 {
		c.Queue.MaxDeliver = other.Queue.MaxDeliver
	}
	if other.Queue.AckWait != 0 {
		c.Queue.AckWait = other.Queue.AckWait
	}
	if other.Queue.Workers != 0 {
		c.Queue.Workers = other.Queue.Workers
	}

	// Metrics
	if other.Metrics.Listen != "" {
		c.Metrics.Listen = other.Metrics.Listen
	}
}
