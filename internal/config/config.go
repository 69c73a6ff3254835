// Package config loads Relay's YAML configuration, following the
// defaulting/validation shape of cellorg/internal/config.Load: read the
// file, unmarshal with gopkg.in/yaml.v3, fill in defaults for anything
// left zero, then validate.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Relay configuration document.
type Config struct {
	Relay    RelayConfig    `yaml:"relay"`
	Storage  StorageConfig  `yaml:"storage"`
	Trace    TraceConfig    `yaml:"trace"`
	Delivery DeliveryConfig `yaml:"delivery"`
	HTTP     HTTPConfig     `yaml:"http"`
	Debug    bool           `yaml:"debug"`
}

// RelayConfig is the kernel's own feature gate.
type RelayConfig struct {
	Enabled bool `yaml:"enabled"`
}

// StorageConfig controls the embedded badger database.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// TraceConfig controls the trace store's span retention.
type TraceConfig struct {
	RetentionDays int `yaml:"retention_days"`
}

// DeliveryConfig controls the delivery engine's worker pool and
// subscription-bus handler budget.
type DeliveryConfig struct {
	HandlerBudgetMs int `yaml:"handler_budget_ms"`
	Workers         int `yaml:"workers"`
	QueueSize       int `yaml:"queue_size"`
}

// HTTPConfig controls the HTTP/SSE edge.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a Config populated entirely with defaults, the same
// values Load falls back to for any field left unset in the file.
func Default() *Config {
	return &Config{
		Relay:    RelayConfig{Enabled: true},
		Storage:  StorageConfig{Path: "./data/relay"},
		Trace:    TraceConfig{RetentionDays: 7},
		Delivery: DeliveryConfig{HandlerBudgetMs: 250, Workers: 4, QueueSize: 256},
		HTTP:     HTTPConfig{Addr: ":8080"},
	}
}

// Load reads and parses a YAML config file, applying defaults for any
// field left zero and validating the result.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse file: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(c *Config) {
	if c.Storage.Path == "" {
		c.Storage.Path = "./data/relay"
	}
	if c.Trace.RetentionDays == 0 {
		c.Trace.RetentionDays = 7
	}
	if c.Delivery.HandlerBudgetMs == 0 {
		c.Delivery.HandlerBudgetMs = 250
	}
	if c.Delivery.Workers == 0 {
		c.Delivery.Workers = 4
	}
	if c.Delivery.QueueSize == 0 {
		c.Delivery.QueueSize = 256
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
}

func validate(c *Config) error {
	if c.Trace.RetentionDays < 0 {
		return fmt.Errorf("config: trace.retention_days cannot be negative: %d", c.Trace.RetentionDays)
	}
	if c.Delivery.HandlerBudgetMs < 0 {
		return fmt.Errorf("config: delivery.handler_budget_ms cannot be negative: %d", c.Delivery.HandlerBudgetMs)
	}
	if c.Delivery.Workers < 0 {
		return fmt.Errorf("config: delivery.workers cannot be negative: %d", c.Delivery.Workers)
	}
	if c.Delivery.QueueSize < 0 {
		return fmt.Errorf("config: delivery.queue_size cannot be negative: %d", c.Delivery.QueueSize)
	}
	return nil
}
