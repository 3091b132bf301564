// Package config loads and validates the scanner configuration from
// YAML. Invalid configuration is fatal at startup; the engine never
// silently patches bad values at run time.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ExecutionConfig bounds the scan fan-out and pacing.
type ExecutionConfig struct {
	ParallelTargets   int  `yaml:"parallel_targets"`
	ParallelTemplates int  `yaml:"parallel_templates"`
	MaxRetries        int  `yaml:"max_retries"`
	RetryDelaySecs    int  `yaml:"retry_delay_secs"`
	StealthMode       bool `yaml:"stealth_mode"`
	AggressiveMode    bool `yaml:"aggressive_mode"`
	PassiveMode       bool `yaml:"passive_mode"`
	SafeMode          bool `yaml:"safe_mode"`
}

// NetworkConfig tunes the transport layer.
type NetworkConfig struct {
	TimeoutSecs        int    `yaml:"timeout_secs"`
	UserAgent          string `yaml:"user_agent"`
	FollowRedirects    bool   `yaml:"follow_redirects"`
	MaxRedirects       int    `yaml:"max_redirects"`
	Proxy              string `yaml:"proxy"`
	RateLimit          int    `yaml:"rate_limit"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// TemplatesConfig controls template loading and execution.
type TemplatesConfig struct {
	TimeoutSecs int      `yaml:"timeout_secs"`
	Paths       []string `yaml:"paths"`
}

// Config is the full scanner configuration.
type Config struct {
	Execution ExecutionConfig `yaml:"execution"`
	Network   NetworkConfig   `yaml:"network"`
	Templates TemplatesConfig `yaml:"templates"`
}

// Default returns the shipped defaults.
func Default() *Config {
	return &Config{
		Execution: ExecutionConfig{
			ParallelTargets:   10,
			ParallelTemplates: 50,
			MaxRetries:        1,
			RetryDelaySecs:    1,
		},
		Network: NetworkConfig{
			TimeoutSecs:        30,
			FollowRedirects:    true,
			MaxRedirects:       10,
			InsecureSkipVerify: true,
		},
		Templates: TemplatesConfig{
			TimeoutSecs: 30,
		},
	}
}

// Load reads a YAML config file over the defaults: absent keys keep
// their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Execution.ParallelTargets <= 0 {
		return fmt.Errorf("config: execution.parallel_targets must be positive, got %d", c.Execution.ParallelTargets)
	}
	if c.Execution.ParallelTemplates <= 0 {
		return fmt.Errorf("config: execution.parallel_templates must be positive, got %d", c.Execution.ParallelTemplates)
	}
	if c.Execution.MaxRetries < 0 {
		return fmt.Errorf("config: execution.max_retries must not be negative, got %d", c.Execution.MaxRetries)
	}
	if c.Network.TimeoutSecs <= 0 {
		return fmt.Errorf("config: network.timeout_secs must be positive, got %d", c.Network.TimeoutSecs)
	}
	if c.Network.RateLimit < 0 {
		return fmt.Errorf("config: network.rate_limit must not be negative, got %d", c.Network.RateLimit)
	}
	if c.Templates.TimeoutSecs <= 0 {
		return fmt.Errorf("config: templates.timeout_secs must be positive, got %d", c.Templates.TimeoutSecs)
	}
	if c.Execution.PassiveMode && c.Execution.AggressiveMode {
		return fmt.Errorf("config: passive_mode and aggressive_mode are mutually exclusive")
	}
	return nil
}

// NetworkTimeout returns the transport timeout as a duration.
func (c *Config) NetworkTimeout() time.Duration {
	return time.Duration(c.Network.TimeoutSecs) * time.Second
}

// TemplateTimeout returns the per-template budget as a duration.
func (c *Config) TemplateTimeout() time.Duration {
	return time.Duration(c.Templates.TimeoutSecs) * time.Second
}

// RetryDelay returns the backoff base as a duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Execution.RetryDelaySecs) * time.Second
}
