package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the configuration file at the root of every participating
// repository.
const FileName = "accord.yml"

// Config represents the top-level accord.yml configuration.
type Config struct {
	Version      string        `yaml:"version"`
	Owner        string        `yaml:"owner"`        // This repository's owner identity
	Hub          string        `yaml:"hub"`          // Path to the hub clone (absolute, or relative to the repo root)
	Orchestrator string        `yaml:"orchestrator"` // Owner whose inbox receives escalations
	Daemon       *DaemonConfig `yaml:"daemon,omitempty"`
}

// DaemonConfig specifies dispatch daemon behaviour.
type DaemonConfig struct {
	Interval      Duration `yaml:"interval,omitempty"`       // Poll interval between ticks (default 30s)
	WorkerTimeout Duration `yaml:"worker_timeout,omitempty"` // Wall-clock bound on one worker invocation (default 5m)
	RetryBound    int      `yaml:"retry_bound,omitempty"`    // Worker failures before a request goes failed (default 3)
	Command       []string `yaml:"command"`                  // Worker command array, e.g. ["./scripts/worker.sh"]
}

// Duration is a time.Duration that decodes from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}

	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}

	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Defaults applied when the daemon section omits a value.
const (
	DefaultInterval      = 30 * time.Second
	DefaultWorkerTimeout = 5 * time.Minute
	DefaultRetryBound    = 3
)

// Load reads and validates accord.yml from the given repository root.
func Load(repoRoot string) (*Config, error) {
	path := filepath.Join(repoRoot, FileName)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Validate performs strict validation on the configuration.
// All errors are detected before any resources are touched.
func (c *Config) Validate() error {
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Owner == "" {
		return fmt.Errorf("owner is required")
	}

	if c.Hub == "" {
		return fmt.Errorf("hub path is required")
	}

	if c.Orchestrator == "" {
		return fmt.Errorf("orchestrator owner is required (escalations need a destination)")
	}

	if c.Daemon != nil {
		if err := c.Daemon.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// Validate checks the daemon section.
func (d *DaemonConfig) Validate() error {
	if d.Interval < 0 {
		return fmt.Errorf("daemon interval cannot be negative")
	}

	if d.WorkerTimeout < 0 {
		return fmt.Errorf("daemon worker_timeout cannot be negative")
	}

	if d.RetryBound < 0 {
		return fmt.Errorf("daemon retry_bound cannot be negative")
	}

	if len(d.Command) == 0 {
		return fmt.Errorf("daemon command is required (must be a non-empty array)")
	}

	return nil
}

// applyDefaults fills unset daemon values.
func (c *Config) applyDefaults() {
	if c.Daemon == nil {
		return
	}
	if c.Daemon.Interval == 0 {
		c.Daemon.Interval = Duration(DefaultInterval)
	}
	if c.Daemon.WorkerTimeout == 0 {
		c.Daemon.WorkerTimeout = Duration(DefaultWorkerTimeout)
	}
	if c.Daemon.RetryBound == 0 {
		c.Daemon.RetryBound = DefaultRetryBound
	}
}

// HubRoot resolves the hub clone path against the repository root.
func (c *Config) HubRoot(repoRoot string) string {
	if filepath.IsAbs(c.Hub) {
		return c.Hub
	}
	return filepath.Join(repoRoot, c.Hub)
}
