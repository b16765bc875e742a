package cmd

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/inference-sim/vmhost/host"
	"github.com/inference-sim/vmhost/host/trace"
)

// InstanceSpec is one program to boot at startup.
type InstanceSpec struct {
	Program string `yaml:"program"`
	URL     bool   `yaml:"url"` // Program is a boot URL rather than inline source
}

// HostConfig represents the --config YAML file.
// All top-level fields must be listed to satisfy KnownFields(true) strict parsing.
type HostConfig struct {
	PreemptIntervalMs int64          `yaml:"preempt_interval_ms"`
	LogLevel          string         `yaml:"log_level"`
	ExitOnLast        *bool          `yaml:"exit_on_last"`
	Spool             string         `yaml:"spool"`
	Metrics           bool           `yaml:"metrics"`
	Trace             string         `yaml:"trace"`
	Instances         []InstanceSpec `yaml:"instances"`
}

// loadHostConfig parses path with strict field checking: typos must cause errors.
func loadHostConfig(path string) (HostConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return HostConfig{}, fmt.Errorf("read host config: %w", err)
	}
	var cfg HostConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return HostConfig{}, fmt.Errorf("parse host config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return HostConfig{}, fmt.Errorf("host config %s: %w", path, err)
	}
	return cfg, nil
}

func (c HostConfig) validate() error {
	if c.PreemptIntervalMs < 0 {
		return fmt.Errorf("preempt_interval_ms must be >= 0, got %d", c.PreemptIntervalMs)
	}
	if !trace.IsValidTraceLevel(c.Trace) {
		return fmt.Errorf("unknown trace level %q", c.Trace)
	}
	for i, inst := range c.Instances {
		if inst.Program == "" {
			return fmt.Errorf("instances[%d]: program is empty", i)
		}
	}
	return nil
}

// hostConfig converts the file values into a host.Config; zero means default.
func (c HostConfig) hostConfig() host.Config {
	cfg := host.DefaultConfig()
	if c.PreemptIntervalMs > 0 {
		cfg.PreemptInterval = time.Duration(c.PreemptIntervalMs) * time.Millisecond
	}
	return cfg
}

// exitOnLast defaults to true when the file does not say otherwise.
func (c HostConfig) exitOnLast() bool {
	return c.ExitOnLast == nil || *c.ExitOnLast
}
