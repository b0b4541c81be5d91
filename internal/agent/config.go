package agent

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/metricsbridge/internal/export/pull"
	"github.com/ethpandaops/metricsbridge/internal/export/push"
)

// podNameEnv names the environment variable holding the pod name, used as
// the pid tag when set.
const podNameEnv = "MY_POD_NAME"

// Config is the top-level configuration for the metricsbridge agent.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// Pull configures the scrape endpoint.
	Pull pull.Config `yaml:"pull"`

	// Push configures periodic pushes to a collector.
	Push push.Config `yaml:"push"`

	// GlobalTags are added to every labelled pushed record.
	GlobalTags GlobalTags `yaml:"global_tags"`

	// Collectors toggles the built-in runtime collectors.
	Collectors CollectorsConfig `yaml:"collectors"`

	// ShutdownTimeout bounds how long Stop waits for in-flight work.
	// Defaults to 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// GlobalTags identifies the process to the collector.
type GlobalTags struct {
	BU      string            `yaml:"bu"`
	Project string            `yaml:"project"`
	App     string            `yaml:"app"`
	Extra   map[string]string `yaml:"extra"`
}

// CollectorsConfig toggles the collectors registered next to the exporter
// telemetry.
type CollectorsConfig struct {
	Go      bool `yaml:"go"`
	Process bool `yaml:"process"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	pullCfg := pull.DefaultConfig()
	pullCfg.Enabled = true

	return &Config{
		LogLevel:        "info",
		Pull:            pullCfg,
		Push:            push.DefaultConfig(),
		ShutdownTimeout: 10 * time.Second,
		Collectors: CollectorsConfig{
			Go:      true,
			Process: true,
		},
	}
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// ApplyDefaults applies default values to unset fields.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}

	c.Pull.ApplyDefaults()
	c.Push.ApplyDefaults()
}

// Validate checks the configuration for required fields and consistency.
func (c *Config) Validate() error {
	if !c.Pull.Enabled && !c.Push.Enabled {
		return errors.New("at least one of pull.enabled or push.enabled is required")
	}

	if err := c.Pull.Validate(); err != nil {
		return fmt.Errorf("pull: %w", err)
	}

	if err := c.Push.Validate(); err != nil {
		return fmt.Errorf("push: %w", err)
	}

	return nil
}

// Resolve returns the tag map sent with pushes: extra tags, then bu,
// project and app when set, then pid from the pod name or
// "<pid>@<hostname>".
func (g GlobalTags) Resolve() map[string]string {
	return g.resolve(os.LookupEnv, os.Hostname, os.Getpid())
}

func (g GlobalTags) resolve(
	lookupEnv func(string) (string, bool),
	hostname func() (string, error),
	pid int,
) map[string]string {
	tags := make(map[string]string, len(g.Extra)+4)

	for k, v := range g.Extra {
		tags[k] = v
	}

	for k, v := range map[string]string{"bu": g.BU, "project": g.Project, "app": g.App} {
		if v != "" {
			tags[k] = v
		}
	}

	if pod, ok := lookupEnv(podNameEnv); ok && pod != "" {
		tags["pid"] = pod
	} else {
		host, err := hostname()
		if err != nil || host == "" {
			host = "localhost"
		}

		tags["pid"] = fmt.Sprintf("%d@%s", pid, host)
	}

	return tags
}
