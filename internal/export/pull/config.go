package pull

import (
	"errors"
	"time"

	"github.com/ethpandaops/metricsbridge/internal/filter"
)

// Config configures the pull exporter.
type Config struct {
	// Enabled enables the pull exporter.
	Enabled bool `yaml:"enabled"`

	// Addr is the listen address. Use ":0" for an OS-assigned port.
	// Defaults to ":9100".
	Addr string `yaml:"addr"`

	// Workers is the number of scrape requests served concurrently.
	// Further requests queue for a free worker.
	// Defaults to 5.
	Workers int `yaml:"workers"`

	// IncludedPrefixes restricts exported series to names starting with
	// one of these prefixes. Empty means no restriction.
	IncludedPrefixes filter.List `yaml:"included_prefixes"`

	// ExcludedPrefixes drops series with names starting with one of these
	// prefixes. Empty means nothing is dropped.
	ExcludedPrefixes filter.List `yaml:"excluded_prefixes"`

	// ReadTimeout bounds reading a request.
	// Defaults to 60s.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds writing a response.
	// Defaults to 600s.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// BufferSize is the initial capacity of each worker's response buffer.
	// Defaults to 1MiB.
	BufferSize int `yaml:"buffer_size"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         ":9100",
		Workers:      5,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 600 * time.Second,
		BufferSize:   1 << 20,
	}
}

// ApplyDefaults applies default values to unset fields.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.Addr == "" {
		c.Addr = defaults.Addr
	}

	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}

	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaults.ReadTimeout
	}

	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaults.WriteTimeout
	}

	if c.BufferSize <= 0 {
		c.BufferSize = defaults.BufferSize
	}
}

// Validate validates the configuration. A disabled exporter is not checked.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	return c.validate()
}

// validate checks the settings regardless of Enabled.
func (c *Config) validate() error {
	if c.Addr == "" {
		return errors.New("pull addr is required")
	}

	if c.Workers <= 0 {
		return errors.New("workers must be greater than 0")
	}

	return nil
}
