package push

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/ethpandaops/metricsbridge/internal/filter"
)

// Config configures the push exporter.
type Config struct {
	// Enabled enables the push exporter.
	Enabled bool `yaml:"enabled"`

	// URL is the collector endpoint batches are POSTed to.
	// Defaults to http://localhost:2080/v1/push.
	URL string `yaml:"url"`

	// Interval is the time between pushes. It is also reported to the
	// collector as the step of every record, in whole seconds.
	// Defaults to 60s.
	Interval time.Duration `yaml:"interval"`

	// Nid identifies the receiving tenant on the collector.
	// Defaults to "1".
	Nid string `yaml:"nid"`

	// Tags are static tags prepended to the tags of every labelled record.
	Tags map[string]string `yaml:"tags"`

	// MaxBatchSize flushes a batch as soon as it holds this many records.
	// 0 flushes once per interval only.
	MaxBatchSize int `yaml:"max_batch_size"`

	// Timeout bounds each POST.
	// Defaults to 10s.
	Timeout time.Duration `yaml:"timeout"`

	// Compression specifies the request body compression algorithm.
	// Valid values: none, gzip, zstd, zlib, snappy.
	// Defaults to none.
	Compression string `yaml:"compression"`

	// Headers are additional HTTP headers to include in requests.
	Headers map[string]string `yaml:"headers"`

	// IncludedPrefixes restricts pushed series to names starting with one
	// of these prefixes. Empty means no restriction.
	IncludedPrefixes filter.List `yaml:"included_prefixes"`

	// ExcludedPrefixes drops series with names starting with one of these
	// prefixes.
	ExcludedPrefixes filter.List `yaml:"excluded_prefixes"`

	// ExcludedNames drops series with exactly these names.
	ExcludedNames filter.List `yaml:"excluded_names"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:         "http://localhost:2080/v1/push",
		Interval:    60 * time.Second,
		Nid:         "1",
		Timeout:     10 * time.Second,
		Compression: CompressionNone,
	}
}

// ApplyDefaults applies default values to unset fields.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.URL == "" {
		c.URL = defaults.URL
	}

	if c.Interval <= 0 {
		c.Interval = defaults.Interval
	}

	if c.Nid == "" {
		c.Nid = defaults.Nid
	}

	if c.Timeout <= 0 {
		c.Timeout = defaults.Timeout
	}

	if c.Compression == "" {
		c.Compression = defaults.Compression
	}
}

// Validate validates the configuration. A disabled exporter is not checked.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	return c.validate()
}

// validate checks the settings regardless of Enabled. Constructors use it
// so programmatic configs without Enabled are still rejected.
func (c *Config) validate() error {
	if c.URL == "" {
		return errors.New("push url is required")
	}

	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid push url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("push url must be http or https, got %q", u.Scheme)
	}

	if c.Interval < time.Second {
		return errors.New("interval must be at least 1s")
	}

	if c.MaxBatchSize < 0 {
		return errors.New("max_batch_size cannot be negative")
	}

	switch c.Compression {
	case "", CompressionNone, CompressionGzip, CompressionZstd,
		CompressionZlib, CompressionSnappy:
		// Valid.
	default:
		return errors.New("invalid compression type: " + c.Compression)
	}

	return nil
}

// Step returns the interval in whole seconds as reported on the wire.
func (c *Config) Step() int64 {
	return int64(c.Interval / time.Second)
}
