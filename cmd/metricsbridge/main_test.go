package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/metricsbridge/internal/agent"
)

func TestStartupFields(t *testing.T) {
	cfgFile = "/etc/metricsbridge.yaml"
	t.Cleanup(func() { cfgFile = "" })

	t.Run("pull only", func(t *testing.T) {
		cfg := agent.DefaultConfig()
		cfg.Pull.Addr = ":9200"
		cfg.ApplyDefaults()

		fields := startupFields(cfg)

		assert.Equal(t, ":9200", fields["pull_addr"])
		assert.Equal(t, "/etc/metricsbridge.yaml", fields["config"])
		assert.NotContains(t, fields, "push_url")
	})

	t.Run("push enabled", func(t *testing.T) {
		cfg := agent.DefaultConfig()
		cfg.Pull.Enabled = false
		cfg.Push.Enabled = true
		cfg.Push.URL = "http://collector:2080/v1/push"
		cfg.Push.Interval = 30 * time.Second
		cfg.ApplyDefaults()

		fields := startupFields(cfg)

		assert.Equal(t, "http://collector:2080/v1/push", fields["push_url"])
		assert.Equal(t, "30s", fields["push_interval"])
		assert.NotContains(t, fields, "pull_addr")
	})
}

func TestRootCmd_Flags(t *testing.T) {
	cmd := rootCmd()

	for _, name := range []string{"config", "log-level", "pull-addr"} {
		require.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}
