package export

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTelemetry_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	tel := NewTelemetry(reg)

	tel.PushBatches.Inc()
	tel.SamplesSkipped.WithLabelValues(SkipLabelMismatch).Add(2)
	tel.PullRequests.WithLabelValues("/metrics", "200").Inc()

	mfs, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(mfs))
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}

	assert.True(t, names["metricsbridge_push_batches_total"])
	assert.True(t, names["metricsbridge_push_samples_skipped_total"])
	assert.True(t, names["metricsbridge_pull_requests_total"])

	assert.Equal(t, 2.0, testutil.ToFloat64(tel.SamplesSkipped.WithLabelValues(SkipLabelMismatch)))
}

func TestNewTelemetry_DoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewTelemetry(reg)

	assert.Panics(t, func() { NewTelemetry(reg) })
}
