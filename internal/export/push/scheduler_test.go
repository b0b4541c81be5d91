package push

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/metricsbridge/internal/export"
	"github.com/ethpandaops/metricsbridge/internal/filter"
	"github.com/ethpandaops/metricsbridge/internal/metric"
	"github.com/ethpandaops/metricsbridge/internal/snapshot"
)

func TestNextWake(t *testing.T) {
	t0 := time.Unix(1700000000, 0)

	tests := []struct {
		name        string
		now         time.Time
		interval    time.Duration
		wantNext    time.Time
		wantSkipped int64
	}{
		{
			name:     "fast cycle",
			now:      t0.Add(100 * time.Millisecond),
			interval: time.Second,
			wantNext: t0.Add(time.Second),
		},
		{
			name:     "now equals prev",
			now:      t0,
			interval: time.Second,
			wantNext: t0.Add(time.Second),
		},
		{
			name:        "clock jumped five ticks",
			now:         t0.Add(5 * time.Second),
			interval:    time.Second,
			wantNext:    t0.Add(6 * time.Second),
			wantSkipped: 5,
		},
		{
			name:        "between ticks after overrun",
			now:         t0.Add(5500 * time.Millisecond),
			interval:    time.Second,
			wantNext:    t0.Add(6 * time.Second),
			wantSkipped: 5,
		},
		{
			name:        "long interval",
			now:         t0.Add(61 * time.Second),
			interval:    time.Minute,
			wantNext:    t0.Add(2 * time.Minute),
			wantSkipped: 1,
		},
		{
			name:     "clock went backwards",
			now:      t0.Add(-time.Hour),
			interval: time.Second,
			wantNext: t0.Add(time.Second),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, skipped := nextWake(t0, tt.now, tt.interval)

			assert.Equal(t, tt.wantNext, next)
			assert.Equal(t, tt.wantSkipped, skipped)
			assert.True(t, next.After(tt.now))
		})
	}
}

func testRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()

	reg := prometheus.NewRegistry()

	for _, name := range []string{"app_requests", "app_debug_events", "jvm_threads", "app_secret"} {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: name})
		g.Set(1)
		reg.MustRegister(g)
	}

	return reg
}

func newTestScheduler(t *testing.T, cfg Config, provider snapshot.Provider, tel *export.Telemetry) *Scheduler {
	t.Helper()

	cfg.Enabled = true
	if cfg.Interval == 0 {
		cfg.Interval = time.Second
	}

	s, err := NewScheduler(testLog(), cfg, provider, tel)
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	return s
}

func TestScheduler_PushOnceAppliesFilter(t *testing.T) {
	c, srv := newCollector(t)

	s := newTestScheduler(t, Config{
		URL:              srv.URL,
		IncludedPrefixes: []string{"app_"},
		ExcludedPrefixes: []string{"app_debug_"},
		ExcludedNames:    []string{"app_secret"},
	}, snapshot.NewGatherer(testRegistry(t)), nil)

	require.NoError(t, s.PushOnce(context.Background()))

	records := c.records(t)
	require.Len(t, records, 1)
	assert.Equal(t, "app_requests", records[0]["metric"])
}

func TestScheduler_PushOnceSnapshotError(t *testing.T) {
	c, srv := newCollector(t)
	reg := prometheus.NewRegistry()
	tel := export.NewTelemetry(reg)

	provider := snapshot.Func(func(filter.Predicate) ([]metric.Family, error) {
		return nil, errors.New("collector panicked")
	})

	s := newTestScheduler(t, Config{URL: srv.URL}, provider, tel)

	err := s.PushOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collector panicked")
	assert.Equal(t, 0, c.count())
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.PushFailures.WithLabelValues(export.FailureSnapshot)))
}

func TestScheduler_SkipsMissedTicks(t *testing.T) {
	_, srv := newCollector(t)
	reg := prometheus.NewRegistry()
	tel := export.NewTelemetry(reg)

	t0 := time.Unix(1700000000, 0)
	clock := t0
	cycles := 0

	// The first cycle overruns by five intervals.
	provider := snapshot.Func(func(filter.Predicate) ([]metric.Family, error) {
		cycles++
		if cycles == 1 {
			clock = clock.Add(5 * time.Second)
		}

		return []metric.Family{{
			Name:    "up",
			Type:    metric.TypeGauge,
			Samples: []metric.Sample{{Name: "up", Value: 1}},
		}}, nil
	})

	s := newTestScheduler(t, Config{URL: srv.URL, Interval: time.Second}, provider, tel)
	s.now = func() time.Time { return clock }

	var waits []time.Duration

	s.wait = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		clock = clock.Add(d)

		if len(waits) == 3 {
			return context.Canceled
		}

		return nil
	}

	s.run(context.Background())

	assert.Equal(t, 3, cycles)
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, waits)
	assert.Equal(t, t0.Add(8*time.Second), clock)
	assert.Equal(t, 5.0, testutil.ToFloat64(tel.TicksSkipped))
	assert.Equal(t, 3.0, testutil.ToFloat64(tel.PushBatches))
}

func TestScheduler_FirstCycleImmediate(t *testing.T) {
	c, srv := newCollector(t)

	var calls atomic.Int32

	provider := snapshot.Func(func(filter.Predicate) ([]metric.Family, error) {
		calls.Add(1)

		return []metric.Family{{
			Name:    "up",
			Type:    metric.TypeGauge,
			Samples: []metric.Sample{{Name: "up", Value: 1}},
		}}, nil
	})

	s := newTestScheduler(t, Config{URL: srv.URL, Interval: time.Hour}, provider, nil)

	require.NoError(t, s.Start(context.Background()))
	require.Error(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		return c.count() == 1
	}, 5*time.Second, 10*time.Millisecond, "first push did not run immediately")

	// Stop interrupts the hour-long wait without another cycle.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, c.count())

	// Stopping twice is harmless.
	require.NoError(t, s.Stop(ctx))
}

func TestScheduler_CancelledParent(t *testing.T) {
	_, srv := newCollector(t)

	var calls atomic.Int32

	provider := snapshot.Func(func(filter.Predicate) ([]metric.Family, error) {
		calls.Add(1)

		return nil, nil
	})

	s := newTestScheduler(t, Config{URL: srv.URL}, provider, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.run(ctx)

	assert.Equal(t, int32(0), calls.Load())
}

func TestSleep(t *testing.T) {
	require.NoError(t, sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, sleep(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, sleep(ctx, 0), context.Canceled)
	assert.NoError(t, sleep(context.Background(), 0))
}

func TestNewScheduler_ValidatesWithoutEnabled(t *testing.T) {
	provider := snapshot.NewGatherer(prometheus.NewRegistry())

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "bad scheme",
			cfg:     Config{URL: "ftp://collector", Interval: time.Minute},
			wantErr: "must be http or https",
		},
		{
			name:    "sub-second interval",
			cfg:     Config{URL: "http://collector/v1/push", Interval: 200 * time.Millisecond},
			wantErr: "interval must be at least 1s",
		},
		{
			name:    "negative batch size",
			cfg:     Config{URL: "http://collector/v1/push", MaxBatchSize: -5},
			wantErr: "max_batch_size cannot be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.False(t, tt.cfg.Enabled)

			_, err := NewScheduler(testLog(), tt.cfg, provider, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			_, err = NewEncoder(testLog(), tt.cfg, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewScheduler_DisabledButValid(t *testing.T) {
	s, err := NewScheduler(testLog(), Config{URL: "http://collector/v1/push"}, snapshot.NewGatherer(prometheus.NewRegistry()), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(60), s.encoder.step)

	require.NoError(t, s.Stop(context.Background()))
}
