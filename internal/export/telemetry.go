// Package export holds what the pull and push exporters share: the
// telemetry they report about their own work.
package export

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Skip reasons for samples left out of a push batch.
const (
	SkipLabelMismatch = "label_mismatch"
	SkipNonFinite     = "non_finite"
)

// Push failure reasons.
const (
	FailureTransport = "transport"
	FailureStatus    = "status"
	FailureResponse  = "response"
	FailureEncode    = "encode"
	FailureSnapshot  = "snapshot"
)

// Telemetry exposes Prometheus metrics about the exporters themselves.
// Samples the push path drops on purpose are only visible here.
type Telemetry struct {
	// Pull path
	PullRequests *prometheus.CounterVec // path, code
	PullDuration prometheus.Histogram
	PullSlotWait prometheus.Histogram
	PullInFlight prometheus.Gauge

	// Push path
	PushBatches    prometheus.Counter
	PushFailures   *prometheus.CounterVec // reason
	PushSamples    prometheus.Counter
	PushBytes      prometheus.Counter
	PushDuration   prometheus.Histogram
	SamplesSkipped *prometheus.CounterVec // reason
	TicksSkipped   prometheus.Counter
}

// NewTelemetry creates the exporter metrics and registers them with reg.
func NewTelemetry(reg prometheus.Registerer) *Telemetry {
	t := &Telemetry{
		PullRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "metricsbridge",
				Name:      "pull_requests_total",
				Help:      "Total scrape requests served by path and status code.",
			},
			[]string{"path", "code"},
		),
		PullDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "metricsbridge",
			Name:      "pull_request_duration_seconds",
			Help:      "Time to serve a scrape request.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}, // 1ms-5s
		}),
		PullSlotWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "metricsbridge",
			Name:      "pull_worker_wait_seconds",
			Help:      "Time a scrape request queued for a free worker.",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 1}, // 100us-1s
		}),
		PullInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "metricsbridge",
			Name:      "pull_requests_in_flight",
			Help:      "Scrape requests currently holding a worker.",
		}),
		PushBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "metricsbridge",
			Name:      "push_batches_total",
			Help:      "Total batches handed to the push endpoint.",
		}),
		PushFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "metricsbridge",
				Name:      "push_failures_total",
				Help:      "Total dropped push batches by reason.",
			},
			[]string{"reason"},
		),
		PushSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "metricsbridge",
			Name:      "push_samples_total",
			Help:      "Total samples encoded into push batches.",
		}),
		PushBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "metricsbridge",
			Name:      "push_bytes_total",
			Help:      "Total push body bytes before compression.",
		}),
		PushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "metricsbridge",
			Name:      "push_duration_seconds",
			Help:      "Time to deliver one push batch.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10}, // 10ms-10s
		}),
		SamplesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "metricsbridge",
				Name:      "push_samples_skipped_total",
				Help:      "Total samples left out of push batches by reason.",
			},
			[]string{"reason"},
		),
		TicksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "metricsbridge",
			Name:      "push_ticks_skipped_total",
			Help:      "Total push ticks skipped because a cycle overran its interval.",
		}),
	}

	reg.MustRegister(
		t.PullRequests,
		t.PullDuration,
		t.PullSlotWait,
		t.PullInFlight,
	)

	reg.MustRegister(
		t.PushBatches,
		t.PushFailures,
		t.PushSamples,
		t.PushBytes,
		t.PushDuration,
		t.SamplesSkipped,
		t.TicksSkipped,
	)

	return t
}
