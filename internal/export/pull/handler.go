// Package pull serves the current metric snapshot over HTTP on demand.
package pull

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/common/expfmt"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/metricsbridge/internal/expose"
	"github.com/ethpandaops/metricsbridge/internal/export"
	"github.com/ethpandaops/metricsbridge/internal/filter"
	"github.com/ethpandaops/metricsbridge/internal/snapshot"
)

// Routes bound to the handler.
const (
	HealthPath  = "/-/healthy"
	MetricsPath = "/metrics"
	RootPath    = "/"
)

const healthyResponse = "Exporter is Healthy."

// worker is the scratch space owned by one pool slot. It is only ever used
// by the request currently holding the slot.
type worker struct {
	buf *bytes.Buffer
	gz  *gzip.Writer
}

// Handler serves filtered snapshots in the negotiated exposition format.
// At most one request per worker runs at a time; the rest queue.
type Handler struct {
	log       logrus.FieldLogger
	provider  snapshot.Provider
	static    filter.Predicate
	workers   chan *worker
	telemetry *export.Telemetry
}

var _ http.Handler = (*Handler)(nil)

// NewHandler creates a Handler with cfg.Workers pre-allocated workers.
// telemetry may be nil.
func NewHandler(
	log logrus.FieldLogger,
	cfg Config,
	provider snapshot.Provider,
	telemetry *export.Telemetry,
) *Handler {
	cfg.ApplyDefaults()

	workers := make(chan *worker, cfg.Workers)
	for n := 0; n < cfg.Workers; n++ {
		workers <- &worker{buf: bytes.NewBuffer(make([]byte, 0, cfg.BufferSize))}
	}

	return &Handler{
		log:      log.WithField("component", "pull_handler"),
		provider: provider,
		static: filter.NewBuilder().
			IncludePrefixes(cfg.IncludedPrefixes...).
			ExcludePrefixes(cfg.ExcludedPrefixes...).
			Build(),
		workers:   workers,
		telemetry: telemetry,
	}
}

// ServeHTTP implements http.Handler. Health paths are answered without a
// worker; everything else is a metrics request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if isHealthPath(r.URL.Path) {
		h.ServeHealth(w, r)

		return
	}

	h.ServeMetrics(w, r)
}

// ServeHealth answers the liveness check. It never touches the worker pool.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(healthyResponse)))
	w.WriteHeader(http.StatusOK)

	_, _ = w.Write([]byte(healthyResponse))

	h.observe(HealthPath, http.StatusOK, start)
}

// ServeMetrics renders the snapshot selected by the request's name[] query.
func (h *Handler) ServeMetrics(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	code := h.serveMetrics(w, r)

	h.observe(routeLabel(r.URL.Path), code, start)
}

func (h *Handler) observe(route string, code int, start time.Time) {
	if h.telemetry == nil {
		return
	}

	h.telemetry.PullRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	h.telemetry.PullDuration.Observe(time.Since(start).Seconds())
}

func (h *Handler) serveMetrics(w http.ResponseWriter, r *http.Request) int {
	wk, err := h.acquire(r.Context())
	if err != nil {
		http.Error(w, "request cancelled while waiting for a worker", http.StatusServiceUnavailable)

		return http.StatusServiceUnavailable
	}
	defer h.release(wk)

	wk.buf.Reset()

	format := expose.Negotiate(r.Header)
	accept := filter.RestrictToNames(h.static, parseNames(r.URL.RawQuery))

	if err := h.render(wk.buf, format, accept); err != nil {
		h.log.WithError(err).Error("Failed to render metrics")
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", string(format))

	if acceptsGzip(r.Header) {
		h.writeGzip(w, wk)
	} else {
		w.Header().Set("Content-Length", strconv.Itoa(wk.buf.Len()))
		w.WriteHeader(http.StatusOK)

		if _, err := w.Write(wk.buf.Bytes()); err != nil {
			h.log.WithError(err).Debug("Failed to write response")
		}
	}

	return http.StatusOK
}

func (h *Handler) render(buf *bytes.Buffer, format expfmt.Format, accept filter.Predicate) error {
	families, err := h.provider.Snapshot(accept)
	if err != nil {
		return fmt.Errorf("taking snapshot: %w", err)
	}

	if err := expose.Write(buf, format, families); err != nil {
		return fmt.Errorf("writing %s: %w", format, err)
	}

	return nil
}

// writeGzip streams the buffer through the worker's gzip writer. The length
// is unknown up front, so the response is chunked.
func (h *Handler) writeGzip(w http.ResponseWriter, wk *worker) {
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Add("Vary", "Accept-Encoding")
	w.WriteHeader(http.StatusOK)

	if wk.gz == nil {
		wk.gz = gzip.NewWriter(w)
	} else {
		wk.gz.Reset(w)
	}

	if _, err := wk.buf.WriteTo(wk.gz); err != nil {
		h.log.WithError(err).Debug("Failed to write compressed response")
	}

	if err := wk.gz.Close(); err != nil {
		h.log.WithError(err).Debug("Failed to close gzip writer")
	}
}

func (h *Handler) acquire(ctx context.Context) (*worker, error) {
	select {
	case wk := <-h.workers:
		h.trackAcquire(0)

		return wk, nil
	default:
	}

	start := time.Now()

	select {
	case wk := <-h.workers:
		h.trackAcquire(time.Since(start))

		return wk, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Handler) trackAcquire(waited time.Duration) {
	if h.telemetry == nil {
		return
	}

	h.telemetry.PullSlotWait.Observe(waited.Seconds())
	h.telemetry.PullInFlight.Inc()
}

func (h *Handler) release(wk *worker) {
	if h.telemetry != nil {
		h.telemetry.PullInFlight.Dec()
	}

	h.workers <- wk
}

func isHealthPath(path string) bool {
	return path == HealthPath || strings.HasPrefix(path, HealthPath+"/")
}

// routeLabel maps a request path onto one of the bound routes to keep the
// telemetry label set bounded.
func routeLabel(path string) string {
	switch {
	case isHealthPath(path):
		return HealthPath
	case path == MetricsPath || strings.HasPrefix(path, MetricsPath+"/"):
		return MetricsPath
	default:
		return RootPath
	}
}
