// Package push periodically sends the metric snapshot to a remote collector
// as a JSON array of records.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/metricsbridge/internal/export"
	"github.com/ethpandaops/metricsbridge/internal/metric"
	"github.com/ethpandaops/metricsbridge/internal/version"
)

const (
	counterTypeGauge = "GAUGE"
	okPrefix         = `{"dat":"ok"`

	// maxResponsePeek bounds how much of the collector response is read.
	maxResponsePeek = 4 << 10
)

// record is one wire entry. Field order is the wire order.
type record struct {
	Timestamp   int64   `json:"timestamp"`
	Metric      string  `json:"metric"`
	CounterType string  `json:"counterType"`
	Step        int64   `json:"step"`
	Nid         string  `json:"nid"`
	Tags        string  `json:"tags,omitempty"`
	Value       float64 `json:"value"`
}

// Encoder accumulates samples and sends them as one batch per Flush. It is
// owned by a single goroutine.
type Encoder struct {
	log        logrus.FieldLogger
	cfg        Config
	client     *http.Client
	compressor *Compressor
	telemetry  *export.Telemetry
	staticTags string
	step       int64

	batch   []metric.Sample
	records []record
	buf     bytes.Buffer
	tags    strings.Builder

	now func() time.Time
}

// NewEncoder creates an Encoder. telemetry may be nil.
func NewEncoder(log logrus.FieldLogger, cfg Config, telemetry *export.Telemetry) (*Encoder, error) {
	cfg.ApplyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	compressor, err := NewCompressor(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}

	transport := &http.Transport{
		MaxIdleConns:        2,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Encoder{
		log:        log.WithField("component", "push_encoder"),
		cfg:        cfg,
		client:     &http.Client{Transport: transport, Timeout: cfg.Timeout},
		compressor: compressor,
		telemetry:  telemetry,
		staticTags: joinTags(cfg.Tags),
		step:       cfg.Step(),
		now:        time.Now,
	}, nil
}

// joinTags renders the static tags as comma-separated key=value pairs in
// key order.
func joinTags(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}

	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+tags[k])
	}

	return strings.Join(pairs, ",")
}

// Add appends a sample to the current batch. With a positive MaxBatchSize
// a full batch is flushed immediately and the flush error returned.
func (e *Encoder) Add(ctx context.Context, s metric.Sample) error {
	e.batch = append(e.batch, s)

	if e.cfg.MaxBatchSize > 0 && len(e.batch) >= e.cfg.MaxBatchSize {
		return e.Flush(ctx)
	}

	return nil
}

// Pending returns the number of samples waiting for the next Flush.
func (e *Encoder) Pending() int {
	return len(e.batch)
}

// Flush sends the current batch and clears it. A failed batch is dropped,
// never retried. Flushing an empty batch does nothing.
func (e *Encoder) Flush(ctx context.Context) error {
	if len(e.batch) == 0 {
		return nil
	}

	body, n, err := e.marshalBatch(e.now().Unix())

	e.batch = e.batch[:0]

	if err != nil {
		e.countFailure(export.FailureEncode)

		return fmt.Errorf("encoding batch: %w", err)
	}

	if n == 0 {
		e.log.Debug("Every sample in batch was skipped, nothing to push")

		return nil
	}

	start := time.Now()
	err = e.send(ctx, body)

	if e.telemetry != nil {
		e.telemetry.PushBatches.Inc()
		e.telemetry.PushDuration.Observe(time.Since(start).Seconds())
	}

	if err != nil {
		return err
	}

	if e.telemetry != nil {
		e.telemetry.PushSamples.Add(float64(n))
		e.telemetry.PushBytes.Add(float64(len(body)))
	}

	e.log.WithFields(logrus.Fields{
		"samples": n,
		"bytes":   len(body),
	}).Debug("Pushed batch")

	return nil
}

// marshalBatch encodes the batch as a JSON array stamped with ts and
// returns the body and the number of records in it. Samples with
// mismatched labels or non-finite values are skipped. The body aliases the
// encoder's buffer.
func (e *Encoder) marshalBatch(ts int64) ([]byte, int, error) {
	e.records = e.records[:0]

	for i := range e.batch {
		s := &e.batch[i]

		if !s.Consistent() {
			e.countSkip(export.SkipLabelMismatch)

			continue
		}

		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			e.countSkip(export.SkipNonFinite)

			continue
		}

		e.records = append(e.records, record{
			Timestamp:   ts,
			Metric:      s.Name,
			CounterType: counterTypeGauge,
			Step:        e.step,
			Nid:         e.cfg.Nid,
			Tags:        e.sampleTags(s),
			Value:       s.Value,
		})
	}

	e.buf.Reset()

	enc := json.NewEncoder(&e.buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(e.records); err != nil {
		return nil, 0, err
	}

	// Encode terminates with a newline.
	return bytes.TrimRight(e.buf.Bytes(), "\n"), len(e.records), nil
}

// sampleTags returns "" for unlabelled samples, otherwise the static tags
// followed by the sample's name=value pairs. Spaces in label values
// become hyphens.
func (e *Encoder) sampleTags(s *metric.Sample) string {
	if len(s.LabelNames) == 0 {
		return ""
	}

	e.tags.Reset()
	e.tags.WriteString(e.staticTags)

	for i, name := range s.LabelNames {
		if e.tags.Len() > 0 {
			e.tags.WriteByte(',')
		}

		e.tags.WriteString(name)
		e.tags.WriteByte('=')
		e.tags.WriteString(strings.ReplaceAll(s.LabelValues[i], " ", "-"))
	}

	return e.tags.String()
}

func (e *Encoder) send(ctx context.Context, body []byte) error {
	payload, err := e.compressor.Compress(body)
	if err != nil {
		e.countFailure(export.FailureEncode)

		return fmt.Errorf("compressing batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		e.countFailure(export.FailureTransport)

		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	if encoding := e.compressor.ContentEncoding(); encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	for k, v := range e.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		e.countFailure(export.FailureTransport)

		return fmt.Errorf("pushing to %s: %w", e.cfg.URL, err)
	}

	defer resp.Body.Close()

	peek, err := io.ReadAll(io.LimitReader(resp.Body, maxResponsePeek))

	// Drain response body to enable connection reuse.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e.countFailure(export.FailureStatus)

		return fmt.Errorf("pushing to %s: unexpected status code: %d", e.cfg.URL, resp.StatusCode)
	}

	if err != nil {
		e.countFailure(export.FailureResponse)

		return fmt.Errorf("reading response from %s: %w", e.cfg.URL, err)
	}

	if !bytes.HasPrefix(peek, []byte(okPrefix)) {
		e.countFailure(export.FailureResponse)

		return &UnexpectedResponseError{URL: e.cfg.URL, Body: string(peek)}
	}

	return nil
}

// UnexpectedResponseError reports a 2xx response whose body is not the
// collector's acknowledgement.
type UnexpectedResponseError struct {
	URL  string
	Body string
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("unexpected response %q from %s", e.Body, e.URL)
}

// IsUnexpectedResponse reports whether err carries an UnexpectedResponseError.
func IsUnexpectedResponse(err error) bool {
	var target *UnexpectedResponseError

	return errors.As(err, &target)
}

// Close releases the compressor and idle connections.
func (e *Encoder) Close() error {
	e.client.CloseIdleConnections()

	return e.compressor.Close()
}

func (e *Encoder) countSkip(reason string) {
	if e.telemetry != nil {
		e.telemetry.SamplesSkipped.WithLabelValues(reason).Inc()
	}
}

func (e *Encoder) countFailure(reason string) {
	if e.telemetry != nil {
		e.telemetry.PushFailures.WithLabelValues(reason).Inc()
	}
}
