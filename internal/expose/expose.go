// Package expose serializes metric snapshots into the Prometheus exposition
// formats, negotiating the format from the request's Accept header.
package expose

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/ethpandaops/metricsbridge/internal/metric"
)

// Negotiate picks the response format for the request headers. Text 0.0.4
// is the fallback; OpenMetrics and delimited protobuf are offered when the
// Accept header asks for them.
func Negotiate(h http.Header) expfmt.Format {
	return expfmt.NegotiateIncludingOpenMetrics(h)
}

// Write encodes families to w in the given format.
func Write(w io.Writer, format expfmt.Format, families []metric.Family) error {
	enc := expfmt.NewEncoder(w, format)

	for _, f := range families {
		for _, mf := range toProto(f) {
			if err := enc.Encode(mf); err != nil {
				return fmt.Errorf("encoding family %s: %w", mf.GetName(), err)
			}
		}
	}

	if closer, ok := enc.(expfmt.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("closing encoder: %w", err)
		}
	}

	return nil
}

// toProto rebuilds client_model families from a flat family. Composite
// families that lost some of their sub-series to filtering are emitted as
// one untyped family per remaining series name. Histograms come back with
// classic buckets only; native schema, spans and deltas are not carried.
func toProto(f metric.Family) []*dto.MetricFamily {
	switch f.Type {
	case metric.TypeHistogram, metric.TypeGaugeHistogram:
		if mf, ok := histogramToProto(f); ok {
			return []*dto.MetricFamily{mf}
		}
	case metric.TypeSummary:
		if mf, ok := summaryToProto(f); ok {
			return []*dto.MetricFamily{mf}
		}
	default:
		if mf, ok := scalarToProto(f); ok {
			return []*dto.MetricFamily{mf}
		}
	}

	return untypedByName(f)
}

func newFamily(name, help string, t dto.MetricType) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: t.Enum(),
	}
}

func newMetric(names, values []string, ts *time.Time) *dto.Metric {
	m := &dto.Metric{}

	for i, name := range names {
		if i >= len(values) {
			break
		}

		m.Label = append(m.Label, &dto.LabelPair{
			Name:  proto.String(name),
			Value: proto.String(values[i]),
		})
	}

	if ts != nil {
		m.TimestampMs = proto.Int64(ts.UnixMilli())
	}

	return m
}

func setValue(m *dto.Metric, t dto.MetricType, v float64) {
	switch t {
	case dto.MetricType_COUNTER:
		m.Counter = &dto.Counter{Value: proto.Float64(v)}
	case dto.MetricType_GAUGE:
		m.Gauge = &dto.Gauge{Value: proto.Float64(v)}
	default:
		m.Untyped = &dto.Untyped{Value: proto.Float64(v)}
	}
}

func scalarToProto(f metric.Family) (*dto.MetricFamily, bool) {
	t := metric.ProtoType(f.Type)
	mf := newFamily(f.Name, f.Help, t)

	for _, s := range f.Samples {
		if s.Name != f.Name {
			return nil, false
		}

		m := newMetric(s.LabelNames, s.LabelValues, s.Timestamp)
		setValue(m, t, s.Value)
		mf.Metric = append(mf.Metric, m)
	}

	return mf, true
}

func untypedByName(f metric.Family) []*dto.MetricFamily {
	byName := make(map[string]*dto.MetricFamily)
	out := make([]*dto.MetricFamily, 0, 1)

	for _, s := range f.Samples {
		mf, ok := byName[s.Name]
		if !ok {
			mf = newFamily(s.Name, f.Help, dto.MetricType_UNTYPED)
			byName[s.Name] = mf
			out = append(out, mf)
		}

		m := newMetric(s.LabelNames, s.LabelValues, s.Timestamp)
		setValue(m, dto.MetricType_UNTYPED, s.Value)
		mf.Metric = append(mf.Metric, m)
	}

	return out
}

// composite collects the series of one histogram or summary child.
type composite struct {
	names     []string
	values    []string
	ts        *time.Time
	buckets   []*dto.Bucket
	quantiles []*dto.Quantile
	count     *float64
	sum       *float64
}

// composites groups samples by label set, ignoring one reserved label.
type composites struct {
	bySignature map[uint64]*composite
	ordered     []*composite
}

func newComposites() *composites {
	return &composites{bySignature: make(map[uint64]*composite)}
}

var separator = []byte{0xff}

func (c *composites) get(s metric.Sample, reserved string) *composite {
	d := xxhash.New()

	var names, values []string

	for i, name := range s.LabelNames {
		if name == reserved || i >= len(s.LabelValues) {
			continue
		}

		_, _ = d.WriteString(name)
		_, _ = d.Write(separator)
		_, _ = d.WriteString(s.LabelValues[i])
		_, _ = d.Write(separator)

		names = append(names, name)
		values = append(values, s.LabelValues[i])
	}

	sig := d.Sum64()

	if existing, ok := c.bySignature[sig]; ok {
		return existing
	}

	child := &composite{names: names, values: values, ts: s.Timestamp}
	c.bySignature[sig] = child
	c.ordered = append(c.ordered, child)

	return child
}

// reservedFloat parses the value of a reserved label such as le.
func reservedFloat(s metric.Sample, label string) (float64, bool) {
	raw, ok := s.Label(label)
	if !ok {
		return 0, false
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}

	return v, true
}

// countAndSum records a _count or _sum sample. It reports false for any
// other series name.
func countAndSum(c *composites, f metric.Family, s metric.Sample) bool {
	switch s.Name {
	case f.Name + metric.SuffixCount:
		c.get(s, "").count = proto.Float64(s.Value)
	case f.Name + metric.SuffixSum:
		c.get(s, "").sum = proto.Float64(s.Value)
	default:
		return false
	}

	return true
}

func histogramToProto(f metric.Family) (*dto.MetricFamily, bool) {
	children := newComposites()

	for _, s := range f.Samples {
		if s.Name == f.Name+metric.SuffixBucket {
			bound, ok := reservedFloat(s, metric.LabelBucket)
			if !ok {
				return nil, false
			}

			child := children.get(s, metric.LabelBucket)
			child.buckets = append(child.buckets, &dto.Bucket{
				UpperBound:      proto.Float64(bound),
				CumulativeCount: proto.Uint64(uint64(s.Value)),
			})

			continue
		}

		if !countAndSum(children, f, s) {
			return nil, false
		}
	}

	mf := newFamily(f.Name, f.Help, metric.ProtoType(f.Type))

	for _, child := range children.ordered {
		if child.count == nil || child.sum == nil || len(child.buckets) == 0 {
			return nil, false
		}

		sort.Slice(child.buckets, func(i, j int) bool {
			return child.buckets[i].GetUpperBound() < child.buckets[j].GetUpperBound()
		})

		m := newMetric(child.names, child.values, child.ts)
		m.Histogram = &dto.Histogram{
			SampleCount: proto.Uint64(uint64(*child.count)),
			SampleSum:   child.sum,
			Bucket:      child.buckets,
		}
		mf.Metric = append(mf.Metric, m)
	}

	return mf, true
}

func summaryToProto(f metric.Family) (*dto.MetricFamily, bool) {
	children := newComposites()

	for _, s := range f.Samples {
		if s.Name == f.Name {
			q, ok := reservedFloat(s, metric.LabelQuantile)
			if !ok {
				return nil, false
			}

			child := children.get(s, metric.LabelQuantile)
			child.quantiles = append(child.quantiles, &dto.Quantile{
				Quantile: proto.Float64(q),
				Value:    proto.Float64(s.Value),
			})

			continue
		}

		if !countAndSum(children, f, s) {
			return nil, false
		}
	}

	mf := newFamily(f.Name, f.Help, dto.MetricType_SUMMARY)

	for _, child := range children.ordered {
		if child.count == nil || child.sum == nil {
			return nil, false
		}

		m := newMetric(child.names, child.values, child.ts)
		m.Summary = &dto.Summary{
			SampleCount: proto.Uint64(uint64(*child.count)),
			SampleSum:   child.sum,
			Quantile:    child.quantiles,
		}
		mf.Metric = append(mf.Metric, m)
	}

	return mf, true
}
