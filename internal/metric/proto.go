package metric

import (
	"math"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// FromProto flattens a client_model family into series samples. Histograms
// become _bucket (with le, ending at +Inf), _count and _sum series;
// summaries become quantile, _count and _sum series.
func FromProto(mf *dto.MetricFamily) Family {
	f := Family{
		Name: mf.GetName(),
		Help: mf.GetHelp(),
		Type: typeFromProto(mf.GetType()),
	}

	for _, m := range mf.GetMetric() {
		names, values := labelsFromProto(m.GetLabel())
		ts := timestampFromProto(m)

		switch mf.GetType() {
		case dto.MetricType_COUNTER:
			f.Samples = append(f.Samples, sample(f.Name, names, values, m.GetCounter().GetValue(), ts))
		case dto.MetricType_GAUGE:
			f.Samples = append(f.Samples, sample(f.Name, names, values, m.GetGauge().GetValue(), ts))
		case dto.MetricType_SUMMARY:
			f.Samples = append(f.Samples, summarySamples(f.Name, names, values, m.GetSummary(), ts)...)
		case dto.MetricType_HISTOGRAM, dto.MetricType_GAUGE_HISTOGRAM:
			f.Samples = append(f.Samples, histogramSamples(f.Name, names, values, m.GetHistogram(), ts)...)
		default:
			f.Samples = append(f.Samples, sample(f.Name, names, values, m.GetUntyped().GetValue(), ts))
		}
	}

	return f
}

func typeFromProto(t dto.MetricType) Type {
	switch t {
	case dto.MetricType_COUNTER:
		return TypeCounter
	case dto.MetricType_GAUGE:
		return TypeGauge
	case dto.MetricType_SUMMARY:
		return TypeSummary
	case dto.MetricType_HISTOGRAM:
		return TypeHistogram
	case dto.MetricType_GAUGE_HISTOGRAM:
		return TypeGaugeHistogram
	default:
		return TypeUntyped
	}
}

// ProtoType maps t back to its client_model enum.
func ProtoType(t Type) dto.MetricType {
	switch t {
	case TypeCounter:
		return dto.MetricType_COUNTER
	case TypeGauge:
		return dto.MetricType_GAUGE
	case TypeSummary:
		return dto.MetricType_SUMMARY
	case TypeHistogram:
		return dto.MetricType_HISTOGRAM
	case TypeGaugeHistogram:
		return dto.MetricType_GAUGE_HISTOGRAM
	default:
		return dto.MetricType_UNTYPED
	}
}

func labelsFromProto(pairs []*dto.LabelPair) ([]string, []string) {
	if len(pairs) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(pairs))
	values := make([]string, 0, len(pairs))

	for _, lp := range pairs {
		names = append(names, lp.GetName())
		values = append(values, lp.GetValue())
	}

	return names, values
}

func timestampFromProto(m *dto.Metric) *time.Time {
	if m.TimestampMs == nil {
		return nil
	}

	ts := time.UnixMilli(m.GetTimestampMs())

	return &ts
}

func sample(name string, names, values []string, v float64, ts *time.Time) Sample {
	return Sample{
		Name:        name,
		LabelNames:  names,
		LabelValues: values,
		Value:       v,
		Timestamp:   ts,
	}
}

// withLabel returns copies of names and values with one extra pair appended.
func withLabel(names, values []string, name, value string) ([]string, []string) {
	n := make([]string, len(names), len(names)+1)
	copy(n, names)

	v := make([]string, len(values), len(values)+1)
	copy(v, values)

	return append(n, name), append(v, value)
}

func summarySamples(name string, names, values []string, s *dto.Summary, ts *time.Time) []Sample {
	out := make([]Sample, 0, len(s.GetQuantile())+2)

	for _, q := range s.GetQuantile() {
		qn, qv := withLabel(names, values, LabelQuantile, FormatFloat(q.GetQuantile()))
		out = append(out, sample(name, qn, qv, q.GetValue(), ts))
	}

	out = append(out,
		sample(name+SuffixCount, names, values, float64(s.GetSampleCount()), ts),
		sample(name+SuffixSum, names, values, s.GetSampleSum(), ts),
	)

	return out
}

// histogramSamples reads classic buckets only. A native-only histogram
// flattens to its +Inf bucket, count and sum.
func histogramSamples(name string, names, values []string, h *dto.Histogram, ts *time.Time) []Sample {
	count := float64(h.GetSampleCount())
	if h.SampleCountFloat != nil {
		count = h.GetSampleCountFloat()
	}

	out := make([]Sample, 0, len(h.GetBucket())+3)
	infSeen := false

	for _, b := range h.GetBucket() {
		cumulative := float64(b.GetCumulativeCount())
		if b.CumulativeCountFloat != nil {
			cumulative = b.GetCumulativeCountFloat()
		}

		if math.IsInf(b.GetUpperBound(), +1) {
			infSeen = true
		}

		bn, bv := withLabel(names, values, LabelBucket, FormatFloat(b.GetUpperBound()))
		out = append(out, sample(name+SuffixBucket, bn, bv, cumulative, ts))
	}

	if !infSeen {
		bn, bv := withLabel(names, values, LabelBucket, FormatFloat(math.Inf(+1)))
		out = append(out, sample(name+SuffixBucket, bn, bv, count, ts))
	}

	out = append(out,
		sample(name+SuffixCount, names, values, count, ts),
		sample(name+SuffixSum, names, values, h.GetSampleSum(), ts),
	)

	return out
}
