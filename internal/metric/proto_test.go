package metric

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]Family {
	t.Helper()

	mfs, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]Family, len(mfs))
	for _, mf := range mfs {
		f := FromProto(mf)
		out[f.Name] = f
	}

	return out
}

func TestFromProto_CounterAndGauge(t *testing.T) {
	reg := prometheus.NewRegistry()

	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "requests_total",
		Help: "Requests.",
	}, []string{"method", "code"})
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "temperature",
		Help: "Temperature.",
	})
	reg.MustRegister(c, g)

	c.WithLabelValues("GET", "200").Add(3)
	g.Set(21.5)

	families := gather(t, reg)

	counter := families["requests_total"]
	assert.Equal(t, TypeCounter, counter.Type)
	assert.Equal(t, "Requests.", counter.Help)
	require.Len(t, counter.Samples, 1)
	assert.Equal(t, "requests_total", counter.Samples[0].Name)
	assert.Equal(t, []string{"code", "method"}, counter.Samples[0].LabelNames)
	assert.Equal(t, []string{"200", "GET"}, counter.Samples[0].LabelValues)
	assert.Equal(t, 3.0, counter.Samples[0].Value)
	assert.Nil(t, counter.Samples[0].Timestamp)

	gauge := families["temperature"]
	assert.Equal(t, TypeGauge, gauge.Type)
	require.Len(t, gauge.Samples, 1)
	assert.Empty(t, gauge.Samples[0].LabelNames)
	assert.Equal(t, 21.5, gauge.Samples[0].Value)
}

func TestFromProto_Histogram(t *testing.T) {
	reg := prometheus.NewRegistry()

	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "latency_seconds",
		Help:    "Latency.",
		Buckets: []float64{0.1, 1},
	}, []string{"path"})
	reg.MustRegister(h)

	h.WithLabelValues("/a").Observe(0.05)
	h.WithLabelValues("/a").Observe(0.5)
	h.WithLabelValues("/a").Observe(5)

	f := gather(t, reg)["latency_seconds"]
	assert.Equal(t, TypeHistogram, f.Type)
	require.Len(t, f.Samples, 5)

	expected := []struct {
		name  string
		le    string
		value float64
	}{
		{"latency_seconds_bucket", "0.1", 1},
		{"latency_seconds_bucket", "1", 2},
		{"latency_seconds_bucket", "+Inf", 3},
		{"latency_seconds_count", "", 3},
		{"latency_seconds_sum", "", 5.55},
	}

	for i, want := range expected {
		s := f.Samples[i]
		assert.Equal(t, want.name, s.Name)
		assert.InDelta(t, want.value, s.Value, 1e-9)

		le, ok := s.Label(LabelBucket)
		if want.le == "" {
			assert.False(t, ok)
			assert.Equal(t, []string{"path"}, s.LabelNames)
		} else {
			assert.True(t, ok)
			assert.Equal(t, want.le, le)
			assert.Equal(t, []string{"path", "le"}, s.LabelNames)
		}

		assert.True(t, s.Consistent())
	}
}

func TestFromProto_Summary(t *testing.T) {
	reg := prometheus.NewRegistry()

	s := prometheus.NewSummary(prometheus.SummaryOpts{
		Name:       "size_bytes",
		Help:       "Size.",
		Objectives: map[float64]float64{0.5: 0.05},
	})
	reg.MustRegister(s)
	s.Observe(10)

	f := gather(t, reg)["size_bytes"]
	assert.Equal(t, TypeSummary, f.Type)
	require.Len(t, f.Samples, 3)

	q, ok := f.Samples[0].Label(LabelQuantile)
	assert.True(t, ok)
	assert.Equal(t, "0.5", q)
	assert.Equal(t, "size_bytes_count", f.Samples[1].Name)
	assert.Equal(t, 1.0, f.Samples[1].Value)
	assert.Equal(t, "size_bytes_sum", f.Samples[2].Name)
	assert.Equal(t, 10.0, f.Samples[2].Value)
}

func TestFromProto_Timestamp(t *testing.T) {
	mf := &dto.MetricFamily{
		Name: proto.String("x"),
		Type: dto.MetricType_UNTYPED.Enum(),
		Metric: []*dto.Metric{{
			Untyped:     &dto.Untyped{Value: proto.Float64(1)},
			TimestampMs: proto.Int64(1700000000123),
		}},
	}

	f := FromProto(mf)
	require.Len(t, f.Samples, 1)
	require.NotNil(t, f.Samples[0].Timestamp)
	assert.Equal(t, time.UnixMilli(1700000000123), *f.Samples[0].Timestamp)
	assert.Equal(t, TypeUntyped, f.Type)
}

func TestSample_Consistent(t *testing.T) {
	assert.True(t, Sample{}.Consistent())
	assert.False(t, Sample{LabelNames: []string{"a", "b"}, LabelValues: []string{"x"}}.Consistent())
}

func TestProtoType_RoundTrip(t *testing.T) {
	for _, typ := range []Type{TypeCounter, TypeGauge, TypeSummary, TypeHistogram, TypeGaugeHistogram, TypeUntyped} {
		assert.Equal(t, typ, typeFromProto(ProtoType(typ)))
	}
}
