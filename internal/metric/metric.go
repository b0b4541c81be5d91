// Package metric holds the snapshot data model shared by the pull and push
// exporters.
package metric

import (
	"math"
	"strconv"
	"time"
)

// Type is the type tag of a metric family.
type Type string

// Metric family types.
const (
	TypeCounter        Type = "counter"
	TypeGauge          Type = "gauge"
	TypeSummary        Type = "summary"
	TypeHistogram      Type = "histogram"
	TypeGaugeHistogram Type = "gaugehistogram"
	TypeUntyped        Type = "untyped"
)

// Series name suffixes and reserved label names of composite types.
const (
	SuffixBucket  = "_bucket"
	SuffixCount   = "_count"
	SuffixSum     = "_sum"
	LabelBucket   = "le"
	LabelQuantile = "quantile"
)

// Sample is a single measurement of one series.
type Sample struct {
	Name        string
	LabelNames  []string
	LabelValues []string
	Value       float64
	// Timestamp is nil unless the source carried an explicit timestamp.
	Timestamp *time.Time
}

// Consistent reports whether the label names and values line up.
func (s Sample) Consistent() bool {
	return len(s.LabelNames) == len(s.LabelValues)
}

// Label returns the value of the named label and whether it exists.
func (s Sample) Label(name string) (string, bool) {
	for i, n := range s.LabelNames {
		if n == name && i < len(s.LabelValues) {
			return s.LabelValues[i], true
		}
	}

	return "", false
}

// Family is a named group of samples sharing one type, such as every bucket,
// count and sum series of one histogram.
type Family struct {
	Name    string
	Help    string
	Type    Type
	Samples []Sample
}

// FormatFloat renders v the way the exposition format renders label values
// such as le and quantile.
func FormatFloat(v float64) string {
	switch {
	case math.IsInf(v, +1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	case math.IsNaN(v):
		return "NaN"
	default:
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
}
