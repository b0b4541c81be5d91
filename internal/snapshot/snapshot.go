// Package snapshot supplies point-in-time metric snapshots to the exporters.
package snapshot

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/ethpandaops/metricsbridge/internal/filter"
	"github.com/ethpandaops/metricsbridge/internal/metric"
)

// Provider produces the current ordered metric families on demand. Only
// samples whose series name is accepted are returned; families left without
// samples are dropped. Implementations must be safe for concurrent use.
type Provider interface {
	Snapshot(accept filter.Predicate) ([]metric.Family, error)
}

// Func adapts a plain function to a Provider.
type Func func(accept filter.Predicate) ([]metric.Family, error)

// Snapshot calls f(accept).
func (f Func) Snapshot(accept filter.Predicate) ([]metric.Family, error) {
	return f(accept)
}

// Gatherer reads snapshots from a Prometheus gatherer, typically a
// *prometheus.Registry. Every call gathers afresh.
type Gatherer struct {
	gatherer prometheus.Gatherer
}

var _ Provider = (*Gatherer)(nil)

// NewGatherer returns a Provider backed by g.
func NewGatherer(g prometheus.Gatherer) *Gatherer {
	return &Gatherer{gatherer: g}
}

// Snapshot gathers, flattens and filters the current metric families.
func (g *Gatherer) Snapshot(accept filter.Predicate) ([]metric.Family, error) {
	mfs, err := g.gatherer.Gather()
	if err != nil {
		return nil, fmt.Errorf("gathering metrics: %w", err)
	}

	return Filter(flatten(mfs), accept), nil
}

func flatten(mfs []*dto.MetricFamily) []metric.Family {
	families := make([]metric.Family, 0, len(mfs))
	for _, mf := range mfs {
		families = append(families, metric.FromProto(mf))
	}

	return families
}

// Filter keeps the samples accepted by accept, in order, and drops families
// that end up empty. The input families are not modified.
func Filter(families []metric.Family, accept filter.Predicate) []metric.Family {
	if accept == nil {
		accept = filter.AcceptAll
	}

	out := make([]metric.Family, 0, len(families))

	for _, f := range families {
		kept := make([]metric.Sample, 0, len(f.Samples))

		for _, s := range f.Samples {
			if accept.Accept(s.Name) {
				kept = append(kept, s)
			}
		}

		if len(kept) == 0 {
			continue
		}

		f.Samples = kept
		out = append(out, f)
	}

	return out
}
