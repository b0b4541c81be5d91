package agent

import (
	"context"
	"fmt"
	"maps"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ethpandaops/metricsbridge/internal/export"
	"github.com/ethpandaops/metricsbridge/internal/export/pull"
	"github.com/ethpandaops/metricsbridge/internal/export/push"
	"github.com/ethpandaops/metricsbridge/internal/snapshot"
)

// Agent owns a metric registry and exports it by pull, push or both.
type Agent interface {
	// Start starts the enabled exporters.
	Start(ctx context.Context) error
	// Stop shuts down all exporters, waiting at most ShutdownTimeout.
	Stop() error
	// Registry is where application metrics are registered.
	Registry() *prometheus.Registry
}

type agent struct {
	log       logrus.FieldLogger
	cfg       *Config
	registry  *prometheus.Registry
	telemetry *export.Telemetry
	provider  snapshot.Provider
	pull      *pull.Server
	push      *push.Scheduler
}

// New creates a new Agent with its own registry.
func New(log logrus.FieldLogger, cfg *Config) (Agent, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	registry := prometheus.NewRegistry()

	if cfg.Collectors.Go {
		registry.MustRegister(collectors.NewGoCollector())
	}

	if cfg.Collectors.Process {
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	a := &agent{
		log:       log.WithField("component", "agent"),
		cfg:       cfg,
		registry:  registry,
		telemetry: export.NewTelemetry(registry),
		provider:  snapshot.NewGatherer(registry),
	}

	if cfg.Pull.Enabled {
		srv, err := pull.NewServer(log, cfg.Pull, a.provider, a.telemetry)
		if err != nil {
			return nil, fmt.Errorf("creating pull server: %w", err)
		}

		a.pull = srv
	}

	if cfg.Push.Enabled {
		pushCfg := cfg.Push

		// Push-specific tags win over global ones.
		tags := cfg.GlobalTags.Resolve()
		maps.Copy(tags, cfg.Push.Tags)
		pushCfg.Tags = tags

		scheduler, err := push.NewScheduler(log, pushCfg, a.provider, a.telemetry)
		if err != nil {
			return nil, fmt.Errorf("creating push scheduler: %w", err)
		}

		a.push = scheduler
	}

	return a, nil
}

func (a *agent) Registry() *prometheus.Registry {
	return a.registry
}

func (a *agent) Start(ctx context.Context) error {
	if a.pull != nil {
		if err := a.pull.Start(ctx); err != nil {
			return fmt.Errorf("starting pull server: %w", err)
		}
	}

	if a.push != nil {
		if err := a.push.Start(ctx); err != nil {
			return fmt.Errorf("starting push scheduler: %w", err)
		}
	}

	a.log.WithFields(logrus.Fields{
		"pull": a.pull != nil,
		"push": a.push != nil,
	}).Info("Agent started")

	return nil
}

func (a *agent) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	var g errgroup.Group

	if a.pull != nil {
		g.Go(func() error {
			return a.pull.Stop(ctx)
		})
	}

	if a.push != nil {
		g.Go(func() error {
			return a.push.Stop(ctx)
		})
	}

	return g.Wait()
}
