package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/metricsbridge/internal/export"
	"github.com/ethpandaops/metricsbridge/internal/filter"
	"github.com/ethpandaops/metricsbridge/internal/snapshot"
)

// Scheduler pushes a full snapshot once per interval. The first push runs
// immediately on Start; ticks missed while a push overran are skipped.
type Scheduler struct {
	log       logrus.FieldLogger
	cfg       Config
	provider  snapshot.Provider
	accept    filter.Predicate
	encoder   *Encoder
	telemetry *export.Telemetry

	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewScheduler creates a Scheduler and its Encoder. telemetry may be nil.
func NewScheduler(
	log logrus.FieldLogger,
	cfg Config,
	provider snapshot.Provider,
	telemetry *export.Telemetry,
) (*Scheduler, error) {
	encoder, err := NewEncoder(log, cfg, telemetry)
	if err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()

	return &Scheduler{
		log:      log.WithField("component", "push_scheduler"),
		cfg:      cfg,
		provider: provider,
		accept: filter.NewBuilder().
			IncludePrefixes(cfg.IncludedPrefixes...).
			ExcludePrefixes(cfg.ExcludedPrefixes...).
			ExcludeNames(cfg.ExcludedNames...).
			Build(),
		encoder:   encoder,
		telemetry: telemetry,
		now:       time.Now,
		wait:      sleep,
	}, nil
}

// Start launches the push loop in the background. It returns an error if
// the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return errors.New("push scheduler already started")
	}

	ctx, cancel := context.WithCancel(ctx)

	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.run(ctx)
	}()

	s.log.WithFields(logrus.Fields{
		"url":      s.cfg.URL,
		"interval": s.cfg.Interval,
	}).Info("Push scheduler started")

	return nil
}

// Stop cancels the loop and waits for it to exit or ctx to expire. A push
// in progress is abandoned.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()

		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for push scheduler: %w", ctx.Err())
		}
	}

	s.closeOnce.Do(func() {
		s.closeErr = s.encoder.Close()
	})

	return s.closeErr
}

func (s *Scheduler) run(ctx context.Context) {
	next := s.now()

	for {
		if ctx.Err() != nil {
			return
		}

		if err := s.PushOnce(ctx); err != nil && ctx.Err() == nil {
			s.logFailure(err)
		}

		var skipped int64

		now := s.now()
		next, skipped = nextWake(next, now, s.cfg.Interval)

		if skipped > 0 {
			if s.telemetry != nil {
				s.telemetry.TicksSkipped.Add(float64(skipped))
			}

			s.log.WithField("skipped", skipped).Warn("Push overran its interval, skipping ticks")
		}

		if err := s.wait(ctx, next.Sub(now)); err != nil {
			return
		}
	}
}

// PushOnce snapshots the provider and pushes every accepted sample.
func (s *Scheduler) PushOnce(ctx context.Context) error {
	families, err := s.provider.Snapshot(s.accept)
	if err != nil {
		if s.telemetry != nil {
			s.telemetry.PushFailures.WithLabelValues(export.FailureSnapshot).Inc()
		}

		return fmt.Errorf("taking snapshot: %w", err)
	}

	var errs []error

	for _, f := range families {
		for _, sample := range f.Samples {
			if err := s.encoder.Add(ctx, sample); err != nil {
				errs = append(errs, err)
			}
		}
	}

	s.log.WithFields(logrus.Fields{
		"families": len(families),
		"pending":  s.encoder.Pending(),
	}).Debug("Flushing push cycle")

	if err := s.encoder.Flush(ctx); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (s *Scheduler) logFailure(err error) {
	log := s.log.WithError(err).WithField("url", s.cfg.URL)

	if IsUnexpectedResponse(err) {
		log.Warn("Collector did not acknowledge push")

		return
	}

	log.Warn("Failed to push batch, dropping it")
}

// nextWake returns the first tick after now on the grid prev+k*interval,
// k >= 1, and how many ticks in between were skipped.
func nextWake(prev, now time.Time, interval time.Duration) (time.Time, int64) {
	if now.Before(prev) {
		return prev.Add(interval), 0
	}

	steps := int64(now.Sub(prev)/interval) + 1

	return prev.Add(time.Duration(steps) * interval), steps - 1
}

// sleep blocks for d or until ctx is done, returning ctx.Err in that case.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
