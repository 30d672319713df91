package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/quake-feed-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

// Ingester runs one full ingestion pass.
type Ingester interface {
	Ingest(ctx context.Context) (Result, error)
}

// ChangeChecker runs one change-gated ingestion check.
type ChangeChecker interface {
	CheckAndMaybeTrigger(ctx context.Context) (bool, error)
}

// Scheduler drives two periodic tasks: an unconditional ingestion on a
// coarse interval and a change-gated check on a finer one. Failures are
// absorbed; the next tick is the retry.
type Scheduler struct {
	ingester    Ingester
	checker     ChangeChecker
	ingestEvery time.Duration
	watchEvery  time.Duration
	clock       clockwork.Clock
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock replaces the real clock, for tests.
func WithClock(c clockwork.Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

// NewScheduler creates a Scheduler.
func NewScheduler(ingester Ingester, checker ChangeChecker, ingestEvery, watchEvery time.Duration, logger *slog.Logger, metrics *observability.Metrics, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		ingester:    ingester,
		checker:     checker,
		ingestEvery: ingestEvery,
		watchEvery:  watchEvery,
		clock:       clockwork.NewRealClock(),
		logger:      logger,
		metrics:     metrics,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run checks the feed once, then runs both periodic tasks until ctx is
// cancelled. It returns after the tasks have stopped.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "ingest_interval", s.ingestEvery, "watch_interval", s.watchEvery)
	s.metrics.SchedulerRunning.Set(1)
	defer s.metrics.SchedulerRunning.Set(0)

	ingestTicker := s.clock.NewTicker(s.ingestEvery)
	defer ingestTicker.Stop()
	watchTicker := s.clock.NewTicker(s.watchEvery)
	defer watchTicker.Stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.loop(ctx, ingestTicker.Chan(), s.runIngest)
	}()
	go func() {
		defer wg.Done()
		s.runCheck(ctx)
		s.loop(ctx, watchTicker.Chan(), s.runCheck)
	}()
	wg.Wait()

	s.logger.Info("scheduler stopped", "reason", ctx.Err())
	return nil
}

func (s *Scheduler) loop(ctx context.Context, ticks <-chan time.Time, task func(context.Context)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticks:
			task(ctx)
		}
	}
}

// Both tasks log their own failures.
func (s *Scheduler) runIngest(ctx context.Context) {
	if _, err := s.ingester.Ingest(ctx); err != nil && ctx.Err() == nil {
		s.logger.Debug("scheduled ingestion failed, retrying next tick", "error", err)
	}
}

func (s *Scheduler) runCheck(ctx context.Context) {
	if _, err := s.checker.CheckAndMaybeTrigger(ctx); err != nil && ctx.Err() == nil {
		s.logger.Debug("change check failed, retrying next tick", "error", err)
	}
}
