// Package service exposes the read and refresh operations the HTTP layer
// serves: the event list with fresh anomaly flags, the location risk
// ranking, on-demand refresh and live update subscriptions.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/quake-feed-service/internal/analysis"
	"github.com/couchcryptid/quake-feed-service/internal/domain"
	"github.com/couchcryptid/quake-feed-service/internal/notify"
	"github.com/couchcryptid/quake-feed-service/internal/observability"
	"github.com/couchcryptid/quake-feed-service/internal/pipeline"
	"golang.org/x/time/rate"
)

// EventRepository is the store surface the service reads and flags.
type EventRepository interface {
	ListAll(ctx context.Context) ([]domain.StoredEvent, error)
	CountAll(ctx context.Context) (int, error)
	UpdateAnomalyFlags(ctx context.Context, flags map[domain.EventKey]bool) error
}

// Subscriber hands out update subscriptions bound to a context.
type Subscriber interface {
	SubscribeContext(ctx context.Context) *notify.Subscription
}

// RefreshResult reports an on-demand refresh.
type RefreshResult struct {
	NewCount int `json:"new_count"`
	Total    int `json:"total"`
}

// Service implements the operations behind the public endpoints.
type Service struct {
	store    EventRepository
	ingester pipeline.Ingester
	hub      Subscriber
	detector *analysis.Detector
	ranker   *analysis.Ranker
	limiter  *rate.Limiter
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// New creates a Service. Refreshes closer together than refreshEvery are
// rejected; zero disables the limit.
func New(store EventRepository, ingester pipeline.Ingester, hub Subscriber, detector *analysis.Detector, ranker *analysis.Ranker, refreshEvery time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Service {
	limit := rate.Inf
	if refreshEvery > 0 {
		limit = rate.Every(refreshEvery)
	}
	return &Service{
		store:    store,
		ingester: ingester,
		hub:      hub,
		detector: detector,
		ranker:   ranker,
		limiter:  rate.NewLimiter(limit, 1),
		logger:   logger,
		metrics:  metrics,
	}
}

// ListEvents returns every stored event, newest first, with anomaly flags
// recomputed over the whole set. Flags that changed are written back.
// An empty store is seeded with one ingestion pass first.
func (s *Service) ListEvents(ctx context.Context) ([]domain.StoredEvent, error) {
	s.seedIfEmpty(ctx)

	events, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	scored := s.detector.Score(events)
	changed := make(map[domain.EventKey]bool)
	flagged := 0
	for i := range scored {
		if scored[i].IsAnomaly {
			flagged++
		}
		if scored[i].IsAnomaly != events[i].IsAnomaly {
			changed[scored[i].Key()] = scored[i].IsAnomaly
		}
	}
	s.metrics.AnomaliesFlagged.Set(float64(flagged))

	if len(changed) > 0 {
		if err := s.store.UpdateAnomalyFlags(ctx, changed); err != nil {
			s.logger.Error("write back anomaly flags failed", "error", err, "changed", len(changed))
		} else {
			s.logger.Debug("anomaly flags updated", "changed", len(changed), "flagged", flagged)
		}
	}
	return scored, nil
}

// RankRisk returns the location risk ranking under the configured policy.
func (s *Service) RankRisk(ctx context.Context) ([]analysis.LocationRisk, error) {
	s.seedIfEmpty(ctx)

	events, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return s.ranker.Rank(events), nil
}

// TriggerRefresh runs one ingestion pass now. It returns
// domain.ErrRefreshThrottled when called again too soon.
func (s *Service) TriggerRefresh(ctx context.Context) (RefreshResult, error) {
	if !s.limiter.Allow() {
		return RefreshResult{}, domain.ErrRefreshThrottled
	}

	res, err := s.ingester.Ingest(ctx)
	if err != nil {
		return RefreshResult{}, err
	}

	total, err := s.store.CountAll(ctx)
	if err != nil {
		return RefreshResult{}, err
	}
	s.logger.Info("manual refresh complete", "new_count", res.Inserted, "total", total)
	return RefreshResult{NewCount: res.Inserted, Total: total}, nil
}

// SubscribeToUpdates registers a live update subscription that ends when
// ctx is done.
func (s *Service) SubscribeToUpdates(ctx context.Context) *notify.Subscription {
	return s.hub.SubscribeContext(ctx)
}

func (s *Service) seedIfEmpty(ctx context.Context) {
	n, err := s.store.CountAll(ctx)
	if err != nil || n > 0 {
		return
	}
	s.logger.Info("store is empty, running first ingestion")
	if _, err := s.ingester.Ingest(ctx); err != nil {
		s.logger.Warn("first ingestion failed, serving empty result", "error", err)
	}
}
