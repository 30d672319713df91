package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/couchcryptid/quake-feed-service/internal/digest"
	"github.com/couchcryptid/quake-feed-service/internal/domain"
	"github.com/couchcryptid/quake-feed-service/internal/observability"
	"golang.org/x/sync/semaphore"
)

// BlockIngester ingests an already-fetched feed block.
type BlockIngester interface {
	IngestBlock(ctx context.Context, block string) (Result, error)
}

// Watcher detects feed changes by comparing the SHA-256 of the trimmed
// data block with the last persisted digest, and ingests the block when it
// differs. At most one check runs at a time; a check that finds another in
// flight returns immediately without fetching.
type Watcher struct {
	source   FeedSource
	digests  digest.Store
	ingester BlockIngester
	sem      *semaphore.Weighted
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewWatcher creates a Watcher.
func NewWatcher(source FeedSource, digests digest.Store, ingester BlockIngester, logger *slog.Logger, metrics *observability.Metrics) *Watcher {
	return &Watcher{
		source:   source,
		digests:  digests,
		ingester: ingester,
		sem:      semaphore.NewWeighted(1),
		logger:   logger,
		metrics:  metrics,
	}
}

// CheckAndMaybeTrigger runs one change check and reports whether ingestion
// was triggered. Fetch failures and a missing block count as no change and
// leave the saved digest untouched. An unknown digest counts as changed.
func (w *Watcher) CheckAndMaybeTrigger(ctx context.Context) (bool, error) {
	if !w.sem.TryAcquire(1) {
		w.metrics.WatcherChecks.WithLabelValues(observability.CheckSkipped).Inc()
		w.logger.Debug("change check already in flight, skipping")
		return false, nil
	}
	defer w.sem.Release(1)

	block, err := w.source.FetchBlock(ctx)
	if errors.Is(err, domain.ErrFeedBlockMissing) {
		w.metrics.FeedBlockMissing.Inc()
		w.metrics.WatcherChecks.WithLabelValues(observability.CheckUnchanged).Inc()
		w.logger.Debug("feed block missing, treating as unchanged")
		return false, nil
	}
	if err != nil {
		w.metrics.FetchFailures.WithLabelValues("watch").Inc()
		w.metrics.WatcherChecks.WithLabelValues(observability.CheckFailed).Inc()
		w.logger.Error("change check fetch failed", "error", err)
		return false, err
	}

	sum := digest.Of(block)
	prev, known, err := w.digests.Load(ctx)
	if err != nil {
		w.logger.Warn("load feed digest failed, assuming changed", "error", err)
		known = false
	}
	if known && prev == sum {
		w.metrics.WatcherChecks.WithLabelValues(observability.CheckUnchanged).Inc()
		return false, nil
	}

	if err := w.digests.Save(ctx, sum); err != nil {
		w.logger.Error("save feed digest failed", "error", err)
	}
	w.metrics.WatcherChecks.WithLabelValues(observability.CheckChanged).Inc()
	w.logger.Info("feed content changed, ingesting", "digest", sum[:12], "first_check", !known)

	if _, err := w.ingester.IngestBlock(ctx, block); err != nil {
		return true, err
	}
	return true, nil
}
