package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/quake-feed-service/internal/domain"
	"github.com/couchcryptid/quake-feed-service/internal/observability"
)

// driftThreshold is how many consecutive non-empty blocks may parse to zero
// events before the feed is reported as drifted.
const driftThreshold = 3

// FeedSource fetches the raw <pre> block of the feed page.
type FeedSource interface {
	FetchBlock(ctx context.Context) (string, error)
}

// EventStore inserts events whose dedupe key is absent and returns them.
type EventStore interface {
	InsertNew(ctx context.Context, events []domain.Event) ([]domain.Event, error)
}

// Notifier delivers an update to live subscribers.
type Notifier interface {
	Broadcast(u domain.Update) (delivered, dropped int)
}

// EventPublisher forwards newly inserted events downstream.
type EventPublisher interface {
	PublishEvents(ctx context.Context, events []domain.Event) error
}

// Result summarizes one ingestion pass.
type Result struct {
	Parsed   int
	Skipped  int
	Inserted int
}

// Pipeline is the ingestion entrypoint shared by the scheduler, the change
// watcher and on-demand refreshes: fetch, parse, dedupe-insert, notify.
// Passes are serialized so concurrent callers never interleave inserts.
type Pipeline struct {
	source    FeedSource
	store     EventStore
	notifier  Notifier
	publisher EventPublisher
	logger    *slog.Logger
	metrics   *observability.Metrics

	mu         sync.Mutex
	emptyRuns  int
	ready      atomic.Bool
	lastIngest atomic.Int64 // unix nanos of the last successful pass
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPublisher forwards inserted events to pub after each pass.
func WithPublisher(pub EventPublisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// New creates a Pipeline.
func New(source FeedSource, store EventStore, notifier Notifier, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:   source,
		store:    store,
		notifier: notifier,
		logger:   logger,
		metrics:  metrics,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckReadiness returns nil once a pass has completed successfully.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no ingestion pass has completed yet")
	}
	return nil
}

// Ready reports whether a pass has completed successfully.
func (p *Pipeline) Ready() bool {
	return p.ready.Load()
}

// LastIngest returns when the last successful pass finished, or the zero
// time if none has.
func (p *Pipeline) LastIngest() time.Time {
	n := p.lastIngest.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Ingest fetches the feed and ingests it. A page without a data block is
// zero records, not a failure. Fetch and store failures are returned; the
// store is left unchanged.
func (p *Pipeline) Ingest(ctx context.Context) (Result, error) {
	block, err := p.source.FetchBlock(ctx)
	if errors.Is(err, domain.ErrFeedBlockMissing) {
		p.metrics.FeedBlockMissing.Inc()
		p.metrics.IngestPasses.WithLabelValues(observability.OutcomeEmpty).Inc()
		p.logger.Debug("feed block missing, nothing to ingest")
		return Result{}, nil
	}
	if err != nil {
		p.metrics.FetchFailures.WithLabelValues("ingest").Inc()
		p.metrics.IngestPasses.WithLabelValues(observability.OutcomeFetchError).Inc()
		p.logger.Error("feed fetch failed", "error", err)
		return Result{}, err
	}
	return p.IngestBlock(ctx, block)
}

// IngestBlock ingests an already-fetched feed block.
func (p *Pipeline) IngestBlock(ctx context.Context, block string) (Result, error) {
	res, inserted, err := p.ingest(ctx, block)
	if err != nil {
		return res, err
	}
	if len(inserted) > 0 {
		p.announce(ctx, inserted)
	}
	return res, nil
}

func (p *Pipeline) ingest(ctx context.Context, block string) (Result, []domain.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	parsed := domain.ParseFeed(block)
	res := Result{Parsed: len(parsed.Events), Skipped: parsed.Skipped}

	p.metrics.EventsParsed.Add(float64(res.Parsed))
	p.metrics.MalformedRecords.Add(float64(res.Skipped))
	if res.Skipped > 0 {
		p.logger.Debug("malformed feed rows skipped", "skipped", res.Skipped, "candidates", parsed.Candidates)
	}
	p.trackDrift(block, res.Parsed)

	inserted, err := p.store.InsertNew(ctx, parsed.Events)
	if err != nil {
		p.metrics.PersistenceFailures.Inc()
		p.metrics.IngestPasses.WithLabelValues(observability.OutcomePersistError).Inc()
		p.logger.Error("insert events failed, pass rolled back", "error", err, "parsed", res.Parsed)
		return res, nil, err
	}
	res.Inserted = len(inserted)

	outcome := observability.OutcomeUnchanged
	switch {
	case res.Inserted > 0:
		outcome = observability.OutcomeInserted
	case res.Parsed == 0:
		outcome = observability.OutcomeEmpty
	}
	p.metrics.EventsInserted.Add(float64(res.Inserted))
	p.metrics.IngestPasses.WithLabelValues(outcome).Inc()
	p.metrics.IngestDuration.Observe(time.Since(start).Seconds())
	p.ready.Store(true)
	p.lastIngest.Store(time.Now().UnixNano())

	p.logger.Info("ingestion pass complete",
		"parsed", res.Parsed,
		"skipped", res.Skipped,
		"new_count", res.Inserted,
		"duration", time.Since(start),
	)
	return res, inserted, nil
}

// trackDrift watches for a feed whose layout no longer matches the column
// offsets: rows keep arriving but none parse.
func (p *Pipeline) trackDrift(block string, parsed int) {
	if parsed > 0 {
		if p.emptyRuns >= driftThreshold {
			p.logger.Info("feed rows parse again", "previous_empty_passes", p.emptyRuns)
		}
		p.emptyRuns = 0
		p.metrics.FormatDrift.Set(0)
		return
	}
	if strings.TrimSpace(block) == "" {
		return
	}

	p.emptyRuns++
	if p.emptyRuns == driftThreshold {
		p.metrics.FormatDrift.Set(1)
		p.logger.Warn("feed block is non-empty but no rows parse, column layout may have changed",
			"consecutive_passes", p.emptyRuns)
	}
}

func (p *Pipeline) announce(ctx context.Context, inserted []domain.Event) {
	update := domain.NewUpdate(len(inserted))
	delivered, dropped := p.notifier.Broadcast(update)
	p.logger.Debug("update broadcast", "new_count", update.NewCount, "delivered", delivered, "dropped", dropped)

	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishEvents(ctx, inserted); err != nil {
		p.metrics.KafkaPublishFailures.Inc()
		p.logger.Warn("publish inserted events failed", "error", err, "count", len(inserted))
		return
	}
	p.metrics.KafkaPublished.Add(float64(len(inserted)))
}
