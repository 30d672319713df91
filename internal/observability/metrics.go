package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quakefeed"

// Ingestion pass outcomes.
const (
	OutcomeInserted     = "inserted"
	OutcomeUnchanged    = "unchanged"
	OutcomeEmpty        = "empty"
	OutcomeFetchError   = "fetch_error"
	OutcomePersistError = "persist_error"
)

// Change watcher check outcomes.
const (
	CheckChanged   = "changed"
	CheckUnchanged = "unchanged"
	CheckSkipped   = "skipped"
	CheckFailed    = "failed"
)

// Metrics holds the Prometheus collectors for ingestion, change detection
// and update delivery.
type Metrics struct {
	IngestPasses        *prometheus.CounterVec // labels: outcome
	IngestDuration      prometheus.Histogram
	EventsParsed        prometheus.Counter
	MalformedRecords    prometheus.Counter
	EventsInserted      prometheus.Counter
	FeedBlockMissing    prometheus.Counter
	FetchFailures       *prometheus.CounterVec // labels: caller={ingest,watch}
	PersistenceFailures prometheus.Counter
	FormatDrift         prometheus.Gauge

	WatcherChecks    *prometheus.CounterVec // labels: outcome
	SchedulerRunning prometheus.Gauge

	NotificationsDelivered prometheus.Counter
	NotificationsDropped   prometheus.Counter
	Subscribers            prometheus.Gauge

	AnomaliesFlagged     prometheus.Gauge
	KafkaPublished       prometheus.Counter
	KafkaPublishFailures prometheus.Counter
}

// NewMetrics creates all metrics and registers them with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered metrics so tests can build as
// many as they like without "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		IngestPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_passes_total",
			Help:      "Ingestion passes by outcome.",
		}, []string{"outcome"}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Duration of a complete fetch-parse-insert-notify pass.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		EventsParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_parsed_total",
			Help:      "Feed rows parsed into events.",
		}),
		MalformedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_records_total",
			Help:      "Data rows dropped because a field failed to parse.",
		}),
		EventsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_inserted_total",
			Help:      "Events stored for the first time.",
		}),
		FeedBlockMissing: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_block_missing_total",
			Help:      "Feed pages fetched without a <pre> block.",
		}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Failed feed requests by caller.",
		}, []string{"caller"}),
		PersistenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Ingestion passes rolled back by a store error.",
		}),
		FormatDrift: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_format_drift",
			Help:      "1 while consecutive non-empty feed blocks parse to zero events.",
		}),
		WatcherChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watcher_checks_total",
			Help:      "Change watcher ticks by outcome.",
		}, []string{"outcome"}),
		SchedulerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running",
			Help:      "1 while the periodic scheduler is active, 0 when stopped.",
		}),
		NotificationsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_delivered_total",
			Help:      "Update messages queued to a subscriber.",
		}),
		NotificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Update messages dropped because a subscriber queue was full.",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Live update subscribers.",
		}),
		AnomaliesFlagged: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "anomalies_flagged",
			Help:      "Events flagged anomalous by the latest scoring pass.",
		}),
		KafkaPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_published_total",
			Help:      "Inserted events published to Kafka.",
		}),
		KafkaPublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_failures_total",
			Help:      "Batches of inserted events that could not be published.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.IngestPasses,
		m.IngestDuration,
		m.EventsParsed,
		m.MalformedRecords,
		m.EventsInserted,
		m.FeedBlockMissing,
		m.FetchFailures,
		m.PersistenceFailures,
		m.FormatDrift,
		m.WatcherChecks,
		m.SchedulerRunning,
		m.NotificationsDelivered,
		m.NotificationsDropped,
		m.Subscribers,
		m.AnomaliesFlagged,
		m.KafkaPublished,
		m.KafkaPublishFailures,
	}
}
