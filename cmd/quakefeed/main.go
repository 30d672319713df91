package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/quake-feed-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/quake-feed-service/internal/adapter/kafka"
	"github.com/couchcryptid/quake-feed-service/internal/adapter/kandilli"
	"github.com/couchcryptid/quake-feed-service/internal/analysis"
	"github.com/couchcryptid/quake-feed-service/internal/config"
	"github.com/couchcryptid/quake-feed-service/internal/digest"
	"github.com/couchcryptid/quake-feed-service/internal/notify"
	"github.com/couchcryptid/quake-feed-service/internal/observability"
	"github.com/couchcryptid/quake-feed-service/internal/pipeline"
	"github.com/couchcryptid/quake-feed-service/internal/service"
	"github.com/couchcryptid/quake-feed-service/internal/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.Open(ctx, cfg.DBPath)
	if err != nil {
		logger.Error("failed to open event store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}

	digests, err := openDigestStore(cfg, logger)
	if err != nil {
		logger.Error("failed to open digest store", "backend", cfg.DigestBackend, "error", err)
		_ = store.Close()
		os.Exit(1)
	}

	hub := notify.NewHub(cfg.NotifyBuffer, logger, metrics)

	// The watcher gets its own client so a slow check cannot hold the
	// ingestion timeout.
	feed := kandilli.NewClient(cfg.FeedURL, cfg.FeedTimeout, logger)
	watchFeed := kandilli.NewClient(cfg.FeedURL, cfg.WatchTimeout, logger)

	var opts []pipeline.Option
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		opts = append(opts, pipeline.WithPublisher(writer))
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	} else {
		logger.Info("kafka publishing disabled")
	}

	p := pipeline.New(feed, store, hub, logger, metrics, opts...)
	watcher := pipeline.NewWatcher(watchFeed, digests, p, logger, metrics)
	scheduler := pipeline.NewScheduler(p, watcher, cfg.IngestInterval, cfg.WatchInterval, logger, metrics)

	svc := service.New(store, p, hub,
		analysis.NewDetector(cfg.Anomaly),
		analysis.NewRanker(cfg.RiskPolicy),
		cfg.RefreshMinInterval, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, svc, p, cfg.FeedTimeout, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start scheduled ingestion and change watching.
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := scheduler.Run(ctx); err != nil {
			logger.Error("scheduler error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Closing the hub ends every open stream so Shutdown can drain.
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
		logger.Warn("scheduler did not stop before shutdown timeout")
	}

	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if err := digests.Close(); err != nil {
		logger.Error("digest store close error", "error", err)
	}
	if err := store.Close(); err != nil {
		logger.Error("event store close error", "error", err)
	}

	logger.Info("shutdown complete")
}

func openDigestStore(cfg *config.Config, logger *slog.Logger) (digest.Store, error) {
	if cfg.DigestBackend == config.DigestBackendBadger {
		logger.Info("feed digest stored in badger", "dir", cfg.DigestPath)
		return digest.OpenBadger(cfg.DigestPath, logger)
	}
	logger.Info("feed digest stored in file", "path", cfg.DigestPath)
	return digest.NewFileStore(cfg.DigestPath), nil
}
