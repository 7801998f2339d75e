package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DeafMist/post-search/internal/config"
	"github.com/DeafMist/post-search/internal/elasticsearch"
	"github.com/DeafMist/post-search/internal/logger"
)

const (
	maxConnectAttempts = 10
	maxRetryDelay      = 30 * time.Second
)

type pruner interface {
	Ping(ctx context.Context) error
	DeleteOlderThan(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
	Count(ctx context.Context) (int64, error)
}

func main() {
	log := logger.New("retention")
	cfg, err := config.LoadRetention()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	esClient, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log,
		elasticsearch.WithBasicAuth(cfg.ElasticsearchUsername, cfg.ElasticsearchPassword),
	)
	if err != nil {
		log.Error("init elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if !waitForStore(ctx, log, esClient, 2*time.Second) {
		if ctx.Err() != nil {
			log.Info("shutdown signal received during startup")
			return
		}
		log.Error("failed to connect to elasticsearch after retries")
		os.Exit(1)
	}
	log.Info("connected to elasticsearch", slog.String("index", esClient.Index()))

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	log.Info("retention job running",
		slog.Duration("interval", cfg.Interval),
		slog.Duration("max_age", cfg.MaxAge),
		slog.Int("batch_size", cfg.BatchSize),
	)

	sweep(ctx, log, esClient, cfg.MaxAge, cfg.BatchSize)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return
		case <-ticker.C:
			sweep(ctx, log, esClient, cfg.MaxAge, cfg.BatchSize)
		}
	}
}

// waitForStore pings until the cluster answers, doubling the delay between
// attempts up to maxRetryDelay.
func waitForStore(ctx context.Context, log *slog.Logger, store pruner, delay time.Duration) bool {
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := store.Ping(pingCtx)
		cancel()
		if err == nil {
			return true
		}

		log.Warn("elasticsearch ping failed, retrying",
			slog.Any("err", err),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxConnectAttempts),
			slog.Duration("retry_in", delay),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false
		}
		delay = min(delay*2, maxRetryDelay)
	}
	return false
}

// sweep removes posts published before now-maxAge. Failures are logged and
// retried on the next tick.
func sweep(ctx context.Context, log *slog.Logger, store pruner, maxAge time.Duration, batchSize int) int64 {
	subCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	deleted, err := store.DeleteOlderThan(subCtx, maxAge, batchSize)
	if err != nil {
		log.Warn("retention run failed (will retry on next interval)", slog.Any("err", err))
		return 0
	}

	if deleted == 0 {
		log.Debug("retention run completed, no old posts found")
		return 0
	}

	remaining, err := store.Count(subCtx)
	if err != nil {
		log.Info("retention run completed", slog.Int64("deleted", deleted))
		return deleted
	}
	log.Info("retention run completed",
		slog.Int64("deleted", deleted),
		slog.Int64("remaining", remaining),
	)
	return deleted
}
