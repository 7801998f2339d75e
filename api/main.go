package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/DeafMist/post-search/internal/config"
	"github.com/DeafMist/post-search/internal/elasticsearch"
	"github.com/DeafMist/post-search/internal/ingest"
	"github.com/DeafMist/post-search/internal/logger"
	"github.com/DeafMist/post-search/internal/metrics"
)

func main() {
	log := logger.New("api")
	cfg, err := config.LoadAPI()
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

	if err := prepareIndex(ctx, esClient, cfg.RecreateIndex); err != nil {
		log.Error("prepare index", slog.Any("err", err))
		os.Exit(1)
	}
	log.Info("connected to elasticsearch", slog.String("index", esClient.Index()))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	pipeline, err := ingest.New(esClient,
		ingest.WithBatchSize(cfg.BatchSize),
		ingest.WithLogger(log),
		ingest.WithMetrics(m),
	)
	if err != nil {
		log.Error("init pipeline", slog.Any("err", err))
		os.Exit(1)
	}

	srv := &server{
		log:      log,
		cfg:      cfg,
		store:    esClient,
		importer: pipeline,
		metrics:  m,
		gatherer: registry,
	}

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
	}

	go func() {
		log.Info("api server starting", slog.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", slog.Any("err", err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", slog.Any("err", err))
	}
}

// prepareIndex checks connectivity and makes sure the post index exists,
// dropping it first when a fresh start was requested.
func prepareIndex(ctx context.Context, es *elasticsearch.Client, recreate bool) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := es.Ping(ctx); err != nil {
		return err
	}
	if recreate {
		if err := es.DeleteIndex(ctx); err != nil {
			return err
		}
	}
	return es.EnsureIndex(ctx)
}
