package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/DeafMist/post-search/internal/config"
	"github.com/DeafMist/post-search/internal/elasticsearch"
	"github.com/DeafMist/post-search/internal/ingest"
	"github.com/DeafMist/post-search/internal/logger"
	"github.com/DeafMist/post-search/internal/models"
)

type indexStore interface {
	ingest.Store
	Index() string
	Ping(ctx context.Context) error
	Health(ctx context.Context) (string, error)
	DeleteIndex(ctx context.Context) error
	Stats(ctx context.Context) (models.Stats, error)
}

// app carries what every subcommand needs. connect is resolved lazily so
// --help never dials the cluster.
type app struct {
	log     *slog.Logger
	cfg     *config.Importer
	connect func() (indexStore, error)
}

type fileOutcome struct {
	File string `json:"file"`
	models.ImportOutcome
}

// MarshalJSON keeps the outcome fields at the top level next to the file name.
func (f fileOutcome) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(f.ImportOutcome)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	fields["file"] = f.File
	return json.Marshal(fields)
}

func main() {
	log := logger.New("importer")
	cfg, err := config.LoadImporter()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	a := &app{
		log: log,
		cfg: cfg,
		connect: func() (indexStore, error) {
			return elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log,
				elasticsearch.WithBasicAuth(cfg.ElasticsearchUsername, cfg.ElasticsearchPassword),
			)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "importer",
		Short:        "Load CSV post exports into Elasticsearch",
		SilenceUsage: true,
	}
	root.AddCommand(newRunCmd(a), newEnsureIndexCmd(a), newStatsCmd(a))
	return root
}

func newRunCmd(a *app) *cobra.Command {
	var (
		batchSize int
		recreate  bool
		parallel  int
	)

	cmd := &cobra.Command{
		Use:   "run [file...]",
		Short: "Import one or more CSV files",
		Long: `Imports each CSV file and prints one JSON outcome per file.
Without arguments the configured default file is imported.
Outcomes are printed in argument order. Exits non-zero when any import fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			files := args
			if len(files) == 0 {
				files = []string{a.cfg.DefaultFile}
			}

			store, err := a.connect()
			if err != nil {
				return fmt.Errorf("connect elasticsearch: %w", err)
			}
			if recreate {
				if err := store.DeleteIndex(cmd.Context()); err != nil {
					return fmt.Errorf("drop index: %w", err)
				}
				a.log.Info("index dropped", slog.String("index", store.Index()))
			}

			pipeline, err := ingest.New(store,
				ingest.WithBatchSize(batchSize),
				ingest.WithLogger(a.log),
			)
			if err != nil {
				return err
			}

			outcomes := make([]models.ImportOutcome, len(files))
			var g errgroup.Group
			g.SetLimit(max(parallel, 1))
			for i, file := range files {
				g.Go(func() error {
					outcomes[i] = pipeline.Import(cmd.Context(), file)
					return nil
				})
			}
			_ = g.Wait()

			enc := json.NewEncoder(cmd.OutOrStdout())
			failed := 0
			for i, file := range files {
				if !outcomes[i].Success {
					failed++
				}
				if err := enc.Encode(fileOutcome{File: file, ImportOutcome: outcomes[i]}); err != nil {
					return fmt.Errorf("write outcome: %w", err)
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d imports failed", failed, len(files))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&batchSize, "batch-size", "b", a.cfg.BatchSize, "records per bulk request")
	cmd.Flags().BoolVar(&recreate, "recreate", a.cfg.RecreateIndex, "drop the index before importing")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 1, "files imported concurrently")
	return cmd
}

func newEnsureIndexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ensure-index",
		Short: "Create the post index with its mapping if missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.connect()
			if err != nil {
				return fmt.Errorf("connect elasticsearch: %w", err)
			}
			if err := store.Ping(cmd.Context()); err != nil {
				return err
			}
			if err := store.EnsureIndex(cmd.Context()); err != nil {
				return err
			}
			status, err := store.Health(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "index %s ready (cluster %s)\n", store.Index(), status)
			return nil
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print index statistics as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.connect()
			if err != nil {
				return fmt.Errorf("connect elasticsearch: %w", err)
			}
			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			data, err := json.MarshalIndent(stats, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}
