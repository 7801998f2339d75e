// Package ingest imports CSV exports of posts into the document store.
//
// An import streams the file row by row, normalizes each row into a
// models.Record with a deterministic ID, and writes the records in fixed-size
// bulk upserts. Per-document rejections do not stop the import. After the last
// batch the index is refreshed so the data is searchable when Import returns.
package ingest

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/DeafMist/post-search/internal/metrics"
	"github.com/DeafMist/post-search/internal/models"
	"github.com/DeafMist/post-search/internal/processing"
)

// DefaultBatchSize is the number of records sent per bulk request.
const DefaultBatchSize = 500

// Store is the document store the pipeline writes to.
type Store interface {
	EnsureIndex(ctx context.Context) error
	BulkUpsert(ctx context.Context, records []models.Record) (models.BulkResult, error)
	Refresh(ctx context.Context) error
}

// Pipeline imports CSV files into a Store. A Pipeline holds no per-import
// state, so one instance can serve every import of the process.
type Pipeline struct {
	store     Store
	batchSize int
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBatchSize sets the number of records per bulk request.
// Non-positive values keep DefaultBatchSize.
func WithBatchSize(size int) Option {
	return func(p *Pipeline) {
		if size > 0 {
			p.batchSize = size
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.log = logger
		}
	}
}

// WithMetrics records import activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// New creates a pipeline writing to store.
func New(store Store, opts ...Option) (*Pipeline, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}

	p := &Pipeline{
		store:     store,
		batchSize: DefaultBatchSize,
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Import reads the CSV file at path into the store and reports the outcome.
// A missing or unreadable file fails before anything is written.
func (p *Pipeline) Import(ctx context.Context, path string) models.ImportOutcome {
	start := time.Now()
	log := p.log.With(slog.String("file", path))

	f, err := os.Open(path)
	if err != nil {
		err = &sourceNotFoundError{path: path, cause: err}
		log.Warn("import source unavailable", slog.Any("err", err))
		p.metrics.ObserveImport(false, time.Since(start).Seconds())
		return models.ImportOutcome{Success: false, Error: err.Error()}
	}
	defer f.Close()

	outcome := p.ImportReader(ctx, path, f)
	p.metrics.ObserveImport(outcome.Success, time.Since(start).Seconds())
	return outcome
}

// ImportReader imports CSV data read from r. name only labels log lines.
func (p *Pipeline) ImportReader(ctx context.Context, name string, r io.Reader) models.ImportOutcome {
	log := p.log.With(slog.String("file", name))

	count, failures, err := p.run(ctx, log, r)
	if err != nil {
		log.Error("import failed", slog.Int("rows", count), slog.Any("err", err))
		return models.ImportOutcome{Success: false, Count: count, Failures: failures, Error: err.Error()}
	}

	log.Info("import completed",
		slog.Int("rows", count),
		slog.Int("rejected", len(failures)),
	)
	return models.ImportOutcome{Success: true, Count: count, Failures: failures}
}

func (p *Pipeline) run(ctx context.Context, log *slog.Logger, r io.Reader) (int, []models.BulkFailure, error) {
	reader := csv.NewReader(bufio.NewReader(r))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	rawHeader, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return 0, nil, ErrMissingHeader
	}
	if err != nil {
		return 0, nil, fmt.Errorf("read header: %w", err)
	}
	header := processing.NormalizeHeader(rawHeader)
	if missing := missingColumns(header); len(missing) > 0 {
		log.Warn("recognized columns missing from header", slog.Any("columns", missing))
	}

	if err := p.store.EnsureIndex(ctx); err != nil {
		return 0, nil, fmt.Errorf("ensure index: %w", err)
	}

	var (
		count    int
		failures []models.BulkFailure
		batch    = make([]models.Record, 0, p.batchSize)
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		result, err := p.store.BulkUpsert(ctx, batch)
		if err != nil {
			return fmt.Errorf("bulk upsert of %d records: %w", len(batch), err)
		}
		p.metrics.ObserveBulk(len(result.Failures))
		if len(result.Failures) > 0 {
			log.Warn("bulk upsert rejected documents",
				slog.Int("batch", len(batch)),
				slog.Int("rejected", len(result.Failures)),
				slog.String("first_reason", result.Failures[0].Reason),
			)
			failures = append(failures, result.Failures...)
		}
		batch = batch[:0]
		return nil
	}

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return count, failures, fmt.Errorf("read row %d: %w", count+1, err)
		}

		rec, issues := processing.NormalizeRow(header, row)
		for _, issue := range issues {
			p.metrics.FieldCoerced(issue.Field)
			log.Debug("defaulted field",
				slog.String("id", rec.ID),
				slog.String("field", issue.Field),
				slog.String("value", issue.Value),
			)
		}

		batch = append(batch, rec)
		count++
		p.metrics.AddRows(1)

		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				return count, failures, err
			}
		}
	}

	if err := flush(); err != nil {
		return count, failures, err
	}

	if err := p.store.Refresh(ctx); err != nil {
		return count, failures, fmt.Errorf("refresh: %w", err)
	}

	return count, failures, nil
}

func missingColumns(header []string) []string {
	present := make(map[string]struct{}, len(header))
	for _, name := range header {
		present[name] = struct{}{}
	}

	var missing []string
	for _, group := range [][]string{models.TextFields, models.CounterFields} {
		for _, name := range group {
			if _, ok := present[name]; !ok {
				missing = append(missing, name)
			}
		}
	}
	return missing
}
