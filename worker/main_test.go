package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/post-search/internal/dedupe"
	"github.com/DeafMist/post-search/internal/models"
)

type stubImporter struct {
	paths   []string
	outcome models.ImportOutcome
}

func (s *stubImporter) Import(_ context.Context, path string) models.ImportOutcome {
	s.paths = append(s.paths, path)
	return s.outcome
}

func newMessage(t *testing.T, req importRequest) kafka.Message {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return kafka.Message{Value: data}
}

func writeFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "posts.csv")
	require.NoError(t, os.WriteFile(path, []byte("status_message\nhello\n"), 0o600))
	return path
}

func TestProcessMessageImportsFile(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := dedupe.NewCache(100, time.Hour)
	imp := &stubImporter{outcome: models.ImportOutcome{Success: true, Count: 1}}
	path := writeFile(t)

	msg := newMessage(t, importRequest{ID: "job-1", Filename: path})

	require.NoError(t, processMessage(context.Background(), log, imp, cache, msg))
	require.Equal(t, []string{path}, imp.paths)

	// Redelivery of the same unchanged file is skipped.
	require.NoError(t, processMessage(context.Background(), log, imp, cache, msg))
	require.Len(t, imp.paths, 1)
}

func TestProcessMessageReimportsChangedFile(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := dedupe.NewCache(100, time.Hour)
	imp := &stubImporter{outcome: models.ImportOutcome{Success: true, Count: 1}}
	path := writeFile(t)
	msg := newMessage(t, importRequest{Filename: path})

	require.NoError(t, processMessage(context.Background(), log, imp, cache, msg))
	require.NoError(t, os.WriteFile(path, []byte("status_message\nhello\nagain\n"), 0o600))
	require.NoError(t, processMessage(context.Background(), log, imp, cache, msg))

	require.Len(t, imp.paths, 2)
}

func TestProcessMessageForceBypassesDedupe(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := dedupe.NewCache(100, time.Hour)
	imp := &stubImporter{outcome: models.ImportOutcome{Success: true, Count: 1}}
	path := writeFile(t)

	require.NoError(t, processMessage(context.Background(), log, imp, cache, newMessage(t, importRequest{Filename: path})))
	require.NoError(t, processMessage(context.Background(), log, imp, cache, newMessage(t, importRequest{Filename: path, Force: true})))

	require.Len(t, imp.paths, 2)
	require.Equal(t, 1, cache.Len())
}

func TestProcessMessageFailedImport(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := dedupe.NewCache(100, time.Hour)
	missing := filepath.Join(t.TempDir(), "missing.csv")
	imp := &stubImporter{outcome: models.ImportOutcome{Success: false, Error: "File '" + missing + "' not found"}}

	err := processMessage(context.Background(), log, imp, cache, newMessage(t, importRequest{Filename: missing}))

	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
	require.Zero(t, cache.Len())
}

func TestProcessMessageRejectsBadPayloads(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := dedupe.NewCache(100, time.Hour)
	imp := &stubImporter{}

	require.Error(t, processMessage(context.Background(), log, imp, cache, kafka.Message{Value: []byte("not json")}))
	require.Error(t, processMessage(context.Background(), log, imp, cache, newMessage(t, importRequest{ID: "x"})))
	require.Empty(t, imp.paths)
}
