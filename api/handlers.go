package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DeafMist/post-search/internal/config"
	"github.com/DeafMist/post-search/internal/elasticsearch"
	"github.com/DeafMist/post-search/internal/metrics"
	"github.com/DeafMist/post-search/internal/models"
)

type postStore interface {
	Ping(ctx context.Context) error
	Search(ctx context.Context, params elasticsearch.SearchParams) ([]models.Hit, error)
	GetPost(ctx context.Context, id string) (models.Hit, error)
	DeletePost(ctx context.Context, id string) error
	Similar(ctx context.Context, id string, size int) ([]models.Hit, error)
	Stats(ctx context.Context) (models.Stats, error)
}

type importer interface {
	Import(ctx context.Context, path string) models.ImportOutcome
}

type server struct {
	log      *slog.Logger
	cfg      *config.API
	store    postStore
	importer importer
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
}

type errorResponse struct {
	Error string `json:"error"`
}

type deleteResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type importRequest struct {
	Filename string `json:"filename"`
}

type searchRequest struct {
	Query      string                      `json:"query"`
	SearchType string                      `json:"search_type"`
	Size       int                         `json:"size"`
	Filters    elasticsearch.SearchFilters `json:"filters"`
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(handlers.CORS(
		handlers.AllowedOrigins(s.cfg.CORSOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	))
	r.Use(s.instrument)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/import", s.handleImport)
		r.Post("/search", s.handleSearch)
		r.Get("/post/{id}", s.handleGetPost)
		r.Delete("/post/{id}", s.handleDeletePost)
		r.Get("/similar/{id}", s.handleSimilar)
		r.Get("/stats", s.handleStats)
	})

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

func (s *server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveHTTP(route, r.Method, status, time.Since(start).Seconds())
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	err := s.store.Ping(ctx)
	if err != nil {
		s.log.Warn("elasticsearch ping failed", slog.Any("err", err))
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "elasticsearch": err == nil})
}

func (s *server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		filename = s.cfg.DefaultFile
	}

	// Imports run to completion even if the caller goes away.
	ctx := context.WithoutCancel(r.Context())
	reqID := middleware.GetReqID(r.Context())
	s.log.Info("import requested", slog.String("file", filename), slog.String("request_id", reqID))

	writeJSON(w, http.StatusOK, s.importer.Import(ctx, filename))
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	searchType := req.SearchType
	if searchType == "" {
		searchType = elasticsearch.SearchText
	}

	hits, err := s.store.Search(ctx, elasticsearch.SearchParams{
		Query:   strings.TrimSpace(req.Query),
		Type:    searchType,
		Size:    clampSize(req.Size, s.cfg.DefaultPage, s.cfg.MaxPage),
		Filters: req.Filters,
	})
	if err != nil {
		s.log.Error("search", slog.Any("err", err))
		hits = []models.Hit{}
	}

	writeJSON(w, http.StatusOK, hits)
}

func (s *server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	post, err := s.store.GetPost(ctx, id)
	if err != nil {
		if !errors.Is(err, elasticsearch.ErrNotFound) {
			s.log.Error("get post", slog.String("id", id), slog.Any("err", err))
		}
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "Post not found"})
		return
	}

	writeJSON(w, http.StatusOK, post)
}

func (s *server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	if err := s.store.DeletePost(ctx, id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, elasticsearch.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, deleteResponse{Success: false, Error: err.Error()})
		return
	}

	s.log.Info("deleted post", slog.String("id", id))
	writeJSON(w, http.StatusOK, deleteResponse{Success: true})
}

func (s *server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	size := clampSize(parseInt(r.URL.Query().Get("size")), s.cfg.DefaultPage, s.cfg.MaxPage)

	hits, err := s.store.Similar(ctx, id, size)
	if err != nil {
		s.log.Error("find similar", slog.String("id", id), slog.Any("err", err))
		hits = []models.Hit{}
	}

	writeJSON(w, http.StatusOK, hits)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	stats, err := s.store.Stats(ctx)
	if err != nil {
		s.log.Error("stats", slog.Any("err", err))
		stats = models.EmptyStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

func parseInt(raw string) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return value
}

func clampSize(value, fallback, max int) int {
	if value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
