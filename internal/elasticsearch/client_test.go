package elasticsearch_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/post-search/internal/elasticsearch"
	"github.com/DeafMist/post-search/internal/models"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

// fakeES answers like an Elasticsearch node using a per-test handler and
// records every request it receives.
type fakeES struct {
	mu       sync.Mutex
	requests []recordedRequest
	handle   func(w http.ResponseWriter, r *http.Request, body string)
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Body: string(data)})
	f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	f.handle(w, r, string(data))
}

func (f *fakeES) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func newTestClient(t *testing.T, handle func(w http.ResponseWriter, r *http.Request, body string)) (*elasticsearch.Client, *fakeES) {
	t.Helper()
	fake := &fakeES{handle: handle}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := elasticsearch.New(srv.URL, "posts", nil)
	require.NoError(t, err)
	return client, fake
}

func strPtr(s string) *string { return &s }

func TestEnsureIndexCreatesMissingIndex(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			_, _ = io.WriteString(w, `{"acknowledged":true,"index":"posts"}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	require.NoError(t, client.EnsureIndex(context.Background()))

	reqs := fake.recorded()
	require.Len(t, reqs, 2)
	require.Equal(t, http.MethodPut, reqs[1].Method)
	require.Equal(t, "/posts", reqs[1].Path)

	var mapping struct {
		Mappings struct {
			Properties map[string]map[string]any `json:"properties"`
		} `json:"mappings"`
	}
	require.NoError(t, json.Unmarshal([]byte(reqs[1].Body), &mapping))
	props := mapping.Mappings.Properties
	require.Equal(t, "text", props["status_message"]["type"])
	require.Equal(t, "english", props["status_message"]["analyzer"])
	require.Equal(t, "keyword", props["status_type"]["type"])
	require.Equal(t, "keyword", props["status_link"]["type"])
	require.Equal(t, "date", props["status_published"]["type"])
	require.Equal(t, "M/d/yyyy H:mm:ss||M/d/yyyy HH:mm:ss||M/d/yyyy||yyyy-MM-dd", props["status_published"]["format"])
	for _, field := range models.CounterFields {
		require.Equal(t, "integer", props[field]["type"], field)
	}
}

func TestEnsureIndexSkipsExistingIndex(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, _ *http.Request, _ string) {
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, client.EnsureIndex(context.Background()))
	require.Len(t, fake.recorded(), 1)
}

func TestHealthReturnsStatus(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, _ *http.Request, _ string) {
		_, _ = io.WriteString(w, `{"cluster_name":"docker-cluster","status":"yellow","number_of_nodes":1}`)
	})

	status, err := client.Health(context.Background())
	require.NoError(t, err)
	require.Equal(t, "yellow", status)
	require.Equal(t, "/_cluster/health", fake.recorded()[0].Path)
}

func TestDeleteIndexIgnoresMissing(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request, _ string) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"type":"index_not_found_exception"},"status":404}`)
	})

	require.NoError(t, client.DeleteIndex(context.Background()))
}

func TestBulkUpsertReportsItemFailures(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, _ *http.Request, _ string) {
		_, _ = io.WriteString(w, `{"took":3,"errors":true,"items":[
			{"index":{"_index":"posts","_id":"a","status":201}},
			{"index":{"_index":"posts","_id":"b","status":400,"error":{"type":"mapper_parsing_exception","reason":"failed to parse field [status_published]"}}}
		]}`)
	})

	records := []models.Record{
		{ID: "a", StatusMessage: strPtr("first"), Counters: models.Counters{Reactions: 2}},
		{ID: "b", StatusPublished: strPtr("bogus")},
	}

	result, err := client.BulkUpsert(context.Background(), records)
	require.NoError(t, err)
	require.Equal(t, 1, result.Succeeded)
	require.Equal(t, []models.BulkFailure{{
		ID:     "b",
		Status: 400,
		Type:   "mapper_parsing_exception",
		Reason: "failed to parse field [status_published]",
	}}, result.Failures)

	reqs := fake.recorded()
	require.Len(t, reqs, 1)
	require.Equal(t, "/posts/_bulk", reqs[0].Path)

	var lines []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(reqs[0].Body))
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 4)
	require.Equal(t, map[string]any{"index": map[string]any{"_index": "posts", "_id": "a"}}, lines[0])
	require.Equal(t, "first", lines[1]["status_message"])
	require.Contains(t, lines[1], "link_name")
	require.Nil(t, lines[1]["link_name"])
	require.EqualValues(t, 2, lines[1]["num_reactions"])
}

func TestBulkUpsertRequestFailureIsError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request, _ string) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		_, _ = io.WriteString(w, `{"error":"too large"}`)
	})

	_, err := client.BulkUpsert(context.Background(), []models.Record{{ID: "a"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "bulk upsert failed")
}

func TestBulkUpsertEmptyIsNoop(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, _ *http.Request, _ string) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	result, err := client.BulkUpsert(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, result.Succeeded)
	require.Empty(t, fake.recorded())
}

func TestRefresh(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, _ *http.Request, _ string) {
		_, _ = io.WriteString(w, `{"_shards":{"total":1,"successful":1,"failed":0}}`)
	})

	require.NoError(t, client.Refresh(context.Background()))
	require.Equal(t, "/posts/_refresh", fake.recorded()[0].Path)
}

func TestGetPostNotFound(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request, _ string) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"_index":"posts","_id":"nope","found":false}`)
	})

	_, err := client.GetPost(context.Background(), "nope")
	require.ErrorIs(t, err, elasticsearch.ErrNotFound)
}

func TestGetPost(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, _ *http.Request, _ string) {
		_, _ = io.WriteString(w, `{"_index":"posts","_id":"abc","found":true,"_source":{"status_message":"hello"}}`)
	})

	hit, err := client.GetPost(context.Background(), "abc")
	require.NoError(t, err)
	require.Equal(t, "abc", hit.ID)
	require.Equal(t, "hello", hit.Source["status_message"])
	require.Equal(t, "/posts/_doc/abc", fake.recorded()[0].Path)
}

func TestDeletePost(t *testing.T) {
	client, fake := newTestClient(t, func(w http.ResponseWriter, _ *http.Request, _ string) {
		_, _ = io.WriteString(w, `{"result":"deleted"}`)
	})

	require.NoError(t, client.DeletePost(context.Background(), "abc"))
	req := fake.recorded()[0]
	require.Equal(t, http.MethodDelete, req.Method)
	require.Equal(t, "/posts/_doc/abc", req.Path)
}

func TestDeleteOlderThanStopsOnShortBatch(t *testing.T) {
	calls := 0
	client, fake := newTestClient(t, func(w http.ResponseWriter, _ *http.Request, _ string) {
		calls++
		if calls == 1 {
			_, _ = io.WriteString(w, `{"deleted":10}`)
			return
		}
		_, _ = io.WriteString(w, `{"deleted":4}`)
	})

	deleted, err := client.DeleteOlderThan(context.Background(), 24*time.Hour, 10)
	require.NoError(t, err)
	require.EqualValues(t, 14, deleted)

	reqs := fake.recorded()
	require.Len(t, reqs, 2)
	require.Equal(t, "/posts/_delete_by_query", reqs[0].Path)
	require.Contains(t, reqs[0].Body, `"status_published"`)
}
