package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/DeafMist/post-search/internal/models"
	"github.com/DeafMist/post-search/internal/processing"
)

// ErrNotFound is returned when a post does not exist.
var ErrNotFound = errors.New("post not found")

// Client wraps go-elasticsearch with helpers tailored to this project.
type Client struct {
	es    *elasticsearch.Client
	index string
	log   *slog.Logger
}

// Option tweaks the underlying client configuration.
type Option func(*elasticsearch.Config)

// WithBasicAuth sets credentials for secured clusters. Empty usernames are ignored.
func WithBasicAuth(username, password string) Option {
	return func(cfg *elasticsearch.Config) {
		if username == "" {
			return
		}
		cfg.Username = username
		cfg.Password = password
	}
}

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(cfg *elasticsearch.Config) {
		cfg.Transport = rt
	}
}

// New instantiates the Elasticsearch client. It is meant to be built once per
// process and shared by reference.
func New(addr, index string, logger *slog.Logger, opts ...Option) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{addr},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{es: es, index: index, log: logger}, nil
}

// Index returns the name of the managed index.
func (c *Client) Index() string {
	return c.index
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}

	return nil
}

// Health returns the cluster status: green, yellow or red.
func (c *Client) Health(ctx context.Context) (string, error) {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("cluster health: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(res.Body)
		return "", fmt.Errorf("cluster health bad: %s", strings.TrimSpace(string(data)))
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode cluster health: %w", err)
	}
	return body.Status, nil
}

// Mapping is the fixed schema of the post index.
func Mapping() map[string]any {
	properties := map[string]any{
		models.FieldStatusMessage: map[string]any{
			"type":     "text",
			"analyzer": "english",
			"fields": map[string]any{
				"raw": map[string]any{"type": "keyword"},
			},
		},
		models.FieldLinkName:   map[string]any{"type": "text", "analyzer": "standard"},
		models.FieldStatusType: map[string]any{"type": "keyword"},
		models.FieldStatusLink: map[string]any{"type": "keyword"},
		models.FieldStatusPublished: map[string]any{
			"type":   "date",
			"format": processing.PublishedFormat,
		},
	}
	for _, field := range models.CounterFields {
		properties[field] = map[string]any{"type": "integer"}
	}

	return map[string]any{
		"mappings": map[string]any{
			"properties": properties,
		},
	}
}

// EnsureIndex creates the index with Mapping when it does not exist yet.
func (c *Client) EnsureIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("check index failed: %s", res.Status())
	}

	payload, err := json.Marshal(Mapping())
	if err != nil {
		return fmt.Errorf("marshal mapping: %w", err)
	}

	res, err = c.es.Indices.Create(
		c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		// Another process may have created it between the two calls.
		if strings.Contains(string(data), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("create index failed: %s", strings.TrimSpace(string(data)))
	}

	c.log.Info("created index", slog.String("index", c.index))
	return nil
}

// DeleteIndex drops the index. A missing index is not an error.
func (c *Client) DeleteIndex(ctx context.Context) error {
	res, err := c.es.Indices.Delete([]string{c.index}, c.es.Indices.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("delete index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("delete index failed: %s", strings.TrimSpace(string(data)))
	}
	return nil
}

// BulkUpsert writes records in a single _bulk request, keyed by their IDs so a
// repeated import overwrites instead of duplicating. Items the cluster rejects
// are reported in the result; only a failure of the request itself is an error.
func (c *Client) BulkUpsert(ctx context.Context, records []models.Record) (models.BulkResult, error) {
	if len(records) == 0 {
		return models.BulkResult{}, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		meta := map[string]any{
			"index": map[string]any{"_index": c.index, "_id": rec.ID},
		}
		if err := enc.Encode(meta); err != nil {
			return models.BulkResult{}, fmt.Errorf("marshal bulk meta: %w", err)
		}
		if err := enc.Encode(rec.Document()); err != nil {
			return models.BulkResult{}, fmt.Errorf("marshal doc %s: %w", rec.ID, err)
		}
	}

	req := esapi.BulkRequest{
		Index: c.index,
		Body:  &buf,
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return models.BulkResult{}, fmt.Errorf("bulk upsert: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return models.BulkResult{}, fmt.Errorf("bulk upsert failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return models.BulkResult{}, fmt.Errorf("decode bulk response: %w", err)
	}

	result := models.BulkResult{}
	for _, item := range parsed.Items {
		for _, op := range item {
			if op.Error == nil && op.Status < http.StatusMultipleChoices {
				result.Succeeded++
				continue
			}
			failure := models.BulkFailure{ID: op.ID, Status: op.Status}
			if op.Error != nil {
				failure.Type = op.Error.Type
				failure.Reason = op.Error.Reason
			}
			result.Failures = append(result.Failures, failure)
		}
	}

	return result, nil
}

// Refresh makes every write acknowledged so far visible to searches.
func (c *Client) Refresh(ctx context.Context) error {
	res, err := c.es.Indices.Refresh(
		c.es.Indices.Refresh.WithContext(ctx),
		c.es.Indices.Refresh.WithIndex(c.index),
	)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("refresh failed: %s", strings.TrimSpace(string(data)))
	}
	return nil
}

// GetPost fetches a single post by ID.
func (c *Client) GetPost(ctx context.Context, id string) (models.Hit, error) {
	res, err := c.es.Get(c.index, id, c.es.Get.WithContext(ctx))
	if err != nil {
		return models.Hit{}, fmt.Errorf("get post: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return models.Hit{}, ErrNotFound
	}
	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return models.Hit{}, fmt.Errorf("get post failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		ID     string         `json:"_id"`
		Found  bool           `json:"found"`
		Source map[string]any `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return models.Hit{}, fmt.Errorf("decode get response: %w", err)
	}
	if !parsed.Found {
		return models.Hit{}, ErrNotFound
	}

	return models.Hit{ID: parsed.ID, Source: parsed.Source}, nil
}

// DeletePost removes a post by ID.
func (c *Client) DeletePost(ctx context.Context, id string) error {
	res, err := c.es.Delete(c.index, id, c.es.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("delete post failed: %s", strings.TrimSpace(string(data)))
	}
	return nil
}

// Count returns the number of documents in the index.
func (c *Client) Count(ctx context.Context) (int64, error) {
	res, err := c.es.Count(
		c.es.Count.WithContext(ctx),
		c.es.Count.WithIndex(c.index),
	)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return 0, fmt.Errorf("count failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode count response: %w", err)
	}
	return parsed.Count, nil
}

// DeleteOlderThan removes posts published more than maxAge ago using batched
// delete-by-query. It loops until a batch deletes fewer documents than batchSize.
func (c *Client) DeleteOlderThan(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	cutoff := time.Now().Add(-maxAge).UTC().Format("2006-01-02")
	totalDeleted := int64(0)

	for {
		body := map[string]any{
			"query": map[string]any{
				"range": map[string]any{
					models.FieldStatusPublished: map[string]any{
						"lt":     cutoff,
						"format": "yyyy-MM-dd",
					},
				},
			},
		}

		payload, err := json.Marshal(body)
		if err != nil {
			return totalDeleted, fmt.Errorf("marshal delete body: %w", err)
		}

		res, err := c.es.DeleteByQuery(
			[]string{c.index},
			bytes.NewReader(payload),
			c.es.DeleteByQuery.WithContext(ctx),
			c.es.DeleteByQuery.WithWaitForCompletion(true),
			c.es.DeleteByQuery.WithConflicts("proceed"),
			c.es.DeleteByQuery.WithScrollSize(batchSize),
			c.es.DeleteByQuery.WithMaxDocs(batchSize),
			c.es.DeleteByQuery.WithRefresh(true),
		)
		if err != nil {
			return totalDeleted, fmt.Errorf("delete by query: %w", err)
		}

		if res.IsError() {
			data, _ := io.ReadAll(res.Body)
			res.Body.Close()
			return totalDeleted, fmt.Errorf("delete by query failed: %s", strings.TrimSpace(string(data)))
		}

		var parsed struct {
			Deleted int64 `json:"deleted"`
		}
		if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
			res.Body.Close()
			return totalDeleted, fmt.Errorf("decode delete response: %w", err)
		}
		res.Body.Close()

		totalDeleted += parsed.Deleted

		if parsed.Deleted < int64(batchSize) {
			break
		}
	}

	return totalDeleted, nil
}
