package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/DeafMist/post-search/internal/models"
)

// Search types accepted by SearchParams.Type.
const (
	SearchText    = "text"
	SearchPhrase  = "phrase"
	SearchBoolean = "boolean"
)

// SearchFilters narrow a search to matching posts.
type SearchFilters struct {
	StatusType   string `json:"status_type"`
	MinReactions int    `json:"min_reactions"`
	DateFrom     string `json:"date_from"`
	DateTo       string `json:"date_to"`
}

// SearchParams describe a post search.
type SearchParams struct {
	Query   string
	Type    string
	Size    int
	Filters SearchFilters
}

var (
	booleanAnd = regexp.MustCompile(`(?i)\s+AND\s+`)
	booleanOr  = regexp.MustCompile(`(?i)\s+OR\s+`)
	booleanNot = regexp.MustCompile(`(?i)\s+NOT\s+`)
)

// RewriteBoolean turns AND/OR/NOT into simple_query_string operators.
func RewriteBoolean(query string) string {
	query = booleanAnd.ReplaceAllString(query, " +")
	query = booleanOr.ReplaceAllString(query, " | ")
	query = booleanNot.ReplaceAllString(query, " -")
	return query
}

// BuildQuery assembles the bool query for params, or match_all when there is
// nothing to match on.
func BuildQuery(params SearchParams) map[string]any {
	must := make([]map[string]any, 0, 5)

	if params.Query != "" {
		switch params.Type {
		case SearchPhrase:
			must = append(must, map[string]any{
				"match_phrase": map[string]any{models.FieldStatusMessage: params.Query},
			})
		case SearchBoolean:
			must = append(must, map[string]any{
				"simple_query_string": map[string]any{
					"query":            RewriteBoolean(params.Query),
					"fields":           []string{models.FieldStatusMessage},
					"default_operator": "AND",
				},
			})
		default:
			must = append(must, map[string]any{
				"match": map[string]any{models.FieldStatusMessage: params.Query},
			})
		}
	}

	f := params.Filters
	if f.StatusType != "" {
		must = append(must, map[string]any{
			"term": map[string]any{models.FieldStatusType: f.StatusType},
		})
	}
	if f.MinReactions > 0 {
		must = append(must, map[string]any{
			"range": map[string]any{models.FieldNumReactions: map[string]any{"gte": f.MinReactions}},
		})
	}
	// Date bounds are rounded to whole days.
	if f.DateFrom != "" {
		must = append(must, map[string]any{
			"range": map[string]any{models.FieldStatusPublished: map[string]any{"gte": f.DateFrom + "||/d"}},
		})
	}
	if f.DateTo != "" {
		must = append(must, map[string]any{
			"range": map[string]any{models.FieldStatusPublished: map[string]any{"lte": f.DateTo + "||/d"}},
		})
	}

	if len(must) == 0 {
		return map[string]any{"match_all": map[string]any{}}
	}
	return map[string]any{"bool": map[string]any{"must": must}}
}

// Search runs a post search sorted by reactions with highlighted messages.
func (c *Client) Search(ctx context.Context, params SearchParams) ([]models.Hit, error) {
	if params.Size <= 0 {
		params.Size = 10
	}

	body := map[string]any{
		"query": BuildQuery(params),
		"highlight": map[string]any{
			"fields": map[string]any{models.FieldStatusMessage: map[string]any{}},
		},
		"sort": []map[string]any{
			{models.FieldNumReactions: map[string]any{"order": "desc"}},
		},
		"track_scores": true,
		"size":         params.Size,
	}

	return c.searchHits(ctx, body)
}

// Similar finds posts whose message resembles the message of post id. The
// post itself is excluded.
func (c *Client) Similar(ctx context.Context, id string, size int) ([]models.Hit, error) {
	if size <= 0 {
		size = 10
	}

	post, err := c.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}

	text, _ := post.Source[models.FieldStatusMessage].(string)
	if strings.TrimSpace(text) == "" {
		return []models.Hit{}, nil
	}

	body := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": []map[string]any{
					{
						"more_like_this": map[string]any{
							"fields":          []string{models.FieldStatusMessage},
							"like":            text,
							"min_term_freq":   1,
							"max_query_terms": 20,
							"min_doc_freq":    1,
						},
					},
				},
				"must_not": []map[string]any{
					{"ids": map[string]any{"values": []string{id}}},
				},
			},
		},
		"size": size,
	}

	return c.searchHits(ctx, body)
}

// Stats aggregates reaction totals and post type counts.
func (c *Client) Stats(ctx context.Context) (models.Stats, error) {
	body := map[string]any{
		"size": 0,
		"aggs": map[string]any{
			"total_reactions": map[string]any{"sum": map[string]any{"field": models.FieldNumReactions}},
			"avg_reactions":   map[string]any{"avg": map[string]any{"field": models.FieldNumReactions}},
			"post_types":      map[string]any{"terms": map[string]any{"field": models.FieldStatusType}},
		},
	}

	res, err := c.doSearch(ctx, body)
	if err != nil {
		return models.Stats{}, err
	}
	defer res.Close()

	var parsed struct {
		Aggregations struct {
			TotalReactions struct {
				Value *float64 `json:"value"`
			} `json:"total_reactions"`
			AvgReactions struct {
				Value *float64 `json:"value"`
			} `json:"avg_reactions"`
			PostTypes struct {
				Buckets []struct {
					Key      string `json:"key"`
					DocCount int64  `json:"doc_count"`
				} `json:"buckets"`
			} `json:"post_types"`
		} `json:"aggregations"`
	}
	if err := json.NewDecoder(res).Decode(&parsed); err != nil {
		return models.Stats{}, fmt.Errorf("decode stats response: %w", err)
	}

	total, err := c.Count(ctx)
	if err != nil {
		return models.Stats{}, err
	}

	stats := models.EmptyStats()
	stats.Total = total
	if v := parsed.Aggregations.TotalReactions.Value; v != nil {
		stats.TotalReactions = int64(*v)
	}
	if v := parsed.Aggregations.AvgReactions.Value; v != nil {
		stats.AvgReactions = int64(*v)
	}
	for _, bucket := range parsed.Aggregations.PostTypes.Buckets {
		stats.Types[bucket.Key] = bucket.DocCount
	}

	return stats, nil
}

func (c *Client) searchHits(ctx context.Context, body map[string]any) ([]models.Hit, error) {
	res, err := c.doSearch(ctx, body)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID        string              `json:"_id"`
				Score     *float64            `json:"_score"`
				Source    map[string]any      `json:"_source"`
				Highlight map[string][]string `json:"highlight"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	hits := make([]models.Hit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hit := models.Hit{ID: h.ID, Score: h.Score, Source: h.Source}
		if fragments := h.Highlight[models.FieldStatusMessage]; len(fragments) > 0 {
			hit.Highlight = strings.Join(fragments, " ")
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (c *Client) doSearch(ctx context.Context, body map[string]any) (io.ReadCloser, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	if res.IsError() {
		defer res.Body.Close()
		data, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search failed: %s", strings.TrimSpace(string(data)))
	}

	return res.Body, nil
}
