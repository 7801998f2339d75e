package models

import "encoding/json"

// Hit is a post returned from the store: its stored source plus identity,
// relevance score and an optional highlighted snippet.
type Hit struct {
	ID        string
	Score     *float64
	Highlight string
	Source    map[string]any
}

// MarshalJSON flattens the source and adds id, score and highlight next to it.
func (h Hit) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(h.Source)+3)
	for k, v := range h.Source {
		out[k] = v
	}
	out["id"] = h.ID
	if h.Score != nil {
		out["score"] = *h.Score
	}
	if h.Highlight != "" {
		out["highlight"] = h.Highlight
	}
	return json.Marshal(out)
}

// Stats aggregates the indexed posts.
type Stats struct {
	Total          int64            `json:"total"`
	TotalReactions int64            `json:"total_reactions"`
	AvgReactions   int64            `json:"avg_reactions"`
	Types          map[string]int64 `json:"types"`
}

// EmptyStats is returned when statistics cannot be computed.
func EmptyStats() Stats {
	return Stats{Types: map[string]int64{}}
}
