// Package semantic maintains the embedding index over extracted memory
// facts. It is an enrichment store: indexing failures degrade a turn but
// never fail it, and the structured store stays the system of record.
package semantic

import (
	"context"
)

// Fact is one memory fact to index, keyed by its structured-store id.
type Fact struct {
	FactID    string `json:"fact_id"`
	TurnIndex int    `json:"turn_index"`
	Category  string `json:"category"`
	Content   string `json:"content"`
}

// Match is one semantic search hit.
type Match struct {
	FactID    string  `json:"fact_id"`
	TurnIndex int     `json:"turn_index"`
	Category  string  `json:"category"`
	Content   string  `json:"content"`
	Score     float64 `json:"score"`
}

// Index stores fact embeddings per character and retrieves them by
// similarity to a query.
type Index interface {
	IndexFacts(ctx context.Context, characterID string, facts []Fact) error
	Search(ctx context.Context, characterID, query string, limit int) ([]Match, error)
	Close() error
}
