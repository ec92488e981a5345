package semantic

import (
	"context"
	"strings"

	"github.com/lucaferrato/amie/internal/genai"
)

// NewIndex creates a pgvector-backed index when configured, otherwise
// in-memory.
func NewIndex(ctx context.Context, databaseURL string, embedder genai.Embedder) (Index, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryIndex(embedder), nil
	}
	return NewPostgresIndex(ctx, databaseURL, embedder)
}
