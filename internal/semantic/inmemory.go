package semantic

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/lucaferrato/amie/internal/genai"
)

// InMemoryIndex keeps embeddings in process for local/dev use.
type InMemoryIndex struct {
	mu       sync.RWMutex
	embedder genai.Embedder
	entries  map[string][]indexedFact // keyed by character id
	seen     map[string]bool          // fact ids already indexed
}

type indexedFact struct {
	fact Fact
	vec  []float32
}

func NewInMemoryIndex(embedder genai.Embedder) *InMemoryIndex {
	return &InMemoryIndex{
		embedder: embedder,
		entries:  make(map[string][]indexedFact),
		seen:     make(map[string]bool),
	}
}

func (s *InMemoryIndex) IndexFacts(ctx context.Context, characterID string, facts []Fact) error {
	for _, f := range facts {
		vec, err := s.embedder.Embed(ctx, f.Content)
		if err != nil {
			return err
		}
		s.mu.Lock()
		if s.seen[f.FactID] {
			s.mu.Unlock()
			continue
		}
		s.seen[f.FactID] = true
		s.entries[characterID] = append(s.entries[characterID], indexedFact{fact: f, vec: vec})
		s.mu.Unlock()
	}
	return nil
}

func (s *InMemoryIndex) Search(ctx context.Context, characterID, query string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 5
	}
	qvec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	arr := s.entries[characterID]
	matches := make([]Match, 0, len(arr))
	for _, e := range arr {
		matches = append(matches, Match{
			FactID:    e.fact.FactID,
			TurnIndex: e.fact.TurnIndex,
			Category:  e.fact.Category,
			Content:   e.fact.Content,
			Score:     cosine(qvec, e.vec),
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *InMemoryIndex) Close() error { return nil }

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
