package semantic

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lucaferrato/amie/internal/genai"
)

// PostgresIndex stores fact embeddings in PostgreSQL with pgvector. It runs
// on its own pool so the semantic store fails independently of the
// structured store even when both point at the same database.
type PostgresIndex struct {
	pool     *pgxpool.Pool
	embedder genai.Embedder
}

func NewPostgresIndex(ctx context.Context, databaseURL string, embedder genai.Embedder) (*PostgresIndex, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect semantic postgres: %w", err)
	}

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS semantic_memories (
			fact_id TEXT PRIMARY KEY,
			character_id TEXT NOT NULL,
			turn_index INT NOT NULL,
			category TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`, embedder.Dim()),
		`CREATE INDEX IF NOT EXISTS idx_semantic_memories_character ON semantic_memories (character_id, created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("init semantic schema failed on %q: %w", stmt, err)
		}
	}

	return &PostgresIndex{pool: pool, embedder: embedder}, nil
}

func (s *PostgresIndex) IndexFacts(ctx context.Context, characterID string, facts []Fact) error {
	now := time.Now().UTC()
	for _, f := range facts {
		vec, err := s.embedder.Embed(ctx, f.Content)
		if err != nil {
			return fmt.Errorf("embed fact: %w", err)
		}
		// ON CONFLICT DO NOTHING keeps replayed indexing idempotent.
		_, err = s.pool.Exec(ctx,
			`INSERT INTO semantic_memories (fact_id, character_id, turn_index, category, content, embedding, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6::vector, $7)
			 ON CONFLICT (fact_id) DO NOTHING`,
			f.FactID, characterID, f.TurnIndex, f.Category, f.Content, encodeVector(vec), now,
		)
		if err != nil {
			return fmt.Errorf("index fact: %w", err)
		}
	}
	return nil
}

func (s *PostgresIndex) Search(ctx context.Context, characterID, query string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 5
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT fact_id, turn_index, category, content, 1 - (embedding <=> $2::vector) AS score
		 FROM semantic_memories
		 WHERE character_id=$1
		 ORDER BY embedding <=> $2::vector
		 LIMIT $3`,
		characterID, encodeVector(vec), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.FactID, &m.TurnIndex, &m.Category, &m.Content, &m.Score); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return out, nil
}

func (s *PostgresIndex) Close() error {
	s.pool.Close()
	return nil
}

func encodeVector(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
