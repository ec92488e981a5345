package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the conversational system of record in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS characters (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			age TEXT NOT NULL DEFAULT '',
			occupation TEXT NOT NULL DEFAULT '',
			additional_info TEXT NOT NULL DEFAULT '',
			worldview TEXT NOT NULL DEFAULT '',
			details JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_characters_user ON characters (user_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS conversations (
			session_id TEXT PRIMARY KEY,
			character_id TEXT NOT NULL REFERENCES characters(id),
			user_id TEXT NOT NULL,
			affection_score INT NOT NULL,
			relationship_stage TEXT NOT NULL,
			turn_count INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_interaction_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS turn_records (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES conversations(session_id),
			turn_index INT NOT NULL,
			user_message TEXT NOT NULL,
			dialogue TEXT NOT NULL,
			action TEXT NOT NULL DEFAULT '',
			situation TEXT NOT NULL DEFAULT '',
			background TEXT NOT NULL DEFAULT '',
			internal_thought TEXT NOT NULL DEFAULT '',
			affection_delta INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (session_id, turn_index)
		);`,
		`CREATE TABLE IF NOT EXISTS quests (
			id TEXT PRIMARY KEY,
			character_id TEXT NOT NULL REFERENCES characters(id),
			quest_type TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			required_affection INT,
			cleared BOOLEAN NOT NULL DEFAULT FALSE,
			cleared_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS profile_traits (
			id TEXT PRIMARY KEY,
			character_id TEXT NOT NULL REFERENCES characters(id),
			session_id TEXT NOT NULL,
			turn_index INT NOT NULL,
			trait TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (character_id, trait)
		);`,
		`CREATE TABLE IF NOT EXISTS memory_facts (
			id TEXT PRIMARY KEY,
			character_id TEXT NOT NULL REFERENCES characters(id),
			session_id TEXT NOT NULL,
			turn_index INT NOT NULL,
			category TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_memory_facts_character ON memory_facts (character_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateCharacter(ctx context.Context, c *Character) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	details, err := json.Marshal(c.Details)
	if err != nil {
		return fmt.Errorf("marshal character details: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO characters (id, user_id, name, age, occupation, additional_info, worldview, details, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.UserID, c.Name, c.Age, c.Occupation, c.AdditionalInfo, c.Worldview, details, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create character: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCharacter(ctx context.Context, id string) (Character, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, user_id, name, age, occupation, additional_info, worldview, details, created_at, updated_at
		 FROM characters WHERE id=$1`, id)
	return scanCharacter(row)
}

func (s *PostgresStore) ListCharacters(ctx context.Context, userID string) ([]Character, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, age, occupation, additional_info, worldview, details, created_at, updated_at
		 FROM characters WHERE user_id=$1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	defer rows.Close()

	var out []Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate characters: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context, c *Conversation) error {
	if c.SessionID == "" {
		c.SessionID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.LastInteractionAt.IsZero() {
		c.LastInteractionAt = now
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (session_id, character_id, user_id, affection_score, relationship_stage, turn_count, created_at, last_interaction_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.SessionID, c.CharacterID, c.UserID, c.AffectionScore, c.RelationshipStage, c.TurnCount, c.CreatedAt, c.LastInteractionAt,
	)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, sessionID string) (Conversation, error) {
	var c Conversation
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, character_id, user_id, affection_score, relationship_stage, turn_count, created_at, last_interaction_at
		 FROM conversations WHERE session_id=$1`, sessionID).
		Scan(&c.SessionID, &c.CharacterID, &c.UserID, &c.AffectionScore, &c.RelationshipStage, &c.TurnCount, &c.CreatedAt, &c.LastInteractionAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListTurns(ctx context.Context, sessionID string) ([]TurnRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, turn_index, user_message, dialogue, action, situation, background, internal_thought, affection_delta, created_at
		 FROM turn_records WHERE session_id=$1 ORDER BY turn_index`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()
	return collectTurns(rows)
}

func (s *PostgresStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, turn_index, user_message, dialogue, action, situation, background, internal_thought, affection_delta, created_at
		 FROM turn_records WHERE session_id=$1 ORDER BY turn_index DESC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	defer rows.Close()

	items, err := collectTurns(rows)
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order for prompt coherence.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func (s *PostgresStore) CreateQuest(ctx context.Context, q *Quest) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO quests (id, character_id, quest_type, title, description, required_affection, cleared, cleared_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		q.ID, q.CharacterID, string(q.Type), q.Title, q.Description, q.RequiredAffection, q.Cleared, q.ClearedAt, q.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("create quest: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListQuests(ctx context.Context, characterID string) ([]Quest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, character_id, quest_type, title, description, required_affection, cleared, cleared_at, created_at
		 FROM quests WHERE character_id=$1 ORDER BY created_at`, characterID)
	if err != nil {
		return nil, fmt.Errorf("list quests: %w", err)
	}
	defer rows.Close()

	var out []Quest
	for rows.Next() {
		var q Quest
		var questType string
		if err := rows.Scan(&q.ID, &q.CharacterID, &questType, &q.Title, &q.Description, &q.RequiredAffection, &q.Cleared, &q.ClearedAt, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan quest: %w", err)
		}
		q.Type = QuestType(questType)
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quests: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListTraits(ctx context.Context, characterID string) ([]Trait, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, character_id, session_id, turn_index, trait, created_at
		 FROM profile_traits WHERE character_id=$1 ORDER BY created_at`, characterID)
	if err != nil {
		return nil, fmt.Errorf("list traits: %w", err)
	}
	defer rows.Close()

	var out []Trait
	for rows.Next() {
		var t Trait
		if err := rows.Scan(&t.ID, &t.CharacterID, &t.SessionID, &t.TurnIndex, &t.Text, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trait: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate traits: %w", err)
	}
	return out, nil
}

// CommitTurn applies the full turn in one transaction. The conversation
// update is guarded on the previous turn count so a concurrent or replayed
// commit cannot skip, rewind, or double-count a turn.
func (s *PostgresStore) CommitTurn(ctx context.Context, commit TurnCommit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE conversations
		 SET affection_score=$1, relationship_stage=$2, turn_count=$3, last_interaction_at=$4
		 WHERE session_id=$5 AND turn_count=$6`,
		commit.Session.AffectionScore,
		commit.Session.RelationshipStage,
		commit.Session.TurnCount,
		commit.Session.LastInteractionAt,
		commit.Session.SessionID,
		commit.Session.TurnCount-1,
	)
	if err != nil {
		return fmt.Errorf("commit session delta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	turn := commit.Turn
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO turn_records (id, session_id, turn_index, user_message, dialogue, action, situation, background, internal_thought, affection_delta, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		turn.ID, turn.SessionID, turn.TurnIndex, turn.UserMessage, turn.Dialogue, turn.Action, turn.Situation, turn.Background, turn.InternalThought, turn.AffectionDelta, turn.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("commit turn record: %w", err)
	}

	for _, upd := range commit.QuestUpdates {
		// cleared=false guard keeps clearance monotonic.
		_, err = tx.Exec(ctx,
			`UPDATE quests SET cleared=TRUE, cleared_at=$1 WHERE id=$2 AND cleared=FALSE`,
			upd.ClearedAt, upd.QuestID,
		)
		if err != nil {
			return fmt.Errorf("commit quest update: %w", err)
		}
	}

	for _, tr := range commit.TraitAdditions {
		if tr.ID == "" {
			tr.ID = uuid.NewString()
		}
		if tr.CreatedAt.IsZero() {
			tr.CreatedAt = time.Now().UTC()
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO profile_traits (id, character_id, session_id, turn_index, trait, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (character_id, trait) DO NOTHING`,
			tr.ID, tr.CharacterID, tr.SessionID, tr.TurnIndex, tr.Text, tr.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("commit trait: %w", err)
		}
	}

	for _, f := range commit.MemoryFacts {
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		if f.CreatedAt.IsZero() {
			f.CreatedAt = time.Now().UTC()
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO memory_facts (id, character_id, session_id, turn_index, category, content, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			f.ID, f.CharacterID, f.SessionID, f.TurnIndex, f.Category, f.Content, f.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("commit memory fact: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCharacter(row rowScanner) (Character, error) {
	var c Character
	var details []byte
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Age, &c.Occupation, &c.AdditionalInfo, &c.Worldview, &details, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Character{}, ErrNotFound
	}
	if err != nil {
		return Character{}, fmt.Errorf("scan character: %w", err)
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &c.Details); err != nil {
			return Character{}, fmt.Errorf("decode character details: %w", err)
		}
	}
	return c, nil
}

func collectTurns(rows pgx.Rows) ([]TurnRecord, error) {
	var out []TurnRecord
	for rows.Next() {
		var t TurnRecord
		if err := rows.Scan(&t.ID, &t.SessionID, &t.TurnIndex, &t.UserMessage, &t.Dialogue, &t.Action, &t.Situation, &t.Background, &t.InternalThought, &t.AffectionDelta, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
