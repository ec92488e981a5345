package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict covers both a duplicate turn index and a stale session
	// delta; committed history is immutable and turn counts never rewind.
	ErrConflict = errors.New("turn commit conflict")
)

// Character is the persona record shared by every session with it.
type Character struct {
	ID             string            `json:"character_id"`
	UserID         string            `json:"user_id"`
	Name           string            `json:"name"`
	Age            string            `json:"age"`
	Occupation     string            `json:"occupation"`
	AdditionalInfo string            `json:"additional_info,omitempty"`
	Worldview      string            `json:"worldview"`
	Details        map[string]string `json:"details"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Conversation is one ongoing user-character dialogue session.
type Conversation struct {
	SessionID         string    `json:"session_id"`
	CharacterID       string    `json:"character_id"`
	UserID            string    `json:"user_id"`
	AffectionScore    int       `json:"affection_score"`
	RelationshipStage string    `json:"relationship_stage"`
	TurnCount         int       `json:"turn_count"`
	CreatedAt         time.Time `json:"created_at"`
	LastInteractionAt time.Time `json:"last_interaction_at"`
}

// TurnRecord is one committed exchange: the user message plus the generated
// response with its narrative fields. Immutable once written.
type TurnRecord struct {
	ID              string    `json:"id"`
	SessionID       string    `json:"session_id"`
	TurnIndex       int       `json:"turn_index"`
	UserMessage     string    `json:"user_message"`
	Dialogue        string    `json:"dialogue"`
	Action          string    `json:"action"`
	Situation       string    `json:"situation"`
	Background      string    `json:"background"`
	InternalThought string    `json:"internal_thought"`
	AffectionDelta  int       `json:"affection_delta"`
	CreatedAt       time.Time `json:"created_at"`
}

type QuestType string

const (
	QuestRegular     QuestType = "regular"
	QuestAdvancement QuestType = "advancement"
)

// Quest is an objective tied to a character across all of its sessions.
// The cleared flag is write-once.
type Quest struct {
	ID                string     `json:"quest_id"`
	CharacterID       string     `json:"character_id"`
	Type              QuestType  `json:"quest_type"`
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	RequiredAffection *int       `json:"required_affection,omitempty"`
	Cleared           bool       `json:"cleared"`
	ClearedAt         *time.Time `json:"cleared_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Trait is one append-only persona profile addition.
type Trait struct {
	ID          string    `json:"id"`
	CharacterID string    `json:"character_id"`
	SessionID   string    `json:"session_id"`
	TurnIndex   int       `json:"turn_index"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
}

// MemoryFact is one categorized atomic statement extracted from a turn.
type MemoryFact struct {
	ID          string    `json:"id"`
	CharacterID string    `json:"character_id"`
	SessionID   string    `json:"session_id"`
	TurnIndex   int       `json:"turn_index"`
	Category    string    `json:"category"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

// SessionDelta carries the post-turn session state for the commit.
type SessionDelta struct {
	SessionID         string
	AffectionScore    int
	RelationshipStage string
	TurnCount         int
	LastInteractionAt time.Time
}

// QuestUpdate marks one quest cleared at a given time.
type QuestUpdate struct {
	QuestID   string
	ClearedAt time.Time
}

// TurnCommit is everything a committed turn writes, applied atomically.
type TurnCommit struct {
	Session        SessionDelta
	Turn           TurnRecord
	QuestUpdates   []QuestUpdate
	TraitAdditions []Trait
	MemoryFacts    []MemoryFact
}

// Store is the structured system of record for conversational continuity.
type Store interface {
	CreateCharacter(ctx context.Context, c *Character) error
	GetCharacter(ctx context.Context, id string) (Character, error)
	ListCharacters(ctx context.Context, userID string) ([]Character, error)

	CreateConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, sessionID string) (Conversation, error)
	ListTurns(ctx context.Context, sessionID string) ([]TurnRecord, error)
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error)

	CreateQuest(ctx context.Context, q *Quest) error
	ListQuests(ctx context.Context, characterID string) ([]Quest, error)
	ListTraits(ctx context.Context, characterID string) ([]Trait, error)

	CommitTurn(ctx context.Context, commit TurnCommit) error

	Close() error
}
