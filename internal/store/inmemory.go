package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu            sync.RWMutex
	characters    map[string]*Character
	conversations map[string]*Conversation
	turns         map[string][]TurnRecord // keyed by session id, ordered by turn index
	quests        map[string][]*Quest     // keyed by character id
	traits        map[string][]Trait      // keyed by character id
	facts         map[string][]MemoryFact // keyed by character id
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		characters:    make(map[string]*Character),
		conversations: make(map[string]*Conversation),
		turns:         make(map[string][]TurnRecord),
		quests:        make(map[string][]*Quest),
		traits:        make(map[string][]Trait),
		facts:         make(map[string][]MemoryFact),
	}
}

func (s *InMemoryStore) CreateCharacter(_ context.Context, c *Character) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	cp := cloneCharacter(c)
	s.characters[c.ID] = &cp
	return nil
}

func (s *InMemoryStore) GetCharacter(_ context.Context, id string) (Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.characters[id]
	if !ok {
		return Character{}, ErrNotFound
	}
	return cloneCharacter(c), nil
}

func (s *InMemoryStore) ListCharacters(_ context.Context, userID string) ([]Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Character
	for _, c := range s.characters {
		if c.UserID == userID {
			out = append(out, cloneCharacter(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) CreateConversation(_ context.Context, c *Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	cp := *c
	s.conversations[c.SessionID] = &cp
	return nil
}

func (s *InMemoryStore) GetConversation(_ context.Context, sessionID string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[sessionID]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return *c, nil
}

func (s *InMemoryStore) ListTurns(_ context.Context, sessionID string) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.turns[sessionID]
	out := make([]TurnRecord, len(arr))
	copy(out, arr)
	return out, nil
}

func (s *InMemoryStore) RecentTurns(_ context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.turns[sessionID]
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]TurnRecord, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *InMemoryStore) CreateQuest(_ context.Context, q *Quest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.characters[q.CharacterID]; !ok {
		return ErrNotFound
	}
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	cp := cloneQuest(q)
	s.quests[q.CharacterID] = append(s.quests[q.CharacterID], &cp)
	return nil
}

func (s *InMemoryStore) ListQuests(_ context.Context, characterID string) ([]Quest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.quests[characterID]
	out := make([]Quest, 0, len(arr))
	for _, q := range arr {
		out = append(out, cloneQuest(q))
	}
	return out, nil
}

func (s *InMemoryStore) ListTraits(_ context.Context, characterID string) ([]Trait, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.traits[characterID]
	out := make([]Trait, len(arr))
	copy(out, arr)
	return out, nil
}

// CommitTurn applies the whole turn under one lock: validation first, then
// mutation, so a rejected commit leaves no partial state behind.
func (s *InMemoryStore) CommitTurn(_ context.Context, commit TurnCommit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[commit.Session.SessionID]
	if !ok {
		return ErrNotFound
	}
	if commit.Session.TurnCount != conv.TurnCount+1 {
		return ErrConflict
	}
	for _, existing := range s.turns[commit.Turn.SessionID] {
		if existing.TurnIndex == commit.Turn.TurnIndex {
			return ErrConflict
		}
	}

	conv.AffectionScore = commit.Session.AffectionScore
	conv.RelationshipStage = commit.Session.RelationshipStage
	conv.TurnCount = commit.Session.TurnCount
	conv.LastInteractionAt = commit.Session.LastInteractionAt

	turn := commit.Turn
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	s.turns[turn.SessionID] = append(s.turns[turn.SessionID], turn)

	for _, upd := range commit.QuestUpdates {
		for _, q := range s.quests[conv.CharacterID] {
			if q.ID != upd.QuestID || q.Cleared {
				continue
			}
			q.Cleared = true
			at := upd.ClearedAt
			q.ClearedAt = &at
		}
	}

	existingTraits := make(map[string]bool, len(s.traits[conv.CharacterID]))
	for _, tr := range s.traits[conv.CharacterID] {
		existingTraits[tr.Text] = true
	}
	for _, tr := range commit.TraitAdditions {
		if existingTraits[tr.Text] {
			continue
		}
		if tr.ID == "" {
			tr.ID = uuid.NewString()
		}
		if tr.CreatedAt.IsZero() {
			tr.CreatedAt = time.Now().UTC()
		}
		existingTraits[tr.Text] = true
		s.traits[conv.CharacterID] = append(s.traits[conv.CharacterID], tr)
	}

	for _, f := range commit.MemoryFacts {
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		if f.CreatedAt.IsZero() {
			f.CreatedAt = time.Now().UTC()
		}
		s.facts[conv.CharacterID] = append(s.facts[conv.CharacterID], f)
	}

	return nil
}

func (s *InMemoryStore) Close() error { return nil }

func cloneCharacter(c *Character) Character {
	cp := *c
	if c.Details != nil {
		cp.Details = make(map[string]string, len(c.Details))
		for k, v := range c.Details {
			cp.Details[k] = v
		}
	}
	return cp
}

func cloneQuest(q *Quest) Quest {
	cp := *q
	if q.RequiredAffection != nil {
		v := *q.RequiredAffection
		cp.RequiredAffection = &v
	}
	if q.ClearedAt != nil {
		v := *q.ClearedAt
		cp.ClearedAt = &v
	}
	return cp
}
