package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedConversation(t *testing.T, s *InMemoryStore) (Character, Conversation) {
	t.Helper()
	ctx := context.Background()

	ch := Character{UserID: "u1", Name: "Luna", Age: "25", Occupation: "cafe owner"}
	if err := s.CreateCharacter(ctx, &ch); err != nil {
		t.Fatalf("CreateCharacter() error = %v", err)
	}
	conv := Conversation{
		CharacterID:       ch.ID,
		UserID:            "u1",
		AffectionScore:    50,
		RelationshipStage: "stranger",
	}
	if err := s.CreateConversation(ctx, &conv); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	return ch, conv
}

func baseCommit(conv Conversation, turnIndex int) TurnCommit {
	return TurnCommit{
		Session: SessionDelta{
			SessionID:         conv.SessionID,
			AffectionScore:    55,
			RelationshipStage: "stranger",
			TurnCount:         turnIndex,
			LastInteractionAt: time.Now().UTC(),
		},
		Turn: TurnRecord{
			SessionID:      conv.SessionID,
			TurnIndex:      turnIndex,
			UserMessage:    "hello",
			Dialogue:       "hi there",
			AffectionDelta: 5,
		},
	}
}

func TestCommitTurnAdvancesConversation(t *testing.T) {
	s := NewInMemoryStore()
	_, conv := seedConversation(t, s)
	ctx := context.Background()

	if err := s.CommitTurn(ctx, baseCommit(conv, 1)); err != nil {
		t.Fatalf("CommitTurn() error = %v", err)
	}

	got, err := s.GetConversation(ctx, conv.SessionID)
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if got.TurnCount != 1 {
		t.Fatalf("TurnCount = %d, want 1", got.TurnCount)
	}
	if got.AffectionScore != 55 {
		t.Fatalf("AffectionScore = %d, want 55", got.AffectionScore)
	}

	turns, err := s.ListTurns(ctx, conv.SessionID)
	if err != nil {
		t.Fatalf("ListTurns() error = %v", err)
	}
	if len(turns) != 1 || turns[0].TurnIndex != 1 {
		t.Fatalf("unexpected turns: %+v", turns)
	}
}

func TestCommitTurnRejectsStaleDelta(t *testing.T) {
	s := NewInMemoryStore()
	_, conv := seedConversation(t, s)
	ctx := context.Background()

	if err := s.CommitTurn(ctx, baseCommit(conv, 1)); err != nil {
		t.Fatalf("CommitTurn() error = %v", err)
	}
	// Replaying turn 1 must not rewrite history.
	err := s.CommitTurn(ctx, baseCommit(conv, 1))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("replayed commit error = %v, want ErrConflict", err)
	}
	// Skipping to turn 3 must also fail.
	err = s.CommitTurn(ctx, baseCommit(conv, 3))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("skipping commit error = %v, want ErrConflict", err)
	}

	got, _ := s.GetConversation(ctx, conv.SessionID)
	if got.TurnCount != 1 {
		t.Fatalf("TurnCount = %d after rejected commits, want 1", got.TurnCount)
	}
}

func TestCommitTurnQuestClearIsMonotonic(t *testing.T) {
	s := NewInMemoryStore()
	ch, conv := seedConversation(t, s)
	ctx := context.Background()

	q := Quest{CharacterID: ch.ID, Type: QuestRegular, Title: "Share a secret"}
	if err := s.CreateQuest(ctx, &q); err != nil {
		t.Fatalf("CreateQuest() error = %v", err)
	}

	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	commit := baseCommit(conv, 1)
	commit.QuestUpdates = []QuestUpdate{{QuestID: q.ID, ClearedAt: first}}
	if err := s.CommitTurn(ctx, commit); err != nil {
		t.Fatalf("CommitTurn() error = %v", err)
	}

	// A second clear for the same quest must not restamp cleared_at.
	commit2 := baseCommit(conv, 2)
	commit2.QuestUpdates = []QuestUpdate{{QuestID: q.ID, ClearedAt: first.Add(time.Hour)}}
	if err := s.CommitTurn(ctx, commit2); err != nil {
		t.Fatalf("CommitTurn() error = %v", err)
	}

	quests, err := s.ListQuests(ctx, ch.ID)
	if err != nil {
		t.Fatalf("ListQuests() error = %v", err)
	}
	if len(quests) != 1 || !quests[0].Cleared {
		t.Fatalf("quest should be cleared: %+v", quests)
	}
	if !quests[0].ClearedAt.Equal(first) {
		t.Fatalf("ClearedAt = %v, want %v", quests[0].ClearedAt, first)
	}
}

func TestCommitTurnDedupesTraits(t *testing.T) {
	s := NewInMemoryStore()
	ch, conv := seedConversation(t, s)
	ctx := context.Background()

	commit := baseCommit(conv, 1)
	commit.TraitAdditions = []Trait{
		{CharacterID: ch.ID, SessionID: conv.SessionID, TurnIndex: 1, Text: "likes amusement parks"},
		{CharacterID: ch.ID, SessionID: conv.SessionID, TurnIndex: 1, Text: "Likes Amusement Parks"},
	}
	if err := s.CommitTurn(ctx, commit); err != nil {
		t.Fatalf("CommitTurn() error = %v", err)
	}

	commit2 := baseCommit(conv, 2)
	commit2.TraitAdditions = []Trait{
		{CharacterID: ch.ID, SessionID: conv.SessionID, TurnIndex: 2, Text: "likes amusement parks"},
	}
	if err := s.CommitTurn(ctx, commit2); err != nil {
		t.Fatalf("CommitTurn() error = %v", err)
	}

	traits, err := s.ListTraits(ctx, ch.ID)
	if err != nil {
		t.Fatalf("ListTraits() error = %v", err)
	}
	// Exact-match dedup only: the case variant stays, the replay is dropped.
	if len(traits) != 2 {
		t.Fatalf("len(traits) = %d, want 2: %+v", len(traits), traits)
	}
}

func TestCreateQuestUnknownCharacter(t *testing.T) {
	s := NewInMemoryStore()
	q := Quest{CharacterID: "missing", Type: QuestRegular, Title: "x"}
	if err := s.CreateQuest(context.Background(), &q); !errors.Is(err, ErrNotFound) {
		t.Fatalf("CreateQuest() error = %v, want ErrNotFound", err)
	}
}

func TestRecentTurnsReturnsTail(t *testing.T) {
	s := NewInMemoryStore()
	_, conv := seedConversation(t, s)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if err := s.CommitTurn(ctx, baseCommit(conv, i)); err != nil {
			t.Fatalf("CommitTurn(%d) error = %v", i, err)
		}
	}

	recent, err := s.RecentTurns(ctx, conv.SessionID, 2)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	if len(recent) != 2 || recent[0].TurnIndex != 4 || recent[1].TurnIndex != 5 {
		t.Fatalf("unexpected recent turns: %+v", recent)
	}
}
