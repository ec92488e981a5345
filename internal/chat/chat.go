// Package chat runs the turn pipeline: one mandatory dialogue generation,
// a routed fan-out of secondary workers, and a single atomic commit of
// everything the turn produced.
package chat

import (
	"errors"
	"fmt"
)

// Worker identifies one secondary task the router can attach to a turn.
type Worker string

const (
	WorkerQuests  Worker = "quests"
	WorkerProfile Worker = "profile"
	WorkerMemory  Worker = "memory"
)

// ErrSessionBusy is returned when a turn is already in flight for the
// session. Concurrent turns are rejected, never queued.
var ErrSessionBusy = errors.New("session busy: a turn is already in flight")

// GenerationError wraps a failure of the mandatory dialogue step. The turn
// produced nothing and no state changed.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string { return fmt.Sprintf("dialogue generation: %v", e.Err) }
func (e *GenerationError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed turn commit. A generated reply exists but
// was discarded: nothing became visible and the turn count did not advance.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("turn commit: %v", e.Err) }
func (e *PersistenceError) Unwrap() error { return e.Err }

// TurnResult is everything a committed turn reports back to the caller.
type TurnResult struct {
	SessionID         string   `json:"session_id"`
	TurnCount         int      `json:"turn_count"`
	AffectionScore    int      `json:"affection_score"`
	AffectionDelta    int      `json:"affection_delta"`
	RelationshipStage string   `json:"relationship_stage"`
	Dialogue          string   `json:"dialogue"`
	Action            string   `json:"action,omitempty"`
	Situation         string   `json:"situation,omitempty"`
	Background        string   `json:"background,omitempty"`
	InternalThought   string   `json:"internal_thought,omitempty"`
	ClearedQuestIDs   []string `json:"cleared_quest_ids,omitempty"`
	MemoryFactCount   int      `json:"memory_fact_count"`
	FailedWorkers     []Worker `json:"failed_workers,omitempty"`
	IndexingDegraded  bool     `json:"indexing_degraded,omitempty"`
}

func clampAffection(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
