package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/lucaferrato/amie/internal/agents"
	"github.com/lucaferrato/amie/internal/genai"
	"github.com/lucaferrato/amie/internal/observability"
	"github.com/lucaferrato/amie/internal/semantic"
	"github.com/lucaferrato/amie/internal/session"
	"github.com/lucaferrato/amie/internal/store"
)

// Options tunes the turn pipeline.
type Options struct {
	DialogueTimeout time.Duration
	WorkerTimeout   time.Duration
	HistoryLimit    int
}

func (o *Options) applyDefaults() {
	if o.DialogueTimeout <= 0 {
		o.DialogueTimeout = 30 * time.Second
	}
	if o.WorkerTimeout <= 0 {
		o.WorkerTimeout = 20 * time.Second
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 20
	}
}

// Orchestrator drives one turn end to end: dialogue, routed fan-out,
// aggregation and commit.
type Orchestrator struct {
	store    store.Store
	index    semantic.Index
	sessions *session.Manager
	metrics  *observability.Metrics

	dialogue *agents.DialogueGenerator
	quests   *agents.QuestValidator
	profile  *agents.ProfileUpdater
	memory   *agents.MemoryExtractor

	gate     *sessionGate
	charLock *characterLocks
	opts     Options
}

func NewOrchestrator(
	st store.Store,
	idx semantic.Index,
	sessions *session.Manager,
	client genai.Client,
	metrics *observability.Metrics,
	opts Options,
) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		store:    st,
		index:    idx,
		sessions: sessions,
		metrics:  metrics,
		dialogue: agents.NewDialogueGenerator(client, opts.HistoryLimit),
		quests:   agents.NewQuestValidator(client),
		profile:  agents.NewProfileUpdater(client),
		memory:   agents.NewMemoryExtractor(client),
		gate:     newSessionGate(),
		charLock: newCharacterLocks(),
		opts:     opts,
	}
}

// turnContext is the frozen snapshot a turn works from. Workers never see
// state newer than this.
type turnContext struct {
	conv    store.Conversation
	char    store.Character
	traits  []store.Trait
	pending []store.Quest
	history []agents.Exchange
}

// workerOutcome carries one secondary worker's result across the join.
type workerOutcome struct {
	worker   Worker
	verdicts []agents.Verdict
	traits   []string
	facts    []agents.ExtractedFact
	err      error
}

// RunTurn executes one turn for the session. On success the returned result
// reflects exactly what was committed; on error nothing became visible.
func (o *Orchestrator) RunTurn(ctx context.Context, sessionID, userMessage string) (TurnResult, error) {
	if !o.gate.tryAcquire(sessionID) {
		o.countTurn("rejected_busy")
		return TurnResult{}, ErrSessionBusy
	}
	defer o.gate.release(sessionID)

	started := time.Now()

	tc, err := o.loadTurnContext(ctx, sessionID)
	if err != nil {
		o.countTurn("load_error")
		return TurnResult{}, err
	}

	reply, err := o.generateDialogue(ctx, tc, userMessage)
	if err != nil {
		o.countTurn("generation_error")
		return TurnResult{}, &GenerationError{Err: err}
	}
	o.observeStage(observability.StageDialogue, time.Since(started))

	// The delta is applied as received; only the resulting score is
	// clamped to [0, 100].
	delta := reply.AffectionDelta
	affection := clampAffection(tc.conv.AffectionScore + delta)
	turnCount := tc.conv.TurnCount + 1

	fanOutStart := time.Now()
	outcomes := o.fanOut(ctx, tc, agents.Exchange{UserMessage: userMessage, Dialogue: reply.Dialogue}, turnCount, affection)
	o.observeStage(observability.StageFanOut, time.Since(fanOutStart))

	now := time.Now().UTC()
	result := TurnResult{
		SessionID:         sessionID,
		TurnCount:         turnCount,
		AffectionScore:    affection,
		AffectionDelta:    delta,
		RelationshipStage: tc.conv.RelationshipStage,
		Dialogue:          reply.Dialogue,
		Action:            reply.Action,
		Situation:         reply.Situation,
		Background:        reply.Background,
		InternalThought:   reply.InternalThought,
	}

	commit := store.TurnCommit{
		Turn: store.TurnRecord{
			ID:              uuid.NewString(),
			SessionID:       sessionID,
			TurnIndex:       turnCount,
			UserMessage:     userMessage,
			Dialogue:        reply.Dialogue,
			Action:          reply.Action,
			Situation:       reply.Situation,
			Background:      reply.Background,
			InternalThought: reply.InternalThought,
			AffectionDelta:  delta,
			CreatedAt:       now,
		},
	}

	// Aggregation and commit are serialized per character so concurrent
	// sessions cannot double-clear quests or duplicate traits. The quest
	// and trait snapshots loaded for the workers may be stale by now, so
	// both are re-read under the lock before verdicts are applied.
	lock := o.charLock.forCharacter(tc.conv.CharacterID)
	lock.Lock()
	commitErr := func() error {
		defer lock.Unlock()
		pending, traits, err := o.reloadCharacterState(ctx, tc.conv.CharacterID)
		if err != nil {
			return err
		}
		o.aggregate(tc, pending, traits, outcomes, &result, &commit, now)

		commit.Session = store.SessionDelta{
			SessionID:         sessionID,
			AffectionScore:    affection,
			RelationshipStage: result.RelationshipStage,
			TurnCount:         turnCount,
			LastInteractionAt: now,
		}

		commitStart := time.Now()
		if err := o.store.CommitTurn(ctx, commit); err != nil {
			return err
		}
		o.observeStage(observability.StageCommit, time.Since(commitStart))
		return nil
	}()
	if commitErr != nil {
		o.countTurn("persistence_error")
		return TurnResult{}, &PersistenceError{Err: commitErr}
	}

	result.MemoryFactCount = len(commit.MemoryFacts)
	if len(commit.MemoryFacts) > 0 {
		indexStart := time.Now()
		if err := o.indexFacts(ctx, tc.conv.CharacterID, commit.MemoryFacts); err != nil {
			log.Printf("chat: semantic indexing degraded for session %s: %v", sessionID, err)
			result.IndexingDegraded = true
			if o.metrics != nil {
				o.metrics.IndexingFailures.Inc()
				o.metrics.ObserveIndicator("indexing_degraded")
			}
		} else {
			o.observeStage(observability.StageIndex, time.Since(indexStart))
		}
	}

	o.sessions.Open(sessionID, tc.conv.CharacterID, tc.conv.UserID)
	o.countTurn("committed")
	if o.metrics != nil {
		o.metrics.ObserveTurnLatency(time.Since(started))
		o.metrics.MemoryFacts.Add(float64(len(commit.MemoryFacts)))
		o.metrics.QuestsCleared.Add(float64(len(result.ClearedQuestIDs)))
	}
	return result, nil
}

func (o *Orchestrator) loadTurnContext(ctx context.Context, sessionID string) (turnContext, error) {
	var tc turnContext
	var err error

	tc.conv, err = o.store.GetConversation(ctx, sessionID)
	if err != nil {
		return tc, fmt.Errorf("load conversation: %w", err)
	}
	tc.char, err = o.store.GetCharacter(ctx, tc.conv.CharacterID)
	if err != nil {
		return tc, fmt.Errorf("load character: %w", err)
	}
	tc.traits, err = o.store.ListTraits(ctx, tc.conv.CharacterID)
	if err != nil {
		return tc, fmt.Errorf("load traits: %w", err)
	}

	quests, err := o.store.ListQuests(ctx, tc.conv.CharacterID)
	if err != nil {
		return tc, fmt.Errorf("load quests: %w", err)
	}
	for _, q := range quests {
		if !q.Cleared {
			tc.pending = append(tc.pending, q)
		}
	}

	turns, err := o.store.RecentTurns(ctx, sessionID, o.opts.HistoryLimit)
	if err != nil {
		return tc, fmt.Errorf("load history: %w", err)
	}
	for _, t := range turns {
		tc.history = append(tc.history, agents.Exchange{UserMessage: t.UserMessage, Dialogue: t.Dialogue})
	}
	return tc, nil
}

func (o *Orchestrator) persona(tc turnContext) agents.PersonaContext {
	traits := make([]string, 0, len(tc.traits))
	for _, t := range tc.traits {
		traits = append(traits, t.Text)
	}
	return agents.PersonaContext{
		Name:       tc.char.Name,
		Age:        tc.char.Age,
		Occupation: tc.char.Occupation,
		Worldview:  tc.char.Worldview,
		Details:    tc.char.Details,
		Traits:     traits,
	}
}

func (o *Orchestrator) generateDialogue(ctx context.Context, tc turnContext, userMessage string) (agents.Reply, error) {
	dctx, cancel := context.WithTimeout(ctx, o.opts.DialogueTimeout)
	defer cancel()

	reply, err := o.dialogue.Generate(dctx, agents.DialogueInput{
		Persona:           o.persona(tc),
		History:           tc.history,
		Affection:         tc.conv.AffectionScore,
		RelationshipStage: tc.conv.RelationshipStage,
		UserMessage:       userMessage,
	})
	if err != nil {
		o.countProviderError(err)
		return agents.Reply{}, err
	}
	return reply, nil
}

// fanOut runs the routed secondary workers concurrently and joins all of
// them. A failed worker contributes nothing; the turn still commits.
func (o *Orchestrator) fanOut(ctx context.Context, tc turnContext, exchange agents.Exchange, turnCount, affection int) []workerOutcome {
	workers := WorkersFor(turnCount)
	results := make(chan workerOutcome, len(workers))

	history := append(append([]agents.Exchange(nil), tc.history...), exchange)

	for _, w := range workers {
		go func(w Worker) {
			wctx, cancel := context.WithTimeout(ctx, o.opts.WorkerTimeout)
			defer cancel()
			results <- o.runWorker(wctx, w, tc, exchange, history, affection)
		}(w)
	}

	outcomes := make([]workerOutcome, 0, len(workers))
	for range workers {
		out := <-results
		if out.err != nil {
			log.Printf("chat: %s worker failed for session %s: %v", out.worker, tc.conv.SessionID, out.err)
			o.countProviderError(out.err)
			if o.metrics != nil {
				o.metrics.WorkerFailures.WithLabelValues(string(out.worker)).Inc()
			}
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

func (o *Orchestrator) runWorker(ctx context.Context, w Worker, tc turnContext, exchange agents.Exchange, history []agents.Exchange, affection int) workerOutcome {
	out := workerOutcome{worker: w}
	switch w {
	case WorkerQuests:
		pending := make([]agents.PendingQuest, 0, len(tc.pending))
		for _, q := range tc.pending {
			pending = append(pending, agents.PendingQuest{
				ID:                q.ID,
				Type:              string(q.Type),
				Title:             q.Title,
				Description:       q.Description,
				RequiredAffection: q.RequiredAffection,
			})
		}
		out.verdicts, out.err = o.quests.Evaluate(ctx, agents.QuestInput{
			History:           history,
			Quests:            pending,
			Affection:         affection,
			RelationshipStage: tc.conv.RelationshipStage,
		})
	case WorkerProfile:
		out.traits, out.err = o.profile.Propose(ctx, agents.ProfileInput{
			Persona:  o.persona(tc),
			Exchange: exchange,
		})
	case WorkerMemory:
		out.facts, out.err = o.memory.Extract(ctx, tc.char.Name, exchange)
	default:
		out.err = fmt.Errorf("unknown worker %q", w)
	}
	return out
}

// reloadCharacterState re-reads pending quests and traits. Aggregation must
// judge verdicts against current state, not the snapshot the workers saw: a
// quest cleared by another session in the meantime is no longer pending.
func (o *Orchestrator) reloadCharacterState(ctx context.Context, characterID string) ([]store.Quest, []store.Trait, error) {
	quests, err := o.store.ListQuests(ctx, characterID)
	if err != nil {
		return nil, nil, fmt.Errorf("reload quests: %w", err)
	}
	var pending []store.Quest
	for _, q := range quests {
		if !q.Cleared {
			pending = append(pending, q)
		}
	}
	traits, err := o.store.ListTraits(ctx, characterID)
	if err != nil {
		return nil, nil, fmt.Errorf("reload traits: %w", err)
	}
	return pending, traits, nil
}

// aggregate folds successful worker outcomes into the commit. Quest clears
// are monotonic, advancement quests gate on affection and each one moves
// the relationship up a rung; traits deduplicate by exact text.
func (o *Orchestrator) aggregate(tc turnContext, pending []store.Quest, traits []store.Trait, outcomes []workerOutcome, result *TurnResult, commit *store.TurnCommit, now time.Time) {
	pendingByID := make(map[string]store.Quest, len(pending))
	for _, q := range pending {
		pendingByID[q.ID] = q
	}
	seenTraits := make(map[string]bool, len(traits))
	for _, t := range traits {
		seenTraits[t.Text] = true
	}

	for _, out := range outcomes {
		if out.err != nil {
			result.FailedWorkers = append(result.FailedWorkers, out.worker)
			continue
		}

		for _, v := range out.verdicts {
			if !v.Satisfied {
				continue
			}
			q, ok := pendingByID[v.QuestID]
			if !ok {
				continue
			}
			if q.Type == store.QuestAdvancement && q.RequiredAffection != nil && result.AffectionScore < *q.RequiredAffection {
				continue
			}
			delete(pendingByID, v.QuestID)
			commit.QuestUpdates = append(commit.QuestUpdates, store.QuestUpdate{QuestID: q.ID, ClearedAt: now})
			result.ClearedQuestIDs = append(result.ClearedQuestIDs, q.ID)
			if q.Type == store.QuestAdvancement {
				result.RelationshipStage = NextStage(result.RelationshipStage)
			}
		}

		for _, text := range out.traits {
			if seenTraits[text] {
				continue
			}
			seenTraits[text] = true
			commit.TraitAdditions = append(commit.TraitAdditions, store.Trait{
				ID:          uuid.NewString(),
				CharacterID: tc.conv.CharacterID,
				SessionID:   tc.conv.SessionID,
				TurnIndex:   result.TurnCount,
				Text:        text,
			})
		}

		for _, f := range out.facts {
			commit.MemoryFacts = append(commit.MemoryFacts, store.MemoryFact{
				ID:          uuid.NewString(),
				CharacterID: tc.conv.CharacterID,
				SessionID:   tc.conv.SessionID,
				TurnIndex:   result.TurnCount,
				Category:    f.Category,
				Content:     f.Content,
			})
		}
	}
}

func (o *Orchestrator) indexFacts(ctx context.Context, characterID string, facts []store.MemoryFact) error {
	if o.index == nil {
		return nil
	}
	toIndex := make([]semantic.Fact, 0, len(facts))
	for _, f := range facts {
		toIndex = append(toIndex, semantic.Fact{
			FactID:    f.ID,
			TurnIndex: f.TurnIndex,
			Category:  f.Category,
			Content:   f.Content,
		})
	}
	return o.index.IndexFacts(ctx, characterID, toIndex)
}

func (o *Orchestrator) countTurn(outcome string) {
	if o.metrics != nil {
		o.metrics.TurnsTotal.WithLabelValues(outcome).Inc()
	}
}

func (o *Orchestrator) countProviderError(err error) {
	if o.metrics == nil {
		return
	}
	var perr *genai.ProviderError
	if errors.As(err, &perr) {
		o.metrics.ProviderErrors.WithLabelValues(perr.Provider, perr.Code).Inc()
	}
}

func (o *Orchestrator) observeStage(stage string, d time.Duration) {
	if o.metrics != nil {
		o.metrics.ObserveStage(stage, d)
	}
}
