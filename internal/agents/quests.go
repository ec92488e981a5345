package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lucaferrato/amie/internal/genai"
)

const questSystemPrompt = `You evaluate whether roleplay objectives ("quests") were satisfied by the
recent conversation. Be strict: a quest is satisfied only when the dialogue
clearly fulfills its description. Advancement quests additionally require the
character's affection to have reached the listed threshold.

Current affection: %d/100 (stage: %s).

Reply with a JSON object: {"verdicts": [{"quest_id": "...", "satisfied": true|false}, ...]}.
Include one verdict per quest. Return only the JSON object.`

// PendingQuest is one uncleared quest submitted for evaluation.
type PendingQuest struct {
	ID                string `json:"quest_id"`
	Type              string `json:"quest_type"`
	Title             string `json:"title"`
	Description       string `json:"description"`
	RequiredAffection *int   `json:"required_affection,omitempty"`
}

// Verdict is the evaluation result for one quest.
type Verdict struct {
	QuestID   string `json:"quest_id"`
	Satisfied bool   `json:"satisfied"`
}

// QuestInput is the frozen context for quest validation.
type QuestInput struct {
	History           []Exchange
	Quests            []PendingQuest
	Affection         int
	RelationshipStage string
}

// QuestValidator decides which pending quests the latest turn satisfied.
type QuestValidator struct {
	client genai.Client
}

func NewQuestValidator(client genai.Client) *QuestValidator {
	return &QuestValidator{client: client}
}

func (v *QuestValidator) Evaluate(ctx context.Context, in QuestInput) ([]Verdict, error) {
	if len(in.Quests) == 0 {
		return nil, nil
	}

	questJSON, err := json.Marshal(map[string]any{"quests": in.Quests})
	if err != nil {
		return nil, fmt.Errorf("encode quests: %w", err)
	}

	resp, err := v.client.Complete(ctx, genai.Request{
		System: fmt.Sprintf(questSystemPrompt, in.Affection, in.RelationshipStage),
		User: fmt.Sprintf("Recent conversation:\n%s\nQuests:\n%s",
			formatHistory(in.History, 3), questJSON),
	})
	if err != nil {
		return nil, fmt.Errorf("quest completion: %w", err)
	}

	raw, err := extractJSON(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("quest output: %w", err)
	}
	var out struct {
		Verdicts []Verdict `json:"verdicts"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode quest output: %w", err)
	}

	// Drop verdicts for quests we never asked about.
	known := make(map[string]bool, len(in.Quests))
	for _, q := range in.Quests {
		known[q.ID] = true
	}
	verdicts := out.Verdicts[:0]
	for _, vd := range out.Verdicts {
		if known[vd.QuestID] {
			verdicts = append(verdicts, vd)
		}
	}
	return verdicts, nil
}
