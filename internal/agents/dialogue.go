package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lucaferrato/amie/internal/genai"
)

const dialogueSystemPrompt = `You are roleplaying as the character described below. Stay in character at all times.

%s
Current affection toward the user: %d/100 (stage: %s).

Respond to the user's latest message with a JSON object containing exactly these keys:
{"dialogue": "what the character says",
 "action": "visible actions or expressions",
 "situation": "what is happening right now",
 "background": "the scene around you",
 "internal_thought": "what the character thinks but does not say",
 "affection_delta": <integer between -10 and 10, how this message changed the character's affection>}

Return only the JSON object.`

// Reply is the structured dialogue output for one turn.
type Reply struct {
	Dialogue        string `json:"dialogue"`
	Action          string `json:"action"`
	Situation       string `json:"situation"`
	Background      string `json:"background"`
	InternalThought string `json:"internal_thought"`
	AffectionDelta  int    `json:"affection_delta"`
}

// DialogueInput is the frozen context for the mandatory dialogue step.
type DialogueInput struct {
	Persona           PersonaContext
	History           []Exchange
	Affection         int
	RelationshipStage string
	UserMessage       string
}

// DialogueGenerator produces the character's next turn.
type DialogueGenerator struct {
	client       genai.Client
	historyTurns int
}

func NewDialogueGenerator(client genai.Client, historyTurns int) *DialogueGenerator {
	if historyTurns <= 0 {
		historyTurns = 20
	}
	return &DialogueGenerator{client: client, historyTurns: historyTurns}
}

func (g *DialogueGenerator) Generate(ctx context.Context, in DialogueInput) (Reply, error) {
	req := genai.Request{
		System: fmt.Sprintf(dialogueSystemPrompt, in.Persona.describe(), in.Affection, in.RelationshipStage),
		User:   in.UserMessage,
	}
	history := in.History
	if len(history) > g.historyTurns {
		history = history[len(history)-g.historyTurns:]
	}
	for _, ex := range history {
		req.History = append(req.History,
			genai.Message{Role: "user", Content: ex.UserMessage},
			genai.Message{Role: "assistant", Content: ex.Dialogue},
		)
	}

	resp, err := g.client.Complete(ctx, req)
	if err != nil {
		return Reply{}, fmt.Errorf("dialogue completion: %w", err)
	}

	raw, err := extractJSON(resp.Text)
	if err != nil {
		return Reply{}, fmt.Errorf("dialogue output: %w", err)
	}
	var reply Reply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return Reply{}, fmt.Errorf("decode dialogue output: %w", err)
	}
	if reply.Dialogue == "" {
		return Reply{}, fmt.Errorf("dialogue output missing dialogue text")
	}
	return reply, nil
}
