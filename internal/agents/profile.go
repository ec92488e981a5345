package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lucaferrato/amie/internal/genai"
)

const profileSystemPrompt = `You maintain a personality profile for the user's roleplay partner,
%s. Given the character sheet, the traits already on file, and the latest
exchange, list any newly discovered traits the exchange reveals. A trait is a
short declarative phrase ("enjoys teasing people she trusts"). Do not repeat
traits already on file, and do not invent traits the conversation does not
support. An empty list is the common case.

Reply with a JSON object: {"traits": ["...", ...]}. Return only the JSON object.`

// ProfileInput is the frozen context for trait discovery.
type ProfileInput struct {
	Persona  PersonaContext
	Exchange Exchange
}

// ProfileUpdater mines each exchange for durable personality traits.
type ProfileUpdater struct {
	client genai.Client
}

func NewProfileUpdater(client genai.Client) *ProfileUpdater {
	return &ProfileUpdater{client: client}
}

func (u *ProfileUpdater) Propose(ctx context.Context, in ProfileInput) ([]string, error) {
	resp, err := u.client.Complete(ctx, genai.Request{
		System: fmt.Sprintf(profileSystemPrompt, in.Persona.Name),
		User: fmt.Sprintf("Character sheet:\n%s\nLatest exchange:\nUser: %s\n%s: %s",
			in.Persona.describe(), in.Exchange.UserMessage, in.Persona.Name, in.Exchange.Dialogue),
	})
	if err != nil {
		return nil, fmt.Errorf("profile completion: %w", err)
	}

	raw, err := extractJSON(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("profile output: %w", err)
	}
	var out struct {
		Traits []string `json:"traits"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode profile output: %w", err)
	}

	traits := out.Traits[:0]
	for _, t := range out.Traits {
		t = strings.TrimSpace(t)
		if t != "" {
			traits = append(traits, t)
		}
	}
	return traits, nil
}
