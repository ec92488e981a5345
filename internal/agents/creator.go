package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lucaferrato/amie/internal/genai"
)

const creatorSystemPrompt = `You flesh out a roleplay character from a few basics supplied by the
user. Invent a coherent person: where they live, what drives them, how they
talk. Stay consistent with the basics and keep everything grounded in ordinary
life unless the basics say otherwise.

Reply with a single JSON object whose keys are all strings. It must include a
"worldview" key (2-3 sentences describing the world as the character sees it)
plus whatever detail keys fit the character, for example "personality",
"quirks", "speaking_style", "likes", "dislikes", "background", "goals".
Return only the JSON object.`

// Basics is what the user supplies when creating a character.
type Basics struct {
	Name           string
	Age            int
	Occupation     string
	AdditionalInfo string
}

// PersonaDraft is the generated half of a character sheet.
type PersonaDraft struct {
	Worldview string
	Details   map[string]string
}

// CharacterCreator expands user-supplied basics into a full persona.
type CharacterCreator struct {
	client genai.Client
}

func NewCharacterCreator(client genai.Client) *CharacterCreator {
	return &CharacterCreator{client: client}
}

func (c *CharacterCreator) Create(ctx context.Context, b Basics) (PersonaDraft, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Name: %s\nAge: %d\nOccupation: %s\n", b.Name, b.Age, b.Occupation)
	if b.AdditionalInfo != "" {
		fmt.Fprintf(&sb, "Additional info: %s\n", b.AdditionalInfo)
	}

	resp, err := c.client.Complete(ctx, genai.Request{
		System: creatorSystemPrompt,
		User:   sb.String(),
	})
	if err != nil {
		return PersonaDraft{}, fmt.Errorf("creator completion: %w", err)
	}

	raw, err := extractJSON(resp.Text)
	if err != nil {
		return PersonaDraft{}, fmt.Errorf("creator output: %w", err)
	}
	var fields map[string]string
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return PersonaDraft{}, fmt.Errorf("decode creator output: %w", err)
	}

	draft := PersonaDraft{Details: make(map[string]string, len(fields))}
	for key, value := range fields {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if key == "worldview" {
			draft.Worldview = value
			continue
		}
		draft.Details[key] = value
	}
	if draft.Worldview == "" {
		return PersonaDraft{}, fmt.Errorf("creator output: missing worldview")
	}
	return draft, nil
}
