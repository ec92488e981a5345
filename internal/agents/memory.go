package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lucaferrato/amie/internal/genai"
)

const memorySystemPrompt = `You extract long-term memories from one roleplay exchange with %s.
Sort everything worth remembering into these buckets: "facts" holds objective
statements about the world of the story, "emotions" holds feelings either
party expressed, "key_events" holds things that happened and may be
referenced later, "user_info" holds what the user revealed about themselves,
and "character_revelations" holds what the character revealed about herself.

Each entry is one short sentence. Leave a bucket empty when the exchange has
nothing for it.

Reply with a JSON object:
{"facts": [], "emotions": [], "key_events": [], "user_info": [], "character_revelations": []}
Return only the JSON object.`

// Memory categories, matching the buckets in the extraction prompt.
const (
	CategoryFact       = "fact"
	CategoryEmotion    = "emotion"
	CategoryKeyEvent   = "key_event"
	CategoryUserInfo   = "user_info"
	CategoryRevelation = "character_revelation"
)

// ExtractedFact is one memory with its category assigned.
type ExtractedFact struct {
	Category string
	Content  string
}

// MemoryExtractor turns each exchange into categorized long-term memories.
type MemoryExtractor struct {
	client genai.Client
}

func NewMemoryExtractor(client genai.Client) *MemoryExtractor {
	return &MemoryExtractor{client: client}
}

func (e *MemoryExtractor) Extract(ctx context.Context, characterName string, ex Exchange) ([]ExtractedFact, error) {
	resp, err := e.client.Complete(ctx, genai.Request{
		System: fmt.Sprintf(memorySystemPrompt, characterName),
		User: fmt.Sprintf("User: %s\n%s: %s",
			ex.UserMessage, characterName, ex.Dialogue),
	})
	if err != nil {
		return nil, fmt.Errorf("memory completion: %w", err)
	}

	raw, err := extractJSON(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("memory output: %w", err)
	}
	var out struct {
		Facts       []string `json:"facts"`
		Emotions    []string `json:"emotions"`
		KeyEvents   []string `json:"key_events"`
		UserInfo    []string `json:"user_info"`
		Revelations []string `json:"character_revelations"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode memory output: %w", err)
	}

	var facts []ExtractedFact
	appendAll := func(category string, entries []string) {
		for _, entry := range entries {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				facts = append(facts, ExtractedFact{Category: category, Content: entry})
			}
		}
	}
	appendAll(CategoryFact, out.Facts)
	appendAll(CategoryEmotion, out.Emotions)
	appendAll(CategoryKeyEvent, out.KeyEvents)
	appendAll(CategoryUserInfo, out.UserInfo)
	appendAll(CategoryRevelation, out.Revelations)
	return facts, nil
}
