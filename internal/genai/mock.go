package genai

import (
	"context"
	"encoding/json"
	"strings"
)

// MockClient provides deterministic local replies when no provider is
// configured. It inspects the request shape and answers with output the
// calling agent can parse, so the whole pipeline stays runnable offline.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) Name() string { return "mock" }

func (c *MockClient) Complete(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}
	return Response{Text: buildMockReply(req)}, nil
}

func buildMockReply(req Request) string {
	system := req.System

	switch {
	case strings.Contains(system, "affection_delta"):
		reply := map[string]any{
			"dialogue":         mockDialogueFor(req),
			"action":           "tilts her head and smiles",
			"situation":        "a quiet corner of the cafe",
			"background":       "late afternoon light through the windows",
			"internal_thought": "I hope this conversation keeps going.",
			"affection_delta":  1,
		}
		return mustJSON(reply)
	case strings.Contains(system, "verdicts"):
		return mustJSON(map[string]any{"verdicts": []any{}})
	case strings.Contains(system, "character_revelations"):
		return mustJSON(map[string]any{
			"facts":                 []string{"The user talked with the character."},
			"emotions":              []string{},
			"key_events":            []string{},
			"user_info":             []string{},
			"character_revelations": []string{},
		})
	case strings.Contains(system, "newly discovered traits"):
		return mustJSON(map[string]any{"traits": []string{}})
	case strings.Contains(system, "worldview"):
		return mustJSON(map[string]string{
			"worldview":      "An ordinary town with small wonders hidden in daily life.",
			"personality":    "warm, curious, a little stubborn",
			"quirks":         "hums while thinking",
			"speaking_style": "casual with occasional teasing",
			"likes":          "rainy evenings, old paperbacks",
			"dislikes":       "being rushed",
			"background":     "moved here two years ago looking for a fresh start",
			"goals":          "open a small shop of her own",
		})
	default:
		return mockDialogueFor(req)
	}
}

func mockDialogueFor(req Request) string {
	base := strings.TrimSpace(req.User)
	if base == "" {
		return "I'm listening."
	}
	if len(base) > 120 {
		base = base[:120]
	}
	return "I hear you: " + base
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
