// Package agents wraps the generation capability into the typed workers the
// turn pipeline dispatches: dialogue generation, quest validation, profile
// updates and memory extraction, plus the one-shot character creator.
//
// Workers are pure request/response functions over immutable snapshots; all
// state mutation happens in the orchestrator after they return.
package agents

import (
	"fmt"
	"strings"
)

// Exchange is one prior committed turn as the workers see it.
type Exchange struct {
	UserMessage string
	Dialogue    string
}

// PersonaContext is the frozen character view handed to each worker.
type PersonaContext struct {
	Name       string
	Age        string
	Occupation string
	Worldview  string
	Details    map[string]string
	Traits     []string
}

func (p PersonaContext) describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\nAge: %s\nOccupation: %s\n", p.Name, p.Age, p.Occupation)
	if p.Worldview != "" {
		fmt.Fprintf(&b, "World: %s\n", p.Worldview)
	}
	for _, key := range []string{"personality", "quirks", "speaking_style", "likes", "dislikes", "background", "goals"} {
		if v := p.Details[key]; v != "" {
			fmt.Fprintf(&b, "%s: %s\n", strings.ReplaceAll(key, "_", " "), v)
		}
	}
	if len(p.Traits) > 0 {
		fmt.Fprintf(&b, "Discovered during play: %s\n", strings.Join(p.Traits, "; "))
	}
	return b.String()
}

func formatHistory(history []Exchange, maxTurns int) string {
	if maxTurns > 0 && len(history) > maxTurns {
		history = history[len(history)-maxTurns:]
	}
	var b strings.Builder
	for _, ex := range history {
		fmt.Fprintf(&b, "USER: %s\nCHARACTER: %s\n", ex.UserMessage, ex.Dialogue)
	}
	return b.String()
}

// extractJSON pulls the outermost JSON object out of a completion that may
// wrap it in prose or markdown fences.
func extractJSON(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in completion: %q", truncate(text, 120))
	}
	return text[start : end+1], nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
