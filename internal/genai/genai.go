package genai

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Message is one prior conversational exchange half.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Request is the normalized prompt sent to a generation provider.
type Request struct {
	System  string    `json:"system"`
	History []Message `json:"history,omitempty"`
	User    string    `json:"user"`
}

// Response is the completion returned by a provider.
type Response struct {
	Text string `json:"text"`
}

// Client is the opaque generation capability consumed by the agents.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Name() string
}

// ProviderError wraps a provider failure with enough detail for the caller
// to decide whether a retry makes sense. The core never retries.
type ProviderError struct {
	Provider  string
	Code      string
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error (%s): %v", e.Provider, e.Code, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Config controls client construction.
type Config struct {
	Mode           string
	OpenAIModel    string
	AnthropicModel string
	Temperature    float64
	MaxTokens      int
}

// NewClient builds a generation client for the configured mode. In auto mode
// the provider is picked from available API keys, falling back to the
// deterministic mock so the service stays usable without credentials.
func NewClient(cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(os.Getenv("OPENAI_API_KEY")) != "" {
			return NewOpenAIClient(cfg), nil
		}
		if strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")) != "" {
			return NewAnthropicClient(cfg), nil
		}
		return NewMockClient(), nil
	case "openai":
		return NewOpenAIClient(cfg), nil
	case "anthropic":
		return NewAnthropicClient(cfg), nil
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported generation provider mode %q", cfg.Mode)
	}
}
