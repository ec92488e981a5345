package genai

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/lucaferrato/amie/internal/reliability"
)

// AnthropicClient generates completions via the Anthropic Messages API.
type AnthropicClient struct {
	client      anthropic.Client
	model       anthropic.Model
	temperature float64
	maxTokens   int64
}

func NewAnthropicClient(cfg Config) *AnthropicClient {
	model := anthropic.Model(cfg.AnthropicModel)
	if model == "" {
		model = anthropic.ModelClaude3_5Sonnet20241022
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicClient{
		client:      anthropic.NewClient(),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
	}
}

func (c *AnthropicClient) Name() string { return "anthropic" }

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (Response, error) {
	messages := make([]anthropic.MessageParam, 0, len(req.History)+1)
	for _, m := range req.History {
		switch m.Role {
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)))

	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, c.wrapError(err)
	}

	for _, block := range resp.Content {
		if block.Type == "text" {
			if text := block.AsText().Text; text != "" {
				return Response{Text: text}, nil
			}
		}
	}
	return Response{}, &ProviderError{
		Provider: "anthropic",
		Code:     "empty_response",
		Err:      fmt.Errorf("no text block returned"),
	}
}

func (c *AnthropicClient) wrapError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return &ProviderError{
			Provider:  "anthropic",
			Code:      strconv.Itoa(apierr.StatusCode),
			Retryable: reliability.IsRetryableHTTPStatus(apierr.StatusCode),
			Err:       err,
		}
	}
	return &ProviderError{
		Provider:  "anthropic",
		Code:      "transport",
		Retryable: reliability.IsTimeout(err),
		Err:       err,
	}
}
