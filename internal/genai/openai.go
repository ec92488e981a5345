package genai

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/openai/openai-go"

	"github.com/lucaferrato/amie/internal/reliability"
)

// OpenAIClient generates completions via the OpenAI Chat Completions API.
type OpenAIClient struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int64
}

func NewOpenAIClient(cfg Config) *OpenAIClient {
	model := cfg.OpenAIModel
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &OpenAIClient{
		client:      openai.NewClient(),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
	}
}

func (c *OpenAIClient) Name() string { return "openai" }

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.History {
		switch m.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	messages = append(messages, openai.UserMessage(req.User))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               c.model,
		Temperature:         openai.Float(c.temperature),
		MaxCompletionTokens: openai.Int(c.maxTokens),
	})
	if err != nil {
		return Response{}, c.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, &ProviderError{
			Provider: "openai",
			Code:     "empty_response",
			Err:      fmt.Errorf("no choices returned"),
		}
	}
	return Response{Text: resp.Choices[0].Message.Content}, nil
}

func (c *OpenAIClient) wrapError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return &ProviderError{
			Provider:  "openai",
			Code:      strconv.Itoa(apierr.StatusCode),
			Retryable: reliability.IsRetryableHTTPStatus(apierr.StatusCode),
			Err:       err,
		}
	}
	return &ProviderError{
		Provider:  "openai",
		Code:      "transport",
		Retryable: reliability.IsTimeout(err),
		Err:       err,
	}
}
