package genai

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/openai/openai-go"

	"github.com/lucaferrato/amie/internal/reliability"
)

// Embedder turns memory text into a fixed-dimension vector for the
// semantic index.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// EmbedderConfig controls embedder construction.
type EmbedderConfig struct {
	Mode  string
	Model string
	Dim   int
}

// NewEmbedder picks the OpenAI embeddings API when a key is available,
// otherwise the deterministic local embedder.
func NewEmbedder(cfg EmbedderConfig) (Embedder, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}
	switch mode {
	case "auto":
		if strings.TrimSpace(os.Getenv("OPENAI_API_KEY")) != "" {
			return NewOpenAIEmbedder(cfg), nil
		}
		return NewHashEmbedder(cfg.Dim), nil
	case "openai":
		return NewOpenAIEmbedder(cfg), nil
	case "mock":
		return NewHashEmbedder(cfg.Dim), nil
	default:
		return nil, errors.New("unsupported embedder mode " + strconv.Quote(cfg.Mode))
	}
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client openai.Client
	model  string
	dim    int
}

func NewOpenAIEmbedder(cfg EmbedderConfig) *OpenAIEmbedder {
	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	dim := cfg.Dim
	if dim <= 0 {
		dim = 1536
	}
	return &OpenAIEmbedder{
		client: openai.NewClient(),
		model:  model,
		dim:    dim,
	}
}

func (e *OpenAIEmbedder) Dim() int { return e.dim }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		var apierr *openai.Error
		if errors.As(err, &apierr) {
			return nil, &ProviderError{
				Provider:  "openai",
				Code:      strconv.Itoa(apierr.StatusCode),
				Retryable: reliability.IsRetryableHTTPStatus(apierr.StatusCode),
				Err:       err,
			}
		}
		return nil, &ProviderError{Provider: "openai", Code: "transport", Err: err}
	}
	if len(resp.Data) == 0 {
		return nil, &ProviderError{Provider: "openai", Code: "empty_response", Err: errors.New("no embedding returned")}
	}
	src := resp.Data[0].Embedding
	vec := make([]float32, 0, len(src))
	for _, v := range src {
		vec = append(vec, float32(v))
	}
	return vec, nil
}

// HashEmbedder produces a deterministic pseudo-embedding from token hashes.
// Texts sharing words land near each other, which is enough for local dev
// and for exercising the semantic store in tests.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 1536
	}
	return &HashEmbedder{dim: dim}
}

func (e *HashEmbedder) Dim() int { return e.dim }

func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[int(h.Sum32())%e.dim] += 1
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}
