package embed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"
)

// OpenAI calls an OpenAI-compatible embeddings endpoint. baseURL may point
// at a local server that speaks the same API.
type OpenAI struct {
	client *openai.Client
	model  string
	dim    int
}

func NewOpenAI(apiKey, baseURL, model string, dim int) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	slog.Debug("initializing embeddings client", "model", model, "dimensions", dim)
	return &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		dim:    dim,
	}
}

func (o *OpenAI) Dimensions() int {
	return o.dim
}

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	if len(Tokenize(text)) == 0 {
		return nil, ErrEmptyText
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(o.model),
		Dimensions: o.dim,
	})
	if err != nil {
		return nil, fmt.Errorf("embed: openai request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embed: openai returned no embeddings")
	}

	vec := resp.Data[0].Embedding
	if len(vec) != o.dim {
		return nil, fmt.Errorf("embed: expected %d dimensions, got %d", o.dim, len(vec))
	}
	return vec, nil
}
