package embedding

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider adapts sashabaranov/go-openai's embeddings endpoint to
// Provider, reusing the same client library internal/dispatch's
// OpenAIChatProvider wires in for chat completions.
type OpenAIProvider struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

func NewOpenAIProvider(apiKey, baseURL string, model openai.EmbeddingModel) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.SmallEmbedding3
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg), model: model}
}

func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, int, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: p.model,
	})
	if err != nil {
		return nil, 0, err
	}
	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, resp.Usage.TotalTokens, nil
}
