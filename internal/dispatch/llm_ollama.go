package dispatch

import (
	"context"

	"github.com/ollama/ollama/api"

	"github.com/MagicBeansAI/magictunnel/internal/mcperr"
)

// OllamaChatProvider adapts github.com/ollama/ollama's client API to
// ChatProvider for locally-hosted models, as the teacher's genai/llm
// ollama adapter does.
type OllamaChatProvider struct {
	client *api.Client
}

func NewOllamaChatProvider(client *api.Client) *OllamaChatProvider {
	return &OllamaChatProvider{client: client}
}

func (p *OllamaChatProvider) Chat(ctx context.Context, model, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error) {
	messages := []api.Message{}
	if systemPrompt != "" {
		messages = append(messages, api.Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, api.Message{Role: "user", Content: userPrompt})

	var reply string
	stream := false
	req := &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]interface{}{
			"temperature": temperature,
		},
	}
	err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		reply += resp.Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	if reply == "" {
		return "", mcperr.New(mcperr.KindBackend, "ollama returned empty reply")
	}
	return reply, nil
}
