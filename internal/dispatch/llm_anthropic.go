package dispatch

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/MagicBeansAI/magictunnel/internal/mcperr"
)

// AnthropicChatProvider adapts github.com/anthropics/anthropic-sdk-go to
// ChatProvider, grounded in the beluga-ai pack's anthropic adapter
// structure (one client, one message per call).
type AnthropicChatProvider struct {
	client anthropic.Client
}

func NewAnthropicChatProvider(apiKey string) *AnthropicChatProvider {
	return &AnthropicChatProvider{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func (p *AnthropicChatProvider) Chat(ctx context.Context, model, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(msg.Content) == 0 {
		return "", mcperr.New(mcperr.KindBackend, "anthropic returned no content blocks")
	}
	return msg.Content[0].Text, nil
}
