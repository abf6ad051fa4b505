package dispatch

import (
	"context"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/MagicBeansAI/magictunnel/internal/mcperr"
	"github.com/MagicBeansAI/magictunnel/internal/routing"
	"github.com/MagicBeansAI/magictunnel/internal/substitution"
)

// ChatProvider is the narrow, provider-agnostic chat trait every LLM
// backend implements (spec §4.A Llm / §9 Embedding-provider-polymorphism
// design note, applied here to chat instead of embeddings).
type ChatProvider interface {
	Chat(ctx context.Context, model, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error)
}

// LLMAgent dispatches a chat call to one of several provider-agnostic
// backends selected by routing config (spec §4.A Llm).
type LLMAgent struct {
	mu        sync.Mutex
	providers map[string]ChatProvider
}

// NewLLMAgent constructs an agent with no providers registered; callers
// wire concrete providers (OpenAI, Anthropic, Ollama, Bedrock) via
// RegisterProvider based on deployment configuration and available
// credentials.
func NewLLMAgent() *LLMAgent {
	return &LLMAgent{providers: map[string]ChatProvider{}}
}

// RegisterProvider binds a ChatProvider under a provider name referenced by
// routing.LLMConfig.Provider (e.g. "openai", "anthropic", "ollama", "bedrock").
func (a *LLMAgent) RegisterProvider(name string, p ChatProvider) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.providers[name] = p
}

func (a *LLMAgent) Execute(ctx context.Context, d *routing.Descriptor, params substitution.Params) (Result, error) {
	cfg := d.LLM
	if cfg == nil {
		return Result{}, mcperr.New(mcperr.KindConfig, "llm routing missing llm config")
	}

	a.mu.Lock()
	provider, ok := a.providers[cfg.Provider]
	a.mu.Unlock()
	if !ok {
		return Result{}, mcperr.New(mcperr.KindConfig, "llm provider not configured: "+cfg.Provider)
	}

	systemPrompt, err := substitution.Render(cfg.SystemPrompt, params)
	if err != nil {
		return Result{}, mcperr.Wrap(mcperr.KindSubstitution, "rendering system prompt", err)
	}
	userPrompt, err := substitution.Render(cfg.UserPrompt, params)
	if err != nil {
		return Result{}, mcperr.Wrap(mcperr.KindSubstitution, "rendering user prompt", err)
	}

	reply, err := provider.Chat(ctx, cfg.Model, systemPrompt, userPrompt, cfg.MaxTokens, cfg.Temperature)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, mcperr.Wrap(mcperr.KindTimeout, "llm call timed out", ctx.Err())
		}
		return Result{}, mcperr.Wrap(mcperr.KindBackend, "llm call failed", err)
	}

	return Result{Success: true, Output: map[string]interface{}{"reply": reply}}, nil
}

// OpenAIChatProvider adapts github.com/sashabaranov/go-openai to
// ChatProvider; it also serves Ollama and any OpenAI-compatible gateway by
// pointing BaseURL at the local endpoint, matching the teacher's own
// llms/openai-backed-everything pattern.
type OpenAIChatProvider struct {
	client *openai.Client
}

// NewOpenAIChatProvider builds a provider against the public OpenAI API
// using apiKey, or against a compatible endpoint when baseURL is set.
func NewOpenAIChatProvider(apiKey, baseURL string) *OpenAIChatProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIChatProvider{client: openai.NewClientWithConfig(cfg)}
}

func (p *OpenAIChatProvider) Chat(ctx context.Context, model, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		MaxTokens:   maxTokens,
		Temperature: float32(temperature),
	}
	if systemPrompt != "" {
		req.Messages = append([]openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		}, req.Messages...)
	}
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", mcperr.New(mcperr.KindBackend, "llm returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
