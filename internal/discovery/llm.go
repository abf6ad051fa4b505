package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Chatter is the narrow chat trait this package depends on, matching
// internal/dispatch.ChatProvider's signature structurally so any registered
// dispatch provider (OpenAI/Anthropic/Bedrock/Ollama) can be handed to a
// ChatLLMScorer or ChatParameterMapper without this package importing
// internal/dispatch directly.
type Chatter interface {
	Chat(ctx context.Context, model, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error)
}

// ChatLLMScorer implements LLMScorer by asking a chat model to judge, for
// each candidate, how well it answers the query, parsing a JSON object of
// name->score out of the reply (spec §4.D LLM tier).
type ChatLLMScorer struct {
	chat  Chatter
	Model string
}

func NewChatLLMScorer(chat Chatter, model string) *ChatLLMScorer {
	return &ChatLLMScorer{chat: chat, Model: model}
}

const scorerSystemPrompt = `You rank candidate tools by relevance to a user request.
Reply with ONLY a JSON object mapping each tool name to a relevance score
between 0 and 1, e.g. {"tool_a": 0.9, "tool_b": 0.1}. Do not include any
other text.`

func (s *ChatLLMScorer) Score(query string, candidates []ToolCandidate) (map[string]float64, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n\nCandidate tools:\n", query)
	for _, c := range candidates {
		fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Description)
	}

	reply, err := s.chat.Chat(context.Background(), s.Model, scorerSystemPrompt, b.String(), 512, 0)
	if err != nil {
		return nil, err
	}

	scores := map[string]float64{}
	if err := json.Unmarshal([]byte(extractJSONObject(reply)), &scores); err != nil {
		return nil, err
	}
	for name, v := range scores {
		scores[name] = clamp01(v)
	}
	return scores, nil
}

// ChatParameterMapper implements ParameterMapper by asking a chat model to
// produce a JSON arguments object for a tool call from a natural-language
// request and the tool's declared schema (spec §4.D parameter mapping).
type ChatParameterMapper struct {
	chat  Chatter
	Model string
}

func NewChatParameterMapper(chat Chatter, model string) *ChatParameterMapper {
	return &ChatParameterMapper{chat: chat, Model: model}
}

const mapperSystemPrompt = `You translate a natural-language request into JSON
arguments for a single tool call, obeying its JSON Schema exactly. Reply with
ONLY the JSON object of arguments, no other text.`

func (m *ChatParameterMapper) MapParameters(ctx context.Context, naturalLanguageRequest string, tool ToolCandidate, schema json.RawMessage) (map[string]interface{}, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n\nTool: %s\nSchema: %s\n", naturalLanguageRequest, tool.Name, string(schema))

	reply, err := m.chat.Chat(ctx, m.Model, mapperSystemPrompt, b.String(), 1024, 0)
	if err != nil {
		return nil, err
	}

	args := map[string]interface{}{}
	if err := json.Unmarshal([]byte(extractJSONObject(reply)), &args); err != nil {
		return nil, err
	}
	return args, nil
}

// extractJSONObject trims any leading/trailing prose a chat model adds
// despite instructions, keeping only the outermost {...} span.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
