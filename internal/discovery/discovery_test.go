package discovery

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLMScorer struct {
	scores map[string]float64
	err    error
	calls  int
}

func (f *fakeLLMScorer) Score(query string, candidates []ToolCandidate) (map[string]float64, error) {
	f.calls++
	return f.scores, f.err
}

func candidates() []ToolCandidate {
	return []ToolCandidate{
		{Name: "search_web", Description: "search the public web", Keywords: []string{"search", "web"}},
		{Name: "send_email", Description: "send an email message", Keywords: []string{"email", "mail"}},
	}
}

func TestEngine_DiscoverCachesByQueryAndCandidateSet(t *testing.T) {
	llm := &fakeLLMScorer{scores: map[string]float64{"search_web": 0.9, "send_email": 0.1}}
	e := NewEngine(llm, nil, Config{})

	r1, err := e.Discover(context.Background(), "find something online", candidates())
	require.NoError(t, err)
	require.NotEmpty(t, r1.Results)
	assert.Equal(t, "search_web", r1.Results[0].Name)
	assert.Equal(t, 1, llm.calls)

	r2, err := e.Discover(context.Background(), "find something online", candidates())
	require.NoError(t, err)
	assert.Equal(t, r1, r2)
	assert.Equal(t, 1, llm.calls, "second call with identical query/candidates should hit the cache")
}

func TestEngine_DiscoverDegradesToRuleScoreWhenLLMFails(t *testing.T) {
	llm := &fakeLLMScorer{err: assert.AnError}
	e := NewEngine(llm, nil, Config{})

	r, err := e.Discover(context.Background(), "search_web", candidates())
	require.NoError(t, err)
	require.NotEmpty(t, r.Results)
	assert.Equal(t, "search_web", r.Results[0].Name)
}

func TestEngine_DiscoverTopKTruncates(t *testing.T) {
	llm := &fakeLLMScorer{scores: map[string]float64{"search_web": 0.9, "send_email": 0.8}}
	e := NewEngine(llm, nil, Config{TopK: 1})

	r, err := e.Discover(context.Background(), "do something", candidates())
	require.NoError(t, err)
	assert.Len(t, r.Results, 1)
}

type fakeMapper struct {
	args map[string]interface{}
	err  error
}

func (f *fakeMapper) MapParameters(ctx context.Context, naturalLanguageRequest string, tool ToolCandidate, schema json.RawMessage) (map[string]interface{}, error) {
	return f.args, f.err
}

func TestMapAndValidate_ValidArgsPassSchema(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"query": {"type": "string"}},
		"required": ["query"]
	}`)
	mapper := &fakeMapper{args: map[string]interface{}{"query": "weather in paris"}}

	args, err := MapAndValidate(context.Background(), mapper, "what's the weather in paris", ToolCandidate{Name: "search_web"}, schema)
	require.NoError(t, err)
	assert.Equal(t, "weather in paris", args["query"])
}

func TestMapAndValidate_InvalidArgsFailSchema(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"query": {"type": "string"}},
		"required": ["query"]
	}`)
	mapper := &fakeMapper{args: map[string]interface{}{"wrong_field": 123}}

	_, err := MapAndValidate(context.Background(), mapper, "do the thing", ToolCandidate{Name: "search_web"}, schema)
	require.Error(t, err)
}

func TestMapAndValidate_NoSchemaSkipsValidation(t *testing.T) {
	mapper := &fakeMapper{args: map[string]interface{}{"anything": true}}

	args, err := MapAndValidate(context.Background(), mapper, "do it", ToolCandidate{Name: "search_web"}, nil)
	require.NoError(t, err)
	assert.Equal(t, true, args["anything"])
}

func TestExtractJSONObject(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSONObject(`here you go: {"a":1} thanks`))
	assert.Equal(t, "no braces here", extractJSONObject("no braces here"))
}
