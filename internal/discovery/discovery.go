package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/MagicBeansAI/magictunnel/internal/mcperr"
)

// Config tunes the Engine's cache and result size.
type Config struct {
	CacheSize       int
	CacheTTLSeconds int
	TopK            int
}

func (c Config) topK() int {
	if c.TopK <= 0 {
		return 5
	}
	return c.TopK
}

func (c Config) cacheTTL() time.Duration {
	if c.CacheTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// Engine implements the Discover operation (spec §4.D): hybrid scoring
// across rule/semantic/LLM tiers, result caching, and LLM-assisted
// parameter mapping validated against the target tool's input schema.
type Engine struct {
	llm   LLMScorer
	sem   SemanticScorer
	cache *resultCache
	topK  int
}

func NewEngine(llm LLMScorer, sem SemanticScorer, cfg Config) *Engine {
	return &Engine{
		llm:   llm,
		sem:   sem,
		cache: newResultCache(cfg.CacheSize, cfg.cacheTTL()),
		topK:  cfg.topK(),
	}
}

// Discover ranks candidates against query and returns the top K.
func (e *Engine) Discover(ctx context.Context, query string, candidates []ToolCandidate) (Ranking, error) {
	key := cacheKey(query, candidates)
	if cached, ok := e.cache.get(key); ok {
		return cached, nil
	}

	var llmScores, semScores map[string]float64
	if e.llm != nil {
		if s, err := e.llm.Score(query, candidates); err == nil {
			llmScores = s
		}
	}
	if e.sem != nil {
		if s, err := e.sem.Score(query, candidates); err == nil {
			semScores = s
		}
	}

	result := rank(query, candidates, llmScores, semScores)
	if len(result.Results) > e.topK {
		result.Results = result.Results[:e.topK]
	}
	e.cache.put(key, result)
	return result, nil
}

func cacheKey(query string, candidates []ToolCandidate) string {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Name
	}
	sort.Strings(names)
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(query))))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(names, ",")))
	return hex.EncodeToString(h.Sum(nil))
}

// ParameterMapper derives tool call arguments from a natural-language
// request, using an LLM to propose a JSON object which is then validated
// against the tool's declared input schema before being trusted (spec
// §4.D parameter mapping).
type ParameterMapper interface {
	MapParameters(ctx context.Context, naturalLanguageRequest string, tool ToolCandidate, schema json.RawMessage) (map[string]interface{}, error)
}

// MapAndValidate calls mapper then validates the result against schema,
// returning a KindSubstitution error when the mapped arguments don't
// satisfy it (spec invariant: never forward unvalidated LLM-mapped
// parameters to an agent).
func MapAndValidate(ctx context.Context, mapper ParameterMapper, naturalLanguageRequest string, tool ToolCandidate, schema json.RawMessage) (map[string]interface{}, error) {
	args, err := mapper.MapParameters(ctx, naturalLanguageRequest, tool, schema)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindBackend, "parameter mapping failed", err)
	}
	if len(schema) == 0 {
		return args, nil
	}

	docBytes, err := json.Marshal(args)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindSubstitution, "mapped parameters not serializable", err)
	}
	schemaLoader := gojsonschema.NewBytesLoader(schema)
	docLoader := gojsonschema.NewBytesLoader(docBytes)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return nil, mcperr.Wrap(mcperr.KindSubstitution, "schema validation failed", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, mcperr.New(mcperr.KindSubstitution, "mapped parameters violate tool schema: "+strings.Join(msgs, "; "))
	}
	return args, nil
}
