package discovery

import (
	"context"

	"github.com/MagicBeansAI/magictunnel/internal/embedding"
)

// EmbeddingSemanticScorer implements SemanticScorer over an
// internal/embedding.Store's hot-swapped Index: it embeds the query text
// once per call and ranks candidates by cosine similarity (spec §4.D
// semantic tier).
type EmbeddingSemanticScorer struct {
	store    *embedding.Store
	provider embedding.Provider
}

func NewEmbeddingSemanticScorer(store *embedding.Store, provider embedding.Provider) *EmbeddingSemanticScorer {
	return &EmbeddingSemanticScorer{store: store, provider: provider}
}

func (s *EmbeddingSemanticScorer) Score(query string, candidates []ToolCandidate) (map[string]float64, error) {
	idx := s.store.Get()
	if idx == nil || len(candidates) == 0 {
		return nil, nil
	}

	vectors, _, err := s.provider.Embed(context.Background(), []string{query})
	if err != nil || len(vectors) == 0 {
		return nil, err
	}

	ranked := idx.TopK(vectors[0], len(candidates))
	byName := make(map[string]float64, len(ranked))
	for _, r := range ranked {
		byName[r.Name] = clamp01(r.Score)
	}

	out := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		if v, ok := byName[c.Name]; ok {
			out[c.Name] = v
		}
	}
	return out, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
