package discovery

import "sort"

// LLMScorer produces an LLM-judged relevance score in [0,1] for a query
// against each candidate's name/description, used as the highest-weighted
// tier of the hybrid score (spec §4.D).
type LLMScorer interface {
	Score(query string, candidates []ToolCandidate) (map[string]float64, error)
}

// SemanticScorer produces a cosine-similarity-derived score in [0,1] per
// candidate, backed by internal/embedding.Index.TopK.
type SemanticScorer interface {
	Score(query string, candidates []ToolCandidate) (map[string]float64, error)
}

const (
	weightLLM      = 0.55
	weightSemantic = 0.30
	weightRule     = 0.15
)

// Ranked is one scored-and-ranked candidate returned by Rank.
type Ranked struct {
	Name  string
	Score float64
	LLM   float64
	Sem   float64
	Rule  float64
}

// Ranking is the full ordered result of one discovery query, cached as a
// unit by resultCache.
type Ranking struct {
	Results []Ranked
}

// rank combines the three tiers with spec §4.D's fixed weights, falling
// back to rule-only scoring for any tier that returned no data (e.g. no
// semantic index yet, or the LLM call failed and the caller chose to
// degrade rather than fail the whole request).
func rank(query string, candidates []ToolCandidate, llmScores, semScores map[string]float64) Ranking {
	out := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		rule := ruleScore(query, c)
		llm, hasLLM := llmScores[c.Name]
		sem, hasSem := semScores[c.Name]
		if !hasLLM {
			llm = rule
		}
		if !hasSem {
			sem = rule
		}
		total := weightLLM*llm + weightSemantic*sem + weightRule*rule
		out = append(out, Ranked{Name: c.Name, Score: total, LLM: llm, Sem: sem, Rule: rule})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].LLM != out[j].LLM {
			return out[i].LLM > out[j].LLM
		}
		if out[i].Sem != out[j].Sem {
			return out[i].Sem > out[j].Sem
		}
		return out[i].Name < out[j].Name
	})
	return Ranking{Results: out}
}
