package discovery

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// ToolCandidate is the minimal tool shape the rule/hybrid scorers need,
// independent of internal/registry so this package stays free of a
// compile-time dependency on the catalog.
type ToolCandidate struct {
	Name        string
	Description string
	Keywords    []string
}

// ruleScore implements the non-semantic, non-LLM tier of the hybrid score
// (spec §4.D): an exact (case-insensitive) name match scores highest,
// a keyword match next, and a fuzzy name match (normalized Levenshtein
// distance) last, so "search_web" still surfaces for a query of
// "serach_web".
func ruleScore(query string, c ToolCandidate) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	name := strings.ToLower(c.Name)
	if q == "" {
		return 0
	}
	if q == name {
		return 1.0
	}
	if strings.Contains(name, q) || strings.Contains(q, name) {
		return 0.85
	}
	for _, kw := range c.Keywords {
		if strings.Contains(q, strings.ToLower(kw)) {
			return 0.6
		}
	}
	dist := levenshtein.ComputeDistance(q, name)
	maxLen := len(q)
	if len(name) > maxLen {
		maxLen = len(name)
	}
	if maxLen == 0 {
		return 0
	}
	similarity := 1.0 - float64(dist)/float64(maxLen)
	if similarity < 0 {
		similarity = 0
	}
	return similarity * 0.5 // fuzzy tier is capped below the keyword tier
}
