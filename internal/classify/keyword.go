package classify

import (
	"context"
	"strings"

	"github.com/citydocs/triage/internal/rules"
)

// KeywordClassifier is the deterministic matcher and the guaranteed
// fallback: no external dependency, and this path cannot fail.
//
// Scoring: for each rule, score = fraction of its keywords found as
// case-insensitive substrings of the text. The highest score wins; ties go
// to the rule declared first. When nothing scores above zero the fallback
// doc type wins with confidence 0.
type KeywordClassifier struct{}

func NewKeywordClassifier() *KeywordClassifier { return &KeywordClassifier{} }

func (c *KeywordClassifier) Name() string { return "keywords" }

func (c *KeywordClassifier) Classify(_ context.Context, text string, rs *rules.RuleSet) (Outcome, error) {
	normalized := strings.ToLower(text)

	best := Outcome{DocType: rules.FallbackDocType, Provider: c.Name()}
	bestScore := 0.0

	for _, docType := range rs.DocTypes() {
		rule, _ := rs.Get(docType)
		if len(rule.Keywords) == 0 {
			continue
		}

		var matched []string
		for _, kw := range rule.Keywords {
			if strings.Contains(normalized, kw) {
				matched = append(matched, kw)
			}
		}
		score := float64(len(matched)) / float64(len(rule.Keywords))

		// Strict > keeps the first declared rule on ties.
		if score > bestScore {
			bestScore = score
			best.DocType = docType
			best.MatchedKeywords = matched
		}
	}

	best.Confidence = clamp01(bestScore)
	return best, nil
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
