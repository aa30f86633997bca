package classify

import (
	"context"

	"github.com/citydocs/triage/internal/rules"
)

// Outcome is the decision input produced by one classification.
type Outcome struct {
	DocType         string
	Confidence      float64 // always within [0,1]
	MatchedKeywords []string
	Rationale       string
	Provider        string
}

// Classifier maps extracted text to a document type from the ruleset
// vocabulary. The keyword variant cannot fail; remote variants return
// provider errors that the orchestrator answers with a fallback, never with
// a partially-trusted result.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, text string, rs *rules.RuleSet) (Outcome, error)
}
