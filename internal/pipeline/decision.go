package pipeline

import (
	"strings"

	"github.com/citydocs/triage/constants"
	"github.com/citydocs/triage/internal/rules"
)

// DecisionInput is everything the routing decision depends on. Keeping it a
// plain value makes the decision a pure function of its inputs.
type DecisionInput struct {
	ExtractionFailed    bool
	DocType             string
	Confidence          float64
	MissingFields       []string
	ValidationErrors    []string
	ConfidenceThreshold float64
	ForceReviewDocTypes map[string]struct{}
}

// Decision is the outcome of one routing decision.
type Decision struct {
	Status         constants.DocumentStatus
	Department     string
	RequiresReview bool
	Reasons        []string
}

// Decide maps a pipeline run's signals to a document status. Order of
// precedence: extraction failure beats everything, then any review trigger,
// then auto-routing. The confidence boundary is inclusive: a confidence
// exactly at the threshold auto-routes.
func Decide(in DecisionInput, rs *rules.RuleSet) Decision {
	if in.ExtractionFailed {
		// A failed run still needs a human to look at it.
		return Decision{
			Status:         constants.StatusFailed,
			RequiresReview: true,
			Reasons:        []string{"extraction failed"},
		}
	}

	rule := rs.Resolve(in.DocType)
	d := Decision{Department: rule.Department}

	if _, forced := in.ForceReviewDocTypes[strings.ToLower(in.DocType)]; forced {
		d.Reasons = append(d.Reasons, "doc type forces review")
	}
	if in.Confidence < in.ConfidenceThreshold {
		d.Reasons = append(d.Reasons, "confidence below threshold")
	}
	if len(in.MissingFields) > 0 {
		d.Reasons = append(d.Reasons, "required fields missing")
	}
	if len(in.ValidationErrors) > 0 && len(in.MissingFields) == 0 {
		d.Reasons = append(d.Reasons, "validation errors present")
	}

	if len(d.Reasons) > 0 {
		d.Status = constants.StatusNeedsReview
		d.RequiresReview = true
		return d
	}
	d.Status = constants.StatusRouted
	return d
}
