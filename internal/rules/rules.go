package rules

import (
	"fmt"
	"strings"
)

// FallbackDocType is always present in a RuleSet and wins when nothing
// else scores above zero.
const FallbackDocType = "other"

const defaultDepartment = "General Intake"

// Rule is the routing rule for one document type.
type Rule struct {
	Keywords       []string `yaml:"keywords"`
	Department     string   `yaml:"department"`
	RequiredFields []string `yaml:"required_fields"`
	SLADays        *int     `yaml:"sla_days,omitempty"`
}

// RuleSet maps document-type keys to rules while preserving declaration
// order. Order matters: the keyword matcher breaks score ties by taking the
// first declared rule.
type RuleSet struct {
	order []string
	rules map[string]Rule
}

// NewRuleSet builds a RuleSet from (docType, rule) pairs in declaration order.
func NewRuleSet(pairs ...DocTypeRule) *RuleSet {
	rs := &RuleSet{rules: make(map[string]Rule, len(pairs))}
	for _, p := range pairs {
		rs.put(p.DocType, p.Rule)
	}
	rs.ensureFallback()
	return rs
}

// DocTypeRule is one (docType, rule) pair used for ordered construction.
type DocTypeRule struct {
	DocType string
	Rule    Rule
}

func (rs *RuleSet) put(docType string, rule Rule) {
	if _, exists := rs.rules[docType]; !exists {
		rs.order = append(rs.order, docType)
	}
	rs.rules[docType] = rule
}

func (rs *RuleSet) ensureFallback() {
	if _, ok := rs.rules[FallbackDocType]; !ok {
		rs.put(FallbackDocType, defaultFallbackRule())
	}
}

func defaultFallbackRule() Rule {
	return Rule{
		Keywords:       nil,
		Department:     defaultDepartment,
		RequiredFields: []string{"applicant_name", "date"},
	}
}

// DocTypes returns the document-type keys in declaration order.
func (rs *RuleSet) DocTypes() []string {
	out := make([]string, len(rs.order))
	copy(out, rs.order)
	return out
}

// Get returns the rule for docType, or (zero, false) when absent.
func (rs *RuleSet) Get(docType string) (Rule, bool) {
	r, ok := rs.rules[docType]
	return r, ok
}

// Resolve returns the rule for docType, falling back to the "other" rule.
func (rs *RuleSet) Resolve(docType string) Rule {
	if r, ok := rs.rules[docType]; ok {
		return r
	}
	return rs.rules[FallbackDocType]
}

// Contains reports whether docType is a known key.
func (rs *RuleSet) Contains(docType string) bool {
	_, ok := rs.rules[docType]
	return ok
}

// Len returns the number of rules including the fallback.
func (rs *RuleSet) Len() int {
	return len(rs.order)
}

// Normalize validates and canonicalizes a candidate rule map: keywords are
// trimmed, lowercased and deduped; required fields trimmed and deduped;
// empty departments default to General Intake; a fallback rule is added when
// missing. The input order is preserved.
func Normalize(candidate *RuleSet) (*RuleSet, error) {
	if candidate == nil || candidate.Len() == 0 {
		return nil, fmt.Errorf("ruleset must contain at least one rule")
	}

	out := &RuleSet{rules: make(map[string]Rule, candidate.Len())}
	for _, rawType := range candidate.order {
		docType := strings.TrimSpace(strings.ToLower(rawType))
		if docType == "" {
			return nil, fmt.Errorf("document type keys cannot be empty")
		}
		raw := candidate.rules[rawType]

		rule := Rule{
			Keywords:       dedupe(lowerAll(raw.Keywords)),
			Department:     strings.TrimSpace(raw.Department),
			RequiredFields: dedupe(trimAll(raw.RequiredFields)),
			SLADays:        raw.SLADays,
		}
		if rule.Department == "" {
			rule.Department = defaultDepartment
		}
		if rule.SLADays != nil && *rule.SLADays < 0 {
			return nil, fmt.Errorf("rule %q: sla_days cannot be negative", docType)
		}
		out.put(docType, rule)
	}
	out.ensureFallback()
	return out, nil
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(strings.ToLower(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func intPtr(v int) *int { return &v }

// Defaults returns the built-in municipal ruleset.
func Defaults() *RuleSet {
	return NewRuleSet(
		DocTypeRule{"building_permit", Rule{
			Keywords:       []string{"building permit", "construction", "parcel", "zoning", "site plan", "inspection"},
			Department:     "Building Department",
			RequiredFields: []string{"applicant_name", "address", "parcel_number", "date"},
			SLADays:        intPtr(10),
		}},
		DocTypeRule{"business_license", Rule{
			Keywords:       []string{"business license", "license renewal", "tax id", "llc", "business owner"},
			Department:     "Finance & Licensing",
			RequiredFields: []string{"applicant_name", "address", "date"},
			SLADays:        intPtr(15),
		}},
		DocTypeRule{"foi_request", Rule{
			Keywords:       []string{"freedom of information", "foia", "public records", "open records", "records request"},
			Department:     "City Clerk",
			RequiredFields: []string{"applicant_name", "date"},
			SLADays:        intPtr(5),
		}},
		DocTypeRule{"zoning_variance", Rule{
			Keywords:       []string{"zoning variance", "variance", "land use", "planning commission", "setback"},
			Department:     "Planning & Zoning",
			RequiredFields: []string{"applicant_name", "address", "parcel_number", "date"},
			SLADays:        intPtr(30),
		}},
		DocTypeRule{"complaint", Rule{
			Keywords:       []string{"complaint", "code violation", "noise", "nuisance", "unsafe", "report"},
			Department:     "Code Enforcement",
			RequiredFields: []string{"applicant_name", "address", "date"},
			SLADays:        intPtr(7),
		}},
		DocTypeRule{"benefits_application", Rule{
			Keywords:       []string{"benefits", "assistance", "eligibility", "application", "income", "household"},
			Department:     "Human Services",
			RequiredFields: []string{"applicant_name", "address", "date"},
			SLADays:        intPtr(14),
		}},
		DocTypeRule{"court_filing", Rule{
			Keywords:       []string{"court", "filing", "case", "petition", "respondent", "docket"},
			Department:     "Municipal Court",
			RequiredFields: []string{"applicant_name", "case_number", "date"},
			SLADays:        intPtr(3),
		}},
	)
}
