package pipeline

import (
	"regexp"
	"strings"

	"github.com/citydocs/triage/constants"
)

// fieldPatterns pull structured values out of intake paperwork. Each pattern
// captures exactly one group; first match wins. Labels like "Applicant:",
// "Parcel No:" or "Fee: $" are how municipal forms actually print these.
var fieldPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"applicant_name", regexp.MustCompile(`(?i)(?:applicant|name|owner)\s*[:\-]\s*([A-Za-z][A-Za-z ,.'-]{2,80})`)},
	{"address", regexp.MustCompile(`(?i)(?:address|property address)\s*[:\-]\s*([0-9A-Za-z .,'#-]{5,120})`)},
	{"date", regexp.MustCompile(`(?i)(?:date|submitted|filed)\s*[:\-]\s*([0-9]{1,2}[/-][0-9]{1,2}[/-][0-9]{2,4}|[0-9]{4}[/-][0-9]{1,2}[/-][0-9]{1,2}|[A-Za-z]{3,9}\s+\d{1,2},?\s+\d{4})`)},
	{"parcel_number", regexp.MustCompile(`(?i)(?:parcel(?:\s*(?:id|number|no))?)\s*[:\-]\s*([A-Za-z0-9-]{4,30})`)},
	{"case_number", regexp.MustCompile(`(?i)(?:case(?:\s*(?:id|number|no))?)\s*[:\-]\s*([A-Za-z0-9-]{4,30})`)},
	{"amount", regexp.MustCompile(`(?i)(?:amount|fee|total)\s*[:\-]?\s*\$?\s*([0-9]+(?:,[0-9]{3})*(?:\.[0-9]{2})?)`)},
	{"email", regexp.MustCompile(`([A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,})`)},
}

var (
	parcelFormat = regexp.MustCompile(`^[A-Za-z0-9-]{4,30}$`)
	amountFormat = regexp.MustCompile(`^[0-9]+(?:,[0-9]{3})*(?:\.[0-9]{2})?$`)
)

// ExtractFields scans text for every known field pattern and returns the
// trimmed first capture per field. Deterministic for identical text.
func ExtractFields(text string) map[string]string {
	out := make(map[string]string)
	for _, fp := range fieldPatterns {
		if m := fp.re.FindStringSubmatch(text); m != nil {
			out[fp.name] = strings.TrimSpace(m[1])
		}
	}
	return out
}

// DetectUrgency flags a document high urgency when any of the configured
// keywords appears in the text, case-insensitively. Urgency is advisory
// metadata only and never feeds the routing decision.
func DetectUrgency(text string, highKeywords []string) constants.Urgency {
	normalized := strings.ToLower(text)
	for _, kw := range highKeywords {
		if kw != "" && strings.Contains(normalized, strings.ToLower(kw)) {
			return constants.UrgencyHigh
		}
	}
	return constants.UrgencyNormal
}

// ValidateFields checks extracted fields against the rule's required list
// plus structural format checks, and returns (missing, validationErrors).
// Missing fields also produce a validation error each.
func ValidateFields(required []string, fields map[string]string) (missing, errs []string) {
	for _, field := range required {
		if strings.TrimSpace(fields[field]) == "" {
			missing = append(missing, field)
			errs = append(errs, "Missing required field: "+field)
		}
	}
	if parcel := fields["parcel_number"]; parcel != "" && !parcelFormat.MatchString(parcel) {
		errs = append(errs, "Parcel number format looks invalid")
	}
	if date := fields["date"]; date != "" && len(date) < 6 {
		errs = append(errs, "Date format looks invalid")
	}
	if amount := fields["amount"]; amount != "" && !amountFormat.MatchString(amount) {
		errs = append(errs, "Amount format looks invalid")
	}
	return missing, errs
}
