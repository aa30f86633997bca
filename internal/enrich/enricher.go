package enrich

import "context"

// Request is one enrichment call: fill the still-missing required fields
// from the document text, without touching values already extracted.
type Request struct {
	Text           string
	DocType        string
	RequiredFields []string
	Existing       map[string]string
}

// Result carries the fields the provider could substantiate from the text.
type Result struct {
	Fields     map[string]string
	Confidence float64
	Notes      string
}

// Enricher attempts to recover required fields the pattern extractor missed.
// An empty Result with a nil error means the provider found nothing usable;
// errors mark provider failures the caller should fall through on.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, req Request) (Result, error)
}
