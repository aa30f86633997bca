package extract

import "context"

// Result is the outcome of one text extraction.
type Result struct {
	Text       string
	Method     string
	Confidence float64
}

// Extractor turns raw document bytes into text. Implementations must return
// failures as error values; a remote variant never lets a transport problem
// escape as anything but an error.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, content []byte, contentType, filename string) (Result, error)
}
