package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")

	// ErrExtraction marks a transient extraction failure (the provider could
	// not produce text for otherwise supported content).
	ErrExtraction = errors.New("extraction failed")
	// ErrUnsupportedFormat marks a terminal extraction failure: no variant
	// can handle this content type at all.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrProviderUnavailable covers network failures, timeouts and non-2xx
	// responses from a remote extraction/classification provider.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrInvalidProviderResponse covers responses that arrived but failed
	// shape or vocabulary validation. Never surfaced as a result.
	ErrInvalidProviderResponse = errors.New("invalid provider response")
	// ErrConflict signals a concurrent run for the same document. The later
	// run must abort and be re-enqueued, never partially applied.
	ErrConflict = errors.New("concurrent run for document")
	// ErrJobExhausted signals a job whose attempts reached max_attempts.
	ErrJobExhausted = errors.New("job retry budget exhausted")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsProviderError reports whether err is a recoverable provider failure,
// i.e. one the orchestrator answers with a fallback rather than a failed run.
func IsProviderError(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrInvalidProviderResponse)
}
