package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/citydocs/triage/constants"
)

// Document represents an intake document for data transfer between layers.
// Derived fields (DocType through ValidationErrors) are overwritten as a unit
// by every pipeline run; review actions mutate them without re-running.
type Document struct {
	ID               uuid.UUID                `json:"id"`
	Filename         string                   `json:"filename"`
	ContentType      string                   `json:"content_type"`
	SourceChannel    string                   `json:"source_channel"`
	Status           constants.DocumentStatus `json:"status"`
	DocType          *string                  `json:"doc_type,omitempty"`
	Department       *string                  `json:"department,omitempty"`
	Urgency          constants.Urgency        `json:"urgency"`
	Confidence       float64                  `json:"confidence"`
	RequiresReview   bool                     `json:"requires_review"`
	ExtractedText    string                   `json:"extracted_text,omitempty"`
	ExtractedFields  map[string]string        `json:"extracted_fields"`
	MissingFields    []string                 `json:"missing_fields"`
	ValidationErrors []string                 `json:"validation_errors"`
	LastError        *string                  `json:"last_error,omitempty"`
	AssignedTo       *string                  `json:"assigned_to,omitempty"`
	DueDate          *time.Time               `json:"due_date,omitempty"`
	ReviewerNotes    *string                  `json:"reviewer_notes,omitempty"`
	CreatedAt        time.Time                `json:"created_at"`
	UpdatedAt        time.Time                `json:"updated_at"`
}

// AuditEvent is one append-only entry in a document's audit trail.
// IDs are ULIDs, so lexical order matches creation order within a process;
// canonical ordering remains (created_at, id).
type AuditEvent struct {
	ID         string    `json:"id"`
	DocumentID uuid.UUID `json:"document_id"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	Details    string    `json:"details,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
