package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/citydocs/triage/constants"
)

// Job is one deferred pipeline run persisted in the jobs table.
type Job struct {
	ID            uuid.UUID           `json:"id"`
	JobType       string              `json:"job_type"`
	Payload       JobPayload          `json:"payload"`
	Status        constants.JobStatus `json:"status"`
	Attempts      int                 `json:"attempts"`
	MaxAttempts   int                 `json:"max_attempts"`
	NextAttemptAt time.Time           `json:"next_attempt_at"`
	LeasedBy      *string             `json:"leased_by,omitempty"`
	LeaseExpires  *time.Time          `json:"lease_expires,omitempty"`
	LastError     *string             `json:"last_error,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// JobPayload names the document and the operation a job should perform.
type JobPayload struct {
	DocumentID uuid.UUID `json:"document_id"`
	Operation  string    `json:"operation"` // "process" or "reprocess"
	Actor      string    `json:"actor"`
}
