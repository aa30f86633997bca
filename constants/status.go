package constants

// DocumentStatus is the canonical lifecycle status for rows in documents.
type DocumentStatus string

// Stable values (store these exact strings in DB).
const (
	StatusIngested     DocumentStatus = "ingested"     // created, pipeline not run yet
	StatusNeedsReview  DocumentStatus = "needs_review" // pipeline flagged for a human
	StatusRouted       DocumentStatus = "routed"       // auto-routed to a department queue
	StatusFailed       DocumentStatus = "failed"       // pipeline exhausted; reprocessable
	StatusAcknowledged DocumentStatus = "acknowledged"
	StatusAssigned     DocumentStatus = "assigned"
	StatusInProgress   DocumentStatus = "in_progress"
	StatusCompleted    DocumentStatus = "completed"
	StatusApproved     DocumentStatus = "approved"
	StatusCorrected    DocumentStatus = "corrected"
	StatusArchived     DocumentStatus = "archived"
)

// AllowedTransitions captures the explicit (non-pipeline) moves between
// statuses. The pipeline only ever lands on needs_review, routed or failed;
// everything else requires a human action.
var AllowedTransitions = map[DocumentStatus][]DocumentStatus{
	StatusIngested:     {StatusNeedsReview, StatusRouted},
	StatusNeedsReview:  {StatusAcknowledged, StatusApproved, StatusCorrected, StatusRouted},
	StatusRouted:       {StatusAcknowledged, StatusApproved},
	StatusAcknowledged: {StatusAssigned, StatusApproved, StatusInProgress},
	StatusAssigned:     {StatusInProgress, StatusApproved},
	StatusInProgress:   {StatusCompleted, StatusApproved},
	StatusCompleted:    {StatusApproved, StatusArchived},
	StatusApproved:     {StatusArchived},
	StatusCorrected:    {StatusArchived},
	StatusFailed:       {StatusNeedsReview, StatusIngested},
}

// CanTransition reports whether an explicit status change from -> to is allowed.
func CanTransition(from, to DocumentStatus) bool {
	for _, next := range AllowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// JobStatus is the canonical status for rows in jobs.
type JobStatus string

const (
	JobStatusQueued      JobStatus = "queued"       // waiting for a worker
	JobStatusRunning     JobStatus = "running"      // leased by a worker
	JobStatusSucceeded   JobStatus = "succeeded"    // terminal success
	JobStatusFailedRetry JobStatus = "failed_retry" // failed, rescheduled with backoff
	JobStatusDead        JobStatus = "dead"         // retry budget exhausted; operator action needed
)

// Urgency is the coarse priority derived from document text.
type Urgency string

const (
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)
