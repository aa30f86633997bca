package constants

// Audit actions. Stable values: replaying audit_events by these actions must
// reconstruct a document's status history, so renames are schema changes.
const (
	AuditUploaded           = "uploaded"
	AuditPipelineProcessed  = "pipeline_processed"
	AuditPipelineFailed     = "pipeline_failed"
	AuditReprocessRequested = "reprocess_requested"
	AuditReviewed           = "reviewed"
	AuditStatusChanged      = "status_changed"
	AuditAssigned           = "assigned"
	AuditJobDeadLetter      = "job_dead_letter"
	AuditImported           = "imported"
)

// JobTypeProcessDocument is the only job type the pipeline worker handles today.
const JobTypeProcessDocument = "process_document"
