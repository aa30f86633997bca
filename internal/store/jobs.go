package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/citydocs/triage/constants"
	"github.com/citydocs/triage/internal/common"
	"github.com/citydocs/triage/internal/entity"
)

const jobColumns = `id, job_type, payload, status, attempts, max_attempts,
	next_attempt_at, leased_by, lease_expires, last_error, created_at, updated_at`

// EnqueueJob inserts a queued job that becomes runnable immediately.
func (s *Store) EnqueueJob(ctx context.Context, jobType string, payload entity.JobPayload, maxAttempts int) (*entity.Job, error) {
	now := time.Now().UTC()
	job := &entity.Job{
		ID:            uuid.New(),
		JobType:       jobType,
		Payload:       payload,
		Status:        constants.JobStatusQueued,
		Attempts:      0,
		MaxAttempts:   maxAttempts,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, common.WrapError(err, "marshal job payload")
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		job.ID.String(), job.JobType, string(payloadJSON), string(job.Status),
		job.Attempts, job.MaxAttempts, formatTime(job.NextAttemptAt),
		nil, nil, nil, formatTime(job.CreatedAt), formatTime(job.UpdatedAt))
	if err != nil {
		return nil, common.WrapError(err, "insert job")
	}
	return job, nil
}

// ClaimNextJob leases the oldest runnable job for workerID. Claiming
// consumes an attempt: an expired lease therefore counts against the retry
// budget. Returns (nil, nil) when nothing is runnable.
func (s *Store) ClaimNextJob(ctx context.Context, workerID string, leaseTTL time.Duration) (*entity.Job, error) {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, common.WrapError(err, "begin claim job")
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, s.rebind(`
		SELECT `+jobColumns+` FROM jobs
		WHERE status IN (?, ?) AND next_attempt_at <= ?
		ORDER BY next_attempt_at ASC, created_at ASC
		LIMIT 1`),
		string(constants.JobStatusQueued), string(constants.JobStatusFailedRetry),
		formatTime(now))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, common.WrapError(err, "scan claimable job")
	}

	leaseExpires := now.Add(leaseTTL)
	res, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE jobs SET status = ?, attempts = attempts + 1,
			leased_by = ?, lease_expires = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`),
		string(constants.JobStatusRunning), workerID,
		formatTime(leaseExpires), formatTime(now),
		job.ID.String(),
		string(constants.JobStatusQueued), string(constants.JobStatusFailedRetry))
	if err != nil {
		return nil, common.WrapError(err, "lease job")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, common.WrapError(err, "commit claim job")
	}

	job.Status = constants.JobStatusRunning
	job.Attempts++
	job.LeasedBy = &workerID
	job.LeaseExpires = &leaseExpires
	job.UpdatedAt = now
	return job, nil
}

// CompleteJob marks a leased job succeeded and releases the lease.
func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE jobs SET status = ?, leased_by = NULL, lease_expires = NULL,
			last_error = NULL, updated_at = ?
		WHERE id = ?`),
		string(constants.JobStatusSucceeded), formatTime(now), id.String())
	if err != nil {
		return common.WrapError(err, "complete job")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.NewAppError("STORE_JOB", fmt.Sprintf("job %s not found", id), common.ErrNotFound)
	}
	return nil
}

// FailJob records a failed attempt. Below the retry budget the job is
// rescheduled after backoff; at the budget it goes dead. The updated job is
// returned so the caller can react to the dead letter.
func (s *Store) FailJob(ctx context.Context, id uuid.UUID, runErr string, backoff time.Duration) (*entity.Job, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	job.LastError = &runErr
	job.LeasedBy = nil
	job.LeaseExpires = nil
	job.UpdatedAt = now

	if job.Attempts >= job.MaxAttempts {
		job.Status = constants.JobStatusDead
	} else {
		job.Status = constants.JobStatusFailedRetry
		job.NextAttemptAt = now.Add(backoff)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		UPDATE jobs SET status = ?, next_attempt_at = ?, leased_by = NULL,
			lease_expires = NULL, last_error = ?, updated_at = ?
		WHERE id = ?`),
		string(job.Status), formatTime(job.NextAttemptAt), runErr,
		formatTime(now), id.String())
	if err != nil {
		return nil, common.WrapError(err, "fail job")
	}
	return job, nil
}

// ReclaimExpiredLeases fails every running job whose lease expired before
// now, as if the vanished worker had reported an error. The backoff func
// maps the attempt count already consumed to the retry delay.
func (s *Store) ReclaimExpiredLeases(ctx context.Context, now time.Time, backoff func(attempts int) time.Duration) (int, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+jobColumns+` FROM jobs
		WHERE status = ? AND lease_expires IS NOT NULL AND lease_expires < ?`),
		string(constants.JobStatusRunning), formatTime(now))
	if err != nil {
		return 0, common.WrapError(err, "list expired leases")
	}
	expired, err := collectJobs(rows)
	rows.Close()
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, job := range expired {
		if _, err := s.FailJob(ctx, job.ID, "lease expired", backoff(job.Attempts)); err != nil {
			return reclaimed, err
		}
		s.log.Warn("job.lease_reclaimed", "job_id", job.ID, "attempts", job.Attempts)
		reclaimed++
	}
	return reclaimed, nil
}

// GetJob loads a single job by id.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id.String())
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError("STORE_JOB", fmt.Sprintf("job %s not found", id), common.ErrNotFound)
	}
	if err != nil {
		return nil, common.WrapError(err, "scan job")
	}
	return job, nil
}

// ListJobs returns jobs, optionally filtered by status, newest first.
func (s *Store) ListJobs(ctx context.Context, status constants.JobStatus, limit int) ([]*entity.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, common.WrapError(err, "list jobs")
	}
	defer rows.Close()
	return collectJobs(rows)
}

func scanJob(row rowScanner) (*entity.Job, error) {
	var (
		job                  entity.Job
		id, status, payload  string
		nextAttempt          string
		leasedBy, lastError  sql.NullString
		leaseExpires         sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&id, &job.JobType, &payload, &status, &job.Attempts, &job.MaxAttempts,
		&nextAttempt, &leasedBy, &leaseExpires, &lastError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	job.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", id, err)
	}
	if err := json.Unmarshal([]byte(payload), &job.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal job payload: %w", err)
	}
	job.Status = constants.JobStatus(status)
	job.NextAttemptAt = parseTime(nextAttempt)
	job.LeasedBy = nullableString(leasedBy)
	job.LeaseExpires = parseTimePtr(leaseExpires)
	job.LastError = nullableString(lastError)
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)
	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]*entity.Job, error) {
	var out []*entity.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, common.WrapError(err, "scan job row")
		}
		out = append(out, job)
	}
	return out, rows.Err()
}
