package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/citydocs/triage/constants"
	"github.com/citydocs/triage/internal/common"
	"github.com/citydocs/triage/internal/entity"
)

const documentColumns = `id, filename, content_type, source_channel, status,
	doc_type, department, urgency, confidence, requires_review,
	extracted_text, extracted_fields, missing_fields, validation_errors,
	last_error, assigned_to, due_date, reviewer_notes, created_at, updated_at`

// DocumentFilter narrows ListDocuments. Zero values mean "any".
type DocumentFilter struct {
	Status     constants.DocumentStatus
	Department string
	DocType    string
	Urgency    constants.Urgency
	Limit      int
	Offset     int
}

// DepartmentQueue is one row of a queue snapshot: the open workload routed
// to a single department.
type DepartmentQueue struct {
	Department  string     `json:"department"`
	Total       int        `json:"total"`
	NeedsReview int        `json:"needs_review"`
	HighUrgency int        `json:"high_urgency"`
	Oldest      *time.Time `json:"oldest,omitempty"`
}

// CreateDocument inserts the document row, its raw content and the initial
// audit event in one transaction.
func (s *Store) CreateDocument(ctx context.Context, doc *entity.Document, content []byte, event entity.AuditEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return common.WrapError(err, "begin create document")
	}
	defer tx.Rollback()

	if err := s.insertDocumentTx(ctx, tx, doc); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO document_content (document_id, content) VALUES (?, ?)`),
		doc.ID.String(), base64.StdEncoding.EncodeToString(content))
	if err != nil {
		return common.WrapError(err, "insert content")
	}
	if err := s.insertAuditEventTx(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return common.WrapError(err, "commit create document")
	}
	return nil
}

func (s *Store) insertDocumentTx(ctx context.Context, tx *sql.Tx, doc *entity.Document) error {
	fieldsJSON, missingJSON, errsJSON, err := marshalDerived(doc)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		doc.ID.String(), doc.Filename, doc.ContentType, doc.SourceChannel, string(doc.Status),
		doc.DocType, doc.Department, string(doc.Urgency), doc.Confidence, boolToInt(doc.RequiresReview),
		doc.ExtractedText, fieldsJSON, missingJSON, errsJSON,
		doc.LastError, doc.AssignedTo, formatTimePtr(doc.DueDate), doc.ReviewerNotes,
		formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt))
	if err != nil {
		return common.WrapError(err, "insert document")
	}
	return nil
}

// GetDocument loads a single document by id.
func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`), id.String())
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError("STORE_DOCUMENT", fmt.Sprintf("document %s not found", id), common.ErrNotFound)
	}
	if err != nil {
		return nil, common.WrapError(err, "scan document")
	}
	return doc, nil
}

// GetContent returns the raw bytes stored at upload time.
func (s *Store) GetContent(ctx context.Context, id uuid.UUID) ([]byte, error) {
	var encoded string
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT content FROM document_content WHERE document_id = ?`), id.String()).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError("STORE_DOCUMENT", fmt.Sprintf("content for %s not found", id), common.ErrNotFound)
	}
	if err != nil {
		return nil, common.WrapError(err, "load content")
	}
	content, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, common.WrapError(err, "decode content")
	}
	return content, nil
}

// ListDocuments returns documents matching the filter, newest first.
func (s *Store) ListDocuments(ctx context.Context, filter DocumentFilter) ([]*entity.Document, error) {
	var conds []string
	var args []any
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Department != "" {
		conds = append(conds, "department = ?")
		args = append(args, filter.Department)
	}
	if filter.DocType != "" {
		conds = append(conds, "doc_type = ?")
		args = append(args, filter.DocType)
	}
	if filter.Urgency != "" {
		conds = append(conds, "urgency = ?")
		args = append(args, string(filter.Urgency))
	}

	query := `SELECT ` + documentColumns + ` FROM documents`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, common.WrapError(err, "list documents")
	}
	defer rows.Close()
	return collectDocuments(rows)
}

// ListOverdueDocuments returns open documents whose due date passed before now.
func (s *Store) ListOverdueDocuments(ctx context.Context, now time.Time) ([]*entity.Document, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+documentColumns+` FROM documents
		WHERE due_date IS NOT NULL AND due_date < ?
		  AND status NOT IN (?, ?, ?, ?)
		ORDER BY due_date ASC, id ASC`),
		formatTime(now),
		string(constants.StatusCompleted), string(constants.StatusApproved),
		string(constants.StatusCorrected), string(constants.StatusArchived))
	if err != nil {
		return nil, common.WrapError(err, "list overdue")
	}
	defer rows.Close()
	return collectDocuments(rows)
}

// QueueSnapshot aggregates the open triaged workload per department,
// including the part still waiting on a reviewer.
func (s *Store) QueueSnapshot(ctx context.Context) ([]DepartmentQueue, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT department,
		       COUNT(*),
		       SUM(CASE WHEN status = ? THEN 1 ELSE 0 END),
		       SUM(CASE WHEN urgency = ? THEN 1 ELSE 0 END),
		       MIN(created_at)
		FROM documents
		WHERE department IS NOT NULL
		  AND status IN (?, ?, ?, ?, ?)
		GROUP BY department
		ORDER BY department`),
		string(constants.StatusNeedsReview), string(constants.UrgencyHigh),
		string(constants.StatusNeedsReview),
		string(constants.StatusRouted), string(constants.StatusAcknowledged),
		string(constants.StatusAssigned), string(constants.StatusInProgress))
	if err != nil {
		return nil, common.WrapError(err, "queue snapshot")
	}
	defer rows.Close()

	var out []DepartmentQueue
	for rows.Next() {
		var q DepartmentQueue
		var oldest sql.NullString
		if err := rows.Scan(&q.Department, &q.Total, &q.NeedsReview, &q.HighUrgency, &oldest); err != nil {
			return nil, common.WrapError(err, "scan snapshot row")
		}
		q.Oldest = parseTimePtr(oldest)
		out = append(out, q)
	}
	return out, rows.Err()
}

// ApplyRun overwrites the document's derived fields with the outcome of one
// pipeline run and appends its audit events, all in one transaction. The
// caller must hold the per-document lock.
func (s *Store) ApplyRun(ctx context.Context, doc *entity.Document, events ...entity.AuditEvent) error {
	return s.saveDocument(ctx, doc, events...)
}

// UpdateDocument persists review-side mutations (status, assignment, notes,
// corrected fields) plus their audit events atomically. The caller must hold
// the per-document lock.
func (s *Store) UpdateDocument(ctx context.Context, doc *entity.Document, events ...entity.AuditEvent) error {
	return s.saveDocument(ctx, doc, events...)
}

func (s *Store) saveDocument(ctx context.Context, doc *entity.Document, events ...entity.AuditEvent) error {
	fieldsJSON, missingJSON, errsJSON, err := marshalDerived(doc)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return common.WrapError(err, "begin save document")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE documents SET
			status = ?, doc_type = ?, department = ?, urgency = ?,
			confidence = ?, requires_review = ?, extracted_text = ?,
			extracted_fields = ?, missing_fields = ?, validation_errors = ?,
			last_error = ?, assigned_to = ?, due_date = ?, reviewer_notes = ?,
			updated_at = ?
		WHERE id = ?`),
		string(doc.Status), doc.DocType, doc.Department, string(doc.Urgency),
		doc.Confidence, boolToInt(doc.RequiresReview), doc.ExtractedText,
		fieldsJSON, missingJSON, errsJSON,
		doc.LastError, doc.AssignedTo, formatTimePtr(doc.DueDate), doc.ReviewerNotes,
		formatTime(doc.UpdatedAt),
		doc.ID.String())
	if err != nil {
		return common.WrapError(err, "update document")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.NewAppError("STORE_DOCUMENT", fmt.Sprintf("document %s not found", doc.ID), common.ErrNotFound)
	}
	for _, event := range events {
		if err := s.insertAuditEventTx(ctx, tx, event); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return common.WrapError(err, "commit save document")
	}
	return nil
}

func marshalDerived(doc *entity.Document) (fields, missing, verrs string, err error) {
	fb, err := json.Marshal(orEmptyMap(doc.ExtractedFields))
	if err != nil {
		return "", "", "", common.WrapError(err, "marshal extracted fields")
	}
	mb, err := json.Marshal(orEmptySlice(doc.MissingFields))
	if err != nil {
		return "", "", "", common.WrapError(err, "marshal missing fields")
	}
	vb, err := json.Marshal(orEmptySlice(doc.ValidationErrors))
	if err != nil {
		return "", "", "", common.WrapError(err, "marshal validation errors")
	}
	return string(fb), string(mb), string(vb), nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*entity.Document, error) {
	var (
		doc                            entity.Document
		id, status, urgency            string
		docType, department            sql.NullString
		requiresReview                 int
		fieldsJSON, missing, verrs     string
		lastError, assignedTo, notes   sql.NullString
		dueDate                        sql.NullString
		createdAt, updatedAt           string
	)
	err := row.Scan(&id, &doc.Filename, &doc.ContentType, &doc.SourceChannel, &status,
		&docType, &department, &urgency, &doc.Confidence, &requiresReview,
		&doc.ExtractedText, &fieldsJSON, &missing, &verrs,
		&lastError, &assignedTo, &dueDate, &notes, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	doc.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse document id %q: %w", id, err)
	}
	doc.Status = constants.DocumentStatus(status)
	doc.Urgency = constants.Urgency(urgency)
	doc.DocType = nullableString(docType)
	doc.Department = nullableString(department)
	doc.RequiresReview = requiresReview != 0
	doc.LastError = nullableString(lastError)
	doc.AssignedTo = nullableString(assignedTo)
	doc.ReviewerNotes = nullableString(notes)
	doc.DueDate = parseTimePtr(dueDate)
	doc.CreatedAt = parseTime(createdAt)
	doc.UpdatedAt = parseTime(updatedAt)

	if err := json.Unmarshal([]byte(fieldsJSON), &doc.ExtractedFields); err != nil {
		return nil, fmt.Errorf("unmarshal extracted fields: %w", err)
	}
	if err := json.Unmarshal([]byte(missing), &doc.MissingFields); err != nil {
		return nil, fmt.Errorf("unmarshal missing fields: %w", err)
	}
	if err := json.Unmarshal([]byte(verrs), &doc.ValidationErrors); err != nil {
		return nil, fmt.Errorf("unmarshal validation errors: %w", err)
	}
	return &doc, nil
}

func collectDocuments(rows *sql.Rows) ([]*entity.Document, error) {
	var out []*entity.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, common.WrapError(err, "scan document row")
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}
