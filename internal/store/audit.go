package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/citydocs/triage/constants"
	"github.com/citydocs/triage/internal/common"
	"github.com/citydocs/triage/internal/entity"
)

// NewAuditEvent builds an event with a fresh ULID and timestamp. Details is
// a flat "key=value" token list so ReplayStatus can parse it back.
func NewAuditEvent(documentID uuid.UUID, actor, action, details string) entity.AuditEvent {
	return entity.AuditEvent{
		ID:         ulid.Make().String(),
		DocumentID: documentID,
		Actor:      actor,
		Action:     action,
		Details:    details,
		CreatedAt:  time.Now().UTC(),
	}
}

func (s *Store) insertAuditEventTx(ctx context.Context, tx *sql.Tx, event entity.AuditEvent) error {
	_, err := tx.ExecContext(ctx, s.rebind(`
		INSERT INTO audit_events (id, document_id, actor, action, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		event.ID, event.DocumentID.String(), event.Actor, event.Action, event.Details,
		formatTime(event.CreatedAt))
	if err != nil {
		return common.WrapError(err, "insert audit event")
	}
	return nil
}

// AppendAuditEvent writes a single event outside any document mutation.
func (s *Store) AppendAuditEvent(ctx context.Context, event entity.AuditEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return common.WrapError(err, "begin append audit event")
	}
	defer tx.Rollback()
	if err := s.insertAuditEventTx(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return common.WrapError(err, "commit append audit event")
	}
	return nil
}

// ListAuditEvents returns a document's trail in canonical (created_at, id)
// order, oldest first.
func (s *Store) ListAuditEvents(ctx context.Context, documentID uuid.UUID) ([]entity.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, document_id, actor, action, details, created_at
		FROM audit_events
		WHERE document_id = ?
		ORDER BY created_at ASC, id ASC`), documentID.String())
	if err != nil {
		return nil, common.WrapError(err, "list audit events")
	}
	defer rows.Close()

	var out []entity.AuditEvent
	for rows.Next() {
		var (
			e       entity.AuditEvent
			docID   string
			created string
		)
		if err := rows.Scan(&e.ID, &docID, &e.Actor, &e.Action, &e.Details, &created); err != nil {
			return nil, common.WrapError(err, "scan audit event")
		}
		e.DocumentID, err = uuid.Parse(docID)
		if err != nil {
			return nil, common.WrapError(err, "parse audit document id")
		}
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReplayStatus reconstructs a document's status from its ordered audit
// trail. Uploading yields ingested; every later status-bearing event wins
// over the previous one. Events that never move the document, such as a
// reprocess request, replay as no-ops. An empty trail replays to "".
func ReplayStatus(events []entity.AuditEvent) constants.DocumentStatus {
	var status constants.DocumentStatus
	for _, e := range events {
		switch e.Action {
		case constants.AuditUploaded, constants.AuditImported:
			status = constants.StatusIngested
		case constants.AuditPipelineFailed:
			status = constants.StatusFailed
		default:
			if s, ok := detailsValue(e.Details, "status"); ok {
				status = constants.DocumentStatus(s)
			}
		}
	}
	return status
}

// detailsValue pulls one key's value from a "k=v k=v" details string.
func detailsValue(details, key string) (string, bool) {
	for _, tok := range strings.Fields(details) {
		if v, ok := strings.CutPrefix(tok, key+"="); ok {
			return v, true
		}
	}
	return "", false
}
