package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/citydocs/triage/constants"
	"github.com/citydocs/triage/internal/common"
	"github.com/citydocs/triage/internal/entity"
	"github.com/citydocs/triage/internal/rules"
	"github.com/citydocs/triage/internal/store"
)

// Service applies human decisions to documents. Review never re-runs the
// pipeline: corrections land directly on the stored document and are
// audited like any other mutation.
type Service struct {
	store *store.Store
	rules *rules.Manager
	log   *slog.Logger
}

func NewService(st *store.Store, rm *rules.Manager, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, rules: rm, log: logger}
}

// Request is one reviewer decision.
type Request struct {
	Approve             bool
	CorrectedDocType    string
	CorrectedDepartment string
	CorrectedFields     map[string]string
	Notes               string
	Actor               string
}

// Review records an approve or reject decision. Approving with corrections
// lands on corrected; approving untouched output lands on approved.
// Rejecting sends the document back to needs_review.
func (s *Service) Review(ctx context.Context, documentID uuid.UUID, req Request) (*entity.Document, error) {
	unlock, ok := s.store.TryLockDocument(documentID)
	if !ok {
		return nil, common.NewAppError("REVIEW_CONFLICT",
			fmt.Sprintf("document %s is being processed", documentID), common.ErrConflict)
	}
	defer unlock()

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if req.Actor == "" {
		req.Actor = "reviewer"
	}
	if req.Notes != "" {
		notes := req.Notes
		doc.ReviewerNotes = &notes
	}

	if !req.Approve {
		doc.Status = constants.StatusNeedsReview
		doc.RequiresReview = true
	} else {
		s.applyApproval(doc, req)
	}
	doc.UpdatedAt = time.Now().UTC()

	details := fmt.Sprintf("decision=%s status=%s", decisionWord(req.Approve), doc.Status)
	if req.CorrectedDocType != "" {
		details += " corrected_doc_type=" + req.CorrectedDocType
	}
	event := store.NewAuditEvent(documentID, req.Actor, constants.AuditReviewed, details)
	if err := s.store.UpdateDocument(ctx, doc, event); err != nil {
		return nil, err
	}

	s.log.Info("review.decided", "document_id", documentID,
		"approve", req.Approve, "status", doc.Status, "actor", req.Actor)
	return doc, nil
}

func (s *Service) applyApproval(doc *entity.Document, req Request) {
	rs := s.rules.Snapshot()

	docType := req.CorrectedDocType
	if docType == "" && doc.DocType != nil {
		docType = *doc.DocType
	}
	if docType == "" {
		docType = rules.FallbackDocType
	}

	department := req.CorrectedDepartment
	if department == "" {
		department = rs.Resolve(docType).Department
	}

	if len(req.CorrectedFields) > 0 {
		if doc.ExtractedFields == nil {
			doc.ExtractedFields = make(map[string]string, len(req.CorrectedFields))
		}
		for k, v := range req.CorrectedFields {
			doc.ExtractedFields[k] = v
		}
	}

	doc.DocType = &docType
	doc.Department = &department
	doc.RequiresReview = false
	doc.MissingFields = []string{}
	doc.ValidationErrors = []string{}
	if req.CorrectedDocType != "" || len(req.CorrectedFields) > 0 {
		doc.Status = constants.StatusCorrected
	} else {
		doc.Status = constants.StatusApproved
	}
}

// Transition moves a document along the explicit status graph. Disallowed
// moves are rejected without touching the document.
func (s *Service) Transition(ctx context.Context, documentID uuid.UUID, to constants.DocumentStatus, actor string) (*entity.Document, error) {
	// Quick metadata move: wait for any in-flight run instead of failing.
	defer s.store.LockDocument(documentID)()

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !constants.CanTransition(doc.Status, to) {
		return nil, common.NewAppError("REVIEW_TRANSITION",
			fmt.Sprintf("cannot move document from %s to %s", doc.Status, to), common.ErrInvalidInput)
	}
	if actor == "" {
		actor = "system"
	}

	from := doc.Status
	doc.Status = to
	doc.UpdatedAt = time.Now().UTC()

	event := store.NewAuditEvent(documentID, actor, constants.AuditStatusChanged,
		fmt.Sprintf("status=%s from=%s", to, from))
	if err := s.store.UpdateDocument(ctx, doc, event); err != nil {
		return nil, err
	}
	s.log.Info("review.status_changed", "document_id", documentID,
		"from", from, "to", to, "actor", actor)
	return doc, nil
}

// Assign records who owns the document. When the status graph allows it the
// document also moves to assigned; otherwise only the assignee changes.
func (s *Service) Assign(ctx context.Context, documentID uuid.UUID, assignee, actor string) (*entity.Document, error) {
	if assignee == "" {
		return nil, common.NewAppError("REVIEW_ASSIGN", "assignee is required", common.ErrInvalidInput)
	}
	defer s.store.LockDocument(documentID)()

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if actor == "" {
		actor = "system"
	}

	doc.AssignedTo = &assignee
	details := "assignee=" + assignee
	if constants.CanTransition(doc.Status, constants.StatusAssigned) {
		doc.Status = constants.StatusAssigned
		details += " status=" + string(constants.StatusAssigned)
	}
	doc.UpdatedAt = time.Now().UTC()

	event := store.NewAuditEvent(documentID, actor, constants.AuditAssigned, details)
	if err := s.store.UpdateDocument(ctx, doc, event); err != nil {
		return nil, err
	}
	s.log.Info("review.assigned", "document_id", documentID,
		"assignee", assignee, "actor", actor)
	return doc, nil
}

func decisionWord(approve bool) string {
	if approve {
		return "approve"
	}
	return "reject"
}
