package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/citydocs/triage/constants"
	"github.com/citydocs/triage/internal/common"
	"github.com/citydocs/triage/internal/entity"
	"github.com/citydocs/triage/internal/pipeline"
	"github.com/citydocs/triage/internal/store"
)

// Service accepts documents into the system: single uploads, reprocess
// requests and bulk manifests. Synchronous ingestion runs the pipeline
// inline; asynchronous ingestion enqueues a durable job instead.
type Service struct {
	store       *store.Store
	processor   *pipeline.Processor
	maxAttempts int
	log         *slog.Logger
}

func NewService(st *store.Store, proc *pipeline.Processor, maxAttempts int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Service{store: st, processor: proc, maxAttempts: maxAttempts, log: logger}
}

// Request is one document to ingest.
type Request struct {
	Filename      string
	ContentType   string
	SourceChannel string
	Content       []byte
	Actor         string
	Async         bool
}

// Result reports where ingestion left the document.
type Result struct {
	DocumentID uuid.UUID                `json:"document_id"`
	Status     constants.DocumentStatus `json:"status"`
	Confidence float64                  `json:"confidence"`
}

// Ingest stores the upload and either processes it inline or enqueues a job.
func (s *Service) Ingest(ctx context.Context, req Request) (*Result, error) {
	if req.Filename == "" {
		return nil, common.NewAppError("INGEST_INVALID", "filename is required", common.ErrInvalidInput)
	}
	if len(req.Content) == 0 {
		return nil, common.NewAppError("INGEST_INVALID", "content is empty", common.ErrInvalidInput)
	}
	if req.ContentType == "" {
		req.ContentType = "application/octet-stream"
	}
	if req.SourceChannel == "" {
		req.SourceChannel = "upload_portal"
	}
	if req.Actor == "" {
		req.Actor = "system"
	}

	now := time.Now().UTC()
	doc := &entity.Document{
		ID:            uuid.New(),
		Filename:      req.Filename,
		ContentType:   req.ContentType,
		SourceChannel: req.SourceChannel,
		Status:        constants.StatusIngested,
		Urgency:       constants.UrgencyNormal,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	action := constants.AuditUploaded
	if req.SourceChannel == "bulk_import" {
		action = constants.AuditImported
	}
	event := store.NewAuditEvent(doc.ID, req.Actor, action,
		fmt.Sprintf("filename=%s channel=%s", req.Filename, req.SourceChannel))
	if err := s.store.CreateDocument(ctx, doc, req.Content, event); err != nil {
		return nil, err
	}
	s.log.Info("ingest.accepted", "document_id", doc.ID,
		"filename", req.Filename, "channel", req.SourceChannel, "async", req.Async)

	if req.Async {
		if err := s.enqueue(ctx, doc.ID, "process", req.Actor); err != nil {
			return nil, err
		}
		return &Result{DocumentID: doc.ID, Status: constants.StatusIngested}, nil
	}

	processed, err := s.processor.Run(ctx, doc.ID, req.Actor)
	if err != nil {
		return nil, err
	}
	return &Result{
		DocumentID: processed.ID,
		Status:     processed.Status,
		Confidence: processed.Confidence,
	}, nil
}

// Reprocess re-runs the pipeline over the stored content, e.g. after a rule
// change or a failed run. The request itself is audited even when the run
// happens later on a worker.
func (s *Service) Reprocess(ctx context.Context, documentID uuid.UUID, actor string, async bool) (*Result, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if actor == "" {
		actor = "system"
	}
	event := store.NewAuditEvent(documentID, actor, constants.AuditReprocessRequested,
		"previous_status="+string(doc.Status))
	if err := s.store.AppendAuditEvent(ctx, event); err != nil {
		return nil, err
	}

	if async {
		if err := s.enqueue(ctx, documentID, "reprocess", actor); err != nil {
			return nil, err
		}
		return &Result{DocumentID: documentID, Status: doc.Status}, nil
	}

	processed, err := s.processor.Run(ctx, documentID, actor)
	if err != nil {
		return nil, err
	}
	return &Result{
		DocumentID: processed.ID,
		Status:     processed.Status,
		Confidence: processed.Confidence,
	}, nil
}

func (s *Service) enqueue(ctx context.Context, documentID uuid.UUID, operation, actor string) error {
	_, err := s.store.EnqueueJob(ctx, constants.JobTypeProcessDocument, entity.JobPayload{
		DocumentID: documentID,
		Operation:  operation,
		Actor:      actor,
	}, s.maxAttempts)
	return err
}

// HandleJob adapts the pipeline to the worker pool's handler contract.
func (s *Service) HandleJob(ctx context.Context, job *entity.Job) error {
	_, err := s.processor.Run(ctx, job.Payload.DocumentID, job.Payload.Actor)
	return err
}
