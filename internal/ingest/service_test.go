package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/citydocs/triage/constants"
	"github.com/citydocs/triage/internal/common"
	"github.com/citydocs/triage/internal/pipeline"
	"github.com/citydocs/triage/internal/rules"
	"github.com/citydocs/triage/internal/store"
)

const permitText = `Building Permit Application
Applicant: Jane Roe
Property Address: 12 Main St, Springfield
Date: 2026-01-15
Parcel No: AB-1234
We request an inspection of the construction site plan under current zoning.`

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(context.Background(), "file:"+filepath.Join(dir, "triage.db"), nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	rm := rules.NewManager(filepath.Join(dir, "rules.yaml"), nil)
	proc := pipeline.NewProcessor(st, rm, common.PipelineConfig{
		ConfidenceThreshold: 0.82,
		ForceReviewDocTypes: map[string]struct{}{},
		UrgencyHighKeywords: []string{"urgent", "emergency"},
	}, nil)
	return NewService(st, proc, 3, nil), st
}

func TestIngestSyncProcessesInline(t *testing.T) {
	svc, st := newTestService(t)

	res, err := svc.Ingest(context.Background(), Request{
		Filename:    "permit.txt",
		ContentType: "text/plain",
		Content:     []byte(permitText),
		Actor:       "tester",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Status != constants.StatusRouted {
		t.Errorf("status = %s, want routed", res.Status)
	}
	if res.Confidence < 0.82 {
		t.Errorf("confidence = %v", res.Confidence)
	}

	doc, err := st.GetDocument(context.Background(), res.DocumentID)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.DocType == nil || *doc.DocType != "building_permit" {
		t.Errorf("doc_type = %v", doc.DocType)
	}
}

func TestIngestAsyncEnqueuesJob(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	res, err := svc.Ingest(ctx, Request{
		Filename:    "permit.txt",
		ContentType: "text/plain",
		Content:     []byte(permitText),
		Actor:       "tester",
		Async:       true,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Status != constants.StatusIngested {
		t.Errorf("status = %s, want ingested before the worker runs", res.Status)
	}

	jobs, err := st.ListJobs(ctx, constants.JobStatusQueued, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("queued jobs = %d, want 1", len(jobs))
	}
	if jobs[0].Payload.DocumentID != res.DocumentID || jobs[0].Payload.Operation != "process" {
		t.Errorf("payload = %+v", jobs[0].Payload)
	}
}

func TestIngestRejectsInvalidRequests(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, Request{Content: []byte("x")})
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Errorf("missing filename: err = %v", err)
	}
	_, err = svc.Ingest(ctx, Request{Filename: "a.txt"})
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Errorf("empty content: err = %v", err)
	}
}

func TestReprocessRunsPipelineAgain(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	res, err := svc.Ingest(ctx, Request{
		Filename: "permit.txt", ContentType: "text/plain",
		Content: []byte(permitText), Actor: "tester",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	again, err := svc.Reprocess(ctx, res.DocumentID, "supervisor", false)
	if err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	if again.Status != constants.StatusRouted {
		t.Errorf("status = %s", again.Status)
	}

	events, err := st.ListAuditEvents(ctx, res.DocumentID)
	if err != nil {
		t.Fatalf("ListAuditEvents: %v", err)
	}
	var requested, processed int
	for _, e := range events {
		switch e.Action {
		case constants.AuditReprocessRequested:
			requested++
		case constants.AuditPipelineProcessed:
			processed++
		}
	}
	if requested != 1 || processed != 2 {
		t.Errorf("requested=%d processed=%d, want 1 and 2", requested, processed)
	}
}

func TestReprocessUnknownDocument(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Reprocess(context.Background(), uuid.New(), "tester", false)
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
