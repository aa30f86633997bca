package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/citydocs/triage/constants"
	"github.com/citydocs/triage/internal/common"
	"github.com/citydocs/triage/internal/entity"
	"github.com/citydocs/triage/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), "file:"+filepath.Join(t.TempDir(), "triage.db"), nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestDocument(t *testing.T, st *store.Store) *entity.Document {
	t.Helper()
	now := time.Now().UTC()
	doc := &entity.Document{
		ID:            uuid.New(),
		Filename:      "permit.txt",
		ContentType:   "text/plain",
		SourceChannel: "upload_portal",
		Status:        constants.StatusIngested,
		Urgency:       constants.UrgencyNormal,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	event := store.NewAuditEvent(doc.ID, "tester", constants.AuditUploaded, "")
	if err := st.CreateDocument(context.Background(), doc, []byte("x"), event); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	return doc
}

func testWorkerConfig() common.WorkerConfig {
	return common.WorkerConfig{
		Workers:      2,
		PollInterval: 5 * time.Millisecond,
		MaxAttempts:  3,
		BackoffBase:  time.Millisecond,
		BackoffCap:   10 * time.Millisecond,
		LeaseTTL:     time.Minute,
		RunTimeout:   time.Second,
	}
}

func waitForJobStatus(t *testing.T, st *store.Store, id uuid.UUID, want constants.JobStatus) *entity.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := st.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := st.GetJob(context.Background(), id)
	t.Fatalf("job never reached %s, last seen %+v", want, job)
	return nil
}

func TestPoolRunsJobToCompletion(t *testing.T) {
	st := newTestStore(t)
	doc := newTestDocument(t, st)
	pool := NewPool(st, testWorkerConfig(), nil)

	var mu sync.Mutex
	var seen []uuid.UUID
	pool.Register(constants.JobTypeProcessDocument, func(ctx context.Context, job *entity.Job) error {
		mu.Lock()
		seen = append(seen, job.Payload.DocumentID)
		mu.Unlock()
		return nil
	})

	job, err := st.EnqueueJob(context.Background(), constants.JobTypeProcessDocument,
		entity.JobPayload{DocumentID: doc.ID, Operation: "process", Actor: "tester"}, 3)
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	pool.Start(context.Background())
	defer pool.Stop()

	done := waitForJobStatus(t, st, job.ID, constants.JobStatusSucceeded)
	if done.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", done.Attempts)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != doc.ID {
		t.Errorf("handler saw %v, want exactly one run for %s", seen, doc.ID)
	}
}

func TestPoolRetriesThenDeadLetters(t *testing.T) {
	st := newTestStore(t)
	doc := newTestDocument(t, st)
	pool := NewPool(st, testWorkerConfig(), nil)

	var mu sync.Mutex
	var attempts []int
	pool.Register(constants.JobTypeProcessDocument, func(ctx context.Context, job *entity.Job) error {
		mu.Lock()
		attempts = append(attempts, job.Attempts)
		mu.Unlock()
		return errors.New("handler always fails")
	})

	job, err := st.EnqueueJob(context.Background(), constants.JobTypeProcessDocument,
		entity.JobPayload{DocumentID: doc.ID, Operation: "process", Actor: "tester"}, 3)
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	pool.Start(context.Background())
	defer pool.Stop()

	dead := waitForJobStatus(t, st, job.ID, constants.JobStatusDead)
	if dead.Attempts != 3 {
		t.Errorf("attempts = %d, want exactly max_attempts", dead.Attempts)
	}
	if dead.LastError == nil || *dead.LastError != "handler always fails" {
		t.Errorf("last_error = %v", dead.LastError)
	}

	mu.Lock()
	got := append([]int(nil), attempts...)
	mu.Unlock()
	if len(got) != 3 {
		t.Fatalf("handler ran %d times, want 3", len(got))
	}
	for i, a := range got {
		if a != i+1 {
			t.Errorf("attempt sequence = %v, want strictly increasing from 1", got)
			break
		}
	}

	events, err := st.ListAuditEvents(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("ListAuditEvents: %v", err)
	}
	var deadLettered bool
	for _, e := range events {
		if e.Action == constants.AuditJobDeadLetter {
			deadLettered = true
		}
	}
	if !deadLettered {
		t.Error("no dead-letter audit event recorded")
	}
}

func TestPoolRequeuesConflicts(t *testing.T) {
	st := newTestStore(t)
	doc := newTestDocument(t, st)
	pool := NewPool(st, testWorkerConfig(), nil)

	var once sync.Once
	ran := make(chan uuid.UUID, 2)
	pool.Register(constants.JobTypeProcessDocument, func(ctx context.Context, job *entity.Job) error {
		var conflict bool
		once.Do(func() { conflict = true })
		ran <- job.ID
		if conflict {
			return common.NewAppError("PIPELINE_CONFLICT", "document busy", common.ErrConflict)
		}
		return nil
	})

	job, err := st.EnqueueJob(context.Background(), constants.JobTypeProcessDocument,
		entity.JobPayload{DocumentID: doc.ID, Operation: "process", Actor: "tester"}, 3)
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	pool.Start(context.Background())
	defer pool.Stop()

	// The conflicted attempt spawns a fresh job that then succeeds.
	first := <-ran
	if first != job.ID {
		t.Fatalf("first run was job %s, want %s", first, job.ID)
	}
	second := <-ran
	if second == job.ID {
		t.Error("conflict re-ran the same job instead of a fresh one")
	}
	waitForJobStatus(t, st, second, constants.JobStatusSucceeded)
}

func TestPoolStopDrainsInFlightJob(t *testing.T) {
	st := newTestStore(t)
	doc := newTestDocument(t, st)
	pool := NewPool(st, testWorkerConfig(), nil)

	var once sync.Once
	started := make(chan struct{})
	release := make(chan struct{})
	var handlerCtxErr error
	pool.Register(constants.JobTypeProcessDocument, func(ctx context.Context, job *entity.Job) error {
		once.Do(func() { close(started) })
		<-release
		handlerCtxErr = ctx.Err()
		return nil
	})

	job, err := st.EnqueueJob(context.Background(), constants.JobTypeProcessDocument,
		entity.JobPayload{DocumentID: doc.ID, Operation: "process", Actor: "tester"}, 3)
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	<-started

	// Shutdown order as in the daemon: the outer context dies first, then
	// Stop is asked to drain.
	cancel()
	stopped := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a job was still in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-stopped

	done, err := st.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if done.Status != constants.JobStatusSucceeded {
		t.Errorf("job status after drain = %s, want succeeded", done.Status)
	}
	if handlerCtxErr != nil {
		t.Errorf("handler context was cancelled mid-run: %v", handlerCtxErr)
	}
}

func TestBackoffDoublesUpToCap(t *testing.T) {
	pool := NewPool(nil, common.WorkerConfig{
		BackoffBase: 10 * time.Second,
		BackoffCap:  10 * time.Minute,
	}, nil)

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 10 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{4, 80 * time.Second},
		{10, 10 * time.Minute},
	}
	for _, tt := range tests {
		if got := pool.Backoff(tt.attempts); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}
