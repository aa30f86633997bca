package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/citydocs/triage/constants"
	"github.com/citydocs/triage/internal/common"
	"github.com/citydocs/triage/internal/entity"
	"github.com/citydocs/triage/internal/store"
)

// HandlerFunc executes one job attempt. A nil return completes the job;
// any error counts the attempt against the retry budget.
type HandlerFunc func(ctx context.Context, job *entity.Job) error

// Pool polls the durable job queue with N workers. Each claim takes a
// lease; a worker that dies mid-job loses the lease and the reclaimer turns
// it back into a retryable failure.
type Pool struct {
	store    *store.Store
	cfg      common.WorkerConfig
	log      *slog.Logger
	handlers map[string]HandlerFunc

	mu      sync.Mutex
	cancel  context.CancelFunc
	jobCtx  context.Context
	wg      sync.WaitGroup
	started bool
}

func NewPool(st *store.Store, cfg common.WorkerConfig, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Pool{
		store:    st,
		cfg:      cfg,
		log:      logger,
		handlers: make(map[string]HandlerFunc),
	}
}

// Register binds a handler to a job type. Must be called before Start.
func (p *Pool) Register(jobType string, h HandlerFunc) {
	p.handlers[jobType] = h
}

// Start launches the worker goroutines and the lease reclaimer.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	// Job execution and its bookkeeping run detached from the poll context:
	// shutdown stops claiming but lets the current job finish and record its
	// outcome.
	p.jobCtx = context.WithoutCancel(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		workerID := fmt.Sprintf("worker-%d-%s", i, uuid.New().String()[:8])
		p.wg.Add(1)
		go p.runLoop(ctx, workerID)
	}
	p.wg.Add(1)
	go p.reclaimLoop(ctx)

	p.log.Info("worker.pool.started", "workers", p.cfg.Workers,
		"poll_interval", p.cfg.PollInterval, "max_attempts", p.cfg.MaxAttempts)
}

// Stop halts claiming and blocks until in-flight jobs finish and complete
// their bookkeeping.
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	p.log.Info("worker.pool.stopped")
}

func (p *Pool) runLoop(ctx context.Context, workerID string) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// Drain runnable jobs before going back to sleep.
		for {
			if ctx.Err() != nil {
				return
			}
			job, err := p.store.ClaimNextJob(ctx, workerID, p.cfg.LeaseTTL)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.log.Error("worker.claim_failed", "worker_id", workerID, "error", err)
				break
			}
			if job == nil {
				break
			}
			p.runJob(p.jobCtx, workerID, job)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pool) runJob(ctx context.Context, workerID string, job *entity.Job) {
	handler, ok := p.handlers[job.JobType]
	if !ok {
		p.failJob(ctx, job, fmt.Sprintf("no handler for job type %q", job.JobType))
		return
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if p.cfg.RunTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, p.cfg.RunTimeout)
		defer cancel()
	}

	p.log.Info("worker.job.start", "worker_id", workerID, "job_id", job.ID,
		"job_type", job.JobType, "attempt", job.Attempts, "max_attempts", job.MaxAttempts)
	start := time.Now()

	err := p.safeHandle(runCtx, handler, job)
	if err == nil {
		if err := p.store.CompleteJob(ctx, job.ID); err != nil {
			p.log.Error("worker.job.complete_failed", "job_id", job.ID, "error", err)
			return
		}
		p.log.Info("worker.job.ok", "worker_id", workerID, "job_id", job.ID,
			"elapsed_ms", time.Since(start).Milliseconds())
		return
	}

	if errors.Is(err, common.ErrConflict) {
		// Another writer held the document; this attempt never really ran.
		// Hand the work to a fresh job instead of burning the retry budget.
		p.requeueConflict(ctx, job)
		return
	}
	p.failJob(ctx, job, err.Error())
}

// safeHandle turns a handler panic into an ordinary failed attempt.
func (p *Pool) safeHandle(ctx context.Context, handler HandlerFunc, job *entity.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (p *Pool) failJob(ctx context.Context, job *entity.Job, msg string) {
	failed, err := p.store.FailJob(ctx, job.ID, msg, p.Backoff(job.Attempts))
	if err != nil {
		p.log.Error("worker.job.fail_bookkeeping", "job_id", job.ID, "error", err)
		return
	}
	if failed.Status == constants.JobStatusDead {
		p.log.Error("worker.job.dead", "job_id", job.ID, "attempts", failed.Attempts,
			"error", fmt.Errorf("%w: %s", common.ErrJobExhausted, msg))
		event := store.NewAuditEvent(failed.Payload.DocumentID, "worker",
			constants.AuditJobDeadLetter,
			fmt.Sprintf("job_id=%s attempts=%d", failed.ID, failed.Attempts))
		if err := p.store.AppendAuditEvent(ctx, event); err != nil {
			p.log.Error("worker.job.dead_letter_audit_failed", "job_id", job.ID, "error", err)
		}
		return
	}
	p.log.Warn("worker.job.retry_scheduled", "job_id", job.ID,
		"attempt", failed.Attempts, "next_attempt_at", failed.NextAttemptAt, "error", msg)
}

func (p *Pool) requeueConflict(ctx context.Context, job *entity.Job) {
	if err := p.store.CompleteJob(ctx, job.ID); err != nil {
		p.log.Error("worker.job.conflict_bookkeeping", "job_id", job.ID, "error", err)
		return
	}
	fresh, err := p.store.EnqueueJob(ctx, job.JobType, job.Payload, job.MaxAttempts)
	if err != nil {
		p.log.Error("worker.job.conflict_requeue_failed", "job_id", job.ID, "error", err)
		return
	}
	p.log.Info("worker.job.conflict_requeued", "job_id", job.ID, "fresh_job_id", fresh.ID)
}

func (p *Pool) reclaimLoop(ctx context.Context) {
	defer p.wg.Done()
	interval := p.cfg.LeaseTTL / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.store.ReclaimExpiredLeases(ctx, time.Now().UTC(), p.Backoff)
			if err != nil {
				p.log.Error("worker.reclaim_failed", "error", err)
			} else if n > 0 {
				p.log.Warn("worker.leases_reclaimed", "count", n)
			}
		}
	}
}

// Backoff returns the retry delay after the given number of consumed
// attempts: base doubled per extra attempt, capped.
func (p *Pool) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := p.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= p.cfg.BackoffCap {
			return p.cfg.BackoffCap
		}
	}
	if p.cfg.BackoffCap > 0 && d > p.cfg.BackoffCap {
		return p.cfg.BackoffCap
	}
	return d
}
