package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jonathan/stock-research-agent/internal/metrics"
)

// ProgressFunc reports fractional progress for a running job. detail, when
// non-empty, is also appended to the job's persistent log.
type ProgressFunc func(percent int, step, detail string)

// Executor runs the analysis pipeline for one claimed job and returns the
// result document. Any error fails the job; there is no automatic retry.
type Executor interface {
	Execute(ctx context.Context, job *Job, progress ProgressFunc) (json.RawMessage, error)
}

// Scheduler drains the queue with bounded concurrency. Claiming goes through
// the store's atomic ClaimNextPending, so concurrency is enforced
// system-wide even with several scheduler loops (or server replicas)
// running against the same store.
type Scheduler struct {
	store    Store
	executor Executor
	limit    int

	notify   chan struct{}
	watchdog time.Duration

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler that keeps at most limit jobs PROCESSING.
func NewScheduler(store Store, executor Executor, limit int) *Scheduler {
	if limit <= 0 {
		limit = 1
	}
	return &Scheduler{
		store:    store,
		executor: executor,
		limit:    limit,
		notify:   make(chan struct{}, 1),
		watchdog: 10 * time.Second,
	}
}

// Notify wakes the scheduler to look for pending work. Non-blocking.
func (s *Scheduler) Notify() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Recover resets jobs orphaned by a previous crash. A job found PROCESSING
// before the first tick can only mean the prior process died mid-execution,
// since nothing else sets that state outside an active claim. Must run
// before Run.
func (s *Scheduler) Recover(ctx context.Context) error {
	n, err := s.store.RecoverStalled(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover stalled jobs: %w", err)
	}
	if n > 0 {
		log.Printf("Recovery: reset %d stalled jobs to PENDING", n)
		metrics.RecoveredJobs.Add(float64(n))
	}
	return nil
}

// Run blocks, claiming and executing jobs until ctx is cancelled, then waits
// for in-flight executions to finish. The loop wakes on Notify, on the
// watchdog ticker (self-healing if a notification is ever lost), and
// immediately after each job completes.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.watchdog)
	defer ticker.Stop()

	for {
		s.tick(ctx)

		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-s.notify:
		case <-ticker.C:
		}
	}
}

// tick claims jobs until capacity or pending work runs out. Each claimed job
// executes on its own goroutine; the tick does not wait for it, so a free
// slot is filled as soon as the store grants a claim.
func (s *Scheduler) tick(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := s.store.ClaimNextPending(ctx, s.limit)
		if errors.Is(err, ErrClaimConflict) {
			// Lost a race with a concurrent tick. Harmless; try again.
			metrics.ClaimConflicts.Inc()
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return // shutting down
			}
			// Transient store error: abort this tick rather than spin.
			// The watchdog resumes the loop after its interval.
			log.Printf("Scheduler: claim failed: %v", err)
			return
		}
		if job == nil {
			return // no capacity or no pending work
		}

		s.wg.Add(1)
		go s.runJob(ctx, job)
	}
}

// runJob executes one claimed job and records its terminal state. Errors
// from the executor become a FAILED outcome; they never propagate further,
// so one ticker's failure cannot affect its siblings.
func (s *Scheduler) runJob(ctx context.Context, job *Job) {
	defer s.wg.Done()
	// Whether the job succeeded or failed, a slot just freed up.
	defer s.Notify()

	metrics.JobsProcessing.Inc()
	defer metrics.JobsProcessing.Dec()

	log.Printf("Scheduler: processing job %s (%s)", job.ID, job.Ticker)

	progress := func(percent int, step, detail string) {
		var entries []LogEntry
		if detail != "" {
			entries = []LogEntry{{
				At:      time.Now().UTC(),
				Message: fmt.Sprintf("[Job %s] %d%% - %s", job.ID, percent, detail),
			}}
		}
		if err := s.store.UpdateProgress(ctx, job.ID, percent, step, entries); err != nil {
			log.Printf("Scheduler: progress update for job %s failed: %v", job.ID, err)
		}
	}

	progress(5, "Initializing Analysis...", "Initializing Analysis...")

	result, err := s.executor.Execute(ctx, job, progress)
	if err != nil {
		log.Printf("Scheduler: job %s failed: %v", job.ID, err)
		if markErr := s.store.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
			log.Printf("Scheduler: failed to mark job %s failed: %v", job.ID, markErr)
		}
		metrics.JobsFailed.Inc()
		return
	}

	if err := s.store.MarkCompleted(ctx, job.ID, result); err != nil {
		log.Printf("Scheduler: failed to mark job %s completed: %v", job.ID, err)
		return
	}
	metrics.JobsCompleted.Inc()
	log.Printf("Scheduler: job %s completed", job.ID)
}
