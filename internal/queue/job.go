// Package queue implements the persistent analysis job queue: batch
// submission, bounded-concurrency scheduling, crash recovery, and the
// read-side aggregation consumed by polling clients.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an analysis job.
type Status string

// Job lifecycle states. PENDING is initial; COMPLETED and FAILED are
// terminal. The only transition out of PROCESSING besides the terminal
// states is the startup recovery reset back to PENDING.
const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Valid reports whether s is one of the known job states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// LogEntry is one timestamped message in a job's append-only log.
type LogEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// Job is one ticker's end-to-end analysis task and its durable status record.
type Job struct {
	ID          uuid.UUID       `json:"id"`
	BatchID     *uuid.UUID      `json:"batchJobId,omitempty"`
	Ticker      string          `json:"ticker"`
	Query       string          `json:"query"`
	Language    string          `json:"language"`
	Status      Status          `json:"status"`
	Progress    int             `json:"progress"`
	CurrentStep string          `json:"currentStep,omitempty"`
	Logs        []LogEntry      `json:"logs,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	StartedAt   *time.Time      `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt"`
}

// Batch is a user submission grouping one or more per-ticker jobs. It holds
// the raw ticker-list text as submitted; its status is never stored and is
// always derived from its child jobs.
type Batch struct {
	ID        uuid.UUID `json:"id"`
	Tickers   string    `json:"tickers"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Stats is the four-way status breakdown over a set of jobs.
type Stats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// CountStatuses computes the status breakdown for a set of jobs.
func CountStatuses(jobs []Job) Stats {
	stats := Stats{Total: len(jobs)}
	for _, j := range jobs {
		switch j.Status {
		case StatusPending:
			stats.Pending++
		case StatusProcessing:
			stats.Processing++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats
}

// AggregateStatus derives a batch-level status from its child job statuses.
// COMPLETED iff all children completed; FAILED as soon as any child failed;
// PROCESSING once any child has started or finished; PENDING otherwise.
// Recomputed on every read so partial failure is never hidden.
func AggregateStatus(statuses []Status) Status {
	if len(statuses) == 0 {
		return StatusPending
	}

	allCompleted := true
	anyFailed := false
	anyActive := false
	for _, s := range statuses {
		if s != StatusCompleted {
			allCompleted = false
		}
		if s == StatusFailed {
			anyFailed = true
		}
		if s == StatusProcessing || s == StatusCompleted {
			anyActive = true
		}
	}

	switch {
	case allCompleted:
		return StatusCompleted
	case anyFailed:
		return StatusFailed
	case anyActive:
		return StatusProcessing
	default:
		return StatusPending
	}
}

// ListFilter selects jobs for the read-side list endpoint.
type ListFilter struct {
	Status  *Status
	BatchID *uuid.UUID
	Limit   int
	Offset  int
}

// Listing is a page of jobs plus aggregate information computed over the
// whole filtered set (not just the returned page).
type Listing struct {
	Jobs  []Job
	Total int
	Stats Stats
}

// Store is the durable job table. It is the single source of truth for all
// concurrent actors; claiming and terminal transitions rely entirely on the
// implementation's transactional or compare-and-swap guarantees, so any
// number of scheduler loops may share one Store without double-processing.
type Store interface {
	// CreateBatch durably creates one batch row plus one PENDING job per
	// ticker in a single atomic write and returns them.
	CreateBatch(ctx context.Context, rawTickers, language string, tickers []string) (*Batch, []Job, error)

	// GetJob returns the job, or nil if no such job exists.
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)

	// GetBatch returns the batch, or nil if no such batch exists.
	GetBatch(ctx context.Context, id uuid.UUID) (*Batch, error)

	// BatchJobs returns all jobs of a batch in creation order.
	BatchJobs(ctx context.Context, batchID uuid.UUID) ([]Job, error)

	// ListJobs returns a page of jobs (newest first) matching the filter,
	// plus the total and the status breakdown over the filtered set.
	ListJobs(ctx context.Context, f ListFilter) (*Listing, error)

	// ClaimNextPending atomically claims the oldest PENDING job, but only
	// when fewer than limit jobs are PROCESSING. Returns nil when there is
	// no capacity or no pending work. Returns ErrClaimConflict when a
	// concurrent claim won the race; callers should simply retry.
	ClaimNextPending(ctx context.Context, limit int) (*Job, error)

	// UpdateProgress records execution progress for a claimed job. Progress
	// is clamped to [0,100]; log entries are appended, never replaced.
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int, step string, logs []LogEntry) error

	// MarkCompleted transitions a PROCESSING job to COMPLETED with its
	// result payload, progress 100, and a completion timestamp.
	MarkCompleted(ctx context.Context, id uuid.UUID, result json.RawMessage) error

	// MarkFailed transitions a PROCESSING job to FAILED with the error
	// message and a completion timestamp. Progress resets to 0.
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error

	// RecoverStalled resets every PROCESSING job back to PENDING, clearing
	// startedAt and recording an explanatory note. Only safe at process
	// startup, before the scheduler runs. Returns the number of jobs reset.
	RecoverStalled(ctx context.Context) (int, error)
}
