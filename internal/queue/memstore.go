package queue

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// recoveryNote is recorded on jobs reset by startup recovery and cleared
// when the job is actually re-claimed.
const recoveryNote = "System restart: Job reset"

// MemStore is an in-memory Store. It backs `serve --dev` (running without
// Postgres) and the queue tests. Claiming uses check-and-set under one
// mutex, mirroring the conditional-update semantics the Postgres store gets
// from its serializable transaction.
type MemStore struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]*Job
	batches map[uuid.UUID]*Batch
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		jobs:    make(map[uuid.UUID]*Job),
		batches: make(map[uuid.UUID]*Batch),
	}
}

var _ Store = (*MemStore)(nil)

// CreateBatch implements Store.
func (m *MemStore) CreateBatch(_ context.Context, rawTickers, language string, tickers []string) (*Batch, []Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	batch := &Batch{
		ID:        uuid.New(),
		Tickers:   rawTickers,
		Language:  language,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.batches[batch.ID] = batch

	jobs := make([]Job, 0, len(tickers))
	for i, ticker := range tickers {
		batchID := batch.ID
		job := &Job{
			ID:       uuid.New(),
			BatchID:  &batchID,
			Ticker:   ticker,
			Query:    ticker,
			Language: language,
			Status:   StatusPending,
			// Distinct creation instants keep FIFO ordering well defined
			// even when the map is populated within one clock tick.
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
			UpdatedAt: now,
		}
		m.jobs[job.ID] = job
		jobs = append(jobs, *job)
	}

	return batch, jobs, nil
}

// GetJob implements Store.
func (m *MemStore) GetJob(_ context.Context, id uuid.UUID) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	copied := cloneJob(job)
	return &copied, nil
}

// GetBatch implements Store.
func (m *MemStore) GetBatch(_ context.Context, id uuid.UUID) (*Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch, ok := m.batches[id]
	if !ok {
		return nil, nil
	}
	copied := *batch
	return &copied, nil
}

// BatchJobs implements Store.
func (m *MemStore) BatchJobs(_ context.Context, batchID uuid.UUID) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var jobs []Job
	for _, job := range m.jobs {
		if job.BatchID != nil && *job.BatchID == batchID {
			jobs = append(jobs, cloneJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

// ListJobs implements Store.
func (m *MemStore) ListJobs(_ context.Context, f ListFilter) (*Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []Job
	for _, job := range m.jobs {
		if f.Status != nil && job.Status != *f.Status {
			continue
		}
		if f.BatchID != nil && (job.BatchID == nil || *job.BatchID != *f.BatchID) {
			continue
		}
		matched = append(matched, cloneJob(job))
	}
	// Newest first, matching the read API contract.
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	listing := &Listing{
		Total: len(matched),
		Stats: CountStatuses(matched),
	}

	offset := f.Offset
	if offset > len(matched) {
		offset = len(matched)
	}
	end := len(matched)
	if f.Limit > 0 && offset+f.Limit < end {
		end = offset + f.Limit
	}
	listing.Jobs = matched[offset:end]
	return listing, nil
}

// ClaimNextPending implements Store. The whole check-count-select-update
// sequence runs under one lock, so two concurrent claims can never both
// succeed on the same job or exceed the limit.
func (m *MemStore) ClaimNextPending(_ context.Context, limit int) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	processing := 0
	for _, job := range m.jobs {
		if job.Status == StatusProcessing {
			processing++
		}
	}
	if processing >= limit {
		return nil, nil
	}

	var oldest *Job
	for _, job := range m.jobs {
		if job.Status != StatusPending {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	oldest.Status = StatusProcessing
	oldest.StartedAt = &now
	oldest.UpdatedAt = now
	oldest.Error = ""

	claimed := cloneJob(oldest)
	return &claimed, nil
}

// UpdateProgress implements Store.
func (m *MemStore) UpdateProgress(_ context.Context, id uuid.UUID, progress int, step string, logs []LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil
	}

	job.Progress = clampProgress(progress)
	job.CurrentStep = step
	job.Logs = append(job.Logs, logs...)
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkCompleted implements Store.
func (m *MemStore) MarkCompleted(_ context.Context, id uuid.UUID, result json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.Status != StatusProcessing {
		return nil
	}

	now := time.Now().UTC()
	job.Status = StatusCompleted
	job.Result = append(json.RawMessage(nil), result...)
	job.Error = ""
	job.Progress = 100
	job.CurrentStep = "Analysis Complete"
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

// MarkFailed implements Store.
func (m *MemStore) MarkFailed(_ context.Context, id uuid.UUID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.Status != StatusProcessing {
		return nil
	}

	now := time.Now().UTC()
	job.Status = StatusFailed
	job.Result = nil
	job.Error = message
	job.Progress = 0
	job.CurrentStep = "Failed"
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

// RecoverStalled implements Store.
func (m *MemStore) RecoverStalled(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	now := time.Now().UTC()
	for _, job := range m.jobs {
		if job.Status != StatusProcessing {
			continue
		}
		job.Status = StatusPending
		job.StartedAt = nil
		job.Error = recoveryNote
		job.UpdatedAt = now
		n++
	}
	return n, nil
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func cloneJob(job *Job) Job {
	copied := *job
	if job.BatchID != nil {
		id := *job.BatchID
		copied.BatchID = &id
	}
	if job.StartedAt != nil {
		t := *job.StartedAt
		copied.StartedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		copied.CompletedAt = &t
	}
	copied.Logs = append([]LogEntry(nil), job.Logs...)
	copied.Result = append(json.RawMessage(nil), job.Result...)
	return copied
}
