package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jonathan/stock-research-agent/internal/queue"
)

var _ queue.Store = (*DB)(nil)

const jobColumns = `id, batch_job_id, ticker, query, language, status, progress,
	current_step, logs, result, error, created_at, updated_at, started_at, completed_at`

// scanJob scans one analysis_jobs row. The scan target list must match
// jobColumns exactly.
func scanJob(row pgx.Row) (*queue.Job, error) {
	var (
		job         queue.Job
		batchID     uuid.NullUUID
		currentStep *string
		errMsg      *string
		logsJSON    []byte
		resultJSON  []byte
	)

	err := row.Scan(&job.ID, &batchID, &job.Ticker, &job.Query, &job.Language,
		&job.Status, &job.Progress, &currentStep, &logsJSON, &resultJSON,
		&errMsg, &job.CreatedAt, &job.UpdatedAt, &job.StartedAt, &job.CompletedAt)
	if err != nil {
		return nil, err
	}

	if batchID.Valid {
		id := batchID.UUID
		job.BatchID = &id
	}
	if currentStep != nil {
		job.CurrentStep = *currentStep
	}
	if errMsg != nil {
		job.Error = *errMsg
	}
	if len(logsJSON) > 0 {
		if err := json.Unmarshal(logsJSON, &job.Logs); err != nil {
			return nil, fmt.Errorf("failed to decode job logs: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		job.Result = resultJSON
	}

	return &job, nil
}

// CreateBatch implements queue.Store. The batch row and all job rows commit
// in one transaction; a submission is never partially visible.
func (db *DB) CreateBatch(ctx context.Context, rawTickers, language string, tickers []string) (*queue.Batch, []queue.Job, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	batch := &queue.Batch{
		ID:        uuid.New(),
		Tickers:   rawTickers,
		Language:  language,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO batch_jobs (id, tickers, language, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)`,
		batch.ID, rawTickers, language, now,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create batch: %w", err)
	}

	jobs := make([]queue.Job, 0, len(tickers))
	for i, ticker := range tickers {
		batchID := batch.ID
		job := queue.Job{
			ID:       uuid.New(),
			BatchID:  &batchID,
			Ticker:   ticker,
			Query:    ticker,
			Language: language,
			Status:   queue.StatusPending,
			// Strictly increasing creation instants keep FIFO claiming
			// well defined within a batch.
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
			UpdatedAt: now,
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO analysis_jobs (id, batch_job_id, ticker, query, language, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			job.ID, job.BatchID, job.Ticker, job.Query, job.Language, job.Status, job.CreatedAt, job.UpdatedAt,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create job for %s: %w", ticker, err)
		}
		jobs = append(jobs, job)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit batch: %w", err)
	}
	return batch, jobs, nil
}

// GetJob implements queue.Store.
func (db *DB) GetJob(ctx context.Context, id uuid.UUID) (*queue.Job, error) {
	job, err := scanJob(db.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM analysis_jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// GetBatch implements queue.Store.
func (db *DB) GetBatch(ctx context.Context, id uuid.UUID) (*queue.Batch, error) {
	var batch queue.Batch
	err := db.pool.QueryRow(ctx,
		`SELECT id, tickers, language, created_at, updated_at FROM batch_jobs WHERE id = $1`, id,
	).Scan(&batch.ID, &batch.Tickers, &batch.Language, &batch.CreatedAt, &batch.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return &batch, nil
}

// BatchJobs implements queue.Store.
func (db *DB) BatchJobs(ctx context.Context, batchID uuid.UUID) ([]queue.Job, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM analysis_jobs WHERE batch_job_id = $1 ORDER BY created_at, id`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch jobs: %w", err)
	}
	defer rows.Close()

	var jobs []queue.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ListJobs implements queue.Store. Stats and total are computed over the
// whole filtered set, independent of pagination.
func (db *DB) ListJobs(ctx context.Context, f queue.ListFilter) (*queue.Listing, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if f.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, *f.Status)
		argPos++
	}
	if f.BatchID != nil {
		where += fmt.Sprintf(" AND batch_job_id = $%d", argPos)
		args = append(args, *f.BatchID)
		argPos++
	}

	listing := &queue.Listing{}
	err := db.pool.QueryRow(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE status = 'PENDING'),
		        count(*) FILTER (WHERE status = 'PROCESSING'),
		        count(*) FILTER (WHERE status = 'COMPLETED'),
		        count(*) FILTER (WHERE status = 'FAILED')
		 FROM analysis_jobs`+where, args...,
	).Scan(&listing.Stats.Total, &listing.Stats.Pending, &listing.Stats.Processing,
		&listing.Stats.Completed, &listing.Stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	listing.Total = listing.Stats.Total

	query := `SELECT ` + jobColumns + ` FROM analysis_jobs` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, f.Limit)
		argPos++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argPos)
		args = append(args, f.Offset)
	}

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		listing.Jobs = append(listing.Jobs, *job)
	}
	return listing, rows.Err()
}

// ClaimNextPending implements queue.Store. The capacity check, the FIFO
// select, and the PENDING -> PROCESSING transition form one serializable
// transaction; a serialization failure means a concurrent tick won the race
// and is reported as queue.ErrClaimConflict.
func (db *DB) ClaimNextPending(ctx context.Context, limit int) (*queue.Job, error) {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var processing int
	err = tx.QueryRow(ctx,
		`SELECT count(*) FROM analysis_jobs WHERE status = 'PROCESSING'`).Scan(&processing)
	if err != nil {
		return nil, claimErr(err)
	}
	if processing >= limit {
		return nil, nil
	}

	job, err := scanJob(tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM analysis_jobs
		 WHERE status = 'PENDING'
		 ORDER BY created_at, id
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, claimErr(err)
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx,
		`UPDATE analysis_jobs
		 SET status = 'PROCESSING', started_at = $2, error = NULL, updated_at = $2
		 WHERE id = $1`,
		job.ID, now)
	if err != nil {
		return nil, claimErr(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, claimErr(err)
	}

	job.Status = queue.StatusProcessing
	job.StartedAt = &now
	job.UpdatedAt = now
	job.Error = ""
	return job, nil
}

// claimErr maps Postgres serialization failures (SQLSTATE 40001) to
// queue.ErrClaimConflict so the scheduler retries silently.
func claimErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "40001" {
		return queue.ErrClaimConflict
	}
	return fmt.Errorf("failed to claim job: %w", err)
}

// UpdateProgress implements queue.Store. Progress is clamped in SQL and the
// new log entries are appended to the existing jsonb array.
func (db *DB) UpdateProgress(ctx context.Context, id uuid.UUID, progress int, step string, logs []queue.LogEntry) error {
	entries := logs
	if entries == nil {
		entries = []queue.LogEntry{}
	}
	logsJSON, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode log entries: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`UPDATE analysis_jobs
		 SET progress = LEAST(100, GREATEST(0, $2)),
		     current_step = $3,
		     logs = logs || $4::jsonb,
		     updated_at = now()
		 WHERE id = $1`,
		id, progress, step, logsJSON)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

// MarkCompleted implements queue.Store. The status guard keeps terminal
// states final even if a stale write arrives late.
func (db *DB) MarkCompleted(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE analysis_jobs
		 SET status = 'COMPLETED', result = $2, error = NULL, progress = 100,
		     current_step = 'Analysis Complete', completed_at = now(), updated_at = now()
		 WHERE id = $1 AND status = 'PROCESSING'`,
		id, result)
	if err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}
	return nil
}

// MarkFailed implements queue.Store.
func (db *DB) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE analysis_jobs
		 SET status = 'FAILED', result = NULL, error = $2, progress = 0,
		     current_step = 'Failed', completed_at = now(), updated_at = now()
		 WHERE id = $1 AND status = 'PROCESSING'`,
		id, message)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

// RecoverStalled implements queue.Store.
func (db *DB) RecoverStalled(ctx context.Context) (int, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE analysis_jobs
		 SET status = 'PENDING', started_at = NULL, error = 'System restart: Job reset', updated_at = now()
		 WHERE status = 'PROCESSING'`)
	if err != nil {
		return 0, fmt.Errorf("failed to recover stalled jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
