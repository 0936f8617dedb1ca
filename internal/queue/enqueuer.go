package queue

import (
	"context"
	"fmt"
	"strings"
)

// Waker is anything that can be nudged to look for new work. The scheduler
// implements it; submission never waits for a job to actually run.
type Waker interface {
	Notify()
}

// Enqueuer validates batch submissions and creates their job rows.
type Enqueuer struct {
	store Store
	waker Waker
}

// NewEnqueuer creates an Enqueuer. waker may be nil (tests, one-shot tools).
func NewEnqueuer(store Store, waker Waker) *Enqueuer {
	return &Enqueuer{store: store, waker: waker}
}

// Submission is the result of a successful batch submit.
type Submission struct {
	Batch *Batch
	Jobs  []Job
}

// SplitTickers splits a raw comma- or whitespace-separated ticker list into
// trimmed, non-empty tokens.
func SplitTickers(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	tickers := make([]string, 0, len(fields))
	for _, f := range fields {
		if t := strings.TrimSpace(f); t != "" {
			tickers = append(tickers, t)
		}
	}
	return tickers
}

// Submit creates one batch and one PENDING job per ticker in a single
// durable write, then wakes the scheduler. It returns a *ValidationError
// and creates nothing when no usable tickers remain after splitting.
func (e *Enqueuer) Submit(ctx context.Context, rawTickers, language string) (*Submission, error) {
	tickers := SplitTickers(rawTickers)
	if len(tickers) == 0 {
		return nil, &ValidationError{Message: "at least one ticker/query is required"}
	}

	batch, jobs, err := e.store.CreateBatch(ctx, rawTickers, language, tickers)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	// Fire-and-forget: the HTTP response must not wait for any job to run.
	if e.waker != nil {
		e.waker.Notify()
	}

	return &Submission{Batch: batch, Jobs: jobs}, nil
}
