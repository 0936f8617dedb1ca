package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/jonathan/stock-research-agent/internal/queue"
)

// defaultListLimit caps GET /api/jobs pages when no limit is given.
const defaultListLimit = 50

// BatchRequest represents the request body for POST /api/jobs/batch.
type BatchRequest struct {
	Tickers  string `json:"tickers" validate:"required"`
	Language string `json:"language" validate:"omitempty,oneof=en cn"`
}

// BatchJobSummary is the per-job slice of a batch creation response.
type BatchJobSummary struct {
	ID     string `json:"id"`
	Ticker string `json:"ticker"`
}

// BatchResponse represents the response for POST /api/jobs/batch.
type BatchResponse struct {
	BatchJobID string            `json:"batchJobId"`
	JobCount   int               `json:"jobCount"`
	Jobs       []BatchJobSummary `json:"jobs"`
}

// BatchStatusResponse represents the response for GET /api/jobs/batch/{id}.
type BatchStatusResponse struct {
	BatchJobID    string       `json:"batchJobId"`
	Tickers       string       `json:"tickers"`
	Language      string       `json:"language"`
	OverallStatus queue.Status `json:"overallStatus"`
	Stats         queue.Stats  `json:"stats"`
	Jobs          []queue.Job  `json:"jobs"`
	CreatedAt     string       `json:"createdAt"`
}

// ListJobsResponse represents the response for GET /api/jobs.
type ListJobsResponse struct {
	Jobs   []queue.Job `json:"jobs"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
	Stats  queue.Stats `json:"stats"`
}

// handleCreateBatch accepts a ticker list and enqueues one job per ticker.
func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}
	if req.Language == "" {
		req.Language = "en"
	}

	sub, err := s.enqueuer.Submit(r.Context(), req.Tickers, req.Language)
	if err != nil {
		if queue.IsValidationError(err) {
			s.errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, "Failed to create batch: "+err.Error())
		return
	}

	jobs := make([]BatchJobSummary, 0, len(sub.Jobs))
	for _, j := range sub.Jobs {
		jobs = append(jobs, BatchJobSummary{ID: j.ID.String(), Ticker: j.Ticker})
	}

	s.jsonResponse(w, http.StatusCreated, BatchResponse{
		BatchJobID: sub.Batch.ID.String(),
		JobCount:   len(jobs),
		Jobs:       jobs,
	})
}

// handleGetBatch returns a batch with its derived overall status, stats,
// and full child jobs.
func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id", "batch job")
	if !ok {
		return
	}

	batch, err := s.store.GetBatch(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if batch == nil {
		s.errorResponse(w, http.StatusNotFound, "Batch job not found")
		return
	}

	jobs, err := s.store.BatchJobs(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}

	statuses := make([]queue.Status, 0, len(jobs))
	for _, j := range jobs {
		statuses = append(statuses, j.Status)
	}

	s.jsonResponse(w, http.StatusOK, BatchStatusResponse{
		BatchJobID:    batch.ID.String(),
		Tickers:       batch.Tickers,
		Language:      batch.Language,
		OverallStatus: queue.AggregateStatus(statuses),
		Stats:         queue.CountStatuses(jobs),
		Jobs:          jobs,
		CreatedAt:     batch.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// handleGetJob returns a single job with its full state, logs included.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id", "job")
	if !ok {
		return
	}

	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}
	if job == nil {
		s.errorResponse(w, http.StatusNotFound, "Job not found")
		return
	}

	s.jsonResponse(w, http.StatusOK, job)
}

// handleListJobs returns a filtered, paginated job listing, newest first.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	filter := queue.ListFilter{Limit: defaultListLimit}
	q := r.URL.Query()

	if raw := q.Get("status"); raw != "" {
		status := queue.Status(raw)
		if !status.Valid() {
			s.errorResponse(w, http.StatusBadRequest, "Invalid status filter: "+raw)
			return
		}
		filter.Status = &status
	}

	if raw := q.Get("batchJobId"); raw != "" {
		batchID, err := uuid.Parse(raw)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, "Invalid batchJobId format")
			return
		}
		filter.BatchID = &batchID
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			s.errorResponse(w, http.StatusBadRequest, "Invalid limit: "+raw)
			return
		}
		filter.Limit = limit
	}

	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			s.errorResponse(w, http.StatusBadRequest, "Invalid offset: "+raw)
			return
		}
		filter.Offset = offset
	}

	listing, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "Database error: "+err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, ListJobsResponse{
		Jobs:   listing.Jobs,
		Total:  listing.Total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
		Stats:  listing.Stats,
	})
}

// pathUUID parses a UUID path segment, writing the error response itself.
func (s *Server) pathUUID(w http.ResponseWriter, r *http.Request, key, what string) (uuid.UUID, bool) {
	raw := r.PathValue(key)
	if raw == "" {
		s.errorResponse(w, http.StatusBadRequest, what+" ID is required")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid "+what+" ID format")
		return uuid.Nil, false
	}
	return id, true
}
