package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/stock-research-agent/internal/queue"
)

type stubWaker struct {
	calls int
}

func (w *stubWaker) Notify() { w.calls++ }

func newTestServer() (*Server, *queue.MemStore, *stubWaker) {
	store := queue.NewMemStore()
	waker := &stubWaker{}
	enqueuer := queue.NewEnqueuer(store, waker)
	srv := New(Config{Port: 0}, store, enqueuer, waker)
	return srv, store, waker
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestCreateBatch(t *testing.T) {
	srv, store, waker := newTestServer()

	rec := doJSON(t, srv, http.MethodPost, "/api/jobs/batch", BatchRequest{Tickers: "AAPL, MSFT"})
	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decodeBody[BatchResponse](t, rec)
	assert.NotEmpty(t, resp.BatchJobID)
	assert.Equal(t, 2, resp.JobCount)
	require.Len(t, resp.Jobs, 2)
	assert.Equal(t, "AAPL", resp.Jobs[0].Ticker)
	assert.Equal(t, "MSFT", resp.Jobs[1].Ticker)
	assert.Equal(t, 1, waker.calls)

	listing, err := store.ListJobs(context.Background(), queue.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, listing.Stats.Pending)
}

func TestCreateBatchValidation(t *testing.T) {
	srv, _, waker := newTestServer()

	tests := []struct {
		name string
		body any
	}{
		{"missing tickers", map[string]string{"language": "en"}},
		{"blank tickers", BatchRequest{Tickers: "  ,, "}},
		{"unsupported language", BatchRequest{Tickers: "AAPL", Language: "fr"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, "/api/jobs/batch", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rec := doJSON(t, srv, http.MethodPost, "/api/jobs/batch", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, waker.calls)
}

func TestCreateBatchDefaultsLanguage(t *testing.T) {
	srv, store, _ := newTestServer()

	rec := doJSON(t, srv, http.MethodPost, "/api/jobs/batch", BatchRequest{Tickers: "AAPL"})
	require.Equal(t, http.StatusCreated, rec.Code)

	listing, err := store.ListJobs(context.Background(), queue.ListFilter{})
	require.NoError(t, err)
	require.Len(t, listing.Jobs, 1)
	assert.Equal(t, "en", listing.Jobs[0].Language)
}

func TestGetBatchStatus(t *testing.T) {
	srv, store, _ := newTestServer()
	ctx := context.Background()

	rec := doJSON(t, srv, http.MethodPost, "/api/jobs/batch", BatchRequest{Tickers: "AAPL,MSFT,GOOG"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[BatchResponse](t, rec)

	// Drive one job to COMPLETED and one to PROCESSING.
	first, err := store.ClaimNextPending(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, store.MarkCompleted(ctx, first.ID, json.RawMessage(`{}`)))
	_, err = store.ClaimNextPending(ctx, 2)
	require.NoError(t, err)

	rec = doJSON(t, srv, http.MethodGet, "/api/jobs/batch/"+created.BatchJobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[BatchStatusResponse](t, rec)
	assert.Equal(t, created.BatchJobID, resp.BatchJobID)
	assert.Equal(t, queue.StatusProcessing, resp.OverallStatus)
	assert.Equal(t, queue.Stats{Total: 3, Pending: 1, Processing: 1, Completed: 1}, resp.Stats)
	assert.Len(t, resp.Jobs, 3)
}

func TestGetBatchNotFound(t *testing.T) {
	srv, _, _ := newTestServer()

	rec := doJSON(t, srv, http.MethodGet, "/api/jobs/batch/b3a9f7e2-4c1d-4f6a-9e8b-2d5c7a1f0e3d", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/jobs/batch/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetJob(t *testing.T) {
	srv, _, _ := newTestServer()

	rec := doJSON(t, srv, http.MethodPost, "/api/jobs/batch", BatchRequest{Tickers: "AAPL"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[BatchResponse](t, rec)

	rec = doJSON(t, srv, http.MethodGet, "/api/jobs/"+created.Jobs[0].ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	job := decodeBody[queue.Job](t, rec)
	assert.Equal(t, "AAPL", job.Ticker)
	assert.Equal(t, queue.StatusPending, job.Status)
}

func TestGetJobNotFound(t *testing.T) {
	srv, _, _ := newTestServer()

	rec := doJSON(t, srv, http.MethodGet, "/api/jobs/b3a9f7e2-4c1d-4f6a-9e8b-2d5c7a1f0e3d", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/api/jobs/garbage", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListJobs(t *testing.T) {
	srv, store, _ := newTestServer()
	ctx := context.Background()

	rec := doJSON(t, srv, http.MethodPost, "/api/jobs/batch", BatchRequest{Tickers: "AAPL,MSFT,GOOG"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[BatchResponse](t, rec)

	first, err := store.ClaimNextPending(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, first.ID, "boom"))

	rec = doJSON(t, srv, http.MethodGet, "/api/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[ListJobsResponse](t, rec)
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, defaultListLimit, resp.Limit)
	assert.Equal(t, queue.Stats{Total: 3, Pending: 2, Failed: 1}, resp.Stats)

	// Status filter.
	rec = doJSON(t, srv, http.MethodGet, "/api/jobs?status=FAILED", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeBody[ListJobsResponse](t, rec)
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, "AAPL", resp.Jobs[0].Ticker)

	// Batch filter.
	rec = doJSON(t, srv, http.MethodGet, "/api/jobs?batchJobId="+created.BatchJobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeBody[ListJobsResponse](t, rec)
	assert.Equal(t, 3, resp.Total)

	// Pagination.
	rec = doJSON(t, srv, http.MethodGet, "/api/jobs?limit=2&offset=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decodeBody[ListJobsResponse](t, rec)
	assert.Len(t, resp.Jobs, 1)
	assert.Equal(t, 2, resp.Limit)
	assert.Equal(t, 2, resp.Offset)
}

func TestListJobsBadParams(t *testing.T) {
	srv, _, _ := newTestServer()

	for _, path := range []string{
		"/api/jobs?status=RUNNING",
		"/api/jobs?limit=0",
		"/api/jobs?limit=abc",
		"/api/jobs?offset=-1",
		"/api/jobs?batchJobId=nope",
	} {
		rec := doJSON(t, srv, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestProcessTrigger(t *testing.T) {
	srv, _, waker := newTestServer()

	rec := doJSON(t, srv, http.MethodPost, "/api/jobs/process", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, waker.calls)
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer()

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
