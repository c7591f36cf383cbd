package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/maltedev/lmpc-scraper/internal/database"
	"github.com/maltedev/lmpc-scraper/internal/jobs"
	"github.com/maltedev/lmpc-scraper/internal/models"
	"github.com/maltedev/lmpc-scraper/internal/pipeline"
	"github.com/maltedev/lmpc-scraper/internal/queue"
	"github.com/maltedev/lmpc-scraper/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	err   error
	calls int
}

func (c *fakeChecker) Process(_ context.Context, url string) (*models.ProductRecord, *models.ValidationReport, error) {
	c.calls++
	if c.err != nil {
		return nil, nil, c.err
	}
	if _, err := pipeline.IdentityKey(url); err != nil {
		return nil, nil, err
	}
	record := models.NewProductRecord(url, "generic")
	report := &models.ValidationReport{OverallStatus: models.StatusCompliant, TotalRules: 10}
	record.ApplyReport(report)
	return record, report, nil
}

func (c *fakeChecker) Stats() pipeline.Stats {
	return pipeline.Stats{Processed: int64(c.calls)}
}

type fakeBacklog struct {
	pending, dead int64
	err           error
}

func (b fakeBacklog) Backlog(context.Context) (int64, int64, error) {
	return b.pending, b.dead, b.err
}

type fakeResults struct {
	byKey map[string]*database.ComplianceResult
	err   error
}

func (f fakeResults) Get(_ context.Context, key string) (*database.ComplianceResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	res, ok := f.byKey[key]
	if !ok {
		return nil, database.ErrResultNotFound
	}
	return res, nil
}

func (f fakeResults) ListByStatus(_ context.Context, status models.OverallStatus, limit int) ([]*database.ComplianceResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*database.ComplianceResult
	for _, res := range f.byKey {
		if res.Report.OverallStatus == status && len(out) < limit {
			out = append(out, res)
		}
	}
	return out, nil
}

func dbResult(key, title string, status models.OverallStatus) *database.ComplianceResult {
	record := models.NewProductRecord(key, "generic")
	record.Title = title
	return &database.ComplianceResult{
		IdentityKey: key,
		Record:      record,
		Report:      &models.ValidationReport{OverallStatus: status},
	}
}

func newTestRouter(t *testing.T, checker Checker, backlog Backlog) (http.Handler, *storage.FileStore, *jobs.Manager) {
	t.Helper()
	store, err := storage.NewFileStore(filepath.Join(t.TempDir(), "results.json"))
	require.NoError(t, err)
	manager := jobs.NewManager(queue.NewInMemoryQueue(0), checker, nil, nil)
	h := NewHandlers(checker, manager, store, backlog, nil)
	return NewRouter(h, []string{"*"}, 0), store, manager
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		checkerErr error
		status     int
	}{
		{"valid url", CheckRequest{URL: "https://shop.example/p/1?ref=x"}, nil, http.StatusOK},
		{"malformed body", "{", nil, http.StatusBadRequest},
		{"missing url", CheckRequest{}, nil, http.StatusBadRequest},
		{"unsupported scheme", CheckRequest{URL: "ftp://shop.example/p/1"}, nil, http.StatusBadRequest},
		{"cancelled", CheckRequest{URL: "https://shop.example/p/1"}, context.Canceled, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _, _ := newTestRouter(t, &fakeChecker{err: tt.checkerErr}, nil)
			rec := do(t, router, http.MethodPost, "/api/v1/compliance/check", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			if tt.status == http.StatusOK {
				var resp CheckResponse
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
				assert.Equal(t, "https://shop.example/p/1", resp.Key)
				assert.Equal(t, models.StatusCompliant, resp.Report.OverallStatus)
				assert.Equal(t, 100.0, resp.Record.ComplianceScore)
			}
		})
	}
}

func TestGetResult(t *testing.T) {
	router, store, _ := newTestRouter(t, &fakeChecker{}, nil)

	record := models.NewProductRecord("https://shop.example/p/1", "generic")
	record.Title = "Assam Tea"
	report := &models.ValidationReport{OverallStatus: models.StatusViolation}
	require.NoError(t, store.Save(context.Background(), "https://shop.example/p/1", record, report))

	rec := do(t, router, http.MethodGet, "/api/v1/compliance/results?url=https://SHOP.example/p/1%3Fref%3Dmail", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp CheckResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "Assam Tea", resp.Record.Title)

	rec = do(t, router, http.MethodGet, "/api/v1/compliance/results?url=https://shop.example/p/2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/v1/compliance/results", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobs(t *testing.T) {
	router, _, _ := newTestRouter(t, &fakeChecker{}, nil)

	rec := do(t, router, http.MethodPost, "/api/v1/compliance/jobs", CreateJobRequest{URLs: []string{"https://shop.example/p/1", "https://shop.example/p/2"}})
	require.Equal(t, http.StatusCreated, rec.Code)
	var job jobs.Job
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&job))
	assert.Equal(t, 2, job.Total)
	assert.Equal(t, jobs.StatusPending, job.Status)

	rec = do(t, router, http.MethodGet, "/api/v1/compliance/jobs/"+job.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/api/v1/compliance/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []jobs.Job
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Len(t, list, 1)

	rec = do(t, router, http.MethodGet, "/api/v1/compliance/jobs/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/v1/compliance/jobs", CreateJobRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats(t *testing.T) {
	checker := &fakeChecker{}
	router, _, _ := newTestRouter(t, checker, fakeBacklog{pending: 3, dead: 1})

	do(t, router, http.MethodPost, "/api/v1/compliance/check", CheckRequest{URL: "https://shop.example/p/1"})

	rec := do(t, router, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, int64(1), resp.Pipeline.Processed)
	assert.Equal(t, 0, resp.Jobs["total"])
	require.NotNil(t, resp.Outbox)
	assert.Equal(t, int64(3), resp.Outbox.Pending)
	assert.Equal(t, int64(1), resp.Outbox.DeadLetter)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		backlog Backlog
		status  int
		health  string
	}{
		{"no outbox", nil, http.StatusOK, "ok"},
		{"healthy outbox", fakeBacklog{pending: 10}, http.StatusOK, "ok"},
		{"pending backlog", fakeBacklog{pending: 5000}, http.StatusOK, "warning"},
		{"dead letters", fakeBacklog{dead: 500}, http.StatusServiceUnavailable, "error"},
		{"outbox down", fakeBacklog{err: errors.New("db down")}, http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _, _ := newTestRouter(t, &fakeChecker{}, tt.backlog)
			rec := do(t, router, http.MethodGet, "/health", nil)
			assert.Equal(t, tt.status, rec.Code)

			var body map[string]any
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.health, body["status"])
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router, _, _ := newTestRouter(t, &fakeChecker{}, nil)
	do(t, router, http.MethodGet, "/health", nil)

	rec := do(t, router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestGetResultFallsBackToDatabase(t *testing.T) {
	store, err := storage.NewFileStore(filepath.Join(t.TempDir(), "results.json"))
	require.NoError(t, err)
	results := fakeResults{byKey: map[string]*database.ComplianceResult{
		"https://shop.example/p/9": dbResult("https://shop.example/p/9", "Basmati Rice", models.StatusCompliant),
	}}
	router := NewRouter(NewHandlers(&fakeChecker{}, nil, store, nil, nil).WithResults(results), []string{"*"}, 0)

	rec := do(t, router, http.MethodGet, "/api/v1/compliance/results?url=https://shop.example/p/9", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp CheckResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "Basmati Rice", resp.Record.Title)

	rec = do(t, router, http.MethodGet, "/api/v1/compliance/results?url=https://shop.example/p/10", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	broken := NewHandlers(&fakeChecker{}, nil, nil, nil, nil).WithResults(fakeResults{err: errors.New("db down")})
	rec = do(t, NewRouter(broken, []string{"*"}, 0), http.MethodGet, "/api/v1/compliance/results?url=https://shop.example/p/9", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListResults(t *testing.T) {
	router, store, _ := newTestRouter(t, &fakeChecker{}, nil)
	for i, status := range []models.OverallStatus{models.StatusViolation, models.StatusCompliant, models.StatusViolation} {
		key := "https://shop.example/p/" + string(rune('a'+i))
		record := models.NewProductRecord(key, "generic")
		require.NoError(t, store.Save(context.Background(), key, record, &models.ValidationReport{OverallStatus: status}))
	}

	tests := []struct {
		name   string
		query  string
		status int
		keys   []string
	}{
		{"default violations", "", http.StatusOK, []string{"https://shop.example/p/a", "https://shop.example/p/c"}},
		{"compliant", "?status=compliant", http.StatusOK, []string{"https://shop.example/p/b"}},
		{"limited", "?limit=1", http.StatusOK, []string{"https://shop.example/p/a"}},
		{"bad status", "?status=UNKNOWN", http.StatusBadRequest, nil},
		{"bad limit", "?limit=0", http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodGet, "/api/v1/compliance/results/list"+tt.query, nil)
			require.Equal(t, tt.status, rec.Code)
			if tt.status != http.StatusOK {
				return
			}
			var resp []CheckResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			keys := make([]string, len(resp))
			for i, r := range resp {
				keys[i] = r.Key
			}
			assert.Equal(t, tt.keys, keys)
		})
	}
}

func TestListResultsFromDatabase(t *testing.T) {
	results := fakeResults{byKey: map[string]*database.ComplianceResult{
		"https://shop.example/p/1": dbResult("https://shop.example/p/1", "Assam Tea", models.StatusViolation),
	}}
	router := NewRouter(NewHandlers(&fakeChecker{}, nil, nil, nil, nil).WithResults(results), []string{"*"}, 0)

	rec := do(t, router, http.MethodGet, "/api/v1/compliance/results/list?status=VIOLATION", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp []CheckResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "Assam Tea", resp[0].Record.Title)
}
