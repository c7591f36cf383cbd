package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/maltedev/lmpc-scraper/internal/database"
	"github.com/maltedev/lmpc-scraper/internal/jobs"
	"github.com/maltedev/lmpc-scraper/internal/models"
	"github.com/maltedev/lmpc-scraper/internal/pipeline"
	"github.com/maltedev/lmpc-scraper/internal/storage"
)

// Checker runs the compliance pipeline.
type Checker interface {
	Process(ctx context.Context, url string) (*models.ProductRecord, *models.ValidationReport, error)
	Stats() pipeline.Stats
}

// Backlog reports outbox events waiting to be relayed.
type Backlog interface {
	Backlog(ctx context.Context) (pending, deadLetter int64, err error)
}

// ResultLookup reads results persisted in the database.
type ResultLookup interface {
	Get(ctx context.Context, key string) (*database.ComplianceResult, error)
	ListByStatus(ctx context.Context, status models.OverallStatus, limit int) ([]*database.ComplianceResult, error)
}

type Handlers struct {
	checker Checker
	jobs    *jobs.Manager
	store   *storage.FileStore
	results ResultLookup
	backlog Backlog
	logger  *slog.Logger
}

// NewHandlers wires the API. jobs, store and backlog are optional.
func NewHandlers(checker Checker, jobManager *jobs.Manager, store *storage.FileStore, backlog Backlog, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		checker: checker,
		jobs:    jobManager,
		store:   store,
		backlog: backlog,
		logger:  logger.With("component", "api"),
	}
}

type CheckRequest struct {
	URL string `json:"url"`
}

type CheckResponse struct {
	Key    string                   `json:"key"`
	Record *models.ProductRecord    `json:"record"`
	Report *models.ValidationReport `json:"report"`
}

// WithResults adds the database as a second source for result lookups.
func (h *Handlers) WithResults(results ResultLookup) *Handlers {
	h.results = results
	return h
}

// Check runs the pipeline for one product URL.
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	key, err := pipeline.IdentityKey(req.URL)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	record, report, err := h.checker.Process(r.Context(), req.URL)
	if err != nil {
		if errors.Is(err, pipeline.ErrInvalidURL) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Warn("compliance check aborted", "url", req.URL, "error", err)
		h.respondError(w, http.StatusServiceUnavailable, "compliance check aborted")
		return
	}

	h.respondJSON(w, http.StatusOK, CheckResponse{Key: key, Record: record, Report: report})
}

// GetResult looks up a stored result by product URL (?url=...). The file
// store is consulted before the database.
func (h *Handlers) GetResult(w http.ResponseWriter, r *http.Request) {
	if h.store == nil && h.results == nil {
		h.respondError(w, http.StatusNotImplemented, "result storage is disabled")
		return
	}

	key, err := pipeline.IdentityKey(r.URL.Query().Get("url"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.store != nil {
		if res, ok := h.store.Get(key); ok {
			h.respondJSON(w, http.StatusOK, CheckResponse{Key: res.Key, Record: res.Record, Report: res.Report})
			return
		}
	}

	if h.results != nil {
		res, err := h.results.Get(r.Context(), key)
		if err == nil {
			h.respondJSON(w, http.StatusOK, CheckResponse{Key: res.IdentityKey, Record: res.Record, Report: res.Report})
			return
		}
		if !errors.Is(err, database.ErrResultNotFound) {
			h.logger.Error("failed to get result", "key", key, "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to get result")
			return
		}
	}

	h.respondError(w, http.StatusNotFound, "result not found")
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ListResults returns stored results with one overall status
// (?status=VIOLATION|COMPLIANT, default VIOLATION) up to ?limit=.
func (h *Handlers) ListResults(w http.ResponseWriter, r *http.Request) {
	if h.store == nil && h.results == nil {
		h.respondError(w, http.StatusNotImplemented, "result storage is disabled")
		return
	}

	status := models.StatusViolation
	if s := r.URL.Query().Get("status"); s != "" {
		status = models.OverallStatus(strings.ToUpper(s))
		if status != models.StatusViolation && status != models.StatusCompliant {
			h.respondError(w, http.StatusBadRequest, "status must be COMPLIANT or VIOLATION")
			return
		}
	}

	limit := defaultListLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	out := []CheckResponse{}
	if h.results != nil {
		results, err := h.results.ListByStatus(r.Context(), status, limit)
		if err != nil {
			h.logger.Error("failed to list results", "status", status, "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to list results")
			return
		}
		for _, res := range results {
			out = append(out, CheckResponse{Key: res.IdentityKey, Record: res.Record, Report: res.Report})
		}
	} else {
		for _, res := range h.store.List() {
			if res.Report == nil || res.Report.OverallStatus != status {
				continue
			}
			out = append(out, CheckResponse{Key: res.Key, Record: res.Record, Report: res.Report})
			if len(out) == limit {
				break
			}
		}
	}

	h.respondJSON(w, http.StatusOK, out)
}

type CreateJobRequest struct {
	URLs     []string `json:"urls"`
	Priority int      `json:"priority"`
}

func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		h.respondError(w, http.StatusNotImplemented, "batch jobs are disabled")
		return
	}

	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.jobs.CreateJob(req.URLs, req.Priority)
	if err != nil {
		if errors.Is(err, jobs.ErrNoURLs) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to create job", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	h.respondJSON(w, http.StatusCreated, job)
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		h.respondError(w, http.StatusNotImplemented, "batch jobs are disabled")
		return
	}

	job, err := h.jobs.GetJob(chi.URLParam(r, "jobID"))
	if err != nil {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	h.respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		h.respondJSON(w, http.StatusOK, []*jobs.Job{})
		return
	}
	h.respondJSON(w, http.StatusOK, h.jobs.ListJobs())
}

type StatsResponse struct {
	Pipeline pipeline.Stats  `json:"pipeline"`
	Jobs     map[string]int  `json:"jobs,omitempty"`
	Stored   map[string]int  `json:"stored,omitempty"`
	Outbox   *BacklogSummary `json:"outbox,omitempty"`
}

type BacklogSummary struct {
	Pending    int64 `json:"pending"`
	DeadLetter int64 `json:"dead_letter"`
}

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Pipeline: h.checker.Stats()}
	if h.jobs != nil {
		resp.Jobs = h.jobs.Stats()
	}
	if h.store != nil {
		resp.Stored = h.store.GetStats()
	}
	if h.backlog != nil {
		pending, dead, err := h.backlog.Backlog(r.Context())
		if err != nil {
			h.logger.Error("failed to get outbox backlog", "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to get stats")
			return
		}
		resp.Outbox = &BacklogSummary{Pending: pending, DeadLetter: dead}
	}

	h.respondJSON(w, http.StatusOK, resp)
}

const (
	pendingWarnThreshold     = 1000
	deadLetterErrorThreshold = 100
)

// Health reports ok unless the outbox backlog has grown past its thresholds.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	if h.backlog != nil {
		pending, dead, err := h.backlog.Backlog(r.Context())
		if err != nil {
			health["status"] = "error"
			health["message"] = "outbox unavailable"
			h.respondJSON(w, http.StatusServiceUnavailable, health)
			return
		}
		health["outbox"] = BacklogSummary{Pending: pending, DeadLetter: dead}

		if pending > pendingWarnThreshold {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if dead > deadLetterErrorThreshold {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
