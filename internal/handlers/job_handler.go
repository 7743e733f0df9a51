package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/jobs"
	"github.com/sramisetty/IDXR-Identity-Resolution-sub001/internal/models"
)

// JobHandler handles job-related API requests
type JobHandler struct {
	manager *jobs.Manager
	logger  arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(manager *jobs.Manager, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		manager: manager,
		logger:  logger,
	}
}

// CreateJobHandler submits a new job
// POST /api/jobs
func (h *JobHandler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req jobs.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.manager.CreateJob(r.Context(), req)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	WriteJSON(w, http.StatusCreated, job)
}

// ListJobsHandler returns a filtered, paginated list of jobs
// GET /api/jobs?limit=50&offset=0&status=completed&type=identity_matching&owner=...
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	opts := jobs.ListOptions{
		Status: models.JobStatus(r.URL.Query().Get("status")),
		Type:   models.JobType(r.URL.Query().Get("type")),
		Owner:  r.URL.Query().Get("owner"),
		Limit:  QueryInt(r, "limit", 50),
		Offset: QueryInt(r, "offset", 0),
	}

	list := h.manager.ListJobs(opts)
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":   list,
		"count":  len(list),
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// JobRoutes dispatches /api/jobs/{id} and its sub-resources
func (h *JobHandler) JobRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		WriteError(w, http.StatusBadRequest, "job id is required")
		return
	}

	jobID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch action {
	case "":
		h.getJob(w, r, jobID)
	case "cancel":
		h.transition(w, r, jobID, h.manager.CancelJob)
	case "pause":
		h.transition(w, r, jobID, h.manager.PauseJob)
	case "resume":
		h.transition(w, r, jobID, h.manager.ResumeJob)
	case "results":
		h.getResults(w, r, jobID)
	case "export":
		h.exportResults(w, r, jobID)
	case "audit":
		h.getAudit(w, r, jobID)
	default:
		WriteError(w, http.StatusNotFound, "unknown job action: "+action)
	}
}

func (h *JobHandler) getJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	job, err := h.manager.GetJob(jobID)
	if err != nil {
		h.writeJobError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

func (h *JobHandler) transition(w http.ResponseWriter, r *http.Request, jobID string, fn func(ctx context.Context, jobID, actor string) error) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	actor := r.URL.Query().Get("actor")
	if err := fn(r.Context(), jobID, actor); err != nil {
		h.writeJobError(w, err)
		return
	}

	job, err := h.manager.GetJob(jobID)
	if err != nil {
		h.writeJobError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

func (h *JobHandler) getResults(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	page, err := h.manager.GetResults(jobID, QueryInt(r, "limit", 100), QueryInt(r, "offset", 0))
	if err != nil {
		h.writeJobError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

func (h *JobHandler) exportResults(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	export, err := h.manager.ExportResults(jobID, r.URL.Query().Get("format"))
	if err != nil {
		h.writeJobError(w, err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName))
	w.WriteHeader(http.StatusOK)
	w.Write(export.Data)
}

func (h *JobHandler) getAudit(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	entries := h.manager.JobAuditTrail(jobID)
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":  jobID,
		"entries": entries,
		"count":   len(entries),
	})
}

// AuditLogHandler queries the global audit log
// GET /api/audit?job_id=...&event=JOB_COMPLETED&limit=100&offset=0
func (h *JobHandler) AuditLogHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	entries := h.manager.AuditTrail(jobs.AuditQuery{
		JobID:  r.URL.Query().Get("job_id"),
		Event:  models.AuditEventType(r.URL.Query().Get("event")),
		Limit:  QueryInt(r, "limit", 100),
		Offset: QueryInt(r, "offset", 0),
	})

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// QueueStatsHandler returns queue backend depth counters
// GET /api/queue/stats
func (h *JobHandler) QueueStatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	stats, err := h.manager.QueueStats(r.Context())
	if err != nil {
		WriteError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

func (h *JobHandler) writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobs.ErrInvalidTransition):
		WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, jobs.ErrNotCompleted):
		WriteError(w, http.StatusConflict, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
