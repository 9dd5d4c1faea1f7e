// Package handlers provides HTTP request handlers for the iotaudit API.
// This file implements scan job endpoints: start, stop, list and fetch
// jobs together with the findings each job recorded.
package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/anstrom/iotaudit/internal/errors"
	"github.com/anstrom/iotaudit/internal/logging"
	"github.com/anstrom/iotaudit/internal/store"
)

const defaultListLimit = 100

// ScanEngine is the part of *scanning.Engine the scan endpoints use.
type ScanEngine interface {
	Start(ctx context.Context, deviceID uuid.UUID, mode store.ScanMode) (*store.Job, error)
	Stop(ctx context.Context, jobID uuid.UUID) (*store.Job, error)
	Get(ctx context.Context, jobID uuid.UUID) (*store.Job, error)
	List(ctx context.Context, filter store.JobFilter) ([]*store.Job, error)
}

// ScanFindingLister returns the findings a job recorded.
type ScanFindingLister interface {
	ListScanFindings(ctx context.Context, jobID uuid.UUID) ([]*store.ScanFinding, error)
}

// ScanHandler handles scan-related API endpoints.
type ScanHandler struct {
	base
	engine   ScanEngine
	findings ScanFindingLister
}

// NewScanHandler creates a new scan handler.
func NewScanHandler(engine ScanEngine, findings ScanFindingLister, logger *logging.Logger, maxRequestSize int64) *ScanHandler {
	return &ScanHandler{
		base:     newBase(logger, "scan", maxRequestSize),
		engine:   engine,
		findings: findings,
	}
}

// StartScanRequest starts a scan of one device. Mode defaults to simulated.
type StartScanRequest struct {
	DeviceID string `json:"device_id" validate:"required,uuid"`
	Mode     string `json:"mode,omitempty" validate:"omitempty,oneof=simulated real"`
}

// StartScan handles POST /api/v1/scans.
func (h *ScanHandler) StartScan(w http.ResponseWriter, r *http.Request) {
	var req StartScanRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	mode := store.ModeSimulated
	if req.Mode != "" {
		mode = store.ScanMode(req.Mode)
	}

	job, err := h.engine.Start(r.Context(), uuid.MustParse(req.DeviceID), mode)
	if err != nil {
		h.writeServiceError(w, r, "start scan", err)
		return
	}
	w.Header().Set("Location", "/api/v1/scans/"+job.ID.String())
	writeJSON(w, r, http.StatusAccepted, job)
}

// ListScans handles GET /api/v1/scans. It accepts device_id, status and
// limit query parameters.
func (h *ScanHandler) ListScans(w http.ResponseWriter, r *http.Request) {
	filter, err := scanFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	jobs, err := h.engine.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, "list scans", err)
		return
	}
	if jobs == nil {
		jobs = []*store.Job{}
	}
	writeJSON(w, r, http.StatusOK, ListResponse{Data: jobs, Total: len(jobs)})
}

func scanFilter(r *http.Request) (store.JobFilter, error) {
	q := r.URL.Query()
	var filter store.JobFilter

	if raw := q.Get("device_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, errors.NewConfigFieldError(errors.CodeValidation, "invalid device_id", "device_id", raw)
		}
		filter.DeviceID = id
	}
	if raw := q.Get("status"); raw != "" {
		status := store.JobStatus(raw)
		switch status {
		case store.JobRunning, store.JobCompleted, store.JobFailed, store.JobStopped:
			filter.Status = status
		default:
			return filter, errors.NewConfigFieldError(errors.CodeValidation, "invalid status", "status", raw)
		}
	}

	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		return filter, err
	}
	filter.Limit = limit
	return filter, nil
}

// GetScan handles GET /api/v1/scans/{id}.
func (h *ScanHandler) GetScan(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	job, err := h.engine.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "get scan", err)
		return
	}
	writeJSON(w, r, http.StatusOK, job)
}

// StopScan handles POST /api/v1/scans/{id}/stop.
func (h *ScanHandler) StopScan(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	job, err := h.engine.Stop(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "stop scan", err)
		return
	}
	writeJSON(w, r, http.StatusOK, job)
}

// GetScanFindings handles GET /api/v1/scans/{id}/findings.
func (h *ScanHandler) GetScanFindings(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if _, err := h.engine.Get(r.Context(), id); err != nil {
		h.writeServiceError(w, r, "get scan", err)
		return
	}

	findings, err := h.findings.ListScanFindings(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "list scan findings", err)
		return
	}
	if findings == nil {
		findings = []*store.ScanFinding{}
	}
	writeJSON(w, r, http.StatusOK, ListResponse{Data: findings, Total: len(findings)})
}
