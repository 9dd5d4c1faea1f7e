// Package handlers provides HTTP request handlers for the iotaudit API.
// This file implements the read-only vulnerability catalog.
package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/anstrom/iotaudit/internal/errors"
	"github.com/anstrom/iotaudit/internal/logging"
	"github.com/anstrom/iotaudit/internal/store"
)

var severities = map[string]bool{"critical": true, "high": true, "medium": true, "low": true}

// VulnerabilityHandler serves the vulnerability catalog.
type VulnerabilityHandler struct {
	base
	store store.Store
}

// NewVulnerabilityHandler creates a new vulnerability handler.
func NewVulnerabilityHandler(st store.Store, logger *logging.Logger) *VulnerabilityHandler {
	return &VulnerabilityHandler{
		base:  newBase(logger, "vulnerability", 0),
		store: st,
	}
}

// AffectedDevice is one device a vulnerability was found on.
type AffectedDevice struct {
	DeviceID   uuid.UUID           `json:"device_id"`
	Name       string              `json:"name"`
	IPAddress  string              `json:"ip_address"`
	Status     store.FindingStatus `json:"status"`
	DetectedAt time.Time           `json:"detected_at"`
}

// VulnerabilityResponse is a definition with the devices it affects.
type VulnerabilityResponse struct {
	*store.VulnerabilityDefinition
	Devices []AffectedDevice `json:"devices"`
}

// ListVulnerabilities handles GET /api/v1/vulnerabilities. It accepts
// severity and device (a case-insensitive device name fragment) query
// parameters.
func (h *VulnerabilityHandler) ListVulnerabilities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.VulnerabilityFilter{Severity: q.Get("severity"), DeviceName: q.Get("device")}
	if filter.Severity != "" && !severities[filter.Severity] {
		writeError(w, r, http.StatusBadRequest, errors.NewConfigFieldError(errors.CodeValidation,
			"severity must be one of critical, high, medium, low", "severity", filter.Severity))
		return
	}

	defs, err := h.store.ListVulnerabilityDefinitions(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, "list vulnerabilities", err)
		return
	}
	out := make([]VulnerabilityResponse, 0, len(defs))
	for _, def := range defs {
		devices, err := h.affectedDevices(r, def.ID)
		if err != nil {
			h.writeServiceError(w, r, "list affected devices", err)
			return
		}
		out = append(out, VulnerabilityResponse{VulnerabilityDefinition: def, Devices: devices})
	}
	writeJSON(w, r, http.StatusOK, ListResponse{Data: out, Total: len(out)})
}

// GetVulnerability handles GET /api/v1/vulnerabilities/{id}.
func (h *VulnerabilityHandler) GetVulnerability(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	def, err := h.store.GetVulnerabilityDefinition(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "get vulnerability", err)
		return
	}
	devices, err := h.affectedDevices(r, id)
	if err != nil {
		h.writeServiceError(w, r, "list affected devices", err)
		return
	}
	writeJSON(w, r, http.StatusOK, VulnerabilityResponse{VulnerabilityDefinition: def, Devices: devices})
}

// VulnerabilityStats handles GET /api/v1/vulnerabilities/stats.
func (h *VulnerabilityHandler) VulnerabilityStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.CountVulnerabilitiesBySeverity(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "count vulnerabilities", err)
		return
	}
	writeJSON(w, r, http.StatusOK, counts)
}

// affectedDevices joins the links of one definition with their devices.
// Links whose device disappeared meanwhile are skipped.
func (h *VulnerabilityHandler) affectedDevices(r *http.Request, vulnID string) ([]AffectedDevice, error) {
	links, err := h.store.ListVulnerabilityFindings(r.Context(), vulnID)
	if err != nil {
		return nil, err
	}
	out := make([]AffectedDevice, 0, len(links))
	for _, link := range links {
		device, err := h.store.GetDevice(r.Context(), link.DeviceID)
		if errors.IsCode(err, errors.CodeNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, AffectedDevice{
			DeviceID:   device.ID,
			Name:       device.Name,
			IPAddress:  device.IPAddress,
			Status:     link.Status,
			DetectedAt: link.DetectedAt,
		})
	}
	return out, nil
}
