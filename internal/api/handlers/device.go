// Package handlers provides HTTP request handlers for the iotaudit API.
// This file implements device registration, editing and removal, and the
// per-device finding view.
package handlers

import (
	"net/http"
	"time"

	"github.com/anstrom/iotaudit/internal/errors"
	"github.com/anstrom/iotaudit/internal/logging"
	"github.com/anstrom/iotaudit/internal/store"
)

// ActiveScans lists the jobs that are still running.
type ActiveScans interface {
	Active() []*store.Job
}

// DeviceHandler handles device endpoints.
type DeviceHandler struct {
	base
	store  store.Store
	active ActiveScans
}

// NewDeviceHandler creates a new device handler. Devices with a running
// scan in active cannot be deleted.
func NewDeviceHandler(st store.Store, active ActiveScans, logger *logging.Logger, maxRequestSize int64) *DeviceHandler {
	return &DeviceHandler{
		base:   newBase(logger, "device", maxRequestSize),
		store:  st,
		active: active,
	}
}

// DeviceRequest registers a device.
type DeviceRequest struct {
	Name      string `json:"name" validate:"required,max=255"`
	IPAddress string `json:"ip_address" validate:"required,ip"`
	Type      string `json:"type,omitempty" validate:"omitempty,max=64"`
}

// UpdateDeviceRequest edits a device. Omitted fields are kept.
type UpdateDeviceRequest struct {
	Name      *string `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	IPAddress *string `json:"ip_address,omitempty" validate:"omitempty,ip"`
	Type      *string `json:"type,omitempty" validate:"omitempty,max=64"`
}

// FindingResponse is a device finding joined with its definition.
type FindingResponse struct {
	VulnerabilityID string              `json:"vulnerability_id"`
	Title           string              `json:"title"`
	Severity        string              `json:"severity"`
	CVSS            float64             `json:"cvss"`
	Description     string              `json:"description,omitempty"`
	Remediation     string              `json:"remediation,omitempty"`
	Status          store.FindingStatus `json:"status"`
	DetectedAt      time.Time           `json:"detected_at"`
}

// CreateDevice handles POST /api/v1/devices.
func (h *DeviceHandler) CreateDevice(w http.ResponseWriter, r *http.Request) {
	var req DeviceRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	existing, err := h.store.GetDeviceByIP(r.Context(), req.IPAddress)
	switch {
	case err == nil:
		writeError(w, r, http.StatusConflict, errors.NewConfigFieldError(errors.CodeConflict,
			"device already registered as "+existing.ID.String(), "ip_address", req.IPAddress))
		return
	case !errors.IsCode(err, errors.CodeNotFound):
		h.writeServiceError(w, r, "lookup device", err)
		return
	}

	device := &store.Device{Name: req.Name, IPAddress: req.IPAddress, Type: req.Type}
	if device.Type == "" {
		device.Type = "unknown"
	}
	if err := h.store.CreateDevice(r.Context(), device); err != nil {
		h.writeServiceError(w, r, "create device", err)
		return
	}
	h.logger.Info("Device registered", "device_id", device.ID.String(), "address", device.IPAddress)
	writeJSON(w, r, http.StatusCreated, device)
}

// ListDevices handles GET /api/v1/devices.
func (h *DeviceHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.store.ListDevices(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "list devices", err)
		return
	}
	if devices == nil {
		devices = []*store.Device{}
	}
	writeJSON(w, r, http.StatusOK, ListResponse{Data: devices, Total: len(devices)})
}

// GetDevice handles GET /api/v1/devices/{id}.
func (h *DeviceHandler) GetDevice(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	device, err := h.store.GetDevice(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "get device", err)
		return
	}
	writeJSON(w, r, http.StatusOK, device)
}

// UpdateDevice handles PUT /api/v1/devices/{id}.
func (h *DeviceHandler) UpdateDevice(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	var req UpdateDeviceRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	if req.IPAddress != nil {
		existing, err := h.store.GetDeviceByIP(r.Context(), *req.IPAddress)
		switch {
		case err == nil && existing.ID != id:
			writeError(w, r, http.StatusConflict, errors.NewConfigFieldError(errors.CodeConflict,
				"device already registered as "+existing.ID.String(), "ip_address", *req.IPAddress))
			return
		case err != nil && !errors.IsCode(err, errors.CodeNotFound):
			h.writeServiceError(w, r, "lookup device", err)
			return
		}
	}

	device, err := h.store.UpdateDevice(r.Context(), id, store.DeviceUpdate{
		Name:      req.Name,
		IPAddress: req.IPAddress,
		Type:      req.Type,
	})
	if err != nil {
		h.writeServiceError(w, r, "update device", err)
		return
	}
	h.logger.Info("Device updated", "device_id", device.ID.String(), "address", device.IPAddress)
	writeJSON(w, r, http.StatusOK, device)
}

// DeleteDevice handles DELETE /api/v1/devices/{id}. It removes the device
// with its scan history and refuses while a scan of it is running.
func (h *DeviceHandler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if h.active != nil {
		for _, job := range h.active.Active() {
			if job.DeviceID == id {
				writeError(w, r, http.StatusConflict, errors.NewScanErrorWithTarget(errors.CodeConflict,
					"device has a running scan "+job.ID.String(), id.String()))
				return
			}
		}
	}
	if err := h.store.DeleteDevice(r.Context(), id); err != nil {
		h.writeServiceError(w, r, "delete device", err)
		return
	}
	h.logger.Info("Device deleted", "device_id", id.String())
	w.WriteHeader(http.StatusNoContent)
}

// GetDeviceFindings handles GET /api/v1/devices/{id}/findings.
func (h *DeviceHandler) GetDeviceFindings(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if _, err := h.store.GetDevice(r.Context(), id); err != nil {
		h.writeServiceError(w, r, "get device", err)
		return
	}

	links, err := h.store.ListDeviceFindings(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "list device findings", err)
		return
	}

	out := make([]FindingResponse, 0, len(links))
	for _, link := range links {
		resp := FindingResponse{
			VulnerabilityID: link.VulnerabilityID,
			Status:          link.Status,
			DetectedAt:      link.DetectedAt,
		}
		def, err := h.store.GetVulnerabilityDefinition(r.Context(), link.VulnerabilityID)
		switch {
		case err == nil:
			resp.Title = def.Title
			resp.Severity = def.Severity
			resp.CVSS = def.CVSS
			resp.Description = def.Description
			resp.Remediation = def.Remediation
		case !errors.IsCode(err, errors.CodeNotFound):
			h.writeServiceError(w, r, "get vulnerability", err)
			return
		}
		out = append(out, resp)
	}
	writeJSON(w, r, http.StatusOK, ListResponse{Data: out, Total: len(out)})
}
