// Package handlers provides HTTP request handlers for the iotaudit API.
// This file implements the on-demand subnet sweep endpoint.
package handlers

import (
	"context"
	"net/http"

	"github.com/anstrom/iotaudit/internal/discovery"
	"github.com/anstrom/iotaudit/internal/logging"
)

// Discoverer runs a subnet sweep. *discovery.Service satisfies it.
type Discoverer interface {
	Discover(ctx context.Context, subnet string) (*discovery.Result, error)
}

// DiscoveryHandler handles discovery endpoints.
type DiscoveryHandler struct {
	base
	discovery Discoverer
}

// NewDiscoveryHandler creates a new discovery handler.
func NewDiscoveryHandler(disc Discoverer, logger *logging.Logger, maxRequestSize int64) *DiscoveryHandler {
	return &DiscoveryHandler{
		base:      newBase(logger, "discovery", maxRequestSize),
		discovery: disc,
	}
}

// DiscoveryRequest sweeps one subnet.
type DiscoveryRequest struct {
	Subnet string `json:"subnet" validate:"required,max=64"`
}

// DiscoveryResponse is a finished sweep with per-type counts.
type DiscoveryResponse struct {
	*discovery.Result
	Counts map[string]int `json:"counts"`
}

// Discover handles POST /api/v1/discovery. The sweep runs in the request
// and its result is returned directly.
func (h *DiscoveryHandler) Discover(w http.ResponseWriter, r *http.Request) {
	var req DiscoveryRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	result, err := h.discovery.Discover(r.Context(), req.Subnet)
	if err != nil {
		h.writeServiceError(w, r, "discover", err)
		return
	}
	if result.Hosts == nil {
		result.Hosts = []discovery.Host{}
	}
	writeJSON(w, r, http.StatusOK, DiscoveryResponse{Result: result, Counts: result.CountByType()})
}
