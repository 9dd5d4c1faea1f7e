// Package handlers provides HTTP request handlers for the iotaudit API.
// This file implements health, liveness and version endpoints.
package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/anstrom/iotaudit/internal/logging"
)

const healthCheckTimeout = 5 * time.Second

// Status constants.
const (
	StatusHealthy       = "healthy"
	StatusDegraded      = "degraded"
	StatusUnhealthy     = "unhealthy"
	StatusNotConfigured = "not configured"
)

// DatabasePinger defines the interface for database health checking.
type DatabasePinger interface {
	Ping(ctx context.Context) error
}

// ToolChecker reports whether the probing tool can be executed.
type ToolChecker interface {
	IsAvailable(ctx context.Context) bool
}

// StatsProvider exposes engine counters.
type StatsProvider interface {
	Stats() map[string]interface{}
}

// HealthHandler handles health check and status endpoints.
type HealthHandler struct {
	base
	database  DatabasePinger
	tool      ToolChecker
	engine    StatsProvider
	startTime time.Time
}

// NewHealthHandler creates a new health handler. Any dependency may be
// nil and is then reported as not configured.
func NewHealthHandler(database DatabasePinger, tool ToolChecker, engine StatsProvider, logger *logging.Logger) *HealthHandler {
	return &HealthHandler{
		base:      newBase(logger, "health", 0),
		database:  database,
		tool:      tool,
		engine:    engine,
		startTime: time.Now(),
	}
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]string      `json:"checks"`
	Engine    map[string]interface{} `json:"engine,omitempty"`
}

// VersionResponse represents version information.
type VersionResponse struct {
	Version   string    `json:"version"`
	Commit    string    `json:"commit"`
	BuildTime string    `json:"build_time"`
	GoVersion string    `json:"go_version"`
	Timestamp time.Time `json:"timestamp"`
}

// Health handles GET /api/v1/health. A failing database makes the service
// unhealthy; a missing probing tool only degrades it since simulated
// scans still work.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	response := HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).String(),
		Checks:    make(map[string]string),
	}

	if h.database != nil {
		if err := h.database.Ping(ctx); err != nil {
			response.Status = StatusUnhealthy
			response.Checks["database"] = "failed: " + err.Error()
			h.logger.Warn("Database health check failed", "error", err)
		} else {
			response.Checks["database"] = "ok"
		}
	} else {
		response.Checks["database"] = StatusNotConfigured
	}

	switch {
	case h.tool == nil:
		response.Checks["nmap"] = StatusNotConfigured
	case h.tool.IsAvailable(ctx):
		response.Checks["nmap"] = "ok"
	default:
		response.Checks["nmap"] = "unavailable"
		if response.Status == StatusHealthy {
			response.Status = StatusDegraded
		}
	}

	if h.engine != nil {
		response.Engine = h.engine.Stats()
		if healthy, ok := response.Engine["is_healthy"].(bool); ok && !healthy && response.Status == StatusHealthy {
			response.Status = StatusDegraded
		}
	}

	statusCode := http.StatusOK
	if response.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, r, statusCode, response)
}

// Liveness handles GET /api/v1/liveness without checking dependencies.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
	})
}

// Version handles GET /api/v1/version.
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, VersionResponse{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
		Timestamp: time.Now().UTC(),
	})
}

// Build information, set via ldflags through SetBuildInfo.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// SetBuildInfo sets build information (called by main package).
func SetBuildInfo(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
}
