// Package handlers provides HTTP request handlers for the iotaudit API.
// This file exposes the configured cron entries.
package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/anstrom/iotaudit/internal/errors"
	"github.com/anstrom/iotaudit/internal/logging"
	"github.com/anstrom/iotaudit/internal/scheduler"
)

// ScheduleSource lists entries and fires them on demand.
// *scheduler.Scheduler satisfies it.
type ScheduleSource interface {
	Entries() []scheduler.ScheduledJob
	RunNow(name string) error
}

// ScheduleHandler handles schedule endpoints.
type ScheduleHandler struct {
	base
	scheduler ScheduleSource
}

// NewScheduleHandler creates a new schedule handler.
func NewScheduleHandler(s ScheduleSource, logger *logging.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		base:      newBase(logger, "schedule", 0),
		scheduler: s,
	}
}

// ListSchedules handles GET /api/v1/schedules.
func (h *ScheduleHandler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	entries := h.scheduler.Entries()
	writeJSON(w, r, http.StatusOK, ListResponse{Data: entries, Total: len(entries)})
}

// RunSchedule handles POST /api/v1/schedules/{name}/run. The entry runs
// in the background; the response only confirms it was accepted.
func (h *ScheduleHandler) RunSchedule(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	for _, e := range h.scheduler.Entries() {
		if e.Entry.Name != name {
			continue
		}
		go func() {
			if err := h.scheduler.RunNow(name); err != nil {
				h.logger.Warn("Manual schedule run failed", "entry", name, "error", err)
			}
		}()
		writeJSON(w, r, http.StatusAccepted, map[string]string{"entry": name, "status": "triggered"})
		return
	}
	writeError(w, r, http.StatusNotFound, errors.NewConfigFieldError(errors.CodeNotFound, "schedule entry not found", "name", name))
}
