// Package notify delivers scan job lifecycle events to observers such as
// the log, WebSocket clients, or tests.
package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/iotaudit/internal/logging"
	"github.com/anstrom/iotaudit/internal/store"
)

// ProgressEvent is emitted on every phase advance.
type ProgressEvent struct {
	JobID      uuid.UUID          `json:"job_id"`
	DeviceID   uuid.UUID          `json:"device_id"`
	PhaseIndex int                `json:"phase_index"`
	Phase      string             `json:"phase"`
	Progress   int                `json:"progress"`
	Overall    int                `json:"overall_progress"`
	Phases     []store.PhaseState `json:"phases"`
}

// Summary is emitted once when a job completes.
type Summary struct {
	JobID     uuid.UUID          `json:"job_id"`
	DeviceID  uuid.UUID          `json:"device_id"`
	Mode      store.ScanMode     `json:"mode"`
	StartTime time.Time          `json:"start_time"`
	EndTime   time.Time          `json:"end_time"`
	Duration  store.Duration     `json:"duration"`
	Phases    []store.PhaseState `json:"phases"`
	Metadata  map[string]any     `json:"metadata,omitempty"`
}

// Sink receives job events. Implementations must not block for long: calls
// are made while the job's lock is held so events stay ordered.
//
//go:generate mockgen -destination=../mocks/mock_sink.go -package=mocks github.com/anstrom/iotaudit/internal/notify Sink
type Sink interface {
	OnProgress(event ProgressEvent)
	OnCompleted(summary Summary)
	OnFailed(jobID uuid.UUID, reason string)
	OnStopped(jobID uuid.UUID)
}

// OverallProgress averages phase progress into a single percentage.
func OverallProgress(phases []store.PhaseState) int {
	if len(phases) == 0 {
		return 0
	}
	total := 0
	for _, p := range phases {
		total += p.Progress
	}
	return total / len(phases)
}

// Fanout forwards every event to each sink in order.
type Fanout []Sink

var _ Sink = Fanout(nil)

func (f Fanout) OnProgress(event ProgressEvent) {
	for _, s := range f {
		s.OnProgress(event)
	}
}

func (f Fanout) OnCompleted(summary Summary) {
	for _, s := range f {
		s.OnCompleted(summary)
	}
}

func (f Fanout) OnFailed(jobID uuid.UUID, reason string) {
	for _, s := range f {
		s.OnFailed(jobID, reason)
	}
}

func (f Fanout) OnStopped(jobID uuid.UUID) {
	for _, s := range f {
		s.OnStopped(jobID)
	}
}

// Discard drops every event.
type Discard struct{}

var _ Sink = Discard{}

func (Discard) OnProgress(ProgressEvent)   {}
func (Discard) OnCompleted(Summary)        {}
func (Discard) OnFailed(uuid.UUID, string) {}
func (Discard) OnStopped(uuid.UUID)        {}

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *logging.Logger
}

var _ Sink = (*LogSink)(nil)

// NewLogSink creates a sink that logs through logger.
func NewLogSink(logger *logging.Logger) *LogSink {
	return &LogSink{logger: logger.WithComponent("notify")}
}

func (s *LogSink) OnProgress(e ProgressEvent) {
	s.logger.Debug("Scan progress",
		"job_id", e.JobID.String(),
		"phase", e.Phase,
		"phase_index", e.PhaseIndex,
		"progress", e.Progress,
		"overall", e.Overall)
}

func (s *LogSink) OnCompleted(sum Summary) {
	s.logger.InfoScan("Scan completed", sum.JobID.String(),
		"device_id", sum.DeviceID.String(),
		"mode", string(sum.Mode),
		"duration", sum.Duration.Std(),
		"metadata", sum.Metadata)
}

func (s *LogSink) OnFailed(jobID uuid.UUID, reason string) {
	s.logger.Warn("Scan failed", "job_id", jobID.String(), "reason", reason)
}

func (s *LogSink) OnStopped(jobID uuid.UUID) {
	s.logger.InfoScan("Scan stopped", jobID.String())
}
