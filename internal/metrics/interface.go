package metrics

import "time"

// Recorder is the set of observations the engine, discovery and API make.
// PrometheusMetrics implements it; Noop discards everything.
type Recorder interface {
	ScanStarted(mode string)
	ScanFinished(mode, status string, duration time.Duration)
	PhaseCompleted(mode, phase string)
	FindingRecorded(source, severity string)
	ProbeExecuted(kind, result string, duration time.Duration)
	DiscoveryFinished(status string, hostsByType map[string]int, duration time.Duration)
	HTTPRequest(method, route string, status int, duration time.Duration)
}

// Noop is a Recorder that does nothing.
type Noop struct{}

var _ Recorder = Noop{}

func (Noop) ScanStarted(string)                                      {}
func (Noop) ScanFinished(string, string, time.Duration)              {}
func (Noop) PhaseCompleted(string, string)                           {}
func (Noop) FindingRecorded(string, string)                          {}
func (Noop) ProbeExecuted(string, string, time.Duration)             {}
func (Noop) DiscoveryFinished(string, map[string]int, time.Duration) {}
func (Noop) HTTPRequest(string, string, int, time.Duration)          {}

// OrNoop returns r, or Noop when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return Noop{}
	}
	return r
}
