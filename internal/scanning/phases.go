package scanning

import (
	"time"

	"github.com/anstrom/iotaudit/internal/store"
)

// SimulatedPhases are the phases of a simulated scan, in order.
var SimulatedPhases = []string{
	"Network Discovery",
	"Port Scanning",
	"Service Detection",
	"Firmware Analysis",
	"Network Traffic Analysis",
	"CVE Matching",
}

// Real scan phase indexes.
const (
	phaseInitializing = iota
	phaseDiscovery
	phasePortScan
	phaseServiceDetection
	phaseOSFingerprint
	phaseVulnDetection
	phaseAnalysis
)

// RealPhases are the phases of a real scan, in order.
var RealPhases = []string{
	phaseInitializing:     "Initializing Scanner",
	phaseDiscovery:        "Network Discovery",
	phasePortScan:         "Port Scanning (nmap)",
	phaseServiceDetection: "Service Detection",
	phaseOSFingerprint:    "OS Fingerprinting",
	phaseVulnDetection:    "Vulnerability Detection",
	phaseAnalysis:         "Analyzing Results",
}

// PhasesFor returns the phase names for a scan mode.
func PhasesFor(mode store.ScanMode) []string {
	if mode == store.ModeReal {
		return RealPhases
	}
	return SimulatedPhases
}

// newPhaseStates builds the initial phase list: the first phase running
// at 0, the rest pending.
func newPhaseStates(names []string, now time.Time) []store.PhaseState {
	phases := make([]store.PhaseState, len(names))
	for i, name := range names {
		phases[i] = store.PhaseState{Name: name, Status: store.PhasePending}
	}
	if len(phases) > 0 {
		started := now
		phases[0].Status = store.PhaseRunning
		phases[0].StartedAt = &started
	}
	return phases
}
