// Package parser turns raw probe output into structured results. Every
// function here is pure and tolerant: malformed input yields a partial or
// empty result, never an error or a panic.
package parser

// Severity ranks a finding.
type Severity string

// Severity levels from most to least severe.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// DefaultCVSS is the score used when a script reports none.
func (s Severity) DefaultCVSS() float64 {
	switch s {
	case SeverityCritical:
		return 9.0
	case SeverityHigh:
		return 7.0
	case SeverityMedium:
		return 5.0
	default:
		return 3.0
	}
}

// Finding sources.
const (
	SourceScript    = "script"
	SourceHeuristic = "heuristic"
)

// Port is one probed port on a host.
type Port struct {
	Number   int    `json:"number"`
	Protocol string `json:"protocol"`
	State    string `json:"state"`
	Service  string `json:"service,omitempty"`
	Version  string `json:"version,omitempty"`
}

// IsOpen reports whether the probe saw the port open.
func (p Port) IsOpen() bool {
	return p.State == "open"
}

// OSGuess is the best operating system match.
type OSGuess struct {
	Name       string `json:"name"`
	Confidence int    `json:"confidence"`
}

// Finding is a vulnerability observation from a script or a heuristic rule.
type Finding struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Severity    Severity `json:"severity"`
	CVSS        float64  `json:"cvss"`
	Description string   `json:"description"`
	Remediation string   `json:"remediation,omitempty"`
	Source      string   `json:"source"`
	Port        int      `json:"port,omitempty"`
}

// ProbeResult is everything learned about one host from one audit probe.
type ProbeResult struct {
	Host     string    `json:"host"`
	Ports    []Port    `json:"ports"`
	OS       *OSGuess  `json:"os,omitempty"`
	Findings []Finding `json:"findings"`

	// Partial is set when the structured decoder failed and the result
	// came from the permissive fallback.
	Partial bool `json:"partial,omitempty"`
}

// OpenPorts returns the numbers of all open ports in probe order.
func (r *ProbeResult) OpenPorts() []int {
	var out []int
	for _, p := range r.Ports {
		if p.IsOpen() {
			out = append(out, p.Number)
		}
	}
	return out
}

// Services returns the distinct service names of open ports.
func (r *ProbeResult) Services() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range r.Ports {
		if !p.IsOpen() || p.Service == "" || seen[p.Service] {
			continue
		}
		seen[p.Service] = true
		out = append(out, p.Service)
	}
	return out
}

// OSName returns the guessed OS name or an empty string.
func (r *ProbeResult) OSName() string {
	if r.OS == nil {
		return ""
	}
	return r.OS.Name
}

func (r *ProbeResult) addPort(p Port) {
	for _, existing := range r.Ports {
		if existing.Number == p.Number && existing.Protocol == p.Protocol {
			return
		}
	}
	r.Ports = append(r.Ports, p)
}
