// Package heuristics flags common IoT exposures from a device's open ports.
package heuristics

import (
	"github.com/anstrom/iotaudit/internal/parser"
)

// Rule is one port-based check. A rule fires when any of its ports is open.
type Rule struct {
	ID          string
	Title       string
	Severity    parser.Severity
	CVSS        float64
	Description string
	Remediation string
	AnyOf       []int
}

// Rules is the built-in rule table, evaluated in order.
var Rules = []Rule{
	{
		ID:          "IOT-TELNET-001",
		Title:       "Insecure Telnet Service Enabled",
		Severity:    parser.SeverityHigh,
		CVSS:        7.5,
		Description: "Telnet transmits data in cleartext, including passwords. This is a major security risk.",
		Remediation: "Disable Telnet and use SSH with key-based authentication for remote administration.",
		AnyOf:       []int{23},
	},
	{
		ID:          "IOT-HTTP-001",
		Title:       "Unencrypted HTTP Web Interface",
		Severity:    parser.SeverityMedium,
		CVSS:        5.3,
		Description: "Web interface is accessible over unencrypted HTTP, exposing credentials and data.",
		Remediation: "Enable HTTPS on the device and redirect or disable plain HTTP access.",
		AnyOf:       []int{80},
	},
	{
		ID:          "IOT-RTSP-001",
		Title:       "RTSP Stream Potentially Unauthenticated",
		Severity:    parser.SeverityHigh,
		CVSS:        7.0,
		Description: "RTSP streaming port is open. Many IoT cameras have unauthenticated RTSP streams.",
		Remediation: "Require authentication for RTSP streams and restrict access to trusted networks.",
		AnyOf:       []int{554},
	},
	{
		ID:          "IOT-MQTT-001",
		Title:       "Unencrypted MQTT Broker",
		Severity:    parser.SeverityMedium,
		CVSS:        5.9,
		Description: "MQTT broker is accessible without encryption. Should use port 8883 with TLS.",
		Remediation: "Use MQTT over TLS on port 8883 and require client authentication.",
		AnyOf:       []int{1883},
	},
	{
		ID:          "IOT-BACKDOOR-001",
		Title:       "Potential Backdoor Service",
		Severity:    parser.SeverityCritical,
		CVSS:        9.8,
		Description: "Port 9999 is commonly used for backdoors in compromised IoT devices.",
		Remediation: "Identify the listening service, disable it if not required and update the device firmware.",
		AnyOf:       []int{9999},
	},
	{
		ID:          "IOT-CRED-001",
		Title:       "Potentially Using Default Credentials",
		Severity:    parser.SeverityHigh,
		CVSS:        8.0,
		Description: "Device may be using default credentials. Manual verification recommended.",
		Remediation: "Change default passwords to strong unique credentials and disable unused administrative accounts.",
		AnyOf:       []int{80, 443, 8080},
	},
}

// Detector evaluates a rule table against probe results.
type Detector struct {
	rules []Rule
}

// New creates a detector over the built-in rules.
func New() *Detector {
	return &Detector{rules: Rules}
}

// NewWithRules creates a detector over a custom rule table.
func NewWithRules(rules []Rule) *Detector {
	return &Detector{rules: rules}
}

// Detect returns one finding per matching rule, in table order. Only ports
// in the open state are considered.
func (d *Detector) Detect(ports []parser.Port) []parser.Finding {
	open := make(map[int]bool, len(ports))
	for _, p := range ports {
		if p.IsOpen() {
			open[p.Number] = true
		}
	}

	var findings []parser.Finding
	for _, rule := range d.rules {
		port, ok := firstOpen(rule.AnyOf, open)
		if !ok {
			continue
		}
		findings = append(findings, parser.Finding{
			ID:          rule.ID,
			Title:       rule.Title,
			Severity:    rule.Severity,
			CVSS:        rule.CVSS,
			Description: rule.Description,
			Remediation: rule.Remediation,
			Source:      parser.SourceHeuristic,
			Port:        port,
		})
	}
	return findings
}

func firstOpen(candidates []int, open map[int]bool) (int, bool) {
	for _, p := range candidates {
		if open[p] {
			return p, true
		}
	}
	return 0, false
}
