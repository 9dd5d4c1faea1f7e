package store

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a scan job.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobStopped   JobStatus = "stopped"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobStopped
}

// PhaseStatus is the state of a single phase within a job.
type PhaseStatus string

const (
	PhasePending   PhaseStatus = "pending"
	PhaseRunning   PhaseStatus = "running"
	PhaseCompleted PhaseStatus = "completed"
)

// ScanMode selects how a job is driven.
type ScanMode string

const (
	ModeSimulated ScanMode = "simulated"
	ModeReal      ScanMode = "real"
)

// Valid reports whether the mode is known.
func (m ScanMode) Valid() bool {
	return m == ModeSimulated || m == ModeReal
}

// PhaseState tracks progress through one named phase.
type PhaseState struct {
	Name     string      `json:"name"`
	Progress int         `json:"progress"`
	Status   PhaseStatus `json:"status"`
	Elapsed  Duration    `json:"elapsed"`

	// set when the phase starts running
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Job is a persisted scan job. The scanning package owns the live copy;
// everything handed to storage and observers is a snapshot.
type Job struct {
	ID        uuid.UUID      `json:"id"`
	DeviceID  uuid.UUID      `json:"device_id"`
	Mode      ScanMode       `json:"mode"`
	Status    JobStatus      `json:"status"`
	Phases    []PhaseState   `json:"phases"`
	StartTime time.Time      `json:"start_time"`
	EndTime   *time.Time     `json:"end_time,omitempty"`
	Duration  Duration       `json:"duration"`
	Error     string         `json:"error,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Phases = make([]PhaseState, len(j.Phases))
	for i, p := range j.Phases {
		if p.StartedAt != nil {
			t := *p.StartedAt
			p.StartedAt = &t
		}
		c.Phases[i] = p
	}
	if j.EndTime != nil {
		t := *j.EndTime
		c.EndTime = &t
	}
	if j.Result != nil {
		c.Result = make(map[string]any, len(j.Result))
		for k, v := range j.Result {
			c.Result[k] = v
		}
	}
	return &c
}

// CurrentPhase returns the index of the running phase, or -1.
func (j *Job) CurrentPhase() int {
	for i, p := range j.Phases {
		if p.Status == PhaseRunning {
			return i
		}
	}
	return -1
}

// Device is an audited network device.
type Device struct {
	ID                 uuid.UUID  `json:"id"`
	Name               string     `json:"name"`
	IPAddress          string     `json:"ip_address"`
	Type               string     `json:"type"`
	Ports              []int      `json:"ports"`
	Services           []string   `json:"services"`
	OS                 string     `json:"os,omitempty"`
	VulnerabilityCount int        `json:"vulnerability_count"`
	LastScan           *time.Time `json:"last_scan,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// DeviceSnapshot is what a completed real scan learned about a device.
type DeviceSnapshot struct {
	Ports              []int
	Services           []string
	OS                 string
	VulnerabilityCount int
	LastScan           time.Time
}

// Default text stored on definitions created from scan output.
const (
	DefaultImpact      = "Detected during automated scan"
	DefaultRemediation = "Review vulnerability details and apply recommended fixes"
)

// VulnerabilityDefinition is a catalog entry keyed by a natural identifier
// such as a CVE id or a heuristic rule id.
type VulnerabilityDefinition struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Severity     string    `json:"severity"`
	CVSS         float64   `json:"cvss"`
	Description  string    `json:"description"`
	Impact       string    `json:"impact"`
	Remediation  string    `json:"remediation"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// FindingStatus tracks remediation of a vulnerability on one device.
type FindingStatus string

const (
	FindingOpen      FindingStatus = "open"
	FindingPatched   FindingStatus = "patched"
	FindingMitigated FindingStatus = "mitigated"
)

// Valid reports whether s is a known status.
func (s FindingStatus) Valid() bool {
	return s == FindingOpen || s == FindingPatched || s == FindingMitigated
}

// DeviceFinding links a device to a vulnerability definition.
type DeviceFinding struct {
	DeviceID        uuid.UUID     `json:"device_id"`
	VulnerabilityID string        `json:"vulnerability_id"`
	Status          FindingStatus `json:"status"`
	DetectedAt      time.Time     `json:"detected_at"`
}

// ScanFinding records that a specific job observed a vulnerability.
type ScanFinding struct {
	JobID           uuid.UUID `json:"job_id"`
	VulnerabilityID string    `json:"vulnerability_id"`
	Details         string    `json:"details"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// JobFilter narrows ListJobs. Zero values match everything.
type JobFilter struct {
	DeviceID uuid.UUID
	Status   JobStatus
	Limit    int
}

// Match reports whether a job passes the filter, ignoring Limit.
func (f JobFilter) Match(j *Job) bool {
	if f.DeviceID != uuid.Nil && j.DeviceID != f.DeviceID {
		return false
	}
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	return true
}

// DeviceUpdate edits a device's registration. Nil fields are left alone.
type DeviceUpdate struct {
	Name      *string
	IPAddress *string
	Type      *string
}

// Apply copies the set fields onto d.
func (u DeviceUpdate) Apply(d *Device) {
	if u.Name != nil {
		d.Name = *u.Name
	}
	if u.IPAddress != nil {
		d.IPAddress = *u.IPAddress
	}
	if u.Type != nil {
		d.Type = *u.Type
	}
}

// VulnerabilityFilter narrows a catalog listing. Zero fields match all.
type VulnerabilityFilter struct {
	Severity string
	// DeviceName matches definitions linked to a device whose name
	// contains it, ignoring case.
	DeviceName string
}

// MatchesDeviceName reports whether name satisfies the DeviceName filter.
func (f VulnerabilityFilter) MatchesDeviceName(name string) bool {
	return strings.Contains(strings.ToLower(name), strings.ToLower(f.DeviceName))
}

// SortDefinitions orders definitions by CVSS, highest first, then by ID.
func SortDefinitions(defs []*VulnerabilityDefinition) {
	sort.SliceStable(defs, func(i, j int) bool {
		if defs[i].CVSS != defs[j].CVSS {
			return defs[i].CVSS > defs[j].CVSS
		}
		return defs[i].ID < defs[j].ID
	})
}

// SortLinks orders links newest detection first, then by device.
func SortLinks(links []*DeviceFinding) {
	sort.SliceStable(links, func(i, j int) bool {
		if !links[i].DetectedAt.Equal(links[j].DetectedAt) {
			return links[i].DetectedAt.After(links[j].DetectedAt)
		}
		return links[i].DeviceID.String() < links[j].DeviceID.String()
	})
}

// SeverityCounts is the size of the vulnerability catalog per severity.
type SeverityCounts struct {
	Total    int `json:"total"`
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
}

// Add counts n definitions of severity. Unknown severities only add to
// the total.
func (c *SeverityCounts) Add(severity string, n int) {
	c.Total += n
	switch severity {
	case "critical":
		c.Critical += n
	case "high":
		c.High += n
	case "medium":
		c.Medium += n
	case "low":
		c.Low += n
	}
}
