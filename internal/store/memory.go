package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/iotaudit/internal/errors"
)

// Memory is a process-local Store used for development and tests.
// Every read returns a copy so callers cannot mutate stored state.
type Memory struct {
	mu           sync.RWMutex
	devices      map[uuid.UUID]*Device
	jobs         map[uuid.UUID]*Job
	definitions  map[string]*VulnerabilityDefinition
	links        map[uuid.UUID]map[string]*DeviceFinding
	scanFindings map[uuid.UUID][]*ScanFinding
	closed       bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		devices:      make(map[uuid.UUID]*Device),
		jobs:         make(map[uuid.UUID]*Job),
		definitions:  make(map[string]*VulnerabilityDefinition),
		links:        make(map[uuid.UUID]map[string]*DeviceFinding),
		scanFindings: make(map[uuid.UUID][]*ScanFinding),
	}
}

var _ Store = (*Memory)(nil)

func copyDevice(d *Device) *Device {
	c := *d
	c.Ports = append([]int(nil), d.Ports...)
	c.Services = append([]string(nil), d.Services...)
	if d.LastScan != nil {
		t := *d.LastScan
		c.LastScan = &t
	}
	return &c
}

// CreateDevice stores a new device, assigning an ID when missing.
func (m *Memory) CreateDevice(_ context.Context, device *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}
	if _, exists := m.devices[device.ID]; exists {
		return errors.NewDatabaseError(errors.CodeConflict, "Device already exists")
	}
	if device.CreatedAt.IsZero() {
		device.CreatedAt = time.Now().UTC()
	}
	m.devices[device.ID] = copyDevice(device)
	return nil
}

// GetDevice returns a device by ID.
func (m *Memory) GetDevice(_ context.Context, id uuid.UUID) (*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.devices[id]
	if !ok {
		return nil, errors.ErrNotFound("device", id.String())
	}
	return copyDevice(d), nil
}

// GetDeviceByIP returns the first device registered with the address.
func (m *Memory) GetDeviceByIP(_ context.Context, ip string) (*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, d := range m.devices {
		if d.IPAddress == ip {
			return copyDevice(d), nil
		}
	}
	return nil, errors.ErrNotFound("device", ip)
}

// ListDevices returns all devices ordered by name.
func (m *Memory) ListDevices(_ context.Context) ([]*Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, copyDevice(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpdateDeviceSnapshot overwrites what the last scan learned about a device.
func (m *Memory) UpdateDeviceSnapshot(_ context.Context, id uuid.UUID, snap DeviceSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[id]
	if !ok {
		return errors.ErrNotFound("device", id.String())
	}
	d.Ports = append([]int(nil), snap.Ports...)
	d.Services = append([]string(nil), snap.Services...)
	d.OS = snap.OS
	d.VulnerabilityCount = snap.VulnerabilityCount
	last := snap.LastScan
	d.LastScan = &last
	return nil
}

// UpdateDevice applies update and returns the result.
func (m *Memory) UpdateDevice(_ context.Context, id uuid.UUID, update DeviceUpdate) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[id]
	if !ok {
		return nil, errors.ErrNotFound("device", id.String())
	}
	update.Apply(d)
	return copyDevice(d), nil
}

// DeleteDevice removes a device and everything recorded about it.
func (m *Memory) DeleteDevice(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.devices[id]; !ok {
		return errors.ErrNotFound("device", id.String())
	}
	delete(m.devices, id)
	delete(m.links, id)
	for jobID, j := range m.jobs {
		if j.DeviceID == id {
			delete(m.jobs, jobID)
			delete(m.scanFindings, jobID)
		}
	}
	return nil
}

// CreateJob stores a new job snapshot.
func (m *Memory) CreateJob(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[job.ID]; exists {
		return errors.NewDatabaseError(errors.CodeConflict, "Job already exists")
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

// UpdateJob replaces a stored job snapshot.
func (m *Memory) UpdateJob(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[job.ID]; !exists {
		return errors.ErrNotFound("job", job.ID.String())
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

// GetJob returns a job by ID.
func (m *Memory) GetJob(_ context.Context, id uuid.UUID) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, errors.ErrNotFound("job", id.String())
	}
	return j.Clone(), nil
}

// ListJobs returns matching jobs, newest first.
func (m *Memory) ListJobs(_ context.Context, filter JobFilter) ([]*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Job, 0)
	for _, j := range m.jobs {
		if filter.Match(j) {
			out = append(out, j.Clone())
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartTime.After(out[k].StartTime) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// UpsertVulnerabilityDefinition keeps the first definition seen for an ID.
func (m *Memory) UpsertVulnerabilityDefinition(
	_ context.Context, def *VulnerabilityDefinition,
) (*VulnerabilityDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.definitions[def.ID]; ok {
		c := *existing
		return &c, nil
	}
	stored := *def
	if stored.DiscoveredAt.IsZero() {
		stored.DiscoveredAt = time.Now().UTC()
	}
	m.definitions[def.ID] = &stored
	c := stored
	return &c, nil
}

// GetVulnerabilityDefinition returns a definition by its natural ID.
func (m *Memory) GetVulnerabilityDefinition(_ context.Context, id string) (*VulnerabilityDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.definitions[id]
	if !ok {
		return nil, errors.ErrNotFound("vulnerability", id)
	}
	c := *d
	return &c, nil
}

// ListVulnerabilityDefinitions returns matching definitions by CVSS.
func (m *Memory) ListVulnerabilityDefinitions(_ context.Context, filter VulnerabilityFilter) ([]*VulnerabilityDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var linked map[string]bool
	if filter.DeviceName != "" {
		linked = make(map[string]bool)
		for deviceID, byVuln := range m.links {
			d, ok := m.devices[deviceID]
			if !ok || !filter.MatchesDeviceName(d.Name) {
				continue
			}
			for vulnID := range byVuln {
				linked[vulnID] = true
			}
		}
	}

	out := make([]*VulnerabilityDefinition, 0)
	for id, def := range m.definitions {
		if filter.Severity != "" && def.Severity != filter.Severity {
			continue
		}
		if linked != nil && !linked[id] {
			continue
		}
		c := *def
		out = append(out, &c)
	}
	SortDefinitions(out)
	return out, nil
}

// CountVulnerabilitiesBySeverity counts the catalog per severity.
func (m *Memory) CountVulnerabilitiesBySeverity(_ context.Context) (SeverityCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var counts SeverityCounts
	for _, def := range m.definitions {
		counts.Add(def.Severity, 1)
	}
	return counts, nil
}

// LinkFindingToDevice creates or refreshes a device finding.
func (m *Memory) LinkFindingToDevice(_ context.Context, deviceID uuid.UUID, vulnID string, status FindingStatus, at time.Time) error {
	if !status.Valid() {
		return errors.NewDatabaseError(errors.CodeValidation, fmt.Sprintf("invalid finding status %q", status))
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.devices[deviceID]; !ok {
		return errors.ErrNotFound("device", deviceID.String())
	}
	if _, ok := m.definitions[vulnID]; !ok {
		return errors.ErrNotFound("vulnerability", vulnID)
	}

	byVuln, ok := m.links[deviceID]
	if !ok {
		byVuln = make(map[string]*DeviceFinding)
		m.links[deviceID] = byVuln
	}
	if link, exists := byVuln[vulnID]; exists {
		link.DetectedAt = at
		return nil
	}
	byVuln[vulnID] = &DeviceFinding{
		DeviceID:        deviceID,
		VulnerabilityID: vulnID,
		Status:          status,
		DetectedAt:      at,
	}
	return nil
}

// ListDeviceFindings returns a device's links ordered by vulnerability ID.
func (m *Memory) ListDeviceFindings(_ context.Context, deviceID uuid.UUID) ([]*DeviceFinding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*DeviceFinding, 0, len(m.links[deviceID]))
	for _, link := range m.links[deviceID] {
		c := *link
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VulnerabilityID < out[j].VulnerabilityID })
	return out, nil
}

// ListVulnerabilityFindings returns every device link to a definition.
func (m *Memory) ListVulnerabilityFindings(_ context.Context, vulnID string) ([]*DeviceFinding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*DeviceFinding, 0)
	for _, byVuln := range m.links {
		if link, ok := byVuln[vulnID]; ok {
			c := *link
			out = append(out, &c)
		}
	}
	SortLinks(out)
	return out, nil
}

// RecordScanFinding appends a per-job finding record.
func (m *Memory) RecordScanFinding(_ context.Context, finding *ScanFinding) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[finding.JobID]; !ok {
		return errors.ErrNotFound("job", finding.JobID.String())
	}
	c := *finding
	if c.RecordedAt.IsZero() {
		c.RecordedAt = time.Now().UTC()
	}
	m.scanFindings[finding.JobID] = append(m.scanFindings[finding.JobID], &c)
	return nil
}

// ListScanFindings returns the findings recorded by a job in insertion order.
func (m *Memory) ListScanFindings(_ context.Context, jobID uuid.UUID) ([]*ScanFinding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*ScanFinding, 0, len(m.scanFindings[jobID]))
	for _, f := range m.scanFindings[jobID] {
		c := *f
		out = append(out, &c)
	}
	return out, nil
}

// Close marks the store closed. It holds no external resources.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
