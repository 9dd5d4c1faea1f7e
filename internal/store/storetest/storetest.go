// Package storetest holds behaviour tests shared by every store.Store backend.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/iotaudit/internal/errors"
	"github.com/anstrom/iotaudit/internal/store"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run exercises the full store.Store contract against a backend.
func Run(t *testing.T, newStore Factory) {
	t.Run("devices", func(t *testing.T) { testDevices(t, newStore(t)) })
	t.Run("jobs", func(t *testing.T) { testJobs(t, newStore(t)) })
	t.Run("definitions are deduplicated", func(t *testing.T) { testDefinitions(t, newStore(t)) })
	t.Run("findings link once per device", func(t *testing.T) { testLinks(t, newStore(t)) })
	t.Run("scan findings", func(t *testing.T) { testScanFindings(t, newStore(t)) })
	t.Run("link status is set on creation", func(t *testing.T) { testLinkStatus(t, newStore(t)) })
	t.Run("update device", func(t *testing.T) { testUpdateDevice(t, newStore(t)) })
	t.Run("delete device cascades", func(t *testing.T) { testDeleteDevice(t, newStore(t)) })
	t.Run("vulnerability catalog", func(t *testing.T) { testCatalog(t, newStore(t)) })
}

func newDevice(name, ip string) *store.Device {
	return &store.Device{Name: name, IPAddress: ip, Type: "camera"}
}

func testDevices(t *testing.T, s store.Store) {
	ctx := context.Background()

	cam := newDevice("front-door", "192.168.1.20")
	require.NoError(t, s.CreateDevice(ctx, cam))
	require.NotEqual(t, uuid.Nil, cam.ID)

	got, err := s.GetDevice(ctx, cam.ID)
	require.NoError(t, err)
	assert.Equal(t, "front-door", got.Name)
	assert.Equal(t, "192.168.1.20", got.IPAddress)
	assert.Nil(t, got.LastScan)

	byIP, err := s.GetDeviceByIP(ctx, "192.168.1.20")
	require.NoError(t, err)
	assert.Equal(t, cam.ID, byIP.ID)

	_, err = s.GetDevice(ctx, uuid.New())
	assert.True(t, errors.IsCode(err, errors.CodeNotFound), "got %v", err)

	scanned := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateDeviceSnapshot(ctx, cam.ID, store.DeviceSnapshot{
		Ports:              []int{80, 554},
		Services:           []string{"http", "rtsp"},
		OS:                 "Linux 4.x",
		VulnerabilityCount: 3,
		LastScan:           scanned,
	}))

	got, err = s.GetDevice(ctx, cam.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{80, 554}, got.Ports)
	assert.Equal(t, []string{"http", "rtsp"}, got.Services)
	assert.Equal(t, "Linux 4.x", got.OS)
	assert.Equal(t, 3, got.VulnerabilityCount)
	require.NotNil(t, got.LastScan)
	assert.True(t, scanned.Equal(*got.LastScan))

	err = s.UpdateDeviceSnapshot(ctx, uuid.New(), store.DeviceSnapshot{})
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))

	require.NoError(t, s.CreateDevice(ctx, newDevice("alpha-sensor", "192.168.1.30")))
	all, err := s.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alpha-sensor", all[0].Name)
}

func newJob(deviceID uuid.UUID, start time.Time) *store.Job {
	return &store.Job{
		ID:        uuid.New(),
		DeviceID:  deviceID,
		Mode:      store.ModeSimulated,
		Status:    store.JobRunning,
		StartTime: start,
		Phases: []store.PhaseState{
			{Name: "Network Discovery", Status: store.PhaseRunning},
			{Name: "Port Scanning", Status: store.PhasePending},
		},
	}
}

func testJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	dev := newDevice("hub", "10.0.0.2")
	require.NoError(t, s.CreateDevice(ctx, dev))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := newJob(dev.ID, base)
	second := newJob(dev.ID, base.Add(time.Minute))
	other := newJob(uuid.New(), base.Add(2*time.Minute))

	for _, j := range []*store.Job{first, second, other} {
		require.NoError(t, s.CreateJob(ctx, j))
	}

	first.Phases[0] = store.PhaseState{Name: "Network Discovery", Progress: 100, Status: store.PhaseCompleted,
		Elapsed: store.Duration(3 * time.Second)}
	first.Phases[1].Status = store.PhaseRunning
	end := base.Add(6 * time.Second)
	first.Status = store.JobCompleted
	first.EndTime = &end
	first.Duration = store.Duration(6 * time.Second)
	first.Result = map[string]any{"portsFound": float64(2)}
	require.NoError(t, s.UpdateJob(ctx, first))

	got, err := s.GetJob(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobCompleted, got.Status)
	assert.Equal(t, 100, got.Phases[0].Progress)
	assert.Equal(t, store.PhaseCompleted, got.Phases[0].Status)
	assert.Equal(t, store.Duration(3*time.Second), got.Phases[0].Elapsed)
	assert.Equal(t, store.Duration(6*time.Second), got.Duration)
	require.NotNil(t, got.EndTime)
	assert.True(t, end.Equal(*got.EndTime))
	assert.Equal(t, float64(2), got.Result["portsFound"])

	_, err = s.GetJob(ctx, uuid.New())
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))

	missing := newJob(dev.ID, base)
	assert.True(t, errors.IsCode(s.UpdateJob(ctx, missing), errors.CodeNotFound))

	jobs, err := s.ListJobs(ctx, store.JobFilter{DeviceID: dev.ID})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID, "newest first")

	running, err := s.ListJobs(ctx, store.JobFilter{Status: store.JobRunning})
	require.NoError(t, err)
	assert.Len(t, running, 2)

	limited, err := s.ListJobs(ctx, store.JobFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, other.ID, limited[0].ID)
}

func testDefinitions(t *testing.T, s store.Store) {
	ctx := context.Background()

	first, err := s.UpsertVulnerabilityDefinition(ctx, &store.VulnerabilityDefinition{
		ID: "CVE-2021-36260", Title: "Hikvision command injection", Severity: "critical", CVSS: 9.8,
		Impact: store.DefaultImpact, Remediation: store.DefaultRemediation,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hikvision command injection", first.Title)
	assert.False(t, first.DiscoveredAt.IsZero())

	again, err := s.UpsertVulnerabilityDefinition(ctx, &store.VulnerabilityDefinition{
		ID: "CVE-2021-36260", Title: "different title", Severity: "low", CVSS: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hikvision command injection", again.Title, "existing definition is reused")
	assert.Equal(t, 9.8, again.CVSS)

	got, err := s.GetVulnerabilityDefinition(ctx, "CVE-2021-36260")
	require.NoError(t, err)
	assert.Equal(t, "critical", got.Severity)

	_, err = s.GetVulnerabilityDefinition(ctx, "CVE-0000-0000")
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func testLinks(t *testing.T, s store.Store) {
	ctx := context.Background()

	a := newDevice("cam-a", "10.0.0.10")
	b := newDevice("cam-b", "10.0.0.11")
	require.NoError(t, s.CreateDevice(ctx, a))
	require.NoError(t, s.CreateDevice(ctx, b))

	_, err := s.UpsertVulnerabilityDefinition(ctx, &store.VulnerabilityDefinition{
		ID: "IOT-TELNET-001", Title: "Insecure Telnet Service Enabled", Severity: "high", CVSS: 7.5,
	})
	require.NoError(t, err)

	t1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	require.NoError(t, s.LinkFindingToDevice(ctx, a.ID, "IOT-TELNET-001", store.FindingOpen, t1))
	require.NoError(t, s.LinkFindingToDevice(ctx, b.ID, "IOT-TELNET-001", store.FindingOpen, t1))
	require.NoError(t, s.LinkFindingToDevice(ctx, a.ID, "IOT-TELNET-001", store.FindingOpen, t2))

	linksA, err := s.ListDeviceFindings(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, linksA, 1)
	assert.Equal(t, store.FindingOpen, linksA[0].Status)
	assert.True(t, t2.Equal(linksA[0].DetectedAt), "re-detection refreshes the timestamp")

	linksB, err := s.ListDeviceFindings(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, linksB, 1)
	assert.True(t, t1.Equal(linksB[0].DetectedAt))

	empty, err := s.ListDeviceFindings(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testScanFindings(t *testing.T, s store.Store) {
	ctx := context.Background()
	dev := newDevice("plug", "10.0.0.40")
	require.NoError(t, s.CreateDevice(ctx, dev))
	job := newJob(dev.ID, time.Now().UTC())
	require.NoError(t, s.CreateJob(ctx, job))

	_, err := s.UpsertVulnerabilityDefinition(ctx, &store.VulnerabilityDefinition{ID: "IOT-HTTP-001", Severity: "medium"})
	require.NoError(t, err)
	_, err = s.UpsertVulnerabilityDefinition(ctx, &store.VulnerabilityDefinition{ID: "IOT-CRED-001", Severity: "high"})
	require.NoError(t, err)

	require.NoError(t, s.RecordScanFinding(ctx, &store.ScanFinding{JobID: job.ID, VulnerabilityID: "IOT-HTTP-001",
		Details: "Port 80 open"}))
	require.NoError(t, s.RecordScanFinding(ctx, &store.ScanFinding{JobID: job.ID, VulnerabilityID: "IOT-CRED-001"}))

	got, err := s.ListScanFindings(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "IOT-HTTP-001", got[0].VulnerabilityID)
	assert.Equal(t, "Port 80 open", got[0].Details)
	assert.Equal(t, "IOT-CRED-001", got[1].VulnerabilityID)
}

func testLinkStatus(t *testing.T, s store.Store) {
	ctx := context.Background()
	dev := newDevice("nvr", "10.0.0.50")
	require.NoError(t, s.CreateDevice(ctx, dev))
	_, err := s.UpsertVulnerabilityDefinition(ctx, &store.VulnerabilityDefinition{ID: "IOT-CRED-001", Severity: "high"})
	require.NoError(t, err)

	t1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.LinkFindingToDevice(ctx, dev.ID, "IOT-CRED-001", store.FindingMitigated, t1))
	require.NoError(t, s.LinkFindingToDevice(ctx, dev.ID, "IOT-CRED-001", store.FindingOpen, t1.Add(time.Hour)))

	links, err := s.ListDeviceFindings(ctx, dev.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, store.FindingMitigated, links[0].Status, "re-detection keeps the recorded status")
	assert.True(t, t1.Add(time.Hour).Equal(links[0].DetectedAt))

	err = s.LinkFindingToDevice(ctx, dev.ID, "IOT-CRED-001", "ignored", t1)
	assert.True(t, errors.IsCode(err, errors.CodeValidation), "got %v", err)
}

func testUpdateDevice(t *testing.T, s store.Store) {
	ctx := context.Background()
	dev := newDevice("thermostat", "10.0.0.60")
	require.NoError(t, s.CreateDevice(ctx, dev))

	name, kind := "hallway thermostat", "sensor"
	got, err := s.UpdateDevice(ctx, dev.ID, store.DeviceUpdate{Name: &name, Type: &kind})
	require.NoError(t, err)
	assert.Equal(t, "hallway thermostat", got.Name)
	assert.Equal(t, "sensor", got.Type)
	assert.Equal(t, "10.0.0.60", got.IPAddress, "unset fields are kept")

	ip := "10.0.0.61"
	_, err = s.UpdateDevice(ctx, dev.ID, store.DeviceUpdate{IPAddress: &ip})
	require.NoError(t, err)
	byIP, err := s.GetDeviceByIP(ctx, "10.0.0.61")
	require.NoError(t, err)
	assert.Equal(t, dev.ID, byIP.ID)
	assert.Equal(t, "hallway thermostat", byIP.Name)

	_, err = s.UpdateDevice(ctx, uuid.New(), store.DeviceUpdate{Name: &name})
	assert.True(t, errors.IsCode(err, errors.CodeNotFound), "got %v", err)
}

func testDeleteDevice(t *testing.T, s store.Store) {
	ctx := context.Background()
	gone := newDevice("old-cam", "10.0.0.70")
	kept := newDevice("new-cam", "10.0.0.71")
	require.NoError(t, s.CreateDevice(ctx, gone))
	require.NoError(t, s.CreateDevice(ctx, kept))
	_, err := s.UpsertVulnerabilityDefinition(ctx, &store.VulnerabilityDefinition{ID: "IOT-HTTP-001", Severity: "medium"})
	require.NoError(t, err)

	now := time.Now().UTC()
	goneJob, keptJob := newJob(gone.ID, now), newJob(kept.ID, now)
	require.NoError(t, s.CreateJob(ctx, goneJob))
	require.NoError(t, s.CreateJob(ctx, keptJob))
	for _, j := range []*store.Job{goneJob, keptJob} {
		require.NoError(t, s.RecordScanFinding(ctx, &store.ScanFinding{JobID: j.ID, VulnerabilityID: "IOT-HTTP-001"}))
	}
	require.NoError(t, s.LinkFindingToDevice(ctx, gone.ID, "IOT-HTTP-001", store.FindingOpen, now))
	require.NoError(t, s.LinkFindingToDevice(ctx, kept.ID, "IOT-HTTP-001", store.FindingOpen, now))

	require.NoError(t, s.DeleteDevice(ctx, gone.ID))

	_, err = s.GetDevice(ctx, gone.ID)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
	_, err = s.GetJob(ctx, goneJob.ID)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
	findings, err := s.ListScanFindings(ctx, goneJob.ID)
	require.NoError(t, err)
	assert.Empty(t, findings)

	links, err := s.ListVulnerabilityFindings(ctx, "IOT-HTTP-001")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, kept.ID, links[0].DeviceID)
	findings, err = s.ListScanFindings(ctx, keptJob.ID)
	require.NoError(t, err)
	assert.Len(t, findings, 1)
	_, err = s.GetVulnerabilityDefinition(ctx, "IOT-HTTP-001")
	assert.NoError(t, err, "definitions outlive devices")

	err = s.DeleteDevice(ctx, gone.ID)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound), "got %v", err)
}

func testCatalog(t *testing.T, s store.Store) {
	ctx := context.Background()
	cam := newDevice("Front Door Camera", "10.0.0.80")
	plug := newDevice("kitchen plug", "10.0.0.81")
	require.NoError(t, s.CreateDevice(ctx, cam))
	require.NoError(t, s.CreateDevice(ctx, plug))

	for _, def := range []*store.VulnerabilityDefinition{
		{ID: "IOT-HTTP-001", Severity: "medium", CVSS: 5.3},
		{ID: "CVE-2021-36260", Severity: "critical", CVSS: 9.8},
		{ID: "IOT-TELNET-001", Severity: "high", CVSS: 7.5},
		{ID: "IOT-CRED-001", Severity: "high", CVSS: 7.5},
		{ID: "IOT-MQTT-001", Severity: "low", CVSS: 3.1},
	} {
		_, err := s.UpsertVulnerabilityDefinition(ctx, def)
		require.NoError(t, err)
	}
	t1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.LinkFindingToDevice(ctx, cam.ID, "CVE-2021-36260", store.FindingOpen, t1))
	require.NoError(t, s.LinkFindingToDevice(ctx, cam.ID, "IOT-TELNET-001", store.FindingOpen, t1))
	require.NoError(t, s.LinkFindingToDevice(ctx, plug.ID, "IOT-TELNET-001", store.FindingPatched, t1.Add(time.Hour)))

	ids := func(defs []*store.VulnerabilityDefinition) []string {
		out := make([]string, 0, len(defs))
		for _, d := range defs {
			out = append(out, d.ID)
		}
		return out
	}

	all, err := s.ListVulnerabilityDefinitions(ctx, store.VulnerabilityFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"CVE-2021-36260", "IOT-CRED-001", "IOT-TELNET-001", "IOT-HTTP-001", "IOT-MQTT-001"}, ids(all))

	high, err := s.ListVulnerabilityDefinitions(ctx, store.VulnerabilityFilter{Severity: "high"})
	require.NoError(t, err)
	assert.Equal(t, []string{"IOT-CRED-001", "IOT-TELNET-001"}, ids(high))

	onCam, err := s.ListVulnerabilityDefinitions(ctx, store.VulnerabilityFilter{DeviceName: "door CAM"})
	require.NoError(t, err)
	assert.Equal(t, []string{"CVE-2021-36260", "IOT-TELNET-001"}, ids(onCam))

	both, err := s.ListVulnerabilityDefinitions(ctx, store.VulnerabilityFilter{Severity: "high", DeviceName: "plug"})
	require.NoError(t, err)
	assert.Equal(t, []string{"IOT-TELNET-001"}, ids(both))

	none, err := s.ListVulnerabilityDefinitions(ctx, store.VulnerabilityFilter{DeviceName: "fridge"})
	require.NoError(t, err)
	assert.Empty(t, none)

	links, err := s.ListVulnerabilityFindings(ctx, "IOT-TELNET-001")
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, plug.ID, links[0].DeviceID, "newest detection first")
	assert.Equal(t, store.FindingPatched, links[0].Status)
	assert.Equal(t, cam.ID, links[1].DeviceID)

	counts, err := s.CountVulnerabilitiesBySeverity(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.SeverityCounts{Total: 5, Critical: 1, High: 2, Medium: 1, Low: 1}, counts)
}
