package db

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/iotaudit/internal/errors"
	"github.com/anstrom/iotaudit/internal/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	return NewStore(&DB{DB: sqlx.NewDb(mockDB, "postgres")}), mock
}

var deviceCols = []string{
	"id", "name", "ip_address", "type", "ports", "services", "os",
	"vulnerability_count", "last_scan", "created_at",
}

var jobCols = []string{
	"id", "device_id", "mode", "status", "phases", "start_time", "end_time",
	"duration_ms", "error_message", "result",
}

func TestStore_CreateDevice(t *testing.T) {
	s, mock := newMockStore(t)
	dev := &store.Device{Name: "cam", IPAddress: "192.168.1.20", Ports: []int{554}}

	mock.ExpectExec("INSERT INTO devices").
		WithArgs(sqlmock.AnyArg(), "cam", "192.168.1.20", "unknown",
			pq.Int64Array{554}, pq.StringArray{}, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.CreateDevice(context.Background(), dev))
	assert.NotEqual(t, uuid.Nil, dev.ID)
	assert.Equal(t, "unknown", dev.Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetDevice(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	scanned := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT (.+) FROM devices WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(deviceCols).AddRow(
			id.String(), "cam", "192.168.1.20", "camera", []byte("{80,554}"), []byte("{http,rtsp}"), "Linux",
			2, scanned, scanned))

	dev, err := s.GetDevice(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, dev.ID)
	assert.Equal(t, []int{80, 554}, dev.Ports)
	assert.Equal(t, []string{"http", "rtsp"}, dev.Services)
	assert.Equal(t, 2, dev.VulnerabilityCount)
	require.NotNil(t, dev.LastScan)
	assert.True(t, scanned.Equal(*dev.LastScan))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetDeviceNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM devices WHERE ip_address").
		WithArgs("10.9.9.9").
		WillReturnRows(sqlmock.NewRows(deviceCols))

	_, err := s.GetDeviceByIP(context.Background(), "10.9.9.9")
	assert.True(t, errors.IsCode(err, errors.CodeNotFound), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateDeviceSnapshot(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	snap := store.DeviceSnapshot{Ports: []int{23}, Services: []string{"telnet"}, VulnerabilityCount: 1, LastScan: time.Now()}

	mock.ExpectExec("UPDATE devices").
		WithArgs(id, pq.Int64Array{23}, pq.StringArray{"telnet"}, "", 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.UpdateDeviceSnapshot(context.Background(), id, snap))

	mock.ExpectExec("UPDATE devices").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := s.UpdateDeviceSnapshot(context.Background(), uuid.New(), snap)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_JobRoundTrip(t *testing.T) {
	s, mock := newMockStore(t)
	start := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	end := start.Add(18 * time.Second)
	job := &store.Job{
		ID:        uuid.New(),
		DeviceID:  uuid.New(),
		Mode:      store.ModeSimulated,
		Status:    store.JobCompleted,
		StartTime: start,
		EndTime:   &end,
		Duration:  store.Duration(18 * time.Second),
		Phases:    []store.PhaseState{{Name: "CVE Matching", Progress: 100, Status: store.PhaseCompleted}},
		Result:    map[string]any{"portsFound": 0},
	}

	mock.ExpectExec("INSERT INTO scan_jobs").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.CreateJob(context.Background(), job))

	mock.ExpectExec("UPDATE scan_jobs").
		WithArgs("completed", sqlmock.AnyArg(), sqlmock.AnyArg(), int64(18000), "", sqlmock.AnyArg(), job.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.UpdateJob(context.Background(), job))

	mock.ExpectQuery(`SELECT (.+) FROM scan_jobs WHERE id = \$1`).
		WithArgs(job.ID).
		WillReturnRows(sqlmock.NewRows(jobCols).AddRow(
			job.ID.String(), job.DeviceID.String(), "simulated", "completed",
			[]byte(`[{"name":"CVE Matching","progress":100,"status":"completed","elapsed":3}]`),
			start, end, int64(18000), "", []byte(`{"portsFound":0}`)))

	got, err := s.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobCompleted, got.Status)
	assert.Equal(t, store.Duration(18*time.Second), got.Duration)
	require.Len(t, got.Phases, 1)
	assert.Equal(t, store.Duration(3*time.Second), got.Phases[0].Elapsed)
	assert.Equal(t, float64(0), got.Result["portsFound"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateMissingJob(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE scan_jobs").WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateJob(context.Background(), &store.Job{ID: uuid.New(), Status: store.JobRunning})
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestStore_ListJobsFilters(t *testing.T) {
	s, mock := newMockStore(t)
	deviceID := uuid.New()

	mock.ExpectQuery(`SELECT (.+) FROM scan_jobs WHERE device_id = \$1 AND status = \$2 ORDER BY start_time DESC LIMIT \$3`).
		WithArgs(deviceID, "running", 5).
		WillReturnRows(sqlmock.NewRows(jobCols).AddRow(
			uuid.NewString(), deviceID.String(), "real", "running", []byte(`[]`),
			time.Now(), nil, int64(0), "", nil))

	jobs, err := s.ListJobs(context.Background(), store.JobFilter{DeviceID: deviceID, Status: store.JobRunning, Limit: 5})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Nil(t, jobs[0].EndTime)
	assert.Nil(t, jobs[0].Result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildWhereClause(t *testing.T) {
	where, args := buildWhereClause(nil)
	assert.Empty(t, where)
	assert.Nil(t, args)

	where, args = buildWhereClause([]filterCondition{{"a", 1}, {"b", "x"}})
	assert.Equal(t, " WHERE a = $1 AND b = $2", where)
	assert.Equal(t, []interface{}{1, "x"}, args)
}

func TestStore_UpsertVulnerabilityDefinition(t *testing.T) {
	s, mock := newMockStore(t)
	discovered := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO vulnerabilities (.+) ON CONFLICT \(id\) DO NOTHING`).
		WithArgs("IOT-TELNET-001", "Insecure Telnet Service Enabled", "high", 7.5,
			sqlmock.AnyArg(), store.DefaultImpact, store.DefaultRemediation, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT (.+) FROM vulnerabilities WHERE id = \$1`).
		WithArgs("IOT-TELNET-001").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "title", "severity", "cvss", "description", "impact", "remediation", "discovered_at",
		}).AddRow("IOT-TELNET-001", "Insecure Telnet Service Enabled", "high", 7.5, "first seen",
			store.DefaultImpact, store.DefaultRemediation, discovered))

	got, err := s.UpsertVulnerabilityDefinition(context.Background(), &store.VulnerabilityDefinition{
		ID: "IOT-TELNET-001", Title: "Insecure Telnet Service Enabled", Severity: "high", CVSS: 7.5,
		Description: "second sighting", Impact: store.DefaultImpact, Remediation: store.DefaultRemediation,
	})
	require.NoError(t, err)
	assert.Equal(t, "first seen", got.Description, "stored definition wins")
	assert.True(t, discovered.Equal(got.DiscoveredAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LinkFindingToDevice(t *testing.T) {
	s, mock := newMockStore(t)
	deviceID := uuid.New()
	at := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO device_vulnerabilities (.+) ON CONFLICT \(device_id, vulnerability_id\) DO UPDATE`).
		WithArgs(deviceID, "IOT-HTTP-001", "open", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.LinkFindingToDevice(context.Background(), deviceID, "IOT-HTTP-001", store.FindingOpen, at))

	mock.ExpectExec("INSERT INTO device_vulnerabilities").
		WillReturnError(&pq.Error{Code: "23503"})
	err := s.LinkFindingToDevice(context.Background(), uuid.New(), "IOT-HTTP-001", store.FindingOpen, at)
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))

	err = s.LinkFindingToDevice(context.Background(), deviceID, "IOT-HTTP-001", "fixed", at)
	assert.True(t, errors.IsCode(err, errors.CodeValidation), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ScanFindings(t *testing.T) {
	s, mock := newMockStore(t)
	jobID := uuid.New()
	recorded := time.Now().UTC()

	mock.ExpectExec("INSERT INTO scan_findings").
		WithArgs(jobID, "CVE-2021-36260", "port 80", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, s.RecordScanFinding(context.Background(),
		&store.ScanFinding{JobID: jobID, VulnerabilityID: "CVE-2021-36260", Details: "port 80"}))

	mock.ExpectQuery(`SELECT (.+) FROM scan_findings WHERE job_id = \$1 ORDER BY id`).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"job_id", "vulnerability_id", "details", "recorded_at"}).
			AddRow(jobID.String(), "CVE-2021-36260", "port 80", recorded))

	got, err := s.ListScanFindings(context.Background(), jobID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "CVE-2021-36260", got[0].VulnerabilityID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListDeviceFindings(t *testing.T) {
	s, mock := newMockStore(t)
	deviceID := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM device_vulnerabilities WHERE device_id").
		WithArgs(deviceID).
		WillReturnRows(sqlmock.NewRows([]string{"device_id", "vulnerability_id", "status", "detected_at"}).
			AddRow(deviceID.String(), "IOT-CRED-001", "open", time.Now()).
			AddRow(deviceID.String(), "IOT-HTTP-001", "patched", time.Now()))

	got, err := s.ListDeviceFindings(context.Background(), deviceID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, store.FindingOpen, got[0].Status)
	assert.Equal(t, store.FindingPatched, got[1].Status)
}

// compile-time check that the array helpers produce driver values
var _ driver.Valuer = pq.Int64Array{}

func TestStore_UpdateDevice(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()
	name := "lobby camera"

	mock.ExpectQuery(`UPDATE devices SET name = COALESCE\(\$2, name\)(.+)RETURNING`).
		WithArgs(id, name, nil, nil).
		WillReturnRows(sqlmock.NewRows(deviceCols).
			AddRow(id.String(), name, "192.168.1.20", "camera", []byte("{80}"), []byte("{http}"), "", 0, nil, time.Now()))

	got, err := s.UpdateDevice(context.Background(), id, store.DeviceUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "lobby camera", got.Name)
	assert.Equal(t, []int{80}, got.Ports)

	mock.ExpectQuery("UPDATE devices").WillReturnRows(sqlmock.NewRows(deviceCols))
	_, err = s.UpdateDevice(context.Background(), uuid.New(), store.DeviceUpdate{Name: &name})
	assert.True(t, errors.IsCode(err, errors.CodeNotFound), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DeleteDevice(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(`DELETE FROM devices WHERE id = \$1`).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.DeleteDevice(context.Background(), id))

	mock.ExpectExec("DELETE FROM devices").WillReturnResult(sqlmock.NewResult(0, 0))
	err := s.DeleteDevice(context.Background(), uuid.New())
	assert.True(t, errors.IsCode(err, errors.CodeNotFound), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var vulnCols = []string{"id", "title", "severity", "cvss", "description", "impact", "remediation", "discovered_at"}

func TestStore_ListVulnerabilityDefinitions(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM vulnerabilities v ORDER BY v.cvss DESC, v.id`).
		WithArgs().
		WillReturnRows(sqlmock.NewRows(vulnCols).
			AddRow("CVE-2021-36260", "Hikvision RCE", "critical", 9.8, "", "", "", now).
			AddRow("IOT-HTTP-001", "Unencrypted web UI", "medium", 5.3, "", "", "", now))
	all, err := s.ListVulnerabilityDefinitions(context.Background(), store.VulnerabilityFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "CVE-2021-36260", all[0].ID)

	mock.ExpectQuery(`FROM vulnerabilities v WHERE v.severity = \$1 AND EXISTS (.+) d.name ILIKE \$2\)`).
		WithArgs("high", `%door\_cam%`).
		WillReturnRows(sqlmock.NewRows(vulnCols))
	filtered, err := s.ListVulnerabilityDefinitions(context.Background(),
		store.VulnerabilityFilter{Severity: "high", DeviceName: "door_cam"})
	require.NoError(t, err)
	assert.Empty(t, filtered)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CountVulnerabilitiesBySeverity(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT severity, COUNT\(\*\) AS n FROM vulnerabilities GROUP BY severity`).
		WillReturnRows(sqlmock.NewRows([]string{"severity", "n"}).
			AddRow("critical", 2).
			AddRow("high", 3).
			AddRow("informational", 1))

	counts, err := s.CountVulnerabilitiesBySeverity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.SeverityCounts{Total: 6, Critical: 2, High: 3}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListVulnerabilityFindings(t *testing.T) {
	s, mock := newMockStore(t)
	deviceID := uuid.New()

	mock.ExpectQuery(`FROM device_vulnerabilities WHERE vulnerability_id = \$1 ORDER BY detected_at DESC`).
		WithArgs("IOT-TELNET-001").
		WillReturnRows(sqlmock.NewRows([]string{"device_id", "vulnerability_id", "status", "detected_at"}).
			AddRow(deviceID.String(), "IOT-TELNET-001", "mitigated", time.Now()))

	got, err := s.ListVulnerabilityFindings(context.Background(), "IOT-TELNET-001")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, deviceID, got[0].DeviceID)
	assert.Equal(t, store.FindingMitigated, got[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
