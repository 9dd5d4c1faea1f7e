package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/iotaudit/internal/errors"
	"github.com/anstrom/iotaudit/internal/store"
)

// Store is the PostgreSQL implementation of store.Store.
type Store struct {
	db *DB
}

var _ store.Store = (*Store)(nil)

// NewStore creates a store over an open connection.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

const deviceColumns = `id, name, host(ip_address) AS ip_address, type, ports, services, os,
	vulnerability_count, last_scan, created_at`

// CreateDevice inserts a device.
func (s *Store) CreateDevice(ctx context.Context, device *store.Device) error {
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}
	if device.CreatedAt.IsZero() {
		device.CreatedAt = time.Now().UTC()
	}
	if device.Type == "" {
		device.Type = "unknown"
	}

	query := `
		INSERT INTO devices (id, name, ip_address, type, ports, services, os, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		device.ID, device.Name, device.IPAddress, device.Type,
		intsToArray(device.Ports), stringArray(device.Services), device.OS, device.CreatedAt)
	return sanitizeDBError("create device", err)
}

// GetDevice returns a device by ID.
func (s *Store) GetDevice(ctx context.Context, id uuid.UUID) (*store.Device, error) {
	var row deviceRow
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1`
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, sanitizeDBError("get device", err)
	}
	return row.toModel(), nil
}

// GetDeviceByIP returns the oldest device registered with an address.
func (s *Store) GetDeviceByIP(ctx context.Context, ip string) (*store.Device, error) {
	var row deviceRow
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE ip_address = $1 ORDER BY created_at LIMIT 1`
	if err := s.db.GetContext(ctx, &row, query, ip); err != nil {
		return nil, sanitizeDBError("get device by ip", err)
	}
	return row.toModel(), nil
}

// ListDevices returns all devices ordered by name.
func (s *Store) ListDevices(ctx context.Context) ([]*store.Device, error) {
	var rows []deviceRow
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY name`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, sanitizeDBError("list devices", err)
	}
	out := make([]*store.Device, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

// UpdateDeviceSnapshot records what the latest scan learned about a device.
func (s *Store) UpdateDeviceSnapshot(ctx context.Context, id uuid.UUID, snap store.DeviceSnapshot) error {
	query := `
		UPDATE devices
		SET ports = $2, services = $3, os = $4, vulnerability_count = $5, last_scan = $6
		WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, id,
		intsToArray(snap.Ports), stringArray(snap.Services), snap.OS, snap.VulnerabilityCount, snap.LastScan)
	if err != nil {
		return sanitizeDBError("update device snapshot", err)
	}
	return requireAffected(res, "device", id.String())
}

// UpdateDevice applies update and returns the stored row. Nil fields keep
// their current values.
func (s *Store) UpdateDevice(ctx context.Context, id uuid.UUID, update store.DeviceUpdate) (*store.Device, error) {
	query := `
		UPDATE devices
		SET name = COALESCE($2, name),
		    ip_address = COALESCE($3::inet, ip_address),
		    type = COALESCE($4, type)
		WHERE id = $1
		RETURNING ` + deviceColumns

	var row deviceRow
	if err := s.db.GetContext(ctx, &row, query, id, update.Name, update.IPAddress, update.Type); err != nil {
		return nil, sanitizeDBError("update device", err)
	}
	return row.toModel(), nil
}

// DeleteDevice removes a device. Jobs, their findings and the device's
// links go with it through ON DELETE CASCADE.
func (s *Store) DeleteDevice(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return sanitizeDBError("delete device", err)
	}
	return requireAffected(res, "device", id.String())
}

// CreateJob inserts a job.
func (s *Store) CreateJob(ctx context.Context, job *store.Job) error {
	row, err := newJobRow(job)
	if err != nil {
		return errors.WrapDatabaseError(errors.CodeValidation, "Invalid job", err)
	}

	query := `
		INSERT INTO scan_jobs (id, device_id, mode, status, phases, start_time, end_time,
		                       duration_ms, error_message, result)
		VALUES (:id, :device_id, :mode, :status, :phases, :start_time, :end_time,
		        :duration_ms, :error_message, :result)`

	_, err = s.db.NamedExecContext(ctx, query, row)
	return sanitizeDBError("create job", err)
}

// UpdateJob persists the full job snapshot.
func (s *Store) UpdateJob(ctx context.Context, job *store.Job) error {
	row, err := newJobRow(job)
	if err != nil {
		return errors.WrapDatabaseError(errors.CodeValidation, "Invalid job", err)
	}

	query := `
		UPDATE scan_jobs
		SET status = :status, phases = :phases, end_time = :end_time,
		    duration_ms = :duration_ms, error_message = :error_message, result = :result
		WHERE id = :id`

	res, err := s.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return sanitizeDBError("update job", err)
	}
	return requireAffected(res, "job", job.ID.String())
}

const jobColumns = `id, device_id, mode, status, phases, start_time, end_time,
	duration_ms, error_message, result`

// GetJob returns a job by ID.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*store.Job, error) {
	var row jobRow
	query := `SELECT ` + jobColumns + ` FROM scan_jobs WHERE id = $1`
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, sanitizeDBError("get job", err)
	}
	job, err := row.toModel()
	if err != nil {
		return nil, sanitizeDBError("decode job", err)
	}
	return job, nil
}

type filterCondition struct {
	column string
	value  interface{}
}

// buildWhereClause joins conditions into a WHERE clause with positional args.
func buildWhereClause(conditions []filterCondition) (whereClause string, args []interface{}) {
	if len(conditions) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(conditions))
	for i, c := range conditions {
		parts = append(parts, fmt.Sprintf("%s = $%d", c.column, i+1))
		args = append(args, c.value)
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

// ListJobs returns matching jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, filter store.JobFilter) ([]*store.Job, error) {
	var conditions []filterCondition
	if filter.DeviceID != uuid.Nil {
		conditions = append(conditions, filterCondition{"device_id", filter.DeviceID})
	}
	if filter.Status != "" {
		conditions = append(conditions, filterCondition{"status", string(filter.Status)})
	}
	where, args := buildWhereClause(conditions)

	query := `SELECT ` + jobColumns + ` FROM scan_jobs` + where + ` ORDER BY start_time DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, sanitizeDBError("list jobs", err)
	}
	out := make([]*store.Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toModel()
		if err != nil {
			return nil, sanitizeDBError("decode job", err)
		}
		out = append(out, job)
	}
	return out, nil
}

// UpsertVulnerabilityDefinition inserts a definition unless its ID exists,
// then returns whatever is on record.
func (s *Store) UpsertVulnerabilityDefinition(
	ctx context.Context, def *store.VulnerabilityDefinition,
) (*store.VulnerabilityDefinition, error) {
	discovered := def.DiscoveredAt
	if discovered.IsZero() {
		discovered = time.Now().UTC()
	}

	insert := `
		INSERT INTO vulnerabilities (id, title, severity, cvss, description, impact, remediation, discovered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	if _, err := s.db.ExecContext(ctx, insert, def.ID, def.Title, def.Severity, def.CVSS,
		def.Description, def.Impact, def.Remediation, discovered); err != nil {
		return nil, sanitizeDBError("upsert vulnerability", err)
	}
	return s.GetVulnerabilityDefinition(ctx, def.ID)
}

// GetVulnerabilityDefinition returns a definition by natural ID.
func (s *Store) GetVulnerabilityDefinition(ctx context.Context, id string) (*store.VulnerabilityDefinition, error) {
	var row vulnerabilityRow
	query := `
		SELECT id, title, severity, cvss, description, impact, remediation, discovered_at
		FROM vulnerabilities WHERE id = $1`
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, sanitizeDBError("get vulnerability", err)
	}
	return row.toModel(), nil
}

const vulnerabilityColumns = `v.id, v.title, v.severity, v.cvss, v.description, v.impact,
	v.remediation, v.discovered_at`

// ListVulnerabilityDefinitions returns matching definitions by CVSS.
func (s *Store) ListVulnerabilityDefinitions(
	ctx context.Context, filter store.VulnerabilityFilter,
) ([]*store.VulnerabilityDefinition, error) {
	var (
		clauses []string
		args    []interface{}
	)
	if filter.Severity != "" {
		args = append(args, filter.Severity)
		clauses = append(clauses, fmt.Sprintf("v.severity = $%d", len(args)))
	}
	if filter.DeviceName != "" {
		args = append(args, "%"+escapeLike(filter.DeviceName)+"%")
		clauses = append(clauses, fmt.Sprintf(`EXISTS (
			SELECT 1 FROM device_vulnerabilities dv JOIN devices d ON d.id = dv.device_id
			WHERE dv.vulnerability_id = v.id AND d.name ILIKE $%d)`, len(args)))
	}
	query := `SELECT ` + vulnerabilityColumns + ` FROM vulnerabilities v`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY v.cvss DESC, v.id"

	var rows []vulnerabilityRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, sanitizeDBError("list vulnerabilities", err)
	}
	out := make([]*store.VulnerabilityDefinition, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

// escapeLike quotes the LIKE wildcards in s.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// CountVulnerabilitiesBySeverity counts the catalog per severity.
func (s *Store) CountVulnerabilitiesBySeverity(ctx context.Context) (store.SeverityCounts, error) {
	var rows []severityCountRow
	query := `SELECT severity, COUNT(*) AS n FROM vulnerabilities GROUP BY severity`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return store.SeverityCounts{}, sanitizeDBError("count vulnerabilities", err)
	}
	var counts store.SeverityCounts
	for _, r := range rows {
		counts.Add(r.Severity, r.Count)
	}
	return counts, nil
}

// LinkFindingToDevice creates a link with status or refreshes the detection
// time of an existing one.
func (s *Store) LinkFindingToDevice(ctx context.Context, deviceID uuid.UUID, vulnID string, status store.FindingStatus, at time.Time) error {
	if !status.Valid() {
		return errors.NewDatabaseError(errors.CodeValidation, fmt.Sprintf("invalid finding status %q", status))
	}
	query := `
		INSERT INTO device_vulnerabilities (device_id, vulnerability_id, status, detected_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_id, vulnerability_id) DO UPDATE SET detected_at = EXCLUDED.detected_at`

	_, err := s.db.ExecContext(ctx, query, deviceID, vulnID, string(status), at)
	return sanitizeDBError("link finding", err)
}

// ListDeviceFindings returns a device's findings ordered by vulnerability ID.
func (s *Store) ListDeviceFindings(ctx context.Context, deviceID uuid.UUID) ([]*store.DeviceFinding, error) {
	var rows []deviceFindingRow
	query := `
		SELECT device_id, vulnerability_id, status, detected_at
		FROM device_vulnerabilities WHERE device_id = $1 ORDER BY vulnerability_id`
	if err := s.db.SelectContext(ctx, &rows, query, deviceID); err != nil {
		return nil, sanitizeDBError("list device findings", err)
	}
	return findingsFromRows(rows), nil
}

func findingsFromRows(rows []deviceFindingRow) []*store.DeviceFinding {
	out := make([]*store.DeviceFinding, 0, len(rows))
	for _, r := range rows {
		out = append(out, &store.DeviceFinding{
			DeviceID:        r.DeviceID,
			VulnerabilityID: r.VulnerabilityID,
			Status:          store.FindingStatus(r.Status),
			DetectedAt:      r.DetectedAt,
		})
	}
	return out
}

// ListVulnerabilityFindings returns every device link to a definition.
func (s *Store) ListVulnerabilityFindings(ctx context.Context, vulnID string) ([]*store.DeviceFinding, error) {
	var rows []deviceFindingRow
	query := `
		SELECT device_id, vulnerability_id, status, detected_at
		FROM device_vulnerabilities WHERE vulnerability_id = $1
		ORDER BY detected_at DESC, device_id`
	if err := s.db.SelectContext(ctx, &rows, query, vulnID); err != nil {
		return nil, sanitizeDBError("list vulnerability findings", err)
	}
	return findingsFromRows(rows), nil
}

// RecordScanFinding inserts a per-job finding.
func (s *Store) RecordScanFinding(ctx context.Context, finding *store.ScanFinding) error {
	if finding.RecordedAt.IsZero() {
		finding.RecordedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO scan_findings (job_id, vulnerability_id, details, recorded_at)
		VALUES ($1, $2, $3, $4)`
	_, err := s.db.ExecContext(ctx, query, finding.JobID, finding.VulnerabilityID, finding.Details, finding.RecordedAt)
	return sanitizeDBError("record scan finding", err)
}

// ListScanFindings returns a job's findings in insertion order.
func (s *Store) ListScanFindings(ctx context.Context, jobID uuid.UUID) ([]*store.ScanFinding, error) {
	var rows []scanFindingRow
	query := `
		SELECT job_id, vulnerability_id, details, recorded_at
		FROM scan_findings WHERE job_id = $1 ORDER BY id`
	if err := s.db.SelectContext(ctx, &rows, query, jobID); err != nil {
		return nil, sanitizeDBError("list scan findings", err)
	}
	out := make([]*store.ScanFinding, 0, len(rows))
	for _, r := range rows {
		f := store.ScanFinding(r)
		out = append(out, &f)
	}
	return out, nil
}

type rowsAffected interface {
	RowsAffected() (int64, error)
}

func requireAffected(res rowsAffected, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return sanitizeDBError("rows affected", err)
	}
	if n == 0 {
		return errors.ErrNotFound(kind, id)
	}
	return nil
}
