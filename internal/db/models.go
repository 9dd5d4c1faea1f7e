package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/anstrom/iotaudit/internal/store"
)

// JSONB wraps json.RawMessage for PostgreSQL JSONB type.
type JSONB json.RawMessage

// Scan implements sql.Scanner for PostgreSQL JSONB type.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*j = append(JSONB(nil), v...)
		return nil
	case string:
		*j = JSONB(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
}

// Value implements driver.Valuer for PostgreSQL JSONB type.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return []byte(j), nil
}

// deviceRow mirrors the devices table.
type deviceRow struct {
	ID                 uuid.UUID      `db:"id"`
	Name               string         `db:"name"`
	IPAddress          string         `db:"ip_address"`
	Type               string         `db:"type"`
	Ports              pq.Int64Array  `db:"ports"`
	Services           pq.StringArray `db:"services"`
	OS                 string         `db:"os"`
	VulnerabilityCount int            `db:"vulnerability_count"`
	LastScan           *time.Time     `db:"last_scan"`
	CreatedAt          time.Time      `db:"created_at"`
}

func (r *deviceRow) toModel() *store.Device {
	d := &store.Device{
		ID:                 r.ID,
		Name:               r.Name,
		IPAddress:          r.IPAddress,
		Type:               r.Type,
		Ports:              make([]int, len(r.Ports)),
		Services:           []string(r.Services),
		OS:                 r.OS,
		VulnerabilityCount: r.VulnerabilityCount,
		LastScan:           r.LastScan,
		CreatedAt:          r.CreatedAt,
	}
	for i, p := range r.Ports {
		d.Ports[i] = int(p)
	}
	return d
}

func intsToArray(ports []int) pq.Int64Array {
	out := make(pq.Int64Array, len(ports))
	for i, p := range ports {
		out[i] = int64(p)
	}
	return out
}

func stringArray(values []string) pq.StringArray {
	if values == nil {
		return pq.StringArray{}
	}
	return pq.StringArray(values)
}

// jobRow mirrors the scan_jobs table.
type jobRow struct {
	ID           uuid.UUID  `db:"id"`
	DeviceID     uuid.UUID  `db:"device_id"`
	Mode         string     `db:"mode"`
	Status       string     `db:"status"`
	Phases       JSONB      `db:"phases"`
	StartTime    time.Time  `db:"start_time"`
	EndTime      *time.Time `db:"end_time"`
	DurationMS   int64      `db:"duration_ms"`
	ErrorMessage string     `db:"error_message"`
	Result       JSONB      `db:"result"`
}

func newJobRow(j *store.Job) (*jobRow, error) {
	phases, err := json.Marshal(j.Phases)
	if err != nil {
		return nil, fmt.Errorf("encoding phases: %w", err)
	}
	row := &jobRow{
		ID:           j.ID,
		DeviceID:     j.DeviceID,
		Mode:         string(j.Mode),
		Status:       string(j.Status),
		Phases:       JSONB(phases),
		StartTime:    j.StartTime,
		EndTime:      j.EndTime,
		DurationMS:   j.Duration.Std().Milliseconds(),
		ErrorMessage: j.Error,
	}
	if j.Result != nil {
		result, err := json.Marshal(j.Result)
		if err != nil {
			return nil, fmt.Errorf("encoding result: %w", err)
		}
		row.Result = JSONB(result)
	}
	return row, nil
}

func (r *jobRow) toModel() (*store.Job, error) {
	j := &store.Job{
		ID:        r.ID,
		DeviceID:  r.DeviceID,
		Mode:      store.ScanMode(r.Mode),
		Status:    store.JobStatus(r.Status),
		StartTime: r.StartTime,
		EndTime:   r.EndTime,
		Duration:  store.Duration(time.Duration(r.DurationMS) * time.Millisecond),
		Error:     r.ErrorMessage,
	}
	if len(r.Phases) > 0 {
		if err := json.Unmarshal(r.Phases, &j.Phases); err != nil {
			return nil, fmt.Errorf("decoding phases: %w", err)
		}
	}
	if len(r.Result) > 0 {
		if err := json.Unmarshal(r.Result, &j.Result); err != nil {
			return nil, fmt.Errorf("decoding result: %w", err)
		}
	}
	return j, nil
}

// vulnerabilityRow mirrors the vulnerabilities table.
type vulnerabilityRow struct {
	ID           string    `db:"id"`
	Title        string    `db:"title"`
	Severity     string    `db:"severity"`
	CVSS         float64   `db:"cvss"`
	Description  string    `db:"description"`
	Impact       string    `db:"impact"`
	Remediation  string    `db:"remediation"`
	DiscoveredAt time.Time `db:"discovered_at"`
}

func (r *vulnerabilityRow) toModel() *store.VulnerabilityDefinition {
	v := store.VulnerabilityDefinition(*r)
	return &v
}

// deviceFindingRow mirrors the device_vulnerabilities table.
type deviceFindingRow struct {
	DeviceID        uuid.UUID `db:"device_id"`
	VulnerabilityID string    `db:"vulnerability_id"`
	Status          string    `db:"status"`
	DetectedAt      time.Time `db:"detected_at"`
}

// severityCountRow is one group of the severity summary.
type severityCountRow struct {
	Severity string `db:"severity"`
	Count    int    `db:"n"`
}

// scanFindingRow mirrors the scan_findings table.
type scanFindingRow struct {
	JobID           uuid.UUID `db:"job_id"`
	VulnerabilityID string    `db:"vulnerability_id"`
	Details         string    `db:"details"`
	RecordedAt      time.Time `db:"recorded_at"`
}
