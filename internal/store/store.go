// Package store defines the persistence contract used by the scan engine
// together with its data model and an in-memory implementation.
package store

//go:generate mockgen -destination=../mocks/mock_store.go -package=mocks github.com/anstrom/iotaudit/internal/store Store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists devices, scan jobs, and vulnerability findings.
//
// Lookups of unknown records return an error classified as
// errors.CodeNotFound.
type Store interface {
	CreateDevice(ctx context.Context, device *Device) error
	GetDevice(ctx context.Context, id uuid.UUID) (*Device, error)
	GetDeviceByIP(ctx context.Context, ip string) (*Device, error)
	ListDevices(ctx context.Context) ([]*Device, error)
	UpdateDeviceSnapshot(ctx context.Context, id uuid.UUID, snapshot DeviceSnapshot) error
	UpdateDevice(ctx context.Context, id uuid.UUID, update DeviceUpdate) (*Device, error)
	// DeleteDevice removes a device together with its jobs, their scan
	// findings and its finding links. Definitions are kept.
	DeleteDevice(ctx context.Context, id uuid.UUID) error

	CreateJob(ctx context.Context, job *Job) error
	UpdateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)

	// UpsertVulnerabilityDefinition stores def when its ID is new and
	// otherwise returns the definition already on record unchanged.
	UpsertVulnerabilityDefinition(ctx context.Context, def *VulnerabilityDefinition) (*VulnerabilityDefinition, error)
	GetVulnerabilityDefinition(ctx context.Context, id string) (*VulnerabilityDefinition, error)
	// ListVulnerabilityDefinitions returns matching definitions, highest
	// CVSS first.
	ListVulnerabilityDefinitions(ctx context.Context, filter VulnerabilityFilter) ([]*VulnerabilityDefinition, error)
	CountVulnerabilitiesBySeverity(ctx context.Context) (SeverityCounts, error)

	// LinkFindingToDevice creates a link with status or, when one exists,
	// refreshes its detection time and leaves its status alone.
	LinkFindingToDevice(ctx context.Context, deviceID uuid.UUID, vulnerabilityID string, status FindingStatus, detectedAt time.Time) error
	ListDeviceFindings(ctx context.Context, deviceID uuid.UUID) ([]*DeviceFinding, error)
	// ListVulnerabilityFindings returns the links to one definition,
	// newest detection first.
	ListVulnerabilityFindings(ctx context.Context, vulnerabilityID string) ([]*DeviceFinding, error)
	RecordScanFinding(ctx context.Context, finding *ScanFinding) error
	ListScanFindings(ctx context.Context, jobID uuid.UUID) ([]*ScanFinding, error)

	Close() error
}
