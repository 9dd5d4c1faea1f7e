// Package bolt implements store.Store on an embedded bbolt database.
// Records are stored as JSON values in one bucket per entity.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/anstrom/iotaudit/internal/errors"
	"github.com/anstrom/iotaudit/internal/store"
)

const (
	bucketDevices      = "devices"
	bucketJobs         = "jobs"
	bucketDefinitions  = "vulnerabilities"
	bucketLinks        = "device_findings"
	bucketScanFindings = "scan_findings"

	openTimeout = time.Second
	filePerm    = 0600
)

var buckets = []string{bucketDevices, bucketJobs, bucketDefinitions, bucketLinks, bucketScanFindings}

// Store is a bbolt-backed store.Store.
type Store struct {
	db *bbolt.DB
}

var _ store.Store = (*Store)(nil)

// Open opens or creates the database file and its buckets.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, filePerm, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, errors.WrapDatabaseError(errors.CodeDatabaseConnection, "Failed to open bolt database", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range buckets {
			if _, e := tx.CreateBucketIfNotExists([]byte(name)); e != nil {
				return e
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.WrapDatabaseError(errors.CodeDatabaseMigration, "Failed to create buckets", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func wrap(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.GetCode(err) != errors.CodeUnknown {
		return err
	}
	dbErr := errors.WrapDatabaseError(errors.CodeDatabaseQuery, fmt.Sprintf("Database operation failed: %s", operation), err)
	dbErr.Operation = operation
	return dbErr
}

func put(b *bbolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func get(b *bbolt.Bucket, key []byte, v any) (bool, error) {
	data := b.Get(key)
	if data == nil {
		return false, nil
	}
	return true, json.Unmarshal(data, v)
}

// linkKey orders links by device so a prefix scan returns one device's findings.
func linkKey(deviceID uuid.UUID, vulnID string) []byte {
	return []byte(deviceID.String() + "/" + vulnID)
}

// scanFindingKey keeps insertion order within a job via the bucket sequence.
func scanFindingKey(jobID uuid.UUID, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s/%020d", jobID, seq))
}

// CreateDevice stores a new device.
func (s *Store) CreateDevice(_ context.Context, device *store.Device) error {
	if device.ID == uuid.Nil {
		device.ID = uuid.New()
	}
	if device.CreatedAt.IsZero() {
		device.CreatedAt = time.Now().UTC()
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketDevices))
		key := []byte(device.ID.String())
		if b.Get(key) != nil {
			return errors.NewDatabaseError(errors.CodeConflict, "Device already exists")
		}
		return put(b, key, device)
	})
	return wrap("create device", err)
}

// GetDevice returns a device by ID.
func (s *Store) GetDevice(_ context.Context, id uuid.UUID) (*store.Device, error) {
	var d store.Device
	err := s.db.View(func(tx *bbolt.Tx) error {
		ok, err := get(tx.Bucket([]byte(bucketDevices)), []byte(id.String()), &d)
		if err != nil {
			return err
		}
		if !ok {
			return errors.ErrNotFound("device", id.String())
		}
		return nil
	})
	if err != nil {
		return nil, wrap("get device", err)
	}
	return &d, nil
}

// GetDeviceByIP scans devices for a matching address.
func (s *Store) GetDeviceByIP(_ context.Context, ip string) (*store.Device, error) {
	var found *store.Device
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketDevices)).ForEach(func(_, v []byte) error {
			if found != nil {
				return nil
			}
			var d store.Device
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if d.IPAddress == ip {
				found = &d
			}
			return nil
		})
	})
	if err != nil {
		return nil, wrap("get device by ip", err)
	}
	if found == nil {
		return nil, errors.ErrNotFound("device", ip)
	}
	return found, nil
}

// ListDevices returns all devices ordered by name.
func (s *Store) ListDevices(_ context.Context) ([]*store.Device, error) {
	out := make([]*store.Device, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketDevices)).ForEach(func(_, v []byte) error {
			var d store.Device
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			out = append(out, &d)
			return nil
		})
	})
	if err != nil {
		return nil, wrap("list devices", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpdateDeviceSnapshot records what the latest scan learned about a device.
func (s *Store) UpdateDeviceSnapshot(_ context.Context, id uuid.UUID, snap store.DeviceSnapshot) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketDevices))
		key := []byte(id.String())
		var d store.Device
		ok, err := get(b, key, &d)
		if err != nil {
			return err
		}
		if !ok {
			return errors.ErrNotFound("device", id.String())
		}
		d.Ports = snap.Ports
		d.Services = snap.Services
		d.OS = snap.OS
		d.VulnerabilityCount = snap.VulnerabilityCount
		last := snap.LastScan
		d.LastScan = &last
		return put(b, key, &d)
	})
	return wrap("update device snapshot", err)
}

// UpdateDevice applies update and returns the stored result.
func (s *Store) UpdateDevice(_ context.Context, id uuid.UUID, update store.DeviceUpdate) (*store.Device, error) {
	var d store.Device
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketDevices))
		key := []byte(id.String())
		ok, err := get(b, key, &d)
		if err != nil {
			return err
		}
		if !ok {
			return errors.ErrNotFound("device", id.String())
		}
		update.Apply(&d)
		return put(b, key, &d)
	})
	if err != nil {
		return nil, wrap("update device", err)
	}
	return &d, nil
}

// DeleteDevice removes a device, its jobs with their scan findings and its
// finding links in one transaction.
func (s *Store) DeleteDevice(_ context.Context, id uuid.UUID) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		devices := tx.Bucket([]byte(bucketDevices))
		key := []byte(id.String())
		if devices.Get(key) == nil {
			return errors.ErrNotFound("device", id.String())
		}
		if err := devices.Delete(key); err != nil {
			return err
		}

		jobs := tx.Bucket([]byte(bucketJobs))
		var jobKeys [][]byte
		err := jobs.ForEach(func(k, v []byte) error {
			var j store.Job
			if err := json.Unmarshal(v, &j); err != nil {
				return err
			}
			if j.DeviceID == id {
				jobKeys = append(jobKeys, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range jobKeys {
			if err := jobs.Delete(k); err != nil {
				return err
			}
			if err := deletePrefix(tx.Bucket([]byte(bucketScanFindings)), append(k, '/')); err != nil {
				return err
			}
		}
		return deletePrefix(tx.Bucket([]byte(bucketLinks)), []byte(id.String()+"/"))
	})
	return wrap("delete device", err)
}

// deletePrefix removes every key in b starting with prefix.
func deletePrefix(b *bbolt.Bucket, prefix []byte) error {
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// CreateJob stores a new job.
func (s *Store) CreateJob(_ context.Context, job *store.Job) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketJobs))
		key := []byte(job.ID.String())
		if b.Get(key) != nil {
			return errors.NewDatabaseError(errors.CodeConflict, "Job already exists")
		}
		return put(b, key, job)
	})
	return wrap("create job", err)
}

// UpdateJob replaces an existing job.
func (s *Store) UpdateJob(_ context.Context, job *store.Job) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketJobs))
		key := []byte(job.ID.String())
		if b.Get(key) == nil {
			return errors.ErrNotFound("job", job.ID.String())
		}
		return put(b, key, job)
	})
	return wrap("update job", err)
}

// GetJob returns a job by ID.
func (s *Store) GetJob(_ context.Context, id uuid.UUID) (*store.Job, error) {
	var j store.Job
	err := s.db.View(func(tx *bbolt.Tx) error {
		ok, err := get(tx.Bucket([]byte(bucketJobs)), []byte(id.String()), &j)
		if err != nil {
			return err
		}
		if !ok {
			return errors.ErrNotFound("job", id.String())
		}
		return nil
	})
	if err != nil {
		return nil, wrap("get job", err)
	}
	return &j, nil
}

// ListJobs returns matching jobs, newest first.
func (s *Store) ListJobs(_ context.Context, filter store.JobFilter) ([]*store.Job, error) {
	out := make([]*store.Job, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketJobs)).ForEach(func(_, v []byte) error {
			var j store.Job
			if err := json.Unmarshal(v, &j); err != nil {
				return err
			}
			if filter.Match(&j) {
				out = append(out, &j)
			}
			return nil
		})
	})
	if err != nil {
		return nil, wrap("list jobs", err)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartTime.After(out[k].StartTime) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// UpsertVulnerabilityDefinition stores a definition unless its ID exists.
func (s *Store) UpsertVulnerabilityDefinition(
	_ context.Context, def *store.VulnerabilityDefinition,
) (*store.VulnerabilityDefinition, error) {
	var stored store.VulnerabilityDefinition
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketDefinitions))
		key := []byte(def.ID)
		ok, err := get(b, key, &stored)
		if err != nil || ok {
			return err
		}
		stored = *def
		if stored.DiscoveredAt.IsZero() {
			stored.DiscoveredAt = time.Now().UTC()
		}
		return put(b, key, &stored)
	})
	if err != nil {
		return nil, wrap("upsert vulnerability", err)
	}
	return &stored, nil
}

// GetVulnerabilityDefinition returns a definition by natural ID.
func (s *Store) GetVulnerabilityDefinition(_ context.Context, id string) (*store.VulnerabilityDefinition, error) {
	var d store.VulnerabilityDefinition
	err := s.db.View(func(tx *bbolt.Tx) error {
		ok, err := get(tx.Bucket([]byte(bucketDefinitions)), []byte(id), &d)
		if err != nil {
			return err
		}
		if !ok {
			return errors.ErrNotFound("vulnerability", id)
		}
		return nil
	})
	if err != nil {
		return nil, wrap("get vulnerability", err)
	}
	return &d, nil
}

// ListVulnerabilityDefinitions returns matching definitions by CVSS.
func (s *Store) ListVulnerabilityDefinitions(
	_ context.Context, filter store.VulnerabilityFilter,
) ([]*store.VulnerabilityDefinition, error) {
	out := make([]*store.VulnerabilityDefinition, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		var linked map[string]bool
		if filter.DeviceName != "" {
			var err error
			if linked, err = linkedToDeviceName(tx, filter); err != nil {
				return err
			}
		}
		return tx.Bucket([]byte(bucketDefinitions)).ForEach(func(k, v []byte) error {
			if linked != nil && !linked[string(k)] {
				return nil
			}
			var d store.VulnerabilityDefinition
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if filter.Severity != "" && d.Severity != filter.Severity {
				return nil
			}
			out = append(out, &d)
			return nil
		})
	})
	if err != nil {
		return nil, wrap("list vulnerabilities", err)
	}
	store.SortDefinitions(out)
	return out, nil
}

// linkedToDeviceName collects the vulnerability IDs linked to devices whose
// name matches filter.
func linkedToDeviceName(tx *bbolt.Tx, filter store.VulnerabilityFilter) (map[string]bool, error) {
	devices := tx.Bucket([]byte(bucketDevices))
	matches := make(map[uuid.UUID]bool)
	linked := make(map[string]bool)
	err := tx.Bucket([]byte(bucketLinks)).ForEach(func(_, v []byte) error {
		var link store.DeviceFinding
		if err := json.Unmarshal(v, &link); err != nil {
			return err
		}
		match, seen := matches[link.DeviceID]
		if !seen {
			var d store.Device
			ok, err := get(devices, []byte(link.DeviceID.String()), &d)
			if err != nil {
				return err
			}
			match = ok && filter.MatchesDeviceName(d.Name)
			matches[link.DeviceID] = match
		}
		if match {
			linked[link.VulnerabilityID] = true
		}
		return nil
	})
	return linked, err
}

// CountVulnerabilitiesBySeverity counts the catalog per severity.
func (s *Store) CountVulnerabilitiesBySeverity(_ context.Context) (store.SeverityCounts, error) {
	var counts store.SeverityCounts
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketDefinitions)).ForEach(func(_, v []byte) error {
			var d store.VulnerabilityDefinition
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			counts.Add(d.Severity, 1)
			return nil
		})
	})
	if err != nil {
		return store.SeverityCounts{}, wrap("count vulnerabilities", err)
	}
	return counts, nil
}

// LinkFindingToDevice creates or refreshes a device finding.
func (s *Store) LinkFindingToDevice(_ context.Context, deviceID uuid.UUID, vulnID string, status store.FindingStatus, at time.Time) error {
	if !status.Valid() {
		return errors.NewDatabaseError(errors.CodeValidation, fmt.Sprintf("invalid finding status %q", status))
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(bucketDevices)).Get([]byte(deviceID.String())) == nil {
			return errors.ErrNotFound("device", deviceID.String())
		}
		if tx.Bucket([]byte(bucketDefinitions)).Get([]byte(vulnID)) == nil {
			return errors.ErrNotFound("vulnerability", vulnID)
		}

		b := tx.Bucket([]byte(bucketLinks))
		key := linkKey(deviceID, vulnID)
		var link store.DeviceFinding
		ok, err := get(b, key, &link)
		if err != nil {
			return err
		}
		if !ok {
			link = store.DeviceFinding{DeviceID: deviceID, VulnerabilityID: vulnID, Status: status}
		}
		link.DetectedAt = at
		return put(b, key, &link)
	})
	return wrap("link finding", err)
}

// ListDeviceFindings returns a device's findings ordered by vulnerability ID.
func (s *Store) ListDeviceFindings(_ context.Context, deviceID uuid.UUID) ([]*store.DeviceFinding, error) {
	out := make([]*store.DeviceFinding, 0)
	prefix := []byte(deviceID.String() + "/")
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketLinks)).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var link store.DeviceFinding
			if err := json.Unmarshal(v, &link); err != nil {
				return err
			}
			out = append(out, &link)
		}
		return nil
	})
	if err != nil {
		return nil, wrap("list device findings", err)
	}
	return out, nil
}

// ListVulnerabilityFindings returns every device link to a definition.
func (s *Store) ListVulnerabilityFindings(_ context.Context, vulnID string) ([]*store.DeviceFinding, error) {
	out := make([]*store.DeviceFinding, 0)
	suffix := "/" + vulnID
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketLinks)).ForEach(func(k, v []byte) error {
			if !strings.HasSuffix(string(k), suffix) {
				return nil
			}
			var link store.DeviceFinding
			if err := json.Unmarshal(v, &link); err != nil {
				return err
			}
			if link.VulnerabilityID == vulnID {
				out = append(out, &link)
			}
			return nil
		})
	})
	if err != nil {
		return nil, wrap("list vulnerability findings", err)
	}
	store.SortLinks(out)
	return out, nil
}

// RecordScanFinding appends a per-job finding.
func (s *Store) RecordScanFinding(_ context.Context, finding *store.ScanFinding) error {
	if finding.RecordedAt.IsZero() {
		finding.RecordedAt = time.Now().UTC()
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(bucketJobs)).Get([]byte(finding.JobID.String())) == nil {
			return errors.ErrNotFound("job", finding.JobID.String())
		}
		b := tx.Bucket([]byte(bucketScanFindings))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return put(b, scanFindingKey(finding.JobID, seq), finding)
	})
	return wrap("record scan finding", err)
}

// ListScanFindings returns a job's findings in insertion order.
func (s *Store) ListScanFindings(_ context.Context, jobID uuid.UUID) ([]*store.ScanFinding, error) {
	out := make([]*store.ScanFinding, 0)
	prefix := []byte(jobID.String() + "/")
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketScanFindings)).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var f store.ScanFinding
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}
			out = append(out, &f)
		}
		return nil
	})
	if err != nil {
		return nil, wrap("list scan findings", err)
	}
	return out, nil
}

func hasPrefix(k, prefix []byte) bool {
	return len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix)
}
