// Package scheduler runs recurring device scans and subnet sweeps on cron
// schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/anstrom/iotaudit/internal/config"
	"github.com/anstrom/iotaudit/internal/discovery"
	"github.com/anstrom/iotaudit/internal/errors"
	"github.com/anstrom/iotaudit/internal/logging"
	"github.com/anstrom/iotaudit/internal/store"
)

// ScanStarter starts scan jobs. *scanning.Engine satisfies it.
type ScanStarter interface {
	Start(ctx context.Context, deviceID uuid.UUID, mode store.ScanMode) (*store.Job, error)
}

// Discoverer sweeps a subnet. *discovery.Service satisfies it.
type Discoverer interface {
	Discover(ctx context.Context, subnet string) (*discovery.Result, error)
}

// ScheduledJob is a registered entry and its run history.
type ScheduledJob struct {
	Entry     config.ScheduleEntry `json:"entry"`
	CronID    cron.EntryID         `json:"-"`
	LastRun   time.Time            `json:"last_run"`
	NextRun   time.Time            `json:"next_run"`
	Running   bool                 `json:"running"`
	Runs      int                  `json:"runs"`
	LastError string               `json:"last_error,omitempty"`

	devices []uuid.UUID
	mode    store.ScanMode
}

// Scheduler owns the cron runner and the registered entries.
type Scheduler struct {
	cron      *cron.Cron
	scans     ScanStarter
	discovery Discoverer
	logger    *logging.Logger

	jobs    map[string]*ScheduledJob
	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a stopped scheduler. Either starter may be nil if
// no entry of that kind is registered.
func NewScheduler(scans ScanStarter, disc Discoverer, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:      cron.New(),
		scans:     scans,
		discovery: disc,
		logger:    logger.WithComponent("scheduler"),
		jobs:      make(map[string]*ScheduledJob),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Load registers every entry from cfg.
func (s *Scheduler) Load(cfg config.SchedulerConfig) error {
	for _, entry := range cfg.Entries {
		if err := s.AddEntry(entry); err != nil {
			return err
		}
	}
	return nil
}

// Start begins firing registered entries.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.cron.Start()
	s.running = true

	for _, job := range s.jobs {
		job.NextRun = s.cron.Entry(job.CronID).Next
	}
	s.logger.Info("Scheduler started", "entries", len(s.jobs))
	return nil
}

// Stop halts the cron runner and waits for in-flight entries or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	s.cancel()

	select {
	case <-done.Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return errors.NewScanError(errors.CodeTimeout, "scheduler stop timed out")
	}
}

// AddEntry validates entry and registers it with the cron runner.
func (s *Scheduler) AddEntry(entry config.ScheduleEntry) error {
	job, err := newScheduledJob(entry)
	if err != nil {
		return err
	}
	if entry.Kind == config.KindScan && s.scans == nil {
		return errors.NewConfigFieldError(errors.CodeValidation, "no scan engine configured", "kind", entry.Kind)
	}
	if entry.Kind == config.KindDiscovery && s.discovery == nil {
		return errors.NewConfigFieldError(errors.CodeValidation, "no discovery service configured", "kind", entry.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[entry.Name]; exists {
		return errors.NewConfigFieldError(errors.CodeConflict, "schedule entry already exists", "name", entry.Name)
	}

	name := entry.Name
	id, err := s.cron.AddFunc(entry.Cron, func() { s.execute(name) })
	if err != nil {
		return errors.WrapConfigError(errors.CodeValidation, "invalid cron expression", err)
	}
	job.CronID = id
	if s.running {
		job.NextRun = s.cron.Entry(id).Next
	}
	s.jobs[name] = job
	return nil
}

func newScheduledJob(entry config.ScheduleEntry) (*ScheduledJob, error) {
	if entry.Name == "" {
		return nil, errors.NewConfigFieldError(errors.CodeValidation, "name is required", "name", entry.Name)
	}
	if _, err := cron.ParseStandard(entry.Cron); err != nil {
		return nil, errors.WrapConfigError(errors.CodeValidation,
			fmt.Sprintf("schedule entry %q: invalid cron expression", entry.Name), err)
	}

	job := &ScheduledJob{Entry: entry}
	switch entry.Kind {
	case config.KindScan:
		if len(entry.DeviceIDs) == 0 {
			return nil, errors.NewConfigFieldError(errors.CodeValidation, "scan entries need device ids", "device_ids", nil)
		}
		for _, raw := range entry.DeviceIDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				return nil, errors.NewConfigFieldError(errors.CodeValidation, "invalid device id", "device_ids", raw)
			}
			job.devices = append(job.devices, id)
		}
		job.mode = store.ModeReal
		if entry.Mode != "" {
			job.mode = store.ScanMode(entry.Mode)
		}
		if !job.mode.Valid() {
			return nil, errors.NewConfigFieldError(errors.CodeValidation, "invalid scan mode", "mode", entry.Mode)
		}
	case config.KindDiscovery:
		if entry.Subnet == "" {
			return nil, errors.NewConfigFieldError(errors.CodeValidation, "discovery entries need a subnet", "subnet", nil)
		}
	default:
		return nil, errors.NewConfigFieldError(errors.CodeValidation, "invalid kind", "kind", entry.Kind)
	}
	return job, nil
}

// RemoveEntry unregisters the named entry.
func (s *Scheduler) RemoveEntry(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[name]
	if !exists {
		return errors.NewConfigFieldError(errors.CodeNotFound, "schedule entry not found", "name", name)
	}
	s.cron.Remove(job.CronID)
	delete(s.jobs, name)
	return nil
}

// Entries returns copies of all registered entries sorted by name.
func (s *Scheduler) Entries() []ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		cp := *job
		if s.running {
			cp.NextRun = s.cron.Entry(job.CronID).Next
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entry.Name < out[j].Entry.Name })
	return out
}

// RunNow fires the named entry immediately on the calling goroutine.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	_, exists := s.jobs[name]
	s.mu.RUnlock()
	if !exists {
		return errors.NewConfigFieldError(errors.CodeNotFound, "schedule entry not found", "name", name)
	}
	s.execute(name)
	return nil
}

func (s *Scheduler) execute(name string) {
	job, ok := s.prepare(name)
	if !ok {
		return
	}

	var err error
	switch job.Entry.Kind {
	case config.KindScan:
		err = s.runScans(job)
	case config.KindDiscovery:
		err = s.runDiscovery(job)
	}
	s.finish(name, err)
}

// prepare marks the entry running. Overlapping runs are skipped.
func (s *Scheduler) prepare(name string) (*ScheduledJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[name]
	if !exists {
		return nil, false
	}
	if job.Running {
		s.logger.Warn("Schedule entry is still running, skipping", "entry", name)
		return nil, false
	}
	job.Running = true
	job.LastRun = time.Now()
	cp := *job
	return &cp, true
}

func (s *Scheduler) finish(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[name]
	if !exists {
		return
	}
	job.Running = false
	job.Runs++
	job.LastError = ""
	if err != nil {
		job.LastError = err.Error()
	}
}

func (s *Scheduler) runScans(job *ScheduledJob) error {
	var firstErr error
	started := 0
	for _, id := range job.devices {
		scan, err := s.scans.Start(s.ctx, id, job.mode)
		switch {
		case err == nil:
			started++
			s.logger.InfoScan("Scheduled scan started", scan.ID.String(),
				"entry", job.Entry.Name, "device_id", id.String())
		case errors.IsCode(err, errors.CodeConflict):
			s.logger.Info("Device already has a running scan, skipping",
				"entry", job.Entry.Name, "device_id", id.String())
		default:
			s.logger.Error("Scheduled scan failed to start",
				"entry", job.Entry.Name, "device_id", id.String(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	s.logger.Debug("Schedule entry fired", "entry", job.Entry.Name, "started", started)
	return firstErr
}

func (s *Scheduler) runDiscovery(job *ScheduledJob) error {
	result, err := s.discovery.Discover(s.ctx, job.Entry.Subnet)
	if err != nil {
		return err
	}
	s.logger.InfoDiscovery("Scheduled discovery finished", result.Subnet,
		"entry", job.Entry.Name, "hosts_found", len(result.Hosts))
	return nil
}
