package scanning

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/iotaudit/internal/config"
	"github.com/anstrom/iotaudit/internal/errors"
	"github.com/anstrom/iotaudit/internal/heuristics"
	"github.com/anstrom/iotaudit/internal/logging"
	"github.com/anstrom/iotaudit/internal/metrics"
	"github.com/anstrom/iotaudit/internal/notify"
	"github.com/anstrom/iotaudit/internal/probe"
	"github.com/anstrom/iotaudit/internal/store"
)

const (
	defaultTick = 3 * time.Second
	toolName    = "nmap"
)

// driver moves a job from its first phase to a terminal state.
type driver interface {
	run(ctx context.Context, job *Job, device *store.Device) error
}

// Options configures an Engine. Store is required; everything else has a
// default. Without a Runner real scans report the tool as unavailable.
type Options struct {
	Store     store.Store
	Sink      notify.Sink
	Runner    probe.Runner
	Config    *config.EngineConfig
	Detector  *heuristics.Detector
	Registry  *Registry
	Resources ResourceManager
	Clock     Clock
	Metrics   metrics.Recorder
	Logger    *logging.Logger
}

// Engine starts, tracks and stops scan jobs.
type Engine struct {
	store     store.Store
	sink      notify.Sink
	runner    probe.Runner
	registry  *Registry
	resources ResourceManager
	clock     Clock
	metrics   metrics.Recorder
	logger    *logging.Logger

	simulated driver
	real      driver

	root   context.Context
	cancel context.CancelFunc
}

// NewEngine creates an engine.
func NewEngine(opts Options) *Engine {
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.Default().Engine
	}
	e := &Engine{
		store:     opts.Store,
		sink:      opts.Sink,
		runner:    opts.Runner,
		registry:  opts.Registry,
		resources: opts.Resources,
		clock:     opts.Clock,
		metrics:   metrics.OrNoop(opts.Metrics),
		logger:    opts.Logger,
	}
	if e.sink == nil {
		e.sink = notify.Discard{}
	}
	if e.registry == nil {
		e.registry = NewRegistry()
	}
	if e.resources == nil {
		e.resources = NewFixedResourceManager(cfg.MaxConcurrentProbes)
	}
	if e.clock == nil {
		e.clock = SystemClock()
	}
	if e.logger == nil {
		e.logger = logging.Default()
	}
	e.logger = e.logger.WithComponent("scanning")

	detector := opts.Detector
	if detector == nil {
		detector = heuristics.New()
	}
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = defaultTick
	}

	e.simulated = &simulatedDriver{clock: e.clock, tick: tick}
	e.real = &realDriver{
		store:     e.store,
		runner:    e.runner,
		builder:   probe.NewNmapBuilder(cfg),
		detector:  detector,
		resources: e.resources,
		clock:     e.clock,
		metrics:   e.metrics,
		logger:    e.logger,
	}
	e.root, e.cancel = context.WithCancel(context.Background())
	return e
}

// StartSimulated starts a simulated scan of a device.
func (e *Engine) StartSimulated(ctx context.Context, deviceID uuid.UUID) (*store.Job, error) {
	return e.Start(ctx, deviceID, store.ModeSimulated)
}

// StartReal starts a real scan of a device.
func (e *Engine) StartReal(ctx context.Context, deviceID uuid.UUID) (*store.Job, error) {
	return e.Start(ctx, deviceID, store.ModeReal)
}

// Start creates a job for the device and runs it in the background. It
// returns the job as created. Real scans fail with CodeToolUnavailable,
// before any job exists, when nmap cannot be run.
func (e *Engine) Start(ctx context.Context, deviceID uuid.UUID, mode store.ScanMode) (*store.Job, error) {
	if !mode.Valid() {
		return nil, errors.NewScanError(errors.CodeValidation, fmt.Sprintf("unknown scan mode %q", mode))
	}

	device, err := e.store.GetDevice(ctx, deviceID)
	if err != nil {
		if errors.IsCode(err, errors.CodeNotFound) {
			return nil, errors.ErrDeviceNotFound(deviceID.String())
		}
		return nil, err
	}

	drv := e.simulated
	if mode == store.ModeReal {
		if e.runner == nil || !e.runner.IsAvailable(ctx) {
			return nil, errors.ErrToolUnavailable(toolName, nil)
		}
		if err := probe.ValidateTarget(device.IPAddress); err != nil {
			return nil, err
		}
		drv = e.real
	}

	now := e.clock.Now()
	state := &store.Job{
		ID:        uuid.New(),
		DeviceID:  device.ID,
		Mode:      mode,
		Status:    store.JobRunning,
		Phases:    newPhaseStates(PhasesFor(mode), now),
		StartTime: now,
	}

	jobCtx, cancel := context.WithCancel(e.root)
	job := newJob(state, cancel, jobDeps{
		store:   e.store,
		sink:    e.sink,
		clock:   e.clock,
		metrics: e.metrics,
		logger:  e.logger,
	})

	h, err := e.registry.register(job)
	if err != nil {
		cancel()
		return nil, err
	}
	if err := e.store.CreateJob(ctx, state.Clone()); err != nil {
		e.registry.abandon(h)
		cancel()
		return nil, err
	}
	if err := e.registry.activate(h); err != nil {
		if stopErr := job.Stop(ctx); stopErr != nil {
			e.logger.ErrorScan("Failed to record stop of rejected scan", state.ID.String(), stopErr)
		}
		e.registry.abandon(h)
		return nil, err
	}

	e.metrics.ScanStarted(string(mode))
	e.logger.InfoScan("Scan started", state.ID.String(),
		"device_id", device.ID.String(),
		"ip", device.IPAddress,
		"mode", string(mode))

	snapshot := job.Snapshot()
	e.registry.run(h, func() {
		defer cancel()
		e.drive(jobCtx, job, device, drv)
	})
	return snapshot, nil
}

// drive runs the driver and fails the job on error. Errors from a job that
// is already terminal, typically because it was stopped, are dropped.
func (e *Engine) drive(ctx context.Context, job *Job, device *store.Device, drv driver) {
	jobID := job.ID().String()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Scan driver panicked", "job_id", jobID, "panic", r)
			e.failJob(ctx, job, fmt.Sprintf("internal error: %v", r))
		}
	}()

	err := drv.run(ctx, job, device)
	if err == nil {
		return
	}
	if job.Status().IsTerminal() {
		e.logger.Debug("Dropping error from finished scan", "job_id", jobID, "error", err)
		return
	}
	e.logger.ErrorScan("Scan failed", jobID, err)
	e.failJob(ctx, job, err.Error())
}

func (e *Engine) failJob(ctx context.Context, job *Job, reason string) {
	err := job.Fail(context.WithoutCancel(ctx), reason)
	if err != nil && !errors.IsCode(err, errors.CodeInvalidTransition) {
		e.logger.ErrorScan("Failed to record scan failure", job.ID().String(), err)
	}
}

// Stop stops a running job and returns its final state.
func (e *Engine) Stop(ctx context.Context, jobID uuid.UUID) (*store.Job, error) {
	job, ok := e.registry.Lookup(jobID)
	if !ok {
		stored, err := e.store.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		return nil, errors.NewContractError(errors.CodeInvalidTransition,
			fmt.Sprintf("cannot stop a %s job", stored.Status), jobID.String())
	}
	if err := job.Stop(ctx); err != nil {
		return nil, err
	}
	return job.Snapshot(), nil
}

// Get returns the current state of a job, live or finished.
func (e *Engine) Get(ctx context.Context, jobID uuid.UUID) (*store.Job, error) {
	if job, ok := e.registry.Lookup(jobID); ok {
		return job.Snapshot(), nil
	}
	return e.store.GetJob(ctx, jobID)
}

// List returns stored jobs matching filter.
func (e *Engine) List(ctx context.Context, filter store.JobFilter) ([]*store.Job, error) {
	return e.store.ListJobs(ctx, filter)
}

// Active returns snapshots of the jobs still running.
func (e *Engine) Active() []*store.Job {
	return e.registry.Active()
}

// Wait blocks until the job's driver has returned, then returns its state.
func (e *Engine) Wait(ctx context.Context, jobID uuid.UUID) (*store.Job, error) {
	if h, ok := e.registry.lookupHandle(jobID); ok {
		select {
		case <-h.done:
			return h.job.Snapshot(), nil
		case <-ctx.Done():
			return nil, errors.WrapScanError(errors.CodeCanceled, "waiting for scan", ctx.Err())
		}
	}
	return e.store.GetJob(ctx, jobID)
}

// Stats returns probe slot usage and the number of live jobs.
func (e *Engine) Stats() map[string]interface{} {
	stats := e.resources.GetStats()
	stats["running_jobs"] = e.registry.Len()
	return stats
}

// Shutdown stops every running job and waits for their drivers.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Info("Shutting down scan engine", "running_jobs", e.registry.Len())
	err := e.registry.Shutdown(ctx)
	e.cancel()
	if cerr := e.resources.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
