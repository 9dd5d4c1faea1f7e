package scanning

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/anstrom/iotaudit/internal/errors"
	"github.com/anstrom/iotaudit/internal/logging"
	"github.com/anstrom/iotaudit/internal/metrics"
	"github.com/anstrom/iotaudit/internal/notify"
	"github.com/anstrom/iotaudit/internal/store"
)

const (
	minProgress = 0
	maxProgress = 100
)

// Job is the state machine for one scan. All transitions, the store write
// that follows each of them and the resulting notification happen under
// the job's lock.
//
// A transition is computed on a copy and only becomes visible once the
// store accepted it, so a failed write leaves the job unchanged.
type Job struct {
	id       uuid.UUID
	deviceID uuid.UUID

	mu     sync.Mutex
	state  *store.Job
	cancel context.CancelFunc

	store   store.Store
	sink    notify.Sink
	clock   Clock
	metrics metrics.Recorder
	logger  *logging.Logger
}

type jobDeps struct {
	store   store.Store
	sink    notify.Sink
	clock   Clock
	metrics metrics.Recorder
	logger  *logging.Logger
}

func newJob(state *store.Job, cancel context.CancelFunc, deps jobDeps) *Job {
	return &Job{
		id:       state.ID,
		deviceID: state.DeviceID,
		state:    state,
		cancel:   cancel,
		store:    deps.store,
		sink:     deps.sink,
		clock:    deps.clock,
		metrics:  deps.metrics,
		logger:   deps.logger.WithJobID(state.ID.String()),
	}
}

// ID returns the job id.
func (j *Job) ID() uuid.UUID {
	return j.id
}

// DeviceID returns the id of the scanned device.
func (j *Job) DeviceID() uuid.UUID {
	return j.deviceID
}

// Snapshot returns a copy of the current job state.
func (j *Job) Snapshot() *store.Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state.Clone()
}

// Status returns the current status.
func (j *Job) Status() store.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state.Status
}

func (j *Job) terminalError(op string) error {
	return errors.NewContractError(errors.CodeInvalidTransition,
		fmt.Sprintf("cannot %s a %s job", op, j.state.Status), j.state.ID.String())
}

// AdvancePhase sets the progress of phase idx. Progress is clamped to
// 0..100. At 100 the phase completes and the next one, if any, starts at
// 0. Earlier phases that are still open are completed first so at most one
// phase is ever running.
//
// Every call is persisted and reported, including intermediate progress.
func (j *Job) AdvancePhase(ctx context.Context, idx, progress int) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state.Status.IsTerminal() {
		return j.terminalError("advance")
	}
	if idx < 0 || idx >= len(j.state.Phases) {
		return errors.NewContractError(errors.CodeInvalidPhaseIndex,
			fmt.Sprintf("phase index %d out of range [0,%d)", idx, len(j.state.Phases)), j.state.ID.String())
	}
	progress = max(minProgress, min(maxProgress, progress))
	if j.state.Phases[idx].Status == store.PhaseCompleted && progress < maxProgress {
		return errors.NewContractError(errors.CodeInvalidTransition,
			fmt.Sprintf("phase %q is already completed", j.state.Phases[idx].Name), j.state.ID.String())
	}

	next := j.state.Clone()
	var completed []string
	for i := 0; i < idx; i++ {
		if j.completePhase(next, i) {
			completed = append(completed, next.Phases[i].Name)
		}
	}

	phase := &next.Phases[idx]
	if progress == maxProgress {
		if j.completePhase(next, idx) {
			completed = append(completed, phase.Name)
		}
		if idx+1 < len(next.Phases) && next.Phases[idx+1].Status == store.PhasePending {
			j.startPhase(next, idx+1)
		}
	} else {
		if phase.Status == store.PhasePending {
			j.startPhase(next, idx)
		}
		phase.Progress = progress
	}

	if err := j.store.UpdateJob(ctx, next); err != nil {
		return errors.WrapScanError(errors.CodeScanFailed, "failed to persist phase progress", err)
	}
	j.state = next

	for _, name := range completed {
		j.metrics.PhaseCompleted(string(next.Mode), name)
	}
	j.sink.OnProgress(notify.ProgressEvent{
		JobID:      next.ID,
		DeviceID:   next.DeviceID,
		PhaseIndex: idx,
		Phase:      next.Phases[idx].Name,
		Progress:   progress,
		Overall:    notify.OverallProgress(next.Phases),
		Phases:     next.Clone().Phases,
	})
	return nil
}

func (j *Job) startPhase(state *store.Job, idx int) {
	now := j.clock.Now()
	p := &state.Phases[idx]
	p.Status = store.PhaseRunning
	p.Progress = 0
	p.StartedAt = &now
}

// completePhase reports whether the phase changed state.
func (j *Job) completePhase(state *store.Job, idx int) bool {
	p := &state.Phases[idx]
	if p.Status == store.PhaseCompleted {
		p.Progress = maxProgress
		return false
	}
	p.Status = store.PhaseCompleted
	p.Progress = maxProgress
	if p.StartedAt != nil {
		p.Elapsed = store.Duration(j.clock.Now().Sub(*p.StartedAt))
	}
	return true
}

// Complete finishes the job. Every phase is forced to completed and the
// metadata is attached to the job result and the summary.
func (j *Job) Complete(ctx context.Context, metadata map[string]any) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state.Status.IsTerminal() {
		return j.terminalError("complete")
	}

	next := j.state.Clone()
	for i := range next.Phases {
		j.completePhase(next, i)
	}
	if len(metadata) > 0 {
		next.Result = make(map[string]any, len(metadata))
		for k, v := range metadata {
			next.Result[k] = v
		}
	}
	if err := j.finish(ctx, next, store.JobCompleted); err != nil {
		return err
	}

	j.sink.OnCompleted(notify.Summary{
		JobID:     next.ID,
		DeviceID:  next.DeviceID,
		Mode:      next.Mode,
		StartTime: next.StartTime,
		EndTime:   *next.EndTime,
		Duration:  next.Duration,
		Phases:    next.Clone().Phases,
		Metadata:  metadata,
	})
	j.logger.InfoScan("Scan completed", next.ID.String(), "duration", next.Duration.Std())
	return nil
}

// Fail finishes the job with a reason. It does not retry.
func (j *Job) Fail(ctx context.Context, reason string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state.Status.IsTerminal() {
		return j.terminalError("fail")
	}

	next := j.state.Clone()
	next.Error = reason
	if err := j.finish(ctx, next, store.JobFailed); err != nil {
		return err
	}

	j.sink.OnFailed(next.ID, reason)
	j.logger.Warn("Scan failed", "reason", reason)
	return nil
}

// Stop cancels any in-flight probe and finishes the job as stopped. The
// probe is cancelled even when recording the stop fails.
func (j *Job) Stop(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state.Status.IsTerminal() {
		return j.terminalError("stop")
	}
	if j.cancel != nil {
		j.cancel()
	}

	next := j.state.Clone()
	if err := j.finish(ctx, next, store.JobStopped); err != nil {
		return err
	}

	j.sink.OnStopped(next.ID)
	j.logger.InfoScan("Scan stopped", next.ID.String())
	return nil
}

// finish applies a terminal status to next, persists it and commits it.
// The write ignores cancellation of ctx so a stopped job is still recorded.
func (j *Job) finish(ctx context.Context, next *store.Job, status store.JobStatus) error {
	end := j.clock.Now()
	next.Status = status
	next.EndTime = &end
	next.Duration = store.Duration(end.Sub(next.StartTime))

	if err := j.store.UpdateJob(context.WithoutCancel(ctx), next); err != nil {
		return errors.WrapScanError(errors.CodeScanFailed,
			fmt.Sprintf("failed to persist %s job", status), err)
	}
	j.state = next
	j.metrics.ScanFinished(string(next.Mode), string(status), next.Duration.Std())
	return nil
}
