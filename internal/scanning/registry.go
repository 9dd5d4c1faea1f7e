package scanning

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/anstrom/iotaudit/internal/errors"
	"github.com/anstrom/iotaudit/internal/store"
)

type handle struct {
	job  *Job
	done chan struct{}
	// pending until the job is persisted; pending jobs are invisible to
	// lookups and to Shutdown.
	pending bool
}

// Registry tracks jobs whose driver is still running. It allows one
// running job per device and owns the wait group of driver goroutines.
type Registry struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*handle
	byDevice map[uuid.UUID]uuid.UUID
	closing  bool
	wg       sync.WaitGroup
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		jobs:     make(map[uuid.UUID]*handle),
		byDevice: make(map[uuid.UUID]uuid.UUID),
	}
}

// register reserves a slot for job and counts it in the wait group. It
// fails with CodeConflict when the device already has a live job and with
// CodeServiceUnavailable once shutdown started. The job stays pending until
// activate; a reserved slot must end in run or abandon.
func (r *Registry) register(job *Job) (*handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closing {
		return nil, errors.NewScanError(errors.CodeServiceUnavailable, "engine is shutting down")
	}
	if existing, ok := r.byDevice[job.DeviceID()]; ok {
		return nil, errors.NewScanErrorWithTarget(errors.CodeConflict,
			"device already has a running scan", job.DeviceID().String()).
			WithContext("job_id", existing.String())
	}

	h := &handle{job: job, done: make(chan struct{}), pending: true}
	r.jobs[job.ID()] = h
	r.byDevice[job.DeviceID()] = job.ID()
	r.wg.Add(1)
	return h, nil
}

// activate makes a persisted job visible. It fails when shutdown started
// while the job was being persisted.
func (r *Registry) activate(h *handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing {
		return errors.NewScanError(errors.CodeServiceUnavailable, "engine is shutting down")
	}
	h.pending = false
	return nil
}

// abandon releases a slot whose driver never started.
func (r *Registry) abandon(h *handle) {
	r.remove(h.job.ID())
	close(h.done)
	r.wg.Done()
}

func (r *Registry) remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.jobs[id]
	if !ok {
		return
	}
	delete(r.jobs, id)
	if r.byDevice[h.job.DeviceID()] == id {
		delete(r.byDevice, h.job.DeviceID())
	}
}

// run starts fn for an activated job. The job is removed and its done
// channel closed when fn returns.
func (r *Registry) run(h *handle, fn func()) {
	go func() {
		defer r.wg.Done()
		defer close(h.done)
		defer r.remove(h.job.ID())
		fn()
	}()
}

// Lookup returns the live job with the given id.
func (r *Registry) Lookup(id uuid.UUID) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.jobs[id]
	if !ok || h.pending {
		return nil, false
	}
	return h.job, true
}

func (r *Registry) lookupHandle(id uuid.UUID) (*handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.jobs[id]
	if !ok || h.pending {
		return nil, false
	}
	return h, true
}

// live returns the jobs that are not pending. Callers hold r.mu.
func (r *Registry) live() []*Job {
	jobs := make([]*Job, 0, len(r.jobs))
	for _, h := range r.jobs {
		if !h.pending {
			jobs = append(jobs, h.job)
		}
	}
	return jobs
}

// Active returns snapshots of all live jobs.
func (r *Registry) Active() []*store.Job {
	r.mu.Lock()
	jobs := r.live()
	r.mu.Unlock()

	out := make([]*store.Job, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Snapshot())
	}
	return out
}

// Len returns the number of live jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live())
}

// Shutdown rejects new jobs, stops every live job and waits for their
// drivers to return or for ctx to end.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	jobs := r.live()
	r.mu.Unlock()

	for _, j := range jobs {
		if err := j.Stop(ctx); err != nil && !errors.IsCode(err, errors.CodeInvalidTransition) {
			j.logger.Warn("Failed to stop scan during shutdown", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.WrapScanError(errors.CodeTimeout, "timed out waiting for scans to stop", ctx.Err())
	}
}
