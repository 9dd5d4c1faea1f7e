package scanning

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/iotaudit/internal/logging"
	"github.com/anstrom/iotaudit/internal/notify"
	"github.com/anstrom/iotaudit/internal/store"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type waiter struct {
	at time.Time
	ch chan time.Time
}

// fakeClock only moves when Advance is called.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: epoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, waiter{at: c.now.Add(d), ch: ch})
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	pending := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.at.After(c.now) {
			w.ch <- c.now
			continue
		}
		pending = append(pending, w)
	}
	c.waiters = pending
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// BlockUntil waits until n goroutines are sleeping on the clock.
func (c *fakeClock) BlockUntil(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return c.pending() == n }, 2*time.Second, time.Millisecond)
}

// recordingSink keeps every event in arrival order.
type recordingSink struct {
	mu        sync.Mutex
	progress  []notify.ProgressEvent
	completed []notify.Summary
	failed    []string
	stopped   []uuid.UUID
	order     []string
}

func (r *recordingSink) OnProgress(e notify.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, e)
	r.order = append(r.order, "progress")
}

func (r *recordingSink) OnCompleted(s notify.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, s)
	r.order = append(r.order, "completed")
}

func (r *recordingSink) OnFailed(_ uuid.UUID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, reason)
	r.order = append(r.order, "failed")
}

func (r *recordingSink) OnStopped(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = append(r.stopped, id)
	r.order = append(r.order, "stopped")
}

func (r *recordingSink) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func (r *recordingSink) progressEvents() []notify.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.ProgressEvent(nil), r.progress...)
}

func newDevice(t *testing.T, st store.Store, ip string) *store.Device {
	t.Helper()
	d := &store.Device{Name: "device-" + ip, IPAddress: ip, Type: "camera"}
	require.NoError(t, st.CreateDevice(context.Background(), d))
	return d
}

// requirePhaseInvariant checks that at most one phase runs, everything
// before it is completed and everything after it is pending.
func requirePhaseInvariant(t *testing.T, phases []store.PhaseState) {
	t.Helper()
	running := -1
	for i, p := range phases {
		if p.Status == store.PhaseCompleted {
			require.Equal(t, 100, p.Progress, "completed phase %d", i)
		}
		if p.Status == store.PhaseRunning {
			require.Equal(t, -1, running, "second running phase %d", i)
			running = i
		}
	}
	if running < 0 {
		return
	}
	for i, p := range phases {
		switch {
		case i < running:
			require.Equal(t, store.PhaseCompleted, p.Status, "phase %d before running", i)
		case i > running:
			require.Equal(t, store.PhasePending, p.Status, "phase %d after running", i)
		}
	}
}

func testLogger() *logging.Logger {
	return logging.Discard()
}
