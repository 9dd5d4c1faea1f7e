package scanning

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/anstrom/iotaudit/internal/errors"
)

func TestFixedResourceManager_Acquire(t *testing.T) {
	t.Run("successful acquisition", func(t *testing.T) {
		rm := NewFixedResourceManager(5)

		if err := rm.Acquire(context.Background(), "job-1"); err != nil {
			t.Fatalf("Expected successful acquisition, got error: %v", err)
		}
		if rm.GetActiveScans() != 1 {
			t.Errorf("Expected 1 active scan, got %d", rm.GetActiveScans())
		}

		rm.Release("job-1")
	})

	t.Run("non-positive capacity means one slot", func(t *testing.T) {
		rm := NewFixedResourceManager(0)
		if rm.GetAvailableSlots() != 1 {
			t.Errorf("Expected 1 available slot, got %d", rm.GetAvailableSlots())
		}
	})

	t.Run("blocks when exhausted", func(t *testing.T) {
		rm := NewFixedResourceManager(2)
		ctx := context.Background()

		err1 := rm.Acquire(ctx, "job-1")
		err2 := rm.Acquire(ctx, "job-2")
		if err1 != nil || err2 != nil {
			t.Fatalf("Expected successful acquisition, got errors: %v, %v", err1, err2)
		}

		ctx3, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()

		err := rm.Acquire(ctx3, "job-3")
		if !errors.IsCode(err, errors.CodeCanceled) {
			t.Errorf("Expected canceled error, got %v", err)
		}

		rm.Release("job-1")
		rm.Release("job-2")
	})

	t.Run("waiter proceeds after release", func(t *testing.T) {
		rm := NewFixedResourceManager(1)
		ctx := context.Background()
		if err := rm.Acquire(ctx, "holder"); err != nil {
			t.Fatalf("Expected successful acquisition, got error: %v", err)
		}

		acquired := make(chan error, 1)
		go func() { acquired <- rm.Acquire(ctx, "waiter") }()

		select {
		case <-acquired:
			t.Fatal("Expected acquisition to block while the slot is held")
		case <-time.After(50 * time.Millisecond):
		}

		rm.Release("holder")
		select {
		case err := <-acquired:
			if err != nil {
				t.Fatalf("Expected waiter to acquire, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("Waiter never acquired the released slot")
		}
		rm.Release("waiter")
	})

	t.Run("rejected after close", func(t *testing.T) {
		rm := NewFixedResourceManager(1)
		if err := rm.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		err := rm.Acquire(context.Background(), "late")
		if !errors.IsCode(err, errors.CodeServiceUnavailable) {
			t.Errorf("Expected service unavailable, got %v", err)
		}
	})
}

func TestFixedResourceManager_Release(t *testing.T) {
	t.Run("proper release", func(t *testing.T) {
		rm := NewFixedResourceManager(3)
		ctx := context.Background()
		ids := []string{"job-1", "job-2", "job-3"}

		for _, id := range ids {
			if err := rm.Acquire(ctx, id); err != nil {
				t.Fatalf("Failed to acquire resource for %s: %v", id, err)
			}
		}
		if rm.GetAvailableSlots() != 0 {
			t.Errorf("Expected 0 available slots, got %d", rm.GetAvailableSlots())
		}

		for _, id := range ids {
			rm.Release(id)
		}
		if rm.GetActiveScans() != 0 {
			t.Errorf("Expected 0 active scans after release, got %d", rm.GetActiveScans())
		}
		if rm.GetAvailableSlots() != 3 {
			t.Errorf("Expected 3 available slots, got %d", rm.GetAvailableSlots())
		}
	})

	t.Run("unknown and repeated release", func(t *testing.T) {
		rm := NewFixedResourceManager(2)
		ctx := context.Background()
		if err := rm.Acquire(ctx, "job-1"); err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}

		rm.Release("missing")
		rm.Release("job-1")
		rm.Release("job-1")

		if rm.GetActiveScans() != 0 {
			t.Errorf("Expected 0 active scans, got %d", rm.GetActiveScans())
		}
		if err := rm.Acquire(ctx, "a"); err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		if err := rm.Acquire(ctx, "b"); err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
	})
}

func TestFixedResourceManager_ConcurrentAccess(t *testing.T) {
	rm := NewFixedResourceManager(10)
	ctx := context.Background()

	const workers = 50
	const jobsPerWorker = 5

	var wg sync.WaitGroup
	failures := make(chan error, workers*jobsPerWorker)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < jobsPerWorker; j++ {
				id := fmt.Sprintf("worker-%d-job-%d", worker, j)
				if err := rm.Acquire(ctx, id); err != nil {
					failures <- err
					return
				}
				time.Sleep(time.Millisecond)
				rm.Release(id)
			}
		}(i)
	}

	wg.Wait()
	close(failures)

	for err := range failures {
		t.Errorf("Concurrent operation failed: %v", err)
	}
	if rm.GetActiveScans() != 0 {
		t.Errorf("Expected 0 active scans after completion, got %d", rm.GetActiveScans())
	}
	if rm.GetAvailableSlots() != 10 {
		t.Errorf("Expected 10 available slots, got %d", rm.GetAvailableSlots())
	}
}

func TestFixedResourceManager_IsHealthy(t *testing.T) {
	t.Run("recent holders are healthy", func(t *testing.T) {
		rm := NewFixedResourceManager(2)
		ctx := context.Background()
		_ = rm.Acquire(ctx, "job-1")
		_ = rm.Acquire(ctx, "job-2")

		if !rm.IsHealthy() {
			t.Error("Expected healthy state with recent holders")
		}
	})

	t.Run("stuck holder is unhealthy", func(t *testing.T) {
		rm := NewFixedResourceManager(2)
		start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		now := start
		rm.now = func() time.Time { return now }

		_ = rm.Acquire(context.Background(), "stuck")
		now = start.Add(maxProbeDuration + time.Second)

		if rm.IsHealthy() {
			t.Error("Expected unhealthy state with a stuck holder")
		}

		rm.Release("stuck")
		if !rm.IsHealthy() {
			t.Error("Expected healthy state after release")
		}
	})

	t.Run("closed is unhealthy", func(t *testing.T) {
		rm := NewFixedResourceManager(1)
		_ = rm.Close()
		_ = rm.Close()

		if rm.IsHealthy() {
			t.Error("Expected unhealthy state after close")
		}
	})
}

func TestFixedResourceManager_GetStats(t *testing.T) {
	rm := NewFixedResourceManager(3)
	_ = rm.Acquire(context.Background(), "job-1")

	stats := rm.GetStats()
	if stats["capacity"] != 3 || stats["active_scans"] != 1 || stats["available_slots"] != 2 {
		t.Errorf("Unexpected stats: %v", stats)
	}
	if stats["is_healthy"] != true || stats["closed"] != false {
		t.Errorf("Unexpected health in stats: %v", stats)
	}
}
