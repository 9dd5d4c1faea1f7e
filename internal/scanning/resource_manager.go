package scanning

import (
	"context"
	"sync"
	"time"

	"github.com/anstrom/iotaudit/internal/errors"
)

const (
	// maxProbeDuration is how long a slot may be held before it counts as stuck.
	maxProbeDuration = 30 * time.Minute
)

// ResourceManager limits how many real scans probe at the same time.
type ResourceManager interface {
	// Acquire blocks until a slot is free for jobID or ctx ends.
	Acquire(ctx context.Context, jobID string) error

	// Release frees the slot held by jobID. Unknown ids are ignored.
	Release(jobID string)

	// GetActiveScans returns the number of held slots.
	GetActiveScans() int

	// GetAvailableSlots returns the number of free slots.
	GetAvailableSlots() int

	// IsHealthy reports false once closed or when a slot looks stuck.
	IsHealthy() bool

	// Close releases every slot and rejects further acquisitions.
	Close() error

	// GetStats returns a summary for health endpoints.
	GetStats() map[string]interface{}
}

// FixedResourceManager is a ResourceManager with a fixed number of slots.
type FixedResourceManager struct {
	capacity  int
	semaphore chan struct{}
	holders   map[string]time.Time
	mutex     sync.RWMutex
	closed    bool
	now       func() time.Time
}

var _ ResourceManager = (*FixedResourceManager)(nil)

// NewFixedResourceManager creates a manager with capacity slots, at least one.
func NewFixedResourceManager(capacity int) *FixedResourceManager {
	if capacity <= 0 {
		capacity = 1
	}

	return &FixedResourceManager{
		capacity:  capacity,
		semaphore: make(chan struct{}, capacity),
		holders:   make(map[string]time.Time),
		now:       time.Now,
	}
}

// Acquire blocks until a slot is free for jobID or ctx ends.
func (rm *FixedResourceManager) Acquire(ctx context.Context, jobID string) error {
	rm.mutex.RLock()
	closed := rm.closed
	rm.mutex.RUnlock()
	if closed {
		return errors.NewScanError(errors.CodeServiceUnavailable, "resource manager is closed")
	}

	select {
	case rm.semaphore <- struct{}{}:
		rm.mutex.Lock()
		rm.holders[jobID] = rm.now()
		rm.mutex.Unlock()
		return nil
	case <-ctx.Done():
		return errors.WrapScanError(errors.CodeCanceled, "waiting for a probe slot", ctx.Err())
	}
}

// Release frees the slot held by jobID.
func (rm *FixedResourceManager) Release(jobID string) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	if _, exists := rm.holders[jobID]; !exists {
		return
	}
	delete(rm.holders, jobID)

	select {
	case <-rm.semaphore:
	default:
	}
}

// GetActiveScans returns the number of held slots.
func (rm *FixedResourceManager) GetActiveScans() int {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	return len(rm.holders)
}

// GetAvailableSlots returns the number of free slots.
func (rm *FixedResourceManager) GetAvailableSlots() int {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	return rm.capacity - len(rm.holders)
}

// IsHealthy reports false once closed or when any slot has been held
// longer than maxProbeDuration.
func (rm *FixedResourceManager) IsHealthy() bool {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	return rm.healthyLocked()
}

func (rm *FixedResourceManager) healthyLocked() bool {
	if rm.closed {
		return false
	}
	now := rm.now()
	for _, since := range rm.holders {
		if now.Sub(since) > maxProbeDuration {
			return false
		}
	}
	return true
}

// Close releases every slot and rejects further acquisitions.
func (rm *FixedResourceManager) Close() error {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	if rm.closed {
		return nil
	}
	rm.closed = true
	rm.holders = make(map[string]time.Time)

	for {
		select {
		case <-rm.semaphore:
		default:
			return nil
		}
	}
}

// GetStats returns a summary for health endpoints.
func (rm *FixedResourceManager) GetStats() map[string]interface{} {
	rm.mutex.RLock()
	defer rm.mutex.RUnlock()

	return map[string]interface{}{
		"capacity":        rm.capacity,
		"active_scans":    len(rm.holders),
		"available_slots": rm.capacity - len(rm.holders),
		"is_healthy":      rm.healthyLocked(),
		"closed":          rm.closed,
	}
}
