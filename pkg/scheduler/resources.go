package scheduler

import (
	"fmt"
	"sync"
)

// ResourceManager tracks memory and concurrency budgets for template
// execution.
type ResourceManager struct {
	mu sync.Mutex

	maxMemoryBytes     int64
	currentMemoryBytes int64
	maxConcurrent      int
	currentConcurrent  int
}

// NewResourceManager builds a manager with the given budgets.
func NewResourceManager(maxMemoryBytes int64, maxConcurrent int) *ResourceManager {
	return &ResourceManager{
		maxMemoryBytes: maxMemoryBytes,
		maxConcurrent:  maxConcurrent,
	}
}

// CanAllocate reports whether a unit needing memoryBytes fits the
// remaining budget.
func (r *ResourceManager) CanAllocate(memoryBytes int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canAllocateLocked(memoryBytes)
}

func (r *ResourceManager) canAllocateLocked(memoryBytes int64) bool {
	return r.currentMemoryBytes+memoryBytes <= r.maxMemoryBytes &&
		r.currentConcurrent < r.maxConcurrent
}

// Allocate reserves memoryBytes and one concurrency slot.
func (r *ResourceManager) Allocate(memoryBytes int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.canAllocateLocked(memoryBytes) {
		return fmt.Errorf("resource limit: %d/%d bytes, %d/%d slots in use",
			r.currentMemoryBytes, r.maxMemoryBytes, r.currentConcurrent, r.maxConcurrent)
	}
	r.currentMemoryBytes += memoryBytes
	r.currentConcurrent++
	return nil
}

// Release returns memoryBytes and one slot, saturating at zero.
func (r *ResourceManager) Release(memoryBytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentMemoryBytes -= memoryBytes
	if r.currentMemoryBytes < 0 {
		r.currentMemoryBytes = 0
	}
	if r.currentConcurrent > 0 {
		r.currentConcurrent--
	}
}

// CurrentMemoryBytes returns the reserved memory.
func (r *ResourceManager) CurrentMemoryBytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentMemoryBytes
}

// CurrentConcurrent returns the slots in use.
func (r *ResourceManager) CurrentConcurrent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentConcurrent
}
