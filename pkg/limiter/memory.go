// Package limiter bounds the memory held by concurrent codec workers.
package limiter

import (
	"context"
	"errors"
	"sync"
)

// ErrExceedsCapacity is returned when a single request is larger than the whole budget.
var ErrExceedsCapacity = errors.New("request exceeds memory budget")

// Memory manages a shared memory budget to control concurrency
// based on memory usage rather than just a fixed number of workers.
// It is thread-safe.
type Memory struct {
	mu        sync.Mutex
	available int64
	capacity  int64
	// released is closed and replaced on every Release to wake waiters.
	released chan struct{}
}

// NewMemory creates a new memory limiter with the specified total capacity in bytes.
func NewMemory(limit int64) *Memory {
	return &Memory{
		available: limit,
		capacity:  limit,
		released:  make(chan struct{}),
	}
}

// TryAcquire attempts to reserve 'n' bytes from the memory budget.
// It returns false if there is not enough budget currently available,
// or if 'n' is greater than the total capacity of the limiter.
func (m *Memory) TryAcquire(n int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n > m.capacity {
		return false
	}
	if m.available >= n {
		m.available -= n
		return true
	}
	return false
}

// Acquire reserves 'n' bytes, waiting for other holders to release budget.
// It fails immediately with ErrExceedsCapacity if n can never be satisfied.
func (m *Memory) Acquire(ctx context.Context, n int64) error {
	for {
		m.mu.Lock()
		if n > m.capacity {
			m.mu.Unlock()
			return ErrExceedsCapacity
		}
		if m.available >= n {
			m.available -= n
			m.mu.Unlock()
			return nil
		}
		wait := m.released
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// Release returns 'n' bytes back to the budget.
// This must be called after a successful TryAcquire or Acquire.
func (m *Memory) Release(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.available += n
	// Guard against double release by the caller.
	if m.available > m.capacity {
		m.available = m.capacity
	}
	close(m.released)
	m.released = make(chan struct{})
}

// Available returns the amount of memory currently available.
func (m *Memory) Available() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// Capacity returns the total capacity of the limiter.
func (m *Memory) Capacity() int64 {
	return m.capacity
}
