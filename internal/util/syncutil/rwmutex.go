// Package syncutil carries the cooperative synchronization primitives the
// bootstrap engine suspends on: a context-aware reader/writer lock and a
// one-shot pulse condition.
package syncutil

import (
	"context"

	"golang.org/x/sync/semaphore"
)

const maxReaders = 1 << 30

// RWMutex is a reader/writer lock whose acquires are cancellable. It is
// built on a weighted semaphore: readers weigh 1, the writer weighs the
// whole capacity, and the semaphore's FIFO wait queue keeps a parked
// writer from being starved by later readers.
type RWMutex struct {
	sem *semaphore.Weighted
}

// NewRWMutex returns an unlocked lock.
func NewRWMutex() *RWMutex {
	return &RWMutex{sem: semaphore.NewWeighted(maxReaders)}
}

// RLock acquires the lock in shared mode.
func (l *RWMutex) RLock(ctx context.Context) error {
	return l.sem.Acquire(ctx, 1)
}

// RUnlock releases a shared hold.
func (l *RWMutex) RUnlock() {
	l.sem.Release(1)
}

// Lock acquires the lock in exclusive mode.
func (l *RWMutex) Lock(ctx context.Context) error {
	return l.sem.Acquire(ctx, maxReaders)
}

// Unlock releases the exclusive hold.
func (l *RWMutex) Unlock() {
	l.sem.Release(maxReaders)
}
