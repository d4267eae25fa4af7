// Package replica implements the secondary-replica bootstrap and
// streaming engine: it takes a store for a region from empty or stale to
// fully synchronized with the primary's write stream, then services
// writes and reads through a thin façade.
package replica

import (
	"context"
	"fmt"
	"sync"

	"github.com/devrev/pairdb/replica-node/internal/model"
)

// TimestampEnforcer serializes events keyed by state timestamp. Events
// mark themselves complete; waiters park until every timestamp up to a
// threshold has completed. Completing a timestamp at or below the floor,
// or twice, is a programmer error and panics.
type TimestampEnforcer struct {
	mu sync.Mutex

	begin model.StateTimestamp
	// latest is the supremum T such that every timestamp in
	// (begin, T] has been completed. begin itself counts as complete.
	latest    model.StateTimestamp
	completed map[model.StateTimestamp]struct{}
	waiters   []enforcerWaiter
}

type enforcerWaiter struct {
	threshold model.StateTimestamp
	ch        chan struct{}
}

// NewTimestampEnforcer returns an enforcer considering everything up to
// and including begin already complete.
func NewTimestampEnforcer(begin model.StateTimestamp) *TimestampEnforcer {
	return &TimestampEnforcer{
		begin:     begin,
		latest:    begin,
		completed: make(map[model.StateTimestamp]struct{}),
	}
}

// Complete marks ts as completed, advancing the completion frontier and
// waking eligible waiters.
func (e *TimestampEnforcer) Complete(ts model.StateTimestamp) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ts <= e.latest {
		panic(fmt.Sprintf("timestamp enforcer: %s completed twice (frontier %s)", ts, e.latest))
	}
	if _, dup := e.completed[ts]; dup {
		panic(fmt.Sprintf("timestamp enforcer: %s completed twice", ts))
	}
	e.completed[ts] = struct{}{}

	for {
		next := e.latest.Next()
		if _, ok := e.completed[next]; !ok {
			break
		}
		delete(e.completed, next)
		e.latest = next
	}

	remaining := e.waiters[:0]
	for _, w := range e.waiters {
		if w.threshold <= e.latest {
			close(w.ch)
		} else {
			remaining = append(remaining, w)
		}
	}
	e.waiters = remaining
}

// WaitAllBefore suspends until every timestamp in [begin, ts] has been
// completed, or ctx is cancelled.
func (e *TimestampEnforcer) WaitAllBefore(ctx context.Context, ts model.StateTimestamp) error {
	e.mu.Lock()
	if ts <= e.latest {
		e.mu.Unlock()
		return nil
	}
	w := enforcerWaiter{threshold: ts, ch: make(chan struct{})}
	e.waiters = append(e.waiters, w)
	e.mu.Unlock()

	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		e.mu.Lock()
		for i := range e.waiters {
			if e.waiters[i].ch == w.ch {
				e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
				break
			}
		}
		e.mu.Unlock()
		return ctx.Err()
	}
}

// LatestAllBeforeCompleted returns the current completion frontier.
func (e *TimestampEnforcer) LatestAllBeforeCompleted() model.StateTimestamp {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latest
}
