package backfill

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Throttler bounds how many backfills may run into this node at once,
// globally and per source peer. A bootstrap acquires a lease before
// touching the backfiller and holds it for the whole bootstrap.
type Throttler struct {
	logger     *zap.Logger
	global     *semaphore.Weighted
	perPeerCap int64

	mu      sync.Mutex
	perPeer map[string]*semaphore.Weighted
}

// Lease is one acquired backfill slot.
type Lease struct {
	t    *Throttler
	peer *semaphore.Weighted
	once sync.Once
}

// NewThrottler returns a throttler with the given global and per-peer
// concurrency caps.
func NewThrottler(maxGlobal, maxPerPeer int, logger *zap.Logger) *Throttler {
	return &Throttler{
		logger:     logger,
		global:     semaphore.NewWeighted(int64(maxGlobal)),
		perPeerCap: int64(maxPerPeer),
		perPeer:    make(map[string]*semaphore.Weighted),
	}
}

// Acquire blocks until a slot is free for the given source peer.
func (t *Throttler) Acquire(ctx context.Context, peer string) (*Lease, error) {
	t.mu.Lock()
	sem, ok := t.perPeer[peer]
	if !ok {
		sem = semaphore.NewWeighted(t.perPeerCap)
		t.perPeer[peer] = sem
	}
	t.mu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := t.global.Acquire(ctx, 1); err != nil {
		sem.Release(1)
		return nil, err
	}
	t.logger.Debug("Acquired backfill slot", zap.String("peer", peer))
	return &Lease{t: t, peer: sem}, nil
}

// Release frees the slot. Releasing twice is harmless.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.t.global.Release(1)
		l.peer.Release(1)
	})
}
