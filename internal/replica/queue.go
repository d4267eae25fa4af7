package replica

import (
	"sync"

	"github.com/devrev/pairdb/replica-node/internal/model"
	"github.com/devrev/pairdb/replica-node/internal/util/syncutil"
)

// queueEntry is one dispatcher write parked in the bridging queue while
// its region is being backfilled. hasWrite is false for entries whose
// queueing shard came up empty; they still advance the version.
type queueEntry struct {
	hasWrite  bool
	write     model.Write
	timestamp model.StateTimestamp
	order     model.OrderToken
}

// queueFunc is the sink intake hands queueing shards to. The sink owns
// deciding when the entry's throttler fires, which is when the intake is
// allowed to ack the dispatcher.
type queueFunc func(entry queueEntry, ack *syncutil.OneShot)

// streamQueue is the bridging queue between the dispatcher stream and
// the drainer. Pushes come from intake goroutines holding the boundary
// lock shared; pops come from the drainer loop, which holds no lock
// until the queue first looks empty. The internal mutex covers that
// overlap.
type streamQueue struct {
	mu      sync.Mutex
	entries []queueEntry
}

func (q *streamQueue) push(e queueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, e)
}

func (q *streamQueue) pop() queueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	e := q.entries[0]
	q.entries = q.entries[1:]
	return e
}

func (q *streamQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *streamQueue) empty() bool {
	return q.len() == 0
}
