package replica

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/devrev/pairdb/replica-node/internal/metrics"
	"github.com/devrev/pairdb/replica-node/internal/store"
)

// maxConcurrentStreamQueueItems caps how many queue entries the drainer
// applies to the store in parallel.
const maxConcurrentStreamQueueItems = 16

// drainStreamQueue empties the bridging queue, clipping every entry
// against the backfill end timestamps before applying it.
//
// onQueueEmpty is invoked whenever the queue is observed empty; it is
// expected to take the boundary lock exclusively, which blocks further
// pushes. If the queue is still empty afterwards the drain is done.
// onFinishedOneEntry fires after each applied entry and drives the ack
// trickle.
//
// Applier tasks deliberately ignore cancellation: a store write and its
// metainfo must land together, so each spawned apply runs to completion
// and only the outer loop observes ctx. After the loop, the function
// blocks for all in-flight tasks, then surfaces any cancellation.
func drainStreamQueue(ctx context.Context, st store.Store, branchID uuid.UUID,
	queue *streamQueue, bets *BackfillEndTimestamps,
	onQueueEmpty func(context.Context) error, onFinishedOneEntry func(),
	m *metrics.Metrics, logger *zap.Logger) error {

	sem := semaphore.NewWeighted(maxConcurrentStreamQueueItems)
	var tasks sync.WaitGroup
	var loopErr error

	for {
		// An empty queue is not necessarily the end: the intake may push
		// more entries while onQueueEmpty waits for the boundary lock.
		if queue.empty() {
			if err := onQueueEmpty(ctx); err != nil {
				loopErr = err
				break
			}
			if queue.empty() {
				break
			}
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			loopErr = err
			break
		}

		entry := queue.pop()
		m.StreamQueueDepth.Set(float64(queue.len()))

		// Clip so the write lands only where the backfill has not
		// already delivered it. Different parts of the key-space may
		// have been captured at different timestamps, so part of a
		// write can apply while the rest is suppressed.
		applicable := bets.RegionForTimestamp(entry.timestamp)
		if entry.hasWrite {
			if sub, ok := entry.write.Shard(applicable); ok {
				if len(sub.Ops) < len(entry.write.Ops) {
					m.ClippedWritesTotal.Inc()
				}
				entry.write = sub
			} else {
				m.ClippedWritesTotal.Inc()
				entry.hasWrite = false
			}
		}

		// Token acquired here, not in the task, so concurrent tasks
		// apply in pop order.
		var tok store.WriteToken
		st.NewWriteToken(&tok)

		tasks.Add(1)
		m.DrainInFlight.Inc()
		go func(entry queueEntry, tok store.WriteToken) {
			defer tasks.Done()
			defer sem.Release(1)
			defer m.DrainInFlight.Dec()

			if err := applyWriteOrMetainfo(context.Background(), st, branchID,
				applicable, entry.hasWrite, entry.write, entry.timestamp,
				&tok, entry.order); err != nil {
				logger.Error("Failed to apply queued write",
					zap.Uint64("timestamp", uint64(entry.timestamp)),
					zap.Error(err))
				return
			}
			m.DrainedEntriesTotal.Inc()
			onFinishedOneEntry()
		}(entry, tok)
	}

	tasks.Wait()

	if loopErr != nil {
		return loopErr
	}
	return ctx.Err()
}
