package replica

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/pairdb/replica-node/internal/errors"
	"github.com/devrev/pairdb/replica-node/internal/mailbox"
	"github.com/devrev/pairdb/replica-node/internal/model"
	"github.com/devrev/pairdb/replica-node/internal/protocol"
	"github.com/devrev/pairdb/replica-node/internal/store"
	"github.com/devrev/pairdb/replica-node/internal/util/syncutil"
)

// onWriteAsync handles one write from the dispatcher's stream. During
// bootstrap the write is split against the triad: the streaming shard
// applies immediately, the queueing shard parks in the bridging queue,
// and the discarding shard is dropped. The ack is withheld until the
// queue sink fires the entry's throttler, which is how the drainer
// slows the dispatcher down.
func (c *Client) onWriteAsync(ctx context.Context, msg protocol.AsyncWrite) {
	start := time.Now()
	c.m.AsyncWritesTotal.Inc()

	if err := c.registered.Wait(ctx); err != nil {
		return
	}
	// Admission: every earlier write has been through intake.
	if err := c.enforcer.WaitAllBefore(ctx, msg.Timestamp.Pred()); err != nil {
		return
	}

	if err := c.rwlock.RLock(ctx); err != nil {
		return
	}

	if rep := c.replica; rep != nil {
		// Bootstrap is over; this is the common case for the rest of
		// the replica's life.
		c.enforcer.Complete(msg.Timestamp)
		c.rwlock.RUnlock()

		if _, err := rep.DoWrite(ctx, msg.Write, msg.Timestamp, msg.Order, store.DurabilitySoft); err != nil {
			c.logger.Error("Post-bootstrap async write failed",
				zap.Uint64("timestamp", uint64(msg.Timestamp)),
				zap.Error(err))
			return
		}
		mailbox.Send(c.mgr, msg.Ack, struct{}{})
		c.m.AsyncWriteDuration.Observe(time.Since(start).Seconds())
		return
	}

	// Bootstrap path. Copy the streaming region before the lock goes
	// away; the driver may move the boundary as soon as we release.
	streamingCopy := c.triad.streaming
	var subwriteStreaming model.Write
	haveSubwriteStreaming := false
	var writeToken store.WriteToken
	if !streamingCopy.IsEmpty() {
		subwriteStreaming, haveSubwriteStreaming = msg.Write.Shard(streamingCopy)
		c.st.NewWriteToken(&writeToken)
	}

	var throttler *syncutil.OneShot
	if c.queueFun != nil {
		entry := queueEntry{
			timestamp: msg.Timestamp,
			order:     c.queueOrderCheckpoint.CheckThrough(msg.Order),
		}
		entry.write, entry.hasWrite = msg.Write.Shard(c.triad.queueing)
		throttler = syncutil.NewOneShot()
		c.queueFun(entry, throttler)
	} else {
		// Between queueing phases, or the bootstrap just got cancelled.
		// Nothing to wait for.
		throttler = syncutil.NewPulsed()
	}

	if !c.triad.discarding.IsEmpty() {
		if _, discarded := msg.Write.Shard(c.triad.discarding); discarded {
			c.m.DiscardedShardsTotal.Inc()
		}
	}

	c.enforcer.Complete(msg.Timestamp)
	c.rwlock.RUnlock()

	if !streamingCopy.IsEmpty() {
		if err := applyWriteOrMetainfo(ctx, c.st, c.branchID, streamingCopy,
			haveSubwriteStreaming, subwriteStreaming, msg.Timestamp,
			&writeToken, msg.Order); err != nil {
			c.logger.Error("Streaming-shard apply failed",
				zap.Uint64("timestamp", uint64(msg.Timestamp)),
				zap.Error(err))
			return
		}
	}

	// Back-pressure: the dispatcher bounds its unacked writes, so
	// delaying this ack limits how fast new writes arrive.
	if err := throttler.Wait(ctx); err != nil {
		return
	}

	mailbox.Send(c.mgr, msg.Ack, struct{}{})
	c.m.AsyncWriteDuration.Observe(time.Since(start).Seconds())
}

// onWriteSync handles a synchronous write. The dispatcher only sends
// these after the ready signal, but a racing arrival is rejected rather
// than trusted.
func (c *Client) onWriteSync(ctx context.Context, msg protocol.SyncWrite) {
	start := time.Now()
	c.m.SyncWritesTotal.Inc()

	if err := c.rwlock.RLock(ctx); err != nil {
		return
	}
	rep := c.replica
	if rep == nil {
		c.rwlock.RUnlock()
		c.m.RejectedBeforeReady.Inc()
		mailbox.Send(c.mgr, msg.Ack, protocol.SyncWriteReply{Err: errors.NotReady("sync write").Error()})
		return
	}
	// The dispatcher never interleaves async and sync writes to the same
	// replica, but the timestamp bookkeeping does not rely on that.
	c.enforcer.Complete(msg.Timestamp)
	c.rwlock.RUnlock()

	resp, err := rep.DoWrite(ctx, msg.Write, msg.Timestamp, msg.Order, msg.Durability)
	if err != nil {
		mailbox.Send(c.mgr, msg.Ack, protocol.SyncWriteReply{Err: err.Error()})
		return
	}
	mailbox.Send(c.mgr, msg.Ack, protocol.SyncWriteReply{Response: resp})
	c.m.SyncWriteDuration.Observe(time.Since(start).Seconds())
}

// onRead handles a read with a minimum-timestamp precondition.
func (c *Client) onRead(ctx context.Context, msg protocol.ReadRequest) {
	start := time.Now()
	c.m.ReadsTotal.Inc()

	if err := c.rwlock.RLock(ctx); err != nil {
		return
	}
	rep := c.replica
	c.rwlock.RUnlock()
	if rep == nil {
		c.m.RejectedBeforeReady.Inc()
		mailbox.Send(c.mgr, msg.Ack, protocol.ReadReply{Err: errors.NotReady("read").Error()})
		return
	}

	resp, err := rep.DoRead(ctx, msg.Read, msg.MinTimestamp)
	if err != nil {
		mailbox.Send(c.mgr, msg.Ack, protocol.ReadReply{Err: err.Error()})
		return
	}
	mailbox.Send(c.mgr, msg.Ack, protocol.ReadReply{Response: resp})
	c.m.ReadDuration.Observe(time.Since(start).Seconds())
}
