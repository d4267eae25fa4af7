package replica

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/replica-node/internal/backfill"
	"github.com/devrev/pairdb/replica-node/internal/branch"
	"github.com/devrev/pairdb/replica-node/internal/config"
	"github.com/devrev/pairdb/replica-node/internal/errors"
	"github.com/devrev/pairdb/replica-node/internal/mailbox"
	"github.com/devrev/pairdb/replica-node/internal/metrics"
	"github.com/devrev/pairdb/replica-node/internal/model"
	"github.com/devrev/pairdb/replica-node/internal/protocol"
	"github.com/devrev/pairdb/replica-node/internal/store"
	"github.com/devrev/pairdb/replica-node/internal/util/syncutil"
)

// ClientConfig wires a bootstrap client to its collaborators.
type ClientConfig struct {
	Manager    *mailbox.Manager
	ServerID   uuid.UUID
	BranchID   uuid.UUID
	Server     protocol.ServerCard
	Peer       protocol.ReplicaCard
	Backfiller backfill.Backfiller
	Throttler  *backfill.Throttler
	Store      store.Store
	History    *branch.HistoryManager
	Backfill   config.BackfillConfig
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Client brings a stale replica into sync with the primary and then
// keeps servicing its write stream. Construction runs the whole
// bootstrap: register with the dispatcher, interleave backfill passes
// with the live write stream, and finally install the Replica façade and
// signal ready. After NewClient returns the replica is serving.
type Client struct {
	mgr      *mailbox.Manager
	st       store.Store
	branchID uuid.UUID
	history  *branch.HistoryManager
	cfg      config.BackfillConfig
	logger   *zap.Logger
	m        *metrics.Metrics

	registered *syncutil.OneShot
	enforcer   *TimestampEnforcer

	// runCtx outlives the constructor; Close cancels it so parked intake
	// handlers unwind before their mailboxes are torn down.
	runCtx    context.Context
	runCancel context.CancelFunc

	// rwlock guards the triad boundaries, queueFun, and replica: the
	// driver writes them exclusively, intake snapshots them shared.
	rwlock   *syncutil.RWMutex
	triad    *regionTriad
	queueFun queueFunc
	replica  *Replica

	queueOrderCheckpoint *model.OrderCheckpoint

	introMailbox      *mailbox.Mailbox[protocol.Intro]
	asyncWriteMailbox *mailbox.Mailbox[protocol.AsyncWrite]
	syncWriteMailbox  *mailbox.Mailbox[protocol.SyncWrite]
	readMailbox       *mailbox.Mailbox[protocol.ReadRequest]

	intro protocol.Intro
}

// NewClient runs a full bootstrap and returns a serving client.
// Cancelling ctx aborts the bootstrap; the store is left self-consistent
// because every write lands together with its metainfo.
func NewClient(ctx context.Context, cc ClientConfig) (c *Client, err error) {
	if cc.Server.Branch != cc.BranchID {
		return nil, errors.InvalidArgument(
			fmt.Sprintf("server card branch %s does not match %s", cc.Server.Branch, cc.BranchID), nil)
	}
	if !cc.Server.Region.Equal(cc.Store.GetRegion()) {
		return nil, errors.InvalidArgument(
			fmt.Sprintf("server card region %s does not match store region %s",
				cc.Server.Region, cc.Store.GetRegion()), nil)
	}

	c = &Client{
		mgr:                  cc.Manager,
		st:                   cc.Store,
		branchID:             cc.BranchID,
		history:              cc.History,
		cfg:                  cc.Backfill,
		logger:               cc.Logger,
		m:                    cc.Metrics,
		registered:           syncutil.NewOneShot(),
		rwlock:               syncutil.NewRWMutex(),
		triad:                newRegionTriad(cc.Store.GetRegion()),
		queueOrderCheckpoint: model.NewOrderCheckpoint("stream-queue"),
	}
	c.runCtx, c.runCancel = context.WithCancel(context.Background())
	built := c
	defer func() {
		if err != nil {
			built.Close()
			c = nil
		}
	}()

	// One backfill into this node at a time per source peer.
	lease, err := cc.Throttler.Acquire(ctx, cc.Peer.PeerID)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	// If the store is building a secondary index, hold off the whole
	// bootstrap until it can ingest a backfill.
	if err = c.st.WaitUntilOKToReceiveBackfill(ctx); err != nil {
		return nil, err
	}

	// Subscribe to the dispatcher's write stream. Until the boundaries
	// move, every received write lands in the discarding region.
	c.introMailbox = mailbox.New(cc.Manager, "replica-intro", func(_ context.Context, intro protocol.Intro) {
		c.intro = intro
		c.enforcer = NewTimestampEnforcer(intro.StreamingBeginTimestamp)
		c.registered.Pulse()
	})
	c.asyncWriteMailbox = mailbox.New(cc.Manager, "replica-write-async",
		func(ctx context.Context, msg protocol.AsyncWrite) {
			ctx, cancel := syncutil.LinkedContext(ctx, c.runCtx)
			defer cancel()
			c.onWriteAsync(ctx, msg)
		})
	c.syncWriteMailbox = mailbox.New(cc.Manager, "replica-write-sync",
		func(ctx context.Context, msg protocol.SyncWrite) {
			ctx, cancel := syncutil.LinkedContext(ctx, c.runCtx)
			defer cancel()
			c.onWriteSync(ctx, msg)
		})
	c.readMailbox = mailbox.New(cc.Manager, "replica-read",
		func(ctx context.Context, msg protocol.ReadRequest) {
			ctx, cancel := syncutil.LinkedContext(ctx, c.runCtx)
			defer cancel()
			c.onRead(ctx, msg)
		})

	card := protocol.RegistrationCard{
		ServerID:       cc.ServerID,
		IntroAddr:      c.introMailbox.Address(),
		AsyncWriteAddr: c.asyncWriteMailbox.Address(),
		SyncWriteAddr:  c.syncWriteMailbox.Address(),
		ReadAddr:       c.readMailbox.Address(),
	}
	if !mailbox.Send(cc.Manager, cc.Server.Registrar, card) {
		return nil, errors.Unavailable("dispatcher registrar is gone", nil)
	}
	if err = c.registered.Wait(ctx); err != nil {
		return nil, err
	}
	c.logger.Info("Registered with primary",
		zap.Uint64("streaming_begin_timestamp", uint64(c.intro.StreamingBeginTimestamp)),
		zap.String("branch", c.branchID.String()))

	bootstrapStart := time.Now()
	if err = c.runBootstrap(ctx, cc.Backfiller); err != nil {
		return nil, err
	}
	c.m.BootstrapDuration.Observe(time.Since(bootstrapStart).Seconds())

	// Tell the primary it may now send reads and synchronous writes.
	mailbox.Send(cc.Manager, c.intro.ReadyAddr, struct{}{})
	c.logger.Info("Replica ready",
		zap.Uint64("timestamp", uint64(c.enforcer.LatestAllBeforeCompleted())))
	return c, nil
}

// runBootstrap drives backfill passes until the streaming region covers
// the whole store, then installs the façade.
func (c *Client) runBootstrap(ctx context.Context, bf backfill.Backfiller) error {
	// The lock is held exclusively whenever boundaries or the queue sink
	// change, and across the final façade installation.
	if err := c.rwlock.Lock(ctx); err != nil {
		return err
	}
	locked := true
	defer func() {
		if locked {
			c.rwlock.Unlock()
		}
	}()

	for !c.triad.fullyStreaming() {
		c.rwlock.Unlock()
		locked = false

		// Re-check store readiness at pass start: the queue is empty
		// here, so waiting costs nothing but time.
		if err := c.st.WaitUntilOKToReceiveBackfill(ctx); err != nil {
			return err
		}

		if err := c.rwlock.Lock(ctx); err != nil {
			return err
		}
		locked = true

		// Everything we were discarding starts queueing instead.
		c.triad.beginQueueing()
		queue := &streamQueue{}
		sink := &ackSink{queue: queue, trickle: c.cfg.WriteQueueTrickleFraction, m: c.m}
		c.queueFun = sink.pushUnthrottled
		backfillStart := c.enforcer.LatestAllBeforeCompleted()

		c.rwlock.Unlock()
		locked = false

		// Make sure the backfiller's captures will reach at least the
		// writes we have already admitted.
		syncCtx, cancel := context.WithTimeout(ctx, c.cfg.SynchronizeTimeout)
		err := bf.Synchronize(syncCtx, backfillStart)
		cancel()
		if err != nil {
			return errors.BackfillerGone("source", err)
		}

		bets, rightBound, err := c.pullChunks(ctx, bf, queue)
		if err != nil {
			return err
		}

		// Wait for the write stream to pass the backfill seam; past this
		// point clipping against bets is enough to prevent double
		// application.
		if !bets.IsEmpty() {
			if err := c.enforcer.WaitAllBefore(ctx, bets.MaxTimestamp()); err != nil {
				return err
			}
		}

		if err := c.rwlock.Lock(ctx); err != nil {
			return err
		}
		locked = true

		// Only the prefix we actually backfilled keeps queueing; the
		// rest goes back to discarding. From here on, pushes hold their
		// acks so the queue is guaranteed to shrink.
		c.triad.shrinkQueueingTo(rightBound)
		c.queueFun = sink.pushThrottled

		c.rwlock.Unlock()
		locked = false

		drainErr := drainStreamQueue(ctx, c.st, c.branchID, queue, &bets,
			func(ctx2 context.Context) error {
				// First emptiness: take the lock to stop new pushes.
				// More entries may sneak in while we wait, in which case
				// the drainer calls again and the lock is already held.
				if !locked {
					if err := c.rwlock.Lock(ctx2); err != nil {
						return err
					}
					locked = true
				}
				return nil
			},
			sink.finishedOne,
			c.m, c.logger)
		if drainErr != nil {
			return drainErr
		}
		if !locked || !queue.empty() {
			panic("bootstrap: drain finished without the lock or with entries left")
		}

		// The queue is gone; release every ack still held and go back to
		// unthrottled streaming for the promoted region.
		sink.releaseAll()
		c.queueFun = nil

		c.triad.promoteQueueing()
		c.m.BootstrapPassesTotal.Inc()
		c.logger.Info("Backfill pass complete",
			zap.String("streaming", c.triad.streaming.String()),
			zap.String("discarding", c.triad.discarding.String()))
	}

	if err := c.verifyMetainfo(ctx); err != nil {
		return err
	}

	// Fully synchronized; writes bypass bootstrap from here on.
	c.replica = NewReplica(c.st, c.history, c.branchID,
		c.enforcer.LatestAllBeforeCompleted(), c.logger)

	c.rwlock.Unlock()
	locked = false
	return nil
}

// pullChunks drives the backfiller from the queueing region's left edge
// until the region is exhausted or the bridging queue hits its
// threshold. Returns the accumulated end timestamps and the right edge
// actually covered.
func (c *Client) pullChunks(ctx context.Context, bf backfill.Backfiller,
	queue *streamQueue) (BackfillEndTimestamps, model.RightBound, error) {

	bets := emptyBackfillEndTimestamps()
	rightBound := model.BoundedRight(c.triad.queueing.Inner.Left)
	var chunkErr error

	progress := func(chunk backfill.Chunk) bool {
		if !model.BoundedRight(chunk.Region.Inner.Left).Equal(rightBound) {
			panic(fmt.Sprintf("backfill chunk %s is not contiguous with %s",
				chunk.Region, rightBound))
		}
		if !backfill.VerifyChunk(chunk) {
			chunkErr = errors.StoreFailed("backfill chunk checksum mismatch", nil)
			return false
		}
		if err := c.st.ReceiveBackfill(ctx, chunk.Region, chunk.Items, chunk.Versions); err != nil {
			chunkErr = err
			return false
		}
		bets.Combine(BackfillEndTimestampsFromRegionMap(
			model.MapValues(chunk.Versions, func(v model.Version) model.StateTimestamp {
				return v.Timestamp
			})))
		rightBound = chunk.Region.Inner.Right

		c.m.BackfillChunksTotal.Inc()
		c.m.BackfillKeysTotal.Add(float64(len(chunk.Items)))
		for _, it := range chunk.Items {
			c.m.BackfillBytesTotal.Add(float64(len(it.Value)))
		}

		// Stop at a chunk boundary once the queue is full enough; the
		// pass resumes from rightBound next time around.
		return queue.len() < c.cfg.WriteQueueCount
	}

	if err := bf.Go(ctx, progress, rightBound); err != nil {
		return bets, rightBound, err
	}
	if chunkErr != nil {
		return bets, rightBound, chunkErr
	}
	return bets, rightBound, nil
}

// verifyMetainfo checks that after bootstrap the whole region sits at
// {branch, frontier}; anything else means the store and the bootstrap
// disagree, which is fatal for this replica.
func (c *Client) verifyMetainfo(ctx context.Context) error {
	var tok store.ReadToken
	c.st.NewReadToken(&tok)
	mi, err := c.st.GetMetainfo(ctx, &tok, c.st.GetRegion())
	if err != nil {
		return err
	}
	expect := model.Version{Branch: c.branchID, Timestamp: c.enforcer.LatestAllBeforeCompleted()}
	var bad error
	mi.Visit(func(sub model.Region, v model.Version) {
		if bad == nil && !v.Equal(expect) {
			bad = errors.StoreFailed(
				fmt.Sprintf("expected version %s for %s, got %s", expect, sub, v), nil)
		}
	})
	return bad
}

// Ready reports whether bootstrap finished and the façade is installed.
func (c *Client) Ready() bool {
	return c.replica != nil
}

// RegistrationCard returns the card this client registered with, for
// publication in the node's directory.
func (c *Client) RegistrationCard(serverID uuid.UUID) protocol.RegistrationCard {
	return protocol.RegistrationCard{
		ServerID:       serverID,
		IntroAddr:      c.introMailbox.Address(),
		AsyncWriteAddr: c.asyncWriteMailbox.Address(),
		SyncWriteAddr:  c.syncWriteMailbox.Address(),
		ReadAddr:       c.readMailbox.Address(),
	}
}

// Replica returns the façade, or nil before bootstrap completes.
func (c *Client) Replica() *Replica {
	return c.replica
}

// Close tears down the client's mailboxes. In-flight handlers drain
// before Close returns.
func (c *Client) Close() {
	c.runCancel()
	if c.readMailbox != nil {
		c.readMailbox.Close()
	}
	if c.syncWriteMailbox != nil {
		c.syncWriteMailbox.Close()
	}
	if c.asyncWriteMailbox != nil {
		c.asyncWriteMailbox.Close()
	}
	if c.introMailbox != nil {
		c.introMailbox.Close()
	}
}

// ackSink is the per-pass queue sink. Before the throttling switch it
// pulses acks immediately; after it, acks queue up and are released at
// trickle rate as the drainer retires entries, so strictly more entries
// leave the queue than enter it.
type ackSink struct {
	queue   *streamQueue
	trickle float64
	m       *metrics.Metrics

	mu            sync.Mutex
	ackQueue      []*syncutil.OneShot
	acksToRelease float64
}

// pushUnthrottled enqueues and acks immediately.
func (s *ackSink) pushUnthrottled(entry queueEntry, ack *syncutil.OneShot) {
	s.queue.push(entry)
	s.m.StreamQueueDepth.Set(float64(s.queue.len()))
	ack.Pulse()
}

// pushThrottled enqueues and holds the ack unless a release credit is
// banked.
func (s *ackSink) pushThrottled(entry queueEntry, ack *syncutil.OneShot) {
	s.queue.push(entry)
	s.m.StreamQueueDepth.Set(float64(s.queue.len()))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acksToRelease >= 1 {
		s.acksToRelease--
		ack.Pulse()
	} else {
		s.ackQueue = append(s.ackQueue, ack)
		s.m.StreamQueueAcksHeld.Set(float64(len(s.ackQueue)))
	}
}

// finishedOne banks a trickle credit and maybe releases one held ack.
func (s *ackSink) finishedOne() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acksToRelease += s.trickle
	if s.acksToRelease >= 1 && len(s.ackQueue) > 0 {
		s.acksToRelease--
		s.ackQueue[0].Pulse()
		s.ackQueue = s.ackQueue[1:]
		s.m.StreamQueueAcksHeld.Set(float64(len(s.ackQueue)))
	}
}

// releaseAll pulses every held ack once the queue has fully drained.
func (s *ackSink) releaseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ack := range s.ackQueue {
		ack.Pulse()
	}
	s.ackQueue = nil
	s.m.StreamQueueAcksHeld.Set(0)
}
