// Package primary implements the write dispatcher: the authority that
// sequences writes on a branch, streams them to registered replicas, and
// flips a replica from the async bootstrap stream to synchronous traffic
// once it signals ready.
package primary

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/devrev/pairdb/replica-node/internal/branch"
	"github.com/devrev/pairdb/replica-node/internal/errors"
	"github.com/devrev/pairdb/replica-node/internal/mailbox"
	"github.com/devrev/pairdb/replica-node/internal/model"
	"github.com/devrev/pairdb/replica-node/internal/protocol"
	"github.com/devrev/pairdb/replica-node/internal/store"
	"github.com/devrev/pairdb/replica-node/internal/util/syncutil"
	"github.com/devrev/pairdb/replica-node/internal/util/workerpool"
	"github.com/devrev/pairdb/replica-node/internal/validation"
)

// DispatcherConfig wires a dispatcher to its collaborators.
type DispatcherConfig struct {
	Manager        *mailbox.Manager
	Store          *store.MemStore
	BranchID       uuid.UUID
	History        *branch.HistoryManager
	MaxOutstanding int
	Logger         *zap.Logger
}

// Dispatcher sequences writes with ascending state timestamps, applies
// them to its own store, and streams them to every registered replica.
type Dispatcher struct {
	mgr       *mailbox.Manager
	st        *store.MemStore
	branchID  uuid.UUID
	logger    *zap.Logger
	pool      *workerpool.WorkerPool
	validator *validation.Validator

	maxOutstanding int64

	registrar *mailbox.Mailbox[protocol.RegistrationCard]

	// applied tracks writes fully applied to the local store; backfill
	// sources wait on it before promising capture timestamps.
	applied *appliedWatermark

	mu       sync.Mutex
	seq      uint64
	current  model.StateTimestamp
	replicas map[uuid.UUID]*replicaHandle
}

type replicaHandle struct {
	card     protocol.RegistrationCard
	readyBox *mailbox.Mailbox[struct{}]
	ready    *syncutil.OneShot

	// Bounds unacked async writes to this replica; the replica's
	// throttled acks push back through here.
	outstanding *semaphore.Weighted
}

// NewDispatcher returns a running dispatcher whose branch starts at
// timestamp zero, and records the branch's birth certificate.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	d := &Dispatcher{
		mgr:            cfg.Manager,
		st:             cfg.Store,
		branchID:       cfg.BranchID,
		logger:         cfg.Logger,
		maxOutstanding: int64(cfg.MaxOutstanding),
		applied:        newAppliedWatermark(0),
		validator:      validation.NewValidator(),
		replicas:       make(map[uuid.UUID]*replicaHandle),
	}
	if d.maxOutstanding <= 0 {
		d.maxOutstanding = 64
	}
	d.pool = workerpool.NewWorkerPool(&workerpool.Config{
		Name:       "dispatch",
		MaxWorkers: 16,
		QueueSize:  1024,
		Logger:     cfg.Logger,
	})

	if err := cfg.History.Record(branch.BirthCertificate{
		Branch:           cfg.BranchID,
		Region:           cfg.Store.GetRegion(),
		InitialTimestamp: 0,
	}); err != nil {
		return nil, err
	}

	d.registrar = mailbox.New(cfg.Manager, "dispatcher-registrar",
		func(_ context.Context, card protocol.RegistrationCard) {
			d.register(card)
		})
	return d, nil
}

// ServerCard returns the dispatcher's published identity.
func (d *Dispatcher) ServerCard() protocol.ServerCard {
	return protocol.ServerCard{
		Branch:    d.branchID,
		Region:    d.st.GetRegion(),
		Registrar: d.registrar.Address(),
	}
}

// register admits one replica and sends it its intro. The intro's
// streaming begin timestamp is taken under the dispatch lock, so every
// write sequenced afterwards is guaranteed to reach the replica.
func (d *Dispatcher) register(card protocol.RegistrationCard) {
	h := &replicaHandle{
		card:        card,
		ready:       syncutil.NewOneShot(),
		outstanding: semaphore.NewWeighted(d.maxOutstanding),
	}
	h.readyBox = mailbox.New(d.mgr, "dispatcher-replica-ready",
		func(_ context.Context, _ struct{}) {
			h.ready.Pulse()
			d.logger.Info("Replica signalled ready",
				zap.String("server_id", card.ServerID.String()))
		})

	d.mu.Lock()
	begin := d.current
	d.replicas[card.ServerID] = h
	d.mu.Unlock()

	mailbox.Send(d.mgr, card.IntroAddr, protocol.Intro{
		StreamingBeginTimestamp: begin,
		ReadyAddr:               h.readyBox.Address(),
	})
	d.logger.Info("Registered replica",
		zap.String("server_id", card.ServerID.String()),
		zap.Uint64("streaming_begin_timestamp", uint64(begin)))
}

// Dispatch sequences one write, applies it locally, and streams it to
// every registered replica. It returns the assigned timestamp as soon as
// the local apply is durable and the fan-out is queued; replica acks are
// awaited by the fan-out tasks, bounded per replica.
func (d *Dispatcher) Dispatch(ctx context.Context, write model.Write) (model.StateTimestamp, error) {
	if err := d.validator.ValidateWrite(write); err != nil {
		return 0, err
	}

	d.mu.Lock()
	d.seq++
	order := model.OrderToken{Source: "dispatch", Seq: d.seq}
	ts := d.current.Next()
	d.current = ts
	handles := make([]*replicaHandle, 0, len(d.replicas))
	for _, h := range d.replicas {
		handles = append(handles, h)
	}

	// Local apply happens under the dispatch lock so that the applied
	// watermark never runs ahead of the store.
	if err := d.applyLocal(ctx, write, ts, order); err != nil {
		d.mu.Unlock()
		return 0, err
	}
	d.applied.complete(ts)
	d.mu.Unlock()

	for _, h := range handles {
		d.sendAsync(ctx, h, write, ts, order)
	}
	return ts, nil
}

func (d *Dispatcher) applyLocal(ctx context.Context, write model.Write,
	ts model.StateTimestamp, order model.OrderToken) error {
	var tok store.WriteToken
	d.st.NewWriteToken(&tok)
	metainfo := model.NewRegionMap(d.st.GetRegion(), model.Version{Branch: d.branchID, Timestamp: ts})
	var resp model.WriteResponse
	return d.st.Write(ctx, metainfo, write, &resp, store.DurabilitySoft, ts, order, &tok)
}

// sendAsync queues one async write to one replica, blocking only while
// the fan-out pool's task queue is full. The queued task waits while the
// replica has MaxOutstanding unacked writes.
func (d *Dispatcher) sendAsync(ctx context.Context, h *replicaHandle,
	write model.Write, ts model.StateTimestamp, order model.OrderToken) {

	task := workerpool.Task{
		ID:      fmt.Sprintf("async-write-%d", uint64(ts)),
		Context: ctx,
		Fn: func(taskCtx context.Context) error {
			if err := h.outstanding.Acquire(taskCtx, 1); err != nil {
				return err
			}
			defer h.outstanding.Release(1)

			acked := make(chan struct{}, 1)
			ackBox := mailbox.New(d.mgr, "dispatcher-write-ack",
				func(_ context.Context, _ struct{}) {
					select {
					case acked <- struct{}{}:
					default:
					}
				})
			defer ackBox.Close()

			if !mailbox.Send(d.mgr, h.card.AsyncWriteAddr, protocol.AsyncWrite{
				Write:     write,
				Timestamp: ts,
				Order:     order,
				Ack:       ackBox.Address(),
			}) {
				return errors.Unavailable("replica async-write mailbox is gone", nil)
			}
			select {
			case <-acked:
				return nil
			case <-taskCtx.Done():
				return taskCtx.Err()
			}
		},
	}
	if err := d.pool.SubmitWithContext(ctx, task); err != nil {
		d.logger.Warn("Dispatch fan-out rejected", zap.Error(err))
	}
}

// DispatchSync sequences one write and sends it synchronously to every
// ready replica with the given durability, returning the last response.
func (d *Dispatcher) DispatchSync(ctx context.Context, write model.Write,
	durability store.Durability) (model.WriteResponse, error) {

	if err := d.validator.ValidateWrite(write); err != nil {
		return model.WriteResponse{}, err
	}

	d.mu.Lock()
	d.seq++
	order := model.OrderToken{Source: "dispatch", Seq: d.seq}
	ts := d.current.Next()
	d.current = ts
	handles := make([]*replicaHandle, 0, len(d.replicas))
	for _, h := range d.replicas {
		if h.ready.Pulsed() {
			handles = append(handles, h)
		}
	}
	if err := d.applyLocal(ctx, write, ts, order); err != nil {
		d.mu.Unlock()
		return model.WriteResponse{}, err
	}
	d.applied.complete(ts)
	d.mu.Unlock()

	var last model.WriteResponse
	for _, h := range handles {
		reply := make(chan protocol.SyncWriteReply, 1)
		ackBox := mailbox.New(d.mgr, "dispatcher-sync-ack",
			func(_ context.Context, r protocol.SyncWriteReply) {
				select {
				case reply <- r:
				default:
				}
			})

		ok := mailbox.Send(d.mgr, h.card.SyncWriteAddr, protocol.SyncWrite{
			Write:      write,
			Timestamp:  ts,
			Order:      order,
			Durability: durability,
			Ack:        ackBox.Address(),
		})
		if !ok {
			ackBox.Close()
			return model.WriteResponse{}, errors.Unavailable("replica sync-write mailbox is gone", nil)
		}
		select {
		case r := <-reply:
			ackBox.Close()
			if r.Err != "" {
				return model.WriteResponse{}, errors.InternalError(r.Err, nil)
			}
			last = r.Response
		case <-ctx.Done():
			ackBox.Close()
			return model.WriteResponse{}, ctx.Err()
		}
	}
	return last, nil
}

// Read forwards a read with a minimum-timestamp precondition to one
// replica.
func (d *Dispatcher) Read(ctx context.Context, serverID uuid.UUID, read model.Read,
	minTimestamp model.StateTimestamp) (model.ReadResponse, error) {

	d.mu.Lock()
	h, ok := d.replicas[serverID]
	d.mu.Unlock()
	if !ok {
		return model.ReadResponse{}, errors.InvalidArgument(
			fmt.Sprintf("unknown replica %s", serverID), nil)
	}

	reply := make(chan protocol.ReadReply, 1)
	ackBox := mailbox.New(d.mgr, "dispatcher-read-ack",
		func(_ context.Context, r protocol.ReadReply) {
			select {
			case reply <- r:
			default:
			}
		})
	defer ackBox.Close()

	if !mailbox.Send(d.mgr, h.card.ReadAddr, protocol.ReadRequest{
		Read:         read,
		MinTimestamp: minTimestamp,
		Ack:          ackBox.Address(),
	}) {
		return model.ReadResponse{}, errors.Unavailable("replica read mailbox is gone", nil)
	}
	select {
	case r := <-reply:
		if r.Err != "" {
			return model.ReadResponse{}, errors.InternalError(r.Err, nil)
		}
		return r.Response, nil
	case <-ctx.Done():
		return model.ReadResponse{}, ctx.Err()
	}
}

// WaitReady blocks until the given replica signals ready.
func (d *Dispatcher) WaitReady(ctx context.Context, serverID uuid.UUID) error {
	d.mu.Lock()
	h, ok := d.replicas[serverID]
	d.mu.Unlock()
	if !ok {
		return errors.InvalidArgument(fmt.Sprintf("unknown replica %s", serverID), nil)
	}
	return h.ready.Wait(ctx)
}

// CurrentTimestamp returns the latest sequenced timestamp.
func (d *Dispatcher) CurrentTimestamp() model.StateTimestamp {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// WaitTimestamp blocks until all writes up to ts are applied locally.
// This makes the dispatcher usable as a backfill source watermark.
func (d *Dispatcher) WaitTimestamp(ctx context.Context, ts model.StateTimestamp) error {
	return d.applied.wait(ctx, ts)
}

// Close stops the fan-out pool and tears down the dispatcher mailboxes.
func (d *Dispatcher) Close() {
	d.pool.Stop(5 * time.Second)
	d.registrar.Close()
	d.mu.Lock()
	handles := make([]*replicaHandle, 0, len(d.replicas))
	for _, h := range d.replicas {
		handles = append(handles, h)
	}
	d.mu.Unlock()
	for _, h := range handles {
		h.readyBox.Close()
	}
}

// appliedWatermark tracks the contiguous frontier of locally applied
// writes. Writes apply in timestamp order here, so a plain frontier plus
// waiter list suffices.
type appliedWatermark struct {
	mu       sync.Mutex
	frontier model.StateTimestamp
	waiters  []watermarkWaiter
}

type watermarkWaiter struct {
	threshold model.StateTimestamp
	ch        chan struct{}
}

func newAppliedWatermark(start model.StateTimestamp) *appliedWatermark {
	return &appliedWatermark{frontier: start}
}

func (w *appliedWatermark) complete(ts model.StateTimestamp) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ts != w.frontier.Next() {
		panic(fmt.Sprintf("applied watermark: %s completed out of order (frontier %s)", ts, w.frontier))
	}
	w.frontier = ts
	remaining := w.waiters[:0]
	for _, wt := range w.waiters {
		if wt.threshold <= w.frontier {
			close(wt.ch)
		} else {
			remaining = append(remaining, wt)
		}
	}
	w.waiters = remaining
}

func (w *appliedWatermark) wait(ctx context.Context, ts model.StateTimestamp) error {
	w.mu.Lock()
	if ts <= w.frontier {
		w.mu.Unlock()
		return nil
	}
	wt := watermarkWaiter{threshold: ts, ch: make(chan struct{})}
	w.waiters = append(w.waiters, wt)
	w.mu.Unlock()

	select {
	case <-wt.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
