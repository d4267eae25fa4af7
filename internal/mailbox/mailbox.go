// Package mailbox is the process-wide message fabric the replica engine
// runs on. A mailbox owns a typed address; sending to an address delivers
// at most once: either the mailbox is still registered and the message is
// enqueued, or it has been closed and the message is dropped. Delivery
// queues are unbounded so senders never block; each delivered message is
// handled on its own goroutine so handlers are free to suspend.
package mailbox

import (
	"context"
	"sync"

	"github.com/eapache/channels"
	"go.uber.org/zap"
)

// Manager registers mailboxes and routes sends to them.
type Manager struct {
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	nextID uint64
	boxes  map[uint64]*box
}

type box struct {
	name  string
	queue *channels.InfiniteChannel
	done  chan struct{}
}

// NewManager returns a running manager.
func NewManager(logger *zap.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		nextID: 1,
		boxes:  make(map[uint64]*box),
	}
}

// Shutdown cancels all handlers and tears down every mailbox.
func (m *Manager) Shutdown() {
	m.cancel()
	m.mu.Lock()
	remaining := make([]*box, 0, len(m.boxes))
	for id, b := range m.boxes {
		remaining = append(remaining, b)
		delete(m.boxes, id)
	}
	m.mu.Unlock()
	for _, b := range remaining {
		b.queue.Close()
		<-b.done
	}
}

// Address names a mailbox accepting messages of type T. The zero value is
// the nil address, which drops everything sent to it.
type Address[T any] struct {
	id uint64
}

// IsNil reports whether the address names no mailbox.
func (a Address[T]) IsNil() bool {
	return a.id == 0
}

// Mailbox receives messages of type T and runs a handler for each.
type Mailbox[T any] struct {
	mgr  *Manager
	id   uint64
	b    *box
	once sync.Once
}

// New registers a mailbox. Every delivered message gets its own handler
// goroutine; the handler's context is cancelled when the manager shuts
// down.
func New[T any](mgr *Manager, name string, handler func(ctx context.Context, msg T)) *Mailbox[T] {
	b := &box{
		name:  name,
		queue: channels.NewInfiniteChannel(),
		done:  make(chan struct{}),
	}
	mgr.mu.Lock()
	id := mgr.nextID
	mgr.nextID++
	mgr.boxes[id] = b
	mgr.mu.Unlock()

	go func() {
		defer close(b.done)
		var handlers sync.WaitGroup
		for raw := range b.queue.Out() {
			msg := raw.(T)
			handlers.Add(1)
			go func() {
				defer handlers.Done()
				handler(mgr.ctx, msg)
			}()
		}
		handlers.Wait()
	}()

	return &Mailbox[T]{mgr: mgr, id: id, b: b}
}

// Address returns the mailbox's address.
func (mb *Mailbox[T]) Address() Address[T] {
	return Address[T]{id: mb.id}
}

// Close deregisters the mailbox, drains in-flight handlers, and returns.
// Sends racing with Close are dropped, not delivered twice.
func (mb *Mailbox[T]) Close() {
	mb.once.Do(func() {
		mb.mgr.mu.Lock()
		_, registered := mb.mgr.boxes[mb.id]
		delete(mb.mgr.boxes, mb.id)
		mb.mgr.mu.Unlock()
		if registered {
			mb.b.queue.Close()
		}
		<-mb.b.done
	})
}

// Send delivers msg to addr's mailbox if it is still registered. Returns
// false when the message was dropped.
func Send[T any](mgr *Manager, addr Address[T], msg T) bool {
	if addr.IsNil() {
		return false
	}
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	b, ok := mgr.boxes[addr.id]
	if !ok {
		mgr.logger.Debug("dropped message to closed mailbox", zap.Uint64("mailbox_id", addr.id))
		return false
	}
	b.queue.In() <- msg
	return true
}
