package mailbox

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSendDelivers(t *testing.T) {
	mgr := NewManager(zap.NewNop())
	defer mgr.Shutdown()

	got := make(chan string, 1)
	mb := New(mgr, "test", func(_ context.Context, msg string) {
		got <- msg
	})
	defer mb.Close()

	require.True(t, Send(mgr, mb.Address(), "hello"))
	select {
	case msg := <-got:
		assert.Equal(t, "hello", msg)
	case <-time.After(time.Second):
		t.Fatal("message never delivered")
	}
}

func TestSendToClosedMailboxDrops(t *testing.T) {
	mgr := NewManager(zap.NewNop())
	defer mgr.Shutdown()

	var delivered atomic.Int64
	mb := New(mgr, "test", func(_ context.Context, _ string) {
		delivered.Add(1)
	})
	addr := mb.Address()
	mb.Close()

	assert.False(t, Send(mgr, addr, "late"))
	assert.Equal(t, int64(0), delivered.Load())
}

func TestNilAddressDrops(t *testing.T) {
	mgr := NewManager(zap.NewNop())
	defer mgr.Shutdown()

	var addr Address[int]
	assert.True(t, addr.IsNil())
	assert.False(t, Send(mgr, addr, 42))
}

func TestSendersNeverBlock(t *testing.T) {
	mgr := NewManager(zap.NewNop())
	defer mgr.Shutdown()

	release := make(chan struct{})
	var handled atomic.Int64
	mb := New(mgr, "slow", func(_ context.Context, _ int) {
		<-release
		handled.Add(1)
	})
	defer mb.Close()

	// Queue far more than any bounded channel default while the handler
	// is stuck; sends must all return immediately.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			Send(mgr, mb.Address(), i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sender blocked on an unbounded mailbox")
	}

	close(release)
	assert.Eventually(t, func() bool {
		return handled.Load() == 10000
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHandlersRunConcurrently(t *testing.T) {
	mgr := NewManager(zap.NewNop())
	defer mgr.Shutdown()

	// Two messages where the first can only finish after the second has
	// been handled: requires per-message handler goroutines.
	var mu sync.Mutex
	seen := map[int]bool{}
	secondSeen := make(chan struct{})

	mb := New(mgr, "test", func(_ context.Context, msg int) {
		mu.Lock()
		seen[msg] = true
		mu.Unlock()
		if msg == 2 {
			close(secondSeen)
		}
		if msg == 1 {
			<-secondSeen
		}
	})
	defer mb.Close()

	Send(mgr, mb.Address(), 1)
	Send(mgr, mb.Address(), 2)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[1] && seen[2]
	}, 5*time.Second, time.Millisecond)
}

func TestCloseDrainsInFlightHandlers(t *testing.T) {
	mgr := NewManager(zap.NewNop())
	defer mgr.Shutdown()

	started := make(chan struct{})
	var finished atomic.Bool
	mb := New(mgr, "test", func(_ context.Context, _ int) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	})

	Send(mgr, mb.Address(), 1)
	<-started
	mb.Close()
	assert.True(t, finished.Load(), "Close returned before handler finished")
}

func TestShutdownCancelsHandlerContext(t *testing.T) {
	mgr := NewManager(zap.NewNop())

	parked := make(chan struct{})
	unparked := make(chan error, 1)
	mb := New(mgr, "test", func(ctx context.Context, _ int) {
		close(parked)
		<-ctx.Done()
		unparked <- ctx.Err()
	})
	_ = mb

	Send(mgr, mb.Address(), 1)
	<-parked

	mgr.Shutdown()
	select {
	case err := <-unparked:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("shutdown did not cancel handler context")
	}
}
