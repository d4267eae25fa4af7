package replica

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnforcerCompleteAdvancesFrontier(t *testing.T) {
	e := NewTimestampEnforcer(100)
	assert.Equal(t, ts(100), e.LatestAllBeforeCompleted())

	// Out-of-order completion holds the frontier until the gap fills.
	e.Complete(102)
	assert.Equal(t, ts(100), e.LatestAllBeforeCompleted())
	e.Complete(101)
	assert.Equal(t, ts(102), e.LatestAllBeforeCompleted())
	e.Complete(103)
	assert.Equal(t, ts(103), e.LatestAllBeforeCompleted())
}

func TestEnforcerDoubleCompletePanics(t *testing.T) {
	e := NewTimestampEnforcer(100)
	e.Complete(101)
	assert.Panics(t, func() { e.Complete(101) })
	// Begin itself counts as complete, so completing it is also a
	// programmer error.
	assert.Panics(t, func() { e.Complete(100) })

	e2 := NewTimestampEnforcer(100)
	e2.Complete(105)
	assert.Panics(t, func() { e2.Complete(105) })
}

func TestEnforcerWaitAllBefore(t *testing.T) {
	e := NewTimestampEnforcer(10)
	ctx := context.Background()

	// Already satisfied thresholds return immediately.
	require.NoError(t, e.WaitAllBefore(ctx, 10))
	require.NoError(t, e.WaitAllBefore(ctx, 5))

	done := make(chan error, 1)
	go func() {
		done <- e.WaitAllBefore(ctx, 12)
	}()

	select {
	case <-done:
		t.Fatal("wait returned before threshold was completed")
	case <-time.After(20 * time.Millisecond):
	}

	e.Complete(11)
	select {
	case <-done:
		t.Fatal("wait returned with a gap at 12")
	case <-time.After(20 * time.Millisecond):
	}

	e.Complete(12)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait did not return after threshold completed")
	}
}

func TestEnforcerWaitCancellation(t *testing.T) {
	e := NewTimestampEnforcer(10)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- e.WaitAllBefore(ctx, 99)
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled wait did not return")
	}

	// A cancelled waiter must not leak: later completes still work.
	e.Complete(11)
	assert.Equal(t, ts(11), e.LatestAllBeforeCompleted())
}
