package replica

import (
	"fmt"

	"github.com/devrev/pairdb/replica-node/internal/model"
)

// regionTriad is the partition of the replica's region that exists only
// during bootstrap: a streaming prefix whose writes apply immediately, a
// queueing middle whose writes park in the bridging queue, and a
// discarding suffix whose writes are dropped (the backfill will deliver
// that state later anyway).
//
// The triad is mutated only by the bootstrap driver holding the boundary
// lock exclusively; intake snapshots it under the shared lock.
type regionTriad struct {
	full       model.Region
	streaming  model.Region
	queueing   model.Region
	discarding model.Region
}

// newRegionTriad starts with everything discarding.
func newRegionTriad(full model.Region) *regionTriad {
	return &regionTriad{
		full:       full,
		streaming:  full.WithInner(model.EmptyKeyRange()),
		queueing:   full.WithInner(model.EmptyKeyRange()),
		discarding: full,
	}
}

// beginQueueing turns the whole discarding region into the queueing
// region. The queueing region must be empty.
func (t *regionTriad) beginQueueing() {
	if !t.queueing.IsEmpty() {
		panic("triad: beginQueueing with nonempty queueing region")
	}
	t.queueing = t.discarding
	t.discarding = t.full.WithInner(model.EmptyKeyRange())
}

// shrinkQueueingTo narrows the queueing region's right edge to what the
// backfill pass actually covered and re-creates the discarding suffix.
func (t *regionTriad) shrinkQueueingTo(right model.RightBound) {
	if t.queueing.IsEmpty() {
		panic("triad: shrinkQueueingTo with empty queueing region")
	}
	if t.queueing.Inner.Right.Less(right) {
		panic(fmt.Sprintf("triad: shrink would grow queueing region to %s", right))
	}
	t.queueing.Inner.Right = right
	if right.Unbounded {
		t.discarding = t.full.WithInner(model.EmptyKeyRange())
	} else {
		t.discarding = t.full.WithInner(model.KeyRange{
			Left:  right.Key,
			Right: t.full.Inner.Right,
		})
	}
}

// promoteQueueing folds the queueing region into the streaming region.
// The bridging queue must have drained first: streamed and queued writes
// are not synchronized against each other, so the boundary may only move
// once nothing queued remains in flight.
func (t *regionTriad) promoteQueueing() {
	if t.streaming.IsEmpty() {
		t.streaming = t.queueing
	} else {
		t.streaming.Inner.Right = t.queueing.Inner.Right
	}
	t.queueing = t.full.WithInner(model.EmptyKeyRange())
}

// fullyStreaming reports whether the streaming region covers everything.
func (t *regionTriad) fullyStreaming() bool {
	return t.streaming.Inner.Right.Equal(t.full.Inner.Right) &&
		t.streaming.Inner.Left == t.full.Inner.Left
}
