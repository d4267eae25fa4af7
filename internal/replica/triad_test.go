package replica

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/devrev/pairdb/replica-node/internal/model"
)

func TestTriadLifecycle(t *testing.T) {
	full := fullRegion()
	tr := newRegionTriad(full)

	assert.True(t, tr.streaming.IsEmpty())
	assert.True(t, tr.queueing.IsEmpty())
	assert.True(t, tr.discarding.Equal(full))
	assert.False(t, tr.fullyStreaming())

	// Pass 1: queue everything, backfill reaches "m", promote.
	tr.beginQueueing()
	assert.True(t, tr.queueing.Equal(full))
	assert.True(t, tr.discarding.IsEmpty())

	tr.shrinkQueueingTo(model.BoundedRight("m"))
	assert.Equal(t, model.BoundedRight("m"), tr.queueing.Inner.Right)
	assert.Equal(t, model.Key("m"), tr.discarding.Inner.Left)
	assert.True(t, tr.discarding.Inner.Right.Equal(full.Inner.Right))

	tr.promoteQueueing()
	assert.Equal(t, model.BoundedRight("m"), tr.streaming.Inner.Right)
	assert.True(t, tr.queueing.IsEmpty())
	assert.False(t, tr.fullyStreaming())

	// Pass 2: the rest in one go.
	tr.beginQueueing()
	assert.Equal(t, model.Key("m"), tr.queueing.Inner.Left)

	tr.shrinkQueueingTo(full.Inner.Right)
	assert.True(t, tr.discarding.IsEmpty())

	tr.promoteQueueing()
	assert.True(t, tr.fullyStreaming())
}

func TestTriadBeginQueueingRequiresEmpty(t *testing.T) {
	tr := newRegionTriad(fullRegion())
	tr.beginQueueing()
	assert.Panics(t, func() { tr.beginQueueing() })
}

func TestTriadShrinkCannotGrow(t *testing.T) {
	tr := newRegionTriad(keyRegion("a", model.BoundedRight("m")))
	tr.beginQueueing()
	tr.shrinkQueueingTo(model.BoundedRight("g"))
	assert.Panics(t, func() { tr.shrinkQueueingTo(model.BoundedRight("k")) })
}

func TestTriadSinglePassFullCoverage(t *testing.T) {
	full := keyRegion("a", model.BoundedRight("z"))
	tr := newRegionTriad(full)
	tr.beginQueueing()
	tr.shrinkQueueingTo(full.Inner.Right)
	tr.promoteQueueing()
	assert.True(t, tr.fullyStreaming())
}
