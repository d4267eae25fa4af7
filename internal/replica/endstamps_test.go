package replica

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrev/pairdb/replica-node/internal/model"
)

func TestEndstampsFromRegionMapCoalesces(t *testing.T) {
	region := keyRegion("a", model.BoundedRight("z"))
	rm := tsMap(region,
		[]model.Key{"a", "g", "m"},
		[]model.StateTimestamp{100, 100, 105})

	b := BackfillEndTimestampsFromRegionMap(rm)
	assert.Equal(t, ts(105), b.MaxTimestamp())

	// The equal-timestamp runs at "a" and "g" coalesce into one step, so
	// a write at 101 is applicable over the whole coalesced prefix.
	r := b.RegionForTimestamp(101)
	assert.Equal(t, model.Key("a"), r.Inner.Left)
	assert.Equal(t, model.BoundedRight("m"), r.Inner.Right)
}

func TestEndstampsRoundTrip(t *testing.T) {
	region := keyRegion("a", model.BoundedRight("z"))
	rm := tsMap(region,
		[]model.Key{"a", "g", "m"},
		[]model.StateTimestamp{100, 103, 105})

	b := BackfillEndTimestampsFromRegionMap(rm)
	back := b.ToRegionMap()
	assert.True(t, model.RegionMapsEqual(rm, back,
		func(x, y model.StateTimestamp) bool { return x == y }))
}

func TestEndstampsRegionForTimestamp(t *testing.T) {
	region := keyRegion("a", model.BoundedRight("z"))
	b := BackfillEndTimestampsFromRegionMap(tsMap(region,
		[]model.Key{"a", "g", "m"},
		[]model.StateTimestamp{100, 103, 105}))

	tests := []struct {
		ts        model.StateTimestamp
		wantRight model.RightBound
	}{
		{99, model.BoundedRight("a")},  // everything captured at >= 99
		{100, model.BoundedRight("a")}, // first step captured at 100
		{101, model.BoundedRight("g")}, // [a,g) captured strictly before
		{103, model.BoundedRight("g")},
		{104, model.BoundedRight("m")},
		{105, model.BoundedRight("m")},
		{106, model.BoundedRight("z")}, // later than every capture
	}
	for _, tt := range tests {
		r := b.RegionForTimestamp(tt.ts)
		if tt.wantRight.Equal(model.BoundedRight("a")) {
			assert.True(t, r.IsEmpty(), "ts=%d", tt.ts)
			continue
		}
		assert.Equal(t, tt.wantRight, r.Inner.Right, "ts=%d", tt.ts)
	}

	// A later write is applicable over at least as much of the region as
	// an earlier one: the applicable region is monotone in ts.
	prev := b.RegionForTimestamp(1)
	for timestamp := ts(2); timestamp <= 110; timestamp++ {
		cur := b.RegionForTimestamp(timestamp)
		assert.False(t, cur.Inner.Right.Less(prev.Inner.Right),
			"applicable region shrank between %d and %d", timestamp-1, timestamp)
		prev = cur
	}
}

func TestEndstampsCombine(t *testing.T) {
	region1 := keyRegion("a", model.BoundedRight("m"))
	region2 := keyRegion("m", model.BoundedRight("z"))

	b1 := BackfillEndTimestampsFromRegionMap(tsMap(region1,
		[]model.Key{"a"}, []model.StateTimestamp{100}))
	b2 := BackfillEndTimestampsFromRegionMap(tsMap(region2,
		[]model.Key{"m"}, []model.StateTimestamp{104}))

	b1.Combine(b2)
	assert.Equal(t, ts(104), b1.MaxTimestamp())
	assert.Equal(t, model.BoundedRight("z"), b1.Region().Inner.Right)

	r := b1.RegionForTimestamp(102)
	assert.Equal(t, model.BoundedRight("m"), r.Inner.Right)
}

func TestEndstampsCombineSeamCoalesce(t *testing.T) {
	region1 := keyRegion("a", model.BoundedRight("m"))
	region2 := keyRegion("m", model.BoundedRight("z"))

	b1 := BackfillEndTimestampsFromRegionMap(tsMap(region1,
		[]model.Key{"a"}, []model.StateTimestamp{100}))
	b2 := BackfillEndTimestampsFromRegionMap(tsMap(region2,
		[]model.Key{"m"}, []model.StateTimestamp{100}))

	b1.Combine(b2)
	// Equal timestamps at the seam collapse into one step.
	rm := b1.ToRegionMap()
	runs := 0
	rm.Visit(func(_ model.Region, _ model.StateTimestamp) { runs++ })
	assert.Equal(t, 1, runs)
}

func TestEndstampsCombineIdentity(t *testing.T) {
	region := keyRegion("a", model.BoundedRight("m"))
	orig := BackfillEndTimestampsFromRegionMap(tsMap(region,
		[]model.Key{"a"}, []model.StateTimestamp{100}))

	// empty + X == X
	left := emptyBackfillEndTimestamps()
	left.Combine(orig)
	assert.Equal(t, ts(100), left.MaxTimestamp())
	assert.True(t, left.Region().Equal(region))

	// X + empty == X
	right := orig
	right.Combine(emptyBackfillEndTimestamps())
	assert.Equal(t, ts(100), right.MaxTimestamp())
	assert.True(t, right.Region().Equal(region))
}

func TestEndstampsCombineAssociative(t *testing.T) {
	r1 := keyRegion("a", model.BoundedRight("g"))
	r2 := keyRegion("g", model.BoundedRight("m"))
	r3 := keyRegion("m", model.BoundedRight("z"))

	mk := func(r model.Region, t model.StateTimestamp) BackfillEndTimestamps {
		return BackfillEndTimestampsFromRegionMap(tsMap(r,
			[]model.Key{r.Inner.Left}, []model.StateTimestamp{t}))
	}

	// (1+2)+3
	a := mk(r1, 100)
	a.Combine(mk(r2, 102))
	a.Combine(mk(r3, 104))

	// 1+(2+3)
	bc := mk(r2, 102)
	bc.Combine(mk(r3, 104))
	b := mk(r1, 100)
	b.Combine(bc)

	require.True(t, a.Region().Equal(b.Region()))
	for timestamp := ts(99); timestamp <= 106; timestamp++ {
		assert.True(t,
			a.RegionForTimestamp(timestamp).Equal(b.RegionForTimestamp(timestamp)),
			"ts=%d", timestamp)
	}
}

func TestEndstampsCombineViolations(t *testing.T) {
	r1 := keyRegion("a", model.BoundedRight("m"))
	r3 := keyRegion("n", model.BoundedRight("z"))

	b1 := BackfillEndTimestampsFromRegionMap(tsMap(r1,
		[]model.Key{"a"}, []model.StateTimestamp{100}))
	gap := BackfillEndTimestampsFromRegionMap(tsMap(r3,
		[]model.Key{"n"}, []model.StateTimestamp{104}))
	assert.Panics(t, func() { b1.Combine(gap) })

	r2 := keyRegion("m", model.BoundedRight("z"))
	older := BackfillEndTimestampsFromRegionMap(tsMap(r2,
		[]model.Key{"m"}, []model.StateTimestamp{90}))
	assert.Panics(t, func() { b1.Combine(older) })
}
