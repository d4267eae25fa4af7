package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testRegion(left Key, right RightBound) Region {
	return NewRegion(0, ^uint64(0), KeyRange{Left: left, Right: right})
}

func TestKeyRangeContains(t *testing.T) {
	tests := []struct {
		name string
		r    KeyRange
		key  Key
		want bool
	}{
		{"inside", KeyRange{Left: "b", Right: BoundedRight("m")}, "g", true},
		{"left edge inclusive", KeyRange{Left: "b", Right: BoundedRight("m")}, "b", true},
		{"right edge exclusive", KeyRange{Left: "b", Right: BoundedRight("m")}, "m", false},
		{"before left", KeyRange{Left: "b", Right: BoundedRight("m")}, "a", false},
		{"unbounded right", KeyRange{Left: "b", Right: UnboundedRight()}, "zzzz", true},
		{"empty range", EmptyKeyRange(), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.r.Contains(tt.key))
		})
	}
}

func TestKeyRangeIntersect(t *testing.T) {
	a := KeyRange{Left: "b", Right: BoundedRight("m")}
	b := KeyRange{Left: "g", Right: UnboundedRight()}

	got := a.Intersect(b)
	assert.Equal(t, Key("g"), got.Left)
	assert.Equal(t, BoundedRight("m"), got.Right)

	// Disjoint ranges intersect to empty.
	c := KeyRange{Left: "m", Right: BoundedRight("z")}
	d := KeyRange{Left: "a", Right: BoundedRight("m")}
	assert.True(t, c.Intersect(d).IsEmpty())

	// Intersection is commutative.
	assert.True(t, a.Intersect(b).Equal(b.Intersect(a)))
}

func TestRightBoundOrdering(t *testing.T) {
	assert.True(t, BoundedRight("a").Less(BoundedRight("b")))
	assert.True(t, BoundedRight("z").Less(UnboundedRight()))
	assert.False(t, UnboundedRight().Less(BoundedRight("z")))
	assert.False(t, UnboundedRight().Less(UnboundedRight()))
	assert.True(t, UnboundedRight().Equal(UnboundedRight()))
	assert.False(t, UnboundedRight().Equal(BoundedRight("z")))
}

func TestRegionIntersectShardMismatch(t *testing.T) {
	a := NewRegion(0, 10, KeyRange{Left: "a", Right: BoundedRight("m")})
	b := NewRegion(5, 10, KeyRange{Left: "a", Right: BoundedRight("m")})
	assert.Panics(t, func() { a.Intersect(b) })
}

func TestEmptyRangesEqual(t *testing.T) {
	a := KeyRange{Left: "x", Right: BoundedRight("x")}
	b := EmptyKeyRange()
	assert.True(t, a.Equal(b))
}
