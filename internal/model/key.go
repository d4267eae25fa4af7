package model

import "fmt"

// Key is an opaque, byte-ordered identifier. Comparison with < matches
// lexicographic byte order, which is the order backfill traverses keys in.
type Key string

// RightBound is the right edge of a half-open key interval. It is either a
// concrete key (exclusive) or unbounded (+inf).
type RightBound struct {
	Key       Key
	Unbounded bool
}

// BoundedRight returns a right bound at the given key.
func BoundedRight(k Key) RightBound {
	return RightBound{Key: k}
}

// UnboundedRight returns the +inf right bound.
func UnboundedRight() RightBound {
	return RightBound{Unbounded: true}
}

// Equal reports whether two right bounds are the same edge.
func (b RightBound) Equal(other RightBound) bool {
	if b.Unbounded || other.Unbounded {
		return b.Unbounded == other.Unbounded
	}
	return b.Key == other.Key
}

// Less reports whether b is strictly to the left of other.
func (b RightBound) Less(other RightBound) bool {
	if b.Unbounded {
		return false
	}
	if other.Unbounded {
		return true
	}
	return b.Key < other.Key
}

// Admits reports whether a key lies strictly to the left of the bound.
func (b RightBound) Admits(k Key) bool {
	return b.Unbounded || k < b.Key
}

func (b RightBound) String() string {
	if b.Unbounded {
		return "+inf"
	}
	return string(b.Key)
}

// KeyRange is a half-open interval [Left, Right).
type KeyRange struct {
	Left  Key
	Right RightBound
}

// EmptyKeyRange returns the canonical empty interval.
func EmptyKeyRange() KeyRange {
	return KeyRange{Left: "", Right: BoundedRight("")}
}

// IsEmpty reports whether the interval contains no keys.
func (r KeyRange) IsEmpty() bool {
	return !r.Right.Unbounded && r.Right.Key <= r.Left
}

// Contains reports whether k lies inside the interval.
func (r KeyRange) Contains(k Key) bool {
	return k >= r.Left && r.Right.Admits(k)
}

// Intersect returns the overlap of two intervals.
func (r KeyRange) Intersect(other KeyRange) KeyRange {
	out := KeyRange{Left: r.Left, Right: r.Right}
	if other.Left > out.Left {
		out.Left = other.Left
	}
	if other.Right.Less(out.Right) {
		out.Right = other.Right
	}
	if out.IsEmpty() {
		return EmptyKeyRange()
	}
	return out
}

// Equal reports whether two intervals cover the same keys.
func (r KeyRange) Equal(other KeyRange) bool {
	if r.IsEmpty() && other.IsEmpty() {
		return true
	}
	return r.Left == other.Left && r.Right.Equal(other.Right)
}

func (r KeyRange) String() string {
	return fmt.Sprintf("[%s, %s)", string(r.Left), r.Right)
}

// Region is a contiguous key range tagged with the outer shard it belongs
// to. The shard bounds (Beg, End) are constant for the life of a replica;
// every region handled by one replica carries the same pair, so region
// algebra reduces to key-range algebra on Inner.
type Region struct {
	Beg   uint64
	End   uint64
	Inner KeyRange
}

// NewRegion returns a region covering the given key range in a shard.
func NewRegion(beg, end uint64, inner KeyRange) Region {
	return Region{Beg: beg, End: end, Inner: inner}
}

// WithInner returns a copy of the region with a different inner key range.
func (r Region) WithInner(inner KeyRange) Region {
	return Region{Beg: r.Beg, End: r.End, Inner: inner}
}

// IsEmpty reports whether the region contains no keys.
func (r Region) IsEmpty() bool {
	return r.Inner.IsEmpty()
}

// Contains reports whether k lies inside the region.
func (r Region) Contains(k Key) bool {
	return r.Inner.Contains(k)
}

// Intersect returns the overlap of two regions of the same shard.
func (r Region) Intersect(other Region) Region {
	if r.Beg != other.Beg || r.End != other.End {
		panic(fmt.Sprintf("region shard mismatch: (%d,%d) vs (%d,%d)",
			r.Beg, r.End, other.Beg, other.End))
	}
	return r.WithInner(r.Inner.Intersect(other.Inner))
}

// Equal reports whether two regions cover the same keys of the same shard.
func (r Region) Equal(other Region) bool {
	return r.Beg == other.Beg && r.End == other.End && r.Inner.Equal(other.Inner)
}

func (r Region) String() string {
	return fmt.Sprintf("shard(%d,%d)%s", r.Beg, r.End, r.Inner)
}
