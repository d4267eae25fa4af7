package replica

import (
	"fmt"

	"github.com/devrev/pairdb/replica-node/internal/model"
)

// BackfillEndTimestamps tracks, for each sub-range of a backfilled
// region, the timestamp the backfill captured it at. A write arriving
// from the dispatcher may already be reflected in part of the backfilled
// data; RegionForTimestamp answers where it is still safe to apply.
//
// The zero value is the empty instance.
type BackfillEndTimestamps struct {
	region model.Region
	empty  bool
	steps  []endStep
	maxTS  model.StateTimestamp
}

type endStep struct {
	left model.Key
	ts   model.StateTimestamp
}

// emptyBackfillEndTimestamps returns the canonical empty instance.
func emptyBackfillEndTimestamps() BackfillEndTimestamps {
	return BackfillEndTimestamps{empty: true}
}

// BackfillEndTimestampsFromRegionMap builds an instance from the capture
// timestamps of one backfill chunk. Runs with equal timestamps coalesce;
// timestamps must be non-decreasing in key order.
func BackfillEndTimestampsFromRegionMap(rm model.RegionMap[model.StateTimestamp]) BackfillEndTimestamps {
	if rm.Domain().IsEmpty() {
		return emptyBackfillEndTimestamps()
	}
	b := BackfillEndTimestamps{region: rm.Domain()}
	rm.Visit(func(sub model.Region, ts model.StateTimestamp) {
		if len(b.steps) > 0 {
			last := b.steps[len(b.steps)-1]
			if ts < last.ts {
				panic(fmt.Sprintf("backfill end timestamps: %s regresses below %s at key %q",
					ts, last.ts, sub.Inner.Left))
			}
			if ts == last.ts {
				return
			}
			if sub.Inner.Left <= last.left {
				panic("backfill end timestamps: region map runs out of order")
			}
		}
		b.steps = append(b.steps, endStep{left: sub.Inner.Left, ts: ts})
	})
	b.maxTS = b.steps[len(b.steps)-1].ts
	return b
}

// IsEmpty reports whether the instance covers no keys.
func (b *BackfillEndTimestamps) IsEmpty() bool {
	return b.empty || b.region.IsEmpty() && len(b.steps) == 0
}

// Region returns the covered region.
func (b *BackfillEndTimestamps) Region() model.Region {
	return b.region
}

// MaxTimestamp returns the largest capture timestamp. A write with a
// strictly greater timestamp never needs clipping.
func (b *BackfillEndTimestamps) MaxTimestamp() model.StateTimestamp {
	return b.maxTS
}

// Combine concatenates an adjacent, later instance onto this one.
func (b *BackfillEndTimestamps) Combine(next BackfillEndTimestamps) {
	if next.IsEmpty() {
		return
	}
	if b.IsEmpty() {
		*b = next
		return
	}
	if b.region.Beg != next.region.Beg || b.region.End != next.region.End {
		panic("backfill end timestamps: combine across shards")
	}
	if !b.region.Inner.Right.Equal(model.BoundedRight(next.region.Inner.Left)) {
		panic(fmt.Sprintf("backfill end timestamps: combine of non-adjacent regions %s and %s",
			b.region, next.region))
	}
	if len(b.steps) == 0 || len(next.steps) == 0 {
		panic("backfill end timestamps: non-empty instance with no steps")
	}
	if next.steps[0].ts < b.steps[len(b.steps)-1].ts {
		panic(fmt.Sprintf("backfill end timestamps: seam timestamp regresses from %s to %s",
			b.steps[len(b.steps)-1].ts, next.steps[0].ts))
	}

	b.region.Inner.Right = next.region.Inner.Right
	start := 0
	if next.steps[0].ts == b.steps[len(b.steps)-1].ts {
		start = 1
	}
	b.steps = append(b.steps, next.steps[start:]...)
	if next.maxTS > b.maxTS {
		b.maxTS = next.maxTS
	}
}

// RegionForTimestamp returns the sub-region where a write with timestamp
// ts may still be applied: the prefix captured strictly before ts. Keys
// captured at or after ts already reflect the write.
func (b *BackfillEndTimestamps) RegionForTimestamp(ts model.StateTimestamp) model.Region {
	r := b.region
	for _, step := range b.steps {
		if step.ts >= ts {
			r.Inner.Right = model.BoundedRight(step.left)
			break
		}
	}
	if r.Inner.IsEmpty() {
		return r.WithInner(model.EmptyKeyRange())
	}
	return r
}

// ToRegionMap reconstructs the capture-timestamp region map, coalesced.
func (b *BackfillEndTimestamps) ToRegionMap() model.RegionMap[model.StateTimestamp] {
	if b.IsEmpty() {
		return model.RegionMap[model.StateTimestamp]{}
	}
	out := model.NewRegionMap(b.region, b.steps[0].ts)
	for i := 1; i < len(b.steps); i++ {
		right := b.region.Inner.Right
		if i+1 < len(b.steps) {
			right = model.BoundedRight(b.steps[i+1].left)
		}
		out.Update(b.region.WithInner(model.KeyRange{Left: b.steps[i].left, Right: right}), b.steps[i].ts)
	}
	return out
}
