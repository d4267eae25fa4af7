package model

import "fmt"

// RegionMap maps every key of a region to a value of type V, represented
// as a sorted sequence of constant-value sub-ranges. Adjacent runs may
// carry equal values; consumers that care coalesce as they visit.
type RegionMap[V any] struct {
	domain Region
	lefts  []Key
	vals   []V
}

// NewRegionMap returns a map assigning v to every key of domain.
func NewRegionMap[V any](domain Region, v V) RegionMap[V] {
	m := RegionMap[V]{domain: domain}
	if !domain.IsEmpty() {
		m.lefts = []Key{domain.Inner.Left}
		m.vals = []V{v}
	}
	return m
}

// Domain returns the region the map covers.
func (m RegionMap[V]) Domain() Region {
	return m.domain
}

// runRight returns the right edge of run i.
func (m RegionMap[V]) runRight(i int) RightBound {
	if i+1 < len(m.lefts) {
		return BoundedRight(m.lefts[i+1])
	}
	return m.domain.Inner.Right
}

// Visit calls f once per run, in ascending key order.
func (m RegionMap[V]) Visit(f func(Region, V)) {
	for i := range m.lefts {
		f(m.domain.WithInner(KeyRange{Left: m.lefts[i], Right: m.runRight(i)}), m.vals[i])
	}
}

// Lookup returns the value covering k. k must lie inside the domain.
func (m RegionMap[V]) Lookup(k Key) V {
	if !m.domain.Contains(k) {
		panic(fmt.Sprintf("RegionMap.Lookup: key %q outside domain %s", k, m.domain))
	}
	for i := len(m.lefts) - 1; i >= 0; i-- {
		if k >= m.lefts[i] {
			return m.vals[i]
		}
	}
	panic("unreachable")
}

// Update overwrites the values of sub with v. sub must lie inside the
// domain; an empty sub is a no-op.
func (m *RegionMap[V]) Update(sub Region, v V) {
	if sub.IsEmpty() {
		return
	}
	if sub.Inner.Left < m.domain.Inner.Left || m.domain.Inner.Right.Less(sub.Inner.Right) {
		panic(fmt.Sprintf("RegionMap.Update: %s outside domain %s", sub, m.domain))
	}
	var lefts []Key
	var vals []V

	// Prefix: runs (or run fragments) strictly left of sub.
	for i := range m.lefts {
		if m.lefts[i] >= sub.Inner.Left {
			break
		}
		lefts = append(lefts, m.lefts[i])
		vals = append(vals, m.vals[i])
	}

	lefts = append(lefts, sub.Inner.Left)
	vals = append(vals, v)

	// Suffix: runs at or beyond sub's right edge; the run straddling the
	// edge resumes with its old value at the edge.
	if !sub.Inner.Right.Unbounded {
		edge := sub.Inner.Right.Key
		straddled := false
		for i := range m.lefts {
			if m.lefts[i] >= edge {
				lefts = append(lefts, m.lefts[i])
				vals = append(vals, m.vals[i])
				continue
			}
			if !straddled && m.runRight(i).Admits(edge) {
				// Run [left, right) with left < edge < right.
				lefts = append(lefts, edge)
				vals = append(vals, m.vals[i])
				straddled = true
			}
		}
	}

	m.lefts = lefts
	m.vals = vals
}

// Mask returns the restriction of the map to sub, which must lie inside
// the domain.
func (m RegionMap[V]) Mask(sub Region) RegionMap[V] {
	out := RegionMap[V]{domain: sub}
	if sub.IsEmpty() {
		return out
	}
	for i := range m.lefts {
		run := m.domain.WithInner(KeyRange{Left: m.lefts[i], Right: m.runRight(i)}).Intersect(sub)
		if run.IsEmpty() {
			continue
		}
		out.lefts = append(out.lefts, run.Inner.Left)
		out.vals = append(out.vals, m.vals[i])
	}
	return out
}

// MapValues returns a new map over the same domain with every value
// transformed by f.
func MapValues[V, U any](m RegionMap[V], f func(V) U) RegionMap[U] {
	out := RegionMap[U]{domain: m.domain, lefts: append([]Key(nil), m.lefts...)}
	out.vals = make([]U, len(m.vals))
	for i, v := range m.vals {
		out.vals[i] = f(v)
	}
	return out
}

// RegionMapsEqual reports whether two maps cover the same domain with
// pointwise-equal values, up to coalescing of adjacent equal runs.
func RegionMapsEqual[V any](a, b RegionMap[V], eq func(V, V) bool) bool {
	if !a.domain.Equal(b.domain) {
		return false
	}
	type cut struct {
		left Key
		val  V
	}
	flatten := func(m RegionMap[V]) []cut {
		var out []cut
		for i := range m.lefts {
			if len(out) > 0 && eq(out[len(out)-1].val, m.vals[i]) {
				continue
			}
			out = append(out, cut{left: m.lefts[i], val: m.vals[i]})
		}
		return out
	}
	ca, cb := flatten(a), flatten(b)
	if len(ca) != len(cb) {
		return false
	}
	for i := range ca {
		if ca[i].left != cb[i].left || !eq(ca[i].val, cb[i].val) {
			return false
		}
	}
	return true
}
