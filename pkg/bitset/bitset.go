// Package bitset is a packed set of dense node indices.
//
// A Set is not safe for concurrent mutation; every incremental run and every
// verification task owns its own.
package bitset

import "math/bits"

type Set struct{ w []uint64 }

// New returns an empty set able to hold indices 0..n-1.
func New(n int) *Set {
	if n <= 0 {
		return &Set{}
	}
	return &Set{w: make([]uint64, (n+63)>>6)}
}

// Test reports whether i is present. Out-of-range indices are never present.
func (b *Set) Test(i int) bool {
	if i < 0 {
		return false
	}
	w := i >> 6
	if w >= len(b.w) {
		return false
	}
	return (b.w[w] & (1 << (uint(i) & 63))) != 0
}

// Set adds i. Out-of-range indices are ignored.
func (b *Set) Set(i int) {
	if i < 0 {
		return
	}
	w := i >> 6
	if w >= len(b.w) {
		return
	}
	b.w[w] |= 1 << (uint(i) & 63)
}

// TestAndSet adds i and reports whether it was already present.
func (b *Set) TestAndSet(i int) bool {
	if i < 0 {
		return false
	}
	w := i >> 6
	if w >= len(b.w) {
		return false
	}
	mask := uint64(1) << (uint(i) & 63)
	if b.w[w]&mask != 0 {
		return true
	}
	b.w[w] |= mask
	return false
}

// Clear removes i.
func (b *Set) Clear(i int) {
	if i < 0 {
		return
	}
	w := i >> 6
	if w >= len(b.w) {
		return
	}
	b.w[w] &^= 1 << (uint(i) & 63)
}

// Reset removes every index, keeping capacity.
func (b *Set) Reset() {
	clear(b.w)
}

func (b *Set) Clone() *Set {
	cp := &Set{w: make([]uint64, len(b.w))}
	copy(cp.w, b.w)
	return cp
}

func (b *Set) Count() int {
	total := 0
	for _, w := range b.w {
		total += bits.OnesCount64(w)
	}
	return total
}

// ForEach calls fn for every present index in ascending order.
func (b *Set) ForEach(fn func(i int)) {
	for wi, w := range b.w {
		for w != 0 {
			tz := bits.TrailingZeros64(w)
			fn((wi << 6) + tz)
			w &^= 1 << uint(tz) //nolint:gosec // trailing zeros is non-negative
		}
	}
}

// Slice returns the present indices in ascending order.
func (b *Set) Slice() []int {
	out := make([]int, 0, b.Count())
	b.ForEach(func(i int) { out = append(out, i) })
	return out
}
