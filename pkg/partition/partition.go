// Package partition groups nodes by color and answers the k-anonymity
// question over a coloring.
package partition

import (
	"errors"
	"fmt"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/conductorone/wlanon/pkg/features"
)

var ErrInvalidK = errors.New("partition: k must be at least 1")

// ValidateK rejects k < 1.
func ValidateK(k int) error {
	if k < 1 {
		return fmt.Errorf("%w (got %d)", ErrInvalidK, k)
	}
	return nil
}

// Partition is the canonical grouping of node indices by color: every class
// sorted ascending, classes sorted lexicographically. Two colorings induce the
// same grouping iff their partitions are Equal.
type Partition [][]int

// Of builds the canonical partition of colors.
func Of(colors []features.Color) Partition {
	groups := make(map[features.Color][]int)
	for v, c := range colors {
		groups[c] = append(groups[c], v)
	}
	p := make(Partition, 0, len(groups))
	for _, g := range groups {
		// Indices were appended in ascending order.
		p = append(p, g)
	}
	slices.SortFunc(p, slices.Compare[[]int])
	return p
}

// Equal reports whether p and o group nodes identically.
func (p Partition) Equal(o Partition) bool {
	return slices.EqualFunc(p, o, slices.Equal[[]int])
}

// Sizes returns the class sizes in partition order.
func (p Partition) Sizes() []int {
	out := make([]int, len(p))
	for i, g := range p {
		out[i] = len(g)
	}
	return out
}

// Counts returns the class size of every color.
func Counts(colors []features.Color) map[features.Color]int {
	counts := make(map[features.Color]int)
	for _, c := range colors {
		counts[c]++
	}
	return counts
}

// CountsAndMembers returns, in one pass, each color's class size and member
// set.
func CountsAndMembers(colors []features.Color) (map[features.Color]int, map[features.Color]mapset.Set[int]) {
	counts := make(map[features.Color]int)
	members := make(map[features.Color]mapset.Set[int])
	for v, c := range colors {
		counts[c]++
		m, ok := members[c]
		if !ok {
			m = mapset.NewThreadUnsafeSet[int]()
			members[c] = m
		}
		m.Add(v)
	}
	return counts, members
}

// IsKCompliant reports whether every subject's class has at least k members.
// It stops at the first violation. k must already be validated.
func IsKCompliant(colors []features.Color, counts map[features.Color]int, subjects []int, k int) bool {
	for _, s := range subjects {
		if counts[colors[s]] < k {
			return false
		}
	}
	return true
}

// Violations returns every subject whose class is smaller than k, in subject
// order.
func Violations(colors []features.Color, counts map[features.Color]int, subjects []int, k int) []int {
	var out []int
	for _, s := range subjects {
		if counts[colors[s]] < k {
			out = append(out, s)
		}
	}
	return out
}

// Singletons returns every node alone in its class, ascending.
func Singletons(colors []features.Color, counts map[features.Color]int) []int {
	var out []int
	for v, c := range colors {
		if counts[c] == 1 {
			out = append(out, v)
		}
	}
	return out
}

// SubjectSingletons returns the subjects alone in their class, in subject
// order.
func SubjectSingletons(colors []features.Color, counts map[features.Color]int, subjects []int) []int {
	return Violations(colors, counts, subjects, 2)
}
