package wl

import (
	"fmt"
	"maps"
	"slices"

	"github.com/conductorone/wlanon/pkg/features"
	"github.com/conductorone/wlanon/pkg/graph"
	"github.com/conductorone/wlanon/pkg/partition"
)

// Coloring is the mutable state of one refinement session. Counts holds the
// class size of every color ever assigned during the session, including
// entries that dropped to zero.
//
// A Coloring is owned by exactly one goroutine; verification tasks Clone it.
type Coloring struct {
	Colors []features.Color
	Counts map[features.Color]int
}

// NewColoring wraps colors and counts them.
func NewColoring(colors []features.Color) *Coloring {
	c := &Coloring{Colors: colors, Counts: make(map[features.Color]int, len(colors))}
	c.recount()
	return c
}

// InitialColoring hashes every node's canonical feature buffer. overrides
// replaces the features of individual nodes without touching g.
func InitialColoring(g *graph.Graph, overrides map[int]graph.Features) *Coloring {
	colors := make([]features.Color, g.N())
	buf := make([]uint64, 0, 64)
	for v := range colors {
		f, ok := overrides[v]
		if !ok {
			f = g.Features(v)
		}
		buf = features.AppendEncode(buf[:0], f)
		colors[v] = features.ColorOf(buf)
	}
	return NewColoring(colors)
}

// Clone returns an independent copy of colors and counts.
func (c *Coloring) Clone() *Coloring {
	return &Coloring{
		Colors: slices.Clone(c.Colors),
		Counts: maps.Clone(c.Counts),
	}
}

// Partition returns the canonical partition of the current colors.
func (c *Coloring) Partition() partition.Partition {
	return partition.Of(c.Colors)
}

// ClassSize returns the size of v's class.
func (c *Coloring) ClassSize(v int) int {
	return c.Counts[c.Colors[v]]
}

// set recolors v, keeping Counts consistent.
func (c *Coloring) set(v int, col features.Color) {
	old := c.Colors[v]
	if old == col {
		return
	}
	c.Counts[old]--
	c.Counts[col]++
	c.Colors[v] = col
}

// recount rebuilds Counts from scratch, in place.
func (c *Coloring) recount() {
	clear(c.Counts)
	for _, col := range c.Colors {
		c.Counts[col]++
	}
}

// CheckCounts verifies the count invariant: every color's count equals the
// number of nodes holding it, and no count is negative.
func (c *Coloring) CheckCounts() error {
	actual := partition.Counts(c.Colors)
	for col, n := range c.Counts {
		if n < 0 {
			return fmt.Errorf("wl: color %x has negative count %d", uint64(col), n)
		}
		if actual[col] != n {
			return fmt.Errorf("wl: color %x counted %d, held by %d nodes", uint64(col), n, actual[col])
		}
	}
	for col, n := range actual {
		if c.Counts[col] != n {
			return fmt.Errorf("wl: color %x held by %d nodes, counted %d", uint64(col), n, c.Counts[col])
		}
	}
	return nil
}
