// Package graph holds the compact, index-based relational graph the WL engine
// runs on. Nodes are dense indices 0..N-1; adjacency is stored CSR style (row
// offsets into one flat edge slice) so per-node neighbor lists are sub-slices
// and the whole structure is safe to share read-only between goroutines.
package graph

import (
	"errors"
	"fmt"
)

var (
	ErrNodeOutOfRange   = errors.New("graph: node index out of range")
	ErrInvalidFeatures  = errors.New("graph: invalid node features")
	ErrInvalidDirection = errors.New("graph: invalid edge direction")
)

// Direction tags an adjacency entry as seen from the node that owns it.
type Direction uint8

const (
	Incoming Direction = 0
	Outgoing Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Incoming:
		return "in"
	case Outgoing:
		return "out"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Edge is one adjacency triple (direction, relation, neighbor).
type Edge struct {
	Dir      Direction
	Relation int
	Neighbor int
}

// Graph is immutable once built. Feature changes are expressed as overrides
// handed to the refinement engine, never by mutating the graph.
type Graph struct {
	features []Features
	row      []int // len N+1
	edges    []Edge
}

// New builds a Graph from per-node features and per-node adjacency. Every
// features entry and every edge is validated; nothing is defaulted.
func New(features []Features, adj [][]Edge) (*Graph, error) {
	if len(features) != len(adj) {
		return nil, fmt.Errorf("graph: %d feature entries for %d adjacency lists: %w", len(features), len(adj), ErrInvalidFeatures)
	}
	n := len(features)

	var errs []error
	for v, f := range features {
		if err := f.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("node %d: %w", v, err))
		}
	}

	row := make([]int, n+1)
	for v := 0; v < n; v++ {
		row[v+1] = row[v] + len(adj[v])
	}
	edges := make([]Edge, 0, row[n])
	for v, nbrs := range adj {
		for _, e := range nbrs {
			if e.Neighbor < 0 || e.Neighbor >= n {
				errs = append(errs, fmt.Errorf("node %d: neighbor %d: %w", v, e.Neighbor, ErrNodeOutOfRange))
			}
			if e.Dir != Incoming && e.Dir != Outgoing {
				errs = append(errs, fmt.Errorf("node %d: %w: %d", v, ErrInvalidDirection, e.Dir))
			}
			if e.Relation < 0 {
				errs = append(errs, fmt.Errorf("node %d: negative relation id %d: %w", v, e.Relation, ErrInvalidFeatures))
			}
			edges = append(edges, e)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	fs := make([]Features, n)
	copy(fs, features)
	return &Graph{features: fs, row: row, edges: edges}, nil
}

// N returns the node count.
func (g *Graph) N() int {
	return len(g.features)
}

// EdgeCount returns the number of adjacency entries (each directed edge is
// stored twice, once per endpoint).
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// Adj returns v's adjacency. The returned slice aliases graph storage and must
// not be modified.
func (g *Graph) Adj(v int) []Edge {
	return g.edges[g.row[v]:g.row[v+1]]
}

// Degree returns the length of v's adjacency list.
func (g *Graph) Degree(v int) int {
	return g.row[v+1] - g.row[v]
}

// Features returns the ingested features of v.
func (g *Graph) Features(v int) Features {
	return g.features[v]
}

// Contains reports whether v is a valid node index.
func (g *Graph) Contains(v int) bool {
	return v >= 0 && v < len(g.features)
}

// CheckNode returns ErrNodeOutOfRange when v is not a node of g.
func (g *Graph) CheckNode(v int) error {
	if !g.Contains(v) {
		return fmt.Errorf("%w: %d (n=%d)", ErrNodeOutOfRange, v, len(g.features))
	}
	return nil
}

// WithType returns a graph sharing g's adjacency whose nodes all carry type t.
// The preprocessing run starts from an all-blank copy of the ingested graph.
func (g *Graph) WithType(t TypeCode) *Graph {
	fs := make([]Features, len(g.features))
	for v, f := range g.features {
		fs[v] = f.WithType(t)
	}
	return &Graph{features: fs, row: g.row, edges: g.edges}
}
