// Package distance computes hop distances from a source set over the
// undirected view of a graph.Graph.
package distance

import (
	"context"
	"slices"

	"github.com/gammazero/deque"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"

	"github.com/conductorone/wlanon/pkg/graph"
	"github.com/conductorone/wlanon/pkg/wl"
)

// Unreachable marks nodes no source reaches.
const Unreachable = -1

// Distances holds the multi-source BFS distance of every node.
type Distances struct {
	d []int
	// Truncated is set when the budget ran out; unvisited nodes stay
	// Unreachable.
	Truncated bool
}

// FromSources runs one breadth-first search seeded with every source at
// distance 0. Edge direction is ignored.
func FromSources(ctx context.Context, g *graph.Graph, sources []int, budget wl.Budget) (*Distances, error) {
	d := make([]int, g.N())
	for v := range d {
		d[v] = Unreachable
	}
	out := &Distances{d: d}

	var q deque.Deque[int]
	for _, s := range sources {
		if err := g.CheckNode(s); err != nil {
			return nil, err
		}
		if d[s] == Unreachable {
			d[s] = 0
			q.PushBack(s)
		}
	}

	for q.Len() > 0 {
		if budget.Expired() {
			out.Truncated = true
			ctxzap.Extract(ctx).Debug("distance: search stopped by time budget", zap.Int("pending", q.Len()))
			break
		}
		v := q.PopFront()
		for _, e := range g.Adj(v) {
			if d[e.Neighbor] == Unreachable {
				d[e.Neighbor] = d[v] + 1
				q.PushBack(e.Neighbor)
			}
		}
	}
	return out, nil
}

// At returns the distance of v, or Unreachable.
func (ds *Distances) At(v int) int {
	return ds.d[v]
}

// Len is the number of nodes covered.
func (ds *Distances) Len() int {
	return len(ds.d)
}

// Rank orders nodes by ascending distance with unreachable nodes last. Ties
// keep the order of nodes.
func (ds *Distances) Rank(nodes []int) []int {
	out := slices.Clone(nodes)
	slices.SortStableFunc(out, func(a, b int) int {
		return compare(ds.d[a], ds.d[b])
	})
	return out
}

func compare(a, b int) int {
	switch {
	case a == b:
		return 0
	case a == Unreachable:
		return 1
	case b == Unreachable:
		return -1
	case a < b:
		return -1
	default:
		return 1
	}
}

// Max returns the largest finite distance, or Unreachable if none.
func (ds *Distances) Max() int {
	m := Unreachable
	for _, v := range ds.d {
		m = max(m, v)
	}
	return m
}
