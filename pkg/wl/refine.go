// Package wl implements Weisfeiler-Leman color refinement over a graph.Graph:
// synchronous batch rounds until the partition stabilizes, and a bounded
// incremental update that re-colors only what a single feature change reaches.
package wl

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/conductorone/wlanon/pkg/features"
	"github.com/conductorone/wlanon/pkg/graph"
	"github.com/conductorone/wlanon/pkg/partition"
)

var tracer = otel.Tracer("wlanon/wl")

// Stats describes one Refine or Incremental call.
type Stats struct {
	// Rounds counts completed batch rounds.
	Rounds int
	// Recomputed counts incremental node recomputations.
	Recomputed int
	// Changed counts nodes whose color changed during an incremental update.
	Changed int
	// Truncated is set when the budget ran out before convergence.
	Truncated bool
}

// Engine refines colorings of one immutable graph. An Engine holds no
// per-call state and may be shared across goroutines; the Coloring may not.
type Engine struct {
	g            *graph.Graph
	budget       Budget
	perNodeCheck bool
}

type Option func(*Engine)

// WithBudget bounds every call on the engine by b.
func WithBudget(b Budget) Option {
	return func(e *Engine) {
		e.budget = b
	}
}

// WithPerNodeBudgetCheck also checks the budget between nodes of a batch
// round, not only between rounds. A round interrupted this way is discarded.
func WithPerNodeBudgetCheck(on bool) Option {
	return func(e *Engine) {
		e.perNodeCheck = on
	}
}

func NewEngine(g *graph.Graph, opts ...Option) *Engine {
	e := &Engine{g: g, budget: Unlimited()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Graph returns the graph the engine refines.
func (e *Engine) Graph() *graph.Graph {
	return e.g
}

// Budget returns the engine's budget.
func (e *Engine) Budget() Budget {
	return e.budget
}

// Refine runs synchronous rounds on c until a round leaves the partition
// unchanged. Every node's next color is computed from the previous round's
// colors only. Counts are rebuilt from scratch after each round.
//
// When the budget runs out c holds the last completed round and Truncated is
// set.
func (e *Engine) Refine(ctx context.Context, c *Coloring) Stats {
	ctx, span := tracer.Start(ctx, "wl.Refine")
	defer span.End()
	l := ctxzap.Extract(ctx)

	var st Stats
	n := len(c.Colors)
	c.recount()
	current := partition.Of(c.Colors)
	next := make([]features.Color, n)
	s := getScratch()
	defer putScratch(s)

	for {
		if e.budget.Expired() {
			st.Truncated = true
			break
		}
		completed := true
		for v := range n {
			if e.perNodeCheck && e.budget.Expired() {
				completed = false
				break
			}
			next[v] = e.refineNode(v, c.Colors, s)
		}
		if !completed {
			st.Truncated = true
			break
		}
		st.Rounds++

		c.Colors, next = next, c.Colors
		c.recount()
		p := partition.Of(c.Colors)
		if p.Equal(current) {
			break
		}
		current = p
	}

	span.SetAttributes(
		attribute.Int("rounds", st.Rounds),
		attribute.Int("classes", len(current)),
		attribute.Bool("truncated", st.Truncated),
	)
	if st.Truncated {
		l.Debug("wl: refinement stopped by time budget",
			zap.Int("rounds", st.Rounds),
			zap.Duration("elapsed", e.budget.Elapsed()),
		)
	}
	return st
}

// NodeColor returns the color v would receive from one refinement step over
// colors.
func (e *Engine) NodeColor(v int, colors []features.Color) features.Color {
	s := getScratch()
	defer putScratch(s)
	return e.refineNode(v, colors, s)
}

type triple struct {
	dir   uint64
	rel   uint64
	color uint64
}

func compareTriple(a, b triple) int {
	if c := cmp.Compare(a.dir, b.dir); c != 0 {
		return c
	}
	if c := cmp.Compare(a.rel, b.rel); c != 0 {
		return c
	}
	return cmp.Compare(a.color, b.color)
}

type scratch struct {
	triples []triple
	buf     []uint64
}

var scratchPool = sync.Pool{
	New: func() any {
		return &scratch{
			triples: make([]triple, 0, 32),
			buf:     make([]uint64, 0, 97),
		}
	},
}

func getScratch() *scratch {
	s, _ := scratchPool.Get().(*scratch)
	return s
}

func putScratch(s *scratch) {
	s.triples = s.triples[:0]
	s.buf = s.buf[:0]
	scratchPool.Put(s)
}

// refineNode hashes [self, (dir, rel, color)...] with the triples sorted. A
// node without neighbors hashes [self].
func (e *Engine) refineNode(v int, colors []features.Color, s *scratch) features.Color {
	s.buf = append(s.buf[:0], uint64(colors[v]))
	adj := e.g.Adj(v)
	if len(adj) == 0 {
		return features.ColorOf(s.buf)
	}

	s.triples = s.triples[:0]
	for _, edge := range adj {
		s.triples = append(s.triples, triple{
			dir:   uint64(edge.Dir),
			rel:   uint64(edge.Relation), //nolint:gosec // relation ids are non-negative
			color: uint64(colors[edge.Neighbor]),
		})
	}
	slices.SortFunc(s.triples, compareTriple)
	for _, t := range s.triples {
		s.buf = append(s.buf, t.dir, t.rel, t.color)
	}
	return features.ColorOf(s.buf)
}
