package wl

import (
	"context"
	"fmt"

	"github.com/gammazero/deque"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/conductorone/wlanon/pkg/bitset"
	"github.com/conductorone/wlanon/pkg/features"
	"github.com/conductorone/wlanon/pkg/graph"
)

// NoLimit disables the distance limit of Incremental.
const NoLimit = -1

// Change replaces the features of one node.
type Change struct {
	Node     int
	Features graph.Features
}

// Incremental applies ch to c and propagates it breadth-first one level at a
// time. Every node of a level is recomputed against the colors left by the
// previous level before any of them is written back, so nodes that were
// symmetric before the change see symmetric inputs. Each reached node is
// recomputed once and a node whose color is unchanged stops propagation
// through it. With limit >= 0 nodes further than limit hops from ch.Node are
// never recomputed.
//
// Counts are adjusted per recolor and zero entries are kept. On budget
// exhaustion c keeps every completed level, the interrupted level is dropped
// and Truncated is set.
func (e *Engine) Incremental(ctx context.Context, c *Coloring, ch Change, limit int) (Stats, error) {
	var st Stats
	if err := e.g.CheckNode(ch.Node); err != nil {
		return st, err
	}
	if err := ch.Features.Validate(); err != nil {
		return st, fmt.Errorf("wl: change of node %d: %w", ch.Node, err)
	}

	ctx, span := tracer.Start(ctx, "wl.Incremental")
	defer span.End()
	l := ctxzap.Extract(ctx)

	if e.budget.Expired() {
		st.Truncated = true
		return st, nil
	}

	col := features.ColorOfFeatures(ch.Features)
	if col == c.Colors[ch.Node] {
		return st, nil
	}
	c.set(ch.Node, col)

	s := getScratch()
	defer putScratch(s)
	visited := bitset.New(e.g.N())
	visited.Set(ch.Node)
	var q deque.Deque[int]
	q.PushBack(ch.Node)
	var recolor []features.Color

	depth := 0
levels:
	for q.Len() > 0 {
		width := q.Len()
		recolor = recolor[:0]
		for i := range width {
			if e.budget.Expired() {
				st.Truncated = true
				break levels
			}
			recolor = append(recolor, e.refineNode(q.At(i), c.Colors, s))
		}

		for i := range width {
			v := q.PopFront()
			st.Recomputed++
			if recolor[i] == c.Colors[v] {
				continue
			}
			c.set(v, recolor[i])
			st.Changed++

			if limit >= 0 && depth >= limit {
				continue
			}
			for _, edge := range e.g.Adj(v) {
				if !visited.TestAndSet(edge.Neighbor) {
					q.PushBack(edge.Neighbor)
				}
			}
		}
		depth++
	}

	span.SetAttributes(
		attribute.Int("node", ch.Node),
		attribute.Int("limit", limit),
		attribute.Int("recomputed", st.Recomputed),
		attribute.Bool("truncated", st.Truncated),
	)
	if st.Truncated {
		l.Debug("wl: incremental update stopped by time budget",
			zap.Int("node", ch.Node),
			zap.Int("recomputed", st.Recomputed),
		)
	}
	return st, nil
}
