package distance

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	gonum "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"

	"github.com/conductorone/wlanon/pkg/graph"
	"github.com/conductorone/wlanon/pkg/wl"
)

func build(t *testing.T, n int, edges [][2]int) *graph.Graph {
	t.Helper()
	fs := make([]graph.Features, n)
	adj := make([][]graph.Edge, n)
	for _, e := range edges {
		adj[e[0]] = append(adj[e[0]], graph.Edge{Dir: graph.Outgoing, Relation: 1, Neighbor: e[1]})
		adj[e[1]] = append(adj[e[1]], graph.Edge{Dir: graph.Incoming, Relation: 1, Neighbor: e[0]})
	}
	g, err := graph.New(fs, adj)
	require.NoError(t, err)
	return g
}

func TestFromSources(t *testing.T) {
	// 0 -> 1 -> 2 <- 3, 4 isolated
	g := build(t, 5, [][2]int{{0, 1}, {1, 2}, {3, 2}})
	ds, err := FromSources(context.Background(), g, []int{0}, wl.Unlimited())
	require.NoError(t, err)
	require.False(t, ds.Truncated)

	want := []int{0, 1, 2, 3, Unreachable}
	for v, d := range want {
		require.Equal(t, d, ds.At(v), "node %d", v)
	}
	require.Equal(t, 3, ds.Max())
	require.Equal(t, 5, ds.Len())
}

func TestFromSourcesMultiSource(t *testing.T) {
	g := build(t, 6, [][2]int{{0, 1}, {1, 2}, {2, 3}, {3, 4}, {4, 5}})
	ds, err := FromSources(context.Background(), g, []int{0, 5, 5}, wl.Unlimited())
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2, 2, 1, 0}, []int{ds.At(0), ds.At(1), ds.At(2), ds.At(3), ds.At(4), ds.At(5)})
}

func TestFromSourcesRejectsUnknownSource(t *testing.T) {
	g := build(t, 2, nil)
	_, err := FromSources(context.Background(), g, []int{2}, wl.Unlimited())
	require.ErrorIs(t, err, graph.ErrNodeOutOfRange)
}

func TestRankPutsUnreachableLast(t *testing.T) {
	g := build(t, 5, [][2]int{{0, 1}, {1, 2}, {3, 2}})
	ds, err := FromSources(context.Background(), g, []int{2}, wl.Unlimited())
	require.NoError(t, err)
	require.Equal(t, []int{1, 3, 0, 4}, ds.Rank([]int{4, 0, 1, 3}))
	require.Equal(t, []int{1, 3}, ds.Rank([]int{1, 3}))
}

func TestFromSourcesBudget(t *testing.T) {
	mock := clock.NewMock()
	b := wl.StartBudget(time.Second, wl.WithClock(mock))
	mock.Add(time.Minute)

	g := build(t, 3, [][2]int{{0, 1}, {1, 2}})
	ds, err := FromSources(context.Background(), g, []int{0}, b)
	require.NoError(t, err)
	require.True(t, ds.Truncated)
	require.Equal(t, 0, ds.At(0))
	require.Equal(t, Unreachable, ds.At(2))
}

func TestFromSourcesMatchesGonumBFS(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const n = 80
	var edges [][2]int
	ug := simple.NewUndirectedGraph()
	for v := range n {
		ug.AddNode(simple.Node(v))
	}
	for range 110 {
		a, b := rng.Intn(n), rng.Intn(n)
		if a == b {
			continue
		}
		edges = append(edges, [2]int{a, b})
		ug.SetEdge(ug.NewEdge(simple.Node(a), simple.Node(b)))
	}
	g := build(t, n, edges)
	sources := []int{3, 17, 60}

	want := make([]int, n)
	for v := range want {
		want[v] = Unreachable
	}
	for _, s := range sources {
		var bf traverse.BreadthFirst
		bf.Walk(ug, simple.Node(s), func(node gonum.Node, d int) bool {
			id := int(node.ID())
			if want[id] == Unreachable || d < want[id] {
				want[id] = d
			}
			return false
		})
	}

	ds, err := FromSources(context.Background(), g, sources, wl.Unlimited())
	require.NoError(t, err)
	for v := range n {
		require.Equal(t, want[v], ds.At(v), "node %d", v)
	}
}
