package blanks

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/conductorone/wlanon/pkg/graph"
	"github.com/conductorone/wlanon/pkg/partition"
	"github.com/conductorone/wlanon/pkg/verify"
)

// threePaths has subjects s0 and s1 at the heads of two of three identical
// paths:
//
//	s0 -next-> a1 -next-> a2
//	s1 -next-> b1 -next-> b2
//	c0 -next-> c1 -next-> c2
func threePaths(t *testing.T) *graph.Dataset {
	t.Helper()
	doc := &graph.Document{}
	for _, n := range []string{"s0", "a1", "a2", "s1", "b1", "b2", "c0", "c1", "c2"} {
		doc.Nodes = append(doc.Nodes, graph.DocumentNode{ID: n})
	}
	for _, p := range [][3]string{{"s0", "a1", "a2"}, {"s1", "b1", "b2"}, {"c0", "c1", "c2"}} {
		doc.Edges = append(doc.Edges,
			graph.DocumentEdge{Source: p[0], Relation: "next", Target: p[1]},
			graph.DocumentEdge{Source: p[1], Relation: "next", Target: p[2]},
		)
	}
	doc.Subjects = []string{"s0", "s1"}
	ds, err := doc.Build(graph.SubjectRule{}, graph.Constant)
	require.NoError(t, err)
	require.Equal(t, []int{0, 3}, ds.Subjects)
	return ds
}

func TestPreprocess(t *testing.T) {
	ds := threePaths(t)
	res, err := PreprocessDataset(context.Background(), ds, Config{K: 2})
	require.NoError(t, err)

	// Revealing anything on a subject's path separates the two subjects;
	// revealing the third path only shrinks their class to exactly two.
	require.Equal(t, []string{"s0", "a1", "a2", "s1", "b1", "b2"}, ds.NamesOf(res.Necessary))
	require.Empty(t, res.Singletons)
	require.Equal(t, 7, res.Candidates)
	require.Empty(t, res.Unevaluated)
	require.True(t, res.FinalCompliant)
	require.False(t, res.Truncated)
	require.Empty(t, res.SubjectSingletonsBefore)
	require.Empty(t, res.SubjectSingletonsAfter)
	require.Equal(t, []int{6, 7, 8}, res.Revealed(ds.Graph.N()))
	require.False(t, res.RunID.IsNil())
}

func TestPreprocessModesAgree(t *testing.T) {
	ds := threePaths(t)
	want, err := PreprocessDataset(context.Background(), ds, Config{K: 2})
	require.NoError(t, err)

	configs := map[string]Config{
		"incremental":            {K: 2, Incremental: true},
		"incremental early stop": {K: 2, Incremental: true, EarlyStop: true},
		"parallel":               {K: 2, Parallel: true, Workers: 3},
		"parallel incremental":   {K: 2, Parallel: true, Incremental: true, EarlyStop: true},
		"cumulative":             {K: 2, Cumulative: true},
		"cumulative incremental": {K: 2, Cumulative: true, Incremental: true},
	}
	for name, cfg := range configs {
		t.Run(name, func(t *testing.T) {
			res, err := PreprocessDataset(context.Background(), ds, cfg)
			require.NoError(t, err)
			require.Equal(t, want.Necessary, res.Necessary)
			require.True(t, res.FinalCompliant)
		})
	}
}

// twoTriangles has subjects a1 and b1 in two identical triangles:
//
//	a0 -r-> a1, a0 -r-> a2, a1 <-r-> a2
//	b0 -r-> b1, b0 -r-> b2, b1 <-r-> b2
func twoTriangles(t *testing.T) *graph.Dataset {
	t.Helper()
	doc := &graph.Document{}
	for _, p := range []string{"a", "b"} {
		for _, n := range []string{"0", "1", "2"} {
			doc.Nodes = append(doc.Nodes, graph.DocumentNode{ID: p + n})
		}
		doc.Edges = append(doc.Edges,
			graph.DocumentEdge{Source: p + "0", Relation: "r", Target: p + "1"},
			graph.DocumentEdge{Source: p + "0", Relation: "r", Target: p + "2"},
			graph.DocumentEdge{Source: p + "1", Relation: "r", Target: p + "2"},
			graph.DocumentEdge{Source: p + "2", Relation: "r", Target: p + "1"},
		)
	}
	doc.Subjects = []string{"a1", "b1"}
	ds, err := doc.Build(graph.SubjectRule{}, graph.Constant)
	require.NoError(t, err)
	require.Equal(t, []int{1, 4}, ds.Subjects)
	return ds
}

func TestPreprocessTrianglesModesAgree(t *testing.T) {
	ds := twoTriangles(t)

	// Revealing a triangle's head leaves its subject paired with the other
	// tail node; revealing that tail isolates the subject.
	configs := map[string]Config{
		"full":                   {K: 2},
		"incremental":            {K: 2, Incremental: true},
		"incremental early stop": {K: 2, Incremental: true, EarlyStop: true},
		"cumulative incremental": {K: 2, Cumulative: true, Incremental: true},
	}
	for name, cfg := range configs {
		t.Run(name, func(t *testing.T) {
			res, err := PreprocessDataset(context.Background(), ds, cfg)
			require.NoError(t, err)
			require.Equal(t, []int{1, 2, 4, 5}, res.Necessary)
			require.Equal(t, []int{0, 3}, res.Revealed(ds.Graph.N()))
			require.True(t, res.FinalCompliant)
		})
	}
}

func TestPreprocessClassOfExactlyK(t *testing.T) {
	ds := threePaths(t)
	res, err := Preprocess(context.Background(), ds.Graph, []int{0}, Config{K: 3})
	require.NoError(t, err)

	// s0's class {s0, s1, c0} has exactly k members, so all three stay blank,
	// and any reveal on a path splits the class.
	require.Subset(t, res.Necessary, []int{0, 3, 6})
	require.Len(t, res.Necessary, 9)
	require.True(t, res.FinalCompliant)
}

func TestPreprocessSkipsSingletons(t *testing.T) {
	doc := &graph.Document{
		Nodes: []graph.DocumentNode{
			{ID: "subject-1", Concepts: []string{"Person"}},
			{ID: "subject-2", Concepts: []string{"Person"}},
			{ID: "hub", Concepts: []string{"City"}},
		},
		Edges: []graph.DocumentEdge{
			{Source: "subject-1", Relation: "livesIn", Target: "hub"},
			{Source: "subject-2", Relation: "livesIn", Target: "hub"},
		},
	}
	ds, err := doc.Build(graph.SubjectRule{Identifier: "SUBJECT"}, graph.Constant)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, ds.Subjects)

	res, err := PreprocessDataset(context.Background(), ds, Config{K: 2})
	require.NoError(t, err)
	require.Equal(t, []int{2}, res.Singletons)
	require.Equal(t, []int{0, 1}, res.Necessary)
	require.Zero(t, res.Candidates)
	require.True(t, res.FinalCompliant)
}

func TestPreprocessSubjectSingletonsBefore(t *testing.T) {
	doc := &graph.Document{
		Nodes: []graph.DocumentNode{
			{ID: "s0", Concepts: []string{"Person"}},
			{ID: "s1", Concepts: []string{"Person"}},
			{ID: "x", Concepts: []string{"City"}},
			{ID: "y", Concepts: []string{"Town"}},
		},
		Edges: []graph.DocumentEdge{
			{Source: "s0", Relation: "livesIn", Target: "x"},
			{Source: "s1", Relation: "livesIn", Target: "y"},
		},
		Subjects: []string{"s0", "s1"},
	}
	ds, err := doc.Build(graph.SubjectRule{}, graph.Constant)
	require.NoError(t, err)

	_, err = PreprocessDataset(context.Background(), ds, Config{K: 2})
	require.ErrorIs(t, err, ErrNotAnonymizable)

	// x and y differ by concept whatever their type, which separates s0 from
	// s1 before and after blanking.
	res, err := PreprocessDataset(context.Background(), ds, Config{K: 1})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, res.SubjectSingletonsBefore)
	require.Equal(t, []int{0, 1}, res.SubjectSingletonsAfter)
	require.Equal(t, []int{0, 1, 2, 3}, res.Singletons)
	require.Equal(t, []int{0, 1}, res.Necessary)
	require.True(t, res.FinalCompliant)
}

func TestPreprocessErrors(t *testing.T) {
	ds := threePaths(t)
	ctx := context.Background()

	_, err := Preprocess(ctx, ds.Graph, nil, Config{K: 2})
	require.ErrorIs(t, err, ErrNoSubjects)

	_, err = Preprocess(ctx, ds.Graph, []int{0}, Config{K: 4})
	require.ErrorIs(t, err, ErrNotAnonymizable)

	_, err = Preprocess(ctx, ds.Graph, []int{12}, Config{K: 2})
	require.ErrorIs(t, err, graph.ErrNodeOutOfRange)

	_, err = Preprocess(ctx, ds.Graph, []int{0}, Config{K: 2, EarlyStop: true})
	require.ErrorIs(t, err, ErrEarlyStopWithoutIncremental)

	_, err = Preprocess(ctx, ds.Graph, []int{0}, Config{K: 0, Workers: -1, Parallel: true, Cumulative: true})
	require.ErrorIs(t, err, partition.ErrInvalidK)
	require.ErrorIs(t, err, ErrInvalidWorkers)
	require.ErrorIs(t, err, verify.ErrCumulativeParallel)
}

// tickingClock advances by step every time elapsed time is measured.
type tickingClock struct {
	*clock.Mock
	step time.Duration
}

func (c *tickingClock) Since(t time.Time) time.Duration {
	c.Add(c.step)
	return c.Mock.Since(t)
}

func TestPreprocessBudgetKeepsUnevaluatedBlank(t *testing.T) {
	ds := threePaths(t)
	clk := &tickingClock{Mock: clock.NewMock(), step: time.Second}

	res, err := PreprocessDataset(context.Background(), ds, Config{K: 2, MaxDuration: 12 * time.Second, Clock: clk})
	require.NoError(t, err)
	require.True(t, res.Truncated)
	require.Subset(t, res.Necessary, []int{0, 3})
	require.Subset(t, res.Necessary, res.Unevaluated)
	require.NotEmpty(t, res.Unevaluated)
}

func TestPreprocessSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, err := PreprocessDataset(context.Background(), threePaths(t), Config{K: 2, Incremental: true})
	require.NoError(t, err)

	names := map[string]int{}
	for _, s := range sr.Ended() {
		names[s.Name()]++
	}
	require.Equal(t, 1, names["blanks.Preprocess"])
	require.Equal(t, 1, names["verify.Verify"])
	require.Positive(t, names["wl.Refine"])
	require.Equal(t, 7, names["wl.Incremental"])
}
