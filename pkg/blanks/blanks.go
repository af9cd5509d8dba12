// Package blanks decides which nodes of a graph must stay blank so that every
// subject remains structurally indistinguishable from at least k-1 other
// nodes.
//
// Every node starts blank. Subjects are always necessary, and so is every
// member of a subject's class when that class has exactly k members. Nodes
// alone in their class are never examined. Every other node is revealed
// (typed constant) one at a time, nearest to a subject first; a reveal that
// breaks k-compliance makes the node necessary.
package blanks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/benbjohnson/clock"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/conductorone/wlanon/pkg/distance"
	"github.com/conductorone/wlanon/pkg/graph"
	"github.com/conductorone/wlanon/pkg/metrics"
	"github.com/conductorone/wlanon/pkg/partition"
	"github.com/conductorone/wlanon/pkg/progresslog"
	"github.com/conductorone/wlanon/pkg/verify"
	"github.com/conductorone/wlanon/pkg/wl"
)

var tracer = otel.Tracer("wlanon/blanks")

var (
	ErrNoSubjects                  = errors.New("blanks: no subjects to anonymize")
	ErrNotAnonymizable             = errors.New("blanks: no k-compliant anonymization possible")
	ErrEarlyStopWithoutIncremental = errors.New("blanks: early stop requires incremental verification")
	ErrInvalidWorkers              = errors.New("blanks: workers must not be negative")
)

// Config selects the verification strategy.
type Config struct {
	K           int
	Incremental bool
	// EarlyStop bounds each incremental update by the candidate's distance
	// to the nearest subject. Candidates no subject reaches are unbounded.
	EarlyStop  bool
	Parallel   bool
	Workers    int
	Cumulative bool
	// MaxDuration is the wall-clock budget of the whole run. Zero means
	// unlimited.
	MaxDuration time.Duration
	Verbose     bool
	// Clock defaults to the wall clock.
	Clock clock.Clock
}

func (c Config) Validate() error {
	var errs []error
	if err := partition.ValidateK(c.K); err != nil {
		errs = append(errs, err)
	}
	if c.EarlyStop && !c.Incremental {
		errs = append(errs, ErrEarlyStopWithoutIncremental)
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("%w (got %d)", ErrInvalidWorkers, c.Workers))
	}
	if c.Cumulative && c.Parallel {
		errs = append(errs, verify.ErrCumulativeParallel)
	}
	return errors.Join(errs...)
}

// Result lists node indices, each slice ascending.
type Result struct {
	RunID ksuid.KSUID
	// Necessary are the nodes that must stay blank.
	Necessary []int
	// Singletons are alone in their class in the all-blank coloring.
	Singletons []int
	// SubjectSingletonsBefore are subjects alone in their class when every
	// node is constant; SubjectSingletonsAfter when only Necessary are blank.
	SubjectSingletonsBefore []int
	SubjectSingletonsAfter  []int
	// Unevaluated candidates ran out of budget and were kept blank.
	Unevaluated []int
	Candidates  int
	Rounds      int
	// FinalCompliant reports k-compliance of the coloring with only
	// Necessary blank.
	FinalCompliant bool
	// Truncated is set when any stage stopped on the budget.
	Truncated bool
	Duration  time.Duration
}

// Revealed returns the nodes that may be typed constant.
func (r *Result) Revealed(n int) []int {
	blank := mapset.NewThreadUnsafeSet(r.Necessary...)
	out := make([]int, 0, n-len(r.Necessary))
	for v := range n {
		if !blank.Contains(v) {
			out = append(out, v)
		}
	}
	return out
}

type runOptions struct {
	m     *metrics.M
	namer func(int) string
}

type Option func(*runOptions)

func WithMetrics(m *metrics.M) Option {
	return func(o *runOptions) {
		o.m = m
	}
}

// WithNamer labels nodes in verbose logs.
func WithNamer(namer func(int) string) Option {
	return func(o *runOptions) {
		if namer != nil {
			o.namer = namer
		}
	}
}

// PreprocessDataset runs Preprocess over a loaded dataset.
func PreprocessDataset(ctx context.Context, ds *graph.Dataset, cfg Config, opts ...Option) (*Result, error) {
	return Preprocess(ctx, ds.Graph, ds.Subjects, cfg, append([]Option{WithNamer(ds.Name)}, opts...)...)
}

// Preprocess computes the necessary blanks of g for subjects. The type codes
// stored in g are ignored: the run starts from an all-blank copy.
func Preprocess(ctx context.Context, g *graph.Graph, subjects []int, cfg Config, opts ...Option) (*Result, error) {
	o := &runOptions{namer: func(v int) string { return fmt.Sprintf("#%d", v) }}
	for _, opt := range opts {
		opt(o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(subjects) == 0 {
		return nil, ErrNoSubjects
	}
	var errs []error
	for _, s := range subjects {
		if err := g.CheckNode(s); err != nil {
			errs = append(errs, fmt.Errorf("subject: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	subjects = slices.Compact(slices.Sorted(slices.Values(subjects)))

	ctx, span := tracer.Start(ctx, "blanks.Preprocess", trace.WithAttributes(
		attribute.Int("nodes", g.N()),
		attribute.Int("subjects", len(subjects)),
		attribute.Int("k", cfg.K),
	))
	defer span.End()
	l := ctxzap.Extract(ctx)

	res := &Result{RunID: ksuid.New()}
	l = l.With(zap.String("run_id", res.RunID.String()))
	ctx = ctxzap.ToContext(ctx, l)

	var budgetOpts []wl.BudgetOption
	if cfg.Clock != nil {
		budgetOpts = append(budgetOpts, wl.WithClock(cfg.Clock))
	}
	budget := wl.StartBudget(cfg.MaxDuration, budgetOpts...)
	progress := progresslog.New(ctx, progresslog.WithSequentialMode(!cfg.Parallel))

	l.Info("preprocessing started",
		zap.Int("nodes", g.N()),
		zap.Int("subjects", len(subjects)),
		zap.Int("k", cfg.K),
		zap.Bool("incremental", cfg.Incremental),
		zap.Bool("early_stop", cfg.EarlyStop),
		zap.Bool("parallel", cfg.Parallel),
		zap.Bool("cumulative", cfg.Cumulative),
	)

	blank := g.WithType(graph.Blank)
	engine := wl.NewEngine(blank, wl.WithBudget(budget), wl.WithPerNodeBudgetCheck(true))

	refineStart := time.Now()
	base := wl.InitialColoring(blank, nil)
	st := engine.Refine(ctx, base)
	res.Rounds = st.Rounds
	res.Truncated = st.Truncated
	counts, members := partition.CountsAndMembers(base.Colors)
	progress.LogRefinement(ctx, st.Rounds, len(counts), st.Truncated)
	o.m.RecordRefinement(ctx, st.Rounds, st.Truncated, time.Since(refineStart))

	if violations := partition.Violations(base.Colors, counts, subjects, cfg.K); len(violations) > 0 {
		return nil, fmt.Errorf("%w: %d subject(s) below k=%d with every node blank", ErrNotAnonymizable, len(violations), cfg.K)
	}

	necessary := mapset.NewThreadUnsafeSet(subjects...)
	for _, s := range subjects {
		c := base.Colors[s]
		if counts[c] == cfg.K {
			necessary.Append(members[c].ToSlice()...)
		}
	}
	res.Singletons = partition.Singletons(base.Colors, counts)
	singletons := mapset.NewThreadUnsafeSet(res.Singletons...)

	if cfg.Verbose {
		l.Debug("initial classification",
			zap.Strings("necessary", names(o.namer, sorted(necessary))),
			zap.Strings("singletons", names(o.namer, res.Singletons)),
		)
	}

	dist, err := distance.FromSources(ctx, blank, subjects, budget)
	if err != nil {
		return nil, err
	}
	res.Truncated = res.Truncated || dist.Truncated

	unmarked := make([]int, 0, g.N())
	for v := range g.N() {
		if !necessary.Contains(v) && !singletons.Contains(v) {
			unmarked = append(unmarked, v)
		}
	}
	ranked := dist.Rank(unmarked)
	res.Candidates = len(ranked)

	candidates := make([]verify.Candidate, len(ranked))
	for i, v := range ranked {
		limit := wl.NoLimit
		if cfg.EarlyStop && dist.At(v) != distance.Unreachable {
			limit = dist.At(v)
		}
		candidates[i] = verify.Candidate{
			Node:          v,
			Features:      blank.Features(v).WithType(graph.Constant),
			DistanceLimit: limit,
		}
	}

	if cfg.Verbose {
		l.Debug("candidates ranked", zap.Strings("candidates", names(o.namer, ranked)))
	}

	verifier, err := verify.New(engine, base, subjects,
		verify.WithK(cfg.K),
		verify.WithIncremental(cfg.Incremental),
		verify.WithParallel(cfg.Parallel, cfg.Workers),
		verify.WithCumulative(cfg.Cumulative),
		verify.WithVerbose(cfg.Verbose),
		verify.WithProgress(progress),
		verify.WithMetrics(o.m),
	)
	if err != nil {
		return nil, err
	}
	verdicts, err := verifier.Verify(ctx, candidates)
	if err != nil {
		return nil, err
	}

	for _, vd := range verdicts {
		switch {
		case !vd.Evaluated:
			res.Unevaluated = append(res.Unevaluated, vd.Node)
			necessary.Add(vd.Node)
			res.Truncated = true
		case vd.Truncated:
			// A compliance answer from an unfinished refinement is not trusted.
			necessary.Add(vd.Node)
			res.Truncated = true
		case !vd.Compliant:
			necessary.Add(vd.Node)
			if cfg.Verbose {
				l.Debug("necessary blank", zap.String("node", o.namer(vd.Node)))
			}
		}
	}
	slices.Sort(res.Unevaluated)
	res.Necessary = sorted(necessary)

	res.FinalCompliant, res.SubjectSingletonsAfter = finalCheck(ctx, blank, res.Necessary, subjects, cfg.K)
	res.SubjectSingletonsBefore = subjectSingletonsAllConstant(ctx, g, subjects)
	if !res.FinalCompliant {
		l.Warn("revealing every unnecessary blank at once breaks k-compliance",
			zap.Int("subject_singletons", len(res.SubjectSingletonsAfter)),
		)
	}

	res.Duration = budget.Elapsed()
	o.m.RecordRun(ctx, len(res.Necessary), len(res.Singletons), res.FinalCompliant, res.Duration)
	span.SetAttributes(
		attribute.String("run_id", res.RunID.String()),
		attribute.Int("necessary", len(res.Necessary)),
		attribute.Int("candidates", res.Candidates),
		attribute.Bool("truncated", res.Truncated),
	)
	l.Info("preprocessing finished",
		zap.Int("necessary", len(res.Necessary)),
		zap.Int("singletons", len(res.Singletons)),
		zap.Int("candidates", res.Candidates),
		zap.Int("unevaluated", len(res.Unevaluated)),
		zap.Bool("final_compliant", res.FinalCompliant),
		zap.Bool("truncated", res.Truncated),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// finalCheck refines the coloring with every node except necessary revealed.
// It is not bound by the run's budget.
func finalCheck(ctx context.Context, blank *graph.Graph, necessary []int, subjects []int, k int) (bool, []int) {
	keep := mapset.NewThreadUnsafeSet(necessary...)
	overrides := make(map[int]graph.Features, blank.N()-len(necessary))
	for v := range blank.N() {
		if !keep.Contains(v) {
			overrides[v] = blank.Features(v).WithType(graph.Constant)
		}
	}
	c := wl.InitialColoring(blank, overrides)
	wl.NewEngine(blank).Refine(ctx, c)
	return partition.IsKCompliant(c.Colors, c.Counts, subjects, k),
		partition.SubjectSingletons(c.Colors, c.Counts, subjects)
}

func subjectSingletonsAllConstant(ctx context.Context, g *graph.Graph, subjects []int) []int {
	constant := g.WithType(graph.Constant)
	c := wl.InitialColoring(constant, nil)
	wl.NewEngine(constant).Refine(ctx, c)
	return partition.SubjectSingletons(c.Colors, c.Counts, subjects)
}

func sorted(s mapset.Set[int]) []int {
	out := s.ToSlice()
	slices.Sort(out)
	return out
}

func names(namer func(int) string, vs []int) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = namer(v)
	}
	return out
}
