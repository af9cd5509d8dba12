// Package verify evaluates candidate feature changes against a refined
// coloring and reports, per candidate, whether k-compliance survives the
// change.
package verify

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/conductorone/wlanon/pkg/graph"
	"github.com/conductorone/wlanon/pkg/metrics"
	"github.com/conductorone/wlanon/pkg/partition"
	"github.com/conductorone/wlanon/pkg/progresslog"
	"github.com/conductorone/wlanon/pkg/wl"
)

var tracer = otel.Tracer("wlanon/verify")

var ErrCumulativeParallel = errors.New("verify: cumulative verification is sequential only")

// Candidate is one hypothesized feature change. DistanceLimit bounds
// incremental propagation; wl.NoLimit disables the bound. Batch evaluation
// ignores it.
type Candidate struct {
	Node          int
	Features      graph.Features
	DistanceLimit int
}

// Verdict is the outcome of one candidate. Evaluated is false when the budget
// ran out or the context ended before the candidate was started; Compliant
// is meaningless then.
type Verdict struct {
	Node      int
	Compliant bool
	Truncated bool
	Evaluated bool
	// Applied is set in cumulative mode when the change was kept for the
	// candidates that follow.
	Applied  bool
	Stats    wl.Stats
	Duration time.Duration
}

// Verifier never writes to its base coloring; incremental evaluations each
// work on their own clone.
type Verifier struct {
	engine      *wl.Engine
	base        *wl.Coloring
	subjects    []int
	k           int
	incremental bool
	parallel    bool
	workers     int
	cumulative  bool
	verbose     bool
	progress    *progresslog.ProgressLog
	m           *metrics.M
}

type Option func(*Verifier)

func WithK(k int) Option {
	return func(v *Verifier) {
		v.k = k
	}
}

// WithIncremental evaluates candidates with the incremental updater instead
// of refining from a fresh initial coloring.
func WithIncremental(on bool) Option {
	return func(v *Verifier) {
		v.incremental = on
	}
}

// WithParallel evaluates candidates on a pool of workers. workers <= 0 uses
// GOMAXPROCS.
func WithParallel(on bool, workers int) Option {
	return func(v *Verifier) {
		v.parallel = on
		v.workers = workers
	}
}

// WithCumulative keeps every compliant change applied while later candidates
// are evaluated.
func WithCumulative(on bool) Option {
	return func(v *Verifier) {
		v.cumulative = on
	}
}

// WithVerbose logs every verdict at debug level.
func WithVerbose(on bool) Option {
	return func(v *Verifier) {
		v.verbose = on
	}
}

func WithProgress(p *progresslog.ProgressLog) Option {
	return func(v *Verifier) {
		v.progress = p
	}
}

func WithMetrics(m *metrics.M) Option {
	return func(v *Verifier) {
		v.m = m
	}
}

// New returns a verifier of candidates against base, which must be a coloring
// of engine's graph. base is never modified.
func New(engine *wl.Engine, base *wl.Coloring, subjects []int, opts ...Option) (*Verifier, error) {
	v := &Verifier{
		engine:   engine,
		base:     base,
		subjects: subjects,
		k:        2,
	}
	for _, o := range opts {
		o(v)
	}

	var errs []error
	if err := partition.ValidateK(v.k); err != nil {
		errs = append(errs, err)
	}
	if len(base.Colors) != engine.Graph().N() {
		errs = append(errs, fmt.Errorf("verify: coloring covers %d nodes, graph has %d", len(base.Colors), engine.Graph().N()))
	}
	for _, s := range subjects {
		if err := engine.Graph().CheckNode(s); err != nil {
			errs = append(errs, fmt.Errorf("verify: subject: %w", err))
		}
	}
	if v.cumulative && v.parallel {
		errs = append(errs, ErrCumulativeParallel)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if v.workers <= 0 {
		v.workers = runtime.GOMAXPROCS(0)
	}
	return v, nil
}

func (v *Verifier) mode() string {
	if v.incremental {
		return metrics.ModeIncremental
	}
	return metrics.ModeFull
}

// Verify evaluates candidates and returns one verdict per candidate, in
// candidate order. Candidates are validated up front.
func (v *Verifier) Verify(ctx context.Context, candidates []Candidate) ([]Verdict, error) {
	ctx, span := tracer.Start(ctx, "verify.Verify", trace.WithAttributes(
		attribute.Int("candidates", len(candidates)),
		attribute.String("mode", v.mode()),
	))
	defer span.End()

	var errs []error
	for i, c := range candidates {
		if err := v.engine.Graph().CheckNode(c.Node); err != nil {
			errs = append(errs, fmt.Errorf("candidate %d: %w", i, err))
			continue
		}
		if err := c.Features.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("candidate %d (node %d): %w", i, c.Node, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	verdicts := make([]Verdict, len(candidates))
	for i, c := range candidates {
		verdicts[i].Node = c.Node
	}
	if v.progress != nil {
		v.progress.SetCandidates(len(candidates))
	}

	var err error
	switch {
	case v.parallel:
		err = v.verifyParallel(ctx, candidates, verdicts)
	case v.cumulative:
		err = v.verifyCumulative(ctx, candidates, verdicts)
	default:
		err = v.verifySequential(ctx, candidates, verdicts)
	}

	evaluated := 0
	for _, vd := range verdicts {
		if vd.Evaluated {
			evaluated++
		}
	}
	span.SetAttributes(
		attribute.String("mode", v.mode()),
		attribute.Bool("parallel", v.parallel),
		attribute.Int("candidates", len(candidates)),
		attribute.Int("evaluated", evaluated),
	)
	if evaluated < len(candidates) {
		ctxzap.Extract(ctx).Warn("verify: stopped before every candidate was evaluated",
			zap.Int("evaluated", evaluated),
			zap.Int("candidates", len(candidates)),
		)
	}
	return verdicts, err
}

// stopped reports whether no further candidate may start.
func (v *Verifier) stopped(ctx context.Context) bool {
	return v.engine.Budget().Expired() || ctx.Err() != nil
}

func (v *Verifier) verifySequential(ctx context.Context, candidates []Candidate, verdicts []Verdict) error {
	for i, c := range candidates {
		if v.stopped(ctx) {
			break
		}
		vd, err := v.evaluate(ctx, v.trialBase(), nil, c)
		if err != nil {
			return err
		}
		verdicts[i] = vd
		v.observe(ctx, vd)
	}
	return ctx.Err()
}

// verifyCumulative keeps a compliant, untruncated change applied: later
// candidates are evaluated on top of it.
func (v *Verifier) verifyCumulative(ctx context.Context, candidates []Candidate, verdicts []Verdict) error {
	current := v.base.Clone()
	applied := make(map[int]graph.Features)
	for i, c := range candidates {
		if v.stopped(ctx) {
			break
		}
		trial := current
		if v.incremental {
			trial = current.Clone()
		}
		vd, err := v.evaluateOn(ctx, trial, applied, c)
		if err != nil {
			return err
		}
		if vd.Compliant && !vd.Truncated {
			vd.Applied = true
			current = vd.coloring
			applied[c.Node] = c.Features
		}
		verdicts[i] = vd.Verdict
		v.observe(ctx, vd.Verdict)
	}
	return ctx.Err()
}

func (v *Verifier) verifyParallel(ctx context.Context, candidates []Candidate, verdicts []Verdict) error {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(v.workers)

	for i, c := range candidates {
		if v.stopped(egCtx) {
			break
		}
		eg.Go(func() error {
			// Re-check: the task may have queued behind a full pool.
			if v.stopped(egCtx) {
				return nil
			}
			vd, err := v.evaluate(egCtx, v.trialBase(), nil, c)
			if err != nil {
				return err
			}
			verdicts[i] = vd
			v.observe(egCtx, vd)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (v *Verifier) observe(ctx context.Context, vd Verdict) {
	v.m.RecordVerdict(ctx, v.mode(), !vd.Compliant, vd.Truncated, vd.Stats.Recomputed, vd.Duration)
	if v.progress != nil {
		v.progress.AddVerdict(!vd.Compliant, vd.Truncated)
		v.progress.LogVerifyProgress(ctx)
	}
	if v.verbose {
		ctxzap.Extract(ctx).Debug("verify: candidate evaluated",
			zap.Int("node", vd.Node),
			zap.Bool("compliant", vd.Compliant),
			zap.Bool("truncated", vd.Truncated),
			zap.Int("recomputed", vd.Stats.Recomputed),
			zap.Int("rounds", vd.Stats.Rounds),
		)
	}
}

// trialBase returns the coloring one evaluation may own. Full re-refinement
// never writes to it, so only incremental evaluation needs a clone.
func (v *Verifier) trialBase() *wl.Coloring {
	if v.incremental {
		return v.base.Clone()
	}
	return v.base
}

type evaluation struct {
	Verdict
	coloring *wl.Coloring
}

func (v *Verifier) evaluate(ctx context.Context, c *wl.Coloring, applied map[int]graph.Features, cand Candidate) (Verdict, error) {
	e, err := v.evaluateOn(ctx, c, applied, cand)
	return e.Verdict, err
}

// evaluateOn applies cand on top of c (incremental) or on top of applied
// (full re-refinement) and checks compliance. In incremental mode c is
// modified.
func (v *Verifier) evaluateOn(ctx context.Context, c *wl.Coloring, applied map[int]graph.Features, cand Candidate) (evaluation, error) {
	start := time.Now()
	out := evaluation{Verdict: Verdict{Node: cand.Node, Evaluated: true}}

	var st wl.Stats
	if v.incremental {
		var err error
		st, err = v.engine.Incremental(ctx, c, wl.Change{Node: cand.Node, Features: cand.Features}, cand.DistanceLimit)
		if err != nil {
			return out, err
		}
	} else {
		overrides := maps.Clone(applied)
		if overrides == nil {
			overrides = make(map[int]graph.Features, 1)
		}
		overrides[cand.Node] = cand.Features
		c = wl.InitialColoring(v.engine.Graph(), overrides)
		st = v.engine.Refine(ctx, c)
	}

	out.coloring = c
	out.Stats = st
	out.Truncated = st.Truncated
	out.Compliant = partition.IsKCompliant(c.Colors, c.Counts, v.subjects, v.k)
	out.Duration = time.Since(start)
	return out, nil
}
