package metrics

import (
	"context"
	"strconv"
	"time"
)

const (
	refineRoundsHistoName   = "wlanon.refine_rounds"
	refineRoundsHistoDesc   = "batch refinement rounds until convergence or timeout"
	refineDurationHistoName = "wlanon.refine_latency"
	refineDurationHistoDesc = "duration of batch refinements"
	verdictCounterName      = "wlanon.verdicts"
	verdictCounterDesc      = "evaluated candidates by verification mode and outcome"
	verdictDurationHistName = "wlanon.verdict_latency"
	verdictDurationHistDesc = "duration of single candidate evaluations"
	recomputedHistoName     = "wlanon.incremental_recomputed"
	recomputedHistoDesc     = "nodes recomputed by one incremental update"
	runDurationHistoName    = "wlanon.run_latency"
	runDurationHistoDesc    = "duration of preprocessing runs"
	necessaryGaugeName      = "wlanon.necessary_blanks"
	necessaryGaugeDesc      = "necessary blanks found by the last run"
	singletonGaugeName      = "wlanon.singletons"
	singletonGaugeDesc      = "singleton nodes found by the last run"
)

// M records preprocessing measurements. A nil *M records nothing.
type M struct {
	underlying Handler
}

func (m *M) RecordRefinement(ctx context.Context, rounds int, truncated bool, dur time.Duration) {
	if m == nil {
		return
	}
	tags := Tags{"truncated": strconv.FormatBool(truncated)}
	m.underlying.Int64Histogram(refineRoundsHistoName, refineRoundsHistoDesc, Dimensionless).Record(ctx, int64(rounds), tags)
	m.underlying.Int64Histogram(refineDurationHistoName, refineDurationHistoDesc, Milliseconds).Record(ctx, dur.Milliseconds(), tags)
}

// RecordVerdict counts one candidate evaluation. recomputed is only
// recorded for incremental evaluations.
func (m *M) RecordVerdict(ctx context.Context, mode string, necessary bool, truncated bool, recomputed int, dur time.Duration) {
	if m == nil {
		return
	}
	tags := Tags{
		"mode":      mode,
		"necessary": strconv.FormatBool(necessary),
		"truncated": strconv.FormatBool(truncated),
	}
	m.underlying.Int64Counter(verdictCounterName, verdictCounterDesc, Dimensionless).Add(ctx, 1, tags)
	m.underlying.Int64Histogram(verdictDurationHistName, verdictDurationHistDesc, Milliseconds).Record(ctx, dur.Milliseconds(), Tags{"mode": mode})
	if mode == ModeIncremental {
		m.underlying.Int64Histogram(recomputedHistoName, recomputedHistoDesc, Nodes).Record(ctx, int64(recomputed), nil)
	}
}

func (m *M) RecordRun(ctx context.Context, necessary int, singletons int, compliant bool, dur time.Duration) {
	if m == nil {
		return
	}
	tags := Tags{"compliant": strconv.FormatBool(compliant)}
	m.underlying.Int64Histogram(runDurationHistoName, runDurationHistoDesc, Milliseconds).Record(ctx, dur.Milliseconds(), tags)
	m.underlying.Int64Gauge(necessaryGaugeName, necessaryGaugeDesc, Nodes).Observe(ctx, int64(necessary), nil)
	m.underlying.Int64Gauge(singletonGaugeName, singletonGaugeDesc, Nodes).Observe(ctx, int64(singletons), nil)
}

// Verification modes used as the "mode" tag.
const (
	ModeIncremental = "incremental"
	ModeFull        = "full"
)

func New(handler Handler) *M {
	return &M{underlying: handler}
}
