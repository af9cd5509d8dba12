package cli

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"

	"github.com/conductorone/wlanon/pkg/blanks"
	"github.com/conductorone/wlanon/pkg/config"
	"github.com/conductorone/wlanon/pkg/graph"
	"github.com/conductorone/wlanon/pkg/metrics"
	"github.com/conductorone/wlanon/pkg/profiling"
	"github.com/conductorone/wlanon/pkg/report"
	"github.com/conductorone/wlanon/pkg/store"
)

// newMetrics returns the instrumentor for a run and a function that flushes
// it. Without stdout export the instruments are no-ops.
func newMetrics(ctx context.Context, stdout bool) (*metrics.M, func(context.Context) error, error) {
	if !stdout {
		return metrics.New(metrics.NewNoOpHandler(ctx)), func(context.Context) error { return nil }, nil
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	exp, err := stdoutmetric.New(stdoutmetric.WithEncoder(enc))
	if err != nil {
		return nil, nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	return metrics.New(metrics.NewOtelHandler(ctx, provider, "wlanon")), provider.Shutdown, nil
}

func reportParams(cfg *config.Run) report.Params {
	return report.Params{
		K:                 cfg.K,
		Incremental:       cfg.Incremental,
		EarlyStop:         cfg.EarlyStop,
		Parallel:          cfg.Parallel,
		Workers:           cfg.Workers,
		Cumulative:        cfg.Cumulative,
		SubjectAsConcept:  cfg.SubjectAsConcept,
		SubjectIdentifier: cfg.SubjectIdentifier,
	}
}

func runPreprocess(ctx context.Context, cfg *config.Run) error {
	l := ctxzap.Extract(ctx)
	started := time.Now()

	prof := profiling.New(profiling.Config{
		EnableCPU: cfg.ProfileCPU,
		EnableMem: cfg.ProfileMem,
		OutputDir: cfg.ProfileDir,
		Prefix:    "wlanon",
	})
	if err := prof.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := prof.Stop(ctx); err != nil {
			l.Error("failed to stop CPU profiling", zap.Error(err))
		}
	}()

	m, flush, err := newMetrics(ctx, cfg.MetricsStdout)
	if err != nil {
		return err
	}
	defer func() {
		if err := flush(context.WithoutCancel(ctx)); err != nil {
			l.Error("failed to flush metrics", zap.Error(err))
		}
	}()

	ds, err := graph.Load(ctx, cfg.Input, cfg.SubjectRule())
	if err != nil {
		return err
	}
	loadTime := time.Since(started)
	l.Info("graph loaded",
		zap.String("input", cfg.Input),
		zap.Int("nodes", ds.Graph.N()),
		zap.Int("subjects", len(ds.Subjects)),
		zap.Duration("duration", loadTime),
	)

	res, err := blanks.PreprocessDataset(ctx, ds, cfg.Blanks(), blanks.WithMetrics(m))
	if err != nil {
		return err
	}
	if err := prof.WriteMemProfile(ctx); err != nil {
		return err
	}

	rep := report.New(ds, res, cfg.Input, reportParams(cfg), loadTime, res.Duration)
	if _, _, err := report.Write(ctx, cfg.OutputDir, rep); err != nil {
		return err
	}

	if cfg.DB != "" {
		if err := recordRun(ctx, cfg, rep, res, started); err != nil {
			return err
		}
	}

	if ps, err := profiling.CurrentProcess(ctx); err != nil {
		l.Debug("process stats unavailable", zap.Error(err))
	} else {
		l.Info("process stats",
			zap.Uint64("rss_bytes", ps.RSSBytes),
			zap.Float64("cpu_percent", ps.CPUPercent),
			zap.Int32("threads", ps.Threads),
		)
	}
	return nil
}

func recordRun(ctx context.Context, cfg *config.Run, rep *report.Report, res *blanks.Result, started time.Time) error {
	st, err := store.Open(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer st.Close()

	params := map[string]any{}
	raw, err := json.Marshal(rep.Params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return err
	}

	_, err = st.PutRun(ctx, store.Run{
		ID:             res.RunID,
		Input:          cfg.Input,
		Params:         params,
		Nodes:          rep.Nodes,
		Subjects:       len(rep.Subjects),
		Candidates:     res.Candidates,
		Necessary:      len(res.Necessary),
		Singletons:     len(res.Singletons),
		Rounds:         res.Rounds,
		FinalCompliant: res.FinalCompliant,
		Truncated:      res.Truncated,
		LoadTime:       rep.LoadTime,
		PreprocessTime: rep.PreprocessTime,
		StartedAt:      started,
		NecessaryIDs:   rep.Necessary,
	})
	return err
}
