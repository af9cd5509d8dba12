package profiling

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/pprof"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// Config selects which profiles a run writes.
type Config struct {
	EnableCPU bool
	EnableMem bool
	// OutputDir defaults to the working directory.
	OutputDir string
	// Prefix is inserted into file names: cpu-{prefix}-YYYYMMDD-HHMMSS.prof.
	Prefix string
}

// Profiler manages CPU and memory profiling. A nil *Profiler does nothing.
type Profiler struct {
	cpuFile     *os.File
	cpuFilePath string
	memFilePath string
	cfg         Config
}

// New returns nil when no profile is enabled or no output directory can be
// determined.
func New(cfg Config) *Profiler {
	if !cfg.EnableCPU && !cfg.EnableMem {
		return nil
	}

	outputDir := cfg.OutputDir
	if outputDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil
		}
		outputDir = wd
	}

	timestamp := time.Now().Format("20060102-150405")
	name := func(kind string) string {
		if cfg.Prefix != "" {
			kind = fmt.Sprintf("%s-%s", kind, cfg.Prefix)
		}
		return filepath.Join(outputDir, fmt.Sprintf("%s-%s.prof", kind, timestamp))
	}

	return &Profiler{
		cfg:         cfg,
		cpuFilePath: name("cpu"),
		memFilePath: name("mem"),
	}
}

// Start begins CPU profiling if configured.
func (p *Profiler) Start(ctx context.Context) error {
	if p == nil || !p.cfg.EnableCPU {
		return nil
	}

	l := ctxzap.Extract(ctx)

	if err := os.MkdirAll(filepath.Dir(p.cpuFilePath), 0755); err != nil {
		return fmt.Errorf("failed to create profile output directory: %w", err)
	}

	f, err := os.Create(p.cpuFilePath)
	if err != nil {
		return err
	}
	p.cpuFile = f

	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		p.cpuFile = nil
		return err
	}

	l.Info("CPU profiling started", zap.String("output_path", p.cpuFilePath))
	return nil
}

// Stop stops CPU profiling.
func (p *Profiler) Stop(ctx context.Context) error {
	if p == nil || p.cpuFile == nil {
		return nil
	}

	l := ctxzap.Extract(ctx)

	pprof.StopCPUProfile()
	if err := p.cpuFile.Close(); err != nil {
		l.Error("failed to close CPU profile file", zap.Error(err))
		return err
	}

	l.Info("CPU profile written", zap.String("path", p.cpuFilePath))
	p.cpuFile = nil
	return nil
}

// WriteMemProfile writes a heap profile, typically once preprocessing is done
// and before results are released.
func (p *Profiler) WriteMemProfile(ctx context.Context) error {
	if p == nil || !p.cfg.EnableMem {
		return nil
	}

	l := ctxzap.Extract(ctx)

	if err := os.MkdirAll(filepath.Dir(p.memFilePath), 0755); err != nil {
		return fmt.Errorf("failed to create profile output directory: %w", err)
	}
	f, err := os.Create(p.memFilePath)
	if err != nil {
		l.Error("failed to create memory profile file", zap.Error(err))
		return err
	}
	defer f.Close()

	if err := pprof.WriteHeapProfile(f); err != nil {
		l.Error("failed to write memory profile", zap.Error(err))
		return err
	}

	l.Info("Memory profile written", zap.String("path", p.memFilePath))
	return nil
}

// ProcessStats is a snapshot of this process's resource use.
type ProcessStats struct {
	RSSBytes   uint64
	CPUPercent float64
	Threads    int32
}

// CurrentProcess samples the running process.
func CurrentProcess(ctx context.Context) (ProcessStats, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())) //nolint:gosec // pids fit in int32
	if err != nil {
		return ProcessStats{}, err
	}
	var st ProcessStats
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return st, err
	}
	st.RSSBytes = mem.RSS
	if st.CPUPercent, err = proc.CPUPercentWithContext(ctx); err != nil {
		return st, err
	}
	if st.Threads, err = proc.NumThreadsWithContext(ctx); err != nil {
		return st, err
	}
	return st, nil
}
