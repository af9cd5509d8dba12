package progresslog

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

const defaultMaxLogFrequency = 10 * time.Second

type rwMutex interface {
	Lock()
	Unlock()
	RLock()
	RUnlock()
}

// noOpMutex fakes a mutex for sequential verification.
type noOpMutex struct{}

func (m *noOpMutex) Lock()    {}
func (m *noOpMutex) Unlock()  {}
func (m *noOpMutex) RLock()   {}
func (m *noOpMutex) RUnlock() {}

// ProgressLog counts verified candidates and periodically logs how far a
// preprocessing run has come.
type ProgressLog struct {
	candidates      int
	evaluated       int
	necessary       int
	truncated       int
	lastVerifyLog   time.Time
	mu              rwMutex // If noOpMutex, sequential mode is enabled. If sync.RWMutex, parallel mode is enabled.
	l               *zap.Logger
	clock           clock.Clock
	maxLogFrequency time.Duration
}

type Option func(*ProgressLog)

func WithLogger(l *zap.Logger) Option {
	return func(p *ProgressLog) {
		// Don't allow a nil logger to be set, as that would cause a panic.
		if l != nil {
			p.l = l
		}
	}
}

// WithSequentialMode enables/disables mutex protection for sequential verification.
func WithSequentialMode(sequential bool) Option {
	return func(p *ProgressLog) {
		if sequential {
			p.mu = &noOpMutex{}
		} else {
			p.mu = &sync.RWMutex{}
		}
	}
}

func WithLogFrequency(logFrequency time.Duration) Option {
	return func(p *ProgressLog) {
		p.maxLogFrequency = logFrequency
	}
}

func WithClock(c clock.Clock) Option {
	return func(p *ProgressLog) {
		if c != nil {
			p.clock = c
		}
	}
}

func New(ctx context.Context, opts ...Option) *ProgressLog {
	p := &ProgressLog{
		l:               ctxzap.Extract(ctx),
		clock:           clock.New(),
		maxLogFrequency: defaultMaxLogFrequency,
		mu:              &noOpMutex{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// SetCandidates records how many candidates will be verified.
func (p *ProgressLog) SetCandidates(count int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = count
}

// AddVerdict counts one evaluated candidate.
func (p *ProgressLog) AddVerdict(necessary bool, truncated bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evaluated++
	if necessary {
		p.necessary++
	}
	if truncated {
		p.truncated++
	}
}

// Snapshot returns the counters.
func (p *ProgressLog) Snapshot() (candidates, evaluated, necessary int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.candidates, p.evaluated, p.necessary
}

func (p *ProgressLog) LogRefinement(ctx context.Context, rounds int, classes int, truncated bool) {
	p.l.Info("Refined initial coloring",
		zap.Int("rounds", rounds),
		zap.Int("classes", classes),
		zap.Bool("truncated", truncated),
	)
}

// LogVerifyProgress logs at most once per log frequency, and always once all
// candidates are done.
func (p *ProgressLog) LogVerifyProgress(ctx context.Context) {
	var candidates, evaluated, necessary, truncated int
	var lastLogTime time.Time

	p.mu.RLock()
	candidates = p.candidates
	evaluated = p.evaluated
	necessary = p.necessary
	truncated = p.truncated
	lastLogTime = p.lastVerifyLog
	p.mu.RUnlock()

	if candidates == 0 {
		return
	}

	percentComplete := (evaluated * 100) / candidates

	switch {
	case percentComplete == 100:
		p.l.Info("Verified candidates",
			zap.Int("count", evaluated),
			zap.Int("necessary", necessary),
			zap.Int("truncated", truncated),
		)
		p.mu.Lock()
		p.lastVerifyLog = time.Time{}
		p.mu.Unlock()
	case p.clock.Since(lastLogTime) > p.maxLogFrequency:
		if evaluated > candidates {
			p.l.Warn("more verdicts than candidates",
				zap.Int("evaluated", evaluated),
				zap.Int("total", candidates),
			)
		} else {
			p.l.Info("Verifying candidates",
				zap.Int("evaluated", evaluated),
				zap.Int("total", candidates),
				zap.Int("necessary", necessary),
				zap.Int("percent_complete", percentComplete),
			)
		}
		p.mu.Lock()
		p.lastVerifyLog = p.clock.Now()
		p.mu.Unlock()
	}
}
