// Package config holds the settings of the wlanon commands. Fields are bound
// to flags, WLANON_* environment variables and an optional YAML file through
// their mapstructure names.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conductorone/wlanon/pkg/blanks"
	"github.com/conductorone/wlanon/pkg/graph"
)

const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

// Common is shared by every command that loads a graph.
type Common struct {
	Input             string `mapstructure:"input" description:"Graph document to read (.json, .yaml or .yml, optionally .zst compressed)." required:"true"`
	SubjectAsConcept  bool   `mapstructure:"subject-as-concept" description:"Select subjects by concept instead of by ID substring."`
	SubjectIdentifier string `mapstructure:"subject-identifier" description:"Concept name, or case-insensitive ID substring, that marks subjects." defaultValue:"subject"`
	Verbose           bool   `mapstructure:"verbose" description:"Log at debug level, one entry per verified candidate."`
	LogLevel          string `mapstructure:"log-level" description:"Log level: debug, info, warn or error." defaultValue:"info"`
	LogFormat         string `mapstructure:"log-format" description:"Log format: json or console." defaultValue:"json"`
}

func (c Common) SubjectRule() graph.SubjectRule {
	return graph.SubjectRule{AsConcept: c.SubjectAsConcept, Identifier: c.SubjectIdentifier}
}

func (c Common) validate(errs *ConfigurationError) {
	if strings.TrimSpace(c.Input) == "" {
		errs.PushError(errors.New("input is required"))
	}
	if c.SubjectIdentifier == "" {
		errs.PushError(errors.New("subject-identifier must not be empty"))
	}
	switch c.LogFormat {
	case "", LogFormatJSON, LogFormatConsole:
	default:
		errs.PushError(fmt.Errorf("log-format must be %q or %q, got %q", LogFormatJSON, LogFormatConsole, c.LogFormat))
	}
}

// Run configures the run command.
type Run struct {
	Common `mapstructure:",squash"`

	K             int           `mapstructure:"k" description:"Minimum number of indistinguishable nodes per subject class." defaultValue:"2"`
	Incremental   bool          `mapstructure:"incremental" description:"Verify candidates with the incremental updater."`
	EarlyStop     bool          `mapstructure:"early-stop" description:"Bound incremental updates by the candidate's distance to the subjects."`
	Parallel      bool          `mapstructure:"parallel" description:"Verify candidates on a worker pool."`
	Workers       int           `mapstructure:"workers" description:"Worker pool size. 0 uses GOMAXPROCS."`
	Cumulative    bool          `mapstructure:"cumulative" description:"Keep compliant reveals applied for later candidates. Sequential only."`
	MaxDuration   time.Duration `mapstructure:"max-duration" description:"Wall-clock budget of the run. 0 disables it." defaultValue:"24h"`
	OutputDir     string        `mapstructure:"output-dir" description:"Directory the result files are written to." defaultValue:"results"`
	DB            string        `mapstructure:"db" description:"Sqlite file that records run history. Empty disables it."`
	MetricsStdout bool          `mapstructure:"metrics-stdout" description:"Export metrics to stdout when the run ends."`
	ProfileCPU    bool          `mapstructure:"profile-cpu" description:"Write a CPU profile of the run."`
	ProfileMem    bool          `mapstructure:"profile-mem" description:"Write a heap profile after preprocessing."`
	ProfileDir    string        `mapstructure:"profile-dir" description:"Directory for profiles. Defaults to the working directory."`
}

// Validate reports every problem at once.
func (r Run) Validate() error {
	errs := &ConfigurationError{}
	r.Common.validate(errs)
	if r.MaxDuration < 0 {
		errs.PushError(fmt.Errorf("max-duration must not be negative, got %s", r.MaxDuration))
	}
	if r.OutputDir == "" {
		errs.PushError(errors.New("output-dir must not be empty"))
	}
	if err := r.Blanks().Validate(); err != nil {
		errs.PushError(err)
	}
	return errs.ErrorOrNil()
}

// Blanks maps the run settings onto the preprocessing configuration.
func (r Run) Blanks() blanks.Config {
	return blanks.Config{
		K:           r.K,
		Incremental: r.Incremental,
		EarlyStop:   r.EarlyStop,
		Parallel:    r.Parallel,
		Workers:     r.Workers,
		Cumulative:  r.Cumulative,
		MaxDuration: r.MaxDuration,
		Verbose:     r.Verbose,
	}
}

// Stats configures the stats command.
type Stats struct {
	Common `mapstructure:",squash"`

	K int `mapstructure:"k" description:"Class size threshold reported alongside the distribution." defaultValue:"2"`
}

func (s Stats) Validate() error {
	errs := &ConfigurationError{}
	s.Common.validate(errs)
	if s.K < 1 {
		errs.PushError(fmt.Errorf("k must be at least 1, got %d", s.K))
	}
	return errs.ErrorOrNil()
}

// History configures the history command.
type History struct {
	DB        string `mapstructure:"db" description:"Sqlite file that records run history." required:"true"`
	PageSize  uint32 `mapstructure:"page-size" description:"Runs fetched per query." defaultValue:"50"`
	LogLevel  string `mapstructure:"log-level" description:"Log level: debug, info, warn or error." defaultValue:"info"`
	LogFormat string `mapstructure:"log-format" description:"Log format: json or console." defaultValue:"console"`
}

func (h History) Validate() error {
	errs := &ConfigurationError{}
	if h.DB == "" {
		errs.PushError(errors.New("db is required"))
	}
	return errs.ErrorOrNil()
}
