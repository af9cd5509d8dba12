// Package report renders a preprocessing result as the plain-text summary and
// the JSON document written next to it.
package report

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"

	"github.com/conductorone/wlanon/pkg/blanks"
	"github.com/conductorone/wlanon/pkg/graph"
)

// Params are the run parameters that name the result files.
type Params struct {
	K                 int    `json:"k"`
	Incremental       bool   `json:"incremental"`
	EarlyStop         bool   `json:"early_stop"`
	Parallel          bool   `json:"parallel"`
	Workers           int    `json:"workers,omitempty"`
	Cumulative        bool   `json:"cumulative"`
	SubjectAsConcept  bool   `json:"subject_as_concept"`
	SubjectIdentifier string `json:"subject_identifier"`
}

type Report struct {
	RunID                   string        `json:"run_id"`
	Input                   string        `json:"input"`
	Params                  Params        `json:"params"`
	Nodes                   int           `json:"nodes"`
	Subjects                []string      `json:"subjects"`
	LoadTime                time.Duration `json:"load_time_ns"`
	PreprocessTime          time.Duration `json:"preprocess_time_ns"`
	Necessary               []string      `json:"necessary_blanks"`
	Singletons              []string      `json:"singletons"`
	SubjectSingletonsBefore []string      `json:"subject_singletons_before"`
	SubjectSingletonsAfter  []string      `json:"subject_singletons_after"`
	Unevaluated             []string      `json:"unevaluated,omitempty"`
	Candidates              int           `json:"candidates"`
	Rounds                  int           `json:"rounds"`
	FinalCompliant          bool          `json:"final_compliant"`
	Truncated               bool          `json:"truncated"`
}

// New names every node of res through ds.
func New(ds *graph.Dataset, res *blanks.Result, input string, params Params, loadTime, preprocessTime time.Duration) *Report {
	return &Report{
		RunID:                   res.RunID.String(),
		Input:                   input,
		Params:                  params,
		Nodes:                   ds.Graph.N(),
		Subjects:                ds.NamesOf(ds.Subjects),
		LoadTime:                loadTime,
		PreprocessTime:          preprocessTime,
		Necessary:               ds.NamesOf(res.Necessary),
		Singletons:              ds.NamesOf(res.Singletons),
		SubjectSingletonsBefore: ds.NamesOf(res.SubjectSingletonsBefore),
		SubjectSingletonsAfter:  ds.NamesOf(res.SubjectSingletonsAfter),
		Unevaluated:             ds.NamesOf(res.Unevaluated),
		Candidates:              res.Candidates,
		Rounds:                  res.Rounds,
		FinalCompliant:          res.FinalCompliant,
		Truncated:               res.Truncated,
	}
}

// BaseName is the input's file name followed by the run parameters, without
// extension.
func (r *Report) BaseName() string {
	return fmt.Sprintf("%s_k=%d_incremental=%t_early_stop=%t_parallel=%t_cumulative=%t_subject_as_concept=%t",
		filepath.Base(r.Input),
		r.Params.K,
		r.Params.Incremental,
		r.Params.EarlyStop,
		r.Params.Parallel,
		r.Params.Cumulative,
		r.Params.SubjectAsConcept,
	)
}

// WriteText renders the plain-text summary.
func (r *Report) WriteText(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "Graph loading time: %.3f seconds\n", r.LoadTime.Seconds())
	fmt.Fprintf(bw, "Preprocessing time: %.3f seconds\n", r.PreprocessTime.Seconds())
	fmt.Fprintf(bw, "\nNumber of necessary blanks: %d\n", len(r.Necessary))
	fmt.Fprintf(bw, "Number of singletons: %d\n", len(r.Singletons))
	writeList(bw, "Final necessary blanks", r.Necessary)
	writeList(bw, "Singletons", r.Singletons)
	writeList(bw, "Subject singletons before blanking", r.SubjectSingletonsBefore)
	writeList(bw, "Subject singletons after blanking", r.SubjectSingletonsAfter)
	if len(r.Unevaluated) > 0 {
		writeList(bw, "Kept blank without evaluation (time budget)", r.Unevaluated)
	}
	fmt.Fprintf(bw, "\nFinal k-compliant: %t\n", r.FinalCompliant)
	fmt.Fprintf(bw, "Truncated: %t\n", r.Truncated)
	return bw.Flush()
}

func writeList(w io.Writer, title string, items []string) {
	fmt.Fprintf(w, "\n%s:\n", title)
	if len(items) == 0 {
		fmt.Fprintln(w, "(none)")
		return
	}
	fmt.Fprintln(w, strings.Join(items, "\n"))
}

// Write stores the text and JSON renderings in dir, creating it if needed,
// and returns their paths.
func Write(ctx context.Context, dir string, r *Report) (string, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("report: creating %s: %w", dir, err)
	}
	base := filepath.Join(dir, r.BaseName())
	textPath := base + ".txt"
	jsonPath := base + ".json"

	if err := writeFile(textPath, r.WriteText); err != nil {
		return "", "", err
	}
	if err := writeFile(jsonPath, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}); err != nil {
		return "", "", err
	}

	ctxzap.Extract(ctx).Info("results written",
		zap.String("text", textPath),
		zap.String("json", jsonPath),
	)
	return textPath, jsonPath, nil
}

func writeFile(path string, render func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if err := render(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("report: writing %s: %w", path, err)
	}
	return f.Close()
}
