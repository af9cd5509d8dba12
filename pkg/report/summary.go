package report

import (
	"context"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"gonum.org/v1/gonum/stat"

	"github.com/conductorone/wlanon/pkg/distance"
	"github.com/conductorone/wlanon/pkg/graph"
	"github.com/conductorone/wlanon/pkg/partition"
	"github.com/conductorone/wlanon/pkg/wl"
)

// Summary describes the stable all-blank coloring of a dataset.
type Summary struct {
	Nodes       int     `json:"nodes"`
	Edges       int     `json:"edges"`
	Subjects    int     `json:"subjects"`
	Rounds      int     `json:"rounds"`
	Classes     int     `json:"classes"`
	Singletons  int     `json:"singletons"`
	MeanSize    float64 `json:"mean_class_size"`
	StdDevSize  float64 `json:"stddev_class_size"`
	MedianSize  float64 `json:"median_class_size"`
	MaxSize     int     `json:"max_class_size"`
	K           int     `json:"k"`
	Violations  int     `json:"subjects_below_k"`
	Unreachable int     `json:"unreachable_from_subjects"`
	MaxDistance int     `json:"max_distance_from_subjects"`
}

// Summarize refines the all-blank coloring of ds without a budget.
func Summarize(ctx context.Context, ds *graph.Dataset, k int) (*Summary, error) {
	if err := partition.ValidateK(k); err != nil {
		return nil, err
	}
	g := ds.Graph.WithType(graph.Blank)
	c := wl.InitialColoring(g, nil)
	st := wl.NewEngine(g).Refine(ctx, c)

	sizes := c.Partition().Sizes()
	xs := make([]float64, len(sizes))
	for i, n := range sizes {
		xs[i] = float64(n)
	}
	slices.Sort(xs)

	s := &Summary{
		Nodes:    g.N(),
		Edges:    g.EdgeCount(),
		Subjects: len(ds.Subjects),
		Rounds:   st.Rounds,
		Classes:  len(sizes),
		K:        k,
	}
	if len(xs) > 0 {
		s.MeanSize, s.StdDevSize = stat.MeanStdDev(xs, nil)
		s.MedianSize = stat.Quantile(0.5, stat.Empirical, xs, nil)
		s.MaxSize = int(xs[len(xs)-1])
	}
	s.Singletons = len(partition.Singletons(c.Colors, c.Counts))
	s.Violations = len(partition.Violations(c.Colors, c.Counts, ds.Subjects, k))

	if len(ds.Subjects) > 0 {
		d, err := distance.FromSources(ctx, g, ds.Subjects, wl.Unlimited())
		if err != nil {
			return nil, err
		}
		s.MaxDistance = d.Max()
		for v := range d.Len() {
			if d.At(v) == distance.Unreachable {
				s.Unreachable++
			}
		}
	}
	return s, nil
}

// WriteText renders s as an aligned table.
func (s *Summary) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	rows := [][2]string{
		{"Nodes", fmt.Sprint(s.Nodes)},
		{"Edges", fmt.Sprint(s.Edges)},
		{"Subjects", fmt.Sprint(s.Subjects)},
		{"Refinement rounds", fmt.Sprint(s.Rounds)},
		{"Classes", fmt.Sprint(s.Classes)},
		{"Singletons", fmt.Sprint(s.Singletons)},
		{"Class size mean", fmt.Sprintf("%.2f", s.MeanSize)},
		{"Class size stddev", fmt.Sprintf("%.2f", s.StdDevSize)},
		{"Class size median", fmt.Sprintf("%.1f", s.MedianSize)},
		{"Class size max", fmt.Sprint(s.MaxSize)},
		{fmt.Sprintf("Subjects in classes below k=%d", s.K), fmt.Sprint(s.Violations)},
		{"Nodes unreachable from subjects", fmt.Sprint(s.Unreachable)},
		{"Max distance from subjects", fmt.Sprint(s.MaxDistance)},
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(tw, "%s:\t%s\n", r[0], r[1]); err != nil {
			return err
		}
	}
	return tw.Flush()
}
