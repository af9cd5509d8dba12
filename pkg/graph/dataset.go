package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"gopkg.in/yaml.v2"
)

var ErrUnsupportedFormat = errors.New("graph: unsupported document format")

// Document is the normalized on-disk graph form: named individuals with their
// concepts, named-relation statements, and optionally an explicit subject list.
// Statements whose target is not a declared node are treated as literals.
type Document struct {
	Nodes    []DocumentNode `json:"nodes" yaml:"nodes"`
	Edges    []DocumentEdge `json:"edges" yaml:"edges"`
	Subjects []string       `json:"subjects,omitempty" yaml:"subjects,omitempty"`
}

type DocumentNode struct {
	ID       string   `json:"id" yaml:"id"`
	Concepts []string `json:"concepts,omitempty" yaml:"concepts,omitempty"`
}

type DocumentEdge struct {
	Source   string `json:"source" yaml:"source"`
	Relation string `json:"relation" yaml:"relation"`
	Target   string `json:"target" yaml:"target"`
}

// SubjectRule selects which nodes need protection.
type SubjectRule struct {
	// AsConcept selects nodes carrying concept Identifier; that concept is then
	// dropped from the node's concepts. Otherwise nodes whose ID contains
	// Identifier (case-insensitive) are subjects.
	AsConcept  bool
	Identifier string
}

// Dataset is a built graph plus the naming and subject information the
// engine's callers need.
type Dataset struct {
	Graph    *Graph
	Names    []string
	Concepts []string
	Subjects []int // sorted
}

// Name returns the external ID of v.
func (d *Dataset) Name(v int) string {
	if v < 0 || v >= len(d.Names) {
		return fmt.Sprintf("#%d", v)
	}
	return d.Names[v]
}

// NamesOf maps indices to external IDs.
func (d *Dataset) NamesOf(vs []int) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = d.Name(v)
	}
	return out
}

// SubjectSet returns the subjects as a set.
func (d *Dataset) SubjectSet() mapset.Set[int] {
	return mapset.NewThreadUnsafeSet(d.Subjects...)
}

// Build turns a Document into a Dataset. Every node is built with type t.
func (doc *Document) Build(rule SubjectRule, t TypeCode) (*Dataset, error) {
	declared := mapset.NewThreadUnsafeSet[string]()
	conceptNames := mapset.NewThreadUnsafeSet[string]()
	subjects := mapset.NewThreadUnsafeSet[string](doc.Subjects...)

	for _, n := range doc.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("%w: node with empty id", ErrInvalidFeatures)
		}
		declared.Add(n.ID)
		for _, c := range n.Concepts {
			if rule.AsConcept && c == rule.Identifier {
				subjects.Add(n.ID)
				continue
			}
			conceptNames.Add(c)
		}
	}

	concepts := conceptNames.ToSlice()
	slices.Sort(concepts)
	conceptID := make(map[string]int, len(concepts))
	for i, c := range concepts {
		conceptID[c] = i
	}

	b := NewBuilder()
	for _, n := range doc.Nodes {
		ids := make([]int, 0, len(n.Concepts))
		for _, c := range n.Concepts {
			if id, ok := conceptID[c]; ok {
				ids = append(ids, id)
			}
		}
		b.AddNode(n.ID, ids...)
	}
	for _, e := range doc.Edges {
		var err error
		if declared.Contains(e.Target) {
			err = b.AddEdge(e.Source, e.Relation, e.Target)
		} else {
			err = b.AddLiteral(e.Source, e.Relation)
		}
		if err != nil {
			return nil, fmt.Errorf("edge %s -%s-> %s: %w", e.Source, e.Relation, e.Target, err)
		}
	}

	if !rule.AsConcept && rule.Identifier != "" {
		fold := cases.Fold()
		needle := fold.String(rule.Identifier)
		for _, n := range doc.Nodes {
			if strings.Contains(fold.String(n.ID), needle) {
				subjects.Add(n.ID)
			}
		}
	}

	g, err := b.Build(t)
	if err != nil {
		return nil, err
	}

	subjectIdx := make([]int, 0, subjects.Cardinality())
	for name := range subjects.Iter() {
		if idx, ok := b.Index(name); ok {
			subjectIdx = append(subjectIdx, idx)
		}
	}
	slices.Sort(subjectIdx)

	return &Dataset{
		Graph:    g,
		Names:    b.Names(),
		Concepts: concepts,
		Subjects: subjectIdx,
	}, nil
}

// LoadDocument reads a graph document. The format is chosen by extension:
// .json, .yaml or .yml, each optionally followed by .zst.
func LoadDocument(ctx context.Context, path string) (*Document, error) {
	l := ctxzap.Extract(ctx)

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	name := path
	if strings.EqualFold(filepath.Ext(name), ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("graph: opening zstd stream: %w", err)
		}
		defer dec.Close()
		r = dec
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}

	doc := &Document{}
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".json":
		err = json.NewDecoder(r).Decode(doc)
	case ".yaml", ".yml":
		err = yaml.NewDecoder(r).Decode(doc)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("graph: decoding %s: %w", path, err)
	}

	l.Debug("graph document loaded",
		zap.String("path", path),
		zap.Int("nodes", len(doc.Nodes)),
		zap.Int("statements", len(doc.Edges)),
	)
	return doc, nil
}

// Load reads and builds a dataset with every node blank.
func Load(ctx context.Context, path string, rule SubjectRule) (*Dataset, error) {
	doc, err := LoadDocument(ctx, path)
	if err != nil {
		return nil, err
	}
	return doc.Build(rule, Blank)
}
