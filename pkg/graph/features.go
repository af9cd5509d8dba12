package graph

import (
	"fmt"
	"slices"
)

// TypeCode is the node's label kind. Blank nodes have had their identifying
// label stripped.
type TypeCode uint64

const (
	Blank    TypeCode = 0
	Constant TypeCode = 1
)

func (t TypeCode) String() string {
	switch t {
	case Blank:
		return "blank"
	case Constant:
		return "constant"
	default:
		return fmt.Sprintf("type(%d)", uint64(t))
	}
}

// RelationStat summarizes one relation incident to a node.
type RelationStat struct {
	Rank int
	Out  int
	In   int
}

func compareRelationStat(a, b RelationStat) int {
	if a.Rank != b.Rank {
		return a.Rank - b.Rank
	}
	if a.Out != b.Out {
		return a.Out - b.Out
	}
	return a.In - b.In
}

// Features are the semantic attributes a node's initial color is derived from.
// Concepts and Relations must already be sorted ascending; Concepts must not
// repeat.
type Features struct {
	Type      TypeCode
	Concepts  []int
	Relations []RelationStat
}

// Validate checks ordering and sign constraints.
func (f Features) Validate() error {
	if f.Type != Blank && f.Type != Constant {
		return fmt.Errorf("%w: unknown type code %d", ErrInvalidFeatures, uint64(f.Type))
	}
	for i, c := range f.Concepts {
		if c < 0 {
			return fmt.Errorf("%w: negative concept id %d", ErrInvalidFeatures, c)
		}
		if i > 0 && f.Concepts[i-1] >= c {
			return fmt.Errorf("%w: concepts not strictly ascending at %d", ErrInvalidFeatures, i)
		}
	}
	for i, r := range f.Relations {
		if r.Rank < 0 || r.Out < 0 || r.In < 0 {
			return fmt.Errorf("%w: negative relation stat %+v", ErrInvalidFeatures, r)
		}
		if i > 0 && compareRelationStat(f.Relations[i-1], r) > 0 {
			return fmt.Errorf("%w: relation stats not sorted at %d", ErrInvalidFeatures, i)
		}
	}
	return nil
}

// WithType returns a copy of f with its type code replaced. Slices are shared;
// features are treated as read-only everywhere.
func (f Features) WithType(t TypeCode) Features {
	f.Type = t
	return f
}

// Equal reports field-wise equality.
func (f Features) Equal(o Features) bool {
	return f.Type == o.Type &&
		slices.Equal(f.Concepts, o.Concepts) &&
		slices.Equal(f.Relations, o.Relations)
}

// NormalizeConcepts sorts and deduplicates concept IDs in place.
func NormalizeConcepts(concepts []int) []int {
	slices.Sort(concepts)
	return slices.Compact(concepts)
}

// SortRelations sorts relation stats into canonical order in place.
func SortRelations(rs []RelationStat) {
	slices.SortFunc(rs, compareRelationStat)
}
