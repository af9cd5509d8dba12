package graph

import (
	"fmt"
	"slices"
)

// Builder assembles a Graph from named nodes and named relations and derives
// each node's per-relation degree statistics. Relation IDs are assigned from 1
// in first-seen order; a relation's rank is its position among all relation
// names sorted lexicographically, so stats do not depend on input order.
type Builder struct {
	nodeIndex map[string]int
	names     []string
	concepts  [][]int
	relIDs    map[string]int
	relNames  []string // relNames[id-1]
	edges     []builderEdge
}

type builderEdge struct {
	src, rel, dst int // dst < 0 for literal objects
}

func NewBuilder() *Builder {
	return &Builder{
		nodeIndex: make(map[string]int),
		relIDs:    make(map[string]int),
	}
}

// AddNode registers name (idempotent) and merges concepts into its concept
// set. It returns the node's index.
func (b *Builder) AddNode(name string, concepts ...int) int {
	idx, ok := b.nodeIndex[name]
	if !ok {
		idx = len(b.names)
		b.nodeIndex[name] = idx
		b.names = append(b.names, name)
		b.concepts = append(b.concepts, nil)
	}
	b.concepts[idx] = append(b.concepts[idx], concepts...)
	return idx
}

// Relation returns the compact ID of a relation name, assigning one if needed.
func (b *Builder) Relation(name string) int {
	id, ok := b.relIDs[name]
	if !ok {
		b.relNames = append(b.relNames, name)
		id = len(b.relNames)
		b.relIDs[name] = id
	}
	return id
}

// AddEdge adds a directed src -relation-> dst edge. Both endpoints must have
// been added.
func (b *Builder) AddEdge(src string, relation string, dst string) error {
	s, ok := b.nodeIndex[src]
	if !ok {
		return fmt.Errorf("%w: unknown source %q", ErrNodeOutOfRange, src)
	}
	d, ok := b.nodeIndex[dst]
	if !ok {
		return fmt.Errorf("%w: unknown destination %q", ErrNodeOutOfRange, dst)
	}
	b.edges = append(b.edges, builderEdge{src: s, rel: b.Relation(relation), dst: d})
	return nil
}

// AddLiteral records a src -relation-> literal statement. Literals are not
// nodes: the statement counts toward src's out-degree for relation but adds
// no adjacency.
func (b *Builder) AddLiteral(src string, relation string) error {
	s, ok := b.nodeIndex[src]
	if !ok {
		return fmt.Errorf("%w: unknown source %q", ErrNodeOutOfRange, src)
	}
	b.edges = append(b.edges, builderEdge{src: s, rel: b.Relation(relation), dst: -1})
	return nil
}

// Index returns the node index for name.
func (b *Builder) Index(name string) (int, bool) {
	idx, ok := b.nodeIndex[name]
	return idx, ok
}

// Names returns node names by index.
func (b *Builder) Names() []string {
	return slices.Clone(b.names)
}

// RelationNames returns relation names by ID (index 0 is unused).
func (b *Builder) RelationNames() []string {
	return append([]string{""}, b.relNames...)
}

// Build derives relation stats and adjacency and validates the result. Every
// node gets type t.
func (b *Builder) Build(t TypeCode) (*Graph, error) {
	n := len(b.names)

	sorted := slices.Clone(b.relNames)
	slices.Sort(sorted)
	rank := make([]int, len(b.relNames)+1)
	for r, name := range sorted {
		rank[b.relIDs[name]] = r
	}

	type degree struct{ out, in int }
	perNode := make([]map[int]*degree, n)
	stat := func(v, rel int) *degree {
		if perNode[v] == nil {
			perNode[v] = make(map[int]*degree)
		}
		d, ok := perNode[v][rel]
		if !ok {
			d = &degree{}
			perNode[v][rel] = d
		}
		return d
	}

	adj := make([][]Edge, n)
	for _, e := range b.edges {
		stat(e.src, e.rel).out++
		if e.dst < 0 {
			continue
		}
		stat(e.dst, e.rel).in++
		adj[e.src] = append(adj[e.src], Edge{Dir: Outgoing, Relation: e.rel, Neighbor: e.dst})
		adj[e.dst] = append(adj[e.dst], Edge{Dir: Incoming, Relation: e.rel, Neighbor: e.src})
	}

	features := make([]Features, n)
	for v := 0; v < n; v++ {
		rs := make([]RelationStat, 0, len(perNode[v]))
		for rel, d := range perNode[v] {
			rs = append(rs, RelationStat{Rank: rank[rel], Out: d.out, In: d.in})
		}
		SortRelations(rs)
		features[v] = Features{
			Type:      t,
			Concepts:  NormalizeConcepts(slices.Clone(b.concepts[v])),
			Relations: rs,
		}
	}

	return New(features, adj)
}
