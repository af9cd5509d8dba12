package graph

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestBuilderStats(t *testing.T) {
	b := NewBuilder()
	alice := b.AddNode("alice", 2, 0)
	bob := b.AddNode("bob")
	require.Equal(t, alice, b.AddNode("alice", 2))

	require.NoError(t, b.AddEdge("alice", "knows", "bob"))
	require.NoError(t, b.AddEdge("bob", "knows", "alice"))
	require.NoError(t, b.AddEdge("alice", "age", "bob"))
	require.NoError(t, b.AddLiteral("alice", "age"))
	require.ErrorIs(t, b.AddEdge("alice", "knows", "carol"), ErrNodeOutOfRange)
	require.ErrorIs(t, b.AddLiteral("carol", "age"), ErrNodeOutOfRange)

	// IDs are first-seen; ranks follow sorted names.
	require.Equal(t, 1, b.Relation("knows"))
	require.Equal(t, 2, b.Relation("age"))
	require.Equal(t, []string{"knows", "age"}, b.RelationNames())

	g, err := b.Build(Constant)
	require.NoError(t, err)
	require.Equal(t, Features{
		Type:     Constant,
		Concepts: []int{0, 2},
		Relations: []RelationStat{
			{Rank: 0, Out: 2, In: 0}, // age
			{Rank: 1, Out: 1, In: 1}, // knows
		},
	}, g.Features(alice))
	require.Equal(t, []RelationStat{{Rank: 0, In: 1}, {Rank: 1, Out: 1, In: 1}}, g.Features(bob).Relations)

	// The literal adds no adjacency.
	require.Equal(t, 3, g.Degree(alice))
	require.Equal(t, 3, g.Degree(bob))
	require.Equal(t, []string{"alice", "bob"}, b.Names())
}

func sampleDocument() *Document {
	return &Document{
		Nodes: []DocumentNode{
			{ID: "ex:Subject1", Concepts: []string{"Person", "Patient"}},
			{ID: "ex:p2", Concepts: []string{"Person", "Patient"}},
			{ID: "ex:clinic", Concepts: []string{"Clinic"}},
		},
		Edges: []DocumentEdge{
			{Source: "ex:Subject1", Relation: "visits", Target: "ex:clinic"},
			{Source: "ex:p2", Relation: "visits", Target: "ex:clinic"},
			{Source: "ex:p2", Relation: "name", Target: "\"Bo\""},
		},
	}
}

func TestDocumentBuildSubjectByID(t *testing.T) {
	ds, err := sampleDocument().Build(SubjectRule{Identifier: "subject"}, Blank)
	require.NoError(t, err)

	require.Equal(t, []int{0}, ds.Subjects)
	require.Equal(t, []string{"Clinic", "Patient", "Person"}, ds.Concepts)
	require.Equal(t, []int{1, 2}, ds.Graph.Features(0).Concepts)
	require.Equal(t, Blank, ds.Graph.Features(0).Type)
	// ex:p2 has the literal "name" statement on top of "visits".
	require.Len(t, ds.Graph.Features(1).Relations, 2)
	require.Equal(t, 1, ds.Graph.Degree(1))
	require.Equal(t, []string{"ex:Subject1", "ex:clinic"}, ds.NamesOf([]int{0, 2}))
	require.Equal(t, "#9", ds.Name(9))
	require.True(t, ds.SubjectSet().Contains(0))
}

func TestDocumentBuildSubjectIDIgnoresCase(t *testing.T) {
	ds, err := sampleDocument().Build(SubjectRule{Identifier: "SUBJECT"}, Blank)
	require.NoError(t, err)
	require.Equal(t, []int{0}, ds.Subjects)

	doc := &Document{Nodes: []DocumentNode{{ID: "ex:ΟΔΟΣ"}, {ID: "ex:other"}}}
	ds, err = doc.Build(SubjectRule{Identifier: "οδος"}, Blank)
	require.NoError(t, err)
	require.Equal(t, []int{0}, ds.Subjects)
}

func TestDocumentBuildSubjectByConcept(t *testing.T) {
	ds, err := sampleDocument().Build(SubjectRule{AsConcept: true, Identifier: "Patient"}, Blank)
	require.NoError(t, err)

	require.Equal(t, []int{0, 1}, ds.Subjects)
	require.Equal(t, []string{"Clinic", "Person"}, ds.Concepts)
	require.Equal(t, []int{1}, ds.Graph.Features(0).Concepts)
}

func TestDocumentBuildRejectsEmptyID(t *testing.T) {
	doc := &Document{Nodes: []DocumentNode{{ID: ""}}}
	_, err := doc.Build(SubjectRule{}, Blank)
	require.ErrorIs(t, err, ErrInvalidFeatures)
}

func TestLoadFormats(t *testing.T) {
	dir := t.TempDir()
	doc := sampleDocument()

	jsonBytes, err := json.Marshal(doc)
	require.NoError(t, err)
	yamlBytes, err := yaml.Marshal(doc)
	require.NoError(t, err)

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := enc.EncodeAll(jsonBytes, nil)
	require.NoError(t, enc.Close())

	files := map[string][]byte{
		"g.json":     jsonBytes,
		"g.yaml":     yamlBytes,
		"g.YML":      yamlBytes,
		"g.json.zst": compressed,
	}
	for name, data := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, data, 0o600))

			ds, err := Load(context.Background(), path, SubjectRule{Identifier: "subject"})
			require.NoError(t, err)
			require.Equal(t, 3, ds.Graph.N())
			require.Equal(t, []int{0}, ds.Subjects)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "g.txt")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))

	_, err := LoadDocument(context.Background(), path)
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = LoadDocument(context.Background(), filepath.Join(dir, "missing.json"))
	require.ErrorIs(t, err, os.ErrNotExist)

	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte("{"), 0o600))
	_, err = LoadDocument(context.Background(), broken)
	require.Error(t, err)
}
