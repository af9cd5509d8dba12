package partition

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/conductorone/wlanon/pkg/features"
)

func TestOfIsCanonical(t *testing.T) {
	colors := []features.Color{9, 4, 9, 1, 4, 9}
	want := Partition{{0, 2, 5}, {1, 4}, {3}}
	if diff := cmp.Diff(want, Of(colors)); diff != "" {
		t.Fatalf("partition mismatch (-want +got):\n%s", diff)
	}
}

func TestEqualIgnoresColorValues(t *testing.T) {
	a := Of([]features.Color{1, 1, 2, 3})
	b := Of([]features.Color{70, 70, 5, 6})
	c := Of([]features.Color{1, 2, 2, 3})

	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
	require.Equal(t, []int{2, 1, 1}, a.Sizes())
}

func TestCountsAndMembers(t *testing.T) {
	colors := []features.Color{5, 6, 5, 5}
	counts, members := CountsAndMembers(colors)

	require.Equal(t, map[features.Color]int{5: 3, 6: 1}, counts)
	require.True(t, members[5].Contains(0, 2, 3))
	require.Equal(t, 3, members[5].Cardinality())
	require.True(t, members[6].Contains(1))
	require.Equal(t, Counts(colors), counts)
}

func TestCompliance(t *testing.T) {
	colors := []features.Color{1, 1, 2, 3, 3, 3}
	counts := Counts(colors)

	tests := []struct {
		name       string
		subjects   []int
		k          int
		compliant  bool
		violations []int
	}{
		{"all in large classes", []int{0, 3}, 2, true, nil},
		{"singleton subject", []int{0, 2}, 2, false, []int{2}},
		{"k above every class", []int{0, 2, 4}, 4, false, []int{0, 2, 4}},
		{"k of one always holds", []int{2}, 1, true, nil},
		{"no subjects", nil, 3, true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.compliant, IsKCompliant(colors, counts, tt.subjects, tt.k))
			require.Equal(t, tt.violations, Violations(colors, counts, tt.subjects, tt.k))
		})
	}
}

func TestSingletons(t *testing.T) {
	colors := []features.Color{1, 2, 2, 3}
	counts := Counts(colors)
	require.Equal(t, []int{0, 3}, Singletons(colors, counts))
	require.Equal(t, []int{3}, SubjectSingletons(colors, counts, []int{1, 3}))
}

func TestValidateK(t *testing.T) {
	require.NoError(t, ValidateK(1))
	require.ErrorIs(t, ValidateK(0), ErrInvalidK)
	require.ErrorIs(t, ValidateK(-3), ErrInvalidK)
}
