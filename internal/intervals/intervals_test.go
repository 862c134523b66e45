package intervals

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    []Interval
		expected []Interval
	}{
		{
			name: "empty set",
		},
		{
			name:     "single interval",
			input:    []Interval{{Start: 1, End: 5}},
			expected: []Interval{{Start: 1, End: 5}},
		},
		{
			name:     "overlapping intervals merge",
			input:    []Interval{{Start: 1, End: 5}, {Start: 3, End: 8}},
			expected: []Interval{{Start: 1, End: 8}},
		},
		{
			name:     "adjacent intervals merge",
			input:    []Interval{{Start: 1, End: 2}, {Start: 3, End: 4}},
			expected: []Interval{{Start: 1, End: 4}},
		},
		{
			name:     "disjoint intervals stay separate",
			input:    []Interval{{Start: 1, End: 2}, {Start: 4, End: 5}},
			expected: []Interval{{Start: 1, End: 2}, {Start: 4, End: 5}},
		},
		{
			name:     "unsorted input is sorted",
			input:    []Interval{{Start: 10, End: 12}, {Start: 1, End: 2}, {Start: 4, End: 5}},
			expected: []Interval{{Start: 1, End: 2}, {Start: 4, End: 5}, {Start: 10, End: 12}},
		},
		{
			name:     "contained interval is swallowed",
			input:    []Interval{{Start: 1, End: 10}, {Start: 3, End: 5}},
			expected: []Interval{{Start: 1, End: 10}},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestNormalizeDoesNotModifyInput(t *testing.T) {
	t.Parallel()

	input := []Interval{{Start: 5, End: 8}, {Start: 1, End: 2}}
	Normalize(input)

	require.Equal(t, []Interval{{Start: 5, End: 8}, {Start: 1, End: 2}}, input)
}

func TestUnion(t *testing.T) {
	t.Parallel()

	out := Union(
		[]Interval{{Start: 1, End: 3}, {Start: 10, End: 12}},
		[]Interval{{Start: 4, End: 5}, {Start: 20, End: 22}},
	)

	require.Equal(t, []Interval{
		{Start: 1, End: 5},
		{Start: 10, End: 12},
		{Start: 20, End: 22},
	}, out)
}

func TestIntersection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		a, b     []Interval
		expected []Interval
	}{
		{
			name: "disjoint sets",
			a:    []Interval{{Start: 1, End: 3}},
			b:    []Interval{{Start: 5, End: 8}},
		},
		{
			name:     "partial overlap",
			a:        []Interval{{Start: 1, End: 5}},
			b:        []Interval{{Start: 3, End: 8}},
			expected: []Interval{{Start: 3, End: 5}},
		},
		{
			name:     "multiple overlaps",
			a:        []Interval{{Start: 0, End: 100}},
			b:        []Interval{{Start: 10, End: 20}, {Start: 30, End: 40}},
			expected: []Interval{{Start: 10, End: 20}, {Start: 30, End: 40}},
		},
		{
			name:     "touching endpoints",
			a:        []Interval{{Start: 1, End: 5}},
			b:        []Interval{{Start: 5, End: 9}},
			expected: []Interval{{Start: 5, End: 5}},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tt.expected, Intersection(tt.a, tt.b))
		})
	}
}

func TestDifference(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		a, b     []Interval
		expected []Interval
	}{
		{
			name:     "nothing removed",
			a:        []Interval{{Start: 1, End: 5}},
			b:        []Interval{{Start: 10, End: 20}},
			expected: []Interval{{Start: 1, End: 5}},
		},
		{
			name: "fully removed",
			a:    []Interval{{Start: 3, End: 5}},
			b:    []Interval{{Start: 1, End: 10}},
		},
		{
			name:     "hole punched in the middle",
			a:        []Interval{{Start: 0, End: 100}},
			b:        []Interval{{Start: 40, End: 60}},
			expected: []Interval{{Start: 0, End: 39}, {Start: 61, End: 100}},
		},
		{
			name:     "prefix removed",
			a:        []Interval{{Start: 0, End: 100}},
			b:        []Interval{{Start: 0, End: 50}},
			expected: []Interval{{Start: 51, End: 100}},
		},
		{
			name:     "multiple holes across multiple intervals",
			a:        []Interval{{Start: 0, End: 10}, {Start: 20, End: 30}},
			b:        []Interval{{Start: 5, End: 7}, {Start: 25, End: 35}},
			expected: []Interval{{Start: 0, End: 4}, {Start: 8, End: 10}, {Start: 20, End: 24}},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tt.expected, Difference(tt.a, tt.b))
		})
	}
}

func TestSum(t *testing.T) {
	t.Parallel()

	require.Zero(t, Sum(nil))
	require.Equal(t, uint64(1), Sum([]Interval{{Start: 5, End: 5}}))
	require.Equal(t, uint64(13), Sum([]Interval{{Start: 0, End: 9}, {Start: 20, End: 22}}))
}

func TestChunks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    []Interval
		max      uint64
		expected []Interval
	}{
		{
			name:     "zero max keeps intervals whole",
			input:    []Interval{{Start: 0, End: 99}},
			max:      0,
			expected: []Interval{{Start: 0, End: 99}},
		},
		{
			name:     "interval shorter than max is unchanged",
			input:    []Interval{{Start: 0, End: 5}},
			max:      10,
			expected: []Interval{{Start: 0, End: 5}},
		},
		{
			name:  "exact multiple",
			input: []Interval{{Start: 0, End: 9}},
			max:   5,
			expected: []Interval{
				{Start: 0, End: 4},
				{Start: 5, End: 9},
			},
		},
		{
			name:  "remainder chunk",
			input: []Interval{{Start: 0, End: 10}},
			max:   5,
			expected: []Interval{
				{Start: 0, End: 4},
				{Start: 5, End: 9},
				{Start: 10, End: 10},
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tt.expected, Chunks(tt.input, tt.max))
		})
	}
}
