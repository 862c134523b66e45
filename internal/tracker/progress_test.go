package tracker

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goran-ethernal/BlockHarvester/internal/intervals"
)

func TestProgressTracker_ClampsSeedToTarget(t *testing.T) {
	t.Parallel()

	tr := NewProgressTracker(intervals.New(100, 200), []intervals.Interval{
		{Start: 50, End: 120},
		{Start: 180, End: 250},
	})

	require.Equal(t, []intervals.Interval{
		{Start: 100, End: 120},
		{Start: 180, End: 200},
	}, tr.Completed())
	require.Equal(t, []intervals.Interval{
		{Start: 121, End: 179},
	}, tr.Required())
}

func TestProgressTracker_Checkpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		target    intervals.Interval
		completed []intervals.Interval
		expected  int64
	}{
		{
			name:     "empty completed sits below target start",
			target:   intervals.New(100, 200),
			expected: 99,
		},
		{
			name:     "target starting at zero yields -1",
			target:   intervals.New(0, 50),
			expected: -1,
		},
		{
			name:      "gap at the start keeps checkpoint below target",
			target:    intervals.New(100, 200),
			completed: []intervals.Interval{{Start: 150, End: 200}},
			expected:  99,
		},
		{
			name:      "contiguous prefix advances checkpoint",
			target:    intervals.New(100, 200),
			completed: []intervals.Interval{{Start: 100, End: 150}},
			expected:  150,
		},
		{
			name:      "fully completed target",
			target:    intervals.New(100, 200),
			completed: []intervals.Interval{{Start: 100, End: 200}},
			expected:  200,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tr := NewProgressTracker(tt.target, tt.completed)
			require.Equal(t, tt.expected, tr.Checkpoint())
		})
	}
}

func TestProgressTracker_AddCompletedInterval(t *testing.T) {
	t.Parallel()

	tr := NewProgressTracker(intervals.New(0, 100), nil)

	// Out-of-order completion does not move the checkpoint.
	updated, prev, cur := tr.AddCompletedInterval(intervals.New(50, 70))
	require.False(t, updated)
	require.Equal(t, int64(-1), prev)
	require.Equal(t, int64(-1), cur)

	// Completing the prefix merges through the earlier interval.
	updated, prev, cur = tr.AddCompletedInterval(intervals.New(0, 49))
	require.True(t, updated)
	require.Equal(t, int64(-1), prev)
	require.Equal(t, int64(70), cur)

	updated, _, cur = tr.AddCompletedInterval(intervals.New(71, 100))
	require.True(t, updated)
	require.Equal(t, int64(100), cur)
	require.Empty(t, tr.Required())
}

func TestProgressTracker_AddCompletedIntervalOutsideTarget(t *testing.T) {
	t.Parallel()

	tr := NewProgressTracker(intervals.New(100, 200), nil)

	updated, _, cur := tr.AddCompletedInterval(intervals.New(300, 400))
	require.False(t, updated)
	require.Equal(t, int64(99), cur)
	require.Empty(t, tr.Completed())
}
