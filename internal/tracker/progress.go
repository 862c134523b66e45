package tracker

import (
	"github.com/goran-ethernal/BlockHarvester/internal/intervals"
)

// ProgressTracker tracks sync progress of a single filter over its target
// block range. The completed set is always canonical and clamped to the
// target, so the checkpoint can be read off its first interval.
type ProgressTracker struct {
	target    intervals.Interval
	completed []intervals.Interval
}

// NewProgressTracker builds a tracker for the target range, seeding it with
// intervals already completed in previous runs. Completed blocks outside the
// target are discarded.
func NewProgressTracker(target intervals.Interval, completed []intervals.Interval) *ProgressTracker {
	clamped := intervals.Intersection(
		intervals.Normalize(completed),
		[]intervals.Interval{target},
	)

	return &ProgressTracker{
		target:    target,
		completed: clamped,
	}
}

// Target returns the target block range.
func (t *ProgressTracker) Target() intervals.Interval {
	return t.target
}

// Completed returns the canonical set of completed intervals.
func (t *ProgressTracker) Completed() []intervals.Interval {
	return t.completed
}

// Required returns the canonical set of blocks still to be fetched.
func (t *ProgressTracker) Required() []intervals.Interval {
	return intervals.Difference([]intervals.Interval{t.target}, t.completed)
}

// Checkpoint returns the highest block through which the target range is
// contiguously complete from its start. When no completed interval covers
// the target start the checkpoint sits just below it, which for a target
// starting at block 0 is -1.
func (t *ProgressTracker) Checkpoint() int64 {
	if len(t.completed) > 0 && t.completed[0].Start <= t.target.Start {
		return int64(t.completed[0].End)
	}

	return int64(t.target.Start) - 1
}

// AddCompletedInterval merges the interval into the completed set and reports
// whether the checkpoint advanced, along with its previous and new values.
func (t *ProgressTracker) AddCompletedInterval(iv intervals.Interval) (isUpdated bool, prev, cur int64) {
	prev = t.Checkpoint()

	t.completed = intervals.Intersection(
		intervals.Union(t.completed, []intervals.Interval{iv}),
		[]intervals.Interval{t.target},
	)

	cur = t.Checkpoint()

	return cur > prev, prev, cur
}
