package intervals

import "sort"

// Interval is a closed block range [Start, End] with Start <= End.
type Interval struct {
	Start uint64
	End   uint64
}

// New creates an interval. Callers must ensure start <= end.
func New(start, end uint64) Interval {
	return Interval{Start: start, End: end}
}

// Len returns the number of blocks covered by the interval.
func (i Interval) Len() uint64 {
	return i.End - i.Start + 1
}

// Contains reports whether the block number lies within the interval.
func (i Interval) Contains(n uint64) bool {
	return i.Start <= n && n <= i.End
}

// Normalize returns the canonical form of a set of intervals: sorted by
// start, disjoint, and maximally merged. Adjacent intervals merge as well,
// so [1,2] and [3,4] become [1,4]. The input is not modified.
func Normalize(set []Interval) []Interval {
	if len(set) == 0 {
		return nil
	}

	sorted := make([]Interval, len(set))
	copy(sorted, set)
	sort.Slice(sorted, func(a, b int) bool {
		if sorted[a].Start != sorted[b].Start {
			return sorted[a].Start < sorted[b].Start
		}
		return sorted[a].End < sorted[b].End
	})

	merged := sorted[:1]
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		// iv.Start <= last.End+1 means overlapping or adjacent.
		// Guard the +1 against wrap at the max block number.
		if iv.Start <= last.End || iv.Start == last.End+1 {
			if iv.End > last.End {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}

	return merged
}

// Union returns the canonical union of two interval sets.
func Union(a, b []Interval) []Interval {
	combined := make([]Interval, 0, len(a)+len(b))
	combined = append(combined, a...)
	combined = append(combined, b...)
	return Normalize(combined)
}

// Intersection returns the canonical intersection of two interval sets.
// Inputs are assumed canonical.
func Intersection(a, b []Interval) []Interval {
	var out []Interval

	i, j := 0, 0
	for i < len(a) && j < len(b) {
		start := max(a[i].Start, b[j].Start)
		end := min(a[i].End, b[j].End)
		if start <= end {
			out = append(out, Interval{Start: start, End: end})
		}

		// Advance whichever interval ends first.
		if a[i].End < b[j].End {
			i++
		} else {
			j++
		}
	}

	return out
}

// Difference returns the canonical set of blocks in a but not in b.
// Inputs are assumed canonical.
func Difference(a, b []Interval) []Interval {
	var out []Interval

	j := 0
	for _, iv := range a {
		cursor := iv.Start
		for j < len(b) && b[j].End < cursor {
			j++
		}

		k := j
		for k < len(b) && b[k].Start <= iv.End {
			if b[k].Start > cursor {
				out = append(out, Interval{Start: cursor, End: b[k].Start - 1})
			}
			if b[k].End >= iv.End {
				cursor = iv.End + 1
				break
			}
			cursor = b[k].End + 1
			k++
		}

		if cursor <= iv.End {
			out = append(out, Interval{Start: cursor, End: iv.End})
		}
	}

	return out
}

// Sum returns the total number of blocks covered by the set.
func Sum(set []Interval) uint64 {
	var total uint64
	for _, iv := range set {
		total += iv.Len()
	}
	return total
}

// Chunks splits each interval into consecutive sub-intervals no longer than
// maxChunkSize blocks, preserving order.
func Chunks(set []Interval, maxChunkSize uint64) []Interval {
	if maxChunkSize == 0 {
		return append([]Interval(nil), set...)
	}

	var out []Interval
	for _, iv := range set {
		start := iv.Start
		for start <= iv.End {
			end := iv.End
			if span := end - start + 1; span > maxChunkSize {
				end = start + maxChunkSize - 1
			}
			out = append(out, Interval{Start: start, End: end})
			if end == iv.End {
				break
			}
			start = end + 1
		}
	}

	return out
}
