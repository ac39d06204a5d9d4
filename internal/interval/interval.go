// Package interval implements set arithmetic over half-open time intervals.
package interval

import (
	"sort"
	"time"
)

// Interval is a span of absolute time. Start is inclusive, End exclusive.
type Interval struct {
	Start time.Time
	End   time.Time
}

// New returns the interval [start, end).
func New(start, end time.Time) Interval {
	return Interval{Start: start, End: end}
}

// Duration returns End - Start.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Empty reports whether the interval has no positive length.
func (iv Interval) Empty() bool {
	return !iv.Start.Before(iv.End)
}

// Overlaps reports whether a and b intersect using strict comparison.
// Intervals that only touch at an endpoint do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Subtract removes busy from free and returns what is left, at most two
// pieces, ordered by start. An empty busy interval removes nothing.
func Subtract(free, busy Interval) []Interval {
	if busy.Empty() || !Overlaps(free, busy) {
		return []Interval{free}
	}

	var out []Interval
	if free.Start.Before(busy.Start) {
		out = append(out, Interval{Start: free.Start, End: busy.Start})
	}
	if busy.End.Before(free.End) {
		out = append(out, Interval{Start: busy.End, End: free.End})
	}
	return out
}

// SubtractAll removes every busy interval from free. Busy intervals are
// applied in input order; the result does not depend on that order.
func SubtractAll(free Interval, busy []Interval) []Interval {
	slots := []Interval{free}
	for _, b := range busy {
		slots = SubtractFrom(slots, b)
	}
	return slots
}

// SubtractFrom removes busy from each interval in slots.
func SubtractFrom(slots []Interval, busy Interval) []Interval {
	next := make([]Interval, 0, len(slots)+1)
	for _, s := range slots {
		next = append(next, Subtract(s, busy)...)
	}
	return next
}

// FilterMinDuration keeps intervals at least min long. Empty intervals are
// always dropped, even when min is zero.
func FilterMinDuration(intervals []Interval, min time.Duration) []Interval {
	out := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		if iv.Empty() || iv.Duration() < min {
			continue
		}
		out = append(out, iv)
	}
	return out
}

// Sort orders intervals by start, then end.
func Sort(intervals []Interval) {
	sort.Slice(intervals, func(i, j int) bool {
		if intervals[i].Start.Equal(intervals[j].Start) {
			return intervals[i].End.Before(intervals[j].End)
		}
		return intervals[i].Start.Before(intervals[j].Start)
	})
}
