package interval

import "time"

// Interval is a half-open span [Start, End) of absolute instants.
//
// Nothing in this package knows about zones or calendar days; callers must
// hand it instants that were normalized once at the boundary.
type Interval struct {
	Start time.Time
	End   time.Time
}

func New(start, end time.Time) Interval {
	return Interval{Start: start, End: end}
}

// Empty reports whether the interval contains no instant (End <= Start).
func (iv Interval) Empty() bool {
	return !iv.Start.Before(iv.End)
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

func (iv Interval) Shift(d time.Duration) Interval {
	return Interval{Start: iv.Start.Add(d), End: iv.End.Add(d)}
}

// Overlaps reports whether a and b share any instant:
// a.Start < b.End && b.Start < a.End. Empty intervals never overlap.
func Overlaps(a, b Interval) bool {
	if a.Empty() || b.Empty() {
		return false
	}
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Contains reports whether t lies in [iv.Start, iv.End).
func Contains(iv Interval, t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Before orders intervals by start, then by end.
func Before(a, b Interval) bool {
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	return a.End.Before(b.End)
}

// Compare is Before as a three-way comparison, for slices.SortFunc.
func Compare(a, b Interval) int {
	if c := a.Start.Compare(b.Start); c != 0 {
		return c
	}
	return a.End.Compare(b.End)
}
