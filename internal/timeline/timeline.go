// Package timeline implements the repeat-compressed segment timeline used by
// representation indexes: construction from raw manifest elements,
// incremental reconciliation, segment enumeration, availability queries,
// eviction and manifest-refresh merges.
//
// All arithmetic happens in index time, the integer units of a per-index
// timescale shifted by the index time offset. Only the public boundaries
// (Scale.ToIndexTime and Scale.FromIndexTime) deal with seconds.
package timeline

import (
	"math"
	"sort"

	"mediaindex/internal/models"
)

// OpenEnded is the RepeatCount sentinel of an entry repeating until the next
// entry, the end of the Period, or the live edge.
const OpenEnded int64 = -1

// IndexSegment is one entry of a Timeline: RepeatCount+1 consecutive segments
// of the same Duration starting at Start.
type IndexSegment struct {
	Start       int64
	Duration    int64
	RepeatCount int64
	Range       *models.ByteRange
}

// IsOpenEnded reports whether the repeat count still has to be resolved.
func (s IndexSegment) IsOpenEnded() bool {
	return s.RepeatCount < 0
}

// occurrenceStart returns the start of the n-th occurrence of s.
func (s IndexSegment) occurrenceStart(n int64) int64 {
	return s.Start + n*s.Duration
}

// Timeline is an ordered sequence of non-overlapping IndexSegments.
// A Timeline value handed out by this package is never mutated in place;
// every mutating operation returns a new slice.
type Timeline []IndexSegment

// Clone returns a deep copy of t.
func (t Timeline) Clone() Timeline {
	if t == nil {
		return nil
	}
	out := make(Timeline, len(t))
	for i, s := range t {
		out[i] = s
		if s.Range != nil {
			r := *s.Range
			out[i].Range = &r
		}
	}
	return out
}

// next returns the entry following i, or nil.
func (t Timeline) next(i int) *IndexSegment {
	if i+1 < len(t) {
		return &t[i+1]
	}
	return nil
}

// Scale holds the conversion parameters between index time and seconds.
type Scale struct {
	Timescale int64
	// IndexTimeOffset is presentationTimeOffset - periodStart*Timescale.
	IndexTimeOffset int64
}

// ToIndexTime converts a position in seconds to index time. The result is a
// float so that unbounded positions (+Inf) survive the conversion.
func (s Scale) ToIndexTime(seconds float64) float64 {
	return seconds*float64(s.Timescale) + float64(s.IndexTimeOffset)
}

// FromIndexTime converts an index time to seconds.
func (s Scale) FromIndexTime(t int64) float64 {
	return float64(t-s.IndexTimeOffset) / float64(s.Timescale)
}

// fromIndexTimeF is FromIndexTime for already-float index times.
func (s Scale) fromIndexTimeF(t float64) float64 {
	return (t - float64(s.IndexTimeOffset)) / float64(s.Timescale)
}

// ResolveRepeat returns the concrete repeat count of s. An open-ended entry
// repeats until next's start, or else until ceiling (an index time, +Inf
// when unknown). With nothing to bound it, only the announced occurrence is
// counted.
func ResolveRepeat(s IndexSegment, next *IndexSegment, ceiling float64) int64 {
	if s.RepeatCount >= 0 {
		return s.RepeatCount
	}
	if s.Duration <= 0 {
		return 0
	}
	var end float64
	switch {
	case next != nil:
		end = float64(next.Start)
	case !math.IsInf(ceiling, 1) && !math.IsNaN(ceiling):
		end = ceiling
	default:
		return 0
	}
	n := int64(math.Ceil((end-float64(s.Start))/float64(s.Duration))) - 1
	if n < 0 {
		return 0
	}
	return n
}

// SegmentEnd returns the end, in index time, of the last occurrence of s.
func SegmentEnd(s IndexSegment, next *IndexSegment, ceiling float64) int64 {
	return s.occurrenceStart(ResolveRepeat(s, next, ceiling) + 1)
}

// End returns the end of the whole timeline, bounded by ceiling for an
// open-ended last entry. ok is false for an empty timeline.
func (t Timeline) End(ceiling float64) (int64, bool) {
	if len(t) == 0 {
		return 0, false
	}
	return SegmentEnd(t[len(t)-1], nil, ceiling), true
}

// indexOfLastStartingBefore returns the index of the last entry whose start is
// lower or equal to t, or -1.
func (t Timeline) indexOfLastStartingBefore(at float64) int {
	i := sort.Search(len(t), func(i int) bool {
		return float64(t[i].Start) > at
	})
	return i - 1
}
