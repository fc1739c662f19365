package timeline

import (
	"math"

	"mediaindex/internal/models"
)

// LastRequestableInfo locates the last segment of a timeline that can be
// requested right now.
type LastRequestableInfo struct {
	// Index of the timeline entry holding that segment.
	Index int
	// RepeatCount is the last requestable repetition of that entry.
	RepeatCount int64
	// End of that segment, in index time.
	End int64
	// IsLastOfTimeline is set when nothing announced in the timeline lies
	// after that segment.
	IsLastOfTimeline bool
}

// LastRequestable returns the last segment ending before maximumPosition
// (seconds, +Inf when everything announced is requestable). periodEnd, in
// seconds and +Inf when unknown, bounds an open-ended last entry.
func LastRequestable(tl Timeline, s Scale, maximumPosition, periodEnd float64) (LastRequestableInfo, bool) {
	if len(tl) == 0 {
		return LastRequestableInfo{}, false
	}
	periodCeil := s.ToIndexTime(periodEnd)
	if math.IsInf(maximumPosition, 1) {
		last := len(tl) - 1
		rep := ResolveRepeat(tl[last], nil, periodCeil)
		return LastRequestableInfo{
			Index:            last,
			RepeatCount:      rep,
			End:              tl[last].occurrenceStart(rep + 1),
			IsLastOfTimeline: true,
		}, true
	}

	maxIndex := s.ToIndexTime(maximumPosition)
	for i := len(tl) - 1; i >= 0; i-- {
		e := tl[i]
		if e.Duration <= 0 || float64(e.Start+e.Duration) > maxIndex {
			continue
		}
		rep := ResolveRepeat(e, tl.next(i), math.Min(periodCeil, maxIndex))
		fit := int64(math.Floor((maxIndex-float64(e.Start))/float64(e.Duration))) - 1
		last := rep
		if fit < last {
			last = fit
		}
		return LastRequestableInfo{
			Index:            i,
			RepeatCount:      last,
			End:              e.occurrenceStart(last + 1),
			IsLastOfTimeline: i == len(tl)-1 && last == rep,
		}, true
	}
	return LastRequestableInfo{}, false
}

// FirstPosition returns the start of the first announced segment, in
// seconds, never before periodStart.
func FirstPosition(tl Timeline, s Scale, periodStart float64) (float64, bool) {
	if len(tl) == 0 {
		return 0, false
	}
	return math.Max(s.FromIndexTime(tl[0].Start), periodStart), true
}

// IsSegmentStillAvailable reports whether seg is still described by tl,
// scanning no further than the last requestable segment.
func IsSegmentStillAvailable(tl Timeline, s Scale, seg models.Segment, last LastRequestableInfo) bool {
	t, d, exact := segmentIndexTime(s, seg)
	for i := 0; i <= last.Index && i < len(tl); i++ {
		e := tl[i]
		if e.Duration <= 0 {
			continue
		}
		if e.Start > t {
			return false
		}
		maxRep := ResolveRepeat(e, tl.next(i), math.Inf(1))
		if i == last.Index {
			maxRep = last.RepeatCount
		}
		diff := t - e.Start
		if diff%e.Duration != 0 || diff/e.Duration > maxRep {
			continue
		}
		if exact && d != e.Duration {
			return false
		}
		return rangesEqual(e.Range, seg.Range)
	}
	return false
}

// segmentIndexTime recovers the index time of a segment produced by this
// package; exact is false when it had to be derived from seconds.
func segmentIndexTime(s Scale, seg models.Segment) (int64, int64, bool) {
	if seg.Private.Timescale == s.Timescale && s.Timescale != 0 {
		return seg.Private.IndexTime, seg.Private.IndexDuration, true
	}
	t := int64(math.Round(s.ToIndexTime(seg.Time)))
	return t, int64(math.Round(seg.Duration * float64(s.Timescale))), false
}

func rangesEqual(a, b *models.ByteRange) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// CheckDiscontinuity returns the start, in seconds, of the next announced
// segment when t lies in a hole between two timeline entries. rounding is a
// tolerance in seconds; ceiling (index time, +Inf if unknown) bounds
// open-ended entries.
func CheckDiscontinuity(tl Timeline, s Scale, t float64, ceiling, rounding float64) (float64, bool) {
	scaled := s.ToIndexTime(t)
	if scaled < 0 {
		return 0, false
	}
	i := tl.indexOfLastStartingBefore(scaled)
	if i < 0 || i >= len(tl)-1 {
		return 0, false
	}
	item := tl[i]
	if item.Duration <= 0 {
		return 0, false
	}
	next := tl[i+1]
	end := SegmentEnd(item, &next, ceiling)
	if scaled+rounding*float64(s.Timescale) >= float64(end) && next.Start > end {
		return s.FromIndexTime(next.Start), true
	}
	return 0, false
}

// Covers reports whether the entries of tl announce segments overlapping
// [start, end) (index times).
func Covers(tl Timeline, start, end, ceiling float64) bool {
	for i, e := range tl {
		if float64(e.Start) >= end {
			return false
		}
		if float64(SegmentEnd(e, tl.next(i), ceiling)) > start {
			return true
		}
	}
	return false
}
