package timeline

import "math"

// ReplaceKeepingTail returns newer, extended with the entries of older lying
// past newer's end. Those are segments learned in-band (see AddPredicted)
// that the refreshed manifest does not list yet. When the tail of older does
// not line up with newer, newer is returned as-is.
func ReplaceKeepingTail(older, newer Timeline) Timeline {
	out := newer.Clone()
	if len(older) == 0 || len(out) == 0 {
		return out
	}
	lastNew := &out[len(out)-1]
	newEnd := SegmentEnd(*lastNew, nil, math.Inf(1))
	if SegmentEnd(older[len(older)-1], nil, math.Inf(1)) <= newEnd {
		return out
	}

	for i, o := range older {
		oldEnd := SegmentEnd(o, older.next(i), math.Inf(1))
		if oldEnd == newEnd {
			return append(out, older[i+1:].Clone()...)
		}
		if oldEnd < newEnd {
			continue
		}

		span := newEnd - o.Start
		if span == 0 {
			// A hole announced earlier has been filled.
			return append(out, older[i:].Clone()...)
		}
		if o.Duration != lastNew.Duration || span < 0 || span%o.Duration != 0 || lastNew.IsOpenEnded() {
			return out
		}
		extra := ResolveRepeat(o, older.next(i), math.Inf(1)) - (span/o.Duration - 1)
		if extra < 0 {
			return out
		}
		lastNew.RepeatCount += extra
		return append(out, older[i+1:].Clone()...)
	}
	return out
}

// PredictedSegment is a segment announced ahead of the manifest, in index
// time.
type PredictedSegment struct {
	Time     int64
	Duration int64
}

// AddPredicted returns tl with seg appended when seg starts at or after the
// end of tl: the last entry's repeat count grows when seg follows it directly
// with the same duration, a new entry is added otherwise. currentTime is the
// start of the segment carrying the announcement; a prediction about that
// very segment brings nothing.
// ok is false when tl is returned unchanged.
func AddPredicted(tl Timeline, seg PredictedSegment, currentTime int64) (Timeline, bool) {
	if seg.Duration <= 0 || seg.Time == currentTime {
		return tl, false
	}
	if len(tl) == 0 {
		return Timeline{{Start: seg.Time, Duration: seg.Duration}}, true
	}
	last := tl[len(tl)-1]
	end := SegmentEnd(last, nil, math.Inf(1))
	if last.IsOpenEnded() || seg.Time < end {
		return tl, false
	}
	out := tl.Clone()
	if seg.Time == end && last.Duration == seg.Duration {
		out[len(out)-1].RepeatCount++
		return out, true
	}
	return append(out, IndexSegment{Start: seg.Time, Duration: seg.Duration}), true
}
