package timeline

import (
	"errors"
	"fmt"
	"math"
)

// ErrUpdateGap is returned by Update when the refreshed timeline starts after
// the end of the previous one: the segments in between are unknown.
var ErrUpdateGap = errors.New("timeline: not enough data to bridge the update gap")

// UpdateResult describes how Update combined the two timelines.
type UpdateResult int

const (
	// UpdateExtended means the new entries were spliced after the still-valid
	// head of the old timeline.
	UpdateExtended UpdateResult = iota
	// UpdateTruncated is UpdateExtended where some old occurrences
	// overlapping the new timeline had to be dropped.
	UpdateTruncated
	// UpdateReplaced means the old timeline was discarded entirely.
	UpdateReplaced
	// UpdateStale means the new timeline was older than the old one and was
	// ignored.
	UpdateStale
)

// FullReplace reports whether entries of the old timeline could not be
// carried over, so that anything derived from their position (sequence
// numbers) has to be recomputed.
func (r UpdateResult) FullReplace() bool {
	return r == UpdateReplaced
}

func (r UpdateResult) String() string {
	switch r {
	case UpdateExtended:
		return "extended"
	case UpdateTruncated:
		return "truncated"
	case UpdateReplaced:
		return "replaced"
	case UpdateStale:
		return "stale"
	default:
		return fmt.Sprintf("UpdateResult(%d)", int(r))
	}
}

// Update merges newer, the timeline of a refreshed manifest, into older. The
// head of older that newer no longer describes is preserved. Neither input is
// modified.
func Update(older, newer Timeline) (Timeline, UpdateResult, error) {
	if len(older) == 0 {
		return newer.Clone(), UpdateReplaced, nil
	}
	if len(newer) == 0 {
		return older, UpdateStale, nil
	}

	newStart := newer[0].Start
	oldEnd := SegmentEnd(older[len(older)-1], &newer[0], math.Inf(1))
	if oldEnd < newStart {
		return nil, UpdateStale, fmt.Errorf("%w: previous timeline ends at %d, new one starts at %d",
			ErrUpdateGap, oldEnd, newStart)
	}

	for i := len(older) - 1; i >= 0; i-- {
		cur := older[i]
		if cur.Start == newStart {
			return splice(older[:i], newer), UpdateExtended, nil
		}
		if cur.Start > newStart {
			continue
		}

		if cur.Start+cur.Duration > newStart {
			// The first segment of newer starts inside the first occurrence
			// of cur: nothing in older can be trusted anymore.
			return newer.Clone(), UpdateReplaced, nil
		}
		if cur.RepeatCount <= 0 {
			out := splice(older[:i+1], newer)
			if cur.IsOpenEnded() {
				out[i].RepeatCount = (newStart-cur.Start)/cur.Duration - 1
			}
			return out, UpdateExtended, nil
		}

		if cur.occurrenceStart(cur.RepeatCount+1) <= newStart {
			return splice(older[:i+1], newer), UpdateExtended, nil
		}

		// newer starts inside the repetitions of cur.
		diff := newStart - cur.Start
		if diff%cur.Duration == 0 && cur.Duration == newer[0].Duration {
			out := splice(older[:i], newer)
			out[i].Start = cur.Start
			if !newer[0].IsOpenEnded() {
				out[i].RepeatCount = newer[0].RepeatCount + diff/cur.Duration
			}
			return out, UpdateExtended, nil
		}
		// Keep the occurrences ending before newStart only.
		out := splice(older[:i+1], newer)
		out[i].RepeatCount = diff/cur.Duration - 1
		return out, UpdateTruncated, nil
	}

	// Every entry of older starts after newer's first one.
	prevLast := older[len(older)-1]
	newLast := newer[len(newer)-1]
	if prevLast.IsOpenEnded() {
		if prevLast.Start > newLast.Start {
			return older, UpdateStale, nil
		}
		return newer.Clone(), UpdateReplaced, nil
	}
	newLastEnd := SegmentEnd(newLast, nil, math.Inf(1))
	if !newLast.IsOpenEnded() && SegmentEnd(prevLast, nil, math.Inf(1)) >= newLastEnd {
		return older, UpdateStale, nil
	}
	return newer.Clone(), UpdateReplaced, nil
}

// splice returns a fresh timeline made of head followed by tail.
func splice(head, tail Timeline) Timeline {
	out := make(Timeline, 0, len(head)+len(tail))
	out = append(out, head.Clone()...)
	return append(out, tail.Clone()...)
}
