package timeline

import "math"

// FallbackReason explains why an incremental reconstruction was abandoned.
// The empty reason means the previous timeline was successfully extended.
type FallbackReason string

const (
	ReasonNone             FallbackReason = ""
	ReasonNoCommonPoint    FallbackReason = "no_common_point"
	ReasonTooShort         FallbackReason = "new_timeline_too_short"
	ReasonStartsEarlier    FallbackReason = "new_timeline_starts_earlier"
	ReasonShapeChanged     FallbackReason = "shape_changed"
	ReasonDurationMismatch FallbackReason = "duration_mismatch"
	ReasonRepeatShrunk     FallbackReason = "repeat_shrunk"
)

// Reconciliation describes how ConstructFromPrevious built its result.
type Reconciliation struct {
	Reason FallbackReason
	// Kept is the number of occurrences of the previous timeline kept before
	// the first element of the new list. It is zero on fallback.
	Kept int64
	// Dropped is the number of new elements that could not be resolved.
	Dropped int
}

// commonPoint locates the first occurrence shared by a previous timeline and
// a new element list: occurrence prevRep of prev[prevIdx] starts at the same
// time as occurrence newRep of the newIdx-th resolved element.
type commonPoint struct {
	prevIdx int
	prevRep int64
	newIdx  int
	newRep  int64
}

// elementCursor resolves raw elements one by one, the way Construct does.
type elementCursor struct {
	elements []RawElement
	pos      int // index of the next raw element to resolve
	prev     *IndexSegment
	resolved Timeline
	dropped  int
}

// advance resolves the next convertible element. ok is false once the list
// is exhausted.
func (c *elementCursor) advance() (IndexSegment, bool) {
	for c.pos < len(c.elements) {
		var next *RawElement
		if c.pos+1 < len(c.elements) {
			next = &c.elements[c.pos+1]
		}
		seg, ok := convertElement(c.elements[c.pos], c.prev, next)
		c.pos++
		if !ok {
			c.dropped++
			continue
		}
		c.resolved = append(c.resolved, seg)
		c.prev = &c.resolved[len(c.resolved)-1]
		return seg, true
	}
	return IndexSegment{}, false
}

// findFirstCommonStart scans prev and the new elements together, comparing
// occurrences rather than entries.
func findFirstCommonStart(prev Timeline, cur *elementCursor) (commonPoint, bool) {
	if len(prev) == 0 {
		return commonPoint{}, false
	}
	n, ok := cur.advance()
	if !ok {
		return commonPoint{}, false
	}
	i := 0
	for i < len(prev) {
		p := prev[i]
		newIdx := len(cur.resolved) - 1
		switch {
		case n.Start == p.Start:
			return commonPoint{prevIdx: i, newIdx: newIdx}, true
		case n.Start > p.Start:
			diff := n.Start - p.Start
			rep := ResolveRepeat(p, prev.next(i), float64(n.Start+1))
			if p.Duration > 0 && diff%p.Duration == 0 && diff/p.Duration <= rep {
				return commonPoint{prevIdx: i, prevRep: diff / p.Duration, newIdx: newIdx}, true
			}
			i++
		default:
			diff := p.Start - n.Start
			rep := ResolveRepeat(n, nil, float64(p.Start+1))
			if diff%n.Duration == 0 && diff/n.Duration <= rep {
				return commonPoint{prevIdx: i, newIdx: newIdx, newRep: diff / n.Duration}, true
			}
			if n, ok = cur.advance(); !ok {
				return commonPoint{}, false
			}
		}
	}
	return commonPoint{}, false
}

// ConstructFromPrevious builds the timeline described by elements by
// extending prev instead of rebuilding it: entries of prev before the first
// common occurrence are kept as-is, the overlapping entries are checked
// against the new elements, and only elements past the overlap are appended.
// The kept head is counted in Reconciliation.Kept.
//
// Whenever the new elements do not continue prev in an unambiguous way, the
// result of Construct(elements) is returned together with the reason.
func ConstructFromPrevious(prev Timeline, elements []RawElement) (Timeline, Reconciliation) {
	fallback := func(reason FallbackReason) (Timeline, Reconciliation) {
		tl, dropped := ConstructCount(elements)
		return tl, Reconciliation{Reason: reason, Dropped: dropped}
	}

	cur := &elementCursor{elements: elements, resolved: make(Timeline, 0, len(prev)+1)}
	cp, ok := findFirstCommonStart(prev, cur)
	if !ok {
		return fallback(ReasonNoCommonPoint)
	}
	if cp.newRep > 0 || cp.newIdx > 0 {
		// The new list knows segments prev does not have before the common
		// point.
		return fallback(ReasonStartsEarlier)
	}

	overlap := len(prev) - cp.prevIdx
	for len(cur.resolved) < cp.newIdx+overlap {
		if _, ok := cur.advance(); !ok {
			return fallback(ReasonTooShort)
		}
	}

	result := prev[:len(prev)-1].Clone()
	for k := 0; k < overlap; k++ {
		p := prev[cp.prevIdx+k]
		n := cur.resolved[cp.newIdx+k]
		var pOff int64
		if k == 0 {
			pOff = cp.prevRep
		}
		if p.Duration != n.Duration {
			return fallback(ReasonDurationMismatch)
		}
		if p.occurrenceStart(pOff) != n.Start {
			return fallback(ReasonShapeChanged)
		}
		if k < overlap-1 {
			if p.RepeatCount-pOff != n.RepeatCount {
				return fallback(ReasonShapeChanged)
			}
			continue
		}

		// Last overlapping pair: the new manifest may reveal more repetitions.
		merged := p
		if p.Range != nil {
			r := *p.Range
			merged.Range = &r
		}
		switch {
		case n.IsOpenEnded():
			merged.RepeatCount = OpenEnded
		case p.IsOpenEnded():
			merged.RepeatCount = pOff + n.RepeatCount
		case p.RepeatCount-pOff > n.RepeatCount:
			return fallback(ReasonRepeatShrunk)
		default:
			merged.RepeatCount = pOff + n.RepeatCount
		}
		result = append(result, merged)
	}

	kept := cp.prevRep
	for i, p := range prev[:cp.prevIdx] {
		kept += ResolveRepeat(p, prev.next(i), math.Inf(1)) + 1
	}

	// The cursor stopped right after the overlap: what remains is new.
	result, dropped := appendElements(result, &result[len(result)-1], elements[cur.pos:])
	return result, Reconciliation{Kept: kept, Dropped: cur.dropped + dropped}
}
