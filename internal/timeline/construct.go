package timeline

// RawElement is one timeline element as produced by a manifest parser
// (a DASH <S> or a Smooth <c>). Any field may be omitted.
type RawElement struct {
	Start       *int64
	Duration    *int64
	RepeatCount *int64
}

// Element is a shorthand building a RawElement with every field set.
func Element(start, duration, repeat int64) RawElement {
	return RawElement{Start: &start, Duration: &duration, RepeatCount: &repeat}
}

// Construct builds a Timeline from raw elements. Omitted starts follow the
// previous entry, omitted durations are inferred from the next element's
// start, and negative repeat counts are resolved against the next element.
// Only the last entry may stay open-ended. Elements that cannot be resolved
// are dropped.
func Construct(elements []RawElement) Timeline {
	tl, _ := ConstructCount(elements)
	return tl
}

// ConstructCount is Construct also returning the number of dropped elements.
func ConstructCount(elements []RawElement) (Timeline, int) {
	return appendElements(make(Timeline, 0, len(elements)), nil, elements)
}

// appendElements converts elements and appends them to dst, prev being the
// entry preceding elements[0] (nil if none). It returns the number of
// elements dropped.
func appendElements(dst Timeline, prev *IndexSegment, elements []RawElement) (Timeline, int) {
	dropped := 0
	for i := range elements {
		var next *RawElement
		if i+1 < len(elements) {
			next = &elements[i+1]
		}
		seg, ok := convertElement(elements[i], prev, next)
		if !ok {
			dropped++
			continue
		}
		dst = append(dst, seg)
		prev = &dst[len(dst)-1]
	}
	return dst, dropped
}

// convertElement resolves one raw element given its resolved predecessor and
// its raw successor.
func convertElement(item RawElement, prev *IndexSegment, next *RawElement) (IndexSegment, bool) {
	var start int64
	switch {
	case item.Start != nil:
		start = *item.Start
	case prev == nil:
		start = 0
	default:
		start = prev.occurrenceStart(prev.RepeatCount + 1)
	}

	var duration int64
	switch {
	case item.Duration != nil && *item.Duration > 0:
		duration = *item.Duration
	case next != nil && next.Start != nil && *next.Start > start:
		duration = *next.Start - start
	default:
		return IndexSegment{}, false
	}

	seg := IndexSegment{Start: start, Duration: duration}
	if item.RepeatCount != nil {
		seg.RepeatCount = *item.RepeatCount
	}
	if seg.RepeatCount < 0 {
		switch {
		case next == nil:
			seg.RepeatCount = OpenEnded
		case next.Start != nil:
			nextSeg := IndexSegment{Start: *next.Start}
			seg.RepeatCount = ResolveRepeat(seg, &nextSeg, 0)
		default:
			// The successor follows us but says nothing about where: only the
			// announced occurrence is known.
			seg.RepeatCount = 0
		}
	}
	return seg, true
}
