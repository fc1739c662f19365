package timeline

import "math"

// ClearFromPosition returns tl without the occurrences ending at or before
// firstAvailable (an index time), and the number of occurrences removed. A
// partially consumed entry keeps its remaining occurrences: its start moves
// forward and its repeat count decreases.
func ClearFromPosition(tl Timeline, firstAvailable float64) (Timeline, int64) {
	var removed int64
	for i, e := range tl {
		if e.Duration <= 0 {
			removed++
			continue
		}
		repeat := ResolveRepeat(e, tl.next(i), math.Inf(1))
		end := e.occurrenceStart(repeat + 1)
		if e.IsOpenEnded() && i == len(tl)-1 {
			// Unknown count: only the occurrences already behind us go.
			end = math.MaxInt64
		}
		if float64(end) <= firstAvailable {
			removed += repeat + 1
			continue
		}

		gone := int64(0)
		if diff := firstAvailable - float64(e.Start); diff > 0 {
			gone = int64(math.Floor(diff / float64(e.Duration)))
		}
		out := make(Timeline, 0, len(tl)-i)
		out = append(out, tl[i:].Clone()...)
		if gone > 0 {
			out[0].Start = e.occurrenceStart(gone)
			if !e.IsOpenEnded() {
				out[0].RepeatCount = e.RepeatCount - gone
			}
			removed += gone
		}
		return out, removed
	}
	return Timeline{}, removed
}

// DropHead returns tl without its first n occurrences.
func DropHead(tl Timeline, n int64) Timeline {
	for i, e := range tl {
		if n <= 0 {
			return tl[i:].Clone()
		}
		last := i == len(tl)-1
		repeat := ResolveRepeat(e, tl.next(i), math.Inf(1))
		if (e.IsOpenEnded() && last) || n <= repeat {
			out := tl[i:].Clone()
			out[0].Start = e.occurrenceStart(n)
			if !e.IsOpenEnded() {
				out[0].RepeatCount = e.RepeatCount - n
			}
			return out
		}
		n -= repeat + 1
	}
	return Timeline{}
}
