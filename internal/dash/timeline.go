package dash

import (
	m "github.com/Eyevinn/dash-mpd/mpd"

	"mediaindex/internal/timeline"
)

// rawElements converts the <S> elements of a SegmentTimeline. A zero
// duration is treated as omitted.
func rawElements(st *m.SegmentTimelineType) []timeline.RawElement {
	if st == nil {
		return nil
	}
	out := make([]timeline.RawElement, 0, len(st.S))
	for _, s := range st.S {
		if s == nil {
			continue
		}
		var el timeline.RawElement
		if s.T != nil {
			t := int64(*s.T)
			el.Start = &t
		}
		if s.D > 0 {
			d := int64(s.D)
			el.Duration = &d
		}
		r := int64(s.R)
		el.RepeatCount = &r
		out = append(out, el)
	}
	return out
}
