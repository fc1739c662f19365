package timeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mediaindex/internal/timeline"
)

func i64(v int64) *int64 { return &v }

func TestConstruct(t *testing.T) {
	tests := []struct {
		name     string
		elements []timeline.RawElement
		want     timeline.Timeline
	}{
		{
			name:     "explicit elements",
			elements: []timeline.RawElement{timeline.Element(0, 2, 0), timeline.Element(2, 2, 1)},
			want:     timeline.Timeline{{Start: 0, Duration: 2}, {Start: 2, Duration: 2, RepeatCount: 1}},
		},
		{
			name: "start follows previous occurrences",
			elements: []timeline.RawElement{
				timeline.Element(0, 4, 1),
				{Duration: i64(4)},
				{Duration: i64(3), RepeatCount: i64(2)},
			},
			want: timeline.Timeline{
				{Start: 0, Duration: 4, RepeatCount: 1},
				{Start: 8, Duration: 4},
				{Start: 12, Duration: 3, RepeatCount: 2},
			},
		},
		{
			name:     "first element without start",
			elements: []timeline.RawElement{{Duration: i64(5)}},
			want:     timeline.Timeline{{Start: 0, Duration: 5}},
		},
		{
			name:     "negative repeat bounded by next start",
			elements: []timeline.RawElement{timeline.Element(0, 2, -1), timeline.Element(10, 3, 0)},
			want:     timeline.Timeline{{Start: 0, Duration: 2, RepeatCount: 4}, {Start: 10, Duration: 3}},
		},
		{
			name:     "last negative repeat stays open",
			elements: []timeline.RawElement{timeline.Element(0, 2, 1), timeline.Element(4, 2, -1)},
			want: timeline.Timeline{
				{Start: 0, Duration: 2, RepeatCount: 1},
				{Start: 4, Duration: 2, RepeatCount: timeline.OpenEnded},
			},
		},
		{
			name:     "negative repeat before a start-less element",
			elements: []timeline.RawElement{timeline.Element(0, 2, -1), {Duration: i64(3)}},
			want:     timeline.Timeline{{Start: 0, Duration: 2}, {Start: 2, Duration: 3}},
		},
		{
			name:     "missing duration inferred from next start",
			elements: []timeline.RawElement{{Start: i64(0)}, timeline.Element(5, 2, 0)},
			want:     timeline.Timeline{{Start: 0, Duration: 5}, {Start: 5, Duration: 2}},
		},
		{
			name:     "unresolvable durations dropped",
			elements: []timeline.RawElement{timeline.Element(0, 2, 0), timeline.Element(2, 0, 3), {}},
			want:     timeline.Timeline{{Start: 0, Duration: 2}},
		},
		{
			name:     "empty",
			elements: nil,
			want:     timeline.Timeline{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, timeline.Construct(tt.elements))
		})
	}
}

// TestConstruct_Idempotent checks that parsing the same elements twice yields
// identical timelines.
func TestConstruct_Idempotent(t *testing.T) {
	elements := []timeline.RawElement{
		timeline.Element(0, 2, 4),
		{Duration: i64(3), RepeatCount: i64(-1)},
		timeline.Element(22, 2, -1),
	}
	first := timeline.Construct(elements)
	second := timeline.Construct(elements)
	assert.Equal(t, first, second)
	assert.Equal(t, timeline.Timeline{
		{Start: 0, Duration: 2, RepeatCount: 4},
		{Start: 10, Duration: 3, RepeatCount: 3},
		{Start: 22, Duration: 2, RepeatCount: timeline.OpenEnded},
	}, first)
}

func TestConstructCount(t *testing.T) {
	tl, dropped := timeline.ConstructCount([]timeline.RawElement{
		timeline.Element(0, 2, 1),
		{Start: i64(4)},
		{RepeatCount: i64(3)},
	})
	assert.Equal(t, 2, dropped)
	assert.Equal(t, timeline.Timeline{{Start: 0, Duration: 2, RepeatCount: 1}}, tl)
}
