package timeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mediaindex/internal/timeline"
)

func TestClearFromPosition(t *testing.T) {
	tests := []struct {
		name    string
		tl      timeline.Timeline
		pos     float64
		want    timeline.Timeline
		removed int64
	}{
		{
			name:    "partially consumed entry",
			tl:      timeline.Timeline{{Start: 0, Duration: 4, RepeatCount: 4}},
			pos:     8,
			want:    timeline.Timeline{{Start: 8, Duration: 4, RepeatCount: 2}},
			removed: 2,
		},
		{
			name:    "position inside an occurrence",
			tl:      timeline.Timeline{{Start: 0, Duration: 4, RepeatCount: 4}},
			pos:     9,
			want:    timeline.Timeline{{Start: 8, Duration: 4, RepeatCount: 2}},
			removed: 2,
		},
		{
			name:    "whole entries",
			tl:      timeline.Timeline{{Start: 0, Duration: 2, RepeatCount: 1}, {Start: 4, Duration: 4, RepeatCount: 1}},
			pos:     6,
			want:    timeline.Timeline{{Start: 4, Duration: 4, RepeatCount: 1}},
			removed: 2,
		},
		{
			name:    "everything",
			tl:      timeline.Timeline{{Start: 0, Duration: 4, RepeatCount: 1}},
			pos:     8,
			want:    timeline.Timeline{},
			removed: 2,
		},
		{
			name:    "open-ended entry",
			tl:      timeline.Timeline{{Start: 0, Duration: 4, RepeatCount: timeline.OpenEnded}},
			pos:     9,
			want:    timeline.Timeline{{Start: 8, Duration: 4, RepeatCount: timeline.OpenEnded}},
			removed: 2,
		},
		{
			name:    "nothing to clear",
			tl:      timeline.Timeline{{Start: 10, Duration: 4}},
			pos:     8,
			want:    timeline.Timeline{{Start: 10, Duration: 4}},
			removed: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.tl.Clone()
			got, removed := timeline.ClearFromPosition(tt.tl, tt.pos)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.removed, removed)
			assert.Equal(t, before, tt.tl, "input must not be modified")
		})
	}
}

func TestDropHead(t *testing.T) {
	tl := timeline.Timeline{
		{Start: 0, Duration: 2, RepeatCount: 2},
		{Start: 6, Duration: 3, RepeatCount: timeline.OpenEnded},
	}
	tests := []struct {
		name string
		n    int64
		want timeline.Timeline
	}{
		{name: "nothing", n: 0, want: tl},
		{name: "inside the first entry", n: 2, want: timeline.Timeline{
			{Start: 4, Duration: 2},
			{Start: 6, Duration: 3, RepeatCount: timeline.OpenEnded},
		}},
		{name: "whole first entry", n: 3, want: timeline.Timeline{
			{Start: 6, Duration: 3, RepeatCount: timeline.OpenEnded},
		}},
		{name: "inside the open-ended tail", n: 5, want: timeline.Timeline{
			{Start: 12, Duration: 3, RepeatCount: timeline.OpenEnded},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, timeline.DropHead(tl, tt.n))
		})
	}

	assert.Empty(t, timeline.DropHead(timeline.Timeline{{Start: 0, Duration: 2, RepeatCount: 1}}, 3))
}
