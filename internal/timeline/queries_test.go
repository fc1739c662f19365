package timeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaindex/internal/models"
	"mediaindex/internal/timeline"
)

func TestLastRequestable(t *testing.T) {
	unit := timeline.Scale{Timescale: 1}
	tests := []struct {
		name      string
		tl        timeline.Timeline
		maxPos    float64
		periodEnd float64
		want      timeline.LastRequestableInfo
		ok        bool
	}{
		{
			name:   "everything requestable",
			tl:     timeline.Timeline{{Start: 0, Duration: 4, RepeatCount: 2}},
			maxPos: inf, periodEnd: inf,
			want: timeline.LastRequestableInfo{Index: 0, RepeatCount: 2, End: 12, IsLastOfTimeline: true},
			ok:   true,
		},
		{
			name:   "bounded inside a repeated entry",
			tl:     timeline.Timeline{{Start: 0, Duration: 4, RepeatCount: 2}},
			maxPos: 10, periodEnd: inf,
			want: timeline.LastRequestableInfo{Index: 0, RepeatCount: 1, End: 8},
			ok:   true,
		},
		{
			name:   "last entry not available yet",
			tl:     timeline.Timeline{{Start: 0, Duration: 2, RepeatCount: 1}, {Start: 10, Duration: 5}},
			maxPos: 12, periodEnd: inf,
			want: timeline.LastRequestableInfo{Index: 0, RepeatCount: 1, End: 4},
			ok:   true,
		},
		{
			name:   "nothing available",
			tl:     timeline.Timeline{{Start: 0, Duration: 4, RepeatCount: 2}},
			maxPos: 3, periodEnd: inf,
		},
		{
			name:   "open-ended entry bounded by the period end",
			tl:     timeline.Timeline{{Start: 0, Duration: 2, RepeatCount: timeline.OpenEnded}},
			maxPos: inf, periodEnd: 10,
			want: timeline.LastRequestableInfo{Index: 0, RepeatCount: 4, End: 10, IsLastOfTimeline: true},
			ok:   true,
		},
		{
			name:   "open-ended entry bounded by the live edge",
			tl:     timeline.Timeline{{Start: 0, Duration: 2, RepeatCount: timeline.OpenEnded}},
			maxPos: 7, periodEnd: inf,
			want: timeline.LastRequestableInfo{Index: 0, RepeatCount: 2, End: 6},
			ok:   true,
		},
		{
			name:   "empty",
			tl:     timeline.Timeline{},
			maxPos: inf, periodEnd: inf,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := timeline.LastRequestable(tt.tl, unit, tt.maxPos, tt.periodEnd)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFirstPosition(t *testing.T) {
	s := timeline.Scale{Timescale: 10, IndexTimeOffset: 20}
	_, ok := timeline.FirstPosition(timeline.Timeline{}, s, 0)
	assert.False(t, ok)

	pos, ok := timeline.FirstPosition(timeline.Timeline{{Start: 50, Duration: 10}}, s, 0)
	assert.True(t, ok)
	assert.Equal(t, 3.0, pos)

	pos, _ = timeline.FirstPosition(timeline.Timeline{{Start: 0, Duration: 10}}, s, 0)
	assert.Equal(t, 0.0, pos)
}

func TestIsSegmentStillAvailable(t *testing.T) {
	unit := timeline.Scale{Timescale: 1}
	tl := timeline.Timeline{{Start: 0, Duration: 4, RepeatCount: 2}}
	segs, err := timeline.Segments(tl, timeline.SegmentsContext{Scale: unit}, wholeWindow(0, 12))
	require.NoError(t, err)
	require.Len(t, segs, 3)

	last, ok := timeline.LastRequestable(tl, unit, inf, inf)
	require.True(t, ok)
	for _, s := range segs {
		assert.True(t, timeline.IsSegmentStillAvailable(tl, unit, s, last))
	}

	t.Run("not aligned on an occurrence", func(t *testing.T) {
		s := segs[0]
		s.Private.IndexTime = 2
		assert.False(t, timeline.IsSegmentStillAvailable(tl, unit, s, last))
	})

	t.Run("evicted", func(t *testing.T) {
		evicted, _ := timeline.ClearFromPosition(tl, 8)
		l, _ := timeline.LastRequestable(evicted, unit, inf, inf)
		assert.False(t, timeline.IsSegmentStillAvailable(evicted, unit, segs[1], l))
		assert.True(t, timeline.IsSegmentStillAvailable(evicted, unit, segs[2], l))
	})

	t.Run("not requestable anymore", func(t *testing.T) {
		l, _ := timeline.LastRequestable(tl, unit, 8, inf)
		assert.False(t, timeline.IsSegmentStillAvailable(tl, unit, segs[2], l))
	})

	t.Run("duration changed", func(t *testing.T) {
		changed := timeline.Timeline{{Start: 0, Duration: 2, RepeatCount: 5}}
		l, _ := timeline.LastRequestable(changed, unit, inf, inf)
		assert.False(t, timeline.IsSegmentStillAvailable(changed, unit, segs[1], l))
	})

	t.Run("byte range", func(t *testing.T) {
		ranged := timeline.Timeline{{Start: 0, Duration: 4, Range: &models.ByteRange{Start: 0, End: 99}}}
		l, _ := timeline.LastRequestable(ranged, unit, inf, inf)
		s := segs[0]
		s.Range = &models.ByteRange{Start: 0, End: 99}
		assert.True(t, timeline.IsSegmentStillAvailable(ranged, unit, s, l))
		s.Range = &models.ByteRange{Start: 0, End: 50}
		assert.False(t, timeline.IsSegmentStillAvailable(ranged, unit, s, l))
	})

	t.Run("segment from another timescale", func(t *testing.T) {
		s := models.Segment{Time: 4, Duration: 4}
		assert.True(t, timeline.IsSegmentStillAvailable(tl, unit, s, last))
		s.Time = 5
		assert.False(t, timeline.IsSegmentStillAvailable(tl, unit, s, last))
	})
}

func TestCheckDiscontinuity(t *testing.T) {
	unit := timeline.Scale{Timescale: 1}
	holed := timeline.Timeline{{Start: 0, Duration: 2, RepeatCount: 1}, {Start: 10, Duration: 2}}
	contiguous := timeline.Timeline{{Start: 0, Duration: 2, RepeatCount: 1}, {Start: 4, Duration: 2}}

	tests := []struct {
		name string
		tl   timeline.Timeline
		at   float64
		want float64
		ok   bool
	}{
		{"inside the hole", holed, 5, 10, true},
		{"right at the end of the entry", holed, 4, 10, true},
		{"within rounding of the end", holed, 3.9995, 10, true},
		{"inside a segment", holed, 3, 0, false},
		{"in the last entry", holed, 11, 0, false},
		{"before the first segment", timeline.Timeline{{Start: 5, Duration: 2}}, 1, 0, false},
		{"no hole", contiguous, 3.9995, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := timeline.CheckDiscontinuity(tt.tl, unit, tt.at, inf, 0.001)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCovers(t *testing.T) {
	tl := timeline.Timeline{{Start: 0, Duration: 2, RepeatCount: 1}, {Start: 10, Duration: 2}}
	assert.True(t, timeline.Covers(tl, 1, 3, inf))
	assert.False(t, timeline.Covers(tl, 5, 9, inf))
	assert.True(t, timeline.Covers(tl, 5, 11, inf))
	assert.False(t, timeline.Covers(tl, 12, 20, inf))
}
