package index

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaindex/internal/models"
)

func newListIndex(t *testing.T, period PeriodInfo) *ListIndex {
	t.Helper()
	x, err := NewListIndex(ListConfig{
		Timescale:        10,
		Duration:         20,
		RepresentationID: "a",
		Bandwidth:        5000,
		Init:             &InitInfo{URL: "a/init.mp4"},
		Items: []ListItem{
			{Media: "$RepresentationID$/0.mp4"},
			{Media: "$RepresentationID$/1.mp4", MediaRange: &models.ByteRange{Start: 10, End: 19}},
			{Media: "$Bandwidth$/2.mp4"},
		},
	}, Context{Period: period})
	require.NoError(t, err)
	return x
}

func TestNewListIndex_Errors(t *testing.T) {
	_, err := NewListIndex(ListConfig{Timescale: 10}, Context{})
	assert.ErrorIs(t, err, ErrMissingDuration)

	_, err = NewListIndex(ListConfig{Duration: 10}, Context{})
	assert.ErrorIs(t, err, ErrInvalidTimescale)
}

func TestListIndex_Segments(t *testing.T) {
	x := newListIndex(t, PeriodInfo{Start: 10, IsLast: true})

	segs := allSegments(t, x)
	require.Len(t, segs, 3)
	assert.Equal(t, []float64{10, 12, 14}, segmentTimes(segs))
	assert.Equal(t, "a/0.mp4", segs[0].URL)
	assert.Equal(t, "5000/2.mp4", segs[2].URL)
	assert.Equal(t, "1", segs[1].ID)
	assert.Equal(t, &models.ByteRange{Start: 10, End: 19}, segs[1].Range)
	assert.Equal(t, 2.0, segs[1].Duration)
	assert.Equal(t, 14.0, segs[1].End)

	segs, err := x.Segments(13, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{12}, segmentTimes(segs))

	segs, err = x.Segments(20, 5)
	require.NoError(t, err)
	assert.Empty(t, segs)

	_, err = x.Segments(math.NaN(), 1)
	assert.Error(t, err)
	_, err = x.Segments(0, -1)
	assert.Error(t, err)
}

func TestListIndex_Positions(t *testing.T) {
	x := newListIndex(t, PeriodInfo{Start: 10, IsLast: true})
	first, ok := x.FirstAvailablePosition()
	assert.True(t, ok)
	assert.Equal(t, 10.0, first)
	last, ok := x.LastAvailablePosition()
	assert.True(t, ok)
	assert.Equal(t, 16.0, last)

	x = newListIndex(t, PeriodInfo{Start: 10, End: f64(15), IsLast: true})
	end, ok := x.End()
	assert.True(t, ok)
	assert.Equal(t, 15.0, end)
}

func TestListIndex_Static(t *testing.T) {
	x := newListIndex(t, PeriodInfo{IsLast: true})

	init, ok := x.InitSegment()
	require.True(t, ok)
	assert.Equal(t, "a/init.mp4", init.URL)

	assert.True(t, x.IsInitialized())
	assert.False(t, x.ShouldRefresh(0, 100))
	assert.False(t, x.IsStillAwaitingFutureSegments())
	assert.Equal(t, False, x.AwaitSegmentBetween(0, 100))
	assert.Equal(t, True, x.IsSegmentStillAvailable(models.Segment{}))
	assert.False(t, x.CanBeOutOfSyncError(statusError(404)))
	_, ok = x.CheckDiscontinuity(1)
	assert.False(t, ok)

	newer := newListIndex(t, PeriodInfo{Start: 20, IsLast: true})
	require.NoError(t, x.Replace(newer))
	first, _ := x.FirstAvailablePosition()
	assert.Equal(t, 20.0, first)
	assert.NoError(t, x.Update(newer))
}
