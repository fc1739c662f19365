package index

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaindex/internal/logger"
	"mediaindex/internal/models"
	"mediaindex/internal/timeline"
)

func newBaseIndex(t *testing.T, ctx Context) *BaseIndex {
	t.Helper()
	x, err := NewBaseIndex(BaseConfig{
		Timescale:        1000,
		Media:            "$RepresentationID$.mp4",
		RepresentationID: "audio",
		IndexRange:       &models.ByteRange{Start: 800, End: 1999},
	}, ctx)
	require.NoError(t, err)
	return x
}

var sidxSegments = []BaseSegment{
	{Time: 0, Duration: 90000, Timescale: 90000, Range: models.ByteRange{Start: 2000, End: 2999}},
	{Time: 90000, Duration: 90000, Timescale: 90000, Range: models.ByteRange{Start: 3000, End: 4999}},
}

func TestBaseIndex_BeforeInitialization(t *testing.T) {
	x := newBaseIndex(t, staticContext())

	assert.False(t, x.IsInitialized())
	assert.Empty(t, allSegments(t, x))
	_, ok := x.LastAvailablePosition()
	assert.False(t, ok)
	assert.Equal(t, Unknown, x.IsSegmentStillAvailable(models.Segment{Time: 0, Duration: 1}))

	r, ok := x.IndexRange()
	require.True(t, ok)
	assert.Equal(t, models.ByteRange{Start: 800, End: 1999}, r)

	init, ok := x.InitSegment()
	require.True(t, ok)
	assert.Equal(t, "audio.mp4", init.URL)
	assert.Equal(t, &models.ByteRange{Start: 0, End: 799}, init.Range)
	assert.Equal(t, &models.ByteRange{Start: 800, End: 1999}, init.IndexRange)
}

func TestBaseIndex_Initialize(t *testing.T) {
	var buf bytes.Buffer
	ctx := staticContext()
	ctx.Logger = logger.NewWithWriter("debug", "text", &buf)
	x := newBaseIndex(t, ctx)

	x.Initialize(sidxSegments)
	require.True(t, x.IsInitialized())

	segs := allSegments(t, x)
	require.Len(t, segs, 2)
	assert.Equal(t, []float64{0, 1}, segmentTimes(segs))
	assert.Equal(t, "audio.mp4", segs[1].URL)
	assert.Equal(t, &models.ByteRange{Start: 3000, End: 4999}, segs[1].Range)
	assert.Nil(t, segs[1].Number)
	assert.Equal(t, int64(1000), segs[1].Private.IndexTime)

	end, ok := x.End()
	assert.True(t, ok)
	assert.Equal(t, 2.0, end)

	assert.Equal(t, True, x.IsSegmentStillAvailable(segs[1]))
	moved := segs[1]
	moved.Range = &models.ByteRange{Start: 3000, End: 3999}
	assert.Equal(t, False, x.IsSegmentStillAvailable(moved))

	x.Initialize(sidxSegments[:1])
	assert.Len(t, allSegments(t, x), 2)
	assert.Contains(t, buf.String(), "already initialized")

	assert.Equal(t, False, x.AwaitSegmentBetween(2, 4))
	assert.False(t, x.ShouldRefresh(0, 10))
	assert.False(t, x.CanBeOutOfSyncError(statusError(404)))
}

func TestBaseIndex_KnownTimeline(t *testing.T) {
	x, err := NewBaseIndex(BaseConfig{
		Timescale: 1,
		Media:     "media.mp4",
		Timeline:  timeline.Timeline{{Start: 0, Duration: 4, RepeatCount: 1}},
	}, Context{Period: PeriodInfo{IsLast: true, End: f64(6)}})
	require.NoError(t, err)

	assert.True(t, x.IsInitialized())
	last, ok := x.LastAvailablePosition()
	assert.True(t, ok)
	assert.Equal(t, 6.0, last)
	_, ok = x.InitSegment()
	assert.False(t, ok)
}

func TestBaseIndex_ReplaceAndUpdate(t *testing.T) {
	var buf bytes.Buffer
	ctx := staticContext()
	ctx.Logger = logger.NewWithWriter("debug", "text", &buf)
	x := newBaseIndex(t, ctx)
	newer := newBaseIndex(t, ctx)
	newer.Initialize(sidxSegments)

	require.NoError(t, x.Update(newer))
	assert.False(t, x.IsInitialized())
	assert.Contains(t, buf.String(), "cannot be updated")

	require.NoError(t, x.Replace(newer))
	assert.True(t, x.IsInitialized())
	assert.Len(t, allSegments(t, x), 2)
}
