package index

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaindex/internal/metrics"
	"mediaindex/internal/models"
	"mediaindex/internal/timeline"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

const smoothMedia = "QualityLevels({bitrate})/Fragments(video={start time})"

func newShared(t *testing.T, tl timeline.Timeline, clock *testClock, m *metrics.Metrics, tsbd *float64) *SharedTimeline {
	t.Helper()
	s, err := NewSharedTimeline(SharedTimelineConfig{
		Timeline:             tl,
		Timescale:            10,
		TimeShiftBufferDepth: tsbd,
		Clock:                clock.Now,
		Metrics:              m,
	})
	require.NoError(t, err)
	return s
}

func newSmoothIndex(t *testing.T, shared *SharedTimeline, live bool, m *metrics.Metrics) *SmoothIndex {
	t.Helper()
	x, err := NewSmoothIndex(SmoothConfig{
		Shared:           shared,
		Live:             live,
		Media:            smoothMedia,
		RepresentationID: "video_800",
		Bandwidth:        800000,
		Init:             models.SmoothInitInfo{Codecs: "avc1.4d401f", Width: 1280, Height: 720},
		Metrics:          m,
	})
	require.NoError(t, err)
	return x
}

// tenSeconds is five 2 second segments at timescale 10.
var tenSeconds = timeline.Timeline{{Start: 0, Duration: 20, RepeatCount: 4}}

func TestNewSharedTimeline_InvalidTimescale(t *testing.T) {
	_, err := NewSharedTimeline(SharedTimelineConfig{})
	assert.ErrorIs(t, err, ErrInvalidTimescale)

	_, err = NewSmoothIndex(SmoothConfig{})
	assert.Error(t, err)
}

func TestSmoothIndex_OnDemand(t *testing.T) {
	clock := &testClock{now: time.Unix(1000, 0)}
	x := newSmoothIndex(t, newShared(t, tenSeconds, clock, nil, nil), false, nil)

	segs := allSegments(t, x)
	require.Len(t, segs, 5)
	assert.Equal(t, "QualityLevels(800000)/Fragments(video=0)", segs[0].URL)
	assert.Equal(t, "QualityLevels(800000)/Fragments(video=20)", segs[1].URL)
	assert.Nil(t, segs[1].Number)

	init, ok := x.InitSegment()
	require.True(t, ok)
	assert.True(t, init.IsInit)
	require.NotNil(t, init.Private.SmoothInit)
	assert.Equal(t, "avc1.4d401f", init.Private.SmoothInit.Codecs)
	assert.Equal(t, int64(10), init.Private.Timescale)

	end, ok := x.End()
	assert.True(t, ok)
	assert.Equal(t, 10.0, end)
	assert.False(t, x.ShouldRefresh(9, 12))
	assert.Equal(t, False, x.AwaitSegmentBetween(12, 14))
	assert.False(t, x.IsStillAwaitingFutureSegments())
	assert.False(t, x.CanBeOutOfSyncError(statusError(412)))
	assert.True(t, x.IsInitialized())
}

func TestSmoothIndex_Live(t *testing.T) {
	clock := &testClock{now: time.Unix(1000, 0)}
	m := metrics.New()
	shared := newShared(t, tenSeconds, clock, m, nil)
	x := newSmoothIndex(t, shared, true, m)

	last, ok := x.LastAvailablePosition()
	assert.True(t, ok)
	assert.Equal(t, 10.0, last)
	_, ok = x.End()
	assert.False(t, ok)
	assert.True(t, x.IsStillAwaitingFutureSegments())

	assert.True(t, x.CanBeOutOfSyncError(statusError(412)))
	assert.True(t, x.CanBeOutOfSyncError(statusError(404)))
	assert.False(t, x.CanBeOutOfSyncError(statusError(500)))
	assert.Equal(t, 2.0, counter(t, m, "segindex_out_of_sync_errors_total"))

	tests := []struct {
		from, to float64
		want     bool
	}{
		{2, 4, false},
		{7, 11, false},
		{8.5, 11, true},
		{11, 12, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, x.ShouldRefresh(tt.from, tt.to), "ShouldRefresh(%v, %v)", tt.from, tt.to)
	}

	assert.Equal(t, False, x.AwaitSegmentBetween(4, 6))
	assert.Equal(t, Unknown, x.AwaitSegmentBetween(12, 14))
}

func TestSmoothIndex_AddPredictedSegments(t *testing.T) {
	clock := &testClock{now: time.Unix(1000, 0)}
	m := metrics.New()
	shared := newShared(t, tenSeconds, clock, m, nil)
	x := newSmoothIndex(t, shared, true, m)
	segs := allSegments(t, x)
	require.Len(t, segs, 5)

	next := []PredictedSegment{{Time: 100, Duration: 20, Timescale: 10}}
	assert.Zero(t, shared.AddPredicted(next, segs[2]), "not the last segment")
	assert.Zero(t, shared.AddPredicted(next, models.Segment{IsInit: true}))

	x.AddPredictedSegments(next, segs[4])
	assert.Equal(t, timeline.Timeline{{Start: 0, Duration: 20, RepeatCount: 5}}, shared.Timeline())
	assert.Equal(t, 1.0, counter(t, m, "segindex_timeline_predicted_segments_total"))

	// Known but not yet reachable from the live position.
	assert.Len(t, allSegments(t, x), 5)
	assert.Equal(t, True, x.AwaitSegmentBetween(10.5, 11.5))

	clock.Advance(2 * time.Second)
	assert.Len(t, allSegments(t, x), 6)

	t.Run("announcement in another timescale", func(t *testing.T) {
		segs := allSegments(t, x)
		added := shared.AddPredicted([]PredictedSegment{{Time: 120_000_000, Duration: 20_000_000, Timescale: 10_000_000}}, segs[5])
		assert.Equal(t, 1, added)
		end, _ := shared.Timeline().End(0)
		assert.Equal(t, int64(140), end)
	})
}

func TestSmoothIndex_UpdateIsAppliedOnce(t *testing.T) {
	clock := &testClock{now: time.Unix(1000, 0)}
	m := metrics.New()
	shared := newShared(t, tenSeconds, clock, m, nil)
	video := newSmoothIndex(t, shared, true, m)
	audio := newSmoothIndex(t, shared, true, m)

	refreshed := newShared(t, timeline.Timeline{{Start: 60, Duration: 20, RepeatCount: 6}}, clock, nil, nil)
	require.NoError(t, video.Update(newSmoothIndex(t, refreshed, true, nil)))
	require.NoError(t, audio.Update(newSmoothIndex(t, refreshed, false, nil)))

	assert.Equal(t, timeline.Timeline{{Start: 0, Duration: 20, RepeatCount: 9}}, shared.Timeline())
	assert.Equal(t, 1.0, counter(t, m, "segindex_timeline_updates_total"))
	assert.False(t, audio.IsStillAwaitingFutureSegments())

	gap := newShared(t, timeline.Timeline{{Start: 1000, Duration: 20}}, clock, nil, nil)
	err := video.Update(newSmoothIndex(t, gap, true, nil))
	assert.ErrorIs(t, err, timeline.ErrUpdateGap)
	assert.Equal(t, 1.0, counter(t, m, "segindex_timeline_update_errors_total"))

	list, err := NewListIndex(ListConfig{Timescale: 1, Duration: 2}, Context{})
	require.NoError(t, err)
	assert.ErrorIs(t, video.Update(list), ErrIndexMismatch)
	assert.ErrorIs(t, video.Replace(list), ErrIndexMismatch)
}

func TestSmoothIndex_ReplaceKeepsPredictedTail(t *testing.T) {
	clock := &testClock{now: time.Unix(1000, 0)}
	shared := newShared(t, tenSeconds, clock, nil, nil)
	x := newSmoothIndex(t, shared, true, nil)
	segs := allSegments(t, x)
	x.AddPredictedSegments([]PredictedSegment{{Time: 100, Duration: 20}}, segs[4])

	reloaded := newShared(t, tenSeconds, clock, nil, nil)
	require.NoError(t, x.Replace(newSmoothIndex(t, reloaded, true, nil)))
	assert.Equal(t, timeline.Timeline{{Start: 0, Duration: 20, RepeatCount: 5}}, shared.Timeline())
}

func TestSharedTimeline_Eviction(t *testing.T) {
	clock := &testClock{now: time.Unix(1000, 0)}
	m := metrics.New()
	shared := newShared(t, tenSeconds, clock, m, f64(4))
	x := newSmoothIndex(t, shared, true, m)

	first, ok := x.FirstAvailablePosition()
	assert.True(t, ok)
	assert.Equal(t, 6.0, first)
	assert.Equal(t, timeline.Timeline{{Start: 60, Duration: 20, RepeatCount: 1}}, shared.Timeline())
	assert.Equal(t, 3.0, counter(t, m, "segindex_timeline_evicted_segments_total"))

	clock.Advance(2 * time.Second)
	shared.Refresh()
	assert.Equal(t, timeline.Timeline{{Start: 80, Duration: 20}}, shared.Timeline())
	assert.Equal(t, 4.0, counter(t, m, "segindex_timeline_evicted_segments_total"))
}

// TestSharedTimeline_ConcurrentReadersAndWriter runs the queries of two
// quality levels while the shared timeline learns predicted segments and
// merges refreshed manifests.
func TestSharedTimeline_ConcurrentReadersAndWriter(t *testing.T) {
	clock := &testClock{now: time.Unix(1000, 0)}
	shared := newShared(t, tenSeconds, clock, nil, nil)
	levels := []*SmoothIndex{
		newSmoothIndex(t, shared, true, nil),
		newSmoothIndex(t, shared, true, nil),
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	for _, x := range levels {
		wg.Add(1)
		go func(x *SmoothIndex) {
			defer wg.Done()
			seen := 0
			for {
				select {
				case <-done:
					return
				default:
				}
				segs, err := x.Segments(0, 1000)
				if !assert.NoError(t, err) {
					return
				}
				assert.GreaterOrEqual(t, len(segs), seen, "segments are never lost")
				seen = len(segs)
				for i := 1; i < len(segs); i++ {
					assert.Equal(t, segs[i-1].End, segs[i].Time)
				}
				_, ok := x.LastAvailablePosition()
				assert.True(t, ok)
				x.AwaitSegmentBetween(0, 200)
			}
		}(x)
	}

	for i := int64(1); i <= 50; i++ {
		current := models.Segment{Private: models.PrivateInfo{IndexTime: 20 * (3 + i), Timescale: 10}}
		added := shared.AddPredicted([]PredictedSegment{{Time: 20 * (4 + i), Duration: 20}}, current)
		require.Equal(t, 1, added)
		if i%5 == 0 {
			refreshed := newShared(t, timeline.Timeline{{Start: 0, Duration: 20, RepeatCount: 4 + i}}, clock, nil, nil)
			require.NoError(t, shared.Update(refreshed))
		}
	}
	close(done)
	wg.Wait()

	assert.Equal(t, timeline.Timeline{{Start: 0, Duration: 20, RepeatCount: 54}}, shared.Timeline())
}

func TestRescale(t *testing.T) {
	assert.Equal(t, int64(1000), rescale(90000, 90000, 1000))
	assert.Equal(t, int64(7), rescale(7, 0, 1000))
	assert.Equal(t, int64(7), rescale(7, 10, 10))
}
