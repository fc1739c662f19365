package index

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"mediaindex/internal/models"
	"mediaindex/internal/template"
	"mediaindex/internal/timeline"
)

// BaseConfig describes a SegmentBase: a single media resource whose
// segments are listed by an index segment at IndexRange.
type BaseConfig struct {
	Timescale              int64
	PresentationTimeOffset int64
	// Media is the URL of the media resource.
	Media            string
	RepresentationID string
	Bandwidth        uint64
	Init             *InitInfo
	IndexRange       *models.ByteRange
	// Timeline, when already known, makes the index initialized from the
	// start.
	Timeline timeline.Timeline
}

type baseState struct {
	ctx         Context
	scale       timeline.Scale
	tl          timeline.Timeline
	initialized bool
	url         *template.Builder
	init        *InitInfo
	indexRange  *models.ByteRange
}

// BaseIndex is the RepresentationIndex of a SegmentBase. It knows nothing
// until Initialize is given the content of the index segment, and never
// changes afterwards.
type BaseIndex struct {
	mu    sync.Mutex
	state atomic.Pointer[baseState]
}

var _ RepresentationIndex = (*BaseIndex)(nil)

// NewBaseIndex creates a BaseIndex.
func NewBaseIndex(cfg BaseConfig, ctx Context) (*BaseIndex, error) {
	if cfg.Timescale <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTimescale, cfg.Timescale)
	}
	ctx = ctx.withDefaults()
	st := &baseState{
		ctx: ctx,
		scale: timeline.Scale{
			Timescale:       cfg.Timescale,
			IndexTimeOffset: cfg.PresentationTimeOffset - int64(math.Round(ctx.Period.Start*float64(cfg.Timescale))),
		},
		tl:          cfg.Timeline.Clone(),
		initialized: len(cfg.Timeline) > 0,
		url:         template.NewBuilder(cfg.Media, cfg.RepresentationID, cfg.Bandwidth),
		init:        cfg.Init,
		indexRange:  cfg.IndexRange,
	}
	x := &BaseIndex{}
	x.state.Store(st)
	return x, nil
}

// IndexRange returns the byte range of the index segment to fetch.
func (x *BaseIndex) IndexRange() (models.ByteRange, bool) {
	st := x.state.Load()
	if st.indexRange == nil {
		return models.ByteRange{}, false
	}
	return *st.indexRange, true
}

// MediaURL returns the URL of the media resource holding the index segment.
func (x *BaseIndex) MediaURL() string {
	st := x.state.Load()
	if st.url == nil {
		return ""
	}
	u, _ := st.url.Build(0, nil)
	return u
}

// InitSegment implements RepresentationIndex.
func (x *BaseIndex) InitSegment() (models.Segment, bool) {
	st := x.state.Load()
	seg, ok := initSegment(st.init, st.indexRange, -float64(st.scale.IndexTimeOffset)/float64(st.scale.Timescale))
	if ok && seg.URL == "" && st.url != nil {
		// Initialization data lives in the media resource.
		seg.URL, _ = st.url.Build(0, nil)
	}
	return seg, ok
}

// Segments implements RepresentationIndex.
func (x *BaseIndex) Segments(from, duration float64) ([]models.Segment, error) {
	st := x.state.Load()
	c := timeline.SegmentsContext{Scale: st.scale}
	if st.url != nil {
		c.URL = st.url.Build
	}
	return timeline.Segments(st.tl, c, timeline.SegmentsRequest{
		From:            from,
		Duration:        duration,
		MaximumPosition: math.Inf(1),
		PeriodEnd:       st.ctx.Period.endOrInf(),
	})
}

// ShouldRefresh implements RepresentationIndex.
func (x *BaseIndex) ShouldRefresh(float64, float64) bool {
	return false
}

// FirstAvailablePosition implements RepresentationIndex.
func (x *BaseIndex) FirstAvailablePosition() (float64, bool) {
	st := x.state.Load()
	return timeline.FirstPosition(st.tl, st.scale, st.ctx.Period.Start)
}

// LastAvailablePosition implements RepresentationIndex.
func (x *BaseIndex) LastAvailablePosition() (float64, bool) {
	st := x.state.Load()
	periodEnd := st.ctx.Period.endOrInf()
	end, ok := st.tl.End(st.scale.ToIndexTime(periodEnd))
	if !ok {
		return 0, false
	}
	return math.Min(st.scale.FromIndexTime(end), periodEnd), true
}

// End implements RepresentationIndex.
func (x *BaseIndex) End() (float64, bool) {
	return x.LastAvailablePosition()
}

// AwaitSegmentBetween implements RepresentationIndex.
func (x *BaseIndex) AwaitSegmentBetween(float64, float64) Tristate {
	return False
}

// IsSegmentStillAvailable implements RepresentationIndex.
func (x *BaseIndex) IsSegmentStillAvailable(seg models.Segment) Tristate {
	if seg.IsInit {
		return True
	}
	st := x.state.Load()
	if !st.initialized {
		return Unknown
	}
	last, ok := timeline.LastRequestable(st.tl, st.scale, math.Inf(1), st.ctx.Period.endOrInf())
	if !ok {
		return False
	}
	return TristateOf(timeline.IsSegmentStillAvailable(st.tl, st.scale, seg, last))
}

// CheckDiscontinuity implements RepresentationIndex.
func (x *BaseIndex) CheckDiscontinuity(float64) (float64, bool) {
	return 0, false
}

// CanBeOutOfSyncError implements RepresentationIndex.
func (x *BaseIndex) CanBeOutOfSyncError(error) bool {
	return false
}

// IsStillAwaitingFutureSegments implements RepresentationIndex.
func (x *BaseIndex) IsStillAwaitingFutureSegments() bool {
	return false
}

// IsInitialized implements RepresentationIndex.
func (x *BaseIndex) IsInitialized() bool {
	return x.state.Load().initialized
}

// Initialize implements RepresentationIndex. Only the first call has an
// effect.
func (x *BaseIndex) Initialize(segs []BaseSegment) {
	x.mu.Lock()
	defer x.mu.Unlock()
	st := x.state.Load()
	if st.initialized {
		st.ctx.Logger.Warnf("base index: already initialized, ignoring %d segments", len(segs))
		return
	}

	next := *st
	next.tl = make(timeline.Timeline, 0, len(st.tl)+len(segs))
	next.tl = append(next.tl, st.tl...)
	for _, s := range segs {
		r := s.Range
		next.tl = append(next.tl, timeline.IndexSegment{
			Start:    rescale(s.Time, s.Timescale, st.scale.Timescale),
			Duration: rescale(s.Duration, s.Timescale, st.scale.Timescale),
			Range:    &r,
		})
	}
	next.initialized = true
	x.state.Store(&next)
}

// AddPredictedSegments implements RepresentationIndex. The index segment
// already lists every segment.
func (x *BaseIndex) AddPredictedSegments([]PredictedSegment, models.Segment) {
	x.state.Load().ctx.Logger.Warnf("base index: cannot add predicted segments")
}

// Replace implements RepresentationIndex.
func (x *BaseIndex) Replace(newer RepresentationIndex) error {
	n, ok := newer.(*BaseIndex)
	if !ok {
		return fmt.Errorf("%w: %T into *BaseIndex", ErrIndexMismatch, newer)
	}
	st := n.state.Load()
	x.mu.Lock()
	defer x.mu.Unlock()
	x.state.Store(st)
	return nil
}

// Update implements RepresentationIndex. A SegmentBase never changes.
func (x *BaseIndex) Update(RepresentationIndex) error {
	x.state.Load().ctx.Logger.Warnf("base index: cannot be updated, ignoring")
	return nil
}
