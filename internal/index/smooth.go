package index

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"mediaindex/internal/logger"
	"mediaindex/internal/metrics"
	"mediaindex/internal/models"
	"mediaindex/internal/template"
	"mediaindex/internal/timeline"
)

// SmoothConfig describes one QualityLevel of a Smooth StreamIndex.
type SmoothConfig struct {
	Shared *SharedTimeline
	Live   bool
	// Media is the fragment URL template, with {bitrate} and {start time}
	// tokens.
	Media            string
	RepresentationID string
	Bandwidth        uint64
	Init             models.SmoothInitInfo
	RoundingError    float64
	Logger           logger.Logger
	Metrics          *metrics.Metrics
}

type smoothState struct {
	live     bool
	url      *template.Builder
	init     models.SmoothInitInfo
	rounding float64
}

// SmoothIndex is the RepresentationIndex of a Smooth QualityLevel. It reads
// the timeline shared with the other QualityLevels of its StreamIndex and
// only adds its own URL scheme.
type SmoothIndex struct {
	shared  *SharedTimeline
	log     logger.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	state atomic.Pointer[smoothState]
}

var _ RepresentationIndex = (*SmoothIndex)(nil)

// NewSmoothIndex creates a SmoothIndex over cfg.Shared.
func NewSmoothIndex(cfg SmoothConfig) (*SmoothIndex, error) {
	if cfg.Shared == nil {
		return nil, fmt.Errorf("smooth index %q: no shared timeline", cfg.RepresentationID)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.RoundingError <= 0 {
		cfg.RoundingError = DefaultRoundingError
	}
	x := &SmoothIndex{shared: cfg.Shared, log: cfg.Logger, metrics: cfg.Metrics}
	x.state.Store(&smoothState{
		live:     cfg.Live,
		url:      template.NewBuilder(cfg.Media, cfg.RepresentationID, cfg.Bandwidth),
		init:     cfg.Init,
		rounding: cfg.RoundingError,
	})
	return x, nil
}

func (x *SmoothIndex) scale() timeline.Scale {
	return x.shared.scale()
}

func (x *SmoothIndex) maximumPosition(st *smoothState) float64 {
	if !st.live {
		return math.Inf(1)
	}
	return x.shared.maximumPosition()
}

// InitSegment implements RepresentationIndex. Smooth has no initialization
// segment on the server: it has to be generated from the private data.
func (x *SmoothIndex) InitSegment() (models.Segment, bool) {
	info := x.state.Load().init
	return models.Segment{
		ID:       "init",
		IsInit:   true,
		Complete: true,
		Private:  models.PrivateInfo{Timescale: x.shared.Timescale(), SmoothInit: &info},
	}, true
}

// Segments implements RepresentationIndex.
func (x *SmoothIndex) Segments(from, duration float64) ([]models.Segment, error) {
	st := x.state.Load()
	tl := x.shared.Timeline()
	c := timeline.SegmentsContext{Scale: x.scale()}
	if st.url != nil {
		c.URL = st.url.Build
	}
	return timeline.Segments(tl, c, timeline.SegmentsRequest{
		From:            from,
		Duration:        duration,
		MaximumPosition: x.maximumPosition(st),
		PeriodEnd:       math.Inf(1),
	})
}

// ShouldRefresh implements RepresentationIndex: on live content, the
// manifest has to be fetched again once the wanted range reaches the last
// known segment.
func (x *SmoothIndex) ShouldRefresh(from, to float64) bool {
	if !x.state.Load().live {
		return false
	}
	tl := x.shared.Timeline()
	if len(tl) == 0 {
		return false
	}
	ts := float64(x.shared.Timescale())
	last := tl[len(tl)-1]
	repeat := timeline.ResolveRepeat(last, nil, math.Inf(1))
	end := float64(last.Start + (repeat+1)*last.Duration)
	switch {
	case to*ts < end:
		return false
	case from*ts >= end:
		return true
	default:
		return from*ts > float64(last.Start+repeat*last.Duration)
	}
}

// FirstAvailablePosition implements RepresentationIndex.
func (x *SmoothIndex) FirstAvailablePosition() (float64, bool) {
	return timeline.FirstPosition(x.shared.Timeline(), x.scale(), 0)
}

// LastAvailablePosition implements RepresentationIndex.
func (x *SmoothIndex) LastAvailablePosition() (float64, bool) {
	st := x.state.Load()
	info, ok := timeline.LastRequestable(x.shared.Timeline(), x.scale(), x.maximumPosition(st), math.Inf(1))
	if !ok {
		return 0, false
	}
	return x.scale().FromIndexTime(info.End), true
}

// End implements RepresentationIndex. The end of a live stream is unknown.
func (x *SmoothIndex) End() (float64, bool) {
	if x.state.Load().live {
		return 0, false
	}
	return x.LastAvailablePosition()
}

// AwaitSegmentBetween implements RepresentationIndex.
func (x *SmoothIndex) AwaitSegmentBetween(start, end float64) Tristate {
	if !x.state.Load().live {
		return False
	}
	last, ok := x.LastAvailablePosition()
	if ok && end <= last {
		return False
	}
	s := x.scale()
	if timeline.Covers(x.shared.Timeline(), s.ToIndexTime(math.Max(start, last)), s.ToIndexTime(end), math.Inf(1)) {
		return True
	}
	first, _ := x.FirstAvailablePosition()
	if end > first {
		return Unknown
	}
	return False
}

// IsSegmentStillAvailable implements RepresentationIndex.
func (x *SmoothIndex) IsSegmentStillAvailable(seg models.Segment) Tristate {
	if seg.IsInit {
		return True
	}
	st := x.state.Load()
	tl := x.shared.Timeline()
	last, ok := timeline.LastRequestable(tl, x.scale(), x.maximumPosition(st), math.Inf(1))
	if !ok {
		return False
	}
	return TristateOf(timeline.IsSegmentStillAvailable(tl, x.scale(), seg, last))
}

// CheckDiscontinuity implements RepresentationIndex.
func (x *SmoothIndex) CheckDiscontinuity(t float64) (float64, bool) {
	return timeline.CheckDiscontinuity(x.shared.Timeline(), x.scale(), t, math.Inf(1), x.state.Load().rounding)
}

// CanBeOutOfSyncError implements RepresentationIndex. Smooth servers answer
// 412 to requests for fragments past the live edge.
func (x *SmoothIndex) CanBeOutOfSyncError(err error) bool {
	if !x.state.Load().live {
		return false
	}
	if code, ok := httpStatus(err); ok && (code == 404 || code == 412) {
		x.metrics.IncOutOfSync()
		return true
	}
	return false
}

// IsStillAwaitingFutureSegments implements RepresentationIndex.
func (x *SmoothIndex) IsStillAwaitingFutureSegments() bool {
	return x.state.Load().live
}

// IsInitialized implements RepresentationIndex.
func (x *SmoothIndex) IsInitialized() bool {
	return true
}

// Initialize implements RepresentationIndex.
func (x *SmoothIndex) Initialize([]BaseSegment) {
	x.log.Warnf("smooth index: does not need to be initialized")
}

// AddPredictedSegments implements RepresentationIndex.
func (x *SmoothIndex) AddPredictedSegments(next []PredictedSegment, current models.Segment) {
	x.shared.AddPredicted(next, current)
}

// Replace implements RepresentationIndex.
func (x *SmoothIndex) Replace(newer RepresentationIndex) error {
	n, ok := newer.(*SmoothIndex)
	if !ok {
		return fmt.Errorf("%w: %T into *SmoothIndex", ErrIndexMismatch, newer)
	}
	x.shared.Replace(n.shared)
	x.mu.Lock()
	defer x.mu.Unlock()
	x.state.Store(n.state.Load())
	return nil
}

// Update implements RepresentationIndex.
func (x *SmoothIndex) Update(newer RepresentationIndex) error {
	n, ok := newer.(*SmoothIndex)
	if !ok {
		return fmt.Errorf("%w: %T into *SmoothIndex", ErrIndexMismatch, newer)
	}
	if err := x.shared.Update(n.shared); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	next := *x.state.Load()
	next.live = n.state.Load().live
	x.state.Store(&next)
	return nil
}
