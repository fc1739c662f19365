package index

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"

	"mediaindex/internal/models"
	"mediaindex/internal/template"
)

// ListItem is one SegmentURL of a SegmentList.
type ListItem struct {
	Media      string
	MediaRange *models.ByteRange
}

// ListConfig describes a SegmentList: every segment has the same duration
// and is listed explicitly.
type ListConfig struct {
	Timescale              int64
	PresentationTimeOffset int64
	Duration               int64
	RepresentationID       string
	Bandwidth              uint64
	Init                   *InitInfo
	IndexRange             *models.ByteRange
	Items                  []ListItem
}

type listState struct {
	ctx             Context
	timescale       int64
	duration        int64
	indexTimeOffset int64
	items           []ListItem
	init            *InitInfo
	indexRange      *models.ByteRange
}

// ListIndex is the RepresentationIndex of a SegmentList. Everything is
// known upfront and nothing ever has to be refreshed.
type ListIndex struct {
	mu    sync.Mutex
	state atomic.Pointer[listState]
}

var _ RepresentationIndex = (*ListIndex)(nil)

// NewListIndex creates a ListIndex. A list without duration is rejected.
func NewListIndex(cfg ListConfig, ctx Context) (*ListIndex, error) {
	if cfg.Duration <= 0 {
		return nil, fmt.Errorf("%w (representation %q)", ErrMissingDuration, cfg.RepresentationID)
	}
	if cfg.Timescale <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTimescale, cfg.Timescale)
	}
	ctx = ctx.withDefaults()

	items := make([]ListItem, len(cfg.Items))
	for i, it := range cfg.Items {
		items[i] = it
		if it.Media != "" {
			items[i].Media = template.ExpandRepresentation(it.Media, cfg.RepresentationID, cfg.Bandwidth)
		}
	}
	st := &listState{
		ctx:             ctx,
		timescale:       cfg.Timescale,
		duration:        cfg.Duration,
		indexTimeOffset: cfg.PresentationTimeOffset - int64(math.Round(ctx.Period.Start*float64(cfg.Timescale))),
		items:           items,
		init:            cfg.Init,
		indexRange:      cfg.IndexRange,
	}
	x := &ListIndex{}
	x.state.Store(st)
	return x, nil
}

func (st *listState) timestampOffset() float64 {
	return -float64(st.indexTimeOffset) / float64(st.timescale)
}

// InitSegment implements RepresentationIndex.
func (x *ListIndex) InitSegment() (models.Segment, bool) {
	st := x.state.Load()
	return initSegment(st.init, st.indexRange, st.timestampOffset())
}

// Segments implements RepresentationIndex.
func (x *ListIndex) Segments(from, duration float64) ([]models.Segment, error) {
	st := x.state.Load()
	if math.IsNaN(from) || math.IsNaN(duration) || from < 0 || duration < 0 {
		return nil, fmt.Errorf("list index: invalid range from=%v duration=%v", from, duration)
	}
	ts := float64(st.timescale)
	segDuration := float64(st.duration) / ts
	periodStart := st.ctx.Period.Start
	up := math.Max(0, (from-periodStart)*ts)
	to := (from + duration - periodStart) * ts

	var segs []models.Segment
	for i := int(math.Floor(up / float64(st.duration))); i < len(st.items); i++ {
		if float64(int64(i)*st.duration) >= to {
			break
		}
		item := st.items[i]
		time := float64(i)*segDuration + periodStart
		seg := models.Segment{
			ID:              strconv.Itoa(i),
			Time:            time,
			End:             time + segDuration,
			Duration:        segDuration,
			URL:             item.Media,
			Complete:        true,
			TimestampOffset: st.timestampOffset(),
			Private: models.PrivateInfo{
				IndexTime:     int64(i) * st.duration,
				IndexDuration: st.duration,
				Timescale:     st.timescale,
			},
		}
		if item.MediaRange != nil {
			r := *item.MediaRange
			seg.Range = &r
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

// ShouldRefresh implements RepresentationIndex.
func (x *ListIndex) ShouldRefresh(float64, float64) bool {
	return false
}

// FirstAvailablePosition implements RepresentationIndex.
func (x *ListIndex) FirstAvailablePosition() (float64, bool) {
	return x.state.Load().ctx.Period.Start, true
}

// LastAvailablePosition implements RepresentationIndex.
func (x *ListIndex) LastAvailablePosition() (float64, bool) {
	st := x.state.Load()
	end := float64(int64(len(st.items))*st.duration)/float64(st.timescale) + st.ctx.Period.Start
	return math.Min(end, st.ctx.Period.endOrInf()), true
}

// End implements RepresentationIndex.
func (x *ListIndex) End() (float64, bool) {
	return x.LastAvailablePosition()
}

// AwaitSegmentBetween implements RepresentationIndex.
func (x *ListIndex) AwaitSegmentBetween(float64, float64) Tristate {
	return False
}

// IsSegmentStillAvailable implements RepresentationIndex.
func (x *ListIndex) IsSegmentStillAvailable(models.Segment) Tristate {
	return True
}

// CheckDiscontinuity implements RepresentationIndex.
func (x *ListIndex) CheckDiscontinuity(float64) (float64, bool) {
	return 0, false
}

// CanBeOutOfSyncError implements RepresentationIndex.
func (x *ListIndex) CanBeOutOfSyncError(error) bool {
	return false
}

// IsStillAwaitingFutureSegments implements RepresentationIndex.
func (x *ListIndex) IsStillAwaitingFutureSegments() bool {
	return false
}

// IsInitialized implements RepresentationIndex.
func (x *ListIndex) IsInitialized() bool {
	return true
}

// Initialize implements RepresentationIndex.
func (x *ListIndex) Initialize([]BaseSegment) {
	x.state.Load().ctx.Logger.Warnf("list index: does not need to be initialized")
}

// AddPredictedSegments implements RepresentationIndex.
func (x *ListIndex) AddPredictedSegments([]PredictedSegment, models.Segment) {
	x.state.Load().ctx.Logger.Warnf("list index: cannot add predicted segments")
}

// Replace implements RepresentationIndex.
func (x *ListIndex) Replace(newer RepresentationIndex) error {
	n, ok := newer.(*ListIndex)
	if !ok {
		return fmt.Errorf("%w: %T into *ListIndex", ErrIndexMismatch, newer)
	}
	st := n.state.Load()
	x.mu.Lock()
	defer x.mu.Unlock()
	x.state.Store(st)
	return nil
}

// Update implements RepresentationIndex. A SegmentList is never updated.
func (x *ListIndex) Update(RepresentationIndex) error {
	x.state.Load().ctx.Logger.Warnf("list index: cannot be updated, ignoring")
	return nil
}
