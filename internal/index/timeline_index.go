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

// DefaultIncrementalThreshold is the minimum number of raw elements for
// which a timeline is built by extending the previous index's timeline.
const DefaultIncrementalThreshold = 300

// TimelineConfig describes a SegmentTemplate with a SegmentTimeline.
type TimelineConfig struct {
	Timescale              int64
	PresentationTimeOffset int64
	StartNumber            *uint64
	EndNumber              *uint64
	// AvailabilityTimeOffset is in seconds; +Inf means every segment of the
	// timeline is requestable.
	AvailabilityTimeOffset   float64
	AvailabilityTimeComplete *bool

	// Media is the media URL template. An empty template gives segments
	// without URL.
	Media            string
	RepresentationID string
	Bandwidth        uint64
	Init             *InitInfo
	IndexRange       *models.ByteRange

	// Timeline is a ready-made timeline. When nil, Parser is called on
	// first use.
	Timeline timeline.Timeline
	Parser   func() []timeline.RawElement
	// Previous is the index this one supersedes. When the new timeline is
	// large enough, it is built by extending Previous's.
	Previous             *TimelineIndex
	IncrementalThreshold int
}

// timelineSource is either a timeline still to be parsed or a parsed one.
type timelineSource interface {
	isTimelineSource()
}

type unparsedTimeline struct {
	parse    func() []timeline.RawElement
	previous *TimelineIndex
}

type parsedTimeline struct {
	tl timeline.Timeline
}

func (unparsedTimeline) isTimelineSource() {}
func (parsedTimeline) isTimelineSource()   {}

// timelineState is an immutable snapshot of a TimelineIndex.
type timelineState struct {
	ctx       Context
	scale     timeline.Scale
	source    timelineSource
	threshold int

	startNumber              *uint64
	endNumber                *uint64
	availabilityTimeOffset   float64
	availabilityTimeComplete *bool

	url        *template.Builder
	init       *InitInfo
	indexRange *models.ByteRange
}

func (st *timelineState) timeline() timeline.Timeline {
	if p, ok := st.source.(parsedTimeline); ok {
		return p.tl
	}
	return nil
}

func (st *timelineState) periodEnd() float64 {
	return st.ctx.Period.endOrInf()
}

func (st *timelineState) scaledPeriodEnd() float64 {
	return st.scale.ToIndexTime(st.periodEnd())
}

func (st *timelineState) rounding() float64 {
	return st.ctx.RoundingError * float64(st.scale.Timescale)
}

func (st *timelineState) lastRequestable() (timeline.LastRequestableInfo, bool) {
	return timeline.LastRequestable(st.timeline(), st.scale,
		st.ctx.maximumPosition(st.availabilityTimeOffset), st.periodEnd())
}

// TimelineIndex is the RepresentationIndex of a SegmentTemplate described
// by a SegmentTimeline. Readers work on immutable snapshots; mutations build
// a new snapshot and swap it in.
type TimelineIndex struct {
	mu    sync.Mutex
	state atomic.Pointer[timelineState]
}

var _ RepresentationIndex = (*TimelineIndex)(nil)

// NewTimelineIndex creates a TimelineIndex. The timeline itself is only
// built on first use when cfg.Parser is given.
func NewTimelineIndex(cfg TimelineConfig, ctx Context) (*TimelineIndex, error) {
	if cfg.Timescale <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTimescale, cfg.Timescale)
	}
	ctx = ctx.withDefaults()

	st := &timelineState{
		ctx: ctx,
		scale: timeline.Scale{
			Timescale:       cfg.Timescale,
			IndexTimeOffset: cfg.PresentationTimeOffset - int64(math.Round(ctx.Period.Start*float64(cfg.Timescale))),
		},
		threshold:                cfg.IncrementalThreshold,
		startNumber:              cfg.StartNumber,
		endNumber:                cfg.EndNumber,
		availabilityTimeOffset:   cfg.AvailabilityTimeOffset,
		availabilityTimeComplete: cfg.AvailabilityTimeComplete,
		url:                      template.NewBuilder(cfg.Media, cfg.RepresentationID, cfg.Bandwidth),
		init:                     cfg.Init,
		indexRange:               cfg.IndexRange,
	}
	if st.threshold <= 0 {
		st.threshold = DefaultIncrementalThreshold
	}

	switch {
	case cfg.Timeline != nil || cfg.Parser == nil:
		st.source = parsedTimeline{tl: cfg.Timeline.Clone()}
	default:
		prev := cfg.Previous
		if prev != nil {
			// Only one level of history is kept.
			prev.forgetPrevious()
		}
		st.source = unparsedTimeline{parse: cfg.Parser, previous: prev}
	}

	x := &TimelineIndex{}
	x.state.Store(st)
	return x, nil
}

func (x *TimelineIndex) forgetPrevious() {
	x.mu.Lock()
	defer x.mu.Unlock()
	st := x.state.Load()
	if u, ok := st.source.(unparsedTimeline); ok && u.previous != nil {
		next := *st
		next.source = unparsedTimeline{parse: u.parse}
		x.state.Store(&next)
	}
}

// parsedLocked returns the current state with its timeline parsed. x.mu
// must be held.
func (x *TimelineIndex) parsedLocked() *timelineState {
	st := x.state.Load()
	u, ok := st.source.(unparsedTimeline)
	if !ok {
		return st
	}
	next := *st
	tl, startNumber := x.build(st, u)
	next.source = parsedTimeline{tl: tl}
	next.startNumber = startNumber
	x.state.Store(&next)
	return &next
}

// build parses the timeline of u and returns it with the start number of
// its first entry.
func (x *TimelineIndex) build(st *timelineState, u unparsedTimeline) (timeline.Timeline, *uint64) {
	elements := u.parse()
	if u.previous == nil || u.previous == x || len(elements) < st.threshold {
		tl, dropped := timeline.ConstructCount(elements)
		reportDropped(st, dropped, len(elements))
		return tl, st.startNumber
	}
	prev := u.previous.parsed().timeline()
	tl, rec := timeline.ConstructFromPrevious(prev, elements)
	st.ctx.Metrics.ObserveReconciliation(string(rec.Reason))
	if rec.Reason != timeline.ReasonNone {
		st.ctx.Logger.Warnf("timeline index: cannot extend previous timeline (%s), parsed %d elements from scratch",
			rec.Reason, len(elements))
	}
	reportDropped(st, rec.Dropped, len(elements))
	if rec.Kept == 0 {
		return tl, st.startNumber
	}
	return numberKeptHead(tl, st.startNumber, rec.Kept)
}

func reportDropped(st *timelineState, dropped, total int) {
	if dropped == 0 {
		return
	}
	st.ctx.Metrics.AddDropped(dropped)
	st.ctx.Logger.Warnf("timeline index: dropped %d of %d timeline elements without resolvable start or duration",
		dropped, total)
}

// numberKeptHead numbers the kept occurrences preceding the first element
// of the manifest, which carries startNumber (1 when unset). Numbers cannot
// go below 1: the occurrences that would need one are dropped.
func numberKeptHead(tl timeline.Timeline, startNumber *uint64, kept int64) (timeline.Timeline, *uint64) {
	first := uint64(1)
	if startNumber != nil {
		first = *startNumber
	}
	if uint64(kept) < first {
		n := first - uint64(kept)
		return tl, &n
	}
	tl = timeline.DropHead(tl, kept-int64(first-1))
	n := uint64(1)
	return tl, &n
}

// parsed returns the current state with its timeline parsed.
func (x *TimelineIndex) parsed() *timelineState {
	st := x.state.Load()
	if _, ok := st.source.(parsedTimeline); ok {
		return st
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.parsedLocked()
}

// snapshot returns the state to answer a query from: parsed, and without
// the segments that left the timeshift window.
func (x *TimelineIndex) snapshot() *timelineState {
	st := x.parsed()
	if _, removed := evictState(st); removed == 0 {
		return st
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	st = x.parsedLocked()
	next, removed := evictState(st)
	if removed == 0 {
		return st
	}
	x.state.Store(next)
	next.ctx.Metrics.AddEvicted(removed)
	next.ctx.Logger.Debugf("timeline index: evicted %d segments", removed)
	return next
}

// evictState returns st without the segments before the timeshift window.
func evictState(st *timelineState) (*timelineState, int64) {
	if !st.ctx.Dynamic || st.ctx.Bounds == nil {
		return st, 0
	}
	first, ok := st.ctx.Bounds.EstimatedMinimumSegmentTime()
	if !ok {
		return st, 0
	}
	tl, removed := timeline.ClearFromPosition(st.timeline(), st.scale.ToIndexTime(first))
	if removed == 0 {
		return st, 0
	}
	next := *st
	next.source = parsedTimeline{tl: tl}
	// An unset startNumber is the implicit 1.
	n := uint64(1) + uint64(removed)
	if st.startNumber != nil {
		n = *st.startNumber + uint64(removed)
	}
	next.startNumber = &n
	return &next, removed
}

// InitSegment implements RepresentationIndex.
func (x *TimelineIndex) InitSegment() (models.Segment, bool) {
	st := x.state.Load()
	return initSegment(st.init, st.indexRange, -float64(st.scale.IndexTimeOffset)/float64(st.scale.Timescale))
}

// Segments implements RepresentationIndex.
func (x *TimelineIndex) Segments(from, duration float64) ([]models.Segment, error) {
	st := x.snapshot()
	c := timeline.SegmentsContext{
		Scale:           st.scale,
		Numbered:        true,
		StartNumber:     st.startNumber,
		EndNumber:       st.endNumber,
		MayBeIncomplete: st.availabilityTimeComplete != nil && !*st.availabilityTimeComplete,
	}
	if st.url != nil {
		c.URL = st.url.Build
	}
	return timeline.Segments(st.timeline(), c, timeline.SegmentsRequest{
		From:            from,
		Duration:        duration,
		MaximumPosition: st.ctx.maximumPosition(st.availabilityTimeOffset),
		PeriodEnd:       st.periodEnd(),
	})
}

// ShouldRefresh implements RepresentationIndex. Refreshes are scheduled at
// the manifest level.
func (x *TimelineIndex) ShouldRefresh(float64, float64) bool {
	return false
}

// FirstAvailablePosition implements RepresentationIndex.
func (x *TimelineIndex) FirstAvailablePosition() (float64, bool) {
	st := x.snapshot()
	return timeline.FirstPosition(st.timeline(), st.scale, st.ctx.Period.Start)
}

// LastAvailablePosition implements RepresentationIndex.
func (x *TimelineIndex) LastAvailablePosition() (float64, bool) {
	st := x.snapshot()
	info, ok := st.lastRequestable()
	if !ok {
		return 0, false
	}
	return math.Min(st.scale.FromIndexTime(info.End), st.periodEnd()), true
}

// End implements RepresentationIndex.
func (x *TimelineIndex) End() (float64, bool) {
	st := x.snapshot()
	if st.ctx.Dynamic && (!st.ctx.Period.IsLast || awaitingFutureSegments(st)) {
		return 0, false
	}
	end, ok := st.timeline().End(st.scaledPeriodEnd())
	if !ok {
		return 0, false
	}
	return math.Min(st.scale.FromIndexTime(end), st.periodEnd()), true
}

// AwaitSegmentBetween implements RepresentationIndex.
func (x *TimelineIndex) AwaitSegmentBetween(start, end float64) Tristate {
	st := x.snapshot()
	if !st.ctx.Dynamic {
		return False
	}
	rounding := st.rounding()
	scaledPeriodEnd := st.scaledPeriodEnd()
	wantedStart := st.scale.ToIndexTime(start) + rounding
	wantedEnd := st.scale.ToIndexTime(end) - rounding

	last, ok := st.lastRequestable()
	if ok {
		reqEnd := math.Min(float64(last.End), scaledPeriodEnd)
		if reqEnd+rounding >= math.Min(wantedEnd, scaledPeriodEnd) {
			return False
		}
		if !last.IsLastOfTimeline {
			// Segments are announced past the requestable ones.
			if tlEnd, ok := st.timeline().End(scaledPeriodEnd); ok && wantedStart < float64(tlEnd)+rounding {
				return True
			}
		}
	}

	if !st.ctx.Period.IsLast {
		return False
	}
	scaledPeriodStart := st.scale.ToIndexTime(st.ctx.Period.Start)
	if st.ctx.Period.End == nil {
		if wantedEnd+rounding > scaledPeriodStart {
			return Unknown
		}
		return False
	}
	return TristateOf(wantedStart-rounding < scaledPeriodEnd && wantedEnd+rounding > scaledPeriodStart)
}

// IsSegmentStillAvailable implements RepresentationIndex.
func (x *TimelineIndex) IsSegmentStillAvailable(seg models.Segment) Tristate {
	if seg.IsInit {
		return True
	}
	st := x.snapshot()
	last, ok := st.lastRequestable()
	if !ok {
		return False
	}
	return TristateOf(timeline.IsSegmentStillAvailable(st.timeline(), st.scale, seg, last))
}

// CheckDiscontinuity implements RepresentationIndex.
func (x *TimelineIndex) CheckDiscontinuity(t float64) (float64, bool) {
	st := x.snapshot()
	return timeline.CheckDiscontinuity(st.timeline(), st.scale, t, st.scaledPeriodEnd(), st.ctx.RoundingError)
}

// CanBeOutOfSyncError implements RepresentationIndex: on live content a 404
// usually means the client's idea of the live edge is wrong.
func (x *TimelineIndex) CanBeOutOfSyncError(err error) bool {
	st := x.state.Load()
	if !st.ctx.Dynamic {
		return false
	}
	if code, ok := httpStatus(err); ok && code == 404 {
		st.ctx.Metrics.IncOutOfSync()
		return true
	}
	return false
}

// IsStillAwaitingFutureSegments implements RepresentationIndex.
func (x *TimelineIndex) IsStillAwaitingFutureSegments() bool {
	return awaitingFutureSegments(x.snapshot())
}

func awaitingFutureSegments(st *timelineState) bool {
	if !st.ctx.Dynamic || !st.ctx.Period.IsLast {
		return false
	}
	if st.ctx.Period.End == nil {
		return true
	}
	scaledPeriodEnd := st.scaledPeriodEnd()
	if end, ok := st.timeline().End(scaledPeriodEnd); ok && float64(end)+st.rounding() >= scaledPeriodEnd {
		return false
	}
	if st.ctx.Bounds != nil {
		if edge, ok := st.ctx.Bounds.EstimatedLiveEdge(); ok && edge > *st.ctx.Period.End {
			return false
		}
	}
	return true
}

// IsInitialized implements RepresentationIndex.
func (x *TimelineIndex) IsInitialized() bool {
	return true
}

// Initialize implements RepresentationIndex. A timeline index needs no
// index segment.
func (x *TimelineIndex) Initialize([]BaseSegment) {
	x.state.Load().ctx.Logger.Warnf("timeline index: Initialize called on an index that needs no initialization")
}

// AddPredictedSegments implements RepresentationIndex. DASH timelines only
// learn segments from the manifest.
func (x *TimelineIndex) AddPredictedSegments([]PredictedSegment, models.Segment) {
	x.state.Load().ctx.Logger.Warnf("timeline index: predicted segments are not supported, ignoring")
}

// Replace implements RepresentationIndex.
func (x *TimelineIndex) Replace(newer RepresentationIndex) error {
	n, ok := newer.(*TimelineIndex)
	if !ok {
		return fmt.Errorf("%w: %T into *TimelineIndex", ErrIndexMismatch, newer)
	}
	if n == x {
		return nil
	}
	st := n.state.Load()
	if u, ok := st.source.(unparsedTimeline); ok && u.previous == x {
		// Our timeline is about to disappear: parse against it now.
		st = n.parsed()
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.state.Store(st)
	return nil
}

// Update implements RepresentationIndex. It fails with timeline.ErrUpdateGap
// when newer does not continue the current timeline.
func (x *TimelineIndex) Update(newer RepresentationIndex) error {
	n, ok := newer.(*TimelineIndex)
	if !ok {
		return fmt.Errorf("%w: %T into *TimelineIndex", ErrIndexMismatch, newer)
	}
	if n == x {
		return nil
	}
	ns := n.parsed()

	x.mu.Lock()
	defer x.mu.Unlock()
	cur := x.parsedLocked()
	merged, result, err := timeline.Update(cur.timeline(), ns.timeline())
	if err != nil {
		cur.ctx.Metrics.IncUpdateErrors()
		return fmt.Errorf("updating timeline index: %w", err)
	}
	cur.ctx.Metrics.ObserveUpdate(result.String())

	next := *ns
	next.source = parsedTimeline{tl: merged}
	if !result.FullReplace() {
		next.startNumber = cur.startNumber
	} else {
		ns.ctx.Logger.Infof("timeline index: manifest update replaced the whole timeline")
	}
	x.state.Store(&next)
	return nil
}
