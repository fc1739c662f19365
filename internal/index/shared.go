package index

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"mediaindex/internal/bounds"
	"mediaindex/internal/logger"
	"mediaindex/internal/metrics"
	"mediaindex/internal/models"
	"mediaindex/internal/timeline"
)

// SharedTimelineConfig describes the timeline of a Smooth StreamIndex.
type SharedTimelineConfig struct {
	Timeline  timeline.Timeline
	Timescale int64
	// TimeShiftBufferDepth in seconds; nil keeps every segment.
	TimeShiftBufferDepth *float64
	// ReceivedAt is when the manifest was received; zero means now.
	ReceivedAt time.Time
	// Clock defaults to time.Now.
	Clock   func() time.Time
	Logger  logger.Logger
	Metrics *metrics.Metrics
}

type sharedState struct {
	tl timeline.Timeline
	// live estimates the live position from the end of the timeline at
	// reception time.
	live *bounds.ManifestBounds
	// source is the last timeline merged in, so that the Representations
	// sharing this timeline apply a refresh only once.
	source *SharedTimeline
}

// SharedTimeline is the single owner of a Smooth timeline, shared by every
// Representation of an Adaptation. All mutations go through it; the
// SmoothIndex values reading it only see complete snapshots.
type SharedTimeline struct {
	timescale int64
	tsbd      *float64
	clock     func() time.Time
	log       logger.Logger
	metrics   *metrics.Metrics

	mu    sync.Mutex
	state atomic.Pointer[sharedState]
}

// NewSharedTimeline creates a SharedTimeline.
func NewSharedTimeline(cfg SharedTimelineConfig) (*SharedTimeline, error) {
	if cfg.Timescale <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTimescale, cfg.Timescale)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	s := &SharedTimeline{
		timescale: cfg.Timescale,
		tsbd:      cfg.TimeShiftBufferDepth,
		clock:     cfg.Clock,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
	}
	receivedAt := cfg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = cfg.Clock()
	}
	tl := cfg.Timeline.Clone()
	s.state.Store(&sharedState{tl: tl, live: s.liveBounds(tl, receivedAt)})
	return s, nil
}

func (s *SharedTimeline) scale() timeline.Scale {
	return timeline.Scale{Timescale: s.timescale}
}

// liveBounds estimates the live position from tl as received at
// receivedAt; nil when tl is empty.
func (s *SharedTimeline) liveBounds(tl timeline.Timeline, receivedAt time.Time) *bounds.ManifestBounds {
	end, ok := tl.End(math.Inf(1))
	if !ok {
		return nil
	}
	b := bounds.New(bounds.Options{Dynamic: true, TimeShiftBufferDepth: s.tsbd, Clock: s.clock})
	b.SetLastPosition(s.scale().FromIndexTime(end), receivedAt)
	return b
}

// Timescale returns the timescale of the shared timeline.
func (s *SharedTimeline) Timescale() int64 {
	return s.timescale
}

// Timeline returns the current timeline, after timeshift eviction.
func (s *SharedTimeline) Timeline() timeline.Timeline {
	return s.snapshot().tl
}

// maximumPosition returns the estimated live position, in seconds.
func (s *SharedTimeline) maximumPosition() float64 {
	st := s.state.Load()
	if st.live == nil {
		return math.Inf(1)
	}
	if pos, ok := st.live.EstimatedMaximumPosition(math.Inf(1)); ok {
		return pos
	}
	return math.Inf(1)
}

// Refresh evicts the segments that left the timeshift window.
func (s *SharedTimeline) Refresh() {
	s.snapshot()
}

func (s *SharedTimeline) snapshot() *sharedState {
	st := s.state.Load()
	if _, removed := s.evict(st); removed == 0 {
		return st
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshedLocked()
}

// refreshedLocked evicts old segments from the current state. s.mu must be
// held.
func (s *SharedTimeline) refreshedLocked() *sharedState {
	st := s.state.Load()
	next, removed := s.evict(st)
	if removed == 0 {
		return st
	}
	s.state.Store(next)
	s.metrics.AddEvicted(removed)
	s.log.Debugf("smooth timeline: evicted %d segments", removed)
	return next
}

func (s *SharedTimeline) evict(st *sharedState) (*sharedState, int64) {
	if st.live == nil || s.tsbd == nil {
		return st, 0
	}
	first, ok := st.live.EstimatedMinimumSegmentTime()
	if !ok {
		return st, 0
	}
	tl, removed := timeline.ClearFromPosition(st.tl, s.scale().ToIndexTime(first))
	if removed == 0 {
		return st, 0
	}
	next := *st
	next.tl = tl
	return &next, removed
}

// Replace swaps in the timeline of a reloaded manifest, keeping the
// segments learned in-band past its end.
func (s *SharedTimeline) Replace(newer *SharedTimeline) {
	if newer == nil || newer == s {
		return
	}
	ns := newer.snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.state.Load()
	if cur.source == newer {
		return
	}
	s.state.Store(&sharedState{
		tl:     timeline.ReplaceKeepingTail(cur.tl, ns.tl),
		live:   ns.live,
		source: newer,
	})
}

// Update merges the timeline of a refreshed manifest.
func (s *SharedTimeline) Update(newer *SharedTimeline) error {
	if newer == nil || newer == s {
		return nil
	}
	ns := newer.snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.state.Load()
	if cur.source == newer {
		return nil
	}
	merged, result, err := timeline.Update(cur.tl, ns.tl)
	if err != nil {
		s.metrics.IncUpdateErrors()
		return fmt.Errorf("updating smooth timeline: %w", err)
	}
	s.metrics.ObserveUpdate(result.String())
	s.state.Store(&sharedState{tl: merged, live: ns.live, source: newer})
	return nil
}

// AddPredicted adds the segments announced by current, a media segment of
// this timeline. Announcements only count when current is the last known
// segment. It returns the number of segments added.
func (s *SharedTimeline) AddPredicted(next []PredictedSegment, current models.Segment) int {
	if current.IsInit || current.Private.Timescale <= 0 {
		s.log.Warnf("smooth timeline: predicted segments announced by a segment of another index, ignoring")
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.refreshedLocked()

	tl := st.tl
	currentTime := rescale(current.Private.IndexTime, current.Private.Timescale, s.timescale)
	if len(tl) > 0 {
		last := tl[len(tl)-1]
		lastStart := last.Start + timeline.ResolveRepeat(last, nil, math.Inf(1))*last.Duration
		if currentTime < lastStart {
			return 0
		}
	}

	added := 0
	for _, p := range next {
		ts := p.Timescale
		if ts <= 0 {
			ts = s.timescale
		}
		seg := timeline.PredictedSegment{
			Time:     rescale(p.Time, ts, s.timescale),
			Duration: rescale(p.Duration, ts, s.timescale),
		}
		var ok bool
		if tl, ok = timeline.AddPredicted(tl, seg, currentTime); ok {
			added++
			s.metrics.IncPredicted()
		}
	}
	if added > 0 {
		nextState := *st
		nextState.tl = tl
		s.state.Store(&nextState)
	}
	return added
}

// rescale converts v from one timescale to another.
func rescale(v, from, to int64) int64 {
	if from == to || from <= 0 {
		return v
	}
	return int64(math.Round(float64(v) * float64(to) / float64(from)))
}
