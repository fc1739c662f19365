// Package bounds estimates the positions currently reachable in a live
// presentation: the live edge, the last requestable position and the start
// of the timeshift window.
package bounds

import (
	"math"
	"sync"
	"time"
)

// Calculator is the read-only oracle indexes use to know how far the
// presentation currently extends. Positions are in seconds; ok is false when
// the position cannot be estimated.
type Calculator interface {
	// EstimatedMaximumPosition returns the last requestable position for
	// segments published availabilityTimeOffset seconds early.
	EstimatedMaximumPosition(availabilityTimeOffset float64) (float64, bool)
	// EstimatedMinimumSegmentTime returns the start of the timeshift window.
	EstimatedMinimumSegmentTime() (float64, bool)
	// EstimatedLiveEdge returns the live position derived from the server
	// clock.
	EstimatedLiveEdge() (float64, bool)
}

// Options configures ManifestBounds.
type Options struct {
	Dynamic bool
	// TimeShiftBufferDepth in seconds; nil means an unbounded window.
	TimeShiftBufferDepth *float64
	// AvailabilityStartTime as a Unix time, in seconds.
	AvailabilityStartTime float64
	// ServerTimeOffset is server time minus local time, when known.
	ServerTimeOffset *time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// ManifestBounds is the Calculator of one manifest. The manifest layer
// feeds it the last position it learned; estimations then drift with the
// wall clock.
type ManifestBounds struct {
	opts Options

	mu           sync.RWMutex
	lastPosition *float64
	positionTime time.Time
}

// New returns a ManifestBounds for opts.
func New(opts Options) *ManifestBounds {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &ManifestBounds{opts: opts}
}

// SetLastPosition records the last position known from the manifest,
// measured at positionTime (zero means now).
func (b *ManifestBounds) SetLastPosition(position float64, positionTime time.Time) {
	if positionTime.IsZero() {
		positionTime = b.opts.Clock()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastPosition = &position
	b.positionTime = positionTime
}

// LastPositionIsKnown reports whether SetLastPosition was called.
func (b *ManifestBounds) LastPositionIsKnown() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastPosition != nil
}

// EstimatedLiveEdge implements Calculator.
func (b *ManifestBounds) EstimatedLiveEdge() (float64, bool) {
	if !b.opts.Dynamic || b.opts.ServerTimeOffset == nil {
		return 0, false
	}
	now := b.opts.Clock().Add(*b.opts.ServerTimeOffset)
	return unixSeconds(now) - b.opts.AvailabilityStartTime, true
}

// EstimatedMaximumPosition implements Calculator.
func (b *ManifestBounds) EstimatedMaximumPosition(availabilityTimeOffset float64) (float64, bool) {
	b.mu.RLock()
	last, at := b.lastPosition, b.positionTime
	b.mu.RUnlock()

	if !b.opts.Dynamic {
		if last == nil {
			return 0, false
		}
		return *last, true
	}
	if edge, ok := b.EstimatedLiveEdge(); ok && !math.IsInf(availabilityTimeOffset, 1) {
		return edge + availabilityTimeOffset, true
	}
	if last == nil {
		return 0, false
	}
	elapsed := b.opts.Clock().Sub(at).Seconds()
	return math.Max(*last+elapsed, 0), true
}

// EstimatedMinimumSegmentTime implements Calculator.
func (b *ManifestBounds) EstimatedMinimumSegmentTime() (float64, bool) {
	if !b.opts.Dynamic || b.opts.TimeShiftBufferDepth == nil {
		return 0, true
	}
	maximum, ok := b.EstimatedLiveEdge()
	if !ok {
		if maximum, ok = b.EstimatedMaximumPosition(0); !ok {
			return 0, false
		}
	}
	return maximum - *b.opts.TimeShiftBufferDepth, true
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Static is a Calculator for content whose bounds never move.
type Static struct {
	Maximum float64
}

// EstimatedMaximumPosition implements Calculator.
func (s Static) EstimatedMaximumPosition(float64) (float64, bool) { return s.Maximum, true }

// EstimatedMinimumSegmentTime implements Calculator.
func (s Static) EstimatedMinimumSegmentTime() (float64, bool) { return 0, true }

// EstimatedLiveEdge implements Calculator.
func (s Static) EstimatedLiveEdge() (float64, bool) { return 0, false }
