// Package index exposes the segments of one Representation through the
// RepresentationIndex contract, whatever the way they are described:
// a separate index segment (BaseIndex), an explicit list (ListIndex), a
// segment timeline (TimelineIndex), or a Smooth timeline shared by every
// Representation of an Adaptation (SmoothIndex).
package index

import (
	"errors"
	"math"

	"mediaindex/internal/bounds"
	"mediaindex/internal/logger"
	"mediaindex/internal/metrics"
	"mediaindex/internal/models"
)

var (
	// ErrMissingDuration is returned when a List index has no segment
	// duration.
	ErrMissingDuration = errors.New("index: segment list without duration")
	// ErrInvalidTimescale is returned for a non-positive timescale.
	ErrInvalidTimescale = errors.New("index: invalid timescale")
	// ErrIndexMismatch is returned by Replace and Update when both indexes
	// are not of the same kind.
	ErrIndexMismatch = errors.New("index: cannot combine indexes of different kinds")
)

// Tristate is a yes/no answer that may also be unknown.
type Tristate int8

const (
	Unknown Tristate = iota
	False
	True
)

// TristateOf converts a known answer.
func TristateOf(b bool) Tristate {
	if b {
		return True
	}
	return False
}

func (t Tristate) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// PeriodInfo locates the Period owning an index, in seconds.
type PeriodInfo struct {
	Start float64
	// End is nil while unknown.
	End *float64
	// IsLast is set for the last Period of the presentation.
	IsLast bool
}

func (p PeriodInfo) endOrInf() float64 {
	if p.End == nil {
		return math.Inf(1)
	}
	return *p.End
}

// BaseSegment is one segment read from an index segment (a sidx box).
type BaseSegment struct {
	Time      int64
	Duration  int64
	Timescale int64
	Range     models.ByteRange
}

// PredictedSegment is a future segment announced inside a media segment.
type PredictedSegment struct {
	Time      int64
	Duration  int64
	Timescale int64
}

// StatusCoder is implemented by request errors carrying an HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// httpStatus extracts the HTTP status of err, if any.
func httpStatus(err error) (int, bool) {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode(), true
	}
	return 0, false
}

// RepresentationIndex is the uniform view on the segments of one
// Representation. Query methods are safe for concurrent use; Replace,
// Update, Initialize and AddPredictedSegments must be serialized by the
// caller.
type RepresentationIndex interface {
	// InitSegment returns the initialization segment, if the format has one.
	InitSegment() (models.Segment, bool)
	// Segments returns the segments overlapping [from, from+duration).
	Segments(from, duration float64) ([]models.Segment, error)
	// ShouldRefresh reports whether the manifest has to be fetched again to
	// know the segments of [from, to).
	ShouldRefresh(from, to float64) bool
	// FirstAvailablePosition returns the start of the first available
	// segment.
	FirstAvailablePosition() (float64, bool)
	// LastAvailablePosition returns the end of the last requestable segment.
	LastAvailablePosition() (float64, bool)
	// End returns the end of the content, when it can already be known.
	End() (float64, bool)
	// AwaitSegmentBetween tells whether a segment not yet requestable may
	// appear in [start, end).
	AwaitSegmentBetween(start, end float64) Tristate
	// IsSegmentStillAvailable tells whether seg can still be requested.
	IsSegmentStillAvailable(seg models.Segment) Tristate
	// CheckDiscontinuity returns the position where playback should resume
	// when t falls in a hole between segments.
	CheckDiscontinuity(t float64) (float64, bool)
	// CanBeOutOfSyncError tells whether err, returned by a segment request,
	// may come from a client/server desynchronization that a manifest
	// reload would fix.
	CanBeOutOfSyncError(err error) bool
	// IsStillAwaitingFutureSegments reports whether new segments may still
	// be announced for this index.
	IsStillAwaitingFutureSegments() bool
	// IsInitialized reports whether the segments are known.
	IsInitialized() bool
	// Initialize gives the segments read from an index segment.
	Initialize(segs []BaseSegment)
	// AddPredictedSegments adds segments announced by current.
	AddPredictedSegments(next []PredictedSegment, current models.Segment)
	// Replace swaps the content of the index with newer's, on a manifest
	// reload.
	Replace(newer RepresentationIndex) error
	// Update merges newer's segments into the index, on a manifest refresh.
	Update(newer RepresentationIndex) error
}

// Context is what an index needs from its surroundings.
type Context struct {
	Period  PeriodInfo
	Dynamic bool
	// Bounds estimates the live bounds; nil means everything announced is
	// available.
	Bounds bounds.Calculator
	// RoundingError is a tolerance, in seconds, absorbing rounding of
	// segment times.
	RoundingError float64
	Logger        logger.Logger
	Metrics       *metrics.Metrics
}

// DefaultRoundingError is the RoundingError used when none is configured.
const DefaultRoundingError = 1.0 / 60

func (c Context) withDefaults() Context {
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	if c.RoundingError <= 0 {
		c.RoundingError = DefaultRoundingError
	}
	return c
}

// maximumPosition returns the last requestable position, +Inf when every
// announced segment is requestable.
func (c Context) maximumPosition(availabilityTimeOffset float64) float64 {
	if !c.Dynamic || c.Bounds == nil {
		return math.Inf(1)
	}
	if pos, ok := c.Bounds.EstimatedMaximumPosition(availabilityTimeOffset); ok {
		return pos
	}
	return math.Inf(1)
}

// InitInfo describes an initialization segment.
type InitInfo struct {
	URL   string
	Range *models.ByteRange
}

// initSegment builds the initialization segment descriptor shared by the
// DASH indexes.
func initSegment(init *InitInfo, indexRange *models.ByteRange, timestampOffset float64) (models.Segment, bool) {
	if init == nil && indexRange == nil {
		return models.Segment{}, false
	}
	seg := models.Segment{
		ID:              "init",
		IsInit:          true,
		Complete:        true,
		TimestampOffset: timestampOffset,
	}
	if init != nil {
		seg.URL = init.URL
		if init.Range != nil {
			r := *init.Range
			seg.Range = &r
		}
	}
	if indexRange != nil {
		r := *indexRange
		seg.IndexRange = &r
		if seg.Range == nil && r.Start > 0 {
			// Without an explicit range the initialization data is assumed
			// to sit right before the index segment.
			seg.Range = &models.ByteRange{Start: 0, End: r.Start - 1}
		}
	}
	return seg, true
}
