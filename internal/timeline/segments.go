package timeline

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"mediaindex/internal/models"
)

// ErrInvalidRange is returned when a segment request has a negative or
// undefined bound.
var ErrInvalidRange = errors.New("timeline: invalid time range")

// URLBuilder produces the URL of the segment starting at time (index time)
// with the given sequence number (nil when the format has no numbering).
type URLBuilder func(time int64, number *uint64) (string, error)

// SegmentsContext carries the per-index settings needed to turn timeline
// entries into segment descriptors.
type SegmentsContext struct {
	Scale
	// URL builds media URLs. Nil means segments carry no URL.
	URL URLBuilder
	// Numbered enables sequence numbers, starting at StartNumber (1 when nil).
	Numbered    bool
	StartNumber *uint64
	EndNumber   *uint64
	// MayBeIncomplete is set when availabilityTimeComplete is false: the last
	// non-repeating entry may not be byte-complete yet.
	MayBeIncomplete bool
}

// SegmentsRequest is a wanted [From, From+Duration) window, in seconds, with
// the live ceiling and Period end bounding it. Unknown bounds are +Inf.
type SegmentsRequest struct {
	From            float64
	Duration        float64
	MaximumPosition float64
	PeriodEnd       float64
}

// Segments returns the descriptors of every segment of tl overlapping the
// wanted window, in order.
func Segments(tl Timeline, c SegmentsContext, req SegmentsRequest) ([]models.Segment, error) {
	if math.IsNaN(req.From) || math.IsNaN(req.Duration) || req.From < 0 || req.Duration < 0 {
		return nil, fmt.Errorf("%w: from=%v duration=%v", ErrInvalidRange, req.From, req.Duration)
	}
	if c.Timescale <= 0 {
		return nil, fmt.Errorf("%w: timescale %d", ErrInvalidRange, c.Timescale)
	}

	wantedMaximum := math.Min(req.From+req.Duration, req.MaximumPosition)
	up := c.ToIndexTime(req.From)
	to := c.ToIndexTime(wantedMaximum)
	maxRepeatTime := math.Min(c.ToIndexTime(req.MaximumPosition), c.ToIndexTime(req.PeriodEnd))
	timestampOffset := -float64(c.IndexTimeOffset) / float64(c.Timescale)

	currentNumber := uint64(1)
	if c.StartNumber != nil {
		currentNumber = *c.StartNumber
	}

	var segments []models.Segment
	for i, item := range tl {
		if item.Duration <= 0 {
			continue
		}
		repeat := ResolveRepeat(item, tl.next(i), maxRepeatTime)
		complete := !c.MayBeIncomplete || (i != len(tl)-1 && repeat != 0)

		var n int64
		if diff := up - float64(item.Start); diff > 0 {
			n = int64(math.Floor(diff / float64(item.Duration)))
		}
		segmentTime := item.occurrenceStart(n)
		for float64(segmentTime) < to && n <= repeat {
			var number *uint64
			if c.Numbered {
				nb := currentNumber + uint64(n)
				if c.EndNumber != nil && nb > *c.EndNumber {
					return segments, nil
				}
				number = &nb
			}

			seg, ok, err := buildSegment(c, item, segmentTime, number, complete, timestampOffset)
			if err != nil {
				return nil, err
			}
			if ok {
				segments = append(segments, seg)
			}
			n++
			segmentTime = item.occurrenceStart(n)
		}
		if float64(segmentTime) >= to {
			return segments, nil
		}
		currentNumber += uint64(repeat + 1)
		if c.Numbered && c.EndNumber != nil && currentNumber > *c.EndNumber {
			return segments, nil
		}
	}
	return segments, nil
}

// buildSegment creates the descriptor of one occurrence. Occurrences lying
// entirely before presentation time zero are skipped (ok is false).
func buildSegment(c SegmentsContext, item IndexSegment, segmentTime int64, number *uint64,
	complete bool, timestampOffset float64) (models.Segment, bool, error) {
	t := segmentTime - c.IndexTimeOffset
	d := item.Duration
	if t < 0 {
		d += t
		t = 0
	}
	if d <= 0 {
		return models.Segment{}, false, nil
	}

	var url string
	if c.URL != nil {
		var err error
		if url, err = c.URL(segmentTime, number); err != nil {
			return models.Segment{}, false, fmt.Errorf("building URL of segment at %d: %w", segmentTime, err)
		}
	}

	ts := float64(c.Timescale)
	seg := models.Segment{
		ID:              strconv.FormatInt(segmentTime, 10),
		Time:            float64(t) / ts,
		End:             float64(t+d) / ts,
		Duration:        float64(d) / ts,
		URL:             url,
		Number:          number,
		Complete:        complete,
		TimestampOffset: timestampOffset,
		Private: models.PrivateInfo{
			IndexTime:     segmentTime,
			IndexDuration: item.Duration,
			Timescale:     c.Timescale,
		},
	}
	if item.Range != nil {
		r := *item.Range
		seg.Range = &r
	}
	return seg, true, nil
}
