package dash

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/abema/go-mp4"

	"mediaindex/internal/index"
	"mediaindex/internal/models"
)

var (
	// ErrSidxNotFound is returned when the index data holds no sidx box.
	ErrSidxNotFound = errors.New("dash: no sidx box in index segment")
	// ErrHierarchicalSidx is returned for a sidx referencing other sidx
	// boxes.
	ErrHierarchicalSidx = errors.New("dash: hierarchical sidx is not supported")
)

// ParseSidx reads the segments listed by the first sidx box of data.
// offset is the position of data in the media resource.
func ParseSidx(data []byte, offset uint64) ([]index.BaseSegment, error) {
	boxes, err := mp4.ExtractBoxWithPayload(bytes.NewReader(data), nil, mp4.BoxPath{mp4.BoxTypeSidx()})
	if err != nil {
		return nil, fmt.Errorf("reading sidx: %w", err)
	}
	if len(boxes) == 0 {
		return nil, ErrSidxNotFound
	}
	box := boxes[0]
	sidx, ok := box.Payload.(*mp4.Sidx)
	if !ok {
		return nil, fmt.Errorf("reading sidx: unexpected payload %T", box.Payload)
	}
	if sidx.Timescale == 0 {
		return nil, errors.New("dash: sidx with a zero timescale")
	}

	// first_offset counts from the first byte after the sidx box.
	pos := offset + box.Info.Offset + box.Info.Size + sidx.GetFirstOffset()
	t := int64(sidx.GetEarliestPresentationTime())
	segs := make([]index.BaseSegment, 0, len(sidx.References))
	for _, ref := range sidx.References {
		if ref.ReferenceType {
			return nil, ErrHierarchicalSidx
		}
		size := uint64(ref.ReferencedSize)
		d := int64(ref.SubsegmentDuration)
		segs = append(segs, index.BaseSegment{
			Time:      t,
			Duration:  d,
			Timescale: int64(sidx.Timescale),
			Range:     models.ByteRange{Start: pos, End: pos + size - 1},
		})
		t += d
		pos += size
	}
	return segs, nil
}
