package models

import "fmt"

// ByteRange is an inclusive byte range inside a media resource.
type ByteRange struct {
	Start uint64
	End   uint64
}

// Header returns the value of an HTTP Range header selecting this range.
func (r ByteRange) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// Size is the number of bytes covered by the range.
func (r ByteRange) Size() uint64 {
	return r.End - r.Start + 1
}

// Segment describes a media or initialization segment returned by a
// representation index. It is created fresh on every query and never
// mutated afterwards.
type Segment struct {
	// ID is a unique identifier for the segment inside its representation,
	// derived from its start in index time.
	ID string
	// Time is the presentation start of the segment, in seconds.
	Time float64
	// End is the presentation end of the segment, in seconds.
	End float64
	// Duration is End - Time, in seconds.
	Duration float64
	// IsInit indicates if this is an initialization segment.
	IsInit bool
	// URL is the media URL. Empty when the format does not carry one
	// (the caller then uses the representation's base URL).
	URL string
	// Range is the byte range to request, if any.
	Range *ByteRange
	// IndexRange is only set on initialization segments of indexes whose
	// segments are described by a separate index segment.
	IndexRange *ByteRange
	// Number is the sequence number, when the format has a numbering scheme.
	Number *uint64
	// Complete reports whether the segment is expected to be byte-complete
	// as soon as it is available.
	Complete bool
	// TimestampOffset is the offset, in seconds, to apply to the media
	// timestamps to obtain presentation times.
	TimestampOffset float64
	// Private holds metadata only meaningful to the index that produced it.
	Private PrivateInfo
}

// PrivateInfo is opaque per-index metadata carried by a Segment.
type PrivateInfo struct {
	// IndexTime and IndexDuration are the exact timeline values, in
	// Timescale units, the segment was produced from.
	IndexTime     int64
	IndexDuration int64
	Timescale     int64
	// SmoothInit is set on Smooth initialization segments.
	SmoothInit *SmoothInitInfo
}

// SmoothInitInfo carries what is needed to build a Smooth initialization
// segment, since the format has none on the server.
type SmoothInitInfo struct {
	Codecs           string
	CodecPrivateData string
	PacketSize       int
	SamplingRate     int
	Channels         int
	Width            int
	Height           int
	KeyID            []byte
}
