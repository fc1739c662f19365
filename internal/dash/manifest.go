package dash

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	m "github.com/Eyevinn/dash-mpd/mpd"

	"mediaindex/internal/bounds"
	"mediaindex/internal/index"
	"mediaindex/internal/logger"
	"mediaindex/internal/metrics"
	"mediaindex/internal/template"
	"mediaindex/internal/timeline"
)

// ErrNoSegmentTimeline is returned for a SegmentTemplate addressing its
// segments by number only.
var ErrNoSegmentTimeline = errors.New("dash: SegmentTemplate without SegmentTimeline")

// BuildOptions configures Build.
type BuildOptions struct {
	// ManifestURL is the URL the MPD was finally fetched from. Relative
	// BaseURLs and templates are resolved against it.
	ManifestURL string
	// ReceivedAt is when the MPD was received. Defaults to Clock().
	ReceivedAt       time.Time
	Clock            func() time.Time
	ServerTimeOffset *time.Duration
	RoundingError    float64
	// IncrementalThreshold is passed to every TimelineIndex.
	IncrementalThreshold int
	// Previous is the manifest this one refreshes. Its timelines are used
	// to build the new ones incrementally.
	Previous *Manifest
	Logger   logger.Logger
	Metrics  *metrics.Metrics
}

// Manifest is a parsed MPD whose Representations expose their segments
// through a RepresentationIndex.
type Manifest struct {
	URL                 string
	Dynamic             bool
	MinimumUpdatePeriod time.Duration
	ReceivedAt          time.Time
	Bounds              *bounds.ManifestBounds
	Periods             []*Period
}

// Period is one Period of a Manifest, in seconds.
type Period struct {
	ID             string
	Start          float64
	End            *float64
	AdaptationSets []*AdaptationSet
}

// AdaptationSet groups interchangeable Representations.
type AdaptationSet struct {
	ID              string
	ContentType     string
	Representations []*Representation
}

// Representation is one encoding of the content.
type Representation struct {
	ID        string
	Bandwidth uint64
	Codecs    string
	BaseURL   string
	Index     index.RepresentationIndex
}

// Build turns a parsed MPD into a Manifest. Representations whose segments
// cannot be indexed are logged and skipped.
func Build(mpd *m.MPD, opts BuildOptions) (*Manifest, error) {
	if mpd == nil {
		return nil, errors.New("dash: nil MPD")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.ReceivedAt.IsZero() {
		opts.ReceivedAt = opts.Clock()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	dynamic := mpd.Type != nil && *mpd.Type == "dynamic"
	ast, err := availabilityStartTime(mpd)
	if err != nil {
		return nil, err
	}
	var tsbd *float64
	if mpd.TimeShiftBufferDepth != nil {
		v := seconds(*mpd.TimeShiftBufferDepth)
		tsbd = &v
	}

	man := &Manifest{
		URL:        opts.ManifestURL,
		Dynamic:    dynamic,
		ReceivedAt: opts.ReceivedAt,
		Bounds: bounds.New(bounds.Options{
			Dynamic:               dynamic,
			TimeShiftBufferDepth:  tsbd,
			AvailabilityStartTime: ast,
			ServerTimeOffset:      opts.ServerTimeOffset,
			Clock:                 opts.Clock,
		}),
	}
	if mpd.MinimumUpdatePeriod != nil {
		man.MinimumUpdatePeriod = time.Duration(*mpd.MinimumUpdatePeriod)
	}

	spans := periodSpans(mpd)
	for i, p := range mpd.Periods {
		if p == nil {
			continue
		}
		b := &builder{
			opts:    opts,
			man:     man,
			period:  p,
			id:      periodID(p, i),
			baseURL: resolveURL(opts.ManifestURL, firstBaseURL(p.BaseURLs)),
			info: index.PeriodInfo{
				Start:  spans[i].start,
				End:    spans[i].end,
				IsLast: i == len(mpd.Periods)-1,
			},
		}
		man.Periods = append(man.Periods, b.build())
	}

	if dynamic {
		if pos, ok := man.lastPosition(); ok {
			man.Bounds.SetLastPosition(pos, opts.ReceivedAt)
		}
	}
	return man, nil
}

// Lookup returns a Representation of a Period.
func (man *Manifest) Lookup(periodID, representationID string) (*Representation, bool) {
	for _, p := range man.Periods {
		if p.ID != periodID {
			continue
		}
		for _, as := range p.AdaptationSets {
			for _, r := range as.Representations {
				if r.ID == representationID {
					return r, true
				}
			}
		}
	}
	return nil, false
}

// Latest returns the Representation with the given ID in the last Period
// announcing it.
func (man *Manifest) Latest(representationID string) (*Period, *Representation, bool) {
	for i := len(man.Periods) - 1; i >= 0; i-- {
		if r, ok := man.Lookup(man.Periods[i].ID, representationID); ok {
			return man.Periods[i], r, true
		}
	}
	return nil, nil, false
}

// lastPosition is the position reachable in every audio and video
// AdaptationSet of the last Period announcing segments.
func (man *Manifest) lastPosition() (float64, bool) {
	for i := len(man.Periods) - 1; i >= 0; i-- {
		pos, found := math.Inf(1), false
		for _, as := range man.Periods[i].AdaptationSets {
			if as.ContentType != "" && as.ContentType != "audio" && as.ContentType != "video" {
				continue
			}
			for _, r := range as.Representations {
				if last, ok := r.Index.LastAvailablePosition(); ok {
					pos, found = math.Min(pos, last), true
				}
			}
		}
		if found {
			return pos, true
		}
	}
	return 0, false
}

type span struct {
	start float64
	end   *float64
}

// periodSpans derives each Period's start and end from the explicit
// attributes, its neighbours and the presentation duration.
func periodSpans(mpd *m.MPD) []span {
	spans := make([]span, len(mpd.Periods))
	for i, p := range mpd.Periods {
		if p == nil {
			continue
		}
		switch {
		case p.Start != nil:
			spans[i].start = seconds(*p.Start)
		case i > 0 && spans[i-1].end != nil:
			spans[i].start = *spans[i-1].end
		}
		if p.Duration != nil {
			end := spans[i].start + seconds(*p.Duration)
			spans[i].end = &end
		}
	}
	for i := range spans {
		if spans[i].end != nil {
			continue
		}
		if i+1 < len(spans) && mpd.Periods[i+1] != nil && mpd.Periods[i+1].Start != nil {
			end := spans[i+1].start
			spans[i].end = &end
		} else if i == len(spans)-1 && mpd.MediaPresentationDuration != nil {
			end := seconds(*mpd.MediaPresentationDuration)
			spans[i].end = &end
		}
	}
	return spans
}

func availabilityStartTime(mpd *m.MPD) (float64, error) {
	s := string(mpd.AvailabilityStartTime)
	if s == "" {
		return 0, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return float64(t.UnixNano()) / 1e9, nil
		}
	}
	return 0, fmt.Errorf("dash: invalid availabilityStartTime %q", s)
}

func seconds(d m.Duration) float64 {
	return time.Duration(d).Seconds()
}

func periodID(p *m.Period, i int) string {
	if p.Id != "" {
		return p.Id
	}
	return strconv.Itoa(i)
}

func firstBaseURL(urls []*m.BaseURLType) string {
	for _, u := range urls {
		if u != nil && u.Value != "" {
			return string(u.Value)
		}
	}
	return ""
}

// builder builds the AdaptationSets of one Period.
type builder struct {
	opts    BuildOptions
	man     *Manifest
	period  *m.Period
	id      string
	baseURL string
	info    index.PeriodInfo
}

func (b *builder) build() *Period {
	out := &Period{ID: b.id, Start: b.info.Start, End: b.info.End}
	for i, as := range b.period.AdaptationSets {
		if as == nil {
			continue
		}
		a := &AdaptationSet{ID: strconv.Itoa(i), ContentType: string(as.ContentType)}
		if as.Id != nil {
			a.ID = strconv.FormatUint(uint64(*as.Id), 10)
		}
		asBase := resolveURL(b.baseURL, firstBaseURL(as.BaseURLs))
		for _, rep := range as.Representations {
			if rep == nil {
				continue
			}
			r, err := b.representation(as, rep, resolveURL(asBase, firstBaseURL(rep.BaseURLs)))
			if err != nil {
				b.opts.Logger.Warnf("dash: period %s: skipping representation %q: %v", b.id, rep.Id, err)
				continue
			}
			a.Representations = append(a.Representations, r)
		}
		if len(a.Representations) > 0 {
			out.AdaptationSets = append(out.AdaptationSets, a)
		}
	}
	return out
}

func (b *builder) context() index.Context {
	return index.Context{
		Period:        b.info,
		Dynamic:       b.man.Dynamic,
		Bounds:        b.man.Bounds,
		RoundingError: b.opts.RoundingError,
		Logger:        logger.With(b.opts.Logger, "index"),
		Metrics:       b.opts.Metrics,
	}
}

func (b *builder) representation(as *m.AdaptationSetType, rep *m.RepresentationType, baseURL string) (*Representation, error) {
	r := &Representation{ID: rep.Id, Bandwidth: uint64(rep.Bandwidth), Codecs: rep.Codecs, BaseURL: baseURL}
	if r.Codecs == "" {
		r.Codecs = as.Codecs
	}
	info := resolveSegmentInfo(b.period, as, rep)

	var err error
	switch info.kind {
	case kindTemplate:
		r.Index, err = b.timelineIndex(info, r)
	case kindList:
		r.Index, err = b.listIndex(info, r)
	default:
		r.Index, err = b.baseIndex(info, r)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (b *builder) timelineIndex(info segmentInfo, r *Representation) (index.RepresentationIndex, error) {
	if info.timeline == nil {
		return nil, ErrNoSegmentTimeline
	}
	indexRange, err := parseByteRange(info.indexRange)
	if err != nil {
		return nil, err
	}
	init, err := info.initInfo(r)
	if err != nil {
		return nil, err
	}

	cfg := index.TimelineConfig{
		Timescale:                info.timescaleOrDefault(),
		PresentationTimeOffset:   info.presentationTimeOffset(),
		StartNumber:              widen(info.startNumber),
		EndNumber:                widen(info.endNumber),
		AvailabilityTimeOffset:   info.availabilityTimeOffset,
		AvailabilityTimeComplete: info.availabilityTimeComplete,
		Media:                    resolveURL(r.BaseURL, info.media),
		RepresentationID:         r.ID,
		Bandwidth:                r.Bandwidth,
		Init:                     init,
		IndexRange:               indexRange,
		IncrementalThreshold:     b.opts.IncrementalThreshold,
	}
	tl := info.timeline
	cfg.Parser = func() []timeline.RawElement { return rawElements(tl) }
	if b.opts.Previous != nil {
		if prev, ok := b.opts.Previous.Lookup(b.id, r.ID); ok {
			cfg.Previous, _ = prev.Index.(*index.TimelineIndex)
		}
	}
	return index.NewTimelineIndex(cfg, b.context())
}

func (b *builder) listIndex(info segmentInfo, r *Representation) (index.RepresentationIndex, error) {
	indexRange, err := parseByteRange(info.indexRange)
	if err != nil {
		return nil, err
	}
	init, err := info.initInfo(r)
	if err != nil {
		return nil, err
	}
	cfg := index.ListConfig{
		Timescale:              info.timescaleOrDefault(),
		PresentationTimeOffset: info.presentationTimeOffset(),
		RepresentationID:       r.ID,
		Bandwidth:              r.Bandwidth,
		Init:                   init,
		IndexRange:             indexRange,
	}
	if info.duration != nil {
		cfg.Duration = int64(*info.duration)
	}
	for _, u := range info.segmentURLs {
		if u == nil {
			continue
		}
		mediaRange, err := parseByteRange(string(u.MediaRange))
		if err != nil {
			return nil, err
		}
		cfg.Items = append(cfg.Items, index.ListItem{
			Media:      resolveURL(r.BaseURL, string(u.Media)),
			MediaRange: mediaRange,
		})
	}
	return index.NewListIndex(cfg, b.context())
}

func (b *builder) baseIndex(info segmentInfo, r *Representation) (index.RepresentationIndex, error) {
	indexRange, err := parseByteRange(info.indexRange)
	if err != nil {
		return nil, err
	}
	init, err := info.initInfo(r)
	if err != nil {
		return nil, err
	}
	return index.NewBaseIndex(index.BaseConfig{
		Timescale:              info.timescaleOrDefault(),
		PresentationTimeOffset: info.presentationTimeOffset(),
		Media:                  r.BaseURL,
		RepresentationID:       r.ID,
		Bandwidth:              r.Bandwidth,
		Init:                   init,
		IndexRange:             indexRange,
	}, b.context())
}

func widen(v *uint32) *uint64 {
	if v == nil {
		return nil
	}
	w := uint64(*v)
	return &w
}

type segmentKind int

const (
	kindBase segmentKind = iota
	kindList
	kindTemplate
)

// segmentInfo is the segment addressing of a Representation once the
// Period, AdaptationSet and Representation levels are combined, the lowest
// level winning attribute by attribute.
type segmentInfo struct {
	kind segmentKind

	timescale                *uint32
	presentationTimeOffsetV  *uint64
	duration                 *uint32
	startNumber              *uint32
	endNumber                *uint32
	availabilityTimeOffset   float64
	availabilityTimeComplete *bool
	indexRange               string
	initURL                  *m.URLType

	timeline       *m.SegmentTimelineType
	media          string
	initialization string
	segmentURLs    []*m.SegmentURLType
}

func resolveSegmentInfo(p *m.Period, as *m.AdaptationSetType, rep *m.RepresentationType) segmentInfo {
	var info segmentInfo
	info.applyBase(p.SegmentBase)
	info.applyBase(as.SegmentBase)
	info.applyBase(rep.SegmentBase)
	info.applyList(p.SegmentList)
	info.applyList(as.SegmentList)
	info.applyList(rep.SegmentList)
	info.applyTemplate(p.SegmentTemplate)
	info.applyTemplate(as.SegmentTemplate)
	info.applyTemplate(rep.SegmentTemplate)
	return info
}

func (info *segmentInfo) applyBase(sb *m.SegmentBaseType) {
	if sb == nil {
		return
	}
	info.applyCommon(sb.Timescale, sb.PresentationTimeOffset, float64(sb.AvailabilityTimeOffset),
		sb.AvailabilityTimeComplete, sb.IndexRange, sb.Initialization)
}

func (info *segmentInfo) applyList(sl *m.SegmentListType) {
	if sl == nil {
		return
	}
	info.kind = max(info.kind, kindList)
	info.applyCommon(sl.Timescale, sl.PresentationTimeOffset, float64(sl.AvailabilityTimeOffset),
		sl.AvailabilityTimeComplete, sl.IndexRange, sl.Initialization)
	if sl.Duration != nil {
		info.duration = sl.Duration
	}
	if len(sl.SegmentURL) > 0 {
		info.segmentURLs = sl.SegmentURL
	}
}

func (info *segmentInfo) applyTemplate(st *m.SegmentTemplateType) {
	if st == nil {
		return
	}
	info.kind = kindTemplate
	info.applyCommon(st.Timescale, st.PresentationTimeOffset, float64(st.AvailabilityTimeOffset),
		st.AvailabilityTimeComplete, st.IndexRange, nil)
	if st.Duration != nil {
		info.duration = st.Duration
	}
	if st.StartNumber != nil {
		info.startNumber = st.StartNumber
	}
	if st.EndNumber != nil {
		info.endNumber = st.EndNumber
	}
	if st.SegmentTimeline != nil {
		info.timeline = st.SegmentTimeline
	}
	if st.Media != "" {
		info.media = st.Media
	}
	if st.Initialization != "" {
		info.initialization = st.Initialization
	}
}

func (info *segmentInfo) applyCommon(timescale *uint32, pto *uint64, ato float64, atc *bool,
	indexRange string, init *m.URLType) {
	if timescale != nil {
		info.timescale = timescale
	}
	if pto != nil {
		info.presentationTimeOffsetV = pto
	}
	if ato != 0 {
		info.availabilityTimeOffset = ato
	}
	if atc != nil {
		info.availabilityTimeComplete = atc
	}
	if indexRange != "" {
		info.indexRange = indexRange
	}
	if init != nil {
		info.initURL = init
	}
}

func (info segmentInfo) timescaleOrDefault() int64 {
	if info.timescale == nil || *info.timescale == 0 {
		return 1
	}
	return int64(*info.timescale)
}

func (info segmentInfo) presentationTimeOffset() int64 {
	if info.presentationTimeOffsetV == nil {
		return 0
	}
	return int64(*info.presentationTimeOffsetV)
}

// initInfo resolves the initialization segment, from the template
// attribute or from an <Initialization> element.
func (info segmentInfo) initInfo(r *Representation) (*index.InitInfo, error) {
	if info.initialization != "" {
		u := template.ExpandRepresentation(info.initialization, r.ID, r.Bandwidth)
		return &index.InitInfo{URL: resolveURL(r.BaseURL, u)}, nil
	}
	if info.initURL == nil {
		return nil, nil
	}
	rng, err := parseByteRange(info.initURL.Range)
	if err != nil {
		return nil, err
	}
	return &index.InitInfo{
		URL:   resolveURL(r.BaseURL, string(info.initURL.SourceURL)),
		Range: rng,
	}, nil
}
