// Package template expands the identifier tokens of segment URL templates:
// $RepresentationID$, $Bandwidth$, $Number$ and $Time$ (with an optional
// %0Nd width) for DASH, {bitrate} and {start time} for Smooth.
package template

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrMissingNumber is returned when a template uses $Number$ but the
	// index has no numbering scheme.
	ErrMissingNumber = errors.New("template: $Number$ used without a segment number")
	// ErrMissingTime is returned when a template uses $Time$ without a
	// segment time.
	ErrMissingTime = errors.New("template: $Time$ used without a segment time")
)

var (
	bandwidthToken = regexp.MustCompile(`\$Bandwidth(%0(\d+)d)?\$`)
	numberToken    = regexp.MustCompile(`\$Number(%0(\d+)d)?\$`)
	timeToken      = regexp.MustCompile(`\$Time(%0(\d+)d)?\$`)
	smoothBitrate  = regexp.MustCompile(`\{[Bb]itrate\}`)
	smoothTime     = regexp.MustCompile(`\{start[ _]time\}`)
)

// escapedDollar stands for "$$" while the other tokens are replaced.
const escapedDollar = "\x00"

// ExpandRepresentation replaces the tokens known once per Representation.
// $Number$ and $Time$ are left for ExpandSegment.
func ExpandRepresentation(url, id string, bandwidth uint64) string {
	url = strings.ReplaceAll(url, "$$", escapedDollar)
	url = strings.ReplaceAll(url, "$RepresentationID$", id)
	url = replacePadded(bandwidthToken, url, bandwidth)
	url = smoothBitrate.ReplaceAllLiteralString(url, strconv.FormatUint(bandwidth, 10))
	return strings.ReplaceAll(url, escapedDollar, "$$")
}

// ExpandSegment replaces the $Number$ and $Time$ tokens (and the Smooth
// start time) of url. A token whose value is nil is an error.
func ExpandSegment(url string, time *int64, number *uint64) (string, error) {
	url = strings.ReplaceAll(url, "$$", escapedDollar)
	if numberToken.MatchString(url) {
		if number == nil {
			return "", fmt.Errorf("%w: %q", ErrMissingNumber, url)
		}
		url = replacePadded(numberToken, url, *number)
	}
	if timeToken.MatchString(url) || smoothTime.MatchString(url) {
		if time == nil {
			return "", fmt.Errorf("%w: %q", ErrMissingTime, url)
		}
		if *time < 0 {
			return "", fmt.Errorf("template: negative segment time %d in %q", *time, url)
		}
		url = replacePadded(timeToken, url, uint64(*time))
		url = smoothTime.ReplaceAllLiteralString(url, strconv.FormatInt(*time, 10))
	}
	return strings.ReplaceAll(url, escapedDollar, "$"), nil
}

// replacePadded substitutes every match of re with value, zero-padded to
// the %0Nd width when the token carries one.
func replacePadded(re *regexp.Regexp, url string, value uint64) string {
	return re.ReplaceAllStringFunc(url, func(token string) string {
		s := strconv.FormatUint(value, 10)
		m := re.FindStringSubmatch(token)
		if len(m) < 3 || m[2] == "" {
			return s
		}
		width, err := strconv.Atoi(m[2])
		if err != nil || len(s) >= width {
			return s
		}
		return strings.Repeat("0", width-len(s)) + s
	})
}

// Builder expands the segment tokens of one Representation's media
// template.
type Builder struct {
	media string
}

// NewBuilder prepares a media template for a Representation. An empty
// template yields a nil Builder.
func NewBuilder(media, id string, bandwidth uint64) *Builder {
	if media == "" {
		return nil
	}
	return &Builder{media: ExpandRepresentation(media, id, bandwidth)}
}

// Build returns the URL of one segment.
func (b *Builder) Build(time int64, number *uint64) (string, error) {
	return ExpandSegment(b.media, &time, number)
}
