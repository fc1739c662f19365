package cmd

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"mediaindex/internal/dash"
	"mediaindex/internal/models"
)

type segmentView struct {
	Time     float64 `yaml:"time"`
	End      float64 `yaml:"end"`
	Duration float64 `yaml:"duration"`
	Number   *uint64 `yaml:"number,omitempty"`
	URL      string  `yaml:"url"`
	Range    string  `yaml:"range,omitempty"`
}

// listing is the segments of one representation.
type listing struct {
	Period         string        `yaml:"period,omitempty"`
	ContentType    string        `yaml:"type,omitempty"`
	Representation string        `yaml:"representation"`
	Segments       []segmentView `yaml:"segments"`
}

func newListing(periodID, contentType string, rep *dash.Representation, segs []models.Segment) listing {
	l := listing{Period: periodID, ContentType: contentType, Representation: rep.ID}
	for _, seg := range segs {
		if seg.URL == "" {
			seg.URL = rep.BaseURL
		}
		l.Segments = append(l.Segments, viewOf(seg))
	}
	return l
}

func viewOf(seg models.Segment) segmentView {
	v := segmentView{
		Time:     seg.Time,
		End:      seg.End,
		Duration: seg.Duration,
		Number:   seg.Number,
		URL:      seg.URL,
	}
	if seg.Range != nil {
		v.Range = fmt.Sprintf("%d-%d", seg.Range.Start, seg.Range.End)
	}
	return v
}

func writeListings(w io.Writer, format string, listings []listing) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(listings); err != nil {
			return fmt.Errorf("encoding listing: %w", err)
		}
		return enc.Close()
	case "text", "":
		return writeText(w, listings)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeText(w io.Writer, listings []listing) error {
	for i, l := range listings {
		if i > 0 {
			fmt.Fprintln(w)
		}
		header := "representation " + l.Representation
		if l.Period != "" {
			header = "period " + l.Period + " " + header
		}
		if l.ContentType != "" {
			header += " (" + l.ContentType + ")"
		}
		fmt.Fprintf(w, "%s: %d segments\n", header, len(l.Segments))
		if len(l.Segments) == 0 {
			continue
		}

		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tEND\tNUMBER\tRANGE\tURL")
		for _, s := range l.Segments {
			number := "-"
			if s.Number != nil {
				number = strconv.FormatUint(*s.Number, 10)
			}
			rng := s.Range
			if rng == "" {
				rng = "-"
			}
			fmt.Fprintf(tw, "%.3f\t%.3f\t%s\t%s\t%s\n", s.Time, s.End, number, rng, s.URL)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}
