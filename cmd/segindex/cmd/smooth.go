package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mediaindex/internal/index"
	"mediaindex/internal/logger"
	"mediaindex/internal/models"
	"mediaindex/internal/timeline"
)

// smoothFixture describes a Smooth StreamIndex: its timeline, its quality
// levels, and optionally what a later manifest and the last fragment
// announce.
type smoothFixture struct {
	Timescale int64 `yaml:"timescale"`
	Live      bool  `yaml:"live"`
	// TimeShiftBufferDepth is in seconds.
	TimeShiftBufferDepth *float64       `yaml:"time_shift_buffer_depth"`
	ReceivedAt           *time.Time     `yaml:"received_at"`
	Media                string         `yaml:"media"`
	QualityLevels        []qualityLevel `yaml:"quality_levels"`
	Timeline             []fixtureElem  `yaml:"timeline"`
	Refresh              *smoothRefresh `yaml:"refresh"`
	Predicted            []predicted    `yaml:"predicted"`
}

type qualityLevel struct {
	ID               string `yaml:"id"`
	Bitrate          uint64 `yaml:"bitrate"`
	Codecs           string `yaml:"codecs"`
	CodecPrivateData string `yaml:"codec_private_data"`
	Width            int    `yaml:"width"`
	Height           int    `yaml:"height"`
	SamplingRate     int    `yaml:"sampling_rate"`
	Channels         int    `yaml:"channels"`
}

type fixtureElem struct {
	T *int64 `yaml:"t"`
	D *int64 `yaml:"d"`
	R *int64 `yaml:"r"`
}

// smoothRefresh is a later manifest of the same stream. Mode "update"
// merges it, "replace" swaps it in.
type smoothRefresh struct {
	Mode       string        `yaml:"mode"`
	ReceivedAt *time.Time    `yaml:"received_at"`
	Timeline   []fixtureElem `yaml:"timeline"`
}

type predicted struct {
	Time     int64 `yaml:"time"`
	Duration int64 `yaml:"duration"`
}

func loadSmoothFixture(path string) (*smoothFixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture: %w", err)
	}
	var fx smoothFixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("parsing fixture %s: %w", path, err)
	}
	if len(fx.QualityLevels) == 0 {
		return nil, fmt.Errorf("fixture %s: no quality level", path)
	}
	return &fx, nil
}

func rawTimeline(elems []fixtureElem) []timeline.RawElement {
	raw := make([]timeline.RawElement, 0, len(elems))
	for _, e := range elems {
		raw = append(raw, timeline.RawElement{Start: e.T, Duration: e.D, RepeatCount: e.R})
	}
	return raw
}

// smoothIndexes builds one SmoothIndex per quality level over a timeline
// shared by all of them.
func smoothIndexes(fx *smoothFixture, elems []fixtureElem, receivedAt *time.Time,
	now time.Time, rounding float64, log logger.Logger,
) ([]*index.SmoothIndex, error) {
	clock := func() time.Time { return now }
	at := now
	if receivedAt != nil {
		at = *receivedAt
	}
	shared, err := index.NewSharedTimeline(index.SharedTimelineConfig{
		Timeline:             timeline.Construct(rawTimeline(elems)),
		Timescale:            fx.Timescale,
		TimeShiftBufferDepth: fx.TimeShiftBufferDepth,
		ReceivedAt:           at,
		Clock:                clock,
		Logger:               log,
	})
	if err != nil {
		return nil, err
	}

	indexes := make([]*index.SmoothIndex, 0, len(fx.QualityLevels))
	for _, ql := range fx.QualityLevels {
		x, err := index.NewSmoothIndex(index.SmoothConfig{
			Shared:           shared,
			Live:             fx.Live,
			Media:            fx.Media,
			RepresentationID: ql.ID,
			Bandwidth:        ql.Bitrate,
			Init: models.SmoothInitInfo{
				Codecs:           ql.Codecs,
				CodecPrivateData: ql.CodecPrivateData,
				SamplingRate:     ql.SamplingRate,
				Channels:         ql.Channels,
				Width:            ql.Width,
				Height:           ql.Height,
			},
			RoundingError: rounding,
			Logger:        log,
		})
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, x)
	}
	return indexes, nil
}

// evaluateSmooth builds the indexes of fx, applies its refresh and its
// predicted segments, and returns the resulting listings.
func evaluateSmooth(fx *smoothFixture, now time.Time, rounding float64, log logger.Logger) ([]listing, error) {
	indexes, err := smoothIndexes(fx, fx.Timeline, fx.ReceivedAt, now, rounding, log)
	if err != nil {
		return nil, err
	}

	if fx.Refresh != nil {
		newer, err := smoothIndexes(fx, fx.Refresh.Timeline, fx.Refresh.ReceivedAt, now, rounding, log)
		if err != nil {
			return nil, err
		}
		for i, x := range indexes {
			switch fx.Refresh.Mode {
			case "replace":
				err = x.Replace(newer[i])
			case "update", "":
				err = x.Update(newer[i])
			default:
				return nil, fmt.Errorf("unknown refresh mode %q", fx.Refresh.Mode)
			}
			if err != nil {
				return nil, fmt.Errorf("quality level %s: %w", fx.QualityLevels[i].ID, err)
			}
		}
	}

	if len(fx.Predicted) > 0 {
		// The announcements come with the last known fragment.
		segs, err := listSegments(indexes[0], nil, nil)
		if err != nil {
			return nil, err
		}
		if len(segs) > 0 {
			next := make([]index.PredictedSegment, 0, len(fx.Predicted))
			for _, p := range fx.Predicted {
				next = append(next, index.PredictedSegment{Time: p.Time, Duration: p.Duration, Timescale: fx.Timescale})
			}
			indexes[0].AddPredictedSegments(next, segs[len(segs)-1])
		}
	}

	listings := make([]listing, 0, len(indexes))
	for i, x := range indexes {
		segs, err := listSegments(x, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("quality level %s: %w", fx.QualityLevels[i].ID, err)
		}
		l := listing{Representation: fx.QualityLevels[i].ID}
		for _, seg := range segs {
			l.Segments = append(l.Segments, viewOf(seg))
		}
		listings = append(listings, l)
	}
	return listings, nil
}

func newSmoothCmd(a *app) *cobra.Command {
	var (
		now    string
		output string
	)
	cmd := &cobra.Command{
		Use:   "smooth <fixture.yaml>",
		Short: "List the segments of a Smooth StreamIndex fixture",
		Long: `Build the indexes of the quality levels of a Smooth StreamIndex described
in YAML, apply the refresh and predicted fragments it declares, and list the
resulting segments.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fx, err := loadSmoothFixture(args[0])
			if err != nil {
				return err
			}
			mf := manifestFlags{now: now}
			t, err := mf.clock()
			if err != nil {
				return err
			}
			listings, err := evaluateSmooth(fx, t, a.cfg.Timeline.RoundingError, a.logger)
			if err != nil {
				return err
			}
			return writeListings(cmd.OutOrStdout(), output, listings)
		},
	}
	cmd.Flags().StringVar(&now, "now", "", "wall-clock time the fixture is evaluated at, RFC 3339 (default is now)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text, yaml)")
	return cmd
}
