package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	m "github.com/Eyevinn/dash-mpd/mpd"
	"github.com/spf13/cobra"

	"mediaindex/internal/dash"
	"mediaindex/internal/hls"
	"mediaindex/internal/index"
	"mediaindex/internal/models"
)

// manifestFlags are the flags shared by the commands reading a local MPD.
type manifestFlags struct {
	url       string
	now       string
	loadIndex bool
}

func (f *manifestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.url, "url", "", "URL the MPD was served from, relative URLs resolve against it (default is the file path)")
	cmd.Flags().StringVar(&f.now, "now", "", "wall-clock time the MPD is evaluated at, RFC 3339 (default is now)")
	cmd.Flags().BoolVar(&f.loadIndex, "load-index", false, "fetch the index segments of SegmentBase representations")
}

func (f *manifestFlags) clock() (time.Time, error) {
	if f.now == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, f.now)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --now: %w", err)
	}
	return t, nil
}

// buildManifest reads the MPD at path and builds its indexes as seen at
// now, from previous when set.
func (a *app) buildManifest(path, manifestURL string, now time.Time, previous *dash.Manifest) (*dash.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading MPD: %w", err)
	}
	mpd, err := m.ReadFromString(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing MPD %s: %w", path, err)
	}
	if manifestURL == "" {
		manifestURL = path
	}
	return dash.Build(mpd, dash.BuildOptions{
		ManifestURL:          manifestURL,
		ReceivedAt:           now,
		Clock:                func() time.Time { return now },
		RoundingError:        a.cfg.Timeline.RoundingError,
		IncrementalThreshold: a.cfg.Timeline.IncrementalThreshold,
		Previous:             previous,
		Logger:               a.logger,
	})
}

func (a *app) loadManifest(ctx context.Context, path string, f *manifestFlags) (*dash.Manifest, error) {
	now, err := f.clock()
	if err != nil {
		return nil, err
	}
	man, err := a.buildManifest(path, f.url, now, nil)
	if err != nil {
		return nil, err
	}
	if f.loadIndex {
		a.initializeBaseIndexes(ctx, man)
	}
	return man, nil
}

func (a *app) initializeBaseIndexes(ctx context.Context, man *dash.Manifest) {
	client := dash.NewClient(a.logger, a.cfg.Fetch.UserAgent, a.cfg.Fetch.HeaderTimeout)
	loader := dash.NewLoader(client.HTTPClient(), a.logger, dash.LoaderConfig{
		UserAgent:  a.cfg.Fetch.UserAgent,
		MaxRetries: a.cfg.Fetch.RetryAttempts,
		RetryDelay: a.cfg.Fetch.RetryDelay,
		Timeout:    a.cfg.Fetch.Timeout,
	})
	for _, p := range man.Periods {
		for _, as := range p.AdaptationSets {
			for _, rep := range as.Representations {
				base, ok := rep.Index.(*index.BaseIndex)
				if !ok {
					continue
				}
				if err := loader.InitializeBase(ctx, base); err != nil {
					a.logger.Warnf("Failed to load index segment of rep %s: %v", rep.ID, err)
				}
			}
		}
	}
}

// listSegments returns the segments of [from, from+duration), the bounds
// defaulting to the available range of x.
func listSegments(x index.RepresentationIndex, from, duration *float64) ([]models.Segment, error) {
	start, okStart := x.FirstAvailablePosition()
	end, okEnd := x.LastAvailablePosition()
	if from != nil {
		start, okStart = *from, true
	}
	if duration != nil {
		end, okEnd = start+*duration, true
	}
	if !okStart || !okEnd || end <= start {
		return nil, nil
	}
	return x.Segments(start, end-start)
}

func newSegmentsCmd(a *app) *cobra.Command {
	var (
		mf       manifestFlags
		repID    string
		from     float64
		duration float64
		output   string
	)
	cmd := &cobra.Command{
		Use:   "segments <mpd>",
		Short: "List the segments of the representations of an MPD",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			man, err := a.loadManifest(cmd.Context(), args[0], &mf)
			if err != nil {
				return err
			}
			var fromP, durationP *float64
			if cmd.Flags().Changed("from") {
				fromP = &from
			}
			if cmd.Flags().Changed("duration") {
				durationP = &duration
			}

			var listings []listing
			found := false
			for _, p := range man.Periods {
				for _, as := range p.AdaptationSets {
					for _, rep := range as.Representations {
						if repID != "" && rep.ID != repID {
							continue
						}
						found = true
						segs, err := listSegments(rep.Index, fromP, durationP)
						if err != nil {
							return fmt.Errorf("representation %s: %w", rep.ID, err)
						}
						listings = append(listings, newListing(p.ID, as.ContentType, rep, segs))
					}
				}
			}
			if repID != "" && !found {
				return fmt.Errorf("representation %q not found", repID)
			}
			return writeListings(cmd.OutOrStdout(), output, listings)
		},
	}
	mf.register(cmd)
	cmd.Flags().StringVar(&repID, "rep", "", "only list this representation")
	cmd.Flags().Float64Var(&from, "from", 0, "start of the listed range, in seconds (default is the first available position)")
	cmd.Flags().Float64Var(&duration, "duration", 0, "length of the listed range, in seconds (default is up to the last available position)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text, yaml)")
	return cmd
}

func newPlaylistCmd(a *app) *cobra.Command {
	var (
		mf      manifestFlags
		repID   string
		channel string
		window  int
	)
	cmd := &cobra.Command{
		Use:   "playlist <mpd>",
		Short: "Render an MPD as HLS playlists",
		Long: `Render the master playlist of an MPD, or the media playlist of one of its
representations when --rep is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			man, err := a.loadManifest(cmd.Context(), args[0], &mf)
			if err != nil {
				return err
			}
			if repID == "" {
				playlist, err := hls.GenerateMasterPlaylist(man, channel)
				if err != nil {
					return err
				}
				_, err = io.WriteString(cmd.OutOrStdout(), playlist)
				return err
			}

			_, rep, ok := man.Latest(repID)
			if !ok {
				return fmt.Errorf("representation %q not found", repID)
			}
			segs, err := listSegments(rep.Index, nil, nil)
			if err != nil {
				return err
			}
			ended := !rep.Index.IsStillAwaitingFutureSegments()
			if window > 0 && !ended && len(segs) > window {
				segs = segs[len(segs)-window:]
			}
			pl := hls.MediaPlaylist{Segments: segs, Ended: ended}
			if init, ok := rep.Index.InitSegment(); ok {
				pl.Init = &init
			}
			_, err = io.WriteString(cmd.OutOrStdout(), hls.GenerateMediaPlaylist(pl))
			return err
		},
	}
	mf.register(cmd)
	cmd.Flags().StringVar(&repID, "rep", "", "render the media playlist of this representation")
	cmd.Flags().StringVar(&channel, "channel", "channel", "channel name used in the master playlist URIs")
	cmd.Flags().IntVar(&window, "window", 5, "number of segments of a live media playlist (0 for all)")
	return cmd
}

func newMergeCmd(a *app) *cobra.Command {
	var (
		manifestURL string
		oldNow      string
		now         string
		output      string
	)
	cmd := &cobra.Command{
		Use:   "merge <old-mpd> <new-mpd>",
		Short: "Refresh the indexes of an MPD with a later version of it",
		Long: `Build the indexes of old-mpd, then those of new-mpd reconciled with them,
merge the result as a live refresh would, and list the merged segments.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oldFlags := manifestFlags{now: oldNow}
			oldTime, err := oldFlags.clock()
			if err != nil {
				return err
			}
			newFlags := manifestFlags{now: now}
			newTime, err := newFlags.clock()
			if err != nil {
				return err
			}

			current, err := a.buildManifest(args[0], manifestURL, oldTime, nil)
			if err != nil {
				return err
			}
			newer, err := a.buildManifest(args[1], manifestURL, newTime, current)
			if err != nil {
				return err
			}
			merged, stats := dash.Merge(current, newer, a.logger)

			fmt.Fprintf(cmd.OutOrStdout(), "updated=%d replaced=%d kept=%d added=%d\n",
				stats.Updated, stats.Replaced, stats.Kept, stats.Added)
			var listings []listing
			for _, p := range merged.Periods {
				for _, as := range p.AdaptationSets {
					for _, rep := range as.Representations {
						segs, err := listSegments(rep.Index, nil, nil)
						if err != nil {
							return fmt.Errorf("representation %s: %w", rep.ID, err)
						}
						listings = append(listings, newListing(p.ID, as.ContentType, rep, segs))
					}
				}
			}
			return writeListings(cmd.OutOrStdout(), output, listings)
		},
	}
	cmd.Flags().StringVar(&manifestURL, "url", "", "URL the MPDs were served from (default is the file path)")
	cmd.Flags().StringVar(&oldNow, "old-now", "", "time old-mpd was received, RFC 3339 (default is now)")
	cmd.Flags().StringVar(&now, "now", "", "time new-mpd was received, RFC 3339 (default is now)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text, yaml)")
	return cmd
}
