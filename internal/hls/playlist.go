package hls

import (
	"fmt"
	"math"
	"strings"

	"mediaindex/internal/dash"
	"mediaindex/internal/models"
)

// discontinuityTolerance is the largest hole, in seconds, between two
// segments that is not signalled as a discontinuity.
const discontinuityTolerance = 0.1

// MediaPlaylist is what a media playlist is rendered from.
type MediaPlaylist struct {
	Init     *models.Segment
	Segments []models.Segment
	// Ended adds EXT-X-ENDLIST: no segment will be added anymore.
	Ended bool
}

// GenerateMasterPlaylist creates the HLS master playlist of a manifest.
// Media playlists are referenced as <channelID>/<representation>/playlist.m3u8.
func GenerateMasterPlaylist(man *dash.Manifest, channelID string) (string, error) {
	var video, audio []*dash.Representation
	seen := make(map[string]bool)
	for _, p := range man.Periods {
		for _, as := range p.AdaptationSets {
			for _, rep := range as.Representations {
				if seen[rep.ID] {
					continue
				}
				seen[rep.ID] = true
				switch as.ContentType {
				case "video", "":
					video = append(video, rep)
				case "audio":
					audio = append(audio, rep)
				}
			}
		}
	}
	if len(video) == 0 && len(audio) == 0 {
		return "", fmt.Errorf("channel %s: no audio or video representation", channelID)
	}

	var sb strings.Builder
	sb.WriteString("#EXTM3U\n")
	sb.WriteString("#EXT-X-VERSION:7\n")

	for i, rep := range audio {
		def := "NO"
		if i == 0 {
			def = "YES"
		}
		sb.WriteString(fmt.Sprintf("#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID=\"audio\",NAME=\"%s\",DEFAULT=%s,AUTOSELECT=YES,URI=\"%s\"\n",
			rep.ID, def, mediaPlaylistURI(channelID, rep.ID)))
	}
	if len(video) == 0 {
		// Audio only: the renditions are the variants.
		video = audio
		audio = nil
	}
	for _, rep := range video {
		sb.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d", rep.Bandwidth))
		if rep.Codecs != "" {
			sb.WriteString(fmt.Sprintf(",CODECS=\"%s\"", rep.Codecs))
		}
		if len(audio) > 0 {
			sb.WriteString(",AUDIO=\"audio\"")
		}
		sb.WriteString("\n")
		sb.WriteString(mediaPlaylistURI(channelID, rep.ID) + "\n")
	}
	return sb.String(), nil
}

func mediaPlaylistURI(channelID, repID string) string {
	return fmt.Sprintf("%s/%s/playlist.m3u8", channelID, repID)
}

// GenerateMediaPlaylist creates the HLS media playlist of a list of
// segments, as returned by a representation index.
func GenerateMediaPlaylist(pl MediaPlaylist) string {
	var sb strings.Builder
	sb.WriteString("#EXTM3U\n")
	sb.WriteString("#EXT-X-VERSION:7\n")
	sb.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", targetDuration(pl.Segments)))
	sb.WriteString(fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d\n", mediaSequence(pl.Segments)))
	if pl.Ended {
		sb.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	}
	if pl.Init != nil && pl.Init.URL != "" {
		sb.WriteString(fmt.Sprintf("#EXT-X-MAP:URI=\"%s\"", pl.Init.URL))
		if pl.Init.Range != nil {
			sb.WriteString(fmt.Sprintf(",BYTERANGE=\"%d@%d\"", pl.Init.Range.Size(), pl.Init.Range.Start))
		}
		sb.WriteString("\n")
	}

	for i, seg := range pl.Segments {
		if i > 0 && seg.Time-pl.Segments[i-1].End > discontinuityTolerance {
			sb.WriteString("#EXT-X-DISCONTINUITY\n")
		}
		sb.WriteString(fmt.Sprintf("#EXTINF:%.3f,\n", seg.Duration))
		if seg.Range != nil {
			sb.WriteString(fmt.Sprintf("#EXT-X-BYTERANGE:%d@%d\n", seg.Range.Size(), seg.Range.Start))
		}
		sb.WriteString(seg.URL + "\n")
	}
	if pl.Ended {
		sb.WriteString("#EXT-X-ENDLIST\n")
	}
	return sb.String()
}

func targetDuration(segs []models.Segment) int {
	longest := 0.0
	for _, s := range segs {
		longest = math.Max(longest, s.Duration)
	}
	return int(math.Ceil(longest))
}

func mediaSequence(segs []models.Segment) uint64 {
	if len(segs) == 0 || segs[0].Number == nil {
		return 0
	}
	return *segs[0].Number
}
