package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const vodMPD = `<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static" mediaPresentationDuration="PT10S" minBufferTime="PT2S" profiles="urn:mpeg:dash:profile:isoff-live:2011">
  <Period id="p0" start="PT0S">
    <AdaptationSet id="1" contentType="video" mimeType="video/mp4">
      <SegmentTemplate timescale="1000" media="$RepresentationID$/$Time$.m4s" initialization="$RepresentationID$/init.mp4">
        <SegmentTimeline><S t="0" d="2000" r="4"/></SegmentTimeline>
      </SegmentTemplate>
      <Representation id="v1" bandwidth="2000000" codecs="avc1.64001F"/>
    </AdaptationSet>
    <AdaptationSet id="2" contentType="audio" mimeType="audio/mp4">
      <SegmentList timescale="1000" duration="5000">
        <Initialization sourceURL="a1/init.mp4"/>
        <SegmentURL media="a1/1.m4s"/>
        <SegmentURL media="a1/2.m4s"/>
      </SegmentList>
      <Representation id="a1" bandwidth="128000" codecs="mp4a.40.2"/>
    </AdaptationSet>
  </Period>
</MPD>`

func liveMPD(t0 int) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="dynamic" availabilityStartTime="1970-01-01T00:00:00Z" publishTime="2024-01-01T00:00:00Z" minimumUpdatePeriod="PT2S" timeShiftBufferDepth="PT30S" minBufferTime="PT2S" profiles="urn:mpeg:dash:profile:isoff-live:2011">
  <Period id="live" start="PT0S">
    <AdaptationSet id="1" contentType="video" mimeType="video/mp4">
      <SegmentTemplate timescale="10" startNumber="1" media="v/$Number$.m4s" initialization="v/init.mp4">
        <SegmentTimeline><S t="%d" d="20" r="4"/></SegmentTimeline>
      </SegmentTemplate>
      <Representation id="v1" bandwidth="1000000"/>
    </AdaptationSet>
  </Period>
</MPD>`, t0)
}

const smoothFixtureYAML = `
timescale: 10
live: false
media: "http://origin/QualityLevels({bitrate})/Fragments(video={start time})"
quality_levels:
  - id: v1
    bitrate: 1000000
    codecs: avc1.4d401f
  - id: v2
    bitrate: 500000
timeline:
  - {t: 0, d: 20, r: 2}
refresh:
  mode: update
  timeline:
    - {t: 40, d: 20, r: 2}
predicted:
  - {time: 100, duration: 20}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// run executes segindex with args and returns its output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "segindex.yaml", "logging:\n  level: error\n")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestSegmentsCmd_Text(t *testing.T) {
	mpd := writeFile(t, t.TempDir(), "vod.mpd", vodMPD)

	out, err := run(t, "segments", mpd, "--url", "http://cdn.example.com/vod/manifest.mpd")
	require.NoError(t, err)
	assert.Contains(t, out, "period p0 representation v1 (video): 5 segments\n")
	assert.Contains(t, out, "http://cdn.example.com/vod/v1/8000.m4s")
	assert.Contains(t, out, "period p0 representation a1 (audio): 2 segments\n")
	assert.Contains(t, out, "http://cdn.example.com/vod/a1/2.m4s")
}

func TestSegmentsCmd_YAMLRange(t *testing.T) {
	mpd := writeFile(t, t.TempDir(), "vod.mpd", vodMPD)

	out, err := run(t, "segments", mpd, "--url", "http://cdn.example.com/vod/manifest.mpd",
		"--rep", "v1", "--from", "4", "--duration", "4", "-o", "yaml")
	require.NoError(t, err)

	var listings []listing
	require.NoError(t, yaml.Unmarshal([]byte(out), &listings))
	require.Len(t, listings, 1)
	assert.Equal(t, "v1", listings[0].Representation)
	require.Len(t, listings[0].Segments, 2)
	assert.Equal(t, 4.0, listings[0].Segments[0].Time)
	assert.Equal(t, 8.0, listings[0].Segments[1].End)
}

func TestSegmentsCmd_Errors(t *testing.T) {
	mpd := writeFile(t, t.TempDir(), "vod.mpd", vodMPD)

	_, err := run(t, "segments", mpd, "--rep", "missing")
	assert.ErrorContains(t, err, `representation "missing" not found`)

	_, err = run(t, "segments", filepath.Join(t.TempDir(), "absent.mpd"))
	assert.ErrorContains(t, err, "reading MPD")

	_, err = run(t, "segments", mpd, "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")

	_, err = run(t, "segments", mpd, "--now", "yesterday")
	assert.ErrorContains(t, err, "invalid --now")
}

func TestPlaylistCmd(t *testing.T) {
	mpd := writeFile(t, t.TempDir(), "vod.mpd", vodMPD)

	out, err := run(t, "playlist", mpd, "--channel", "demo")
	require.NoError(t, err)
	assert.Contains(t, out, "demo/v1/playlist.m3u8")
	assert.Contains(t, out, `URI="demo/a1/playlist.m3u8"`)

	out, err = run(t, "playlist", mpd, "--rep", "v1", "--url", "http://cdn/vod/manifest.mpd")
	require.NoError(t, err)
	assert.Contains(t, out, "#EXT-X-MAP:URI=\"http://cdn/vod/v1/init.mp4\"\n")
	assert.Contains(t, out, "#EXTINF:2.000,\nhttp://cdn/vod/v1/0.m4s\n")
	assert.Contains(t, out, "#EXT-X-ENDLIST\n")
}

func TestPlaylistCmd_LiveWindow(t *testing.T) {
	mpd := writeFile(t, t.TempDir(), "live.mpd", liveMPD(1000))

	out, err := run(t, "playlist", mpd, "--rep", "v1", "--url", "http://o/live/live.mpd",
		"--now", "1970-01-01T00:01:52Z", "--window", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "#EXT-X-MEDIA-SEQUENCE:4\n")
	assert.Contains(t, out, "http://o/live/v/5.m4s\n")
	assert.NotContains(t, out, "http://o/live/v/3.m4s\n")
	assert.NotContains(t, out, "#EXT-X-ENDLIST")
}

func TestMergeCmd(t *testing.T) {
	dir := t.TempDir()
	older := writeFile(t, dir, "old.mpd", liveMPD(1000))
	newer := writeFile(t, dir, "new.mpd", liveMPD(1040))

	out, err := run(t, "merge", older, newer, "--url", "http://o/live/live.mpd",
		"--old-now", "1970-01-01T00:01:52Z", "--now", "1970-01-01T00:01:56Z")
	require.NoError(t, err)
	assert.Contains(t, out, "updated=1 replaced=0 kept=0 added=0\n")
	assert.Contains(t, out, "period live representation v1 (video): 7 segments\n")
	assert.Contains(t, out, "http://o/live/v/7.m4s")
}

func TestSmoothCmd(t *testing.T) {
	fixture := writeFile(t, t.TempDir(), "smooth.yaml", smoothFixtureYAML)

	out, err := run(t, "smooth", fixture, "-o", "yaml")
	require.NoError(t, err)

	var listings []listing
	require.NoError(t, yaml.Unmarshal([]byte(out), &listings))
	require.Len(t, listings, 2)
	for _, l := range listings {
		require.Len(t, l.Segments, 6, l.Representation)
		assert.Equal(t, 10.0, l.Segments[5].Time)
		assert.Equal(t, 12.0, l.Segments[5].End)
	}
	assert.Equal(t, "http://origin/QualityLevels(500000)/Fragments(video=100)", listings[1].Segments[5].URL)
}

func TestLoadSmoothFixture_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := loadSmoothFixture(writeFile(t, dir, "empty.yaml", "timescale: 10\n"))
	assert.ErrorContains(t, err, "no quality level")

	_, err = loadSmoothFixture(writeFile(t, dir, "bad.yaml", "timeline: [unclosed"))
	assert.ErrorContains(t, err, "parsing fixture")

	fx, err := loadSmoothFixture(writeFile(t, dir, "mode.yaml", smoothFixtureYAML+"\n"))
	require.NoError(t, err)
	fx.Refresh.Mode = "rewind"
	_, err = evaluateSmooth(fx, time.Now(), 0, nil)
	assert.ErrorContains(t, err, "unknown refresh mode")
}
