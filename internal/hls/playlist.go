package hls

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	tagHeader   = "#EXTM3U"
	tagEndList  = "#EXT-X-ENDLIST"
	tagExtInf   = "#EXTINF:"
	titlePrefix = "Verse "
)

var verseInName = regexp.MustCompile(`v(\d{3})\.`)

// Render produces the playlist text for segments. The target duration is
// derived from the longest segment every time.
func Render(segments []SegmentInfo, complete bool) []byte {
	var b bytes.Buffer
	b.WriteString(tagHeader + "\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", targetDuration(segments))
	b.WriteString("#EXT-X-PLAYLIST-TYPE:EVENT\n")
	for _, s := range segments {
		fmt.Fprintf(&b, "%s%.3f,%s%d\n", tagExtInf, s.Duration.Seconds(), titlePrefix, s.Verse)
		b.WriteString(s.URI + "\n")
	}
	if complete {
		b.WriteString(tagEndList + "\n")
	}
	return b.Bytes()
}

func targetDuration(segments []SegmentInfo) int {
	var longest time.Duration
	for _, s := range segments {
		longest = max(longest, s.Duration)
	}
	return int(math.Ceil(longest.Seconds())) + 1
}

// Playlist is a parsed manifest.
type Playlist struct {
	Segments []SegmentInfo
	Complete bool
}

// Parse reads a manifest written by Render. Segment start offsets are
// rebuilt from the cumulative durations, which carry millisecond precision.
func Parse(data []byte) (Playlist, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	var pl Playlist
	first := true
	var pending *SegmentInfo
	var offset time.Duration
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if first {
			if line != tagHeader {
				return Playlist{}, fmt.Errorf("%w: missing %s header", ErrInvalidManifestFormat, tagHeader)
			}
			first = false
			continue
		}
		switch {
		case strings.HasPrefix(line, tagExtInf):
			seg, err := parseExtInf(line)
			if err != nil {
				return Playlist{}, err
			}
			pending = &seg
		case line == tagEndList:
			pl.Complete = true
		case strings.HasPrefix(line, "#"):
		default:
			seg := SegmentInfo{URI: line}
			if pending != nil {
				seg = *pending
				seg.URI = line
			}
			if seg.Verse == 0 {
				seg.Verse = VerseFromName(line)
			}
			seg.Start = offset
			offset += seg.Duration
			pl.Segments = append(pl.Segments, seg)
			pending = nil
		}
	}
	if err := sc.Err(); err != nil {
		return Playlist{}, fmt.Errorf("%w: %v", ErrInvalidManifestFormat, err)
	}
	if first {
		return Playlist{}, fmt.Errorf("%w: empty manifest", ErrInvalidManifestFormat)
	}
	return pl, nil
}

func parseExtInf(line string) (SegmentInfo, error) {
	durText, title, _ := strings.Cut(strings.TrimPrefix(line, tagExtInf), ",")
	secs, err := strconv.ParseFloat(durText, 64)
	if err != nil || secs < 0 {
		return SegmentInfo{}, fmt.Errorf("%w: bad duration in %q", ErrInvalidManifestFormat, line)
	}
	seg := SegmentInfo{Duration: time.Duration(math.Round(secs*1000)) * time.Millisecond}
	if n, ok := strings.CutPrefix(title, titlePrefix); ok {
		if verse, err := strconv.Atoi(n); err == nil {
			seg.Verse = verse
		}
	}
	return seg, nil
}

// VerseFromName extracts the three-digit verse number embedded in a segment
// file name, or 0.
func VerseFromName(name string) int {
	m := verseInName.FindStringSubmatch(name)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// segmentURIs lists the non-comment lines of a manifest.
func segmentURIs(data []byte) []string {
	var uris []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		uris = append(uris, line)
	}
	return uris
}
