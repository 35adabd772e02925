package hls

import (
	"slices"
	"time"
)

// SegmentInfo describes one verse clip within a chapter timeline.
type SegmentInfo struct {
	Verse    int
	URI      string // file name relative to the manifest
	Duration time.Duration
	Start    time.Duration
}

func (s SegmentInfo) End() time.Duration { return s.Start + s.Duration }

func (s SegmentInfo) Timing() VerseTiming {
	return VerseTiming{Verse: s.Verse, Start: s.Start, End: s.End()}
}

// VerseTiming is the read-only view of a segment handed to listeners.
type VerseTiming struct {
	Verse int
	Start time.Duration
	End   time.Duration
}

// ManifestState is a snapshot of one chapter playlist.
type ManifestState struct {
	Ref          string
	Path         string
	Segments     []SegmentInfo
	Complete     bool
	LastModified time.Time
}

// TotalDuration is the end of the last segment, or 0 for an empty playlist.
func (m ManifestState) TotalDuration() time.Duration {
	if len(m.Segments) == 0 {
		return 0
	}
	return m.Segments[len(m.Segments)-1].End()
}

func (m ManifestState) Timings() []VerseTiming {
	return Timings(m.Segments)
}

func (m ManifestState) clone() ManifestState {
	m.Segments = slices.Clone(m.Segments)
	return m
}

// Timings projects segments to their verse timings.
func Timings(segments []SegmentInfo) []VerseTiming {
	out := make([]VerseTiming, len(segments))
	for i, s := range segments {
		out[i] = s.Timing()
	}
	return out
}
