package generator

import (
	"errors"
	"fmt"
	"strings"
)

var ErrNoVerses = errors.New("chapter has no verses")

type Kind string

const (
	// SegmentGenerationFailed means both the remote and the local backend
	// failed for one verse.
	SegmentGenerationFailed Kind = "segment_generation_failed"
	ManifestCreationFailed  Kind = "manifest_creation_failed"
	CachingFailed           Kind = "caching_failed"
)

// Phase tells a caller whether playback could start at all.
type Phase string

const (
	PhaseQuickStart Phase = "quick_start"
	PhaseBackground Phase = "background"
)

// Error terminates a generation run. The playlist stays as last written.
type Error struct {
	Kind       Kind
	Phase      Phase
	ChapterKey string
	Verse      int
	Path       string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s during %s for %s", e.Kind, e.Phase, e.ChapterKey)
	if e.Verse > 0 {
		fmt.Fprintf(&b, " verse %d", e.Verse)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (%s)", e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// IsQuickStartFailure reports whether err prevented the first playable
// manifest from being produced.
func IsQuickStartFailure(err error) bool {
	var genErr *Error
	return errors.As(err, &genErr) && genErr.Phase == PhaseQuickStart
}
