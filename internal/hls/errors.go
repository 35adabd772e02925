package hls

import (
	"errors"
	"fmt"
)

var (
	ErrManifestNotFound      = errors.New("manifest not found")
	ErrInvalidManifestFormat = errors.New("invalid manifest format")
	ErrFileWriteFailure      = errors.New("file write failure")
	ErrManifestComplete      = errors.New("manifest already complete")
	ErrSegmentOutOfOrder     = errors.New("segment out of order")
	ErrChapterBusy           = errors.New("chapter is being generated")
)

// WriteError reports a manifest rewrite that did not reach the byte store.
// The previous manifest content is left in place.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() []error { return []error{ErrFileWriteFailure, e.Err} }

// SegmentMissingError names the first playlist entry with no backing file.
// Verse is 0 when the file name carries no verse number.
type SegmentMissingError struct {
	Verse int
	Path  string
}

func (e *SegmentMissingError) Error() string {
	return fmt.Sprintf("segment missing for verse %d (%s)", e.Verse, e.Path)
}

func notFound(chapterKey string) error {
	return fmt.Errorf("%w: %s", ErrManifestNotFound, chapterKey)
}
