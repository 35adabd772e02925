package hls

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/versecast/internal/segment"
)

// Builder owns the playlist of every chapter it has created or resumed.
// The table lock guards only the map; each entry serializes its own
// rewrites, so unrelated chapters never wait on each other.
type Builder struct {
	store  *segment.Store
	clock  func() time.Time
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	claims  map[string]*Claim
}

type entry struct {
	mu      sync.Mutex
	state   ManifestState
	removed bool
}

func NewBuilder(store *segment.Store, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		store:   store,
		clock:   time.Now,
		logger:  logger.With(slog.String("component", "hls-builder")),
		entries: make(map[string]*entry),
		claims:  make(map[string]*Claim),
	}
}

// Create writes a fresh, incomplete playlist holding segments and returns its
// reference. An existing entry for chapterKey is replaced.
func (b *Builder) Create(chapterKey string, segments []SegmentInfo) (string, error) {
	if err := checkSequence(nil, segments...); err != nil {
		return "", err
	}
	manifestPath := b.store.ManifestPathFor(chapterKey)
	e := &entry{state: ManifestState{
		Ref:      b.store.Ref(manifestPath),
		Path:     manifestPath,
		Segments: slices.Clone(segments),
	}}
	e.mu.Lock()
	defer e.mu.Unlock()

	b.mu.Lock()
	old := b.entries[chapterKey]
	b.entries[chapterKey] = e
	b.mu.Unlock()

	// Wait out any rewrite still in flight on the replaced entry.
	if old != nil {
		old.mu.Lock()
		old.removed = true
		old.mu.Unlock()
	}

	if err := b.write(manifestPath, e.state.Segments, false); err != nil {
		e.removed = true
		b.mu.Lock()
		if b.entries[chapterKey] == e {
			delete(b.entries, chapterKey)
		}
		b.mu.Unlock()
		return "", err
	}
	e.state.LastModified = b.clock()
	b.logger.Debug("manifest created", slog.String("chapter", chapterKey), slog.Int("segments", len(segments)))
	return e.state.Ref, nil
}

// Append adds seg to the tail of the playlist and rewrites it. seg must
// follow the last segment in verse order and start where it ends.
func (b *Builder) Append(chapterKey string, seg SegmentInfo) error {
	e, err := b.acquire(chapterKey)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	if e.state.Complete {
		return fmt.Errorf("%w: %s", ErrManifestComplete, chapterKey)
	}
	if err := checkSequence(e.state.Segments, seg); err != nil {
		return err
	}
	segments := append(slices.Clone(e.state.Segments), seg)
	if err := b.write(e.state.Path, segments, false); err != nil {
		return err
	}
	e.state.Segments = segments
	e.state.LastModified = b.clock()
	return nil
}

// MarkComplete terminates the playlist. Calling it again is a no-op.
func (b *Builder) MarkComplete(chapterKey string) error {
	e, err := b.acquire(chapterKey)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	if e.state.Complete {
		return nil
	}
	if err := b.write(e.state.Path, e.state.Segments, true); err != nil {
		return err
	}
	e.state.Complete = true
	e.state.LastModified = b.clock()
	b.logger.Debug("manifest complete", slog.String("chapter", chapterKey), slog.Int("segments", len(e.state.Segments)))
	return nil
}

// Manifest reports the playlist reference if a playlist exists in the byte
// store, regardless of what this process has in memory.
func (b *Builder) Manifest(chapterKey string) (string, bool) {
	p := b.store.ManifestPathFor(chapterKey)
	if !b.store.Exists(p) {
		return "", false
	}
	return b.store.Ref(p), true
}

// IsComplete prefers in-memory state and otherwise looks for the end marker
// in the stored playlist.
func (b *Builder) IsComplete(chapterKey string) bool {
	if state, ok := b.State(chapterKey); ok {
		return state.Complete
	}
	data, err := b.store.Read(b.store.ManifestPathFor(chapterKey))
	if err != nil {
		return false
	}
	return bytes.Contains(data, []byte(tagEndList))
}

// State returns a copy of the in-memory playlist state.
func (b *Builder) State(chapterKey string) (ManifestState, bool) {
	e, err := b.acquire(chapterKey)
	if err != nil {
		return ManifestState{}, false
	}
	defer e.mu.Unlock()
	return e.state.clone(), true
}

// Resume loads a playlist written by an earlier process into memory so
// generation can continue appending to it.
func (b *Builder) Resume(chapterKey string) (ManifestState, error) {
	if state, ok := b.State(chapterKey); ok {
		return state, nil
	}
	manifestPath := b.store.ManifestPathFor(chapterKey)
	data, err := b.store.Read(manifestPath)
	if err != nil {
		return ManifestState{}, notFound(chapterKey)
	}
	pl, err := Parse(data)
	if err != nil {
		return ManifestState{}, err
	}
	e := &entry{state: ManifestState{
		Ref:          b.store.Ref(manifestPath),
		Path:         manifestPath,
		Segments:     pl.Segments,
		Complete:     pl.Complete,
		LastModified: b.clock(),
	}}
	snapshot := e.state.clone()

	b.mu.Lock()
	_, raced := b.entries[chapterKey]
	if !raced {
		b.entries[chapterKey] = e
	}
	b.mu.Unlock()
	if raced {
		if state, ok := b.State(chapterKey); ok {
			return state, nil
		}
		return ManifestState{}, notFound(chapterKey)
	}
	return snapshot, nil
}

// Validate checks the stored playlist header and that every segment it names
// exists in the byte store.
func (b *Builder) Validate(chapterKey string) error {
	manifestPath := b.store.ManifestPathFor(chapterKey)
	if !b.store.Exists(manifestPath) {
		return notFound(chapterKey)
	}
	data, err := b.store.Read(manifestPath)
	if err != nil {
		return notFound(chapterKey)
	}
	firstLine, _, _ := strings.Cut(string(data), "\n")
	if strings.TrimSpace(firstLine) != tagHeader {
		return fmt.Errorf("%w: %s", ErrInvalidManifestFormat, manifestPath)
	}
	dir := path.Dir(manifestPath)
	for _, uri := range segmentURIs(data) {
		if !b.store.Exists(path.Join(dir, uri)) {
			return &SegmentMissingError{Verse: VerseFromName(uri), Path: uri}
		}
	}
	return nil
}

// Delete removes the playlist, every segment it references and the
// in-memory entry. Missing files are ignored. It fails with ErrChapterBusy
// while a writer holds the chapter, and holds the chapter itself while
// removing files.
func (b *Builder) Delete(chapterKey string) error {
	claim, err := b.Claim(context.Background(), chapterKey, true, nil)
	if err != nil {
		return err
	}
	defer claim.Release()

	b.mu.Lock()
	e := b.entries[chapterKey]
	delete(b.entries, chapterKey)
	b.mu.Unlock()
	if e != nil {
		e.mu.Lock()
		e.removed = true
		defer e.mu.Unlock()
	}

	manifestPath := b.store.ManifestPathFor(chapterKey)
	dir := path.Dir(manifestPath)
	if data, err := b.store.Read(manifestPath); err == nil {
		for _, uri := range segmentURIs(data) {
			if err := b.store.Delete(path.Join(dir, uri)); err != nil {
				b.logger.Warn("failed to delete segment", slog.String("chapter", chapterKey), slog.String("path", uri), slog.String("error", err.Error()))
			}
		}
	}
	if err := b.store.Delete(manifestPath); err != nil {
		b.logger.Warn("failed to delete manifest", slog.String("chapter", chapterKey), slog.String("error", err.Error()))
	}
	return nil
}

// acquire returns the locked live entry for chapterKey.
func (b *Builder) acquire(chapterKey string) (*entry, error) {
	b.mu.RLock()
	e := b.entries[chapterKey]
	b.mu.RUnlock()
	if e == nil {
		return nil, notFound(chapterKey)
	}
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return nil, notFound(chapterKey)
	}
	return e, nil
}

func (b *Builder) write(manifestPath string, segments []SegmentInfo, complete bool) error {
	if err := b.store.Write(manifestPath, Render(segments, complete)); err != nil {
		return &WriteError{Path: manifestPath, Err: err}
	}
	return nil
}

// checkSequence verifies that next continues existing: verse numbers
// strictly increase and each segment starts where the previous one ends.
func checkSequence(existing []SegmentInfo, next ...SegmentInfo) error {
	var prev *SegmentInfo
	if n := len(existing); n > 0 {
		prev = &existing[n-1]
	}
	for i := range next {
		s := next[i]
		if s.Duration <= 0 {
			return fmt.Errorf("%w: verse %d has non-positive duration %v", ErrSegmentOutOfOrder, s.Verse, s.Duration)
		}
		switch {
		case prev == nil && s.Start != 0:
			return fmt.Errorf("%w: first segment (verse %d) starts at %v", ErrSegmentOutOfOrder, s.Verse, s.Start)
		case prev != nil && s.Verse <= prev.Verse:
			return fmt.Errorf("%w: verse %d after verse %d", ErrSegmentOutOfOrder, s.Verse, prev.Verse)
		case prev != nil && s.Start != prev.End():
			return fmt.Errorf("%w: verse %d starts at %v, previous ends at %v", ErrSegmentOutOfOrder, s.Verse, s.Start, prev.End())
		}
		prev = &next[i]
	}
	return nil
}
