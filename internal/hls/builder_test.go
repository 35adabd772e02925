package hls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/versecast/internal/segment"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestBuilder(t *testing.T) (*Builder, *segment.Store) {
	t.Helper()
	fs, err := segment.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	store := segment.New(fs, fs.Root(), "")
	b := NewBuilder(store, newLogger())
	b.clock = func() time.Time { return time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC) }
	return b, store
}

// timeline builds contiguous segments for verses 1..len(durations).
func timeline(key string, durations ...time.Duration) []SegmentInfo {
	var out []SegmentInfo
	var start time.Duration
	for i, d := range durations {
		out = append(out, SegmentInfo{Verse: i + 1, URI: fmt.Sprintf("%s-v%03d.mp3", key, i+1), Duration: d, Start: start})
		start += d
	}
	return out
}

func read(t *testing.T, store *segment.Store, key string) string {
	t.Helper()
	data, err := store.Read(store.ManifestPathFor(key))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	return string(data)
}

func TestCreateAppendComplete(t *testing.T) {
	b, store := newTestBuilder(t)
	segs := timeline("ch", 2*time.Second, 2*time.Second, 2*time.Second, 7200*time.Millisecond)

	ref, err := b.Create("ch", segs[:3])
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(ref, "file://") || !strings.HasSuffix(ref, "/ch.m3u8") {
		t.Fatalf("unexpected ref %q", ref)
	}
	if !strings.Contains(read(t, store, "ch"), "#EXT-X-TARGETDURATION:3\n") {
		t.Fatalf("unexpected target duration after create:\n%s", read(t, store, "ch"))
	}
	if b.IsComplete("ch") {
		t.Fatalf("new manifest must not be complete")
	}

	if err := b.Append("ch", segs[3]); err != nil {
		t.Fatalf("append: %v", err)
	}
	text := read(t, store, "ch")
	if !strings.Contains(text, "#EXT-X-TARGETDURATION:9\n") {
		t.Fatalf("target duration not recomputed on append:\n%s", text)
	}
	if strings.Contains(text, tagEndList) {
		t.Fatalf("end marker written before completion")
	}

	if err := b.MarkComplete("ch"); err != nil {
		t.Fatalf("mark complete: %v", err)
	}
	if err := b.MarkComplete("ch"); err != nil {
		t.Fatalf("second mark complete: %v", err)
	}
	text = read(t, store, "ch")
	if n := strings.Count(text, tagEndList); n != 1 {
		t.Fatalf("expected exactly one end marker, got %d", n)
	}
	if !b.IsComplete("ch") {
		t.Fatalf("expected complete")
	}

	state, ok := b.State("ch")
	if !ok {
		t.Fatalf("expected in-memory state")
	}
	if len(state.Segments) != 4 || state.TotalDuration() != 13200*time.Millisecond {
		t.Fatalf("unexpected state: %d segments, total %v", len(state.Segments), state.TotalDuration())
	}
	if state.LastModified.IsZero() {
		t.Fatalf("last modified not recorded")
	}
}

func TestAppendRequiresCreate(t *testing.T) {
	b, _ := newTestBuilder(t)
	err := b.Append("missing", timeline("missing", time.Second)[0])
	if !errors.Is(err, ErrManifestNotFound) {
		t.Fatalf("expected ErrManifestNotFound, got %v", err)
	}
	if err := b.MarkComplete("missing"); !errors.Is(err, ErrManifestNotFound) {
		t.Fatalf("expected ErrManifestNotFound, got %v", err)
	}
}

func TestAppendAfterCompleteRejected(t *testing.T) {
	b, _ := newTestBuilder(t)
	segs := timeline("ch", time.Second, time.Second)
	if _, err := b.Create("ch", segs[:1]); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := b.MarkComplete("ch"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := b.Append("ch", segs[1]); !errors.Is(err, ErrManifestComplete) {
		t.Fatalf("expected ErrManifestComplete, got %v", err)
	}
}

func TestAppendOutOfOrderRejected(t *testing.T) {
	b, store := newTestBuilder(t)
	segs := timeline("ch", time.Second, time.Second, time.Second)
	if _, err := b.Create("ch", segs[:2]); err != nil {
		t.Fatalf("create: %v", err)
	}
	before := read(t, store, "ch")

	repeat := segs[1]
	repeat.Start = segs[1].End()
	if err := b.Append("ch", repeat); !errors.Is(err, ErrSegmentOutOfOrder) {
		t.Fatalf("expected ErrSegmentOutOfOrder for repeated verse, got %v", err)
	}
	gap := segs[2]
	gap.Start += 10 * time.Millisecond
	if err := b.Append("ch", gap); !errors.Is(err, ErrSegmentOutOfOrder) {
		t.Fatalf("expected ErrSegmentOutOfOrder for gap, got %v", err)
	}
	if read(t, store, "ch") != before {
		t.Fatalf("rejected append modified the manifest")
	}
	if _, err := b.Create("other", segs[1:]); !errors.Is(err, ErrSegmentOutOfOrder) {
		t.Fatalf("create must reject a timeline not starting at zero, got %v", err)
	}
}

func TestManifestAndIsCompleteReadDisk(t *testing.T) {
	b, store := newTestBuilder(t)
	if _, ok := b.Manifest("ch"); ok {
		t.Fatalf("manifest should not exist yet")
	}
	if _, err := b.Create("ch", timeline("ch", time.Second)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := b.MarkComplete("ch"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	fresh := NewBuilder(store, newLogger())
	ref, ok := fresh.Manifest("ch")
	if !ok || !strings.HasSuffix(ref, "ch.m3u8") {
		t.Fatalf("expected manifest from disk, got %q %v", ref, ok)
	}
	if !fresh.IsComplete("ch") {
		t.Fatalf("expected completion read from disk")
	}
	if fresh.IsComplete("unknown") {
		t.Fatalf("unknown chapter must not be complete")
	}
}

func TestValidate(t *testing.T) {
	b, store := newTestBuilder(t)
	if err := b.Validate("ch"); !errors.Is(err, ErrManifestNotFound) {
		t.Fatalf("expected ErrManifestNotFound, got %v", err)
	}

	segs := timeline("ch", time.Second, time.Second)
	for _, s := range segs {
		if err := store.Write(s.URI, []byte("audio")); err != nil {
			t.Fatalf("write segment: %v", err)
		}
	}
	if _, err := b.Create("ch", segs); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := b.Validate("ch"); err != nil {
		t.Fatalf("expected valid manifest, got %v", err)
	}

	if err := store.Delete(segs[1].URI); err != nil {
		t.Fatalf("delete segment: %v", err)
	}
	var missing *SegmentMissingError
	if err := b.Validate("ch"); !errors.As(err, &missing) || missing.Verse != 2 {
		t.Fatalf("expected missing verse 2, got %v", err)
	}

	if err := store.Write("odd.m3u8", []byte("#EXTM3U\n#EXTINF:1.000,Intro\nintro.mp3\n")); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := b.Validate("odd"); !errors.As(err, &missing) || missing.Verse != 0 {
		t.Fatalf("expected missing verse 0, got %v", err)
	}

	if err := store.Write("bad.m3u8", []byte("not a playlist\n")); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := b.Validate("bad"); !errors.Is(err, ErrInvalidManifestFormat) {
		t.Fatalf("expected ErrInvalidManifestFormat, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	b, store := newTestBuilder(t)
	segs := timeline("ch", time.Second, time.Second)
	if err := store.Write(segs[0].URI, []byte("a")); err != nil {
		t.Fatalf("write segment: %v", err)
	}
	if _, err := b.Create("ch", segs); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := b.Delete("ch"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if store.Exists("ch.m3u8") || store.Exists(segs[0].URI) {
		t.Fatalf("files left after delete")
	}
	if _, ok := b.State("ch"); ok {
		t.Fatalf("state left after delete")
	}
	if err := b.Append("ch", segs[0]); !errors.Is(err, ErrManifestNotFound) {
		t.Fatalf("expected ErrManifestNotFound after delete, got %v", err)
	}
	if err := b.Delete("ch"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestDeleteRefusedWhileClaimed(t *testing.T) {
	b, store := newTestBuilder(t)
	segs := timeline("ch", time.Second)
	if _, err := b.Create("ch", segs); err != nil {
		t.Fatalf("create: %v", err)
	}
	claim, err := b.Claim(context.Background(), "ch", false, nil)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := b.Delete("ch"); !errors.Is(err, ErrChapterBusy) {
		t.Fatalf("expected ErrChapterBusy, got %v", err)
	}
	if !store.Exists("ch.m3u8") {
		t.Fatalf("manifest removed while claimed")
	}
	claim.Release()
	if err := b.Delete("ch"); err != nil {
		t.Fatalf("delete after release: %v", err)
	}
}

func TestClaimYieldingRefused(t *testing.T) {
	b, _ := newTestBuilder(t)
	first, err := b.Claim(context.Background(), "ch", true, nil)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := b.Claim(context.Background(), "ch", true, nil); !errors.Is(err, ErrChapterBusy) {
		t.Fatalf("second yielding claim: expected ErrChapterBusy, got %v", err)
	}
	first.Release()
	first.Release()
	if b.Claimed("ch") {
		t.Fatalf("chapter still claimed after release")
	}

	holder, err := b.Claim(context.Background(), "ch", false, nil)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	defer holder.Release()
	if _, err := b.Claim(context.Background(), "ch", true, nil); !errors.Is(err, ErrChapterBusy) {
		t.Fatalf("yielding claim over holder: expected ErrChapterBusy, got %v", err)
	}
	if _, err := b.Claim(context.Background(), "ch", false, nil); !errors.Is(err, ErrChapterBusy) {
		t.Fatalf("second holder: expected ErrChapterBusy, got %v", err)
	}
	if _, err := b.Claim(context.Background(), "other", true, nil); err != nil {
		t.Fatalf("unrelated chapter: %v", err)
	}
}

func TestClaimPreemptsYieldingHolder(t *testing.T) {
	b, _ := newTestBuilder(t)
	var yielding *Claim
	preempted := make(chan struct{})
	yielding, err := b.Claim(context.Background(), "ch", true, func() {
		close(preempted)
		go yielding.Release()
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	claim, err := b.Claim(context.Background(), "ch", false, nil)
	if err != nil {
		t.Fatalf("preempting claim: %v", err)
	}
	defer claim.Release()
	select {
	case <-preempted:
	default:
		t.Fatalf("yielding holder was not preempted")
	}

	ctx, cancel := context.WithCancel(context.Background())
	stuck, err := b.Claim(ctx, "other", true, nil)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	defer stuck.Release()
	cancel()
	if _, err := b.Claim(ctx, "other", false, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled while waiting, got %v", err)
	}
}

func TestResume(t *testing.T) {
	b, store := newTestBuilder(t)
	segs := timeline("ch", 2*time.Second, 1500*time.Millisecond, 2*time.Second)
	if _, err := b.Create("ch", segs[:2]); err != nil {
		t.Fatalf("create: %v", err)
	}

	fresh := NewBuilder(store, newLogger())
	state, err := fresh.Resume("ch")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(state.Segments) != 2 || state.TotalDuration() != 3500*time.Millisecond || state.Complete {
		t.Fatalf("unexpected resumed state: %+v", state)
	}
	if err := fresh.Append("ch", segs[2]); err != nil {
		t.Fatalf("append after resume: %v", err)
	}
	if _, err := fresh.Resume("missing"); !errors.Is(err, ErrManifestNotFound) {
		t.Fatalf("expected ErrManifestNotFound, got %v", err)
	}
}

type failingStore struct {
	segment.ByteStore
	fail bool
}

func (f *failingStore) Write(path string, data []byte) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.ByteStore.Write(path, data)
}

func TestWriteFailureKeepsPreviousState(t *testing.T) {
	fs, err := segment.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	flaky := &failingStore{ByteStore: fs}
	store := segment.New(flaky, fs.Root(), "")
	b := NewBuilder(store, newLogger())

	segs := timeline("ch", time.Second, time.Second)
	if _, err := b.Create("ch", segs[:1]); err != nil {
		t.Fatalf("create: %v", err)
	}
	flaky.fail = true
	err = b.Append("ch", segs[1])
	var writeErr *WriteError
	if !errors.Is(err, ErrFileWriteFailure) || !errors.As(err, &writeErr) || writeErr.Path != "ch.m3u8" {
		t.Fatalf("expected WriteError for ch.m3u8, got %v", err)
	}
	state, _ := b.State("ch")
	if len(state.Segments) != 1 {
		t.Fatalf("failed append must not change state, got %d segments", len(state.Segments))
	}

	if _, err := b.Create("other", segs[:1]); !errors.Is(err, ErrFileWriteFailure) {
		t.Fatalf("expected create to fail, got %v", err)
	}
	if _, ok := b.State("other"); ok {
		t.Fatalf("failed create must not leave an entry")
	}
}

func TestConcurrentChapters(t *testing.T) {
	b, _ := newTestBuilder(t)
	const chapters = 8
	const verses = 12
	var wg sync.WaitGroup
	errs := make(chan error, chapters)
	for c := 0; c < chapters; c++ {
		key := fmt.Sprintf("ch%d", c)
		wg.Add(1)
		go func() {
			defer wg.Done()
			durs := make([]time.Duration, verses)
			for i := range durs {
				durs[i] = time.Second
			}
			segs := timeline(key, durs...)
			if _, err := b.Create(key, segs[:1]); err != nil {
				errs <- err
				return
			}
			for _, s := range segs[1:] {
				if err := b.Append(key, s); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent append: %v", err)
	}
	for c := 0; c < chapters; c++ {
		state, ok := b.State(fmt.Sprintf("ch%d", c))
		if !ok || len(state.Segments) != verses {
			t.Fatalf("chapter %d: expected %d segments", c, verses)
		}
	}
}
