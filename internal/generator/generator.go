package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/loqalabs/versecast/internal/chapter"
	"github.com/loqalabs/versecast/internal/config"
	"github.com/loqalabs/versecast/internal/eventstore"
	"github.com/loqalabs/versecast/internal/hls"
	"github.com/loqalabs/versecast/internal/segment"
	"github.com/loqalabs/versecast/internal/tts"
)

const (
	modeProgressive = "progressive"
	modeComplete    = "complete"
)

// Recorder keeps a durable account of runs and of the backend behind each
// segment.
type Recorder interface {
	BeginRun(ctx context.Context, run eventstore.Run) error
	RecordSegment(ctx context.Context, seg eventstore.Segment) error
	FinishRun(ctx context.Context, runID string, status eventstore.Status, segments int, total time.Duration, runErr error) error
}

type Options struct {
	QuickStartVerses int
	UpdateEvery      int
	VerseTimeout     time.Duration
	// Verses per second for throttled priorities; zero is unthrottled.
	BackgroundRate float64
	LowRate        float64
	// Yield makes runs give their chapter up to a non-yielding generator
	// sharing the builder, and refuse chapters another generator holds.
	Yield bool
}

func OptionsFromConfig(gen config.GeneratorConfig, synth config.SynthesisConfig) Options {
	return Options{
		QuickStartVerses: gen.QuickStartVerses,
		UpdateEvery:      gen.UpdateEvery,
		VerseTimeout:     time.Duration(synth.TimeoutMS) * time.Millisecond,
		BackgroundRate:   gen.BackgroundVersesPerSecond,
		LowRate:          gen.LowVersesPerSecond,
	}
}

// Callbacks are optional. They run synchronously on the generating
// goroutine, after the manifest write they describe.
type Callbacks struct {
	OnProgress          func(fraction float64)
	OnQuickStart        func(manifestRef string, timings []hls.VerseTiming)
	OnProgressiveUpdate func(manifestRef string, timings []hls.VerseTiming)
}

type Result struct {
	ManifestRef   string
	TotalDuration time.Duration
	Timings       []hls.VerseTiming
	SegmentCount  int
}

// Generator turns chapters into playlists. It runs one generation at a time;
// starting another cancels the current one and waits for it to stop.
type Generator struct {
	remote  tts.VerseSynthesizer
	local   tts.LocalSynthesizer
	store   *segment.Store
	builder *hls.Builder
	ledger  Recorder
	opts    Options
	pacers  map[Priority]*rate.Limiter
	tracer  trace.Tracer
	metrics *instruments
	logger  *slog.Logger

	mu     sync.Mutex
	active *run
}

type run struct {
	id      string
	chapter string
	claim   *hls.Claim
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a Generator. local and ledger may be nil.
func New(opts Options, remote tts.VerseSynthesizer, local tts.LocalSynthesizer, store *segment.Store, builder *hls.Builder, ledger Recorder, logger *slog.Logger) *Generator {
	if opts.QuickStartVerses <= 0 {
		opts.QuickStartVerses = 3
	}
	if opts.UpdateEvery <= 0 {
		opts.UpdateEvery = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "generator"))
	return &Generator{
		remote:  remote,
		local:   local,
		store:   store,
		builder: builder,
		ledger:  ledger,
		opts:    opts,
		pacers:  newPacers(opts.BackgroundRate, opts.LowRate),
		tracer:  otel.Tracer(instrumentationName),
		metrics: newInstruments(logger),
		logger:  logger,
	}
}

// GenerateProgressive synthesizes the first few verses, publishes a playable
// manifest through OnQuickStart, then appends the remaining verses. The
// manifest is marked complete only when every verse was appended.
func (g *Generator) GenerateProgressive(ctx context.Context, ch chapter.Chapter, priority Priority, cb Callbacks) (Result, error) {
	if len(ch.Verses) == 0 {
		return Result{}, ErrNoVerses
	}
	ctx, r, err := g.begin(ctx, ch.Key())
	if err != nil {
		return Result{}, err
	}
	defer g.finish(r)
	return g.execute(ctx, r, ch, priority, modeProgressive, func(ctx context.Context) (Result, error) {
		return g.progressive(ctx, ch, priority, cb)
	})
}

// GenerateComplete synthesizes the whole chapter and then writes the
// manifest once, already complete.
func (g *Generator) GenerateComplete(ctx context.Context, ch chapter.Chapter, priority Priority, onProgress func(float64)) (Result, error) {
	if len(ch.Verses) == 0 {
		return Result{}, ErrNoVerses
	}
	ctx, r, err := g.begin(ctx, ch.Key())
	if err != nil {
		return Result{}, err
	}
	defer g.finish(r)
	return g.execute(ctx, r, ch, priority, modeComplete, func(ctx context.Context) (Result, error) {
		return g.complete(ctx, ch, priority, onProgress)
	})
}

// Cancel stops the active run at its next verse boundary.
func (g *Generator) Cancel() {
	g.mu.Lock()
	r := g.active
	g.mu.Unlock()
	if r != nil {
		r.cancel()
	}
}

// Active reports whether a run is in progress.
func (g *Generator) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active != nil
}

// ActiveChapter returns the key of the chapter being generated, or "".
func (g *Generator) ActiveChapter() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == nil {
		return ""
	}
	return g.active.chapter
}

// begin makes r the active run once the previous one has stopped, then
// claims the chapter in the shared builder.
func (g *Generator) begin(parent context.Context, key string) (context.Context, *run, error) {
	ctx, cancel := context.WithCancel(parent)
	r := &run{id: uuid.NewString(), chapter: key, cancel: cancel, done: make(chan struct{})}

	g.mu.Lock()
	prev := g.active
	g.active = r
	g.mu.Unlock()
	g.metrics.running.Add(1)

	if prev != nil {
		g.logger.Info("superseding active generation", slog.String("run", prev.id))
		prev.cancel()
		<-prev.done
	}

	claim, err := g.builder.Claim(ctx, key, g.opts.Yield, cancel)
	if err != nil {
		g.logger.Info("chapter unavailable", slog.String("chapter", key), slog.String("error", err.Error()))
		g.finish(r)
		return nil, nil, err
	}
	r.claim = claim
	return ctx, r, nil
}

func (g *Generator) finish(r *run) {
	r.cancel()
	if r.claim != nil {
		r.claim.Release()
	}
	g.mu.Lock()
	if g.active == r {
		g.active = nil
	}
	g.mu.Unlock()
	g.metrics.running.Add(-1)
	close(r.done)
}

// execute wraps one run with tracing, logging and the ledger.
func (g *Generator) execute(ctx context.Context, r *run, ch chapter.Chapter, priority Priority, mode string, body func(context.Context) (Result, error)) (Result, error) {
	key := ch.Key()
	ctx, span := g.tracer.Start(ctx, "generator."+mode, trace.WithAttributes(
		attribute.String("chapter", key),
		attribute.String("priority", priority.String()),
		attribute.Int("verses", len(ch.Verses)),
	))
	defer span.End()

	ctx = withRun(ctx, r.id)
	log := g.logger.With(slog.String("run", r.id), slog.String("chapter", key), slog.String("mode", mode))
	log.Info("generation started", slog.Int("verses", len(ch.Verses)), slog.String("priority", priority.String()))

	if g.ledger != nil {
		if err := g.ledger.BeginRun(ctx, eventstore.Run{ID: r.id, ChapterKey: key, Mode: mode, Priority: priority.String()}); err != nil {
			log.Warn("failed to record run start", slog.String("error", err.Error()))
		}
	}

	start := time.Now()
	res, err := body(ctx)

	status := eventstore.StatusComplete
	switch {
	case err == nil:
		log.Info("generation complete", slog.Int("segments", res.SegmentCount), slog.Duration("audio", res.TotalDuration), slog.Duration("took", time.Since(start)))
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		status = eventstore.StatusCancelled
		log.Info("generation cancelled", slog.Duration("took", time.Since(start)))
	default:
		status = eventstore.StatusFailed
		kind := "unknown"
		var genErr *Error
		if errors.As(err, &genErr) {
			kind = string(genErr.Kind)
		}
		g.metrics.failed(ctx, kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		log.Error("generation failed", slog.String("kind", kind), slog.String("error", err.Error()))
	}

	if g.ledger != nil {
		segments, total := res.SegmentCount, res.TotalDuration
		if err != nil {
			if state, ok := g.builder.State(key); ok {
				segments, total = len(state.Segments), state.TotalDuration()
			}
		}
		if lerr := g.ledger.FinishRun(context.WithoutCancel(ctx), r.id, status, segments, total, err); lerr != nil {
			log.Warn("failed to record run result", slog.String("error", lerr.Error()))
		}
	}
	return res, err
}

func (g *Generator) progressive(ctx context.Context, ch chapter.Chapter, priority Priority, cb Callbacks) (Result, error) {
	key := ch.Key()
	total := len(ch.Verses)
	quick := min(g.opts.QuickStartVerses, total)

	segments := make([]hls.SegmentInfo, 0, total)
	var offset time.Duration
	for i, verse := range ch.Verses[:quick] {
		if err := g.pace(ctx, priority); err != nil {
			return Result{}, err
		}
		seg, err := g.produce(ctx, key, verse, offset, PhaseQuickStart)
		if err != nil {
			return Result{}, err
		}
		segments = append(segments, seg)
		offset = seg.End()
		reportProgress(cb.OnProgress, i+1, total)
	}

	ref, err := g.builder.Create(key, segments)
	if err != nil {
		return Result{}, &Error{Kind: ManifestCreationFailed, Phase: PhaseQuickStart, ChapterKey: key, Path: g.store.ManifestPathFor(key), Err: err}
	}
	if cb.OnQuickStart != nil {
		cb.OnQuickStart(ref, hls.Timings(segments))
	}

	processed := 0
	for _, verse := range ch.Verses[quick:] {
		if err := g.pace(ctx, priority); err != nil {
			return Result{}, err
		}
		seg, err := g.produce(ctx, key, verse, offset, PhaseBackground)
		if err != nil {
			return Result{}, err
		}
		if err := g.builder.Append(key, seg); err != nil {
			return Result{}, &Error{Kind: CachingFailed, Phase: PhaseBackground, ChapterKey: key, Verse: verse.Number, Path: g.store.ManifestPathFor(key), Err: err}
		}
		segments = append(segments, seg)
		offset = seg.End()
		processed++
		reportProgress(cb.OnProgress, quick+processed, total)
		if processed%g.opts.UpdateEvery == 0 && cb.OnProgressiveUpdate != nil {
			cb.OnProgressiveUpdate(ref, hls.Timings(segments))
		}
	}

	if err := g.builder.MarkComplete(key); err != nil {
		return Result{}, &Error{Kind: ManifestCreationFailed, Phase: PhaseBackground, ChapterKey: key, Path: g.store.ManifestPathFor(key), Err: err}
	}
	return newResult(ref, segments), nil
}

func (g *Generator) complete(ctx context.Context, ch chapter.Chapter, priority Priority, onProgress func(float64)) (Result, error) {
	key := ch.Key()
	total := len(ch.Verses)
	segments := make([]hls.SegmentInfo, 0, total)
	var offset time.Duration
	for i, verse := range ch.Verses {
		if err := g.pace(ctx, priority); err != nil {
			return Result{}, err
		}
		seg, err := g.produce(ctx, key, verse, offset, PhaseBackground)
		if err != nil {
			return Result{}, err
		}
		segments = append(segments, seg)
		offset = seg.End()
		reportProgress(onProgress, i+1, total)
	}

	manifestPath := g.store.ManifestPathFor(key)
	ref, err := g.builder.Create(key, segments)
	if err != nil {
		return Result{}, &Error{Kind: ManifestCreationFailed, Phase: PhaseBackground, ChapterKey: key, Path: manifestPath, Err: err}
	}
	if err := g.builder.MarkComplete(key); err != nil {
		return Result{}, &Error{Kind: ManifestCreationFailed, Phase: PhaseBackground, ChapterKey: key, Path: manifestPath, Err: err}
	}
	return newResult(ref, segments), nil
}

// pace is the verse boundary: it observes cancellation and applies the
// priority's rate.
func (g *Generator) pace(ctx context.Context, priority Priority) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	limiter, ok := g.pacers[priority]
	if !ok {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// produce synthesizes one verse and stores its audio. Once started it is not
// interrupted by cancellation of ctx.
func (g *Generator) produce(ctx context.Context, key string, verse chapter.Verse, start time.Duration, phase Phase) (hls.SegmentInfo, error) {
	work := context.WithoutCancel(ctx)
	began := time.Now()
	audio, err := g.synthesize(work, key, verse)
	if err != nil {
		return hls.SegmentInfo{}, &Error{Kind: SegmentGenerationFailed, Phase: phase, ChapterKey: key, Verse: verse.Number, Err: err}
	}
	took := time.Since(began)

	path := g.store.PathFor(key, verse.Number, audio.Format)
	if err := g.store.Write(path, audio.Data); err != nil {
		return hls.SegmentInfo{}, &Error{Kind: CachingFailed, Phase: phase, ChapterKey: key, Verse: verse.Number, Path: path, Err: err}
	}
	g.metrics.segment(work, audio.Backend, took)

	if g.ledger != nil {
		rec := eventstore.Segment{
			RunID:      runID(ctx),
			ChapterKey: key,
			Verse:      verse.Number,
			Backend:    string(audio.Backend),
			Duration:   audio.Duration,
			Path:       path,
		}
		if err := g.ledger.RecordSegment(work, rec); err != nil {
			g.logger.Warn("failed to record segment", slog.String("chapter", key), slog.Int("verse", verse.Number), slog.String("error", err.Error()))
		}
	}
	return hls.SegmentInfo{Verse: verse.Number, URI: path, Duration: audio.Duration, Start: start}, nil
}

// synthesize tries the remote backend once, then the local one once.
func (g *Generator) synthesize(ctx context.Context, key string, verse chapter.Verse) (tts.VerseAudio, error) {
	audio, err := g.remote.SynthesizeVerse(ctx, verse.Text, g.opts.VerseTimeout)
	if err == nil {
		if err = checkAudio(audio); err == nil {
			return audio, nil
		}
	}
	if g.local == nil {
		return tts.VerseAudio{}, err
	}

	g.logger.Warn("remote synthesis failed, using local fallback",
		slog.String("chapter", key), slog.Int("verse", verse.Number), slog.String("error", err.Error()))
	g.metrics.fallback(ctx)

	local, lerr := g.local.SynthesizeLocally(ctx, verse.Text)
	if lerr == nil {
		if lerr = checkAudio(local); lerr == nil {
			return local, nil
		}
	}
	return tts.VerseAudio{}, errors.Join(fmt.Errorf("remote: %w", err), fmt.Errorf("local: %w", lerr))
}

func checkAudio(a tts.VerseAudio) error {
	if len(a.Data) == 0 || a.Duration <= 0 {
		return fmt.Errorf("%w: empty clip", tts.ErrAudioDecodingFailed)
	}
	if a.Format == "" {
		return fmt.Errorf("%w: clip has no format", tts.ErrAudioDecodingFailed)
	}
	return nil
}

func reportProgress(fn func(float64), done, total int) {
	if fn != nil {
		fn(float64(done) / float64(total))
	}
}

func newResult(ref string, segments []hls.SegmentInfo) Result {
	res := Result{ManifestRef: ref, Timings: hls.Timings(segments), SegmentCount: len(segments)}
	if n := len(segments); n > 0 {
		res.TotalDuration = segments[n-1].End()
	}
	return res
}

type runKey struct{}

func withRun(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runKey{}, id)
}

func runID(ctx context.Context) string {
	id, _ := ctx.Value(runKey{}).(string)
	return id
}
