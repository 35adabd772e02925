package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/versecast/internal/bus"
	"github.com/loqalabs/versecast/internal/chapter"
	"github.com/loqalabs/versecast/internal/hls"
	"github.com/loqalabs/versecast/internal/protocol"
)

// Service accepts generation requests from the bus and publishes the
// progress of each run as chapter events. Listening requests go to the
// interactive generator, precache requests to a separate one so that
// warming the cache never supersedes playback.
type Service struct {
	bus         *bus.Client
	interactive *Generator
	precache    *Generator
	subs        []*nats.Subscription
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	logger      *slog.Logger
}

func NewService(parent context.Context, busClient *bus.Client, interactive, precache *Generator, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:         busClient,
		interactive: interactive,
		precache:    precache,
		ctx:         ctx,
		cancel:      cancel,
		logger:      log.With(slog.String("component", "generation-service")),
	}
}

func (s *Service) Start() error {
	conn := s.bus.Conn()
	reqSub, err := conn.Subscribe(protocol.SubjectGenerateRequest, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", protocol.SubjectGenerateRequest, err)
	}
	cancelSub, err := conn.Subscribe(protocol.SubjectGenerateCancel, s.handleCancel)
	if err != nil {
		_ = reqSub.Unsubscribe()
		return fmt.Errorf("subscribe %s: %w", protocol.SubjectGenerateCancel, err)
	}
	s.subs = []*nats.Subscription{reqSub, cancelSub}
	s.logger.Info("generation service listening", slog.String("subject", protocol.SubjectGenerateRequest))
	return nil
}

// Close stops accepting requests, cancels running generations at their next
// verse boundary and waits for them to report.
func (s *Service) Close() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return len(s.subs) == 2 && s.bus.Healthy() }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.GenerateRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode generation request", slogError(err))
		s.reply(msg, protocol.Ack{Error: "malformed request"})
		return
	}

	ch := chapterFromRequest(req)
	gen, mode, err := s.route(req, ch)
	if err != nil {
		s.logger.Warn("rejected generation request", slog.String("request", req.RequestID), slogError(err))
		s.reply(msg, protocol.Ack{RequestID: req.RequestID, ChapterKey: ch.Key(), Error: err.Error()})
		return
	}
	priority, err := ParsePriority(req.Priority)
	if err != nil {
		s.reply(msg, protocol.Ack{RequestID: req.RequestID, ChapterKey: ch.Key(), Error: err.Error()})
		return
	}

	s.reply(msg, protocol.Ack{RequestID: req.RequestID, ChapterKey: ch.Key(), Accepted: true})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(req.RequestID, ch, gen, mode, priority)
	}()
}

func (s *Service) route(req protocol.GenerateRequest, ch chapter.Chapter) (*Generator, string, error) {
	if err := ch.Validate(); err != nil {
		return nil, "", err
	}
	if len(ch.Verses) == 0 {
		return nil, "", ErrNoVerses
	}
	switch req.Mode {
	case "", protocol.ModeProgressive:
		return s.interactive, protocol.ModeProgressive, nil
	case protocol.ModePrecache:
		if s.interactive.ActiveChapter() == ch.Key() {
			return nil, "", fmt.Errorf("%w: %s", hls.ErrChapterBusy, ch.Key())
		}
		return s.precache, protocol.ModePrecache, nil
	default:
		return nil, "", fmt.Errorf("unknown mode %q", req.Mode)
	}
}

func (s *Service) run(requestID string, ch chapter.Chapter, gen *Generator, mode string, priority Priority) {
	key := ch.Key()
	emit := func(ev protocol.GenerationEvent) {
		ev.RequestID = requestID
		ev.ChapterKey = key
		ev.Timestamp = time.Now().UTC()
		if err := s.bus.PublishJSON(protocol.EventSubject(key), ev); err != nil {
			s.logger.Warn("failed to publish generation event", slog.String("type", ev.Type), slogError(err))
		}
	}
	onProgress := func(fraction float64) {
		emit(protocol.GenerationEvent{Type: protocol.EventProgress, Progress: fraction})
	}

	var (
		res Result
		err error
	)
	if mode == protocol.ModePrecache {
		res, err = gen.GenerateComplete(s.ctx, ch, priority, onProgress)
	} else {
		res, err = gen.GenerateProgressive(s.ctx, ch, priority, Callbacks{
			OnProgress: onProgress,
			OnQuickStart: func(ref string, timings []hls.VerseTiming) {
				emit(protocol.GenerationEvent{Type: protocol.EventQuickStart, ManifestRef: ref, Timings: wireTimings(timings)})
			},
			OnProgressiveUpdate: func(ref string, timings []hls.VerseTiming) {
				emit(protocol.GenerationEvent{Type: protocol.EventUpdate, ManifestRef: ref, Timings: wireTimings(timings)})
			},
		})
	}

	switch {
	case err == nil:
		emit(protocol.GenerationEvent{
			Type:            protocol.EventComplete,
			ManifestRef:     res.ManifestRef,
			Progress:        1,
			Timings:         wireTimings(res.Timings),
			TotalDurationMS: res.TotalDuration.Milliseconds(),
			SegmentCount:    res.SegmentCount,
		})
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		emit(protocol.GenerationEvent{Type: protocol.EventCancelled})
	default:
		ev := protocol.GenerationEvent{Type: protocol.EventFailed, Error: err.Error()}
		var genErr *Error
		if errors.As(err, &genErr) {
			ev.ErrorKind = string(genErr.Kind)
			ev.Phase = string(genErr.Phase)
		}
		emit(ev)
	}
}

func (s *Service) handleCancel(msg *nats.Msg) {
	var req protocol.CancelRequest
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.logger.Warn("failed to decode cancel request", slogError(err))
			s.reply(msg, protocol.Ack{Error: "malformed request"})
			return
		}
	}

	var targets []*Generator
	switch req.Mode {
	case "":
		targets = []*Generator{s.interactive, s.precache}
	case protocol.ModeProgressive:
		targets = []*Generator{s.interactive}
	case protocol.ModePrecache:
		targets = []*Generator{s.precache}
	default:
		s.reply(msg, protocol.Ack{ChapterKey: req.ChapterKey, Error: fmt.Sprintf("unknown mode %q", req.Mode)})
		return
	}

	cancelled := false
	for _, gen := range targets {
		active := gen.ActiveChapter()
		if active == "" || (req.ChapterKey != "" && active != req.ChapterKey) {
			continue
		}
		gen.Cancel()
		cancelled = true
		s.logger.Info("cancel requested", slog.String("chapter", active))
	}
	s.reply(msg, protocol.Ack{ChapterKey: req.ChapterKey, Accepted: cancelled})
}

func (s *Service) reply(msg *nats.Msg, ack protocol.Ack) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(ack)
	if err != nil {
		s.logger.Warn("failed to marshal ack", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send ack", slogError(err))
	}
}

func chapterFromRequest(req protocol.GenerateRequest) chapter.Chapter {
	ch := chapter.Chapter{Translation: req.Translation, Book: req.Book, Number: req.Chapter}
	if ch.Translation == "" {
		ch.Translation = "text"
	}
	ch.Verses = make([]chapter.Verse, len(req.Verses))
	for i, v := range req.Verses {
		ch.Verses[i] = chapter.Verse{Number: v.Number, Text: v.Text}
	}
	return ch
}

func wireTimings(timings []hls.VerseTiming) []protocol.VerseTiming {
	out := make([]protocol.VerseTiming, len(timings))
	for i, t := range timings {
		out[i] = protocol.VerseTiming{Verse: t.Verse, StartMS: t.Start.Milliseconds(), EndMS: t.End.Milliseconds()}
	}
	return out
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
