package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/loqalabs/versecast/internal/config"
)

// Client talks to the remote streaming synthesis endpoint. Each request opens
// its own websocket connection and closes it before returning.
type Client struct {
	cfg     config.SynthesisConfig
	voice   Voice
	format  string
	timeout time.Duration
	dialer  *websocket.Dialer
	limiter *rate.Limiter
	clock   func() time.Time
	logger  *slog.Logger
}

type streamResult struct {
	data []byte
	err  error
}

func NewClient(cfg config.SynthesisConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	voice := LookupVoice(cfg.Gender, cfg.Locale)
	if cfg.Voice != "" {
		voice = VoiceByShortName(cfg.Voice)
	}
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60)
	}
	return &Client{
		cfg:     cfg,
		voice:   voice,
		format:  formatExtension(cfg.OutputFormat),
		timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(limit, 1),
		clock:   time.Now,
		logger:  logger.With(slog.String("component", "tts-client")),
	}
}

// Voice returns the voice used by SynthesizeVerse.
func (c *Client) Voice() Voice { return c.voice }

// Synthesize streams one request and returns the reassembled audio payload.
// The stream races a timer; whichever finishes first decides the outcome and
// the other is cancelled and awaited before Synthesize returns.
func (c *Client) Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("synthesis text is empty")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	ctx, cancel := context.WithCancel(ctx)
	result := newOneshot[streamResult]()
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		data, err := c.stream(ctx, req)
		result.Complete(streamResult{data: data, err: err})
	}()

	go func() {
		defer wg.Done()
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			result.Complete(streamResult{err: ErrSynthesisTimedOut})
		case <-ctx.Done():
			result.Complete(streamResult{err: ctx.Err()})
		}
	}()

	out := <-result.Done()
	cancel()
	wg.Wait()

	if out.err != nil {
		c.logger.Debug("synthesis failed", slog.Duration("timeout", timeout), slogError(out.err))
		return nil, out.err
	}
	return out.data, nil
}

// SynthesizeVerse synthesizes text with the configured voice and prosody and
// decodes the payload for its exact duration.
func (c *Client) SynthesizeVerse(ctx context.Context, text string, timeout time.Duration) (VerseAudio, error) {
	data, err := c.Synthesize(ctx, SynthesisRequest{
		Text:    text,
		Voice:   c.voice,
		Rate:    c.cfg.Rate,
		Pitch:   c.cfg.Pitch,
		Volume:  c.cfg.Volume,
		Timeout: timeout,
	})
	if err != nil {
		return VerseAudio{}, err
	}
	duration, err := DecodeDuration(data, c.format)
	if err != nil {
		return VerseAudio{}, err
	}
	return VerseAudio{Data: data, Duration: duration, Format: c.format, Backend: BackendRemote}, nil
}

func (c *Client) stream(ctx context.Context, req SynthesisRequest) ([]byte, error) {
	endpoint, err := c.endpointURL()
	if err != nil {
		return nil, &ConnectionError{Reason: "invalid endpoint", Err: err}
	}
	header := http.Header{}
	if c.cfg.Origin != "" {
		header.Set("Origin", c.cfg.Origin)
	}
	if c.cfg.UserAgent != "" {
		header.Set("User-Agent", c.cfg.UserAgent)
	}

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, dialError(err, resp)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	now := c.clock()
	if err := conn.WriteMessage(websocket.TextMessage, SpeechConfigFrame(now, c.cfg.OutputFormat)); err != nil {
		return nil, ioError(ctx, "send speech.config", err)
	}
	ssml := BuildSSML(req.Voice, req.Rate, req.Pitch, req.Volume, req.Text)
	if err := conn.WriteMessage(websocket.TextMessage, SSMLFrame(newID(), now, ssml)); err != nil {
		return nil, ioError(ctx, "send ssml", err)
	}

	var audio bytes.Buffer
	for {
		kind, frame, err := conn.ReadMessage()
		if err != nil {
			return nil, ioError(ctx, "read", err)
		}
		switch kind {
		case websocket.BinaryMessage:
			payload, ok := DecodeAudioFrame(frame)
			if !ok {
				c.logger.Debug("dropping malformed audio frame", slog.Int("bytes", len(frame)))
				continue
			}
			audio.Write(payload)
		case websocket.TextMessage:
			if !IsTurnEnd(frame) {
				continue
			}
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
			if audio.Len() == 0 {
				return nil, fmt.Errorf("%w: turn ended without audio", ErrInvalidResponse)
			}
			return audio.Bytes(), nil
		}
	}
}

func (c *Client) endpointURL() (string, error) {
	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("TrustedClientToken", c.cfg.TrustedClientToken)
	q.Set("ConnectionId", newID())
	q.Set("Sec-MS-GEC", SecurityToken(c.clock(), c.cfg.TrustedClientToken))
	q.Set("Sec-MS-GEC-Version", c.cfg.SecVersion)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func dialError(err error, resp *http.Response) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	if resp != nil {
		return &ConnectionError{Reason: fmt.Sprintf("handshake status %d", resp.StatusCode), Err: err}
	}
	return &ConnectionError{Reason: "dial", Err: err}
}

func ioError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &ConnectionError{Reason: op, Err: err}
}

// formatExtension maps a backend output format name to a file extension.
func formatExtension(outputFormat string) string {
	f := strings.ToLower(outputFormat)
	switch {
	case strings.Contains(f, "riff"), strings.Contains(f, "wav"):
		return "wav"
	default:
		return "mp3"
	}
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
