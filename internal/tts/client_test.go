package tts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loqalabs/versecast/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type handshake struct {
	query  url.Values
	header http.Header
	frames [][]byte
}

// fakeEndpoint starts a websocket server that records the handshake and the
// two control frames, then hands the connection to respond.
func fakeEndpoint(t *testing.T, respond func(conn *websocket.Conn)) (string, <-chan handshake) {
	t.Helper()
	seen := make(chan handshake, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		hs := handshake{query: r.URL.Query(), header: r.Header.Clone()}
		for i := 0; i < 2; i++ {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			hs.frames = append(hs.frames, frame)
		}
		select {
		case seen <- hs:
		default:
		}
		respond(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), seen
}

func sendAudio(t *testing.T, conn *websocket.Conn, payloads ...[]byte) {
	t.Helper()
	for _, p := range payloads {
		frame, err := EncodeAudioFrame([]Header{{Key: "Path", Value: "audio"}}, p)
		if err != nil {
			t.Errorf("encode audio frame: %v", err)
			return
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return
		}
	}
}

func sendTurnEnd(conn *websocket.Conn) {
	_ = conn.WriteMessage(websocket.TextMessage, EncodeControlFrame([]Header{{Key: "Path", Value: "turn.end"}}, "{}"))
}

// drain blocks until the client closes the socket.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func testClient(endpoint string) *Client {
	cfg := config.Default().Synthesis
	cfg.Endpoint = endpoint
	cfg.RequestsPerMinute = 0
	cfg.TimeoutMS = 2000
	return NewClient(cfg, newLogger())
}

func TestSynthesizeCollectsAudioUntilTurnEnd(t *testing.T) {
	endpoint, seen := fakeEndpoint(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, EncodeControlFrame([]Header{{Key: "Path", Value: "turn.start"}}, "{}"))
		sendAudio(t, conn, []byte("abc"), []byte("def"))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x00})
		sendAudio(t, conn, []byte("ghi"))
		sendTurnEnd(conn)
		drain(conn)
	})
	client := testClient(endpoint)

	data, err := client.Synthesize(context.Background(), SynthesisRequest{Text: "Jesus wept.", Voice: DefaultVoice})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if string(data) != "abcdefghi" {
		t.Fatalf("unexpected audio %q", data)
	}

	hs := <-seen
	if hs.query.Get("TrustedClientToken") != testClientToken {
		t.Fatalf("missing client token: %v", hs.query)
	}
	if id := hs.query.Get("ConnectionId"); len(id) != 32 || strings.Contains(id, "-") {
		t.Fatalf("unexpected connection id %q", id)
	}
	if len(hs.query.Get("Sec-MS-GEC")) != 64 || hs.query.Get("Sec-MS-GEC-Version") == "" {
		t.Fatalf("missing security parameters: %v", hs.query)
	}
	if hs.header.Get("Origin") == "" || !strings.Contains(hs.header.Get("User-Agent"), "Edg/") {
		t.Fatalf("missing backend headers: %v", hs.header)
	}
	if ParseHeaders(hs.frames[0])["Path"] != "speech.config" {
		t.Fatalf("first frame should be speech.config: %q", hs.frames[0])
	}
	if ParseHeaders(hs.frames[1])["Path"] != "ssml" || !bytes.Contains(hs.frames[1], []byte("Jesus wept.")) {
		t.Fatalf("second frame should carry the ssml: %q", hs.frames[1])
	}
}

func TestSynthesizeTimesOut(t *testing.T) {
	endpoint, _ := fakeEndpoint(t, drain)
	client := testClient(endpoint)

	start := time.Now()
	_, err := client.Synthesize(context.Background(), SynthesisRequest{Text: "slow", Voice: DefaultVoice, Timeout: 100 * time.Millisecond})
	if !errors.Is(err, ErrSynthesisTimedOut) {
		t.Fatalf("expected ErrSynthesisTimedOut, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout took too long: %v", elapsed)
	}
}

func TestSynthesizeTurnEndWithoutAudio(t *testing.T) {
	endpoint, _ := fakeEndpoint(t, func(conn *websocket.Conn) {
		sendTurnEnd(conn)
		drain(conn)
	})
	client := testClient(endpoint)

	_, err := client.Synthesize(context.Background(), SynthesisRequest{Text: "silence", Voice: DefaultVoice})
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestSynthesizeHandshakeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)
	client := testClient("ws" + strings.TrimPrefix(srv.URL, "http"))

	_, err := client.Synthesize(context.Background(), SynthesisRequest{Text: "hello", Voice: DefaultVoice})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) || !strings.Contains(connErr.Reason, "403") {
		t.Fatalf("expected handshake status in reason, got %v", err)
	}
}

func TestSynthesizeHonoursCancellation(t *testing.T) {
	endpoint, seen := fakeEndpoint(t, drain)
	client := testClient(endpoint)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-seen
		cancel()
	}()
	_, err := client.Synthesize(ctx, SynthesisRequest{Text: "hello", Voice: DefaultVoice, Timeout: 5 * time.Second})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSynthesizeVerseDecodesDuration(t *testing.T) {
	clip, err := SilentWAV(2*time.Second, 24000)
	if err != nil {
		t.Fatalf("silent wav: %v", err)
	}
	endpoint, _ := fakeEndpoint(t, func(conn *websocket.Conn) {
		half := len(clip) / 2
		sendAudio(t, conn, clip[:half], clip[half:])
		sendTurnEnd(conn)
		drain(conn)
	})
	cfg := config.Default().Synthesis
	cfg.Endpoint = endpoint
	cfg.OutputFormat = "riff-24khz-16bit-mono-pcm"
	client := NewClient(cfg, newLogger())

	audio, err := client.SynthesizeVerse(context.Background(), "For God so loved the world", time.Second)
	if err != nil {
		t.Fatalf("synthesize verse: %v", err)
	}
	if audio.Duration != 2*time.Second {
		t.Fatalf("expected 2s, got %v", audio.Duration)
	}
	if audio.Format != "wav" || audio.Backend != BackendRemote {
		t.Fatalf("unexpected metadata: format=%s backend=%s", audio.Format, audio.Backend)
	}
}

func TestSynthesizeVersesApproximateTimings(t *testing.T) {
	endpoint, _ := fakeEndpoint(t, func(conn *websocket.Conn) {
		sendAudio(t, conn, []byte("xx"))
		sendTurnEnd(conn)
		drain(conn)
	})
	client := testClient(endpoint)

	batch, err := client.SynthesizeVerses(context.Background(), []string{"one two three four five", "six seven"})
	if err != nil {
		t.Fatalf("synthesize verses: %v", err)
	}
	if string(batch.Audio) != "xxxx" {
		t.Fatalf("unexpected concatenated audio %q", batch.Audio)
	}
	if len(batch.Timings) != 2 {
		t.Fatalf("expected 2 timings, got %d", len(batch.Timings))
	}
	if batch.Timings[0].End != 2*time.Second || batch.Timings[1].Start != 2*time.Second {
		t.Fatalf("timings not contiguous at 2.5 words/s: %+v", batch.Timings)
	}
}
