package tts

import (
	"context"
	"testing"
	"time"

	"github.com/loqalabs/versecast/internal/config"
)

func TestBackendsSelection(t *testing.T) {
	cfg := config.Default()
	cfg.Fallback.Enabled = false
	remote, local, err := Backends(cfg, newLogger())
	if err != nil {
		t.Fatalf("backends: %v", err)
	}
	if _, ok := remote.(*Client); !ok || local != nil {
		t.Fatalf("expected edge client without fallback, got %T %v", remote, local)
	}

	cfg.Synthesis.Backend = "mock"
	cfg.Fallback = config.FallbackConfig{Enabled: true, Mode: "mock", MockDurationMS: 250}
	remote, local, err = Backends(cfg, newLogger())
	if err != nil {
		t.Fatalf("backends: %v", err)
	}
	audio, err := remote.SynthesizeVerse(context.Background(), "text", time.Second)
	if err != nil || audio.Backend != BackendRemote || audio.Duration != 250*time.Millisecond {
		t.Fatalf("unexpected mock remote audio: %+v %v", audio.Backend, err)
	}
	audio, err = local.SynthesizeLocally(context.Background(), "text")
	if err != nil || audio.Backend != BackendLocal {
		t.Fatalf("unexpected mock local audio: %+v %v", audio.Backend, err)
	}

	cfg.Fallback = config.FallbackConfig{Enabled: true, Mode: "exec", Command: `say "unterminated`, Format: "wav"}
	if _, _, err := Backends(cfg, newLogger()); err == nil {
		t.Fatalf("expected command parse error")
	}
}
