package tts

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func requireCommand(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available", name)
	}
}

func TestExecSynthReadsStdout(t *testing.T) {
	requireCommand(t, "cat")
	data, err := SilentWAV(750*time.Millisecond, 16000)
	if err != nil {
		t.Fatalf("silent wav: %v", err)
	}
	clip := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(clip, data, 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}

	synth, err := NewExecSynth("cat '"+clip+"'", "wav")
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	audio, err := synth.SynthesizeLocally(context.Background(), "In the beginning")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if audio.Duration != 750*time.Millisecond || audio.Backend != BackendLocal || audio.Format != "wav" {
		t.Fatalf("unexpected audio: %v %s %s", audio.Duration, audio.Backend, audio.Format)
	}
}

func TestExecSynthRejectsNonAudio(t *testing.T) {
	requireCommand(t, "cat")
	synth, err := NewExecSynth("cat", "wav")
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	_, err = synth.SynthesizeLocally(context.Background(), "echoed text is not audio")
	if !errors.Is(err, ErrAudioDecodingFailed) {
		t.Fatalf("expected ErrAudioDecodingFailed, got %v", err)
	}
}

func TestExecSynthCommandFailure(t *testing.T) {
	requireCommand(t, "false")
	synth, err := NewExecSynth("false", "")
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	if _, err := synth.SynthesizeLocally(context.Background(), "text"); err == nil {
		t.Fatalf("expected failure from a failing command")
	}
}

func TestNewExecSynthParse(t *testing.T) {
	if _, err := NewExecSynth("", "wav"); err == nil {
		t.Fatalf("expected empty command error")
	}
	if _, err := NewExecSynth(`espeak-ng "unterminated`, "wav"); err == nil {
		t.Fatalf("expected parse error")
	}
	synth, err := NewExecSynth(`espeak-ng -v "en us" --stdout`, "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(synth.cmd) != 4 || synth.cmd[2] != "en us" || synth.format != "wav" {
		t.Fatalf("unexpected parse result %q %s", synth.cmd, synth.format)
	}
}
