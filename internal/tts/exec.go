package tts

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

// ExecSynth runs an on-device speech command. The verse text is written to
// stdin and encoded audio (wav by default) is read from stdout.
type ExecSynth struct {
	cmd    []string
	format string
	mu     sync.Mutex
}

func NewExecSynth(command, format string) (*ExecSynth, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse fallback command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("fallback command empty")
	}
	if format == "" {
		format = "wav"
	}
	return &ExecSynth{cmd: args, format: format}, nil
}

// SynthesizeLocally runs the command once. Calls are serialized because most
// local engines hold a single audio device or model instance.
func (e *ExecSynth) SynthesizeLocally(ctx context.Context, text string) (VerseAudio, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = strings.NewReader(text)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return VerseAudio{}, fmt.Errorf("fallback command %s: %w (stderr: %s)", base, err, strings.TrimSpace(stderr.String()))
	}

	data := stdout.Bytes()
	duration, err := DecodeDuration(data, e.format)
	if err != nil {
		return VerseAudio{}, fmt.Errorf("fallback command %s: %w", base, err)
	}
	return VerseAudio{
		Data:     data,
		Duration: duration,
		Format:   e.format,
		Backend:  BackendLocal,
	}, nil
}
