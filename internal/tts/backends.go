package tts

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/versecast/internal/config"
)

// Backends builds the remote synthesizer and the optional local fallback
// described by cfg. The local synthesizer is nil when fallback is disabled.
func Backends(cfg config.Config, logger *slog.Logger) (VerseSynthesizer, LocalSynthesizer, error) {
	mockDuration := time.Duration(cfg.Fallback.MockDurationMS) * time.Millisecond

	var remote VerseSynthesizer
	if cfg.Synthesis.Backend == "mock" {
		remote = NewMockSynth(mockDuration)
	} else {
		remote = NewClient(cfg.Synthesis, logger)
	}

	if !cfg.Fallback.Enabled {
		return remote, nil, nil
	}
	if cfg.Fallback.Mode == "mock" {
		return remote, NewMockSynth(mockDuration), nil
	}
	local, err := NewExecSynth(cfg.Fallback.Command, cfg.Fallback.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("configure fallback: %w", err)
	}
	return remote, local, nil
}
