package tts

import (
	"context"
	"time"
)

// Backend names the synthesizer that produced a clip.
type Backend string

const (
	BackendRemote Backend = "remote"
	BackendLocal  Backend = "local"
)

// SynthesisRequest contains parameters for one remote synthesis call.
type SynthesisRequest struct {
	Text    string
	Voice   Voice
	Rate    string // percentage, e.g. "+0%" or "-10%"
	Pitch   string // e.g. "+0Hz"
	Volume  string
	Timeout time.Duration
}

// VerseAudio is one synthesized clip with its decoded duration.
type VerseAudio struct {
	Data     []byte
	Duration time.Duration
	Format   string // file extension: mp3, wav
	Backend  Backend
}

// VerseSynthesizer produces audio for a single verse from the remote backend.
type VerseSynthesizer interface {
	SynthesizeVerse(ctx context.Context, text string, timeout time.Duration) (VerseAudio, error)
}

// LocalSynthesizer produces audio without network access.
type LocalSynthesizer interface {
	SynthesizeLocally(ctx context.Context, text string) (VerseAudio, error)
}
