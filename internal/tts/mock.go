package tts

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const mockSampleRate = 16000

// MockSynth returns silent WAV clips of a fixed length.
type MockSynth struct {
	duration time.Duration
	backend  Backend
}

func NewMockSynth(duration time.Duration) *MockSynth {
	return &MockSynth{duration: duration, backend: BackendLocal}
}

func (m *MockSynth) SynthesizeLocally(ctx context.Context, _ string) (VerseAudio, error) {
	if err := ctx.Err(); err != nil {
		return VerseAudio{}, err
	}
	data, err := SilentWAV(m.duration, mockSampleRate)
	if err != nil {
		return VerseAudio{}, err
	}
	return VerseAudio{Data: data, Duration: m.duration, Format: "wav", Backend: m.backend}, nil
}

// SynthesizeVerse lets the mock stand in for the remote backend too.
func (m *MockSynth) SynthesizeVerse(ctx context.Context, text string, _ time.Duration) (VerseAudio, error) {
	a, err := m.SynthesizeLocally(ctx, text)
	a.Backend = BackendRemote
	return a, err
}

// SilentWAV encodes mono 16-bit silence of the given length.
func SilentWAV(d time.Duration, sampleRate int) ([]byte, error) {
	f, err := os.CreateTemp("", "versecast-silence-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create temp wav: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	samples := int(d * time.Duration(sampleRate) / time.Second)
	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, samples),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}
