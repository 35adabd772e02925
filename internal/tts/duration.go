package tts

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// DecodeDuration decodes enough of an encoded clip to compute its exact
// playing time. Supported formats are mp3 and wav.
func DecodeDuration(data []byte, format string) (time.Duration, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: empty %s payload", ErrAudioDecodingFailed, format)
	}
	switch strings.ToLower(format) {
	case "mp3":
		return mp3Duration(data)
	case "wav":
		return wavDuration(data)
	default:
		return 0, fmt.Errorf("%w: unsupported format %q", ErrAudioDecodingFailed, format)
	}
}

func mp3Duration(data []byte) (time.Duration, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAudioDecodingFailed, err)
	}
	rate := dec.SampleRate()
	length := dec.Length()
	if rate <= 0 || length <= 0 {
		return 0, fmt.Errorf("%w: mp3 has no decodable frames", ErrAudioDecodingFailed)
	}
	// go-mp3 always emits 16-bit stereo: 4 bytes per sample frame.
	frames := length / 4
	return time.Duration(frames) * time.Second / time.Duration(rate), nil
}

func wavDuration(data []byte) (time.Duration, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAudioDecodingFailed, err)
	}
	if dec.NumChans == 0 || dec.SampleRate == 0 {
		return 0, fmt.Errorf("%w: wav header missing format", ErrAudioDecodingFailed)
	}
	// Streamed WAV (e.g. from a pipe) carries placeholder chunk sizes, so
	// count the samples actually present instead of trusting the header.
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAudioDecodingFailed, err)
	}
	frames := len(buf.Data) / int(dec.NumChans)
	if frames == 0 {
		return 0, fmt.Errorf("%w: wav has no samples", ErrAudioDecodingFailed)
	}
	return time.Duration(frames) * time.Second / time.Duration(dec.SampleRate), nil
}
