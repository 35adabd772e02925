package tts

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// wordsPerSecond is the assumed speaking rate for ApproximateTiming.
const wordsPerSecond = 2.5

// ApproximateTiming is a word-count estimate of where a verse sits in a
// concatenated batch. It is for display-only consumers; playlist durations
// always come from decoded audio.
type ApproximateTiming struct {
	Index int
	Start time.Duration
	End   time.Duration
}

// VerseBatch is the concatenated audio of several verses.
type VerseBatch struct {
	Audio   []byte
	Timings []ApproximateTiming
}

// SynthesizeVerses synthesizes texts one after another. The first failure
// aborts the batch.
func (c *Client) SynthesizeVerses(ctx context.Context, texts []string) (VerseBatch, error) {
	var batch VerseBatch
	var offset time.Duration
	for i, text := range texts {
		data, err := c.Synthesize(ctx, SynthesisRequest{
			Text:   text,
			Voice:  c.voice,
			Rate:   c.cfg.Rate,
			Pitch:  c.cfg.Pitch,
			Volume: c.cfg.Volume,
		})
		if err != nil {
			return VerseBatch{}, fmt.Errorf("verse %d: %w", i+1, err)
		}
		batch.Audio = append(batch.Audio, data...)
		est := EstimateDuration(text)
		batch.Timings = append(batch.Timings, ApproximateTiming{Index: i, Start: offset, End: offset + est})
		offset += est
	}
	return batch, nil
}

// EstimateDuration guesses speaking time from word count.
func EstimateDuration(text string) time.Duration {
	words := len(strings.Fields(text))
	return time.Duration(float64(words) / wordsPerSecond * float64(time.Second))
}
