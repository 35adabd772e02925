package hls

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Claim reserves a chapter for a single writer. Writers sharing a Builder
// take a claim before producing segments for a chapter and release it when
// they stop.
type Claim struct {
	b        *Builder
	key      string
	yielding bool
	preempt  func()
	released chan struct{}
	once     sync.Once
}

// Claim reserves chapterKey.
//
// A yielding claim is refused with ErrChapterBusy while anyone holds the
// chapter. A non-yielding claim is refused while another non-yielding claim
// holds it; a yielding holder is preempted and the call waits for its
// release or for ctx.
func (b *Builder) Claim(ctx context.Context, chapterKey string, yielding bool, preempt func()) (*Claim, error) {
	for {
		b.mu.Lock()
		held := b.claims[chapterKey]
		if held == nil {
			c := &Claim{b: b, key: chapterKey, yielding: yielding, preempt: preempt, released: make(chan struct{})}
			b.claims[chapterKey] = c
			b.mu.Unlock()
			return c, nil
		}
		b.mu.Unlock()

		if yielding || !held.yielding {
			return nil, fmt.Errorf("%w: %s", ErrChapterBusy, chapterKey)
		}
		b.logger.Info("preempting chapter claim", slog.String("chapter", chapterKey))
		if held.preempt != nil {
			held.preempt()
		}
		select {
		case <-held.released:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Claimed reports whether a writer holds chapterKey.
func (b *Builder) Claimed(chapterKey string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.claims[chapterKey] != nil
}

// Release gives the chapter back. Extra calls do nothing.
func (c *Claim) Release() {
	c.once.Do(func() {
		c.b.mu.Lock()
		if c.b.claims[c.key] == c {
			delete(c.b.claims, c.key)
		}
		c.b.mu.Unlock()
		close(c.released)
	})
}
