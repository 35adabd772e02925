package tts

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestOneshotCompletesOnce(t *testing.T) {
	o := newOneshot[int]()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			if o.Complete(v) {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
	<-o.Done()
	select {
	case v := <-o.Done():
		t.Fatalf("second value delivered: %d", v)
	default:
	}
}
