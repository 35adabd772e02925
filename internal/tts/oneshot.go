package tts

import "sync"

// oneshot delivers exactly one value. Later Complete calls are dropped, so
// racing producers (stream result, timer, cancellation) cannot complete twice.
type oneshot[T any] struct {
	once sync.Once
	ch   chan T
}

func newOneshot[T any]() *oneshot[T] {
	return &oneshot[T]{ch: make(chan T, 1)}
}

// Complete stores v if nothing was stored yet and reports whether it won.
func (o *oneshot[T]) Complete(v T) bool {
	won := false
	o.once.Do(func() {
		o.ch <- v
		won = true
	})
	return won
}

// Done yields the single value once it is available.
func (o *oneshot[T]) Done() <-chan T {
	return o.ch
}
