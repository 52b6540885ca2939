package reactive

import (
	"context"
	"sync"
)

// subscriber is the delivery slot the cell writes into. It is owned by the
// Subscription; the cell only holds a weak pointer to it.
type subscriber[T any] struct {
	ch chan T
}

// offer delivers v, replacing any value the reader has not taken yet.
// Callers hold the cell's writer lock, so this is the only sender and the
// final send never blocks.
func (s *subscriber[T]) offer(v T) {
	select {
	case s.ch <- v:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- v
}

// Subscription is a handle on one observer of a Cell. Keep it referenced
// for as long as values are wanted.
type Subscription[T any] struct {
	cell *Cell[T]
	id   uint64
	sub  *subscriber[T]

	once sync.Once
	stop func() bool
}

// C returns the channel values are delivered on. It is closed when the
// subscription ends.
func (s *Subscription[T]) C() <-chan T {
	return s.sub.ch
}

// Next blocks until the next value is available, the subscription ends, or
// ctx is done. ok is false in the latter two cases.
func (s *Subscription[T]) Next(ctx context.Context) (v T, ok bool) {
	select {
	case v, ok = <-s.sub.ch:
		return v, ok
	case <-ctx.Done():
		return v, false
	}
}

// Close stops delivery and releases the subscription. It is safe to call
// more than once and from any goroutine.
func (s *Subscription[T]) Close() {
	if s.stop != nil {
		s.stop()
	}
	s.release()
}

func (s *Subscription[T]) release() {
	s.once.Do(func() {
		// Once removed under the writer lock no further sends can happen.
		if s.cell.remove(s.id) {
			close(s.sub.ch)
		}
	})
}
