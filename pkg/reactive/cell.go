// Package reactive provides the value holders every wayshell service publishes
// its state through.
//
// A Cell is single-writer, multi-reader: writers are serialized by a mutex,
// readers copy the current value under a read lock. Any number of
// subscriptions may observe a cell. Each subscription is primed with the
// value current at subscribe time and then receives later values in write
// order. Delivery coalesces: a slow subscriber may miss intermediate values
// but always ends up with the latest one.
//
// The cell only keeps weak references to its subscribers. Closing a
// Subscription, cancelling the context it was created with, or simply
// dropping it stops delivery.
package reactive

import (
	"context"
	"iter"
	"sync"
	"weak"
)

// CellOption configures a Cell.
type CellOption[T any] func(*Cell[T])

// WithEqual makes Set skip notification when the new value equals the
// current one according to eq.
func WithEqual[T any](eq func(a, b T) bool) CellOption[T] {
	return func(c *Cell[T]) {
		c.equal = eq
	}
}

// Cell holds a value of type T and broadcasts every change.
type Cell[T any] struct {
	// wmu serializes writers and guards subs.
	wmu sync.Mutex
	// mu guards value so readers never observe a torn write.
	mu    sync.RWMutex
	value T

	subs   map[uint64]weak.Pointer[subscriber[T]]
	nextID uint64
	equal  func(a, b T) bool
}

// NewCell creates a cell holding initial.
func NewCell[T any](initial T, opts ...CellOption[T]) *Cell[T] {
	c := &Cell[T]{
		value: initial,
		subs:  make(map[uint64]weak.Pointer[subscriber[T]]),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a snapshot of the current value.
func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Set replaces the value and notifies live subscribers.
func (c *Cell[T]) Set(v T) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.store(v)
}

// Update applies fn to the current value and stores the result atomically
// with respect to other writers. It returns the stored value.
func (c *Cell[T]) Update(fn func(T) T) T {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	// Only writers mutate value and we hold the writer lock.
	next := fn(c.value)
	c.store(next)
	return next
}

// store must be called with wmu held.
func (c *Cell[T]) store(v T) {
	if c.equal != nil && c.equal(c.value, v) {
		return
	}

	c.mu.Lock()
	c.value = v
	c.mu.Unlock()

	for id, wp := range c.subs {
		s := wp.Value()
		if s == nil {
			delete(c.subs, id)
			continue
		}
		s.offer(v)
	}
}

// Subscribe registers a new observer. The returned subscription's channel
// already holds the current value. The subscription ends when ctx is
// cancelled or Close is called.
func (c *Cell[T]) Subscribe(ctx context.Context) *Subscription[T] {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	c.nextID++
	s := &subscriber[T]{ch: make(chan T, 1)}
	s.offer(c.value)
	c.subs[c.nextID] = weak.Make(s)

	sub := &Subscription[T]{
		cell: c,
		id:   c.nextID,
		sub:  s,
	}
	sub.stop = context.AfterFunc(ctx, sub.release)
	return sub
}

// All returns a lazy, unbounded sequence of the cell's values starting with
// the current one. Each iteration opens its own subscription, so the
// sequence can be ranged over again after a break.
func (c *Cell[T]) All(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		sub := c.Subscribe(ctx)
		defer sub.Close()

		for {
			v, ok := sub.Next(ctx)
			if !ok || !yield(v) {
				return
			}
		}
	}
}

// subscriberCount reports the number of registered, still reachable
// subscribers.
func (c *Cell[T]) subscriberCount() int {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	n := 0
	for _, wp := range c.subs {
		if wp.Value() != nil {
			n++
		}
	}
	return n
}

func (c *Cell[T]) remove(id uint64) bool {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if _, ok := c.subs[id]; !ok {
		return false
	}
	delete(c.subs, id)
	return true
}

// Observable is the read side of a Cell with the value type erased. Service
// registries use it to expose fields of different types uniformly.
type Observable interface {
	// Value returns the current value.
	Value() any
	// Watch subscribes and returns a channel of values plus a function
	// that ends the subscription.
	Watch(ctx context.Context) (<-chan any, func())
}

// Erase wraps a cell as an Observable.
func Erase[T any](c *Cell[T]) Observable {
	return erased[T]{c}
}

type erased[T any] struct {
	c *Cell[T]
}

func (e erased[T]) Value() any { return e.c.Get() }

func (e erased[T]) Watch(ctx context.Context) (<-chan any, func()) {
	ctx, cancel := context.WithCancel(ctx)
	sub := e.c.Subscribe(ctx)
	out := make(chan any)

	go func() {
		defer close(out)
		defer sub.Close()
		for {
			v, ok := sub.Next(ctx)
			if !ok {
				return
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, cancel
}
