package reactive

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Loop is a single-goroutine scheduler. Every function posted to it runs on
// the goroutine that called Run, one at a time, in post order. UI-facing
// consumers use it so their callbacks never race each other.
type Loop struct {
	tasks  chan func()
	done   chan struct{}
	once   sync.Once
	logger *logrus.Entry
}

// NewLoop creates a loop with the given task queue depth.
func NewLoop(queue int, logger *logrus.Entry) *Loop {
	if queue <= 0 {
		queue = 64
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Loop{
		tasks:  make(chan func(), queue),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Post queues fn. It blocks while the queue is full and returns false if
// the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Run executes posted functions until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.done) })

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.tasks:
			l.run(fn)
		}
	}
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithField("panic", fmt.Sprint(r)).Error("Loop task panicked")
		}
	}()
	fn()
}

// Watch delivers the values of c to fn on the loop goroutine, starting with
// the current value. Values reach fn in write order; intermediate values
// may be skipped while fn is busy. Delivery stops when ctx is done or the
// returned subscription is closed.
func Watch[T any](ctx context.Context, l *Loop, c *Cell[T], fn func(T)) *Subscription[T] {
	sub := c.Subscribe(ctx)

	go func() {
		for {
			v, ok := sub.Next(ctx)
			if !ok {
				return
			}
			ran := make(chan struct{})
			if !l.Post(func() {
				defer close(ran)
				fn(v)
			}) {
				sub.Close()
				return
			}
			// Wait for fn before taking the next value so the cell can
			// coalesce while the consumer is busy.
			select {
			case <-ran:
			case <-ctx.Done():
				return
			case <-l.done:
				sub.Close()
				return
			}
		}
	}()

	return sub
}
