package services

import (
	"context"

	"github.com/sirupsen/logrus"
)

// DefaultQueueSize is the command queue depth used when none is configured.
const DefaultQueueSize = 32

// Queue is the bounded command queue between Dispatch and a service's
// worker goroutine. Push never blocks.
type Queue struct {
	ch     chan Command
	logger *logrus.Entry
}

// NewQueue creates a queue holding at most size pending commands.
func NewQueue(size int, logger *logrus.Entry) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Queue{
		ch:     make(chan Command, size),
		logger: logger,
	}
}

// Push enqueues cmd. When the queue is full the command is dropped with a
// warning and Push returns false.
func (q *Queue) Push(cmd Command) bool {
	select {
	case q.ch <- cmd:
		return true
	default:
		q.logger.WithField("command", cmd.CommandName()).Warn("Command queue full, dropping command")
		return false
	}
}

// Len returns the number of pending commands.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Run hands queued commands to handle one at a time until ctx is done. A
// panicking handler is logged and the worker moves on to the next command.
func (q *Queue) Run(ctx context.Context, handle func(context.Context, Command)) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-q.ch:
			q.safeHandle(ctx, cmd, handle)
		}
	}
}

func (q *Queue) safeHandle(ctx context.Context, cmd Command, handle func(context.Context, Command)) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.WithField("command", cmd.CommandName()).Errorf("Command handler panicked: %v", r)
		}
	}()
	handle(ctx, cmd)
}

// Drain removes every pending command and passes each to fn.
func (q *Queue) Drain(fn func(Command)) {
	for {
		select {
		case cmd := <-q.ch:
			fn(cmd)
		default:
			return
		}
	}
}
