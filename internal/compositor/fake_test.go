package compositor

import (
	"context"
	"sync"
)

type fakeBackend struct {
	kind   Kind
	detect bool

	mu         sync.Mutex
	snap       State
	connectErr error
	sendErr    error
	ack        Ack
	sent       []Command
	snapshots  int
	sessions   int
	closed     bool
	events     chan Event
	errs       chan error
}

func newFakeBackend(kind Kind, detect bool) *fakeBackend {
	return &fakeBackend{kind: kind, detect: detect}
}

func (f *fakeBackend) Kind() Kind   { return f.kind }
func (f *fakeBackend) Detect() bool { return f.detect }

func (f *fakeBackend) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectErr
}

func (f *fakeBackend) Send(_ context.Context, cmd Command) (Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	return f.ack, f.sendErr
}

func (f *fakeBackend) Snapshot(context.Context) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots++
	return f.snap, nil
}

func (f *fakeBackend) Events(ctx context.Context) (<-chan Event, <-chan error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions++
	f.events = make(chan Event)
	f.errs = make(chan error, 1)
	return f.events, f.errs
}

func (f *fakeBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeBackend) emit(ev Event) {
	f.mu.Lock()
	ch := f.events
	f.mu.Unlock()
	ch <- ev
}

func (f *fakeBackend) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs <- err
}

func (f *fakeBackend) set(fn func(f *fakeBackend)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeBackend) get(fn func(f *fakeBackend)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeBackend) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions
}
