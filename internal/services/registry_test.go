package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/grovetools/wayshell/errors"
	"github.com/grovetools/wayshell/pkg/reactive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type setLevel struct {
	Level int `json:"level"`
}

func (setLevel) CommandName() string { return "set_level" }

type otherCommand struct{}

func (otherCommand) CommandName() string { return "other" }

type fakeService struct {
	name   string
	level  *reactive.Cell[int]
	status *reactive.Cell[Status]
	runErr error

	mu      sync.Mutex
	started bool
}

func newFakeService(name string) *fakeService {
	return &fakeService{
		name:   name,
		level:  reactive.NewCell(0),
		status: NewStatusCell(),
	}
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Fields() map[string]reactive.Observable {
	return map[string]reactive.Observable{
		"level":  reactive.Erase(f.level),
		"status": reactive.Erase(f.status),
	}
}

func (f *fakeService) Dispatch(cmd Command) error {
	switch c := cmd.(type) {
	case setLevel:
		f.level.Set(c.Level)
		return nil
	default:
		return errors.InvalidCommand(f.name, fmt.Sprintf("unexpected %s", cmd.CommandName()))
	}
}

func (f *fakeService) DecodeCommand(name string, args json.RawMessage) (Command, error) {
	return Decoders{"set_level": JSON[setLevel]()}.Decode(f.name, name, args)
}

func (f *fakeService) CommandNames() []string { return []string{"set_level"} }

func (f *fakeService) Run(ctx context.Context) error {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	f.status.Set(Active(""))
	if f.runErr != nil {
		return f.runErr
	}
	<-ctx.Done()
	return nil
}

func TestRegistryGetAndDispatch(t *testing.T) {
	r := NewRegistry(nil)
	svc := newFakeService("backlight")
	r.Register(svc)
	r.Freeze()

	v, err := r.Get("backlight", "level")
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	require.NoError(t, r.Dispatch("backlight", setLevel{Level: 40}))
	v, err = r.Get("backlight", "level")
	require.NoError(t, err)
	assert.Equal(t, 40, v)

	require.NoError(t, r.DispatchJSON("backlight", "set_level", json.RawMessage(`{"level":75}`)))
	assert.Equal(t, 75, svc.level.Get())
}

func TestRegistryErrors(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(newFakeService("backlight"))
	r.Freeze()

	tests := []struct {
		name string
		call func() error
		code errors.ErrorCode
	}{
		{
			name: "unknown service get",
			call: func() error { _, err := r.Get("audio", "volume"); return err },
			code: errors.ErrCodeUnknownService,
		},
		{
			name: "unknown field",
			call: func() error { _, err := r.Get("backlight", "volume"); return err },
			code: errors.ErrCodeUnknownField,
		},
		{
			name: "unknown field subscribe",
			call: func() error {
				_, _, err := r.Subscribe(context.Background(), "backlight", "nope")
				return err
			},
			code: errors.ErrCodeUnknownField,
		},
		{
			name: "unknown command name",
			call: func() error { return r.DispatchJSON("backlight", "explode", nil) },
			code: errors.ErrCodeInvalidCommand,
		},
		{
			name: "bad arguments",
			call: func() error { return r.DispatchJSON("backlight", "set_level", json.RawMessage(`{"level":"x"}`)) },
			code: errors.ErrCodeInvalidCommand,
		},
		{
			name: "foreign command",
			call: func() error { return r.Dispatch("backlight", otherCommand{}) },
			code: errors.ErrCodeInvalidCommand,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}
}

func TestRegistrySubscribe(t *testing.T) {
	r := NewRegistry(nil)
	svc := newFakeService("backlight")
	r.Register(svc)
	r.Freeze()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, stop, err := r.Subscribe(ctx, "backlight", "level")
	require.NoError(t, err)
	defer stop()

	assert.Equal(t, 0, <-ch)
	svc.level.Set(10)
	select {
	case v := <-ch:
		assert.Equal(t, 10, v)
	case <-time.After(2 * time.Second):
		t.Fatal("no update")
	}
}

func TestRegisterAfterFreezePanics(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(newFakeService("a"))
	r.Freeze()

	assert.True(t, r.Frozen())
	assert.Panics(t, func() { r.Register(newFakeService("b")) })
}

func TestRegisterDuplicatePanics(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(newFakeService("a"))
	assert.Panics(t, func() { r.Register(newFakeService("a")) })
}

func TestRegistryServices(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(newFakeService("b"))
	r.Register(newFakeService("a"))

	infos := r.Services()
	require.Len(t, infos, 2)
	assert.Equal(t, "b", infos[0].Name)
	assert.Equal(t, []string{"level", "status"}, infos[0].Fields)
	assert.Equal(t, []string{"set_level"}, infos[0].Commands)
	require.NotNil(t, infos[0].Status)
	assert.Equal(t, StateInitializing, infos[0].Status.State)
}

func TestRegistryRun(t *testing.T) {
	r := NewRegistry(nil)
	good := newFakeService("good")
	bad := newFakeService("bad")
	bad.runErr = fmt.Errorf("no device")
	r.Register(good)
	r.Register(bad)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	assert.Eventually(t, func() bool {
		good.mu.Lock()
		defer good.mu.Unlock()
		return good.started
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, r.Frozen())

	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad")
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue(2, nil)
	assert.True(t, q.Push(setLevel{Level: 1}))
	assert.True(t, q.Push(setLevel{Level: 2}))
	assert.False(t, q.Push(setLevel{Level: 3}))
	assert.Equal(t, 2, q.Len())

	ctx, cancel := context.WithCancel(context.Background())
	var got []int
	handled := make(chan struct{})
	go q.Run(ctx, func(_ context.Context, cmd Command) {
		got = append(got, cmd.(setLevel).Level)
		if len(got) == 2 {
			close(handled)
		}
	})

	<-handled
	cancel()
	assert.Equal(t, []int{1, 2}, got)
}

func TestQueueSurvivesPanickingHandler(t *testing.T) {
	q := NewQueue(4, nil)
	q.Push(setLevel{Level: 1})
	q.Push(setLevel{Level: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handled := make(chan int, 2)
	go q.Run(ctx, func(_ context.Context, cmd Command) {
		level := cmd.(setLevel).Level
		handled <- level
		if level == 1 {
			panic("boom")
		}
	})

	assert.Equal(t, 1, <-handled)
	select {
	case level := <-handled:
		assert.Equal(t, 2, level)
	case <-time.After(2 * time.Second):
		t.Fatal("worker stopped after a panic")
	}
}

func TestQueueDrain(t *testing.T) {
	q := NewQueue(4, nil)
	q.Push(setLevel{Level: 1})
	q.Push(setLevel{Level: 2})

	var got []int
	q.Drain(func(cmd Command) { got = append(got, cmd.(setLevel).Level) })
	assert.Equal(t, []int{1, 2}, got)
	assert.Zero(t, q.Len())
}

func TestStatusCellSkipsDuplicates(t *testing.T) {
	c := NewStatusCell()
	sub := c.Subscribe(context.Background())
	defer sub.Close()
	<-sub.C()

	c.Set(Initializing())
	select {
	case <-sub.C():
		t.Fatal("duplicate status should not notify")
	default:
	}

	c.Set(Failed(fmt.Errorf("boom")))
	st := <-sub.C()
	assert.Equal(t, StateError, st.State)
	assert.Equal(t, "boom", st.Message)
}
