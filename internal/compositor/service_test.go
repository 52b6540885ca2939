package compositor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/grovetools/wayshell/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseState() State {
	return State{
		Workspaces: []Workspace{
			{ID: 1, Index: 1, Name: "1", Monitor: "DP-1", MonitorID: 0},
			{ID: 2, Index: 2, Name: "2", Monitor: "DP-1", MonitorID: 0},
		},
		Monitors:          []Monitor{{ID: 0, Name: "DP-1", Focused: true, ActiveWorkspaceID: 1}},
		ActiveWorkspaceID: 1,
		KeyboardLayout:    "English (US)",
	}
}

func fastOptions() Options {
	return Options{
		Backend:           "auto",
		ReconnectAttempts: 2,
		BackoffBase:       time.Millisecond,
		BackoffMax:        5 * time.Millisecond,
		CommandTimeout:    time.Second,
	}
}

func startService(t *testing.T, svc *Service) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func waitActive(t *testing.T, svc *Service) {
	t.Helper()
	require.Eventually(t, func() bool {
		return svc.Status().Get().State == services.StateActive
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSelectIsExclusiveAndDeterministic(t *testing.T) {
	hypr := newFakeBackend(KindHyprland, true)
	niri := newFakeBackend(KindNiri, true)

	// Both compositors signal presence; the order candidates are passed in
	// must not matter.
	for range 10 {
		assert.Same(t, hypr, Select([]Backend{niri, hypr}, KindNone, true))
		assert.Same(t, hypr, Select([]Backend{hypr, niri}, KindNone, true))
	}

	onlyNiri := newFakeBackend(KindHyprland, false)
	assert.Same(t, niri, Select([]Backend{onlyNiri, niri}, KindNone, true))

	assert.Nil(t, Select([]Backend{newFakeBackend(KindHyprland, false), newFakeBackend(KindNiri, false)}, KindNone, true))
	assert.Nil(t, Select(nil, KindNone, true))
}

func TestSelectOverride(t *testing.T) {
	hypr := newFakeBackend(KindHyprland, true)
	niri := newFakeBackend(KindNiri, false)

	assert.Same(t, niri, Select([]Backend{hypr, niri}, KindNiri, false))
	assert.Nil(t, Select([]Backend{hypr, niri}, KindNone, false))
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		kind    Kind
		auto    bool
		wantErr bool
	}{
		{in: "", auto: true},
		{in: "auto", auto: true},
		{in: "Hyprland", kind: KindHyprland},
		{in: "niri", kind: KindNiri},
		{in: "none", kind: KindNone},
		{in: "sway", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			kind, auto, err := ParseKind(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.auto, auto)
		})
	}
}

func TestServiceSelectsHyprlandWhenBothPresent(t *testing.T) {
	hypr := newFakeBackend(KindHyprland, true)
	hypr.snap = baseState()
	niri := newFakeBackend(KindNiri, true)

	svc := NewService(fastOptions(), nil, niri, hypr)
	startService(t, svc)
	waitActive(t, svc)

	assert.Equal(t, KindHyprland, svc.Kind())
	assert.Equal(t, 0, niri.sessionCount())
}

func TestDegradedDispatchIsNoop(t *testing.T) {
	svc := NewService(fastOptions(), nil)
	startService(t, svc)

	require.Eventually(t, func() bool { return svc.Phase() == PhaseDegraded }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, services.StateDegraded, svc.Status().Get().State)

	sub := svc.State().Subscribe(context.Background())
	defer sub.Close()
	<-sub.C()

	for _, cmd := range []Command{FocusWorkspace{ID: 3}, NextKeyboardLayout{}, Custom{Dispatcher: "exec", Args: "foot"}} {
		assert.NoError(t, svc.Dispatch(cmd))
	}
	assert.NoError(t, svc.Refresh(context.Background()))

	select {
	case st := <-sub.C():
		t.Fatalf("unexpected state event %+v", st)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 0, svc.ActiveWorkspace().Get())
	assert.Equal(t, KindNone, svc.Kind())
}

func TestFocusBeforeDetectionRevertsWhenDegraded(t *testing.T) {
	svc := NewService(fastOptions(), nil)
	require.NoError(t, svc.Dispatch(FocusWorkspace{ID: 7}))
	assert.Equal(t, 7, svc.ActiveWorkspace().Get())

	startService(t, svc)
	require.Eventually(t, func() bool { return svc.Phase() == PhaseDegraded }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, svc.ActiveWorkspace().Get())
	assert.Equal(t, svc.State().Get().ActiveWorkspaceID, svc.ActiveWorkspace().Get())
}

func TestServiceAppliesSnapshotAndEvents(t *testing.T) {
	b := newFakeBackend(KindHyprland, true)
	b.snap = baseState()

	svc := NewService(fastOptions(), nil, b)
	startService(t, svc)
	waitActive(t, svc)

	assert.Equal(t, 1, svc.ActiveWorkspace().Get())
	assert.Equal(t, "English (US)", svc.KeyboardLayout().Get())

	b.emit(WorkspaceFocused{ID: 2, Name: "2"})
	b.emit(LayoutChanged{Layout: "German"})
	b.emit(WindowFocused{Window: ActiveWindow{Title: "vim", Class: "foot", Address: "0xabc"}})

	assert.Eventually(t, func() bool {
		return svc.ActiveWorkspace().Get() == 2 &&
			svc.KeyboardLayout().Get() == "German" &&
			svc.ActiveWindow().Get().Title == "vim"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, svc.State().Get().ActiveWorkspaceID)
}

func TestFocusWorkspaceIsOptimistic(t *testing.T) {
	b := newFakeBackend(KindHyprland, true)
	b.snap = baseState()

	svc := NewService(fastOptions(), nil, b)
	startService(t, svc)
	waitActive(t, svc)

	require.NoError(t, svc.Dispatch(FocusWorkspace{ID: 2}))
	assert.Equal(t, 2, svc.ActiveWorkspace().Get())

	assert.Eventually(t, func() bool {
		var n int
		b.get(func(f *fakeBackend) { n = len(f.sent) })
		return n == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, svc.ActiveWorkspace().Get())
}

func TestFocusWorkspaceRevertsOnFailure(t *testing.T) {
	b := newFakeBackend(KindHyprland, true)
	b.snap = baseState()
	b.sendErr = errors.New("workspace does not exist")

	svc := NewService(fastOptions(), nil, b)
	startService(t, svc)
	waitActive(t, svc)

	sub := svc.ActiveWorkspace().Subscribe(context.Background())
	defer sub.Close()
	assert.Equal(t, 1, <-sub.C())

	require.NoError(t, svc.Dispatch(FocusWorkspace{ID: 9}))

	assert.Eventually(t, func() bool {
		var n int
		b.get(func(f *fakeBackend) { n = len(f.sent) })
		return n == 1 && svc.ActiveWorkspace().Get() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestGetActiveWindowUpdatesCell(t *testing.T) {
	b := newFakeBackend(KindHyprland, true)
	b.snap = baseState()
	b.ack = Ack{Reply: "{}", Window: &ActiveWindow{Title: "Firefox", Class: "firefox", Address: "0x1"}}

	svc := NewService(fastOptions(), nil, b)
	startService(t, svc)
	waitActive(t, svc)

	require.NoError(t, svc.Dispatch(GetActiveWindow{}))
	assert.Eventually(t, func() bool {
		return svc.ActiveWindow().Get().Class == "firefox"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestReconnectReplacesState(t *testing.T) {
	b := newFakeBackend(KindHyprland, true)
	b.snap = baseState()

	svc := NewService(fastOptions(), nil, b)
	startService(t, svc)
	waitActive(t, svc)

	b.set(func(f *fakeBackend) {
		f.snap.ActiveWorkspaceID = 2
		f.snap.KeyboardLayout = "French"
	})
	b.fail(errors.New("connection reset by peer"))

	assert.Eventually(t, func() bool {
		return b.sessionCount() == 2 &&
			svc.ActiveWorkspace().Get() == 2 &&
			svc.KeyboardLayout().Get() == "French"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, PhaseActive, svc.Phase())
}

func TestDegradesAfterReconnectsExhausted(t *testing.T) {
	b := newFakeBackend(KindHyprland, true)
	b.snap = baseState()

	svc := NewService(fastOptions(), nil, b)
	startService(t, svc)
	waitActive(t, svc)

	b.set(func(f *fakeBackend) { f.connectErr = errors.New("no such file or directory") })
	b.fail(errors.New("broken pipe"))

	require.Eventually(t, func() bool { return svc.Phase() == PhaseDegraded }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, services.StateDegraded, svc.Status().Get().State)
	assert.NoError(t, svc.Dispatch(FocusWorkspace{ID: 2}))
	assert.Equal(t, 1, svc.ActiveWorkspace().Get())
}

func TestDispatchRejectsForeignCommand(t *testing.T) {
	svc := NewService(fastOptions(), nil)
	err := svc.Dispatch(services.Command(foreign{}))
	require.Error(t, err)
}

type foreign struct{}

func (foreign) CommandName() string { return "foreign" }

func TestDecodeCommand(t *testing.T) {
	svc := NewService(fastOptions(), nil)

	cmd, err := svc.DecodeCommand("focus_workspace", []byte(`{"id":4}`))
	require.NoError(t, err)
	assert.Equal(t, FocusWorkspace{ID: 4}, cmd)

	cmd, err = svc.DecodeCommand("custom", []byte(`{"dispatcher":"exec","args":"foot"}`))
	require.NoError(t, err)
	assert.Equal(t, Custom{Dispatcher: "exec", Args: "foot"}, cmd)

	cmd, err = svc.DecodeCommand("next_keyboard_layout", nil)
	require.NoError(t, err)
	assert.Equal(t, NextKeyboardLayout{}, cmd)

	_, err = svc.DecodeCommand("warp", nil)
	assert.Error(t, err)
}
