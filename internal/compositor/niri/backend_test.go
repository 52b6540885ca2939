package niri

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/grovetools/wayshell/errors"
	"github.com/grovetools/wayshell/internal/compositor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type fakeNiri struct {
	path    string
	replies map[string]string

	mu       sync.Mutex
	requests []string

	streams chan net.Conn
}

func startFakeNiri(t *testing.T, dir string, replies map[string]string) *fakeNiri {
	t.Helper()
	f := &fakeNiri{
		path:    filepath.Join(dir, "niri.wayland-1.4242.sock"),
		replies: replies,
		streams: make(chan net.Conn, 4),
	}
	ln, err := net.Listen("unix", f.path)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go f.serve(conn)
		}
	}()
	return f
}

func (f *fakeNiri) serve(conn net.Conn) {
	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	if err != nil {
		conn.Close()
		return
	}
	req := strings.TrimSuffix(line, "\n")

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if req == requestEventStream {
		io.WriteString(conn, `{"Ok":"Handled"}`+"\n")
		f.streams <- conn
		return
	}
	defer conn.Close()

	reply, ok := f.replies[req]
	if !ok {
		reply = `{"Err":"unknown request"}`
	}
	io.WriteString(conn, reply+"\n")
}

func (f *fakeNiri) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func envFor(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

var niriReplies = map[string]string{
	requestWorkspaces: `{"Ok":{"Workspaces":[
		{"id":1,"idx":1,"name":null,"output":"DP-1","is_active":true,"is_focused":true},
		{"id":2,"idx":2,"name":null,"output":"DP-1","is_active":false,"is_focused":false}]}}`,
	requestWindows:         `{"Ok":{"Windows":[{"id":7,"title":"shell","app_id":"foot","workspace_id":1,"is_focused":true}]}}`,
	requestKeyboardLayouts: `{"Ok":{"KeyboardLayouts":{"names":["English (US)"],"current_idx":0}}}`,
	requestFocusedWindow:   `{"Ok":{"FocusedWindow":{"id":7,"title":"shell","app_id":"foot","workspace_id":1,"is_focused":true}}}`,
	`{"Action":{"FocusWorkspace":{"reference":{"Id":2}}}}`: `{"Ok":"Handled"}`,
	`{"Action":{"SwitchLayout":{"layout":"Next"}}}`:       `{"Ok":"Handled"}`,
	`{"Action":{"FocusWorkspace":{"reference":{"Id":9}}}}`: `{"Err":"workspace not found"}`,
}

func TestSocketPathResolution(t *testing.T) {
	dir := t.TempDir()

	b := New(nil, WithLookupEnv(envFor(map[string]string{SocketEnv: "/run/a.sock", SocketPathEnv: "/run/b.sock"})))
	p, err := b.SocketPath()
	require.NoError(t, err)
	assert.Equal(t, "/run/a.sock", p)

	b = New(nil, WithLookupEnv(envFor(map[string]string{SocketPathEnv: "/run/b.sock"})))
	p, err = b.SocketPath()
	require.NoError(t, err)
	assert.Equal(t, "/run/b.sock", p)

	old := filepath.Join(dir, "niri.wayland-1.100.sock")
	newer := filepath.Join(dir, "niri.wayland-1.200.sock")
	require.NoError(t, os.WriteFile(old, nil, 0o600))
	require.NoError(t, os.WriteFile(newer, nil, 0o600))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	b = New(nil, WithLookupEnv(envFor(map[string]string{"XDG_RUNTIME_DIR": dir})))
	p, err = b.SocketPath()
	require.NoError(t, err)
	assert.Equal(t, newer, p)
	assert.True(t, b.Detect())

	b = New(nil, WithLookupEnv(envFor(map[string]string{"XDG_RUNTIME_DIR": t.TempDir()})))
	assert.False(t, b.Detect())
	_, err = b.SocketPath()
	assert.Equal(t, errors.ErrCodeNoBackend, errors.GetCode(err))
}

func TestNiriSnapshot(t *testing.T) {
	f := startFakeNiri(t, t.TempDir(), niriReplies)
	b := New(nil, WithLookupEnv(envFor(map[string]string{SocketEnv: f.path})))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, b.Connect(ctx))

	st, err := b.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, st.Workspaces, 2)
	assert.Equal(t, 1, st.ActiveWorkspaceID)
	assert.Equal(t, "foot", st.ActiveWindow.Class)
	assert.Equal(t, "English (US)", st.KeyboardLayout)
	assert.Equal(t, 1, st.Workspaces[0].Windows)
}

func TestNiriSend(t *testing.T) {
	f := startFakeNiri(t, t.TempDir(), niriReplies)
	b := New(nil, WithLookupEnv(envFor(map[string]string{SocketEnv: f.path})))
	ctx := context.Background()

	_, err := b.Send(ctx, compositor.FocusWorkspace{ID: 2})
	require.NoError(t, err)

	_, err = b.Send(ctx, compositor.NextKeyboardLayout{})
	require.NoError(t, err)

	_, err = b.Send(ctx, compositor.FocusWorkspace{ID: 9})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeCommandFailed, errors.GetCode(err))
	assert.Contains(t, err.Error(), "workspace not found")

	_, err = b.Send(ctx, compositor.FocusMonitor{ID: 1})
	assert.Equal(t, errors.ErrCodeCommandUnsupported, errors.GetCode(err))

	ack, err := b.Send(ctx, compositor.GetActiveWindow{})
	require.NoError(t, err)
	require.NotNil(t, ack.Window)
	assert.Equal(t, compositor.ActiveWindow{Title: "shell", Class: "foot", Address: "7"}, *ack.Window)

	// Unsupported commands never reach the socket.
	assert.Len(t, f.seen(), 4)
}

func TestNiriEvents(t *testing.T) {
	f := startFakeNiri(t, t.TempDir(), niriReplies)
	b := New(nil, WithLookupEnv(envFor(map[string]string{SocketEnv: f.path})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, errs := b.Events(ctx)

	var conn net.Conn
	select {
	case conn = <-f.streams:
	case <-time.After(2 * time.Second):
		t.Fatal("no event stream request")
	}

	lines := []string{
		workspacesEvent,
		`{"SomeFutureEvent":{"x":1}}`,
		`not json`,
		`{"WorkspaceActivated":{"id":2,"focused":true}}`,
	}
	for _, l := range lines {
		_, err := io.WriteString(conn, strings.ReplaceAll(l, "\n", "")+"\n")
		require.NoError(t, err)
	}

	first := (<-events).(compositor.StateReplaced)
	assert.Equal(t, 1, first.State.ActiveWorkspaceID)
	second := (<-events).(compositor.StateReplaced)
	assert.Equal(t, 2, second.State.ActiveWorkspaceID)

	conn.Close()
	select {
	case err := <-errs:
		assert.Equal(t, errors.ErrCodeTransport, errors.GetCode(err))
	case <-time.After(2 * time.Second):
		t.Fatal("no error after disconnect")
	}
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		cmd  compositor.Command
		want []string
	}{
		{
			name: "focus workspace",
			cmd:  compositor.FocusWorkspace{ID: 3},
			want: []string{`{"Action":{"FocusWorkspace":{"reference":{"Id":3}}}}`},
		},
		{
			name: "scroll down twice",
			cmd:  compositor.ScrollWorkspace{Delta: 2},
			want: []string{`{"Action":{"FocusWorkspaceDown":{}}}`, `{"Action":{"FocusWorkspaceDown":{}}}`},
		},
		{
			name: "scroll up",
			cmd:  compositor.ScrollWorkspace{Delta: -1},
			want: []string{`{"Action":{"FocusWorkspaceUp":{}}}`},
		},
		{
			name: "switch layout",
			cmd:  compositor.NextKeyboardLayout{},
			want: []string{`{"Action":{"SwitchLayout":{"layout":"Next"}}}`},
		},
		{
			name: "fullscreen",
			cmd:  compositor.ToggleFullscreen{},
			want: []string{`{"Action":{"FullscreenWindow":{"id":null}}}`},
		},
		{
			name: "spawn",
			cmd:  compositor.Custom{Dispatcher: "spawn", Args: "foot -e htop"},
			want: []string{`{"Action":{"Spawn":{"command":["foot","-e","htop"]}}}`},
		},
		{
			name: "raw action",
			cmd:  compositor.Custom{Dispatcher: "CloseWindow", Args: `{"id":null}`},
			want: []string{`{"Action":{"CloseWindow":{"id":null}}}`},
		},
		{
			name: "focused window query",
			cmd:  compositor.GetActiveWindow{},
			want: []string{requestFocusedWindow},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Translate(tt.cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	move, err := Translate(compositor.MoveWindowToWorkspace{ID: 4})
	require.NoError(t, err)
	require.Len(t, move, 1)
	assert.Equal(t, int64(4), gjson.Get(move[0], "Action.MoveWindowToWorkspace.reference.Id").Int())
	assert.True(t, gjson.Get(move[0], "Action.MoveWindowToWorkspace.focus").Bool())

	for _, cmd := range []compositor.Command{
		compositor.FocusSpecialWorkspace{Name: "x"},
		compositor.ToggleSpecialWorkspace{Name: "x"},
		compositor.FocusMonitor{ID: 0},
	} {
		_, err := Translate(cmd)
		assert.Equal(t, errors.ErrCodeCommandUnsupported, errors.GetCode(err), cmd.CommandName())
	}

	_, err = Translate(compositor.Custom{Dispatcher: "CloseWindow", Args: "{broken"})
	assert.Equal(t, errors.ErrCodeInvalidCommand, errors.GetCode(err))

	for _, delta := range []int{maxScrollSteps + 1, -maxScrollSteps - 1, 1 << 62, -1 << 63} {
		_, err := Translate(compositor.ScrollWorkspace{Delta: delta})
		assert.Equal(t, errors.ErrCodeInvalidCommand, errors.GetCode(err), "delta %d", delta)
	}
	steps, err := Translate(compositor.ScrollWorkspace{Delta: -maxScrollSteps})
	require.NoError(t, err)
	assert.Len(t, steps, maxScrollSteps)
}
