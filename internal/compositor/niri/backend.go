// Package niri implements the compositor backend for niri's JSON IPC: one
// socket, newline-terminated JSON requests, {"Ok":…}/{"Err":…} replies,
// and an EventStream mode that turns a connection into an event feed.
package niri

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/grovetools/wayshell/errors"
	"github.com/grovetools/wayshell/internal/compositor"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	// SocketEnv is set by niri for every client it starts.
	SocketEnv = "NIRI_SOCKET"
	// SocketPathEnv is the older name some setups export.
	SocketPathEnv = "NIRI_SOCKET_PATH"

	defaultTimeout = 2 * time.Second
	maxLine        = 1024 * 1024
)

// Option configures a Backend.
type Option func(*Backend)

// WithLookupEnv replaces os.LookupEnv for detection and path resolution.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(b *Backend) {
		b.lookupEnv = fn
	}
}

// Backend talks to a running niri instance.
type Backend struct {
	lookupEnv func(string) (string, bool)
	logger    *logrus.Entry

	mu     sync.Mutex
	events map[net.Conn]struct{}
}

// New creates a niri backend.
func New(logger *logrus.Entry, opts ...Option) *Backend {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	b := &Backend{
		lookupEnv: os.LookupEnv,
		logger:    logger.WithField("backend", "niri"),
		events:    make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Kind() compositor.Kind { return compositor.KindNiri }

// Detect reports whether a niri socket is advertised or present.
func (b *Backend) Detect() bool {
	_, err := b.SocketPath()
	return err == nil
}

// SocketPath resolves the IPC socket: NIRI_SOCKET, then NIRI_SOCKET_PATH,
// then the newest niri.*.sock under $XDG_RUNTIME_DIR.
func (b *Backend) SocketPath() (string, error) {
	for _, key := range []string{SocketEnv, SocketPathEnv} {
		if v, ok := b.lookupEnv(key); ok && v != "" {
			return v, nil
		}
	}

	runtime, ok := b.lookupEnv("XDG_RUNTIME_DIR")
	if !ok || runtime == "" {
		return "", errors.New(errors.ErrCodeNoBackend, "niri socket not found: "+SocketEnv+" is not set")
	}
	matches, _ := filepath.Glob(filepath.Join(runtime, "niri.*.sock"))
	if len(matches) == 0 {
		return "", errors.New(errors.ErrCodeNoBackend, "niri socket not found in "+runtime)
	}

	// Several sockets mean stale ones from crashed sessions; prefer the newest.
	slices.SortFunc(matches, func(a, c string) int {
		return modTime(c).Compare(modTime(a))
	})
	return matches[0], nil
}

func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func (b *Backend) dial(ctx context.Context) (net.Conn, string, error) {
	path, err := b.SocketPath()
	if err != nil {
		return nil, "", err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, path, errors.Transport(path, err)
	}
	return conn, path, nil
}

// Connect dials the socket once to check it is reachable.
func (b *Backend) Connect(ctx context.Context) error {
	conn, _, err := b.dial(ctx)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Request sends one JSON request and returns the value inside "Ok".
func (b *Backend) Request(ctx context.Context, request string) (gjson.Result, error) {
	conn, path, err := b.dial(ctx)
	if err != nil {
		return gjson.Result{}, err
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return gjson.Result{}, errors.Transport(path, err)
	}

	if _, err := io.WriteString(conn, request+"\n"); err != nil {
		return gjson.Result{}, errors.Transport(path, err)
	}
	line, err := bufio.NewReaderSize(conn, 64*1024).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return gjson.Result{}, errors.Transport(path, err)
	}
	return parseReply(request, line)
}

// parseReply unwraps {"Ok":…} or turns {"Err":"…"} into CommandFailed.
func parseReply(request string, line []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(line) {
		return gjson.Result{}, errors.Protocol("niri", "invalid reply JSON")
	}
	reply := gjson.ParseBytes(line)
	if e := reply.Get("Err"); e.Exists() {
		return gjson.Result{}, errors.CommandFailed("niri", request, e.String())
	}
	okv := reply.Get("Ok")
	if !okv.Exists() {
		return gjson.Result{}, errors.Protocol("niri", "reply has neither Ok nor Err")
	}
	return okv, nil
}

// Send translates cmd and performs its requests in order.
func (b *Backend) Send(ctx context.Context, cmd compositor.Command) (compositor.Ack, error) {
	reqs, err := Translate(cmd)
	if err != nil {
		return compositor.Ack{}, err
	}

	var ack compositor.Ack
	for _, req := range reqs {
		okv, err := b.Request(ctx, req)
		if err != nil {
			return compositor.Ack{}, err
		}
		ack.Reply = okv.Raw
	}

	if _, ok := cmd.(compositor.GetActiveWindow); ok {
		win := compositor.ActiveWindow{}
		if w := gjson.Parse(ack.Reply).Get("FocusedWindow"); w.IsObject() {
			win = compositor.ActiveWindow{
				Title:   w.Get("title").String(),
				Class:   w.Get("app_id").String(),
				Address: w.Get("id").String(),
			}
		}
		ack.Window = &win
	}
	return ack, nil
}

// Snapshot queries workspaces, windows and keyboard layouts and folds them
// through a fresh tracker.
func (b *Backend) Snapshot(ctx context.Context) (compositor.State, error) {
	t := NewTracker()

	queries := []struct {
		request string
		event   string
		field   string
	}{
		{requestWorkspaces, "WorkspacesChanged", "workspaces"},
		{requestWindows, "WindowsChanged", "windows"},
		{requestKeyboardLayouts, "KeyboardLayoutsChanged", "keyboard_layouts"},
	}
	for _, q := range queries {
		okv, err := b.Request(ctx, q.request)
		if err != nil {
			return compositor.State{}, err
		}
		// Replies are {"Workspaces":[…]}; replay them as the matching event.
		payload := okv.Get(unquote(q.request))
		ev := `{"` + q.event + `":{"` + q.field + `":` + payload.Raw + `}}`
		if _, err := t.Apply([]byte(ev)); err != nil {
			return compositor.State{}, err
		}
	}
	return t.State(), nil
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// Events switches a fresh connection into event-stream mode and emits a
// StateReplaced for every event that changes the tracked state.
func (b *Backend) Events(ctx context.Context) (<-chan compositor.Event, <-chan error) {
	out := make(chan compositor.Event, 16)
	errc := make(chan error, 1)

	fail := func(err error) (<-chan compositor.Event, <-chan error) {
		errc <- err
		close(out)
		close(errc)
		return out, errc
	}

	conn, path, err := b.dial(ctx)
	if err != nil {
		return fail(err)
	}
	b.track(conn)
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	go func() {
		defer close(errc)
		defer close(out)
		defer b.untrack(conn)
		defer stop()

		err := b.stream(ctx, conn, out)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = io.EOF
		}
		if errors.GetCode(err) == "" {
			err = errors.Transport(path, err)
		}
		errc <- err
	}()

	return out, errc
}

func (b *Backend) stream(ctx context.Context, conn net.Conn, out chan<- compositor.Event) error {
	if _, err := io.WriteString(conn, requestEventStream+"\n"); err != nil {
		return err
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return err
		}
		return io.ErrUnexpectedEOF
	}
	if _, err := parseReply(requestEventStream, scanner.Bytes()); err != nil {
		return err
	}

	t := NewTracker()
	for scanner.Scan() {
		changed, err := t.Apply(scanner.Bytes())
		if err != nil {
			// IPC is not version-bound; skip what we cannot read.
			b.logger.WithError(err).Debug("Skipping niri event")
			continue
		}
		if !changed {
			continue
		}
		select {
		case out <- compositor.StateReplaced{State: t.State()}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return scanner.Err()
}

// Close closes every open event connection.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.events {
		conn.Close()
		delete(b.events, conn)
	}
	return nil
}

func (b *Backend) track(conn net.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[conn] = struct{}{}
}

func (b *Backend) untrack(conn net.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.events[conn]; ok {
		conn.Close()
		delete(b.events, conn)
	}
}
