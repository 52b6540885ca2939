// Package hyprland implements the compositor backend for Hyprland's
// two-socket IPC: a request socket taking one text command per connection,
// and an event socket streaming EVENT>>DATA lines.
package hyprland

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/grovetools/wayshell/errors"
	"github.com/grovetools/wayshell/internal/compositor"
	"github.com/sirupsen/logrus"
)

const (
	// SignatureEnv is set by Hyprland for every client it starts.
	SignatureEnv = "HYPRLAND_INSTANCE_SIGNATURE"

	commandSocket = ".socket.sock"
	eventSocket   = ".socket2.sock"

	defaultTimeout = 2 * time.Second
)

// Option configures a Backend.
type Option func(*Backend)

// WithLookupEnv replaces os.LookupEnv for detection and path resolution.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(b *Backend) {
		b.lookupEnv = fn
	}
}

// Backend talks to a running Hyprland instance.
type Backend struct {
	lookupEnv func(string) (string, bool)
	logger    *logrus.Entry

	mu     sync.Mutex
	events map[net.Conn]struct{}
}

// New creates a Hyprland backend.
func New(logger *logrus.Entry, opts ...Option) *Backend {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	b := &Backend{
		lookupEnv: os.LookupEnv,
		logger:    logger.WithField("backend", "hyprland"),
		events:    make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Kind() compositor.Kind { return compositor.KindHyprland }

// Detect reports whether HYPRLAND_INSTANCE_SIGNATURE is set.
func (b *Backend) Detect() bool {
	sig, ok := b.lookupEnv(SignatureEnv)
	return ok && sig != ""
}

// SocketDir returns the directory holding the instance's sockets:
// $XDG_RUNTIME_DIR/hypr/<sig>, or /tmp/hypr/<sig> for older releases.
func (b *Backend) SocketDir() (string, error) {
	sig, ok := b.lookupEnv(SignatureEnv)
	if !ok || sig == "" {
		return "", errors.New(errors.ErrCodeNoBackend, SignatureEnv+" is not set")
	}

	var candidates []string
	if runtime, ok := b.lookupEnv("XDG_RUNTIME_DIR"); ok && runtime != "" {
		candidates = append(candidates, filepath.Join(runtime, "hypr", sig))
	}
	candidates = append(candidates, filepath.Join("/tmp", "hypr", sig))

	for _, dir := range candidates {
		if _, err := os.Stat(filepath.Join(dir, commandSocket)); err == nil {
			return dir, nil
		}
	}
	return candidates[0], nil
}

func (b *Backend) socketPath(name string) (string, error) {
	dir, err := b.SocketDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// Connect dials the request socket once to check it is reachable.
func (b *Backend) Connect(ctx context.Context) error {
	path, err := b.socketPath(commandSocket)
	if err != nil {
		return err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return errors.Transport(path, err)
	}
	return conn.Close()
}

// Request sends one raw command and returns the full reply.
func (b *Backend) Request(ctx context.Context, command string) ([]byte, error) {
	path, err := b.socketPath(commandSocket)
	if err != nil {
		return nil, err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, errors.Transport(path, err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, errors.Transport(path, err)
	}

	if _, err := io.WriteString(conn, command); err != nil {
		return nil, errors.Transport(path, err)
	}
	reply, err := io.ReadAll(conn)
	if err != nil {
		return nil, errors.Transport(path, err)
	}
	return reply, nil
}

// Send translates cmd and performs the round-trip.
func (b *Backend) Send(ctx context.Context, cmd compositor.Command) (compositor.Ack, error) {
	wire, err := Translate(cmd)
	if err != nil {
		return compositor.Ack{}, err
	}
	if wire == "" {
		return compositor.Ack{Reply: "ok"}, nil
	}

	reply, err := b.Request(ctx, wire)
	if err != nil {
		return compositor.Ack{}, err
	}

	if _, ok := cmd.(compositor.GetActiveWindow); ok {
		win, err := parseActiveWindow(reply)
		if err != nil {
			return compositor.Ack{}, err
		}
		return compositor.Ack{Reply: string(reply), Window: &win}, nil
	}

	if err := checkReply(wire, reply); err != nil {
		return compositor.Ack{}, err
	}
	return compositor.Ack{Reply: string(reply)}, nil
}

// Events dials the event socket and streams parsed events.
func (b *Backend) Events(ctx context.Context) (<-chan compositor.Event, <-chan error) {
	out := make(chan compositor.Event, 16)
	errc := make(chan error, 1)

	path, err := b.socketPath(eventSocket)
	if err != nil {
		errc <- err
		close(out)
		close(errc)
		return out, errc
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		errc <- errors.Transport(path, err)
		close(out)
		close(errc)
		return out, errc
	}
	b.track(conn)
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	go func() {
		defer close(errc)
		defer close(out)
		defer b.untrack(conn)
		defer stop()

		err := b.readEvents(ctx, conn, out)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = io.EOF
		}
		errc <- errors.Transport(path, err)
	}()

	return out, errc
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

// String identifies the backend in logs.
func (b *Backend) String() string {
	dir, err := b.SocketDir()
	if err != nil {
		return "hyprland"
	}
	return fmt.Sprintf("hyprland(%s)", dir)
}
