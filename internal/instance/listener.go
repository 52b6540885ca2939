package instance

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultReadTimeout bounds how long the primary waits for a client's line.
	DefaultReadTimeout = time.Second

	maxRequestSize = 64 * 1024
)

// Handler receives launcher-open requests on the primary. It runs after
// the client connection is closed, so a slow handler never holds up the
// client.
type Handler func(ctx context.Context, req LauncherOpenRequest)

// Listener is the primary's end of the instance channel.
type Listener struct {
	path        string
	ln          net.Listener
	handler     Handler
	readTimeout time.Duration
	logger      *logrus.Entry

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Listen binds the instance socket. Any existing file at path is removed
// first; the caller must already own the instance lock.
func Listen(path string, readTimeout time.Duration, handler Handler, logger *logrus.Entry) (*Listener, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on socket: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}

	return &Listener{
		path:        path,
		ln:          ln,
		handler:     handler,
		readTimeout: readTimeout,
		logger:      logger,
	}, nil
}

// Path returns the socket path.
func (l *Listener) Path() string { return l.path }

// Serve accepts connections until ctx is done or the listener is closed.
// It waits for in-flight handlers before returning.
func (l *Listener) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	l.logger.WithField("socket", l.path).Info("Instance listener started")
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			l.wg.Wait()
			if ctx.Err() != nil || stderrors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept on %s: %w", l.path, err)
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handle(ctx, conn)
		}()
	}
}

func (l *Listener) handle(ctx context.Context, conn net.Conn) {
	req := LauncherOpenRequest{
		ID:       uuid.NewString(),
		Received: time.Now(),
	}
	logger := l.logger.WithField("request_id", req.ID)

	line, err := readLine(conn, l.readTimeout)
	conn.Close()
	if err != nil {
		// A client that connects and sends nothing still asks for the launcher.
		logger.WithError(err).Debug("Instance request read incomplete")
	}
	req.Prefill = decodePrefill(line)

	logger.WithField("prefill", req.PrefillText()).Info("Received launcher request")
	if l.handler != nil {
		l.handler(ctx, req)
	}
}

func readLine(conn net.Conn, timeout time.Duration) (string, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", err
	}
	r := bufio.NewReader(io.LimitReader(conn, maxRequestSize))
	line, err := r.ReadString('\n')
	if err == io.EOF && line != "" {
		err = nil
	}
	return line, err
}

// Close stops accepting and removes the socket file.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.ln.Close()
		if rmErr := os.Remove(l.path); rmErr != nil && !os.IsNotExist(rmErr) {
			l.logger.WithError(rmErr).Warn("Failed to remove instance socket")
		}
	})
	return err
}
