// Package server exposes the service registry over HTTP on a Unix socket so
// bars, scripts and the CLI can read, watch and drive services from outside
// the process.
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grovetools/wayshell/errors"
	"github.com/grovetools/wayshell/internal/services"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 5 * time.Second
	pingPeriod     = 30 * time.Second
	maxRequestBody = 1 << 20
)

// RunningInfo describes the primary process. It is served on /api/info so
// clients can tell which instance they are talking to.
type RunningInfo struct {
	PID        int       `json:"pid"`
	Version    string    `json:"version"`
	Backend    string    `json:"backend,omitempty"`
	ConfigFile string    `json:"config_file,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

// DispatchRequest is the body of POST /api/dispatch/{service}.
type DispatchRequest struct {
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// Server serves a Registry over a Unix socket.
type Server struct {
	logger   *logrus.Entry
	registry *services.Registry
	info     *RunningInfo
	server   *http.Server
	upgrader websocket.Upgrader

	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a server for registry.
func New(registry *services.Registry, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		logger:   logger,
		registry: registry,
		closing:  make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Only local processes can reach the socket.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// SetRunningInfo sets what /api/info reports.
func (s *Server) SetRunningInfo(info *RunningInfo) {
	s.info = info
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /api/info", s.handleInfo)
	mux.HandleFunc("GET /api/services", s.handleServices)
	mux.HandleFunc("GET /api/state/{service}/{field}", s.handleGet)
	mux.HandleFunc("GET /api/stream/{service}/{field}", s.handleStream)
	mux.HandleFunc("POST /api/dispatch/{service}", s.handleDispatch)

	return mux
}

// ListenAndServe serves on socketPath until Shutdown is called or ctx is
// done. A stale socket file is replaced.
func (s *Server) ListenAndServe(ctx context.Context, socketPath string) error {
	if _, err := os.Stat(socketPath); err == nil {
		if err := os.Remove(socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(socketPath), 0o700); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	if err := os.Chmod(socketPath, 0o600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	})
	defer stop()

	s.logger.WithField("socket", socketPath).Info("State server listening")
	err = s.server.Serve(listener)
	_ = os.Remove(socketPath)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server. Open streams are closed with it.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	if s.server == nil {
		return nil
	}
	s.logger.Debug("Shutting down state server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if s.info == nil {
		http.Error(w, "info not initialized", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.info)
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Services())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	v, err := s.registry.Get(r.PathValue("service"), r.PathValue("field"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	service := r.PathValue("service")

	var req DispatchRequest
	body := io.LimitReader(r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.writeError(w, errors.InvalidCommand(service, "invalid request body: "+err.Error()))
		return
	}
	if req.Command == "" {
		s.writeError(w, errors.InvalidCommand(service, "missing command"))
		return
	}

	if err := s.registry.DispatchJSON(service, req.Command, req.Args); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.WithFields(logrus.Fields{
		"service": service,
		"command": req.Command,
	}).Debug("Dispatched command from client")
	writeJSON(w, http.StatusAccepted, map[string]string{"dispatched": req.Command})
}

// handleStream upgrades to a WebSocket and sends one JSON text frame per
// value of the field, starting with the current one.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	service, field := r.PathValue("service"), r.PathValue("field")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	values, stop, err := s.registry.Subscribe(ctx, service, field)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer stop()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Debug("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	log := s.logger.WithFields(logrus.Fields{"service": service, "field": field})
	log.Debug("Stream client connected")

	// The client never sends data frames; reading surfaces its close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-s.closing:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			log.Debug("Stream client disconnected")
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case v, ok := <-values:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(v); err != nil {
				log.WithError(err).Debug("Stream write failed")
				return
			}
		}
	}
}

// StatusFor maps an error code to the HTTP status the server answers with.
func StatusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeUnknownService, errors.ErrCodeUnknownField:
		return http.StatusNotFound
	case errors.ErrCodeInvalidCommand:
		return http.StatusBadRequest
	case errors.ErrCodeCommandUnsupported:
		return http.StatusNotImplemented
	case errors.ErrCodeNoBackend:
		return http.StatusServiceUnavailable
	case errors.ErrCodePermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var shellErr *errors.ShellError
	if !stderrors.As(err, &shellErr) {
		shellErr = errors.Wrap(err, errors.ErrCodeInternal, err.Error())
	}
	status := StatusFor(shellErr.Code)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).Warn("Request failed")
	}
	writeJSON(w, status, shellErr)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
