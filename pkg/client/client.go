// Package client talks to a running wayshell primary through its state
// server socket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grovetools/wayshell/errors"
	"github.com/grovetools/wayshell/internal/server"
	"github.com/grovetools/wayshell/internal/services"
)

// baseURL is the dummy host used for Unix socket HTTP requests.
// The actual connection goes through the Unix socket, not this URL.
const baseURL = "http://unix"

// Client calls the state server API over a Unix socket.
type Client struct {
	httpClient *http.Client
	dialer     *websocket.Dialer
	socketPath string
}

// New creates a client for the state server at socketPath. No connection
// is made until the first call.
func New(socketPath string) *Client {
	dial := func(ctx context.Context, _, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", socketPath)
	}

	transport := &http.Transport{
		DialContext:     dial,
		MaxIdleConns:    4,
		IdleConnTimeout: 30 * time.Second,
	}

	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   10 * time.Second,
		},
		dialer: &websocket.Dialer{
			NetDialContext:   dial,
			HandshakeTimeout: 5 * time.Second,
		},
		socketPath: socketPath,
	}
}

// SocketPath returns the socket the client dials.
func (c *Client) SocketPath() string { return c.socketPath }

// IsRunning returns true if the server is available and responding.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	return c.Health(ctx) == nil
}

// Health checks /health.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Info returns the primary's running info.
func (c *Client) Info(ctx context.Context) (*server.RunningInfo, error) {
	var info server.RunningInfo
	if err := c.getJSON(ctx, "/api/info", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Services lists the registered services with their fields and commands.
func (c *Client) Services(ctx context.Context) ([]services.Info, error) {
	var infos []services.Info
	if err := c.getJSON(ctx, "/api/services", &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// Get returns the current value of one field as raw JSON.
func (c *Client) Get(ctx context.Context, service, field string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, fieldPath("/api/state", service, field), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Dispatch sends a command by wire name. args may be nil.
func (c *Client) Dispatch(ctx context.Context, service, command string, args json.RawMessage) error {
	body, err := json.Marshal(server.DispatchRequest{Command: command, Args: args})
	if err != nil {
		return fmt.Errorf("failed to encode dispatch request: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/dispatch/"+url.PathEscape(service), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

// Watch streams values of one field, starting with the current one. The
// channel is closed when ctx is done or the server goes away.
func (c *Client) Watch(ctx context.Context, service, field string) (<-chan json.RawMessage, error) {
	u := "ws://unix" + fieldPath("/api/stream", service, field)
	conn, resp, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusSwitchingProtocols {
				return nil, decodeError(resp)
			}
		}
		return nil, errors.Transport(c.socketPath, err)
	}

	out := make(chan json.RawMessage)
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	})

	go func() {
		defer close(out)
		defer stop()
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case out <- json.RawMessage(data):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func fieldPath(prefix, service, field string) string {
	return prefix + "/" + url.PathEscape(service) + "/" + url.PathEscape(field)
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, fmt.Sprintf("failed to decode %s", path))
	}
	return nil
}

// do sends a request and returns the response when the status is 2xx. Other
// statuses are decoded into the server's ShellError.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Transport(c.socketPath, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var shellErr errors.ShellError
	if err := json.Unmarshal(data, &shellErr); err == nil && shellErr.Code != "" {
		return &shellErr
	}
	return errors.New(errors.ErrCodeInternal,
		fmt.Sprintf("server returned status %d: %s", resp.StatusCode, bytes.TrimSpace(data)))
}
