package instance

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/grovetools/wayshell/errors"
)

// DefaultDialTimeout bounds a client's connect-and-write to the primary.
const DefaultDialTimeout = 500 * time.Millisecond

// Send delivers prefill to the primary listening on socketPath and closes
// the connection. It does not wait for the primary to act on it.
func Send(ctx context.Context, socketPath, prefill string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return errors.Transport(socketPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	}
	if _, err := io.WriteString(conn, encodePrefill(prefill)); err != nil {
		return errors.Transport(socketPath, err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		uc.CloseWrite()
	}
	return nil
}
