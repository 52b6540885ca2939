// Package instance makes sure only one wayshell runs per session. The first
// process takes an flock on the lock file and listens on a Unix socket;
// later processes hand their launcher request to it and exit.
package instance

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/grovetools/wayshell/errors"
	"github.com/grovetools/wayshell/pkg/paths"
	"github.com/grovetools/wayshell/pkg/retry"
	"github.com/sirupsen/logrus"
)

// Role is the outcome of Start.
type Role int

const (
	RoleStarting Role = iota
	RolePrimary
	RoleClient
	RoleTerminated
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleClient:
		return "client"
	case RoleTerminated:
		return "terminated"
	default:
		return "starting"
	}
}

// Options configures a Coordinator.
type Options struct {
	SocketPath string
	LockPath   string

	DialTimeout time.Duration
	ReadTimeout time.Duration

	// RecoveryAttempts bounds the lock-then-dial retries when the lock is
	// held but the primary cannot be reached.
	RecoveryAttempts int
	RecoveryDelay    time.Duration
	RecoveryMaxDelay time.Duration
}

// DefaultOptions returns options rooted at the runtime directory.
func DefaultOptions() Options {
	return Options{
		SocketPath:       paths.InstanceSocketPath(),
		LockPath:         paths.InstanceLockPath(),
		DialTimeout:      DefaultDialTimeout,
		ReadTimeout:      DefaultReadTimeout,
		RecoveryAttempts: 10,
		RecoveryDelay:    50 * time.Millisecond,
		RecoveryMaxDelay: time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SocketPath == "" {
		o.SocketPath = d.SocketPath
	}
	if o.LockPath == "" {
		o.LockPath = d.LockPath
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = d.DialTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = d.ReadTimeout
	}
	if o.RecoveryAttempts <= 0 {
		o.RecoveryAttempts = d.RecoveryAttempts
	}
	if o.RecoveryDelay <= 0 {
		o.RecoveryDelay = d.RecoveryDelay
	}
	if o.RecoveryMaxDelay <= 0 {
		o.RecoveryMaxDelay = d.RecoveryMaxDelay
	}
	return o
}

// Coordinator decides whether this process is the primary instance.
type Coordinator struct {
	opts    Options
	handler Handler
	logger  *logrus.Entry

	mu       sync.Mutex
	role     Role
	lock     *Lock
	listener *Listener
}

// New creates a coordinator. handler receives requests once this process
// is primary; it may be nil for processes that only ever act as clients.
func New(opts Options, handler Handler, logger *logrus.Entry) *Coordinator {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Coordinator{
		opts:    opts.withDefaults(),
		handler: handler,
		logger:  logger,
	}
}

// Role returns the current role.
func (c *Coordinator) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Start takes the lock and becomes primary, or hands prefill to the
// running primary and becomes client. A held lock with an unreachable
// primary is retried a bounded number of times; a lock whose recorded
// owner is dead is cleared. When nothing works Start returns an
// ErrCodeLockRecovery error.
func (c *Coordinator) Start(ctx context.Context, prefill string) (Role, error) {
	cfg := retry.Config{
		MaxAttempts:  c.opts.RecoveryAttempts,
		InitialDelay: c.opts.RecoveryDelay,
		MaxDelay:     c.opts.RecoveryMaxDelay,
	}

	var role Role
	var lastErr error
	err := retry.Do(ctx, cfg, func(attempt int) error {
		r, err := c.attempt(ctx, prefill, attempt)
		if err != nil {
			lastErr = err
			return err
		}
		role = r
		return nil
	})
	if err != nil {
		if errors.GetCode(err) == errors.ErrCodePermissionDenied || ctx.Err() != nil {
			return RoleStarting, err
		}
		return RoleStarting, errors.LockRecovery(c.opts.LockPath, c.opts.RecoveryAttempts, lastErr)
	}

	c.mu.Lock()
	c.role = role
	c.mu.Unlock()
	return role, nil
}

func (c *Coordinator) attempt(ctx context.Context, prefill string, attempt int) (Role, error) {
	logger := c.logger.WithField("attempt", attempt)

	lock, err := Acquire(c.opts.LockPath)
	if err == nil {
		if err := c.becomePrimary(lock); err != nil {
			lock.Release()
			return RoleStarting, err
		}
		logger.WithField("socket", c.opts.SocketPath).Info("Running as primary instance")
		return RolePrimary, nil
	}
	if !errors.Is(err, errors.ErrCodeLockHeld) {
		return RoleStarting, retry.Permanent(err)
	}

	sendErr := Send(ctx, c.opts.SocketPath, prefill, c.opts.DialTimeout)
	if sendErr == nil {
		logger.Debug("Handed request to primary instance")
		return RoleClient, nil
	}

	pid, alive, herr := Holder(c.opts.LockPath)
	if herr == nil && pid > 0 && !alive {
		logger.WithField("pid", pid).Warn("Instance lock owner is gone, clearing stale lock")
		os.Remove(c.opts.SocketPath)
		os.Remove(c.opts.LockPath)
	} else {
		logger.WithError(sendErr).Debug("Primary instance not reachable yet")
	}
	return RoleStarting, sendErr
}

func (c *Coordinator) becomePrimary(lock *Lock) error {
	ln, err := Listen(c.opts.SocketPath, c.opts.ReadTimeout, c.handler, c.logger)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.lock = lock
	c.listener = ln
	c.mu.Unlock()
	return nil
}

// Serve runs the primary's accept loop until ctx is done.
func (c *Coordinator) Serve(ctx context.Context) error {
	c.mu.Lock()
	ln := c.listener
	c.mu.Unlock()
	if ln == nil {
		return errors.New(errors.ErrCodeInternal, "instance is not primary")
	}
	return ln.Serve(ctx)
}

// Close removes the socket and releases the lock.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.listener != nil {
		c.listener.Close()
		c.listener = nil
	}
	if c.lock != nil {
		err = c.lock.Release()
		c.lock = nil
	}
	c.role = RoleTerminated
	return err
}
