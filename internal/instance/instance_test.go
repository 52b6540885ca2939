package instance

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/grovetools/wayshell/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deadPID is above any pid_max the kernel allows, so kill(2) reports ESRCH.
const deadPID = 1 << 30

func testOptions(t *testing.T) Options {
	t.Helper()
	dir := t.TempDir()
	return Options{
		SocketPath:       filepath.Join(dir, "wayshell.sock"),
		LockPath:         filepath.Join(dir, "wayshell.lock"),
		DialTimeout:      200 * time.Millisecond,
		ReadTimeout:      time.Second,
		RecoveryAttempts: 5,
		RecoveryDelay:    5 * time.Millisecond,
		RecoveryMaxDelay: 20 * time.Millisecond,
	}
}

func TestLockExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "wayshell.lock")

	first, err := Acquire(path)
	require.NoError(t, err)

	pid, err := ReadPID(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	_, err = Acquire(path)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeLockHeld, errors.GetCode(err))

	require.NoError(t, first.Release())
	require.NoError(t, first.Release())

	second, err := Acquire(path)
	require.NoError(t, err)
	defer second.Release()
}

func TestHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wayshell.lock")

	pid, alive, err := Holder(path)
	require.NoError(t, err)
	assert.Zero(t, pid)
	assert.False(t, alive)

	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(deadPID)+"\n"), 0o600))
	pid, alive, err = Holder(path)
	require.NoError(t, err)
	assert.Equal(t, deadPID, pid)
	assert.False(t, alive)

	l, err := Acquire(path)
	require.NoError(t, err)
	defer l.Release()
	pid, alive, err = Holder(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, alive)
}

func TestDecodePrefill(t *testing.T) {
	tests := []struct {
		line string
		want *string
	}{
		{"", nil},
		{"\n", nil},
		{"hello\n", ptr("hello")},
		{"hello\r\n", ptr("hello")},
		{"ipc:launcher:\n", nil},
		{"ipc:launcher:firefox\n", ptr("firefox")},
		{"two words", ptr("two words")},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, decodePrefill(tt.line), "line %q", tt.line)
	}

	assert.Equal(t, "a b\n", encodePrefill("a\nb"))
	assert.Equal(t, "\n", encodePrefill(""))
}

func ptr(s string) *string { return &s }

type recorder struct {
	mu    sync.Mutex
	reqs  []LauncherOpenRequest
	calls chan LauncherOpenRequest
	block chan struct{}
}

func newRecorder(block chan struct{}) *recorder {
	return &recorder{calls: make(chan LauncherOpenRequest, 8), block: block}
}

func (r *recorder) handle(_ context.Context, req LauncherOpenRequest) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	r.calls <- req
	if r.block != nil {
		<-r.block
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

func startPrimary(t *testing.T, opts Options, handler Handler) (*Coordinator, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	c := New(opts, handler, nil)
	role, err := c.Start(ctx, "")
	require.NoError(t, err)
	require.Equal(t, RolePrimary, role)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		c.Close()
	})
	return c, cancel
}

func TestHandoffToPrimary(t *testing.T) {
	opts := testOptions(t)
	release := make(chan struct{})
	rec := newRecorder(release)
	startPrimary(t, opts, rec.handle)
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	t.Cleanup(unblock)

	info, err := os.Stat(opts.SocketPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	client := New(opts, nil, nil)
	type result struct {
		role Role
		err  error
	}
	done := make(chan result, 1)
	go func() {
		role, err := client.Start(context.Background(), "hello")
		done <- result{role, err}
	}()

	// The handler is still blocked, so a returning client proves it did
	// not wait for the primary to act.
	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, RoleClient, res.role)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not return while the handler was running")
	}

	select {
	case req := <-rec.calls:
		require.True(t, req.HasPrefill())
		assert.Equal(t, "hello", req.PrefillText())
		assert.NotEmpty(t, req.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("handler not invoked")
	}
	unblock()

	select {
	case extra := <-rec.calls:
		t.Fatalf("handler invoked twice: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 1, rec.count())
}

func TestHandoffWithoutPrefill(t *testing.T) {
	opts := testOptions(t)
	rec := newRecorder(nil)
	startPrimary(t, opts, rec.handle)

	role, err := New(opts, nil, nil).Start(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, RoleClient, role)

	select {
	case req := <-rec.calls:
		assert.False(t, req.HasPrefill())
	case <-time.After(2 * time.Second):
		t.Fatal("handler not invoked")
	}
}

func TestSilentClientStillOpensLauncher(t *testing.T) {
	opts := testOptions(t)
	opts.ReadTimeout = 50 * time.Millisecond
	rec := newRecorder(nil)
	startPrimary(t, opts, rec.handle)

	conn, err := net.Dial("unix", opts.SocketPath)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case req := <-rec.calls:
		assert.False(t, req.HasPrefill())
	case <-time.After(2 * time.Second):
		t.Fatal("handler not invoked after read deadline")
	}
}

func TestStaleLockRecovered(t *testing.T) {
	opts := testOptions(t)

	// Another open file holds the lock, but the recorded owner is dead and
	// nobody listens on the socket.
	holder, err := Acquire(opts.LockPath)
	require.NoError(t, err)
	defer holder.Release()
	require.NoError(t, os.WriteFile(opts.LockPath, []byte(strconv.Itoa(deadPID)+"\n"), 0o600))
	require.NoError(t, os.WriteFile(opts.SocketPath, nil, 0o600))

	c := New(opts, func(context.Context, LauncherOpenRequest) {}, nil)
	defer c.Close()

	role, err := c.Start(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, RolePrimary, role)

	pid, err := ReadPID(opts.LockPath)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestLockReleasedDuringRecovery(t *testing.T) {
	opts := testOptions(t)
	opts.RecoveryAttempts = 20
	opts.RecoveryDelay = 10 * time.Millisecond

	holder, err := Acquire(opts.LockPath)
	require.NoError(t, err)
	go func() {
		time.Sleep(30 * time.Millisecond)
		holder.Release()
	}()

	c := New(opts, nil, nil)
	defer c.Close()
	role, err := c.Start(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, RolePrimary, role)
}

func TestRecoveryBounded(t *testing.T) {
	opts := testOptions(t)
	opts.RecoveryAttempts = 3

	// Live owner (this process) without a listener: unreachable forever.
	holder, err := Acquire(opts.LockPath)
	require.NoError(t, err)
	defer holder.Release()

	c := New(opts, nil, nil)
	start := time.Now()
	role, err := c.Start(context.Background(), "hello")

	require.Error(t, err)
	assert.Equal(t, RoleStarting, role)
	assert.Equal(t, errors.ErrCodeLockRecovery, errors.GetCode(err))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCloseRemovesSocket(t *testing.T) {
	opts := testOptions(t)
	c := New(opts, nil, nil)
	role, err := c.Start(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, RolePrimary, role)

	require.NoError(t, c.Close())
	_, err = os.Stat(opts.SocketPath)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, RoleTerminated, c.Role())

	next, err := Acquire(opts.LockPath)
	require.NoError(t, err)
	next.Release()
}
