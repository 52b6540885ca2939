package shell

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/grovetools/wayshell/config"
	"github.com/grovetools/wayshell/internal/compositor"
	"github.com/grovetools/wayshell/internal/instance"
	"github.com/grovetools/wayshell/internal/launcher"
	"github.com/grovetools/wayshell/internal/services"
	"github.com/grovetools/wayshell/logging"
	"github.com/grovetools/wayshell/pkg/client"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logging.Configure(logging.Config{File: logging.FileSinkConfig{Disabled: true}})
	os.Exit(m.Run())
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Compositor.Backend = "none"
	cfg.Brightness.Root = filepath.Join(dir, "backlight")
	cfg.Power.Root = filepath.Join(dir, "power_supply")
	cfg.Instance.SocketPath = filepath.Join(dir, "instance.sock")
	cfg.Instance.LockPath = filepath.Join(dir, "instance.lock")
	cfg.Server.SocketPath = filepath.Join(dir, "state.sock")
	return cfg
}

func TestNewRegistersServices(t *testing.T) {
	s := New(Options{Config: testConfig(t), Backends: []compositor.Backend{}})

	var names []string
	for _, info := range s.Registry().Services() {
		names = append(names, info.Name)
	}
	assert.ElementsMatch(t, []string{"compositor", "launcher", "brightness", "power"}, names)
}

func TestHandleRequestTogglesLauncher(t *testing.T) {
	s := New(Options{Config: testConfig(t), Backends: []compositor.Backend{}})
	ctx := context.Background()

	hello := "hello"
	s.HandleRequest(ctx, instance.LauncherOpenRequest{ID: "req-1", Prefill: &hello})
	view := s.Launcher().View().Get()
	assert.True(t, view.Visible)
	assert.Equal(t, "hello", view.Prefill)
	assert.Equal(t, "req-1", view.RequestID)

	s.HandleRequest(ctx, instance.LauncherOpenRequest{ID: "req-2"})
	assert.False(t, s.Launcher().Visible().Get())
}

func TestOpen(t *testing.T) {
	s := New(Options{Config: testConfig(t), Backends: []compositor.Backend{}})
	require.NoError(t, s.Open(""))
	assert.True(t, s.Launcher().Visible().Get())
	assert.Empty(t, s.Launcher().View().Get().Prefill)
}

func TestOptionsMapping(t *testing.T) {
	cfg := config.Default()
	cfg.Compositor.ReconnectAttempts = 3
	cfg.Compositor.BackoffBase = config.Duration(100 * time.Millisecond)
	cfg.Instance.DialTimeout = config.Duration(time.Second)
	cfg.Instance.RecoveryAttempts = 4

	c := CompositorOptions(cfg)
	assert.Equal(t, "auto", c.Backend)
	assert.Equal(t, 3, c.ReconnectAttempts)
	assert.Equal(t, 100*time.Millisecond, c.BackoffBase)

	i := InstanceOptions(cfg)
	assert.Equal(t, time.Second, i.DialTimeout)
	assert.Equal(t, 4, i.RecoveryAttempts)

	assert.NotEmpty(t, StateSocketPath(cfg))
	cfg.Server.SocketPath = "/run/custom.sock"
	assert.Equal(t, "/run/custom.sock", StateSocketPath(cfg))
}

func TestRunServesRequestsAndState(t *testing.T) {
	cfg := testConfig(t)
	s := New(Options{Config: cfg, Backends: []compositor.Backend{}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord := instance.New(InstanceOptions(cfg), s.HandleRequest, nil)
	role, err := coord.Start(ctx, "")
	require.NoError(t, err)
	require.Equal(t, instance.RolePrimary, role)
	defer coord.Close()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, coord) }()

	c := client.New(cfg.Server.SocketPath)
	require.Eventually(t, func() bool { return c.IsRunning(ctx) }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, instance.Send(ctx, cfg.Instance.SocketPath, "term", time.Second))
	require.Eventually(t, func() bool {
		return s.Launcher().View().Get().Prefill == "term"
	}, 2*time.Second, 10*time.Millisecond)

	raw, err := c.Get(ctx, launcher.ServiceName, "visible")
	require.NoError(t, err)
	assert.JSONEq(t, "true", string(raw))

	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), info.PID)
	assert.Equal(t, "none", info.Backend)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunFollowsLoggingConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Enabled = new(bool)
	dir := t.TempDir()

	logging.Configure(logging.Config{Level: "info", File: logging.FileSinkConfig{Disabled: true}})
	t.Cleanup(func() {
		logging.Configure(logging.Config{File: logging.FileSinkConfig{Disabled: true}})
	})

	s := New(Options{Config: cfg, ConfigDir: dir, Backends: []compositor.Backend{}})
	logger := logging.NewLogger("shell")
	require.Equal(t, logrus.InfoLevel, logger.Logger.GetLevel())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, nil) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"),
		[]byte("[logging]\nlevel = \"debug\"\n[logging.file]\ndisabled = true\n"), 0o644))

	require.Eventually(t, func() bool {
		return logger.Logger.GetLevel() == logrus.DebugLevel
	}, 3*time.Second, 20*time.Millisecond)
}

func TestRunSurvivesStateServerFailure(t *testing.T) {
	cfg := testConfig(t)
	// Longer than a unix socket address can hold, so bind fails.
	cfg.Server.SocketPath = filepath.Join(t.TempDir(), strings.Repeat("s", 150)+".sock")
	s := New(Options{Config: cfg, Backends: []compositor.Backend{}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord := instance.New(InstanceOptions(cfg), s.HandleRequest, nil)
	role, err := coord.Start(ctx, "")
	require.NoError(t, err)
	require.Equal(t, instance.RolePrimary, role)
	defer coord.Close()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, coord) }()

	require.Eventually(t, func() bool {
		return s.ServerStatus().Get().State == services.StateError
	}, 3*time.Second, 10*time.Millisecond)

	select {
	case err := <-done:
		t.Fatalf("Run returned after state server failure: %v", err)
	default:
	}

	require.NoError(t, instance.Send(ctx, cfg.Instance.SocketPath, "term", time.Second))
	require.Eventually(t, func() bool {
		return s.Launcher().View().Get().Prefill == "term"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
