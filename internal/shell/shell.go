// Package shell assembles the wayshell process: it builds the service
// registry from config and runs it next to the instance listener, the state
// server and the config watcher.
package shell

import (
	"context"
	"os"
	"time"

	"github.com/grovetools/wayshell/config"
	"github.com/grovetools/wayshell/internal/brightness"
	"github.com/grovetools/wayshell/internal/compositor"
	"github.com/grovetools/wayshell/internal/compositor/hyprland"
	"github.com/grovetools/wayshell/internal/compositor/niri"
	"github.com/grovetools/wayshell/internal/instance"
	"github.com/grovetools/wayshell/internal/launcher"
	"github.com/grovetools/wayshell/internal/power"
	"github.com/grovetools/wayshell/internal/server"
	"github.com/grovetools/wayshell/internal/services"
	"github.com/grovetools/wayshell/logging"
	"github.com/grovetools/wayshell/pkg/paths"
	"github.com/grovetools/wayshell/pkg/reactive"
	"github.com/grovetools/wayshell/version"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Options configures a Shell.
type Options struct {
	Config *config.Config
	// ConfigDir is watched for changes; empty disables hot reload.
	ConfigDir string
	// Backends overrides the compositor backends; nil means Hyprland and niri.
	Backends []compositor.Backend
}

// Shell owns the services of one primary instance.
type Shell struct {
	cfg       *config.Config
	configDir string
	logger    *logrus.Entry

	registry   *services.Registry
	launcher   *launcher.Service
	compositor *compositor.Service
	server     *server.Server

	// serverStatus reports the state API. Its failure never stops the shell.
	serverStatus *reactive.Cell[services.Status]
}

// New builds the registry and registers every service.
func New(opts Options) *Shell {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	backends := opts.Backends
	if backends == nil {
		backends = []compositor.Backend{
			hyprland.New(logging.NewLogger("hyprland")),
			niri.New(logging.NewLogger("niri")),
		}
	}

	s := &Shell{
		cfg:       cfg,
		configDir: opts.ConfigDir,
		logger:    logging.NewLogger("shell"),
		registry:  services.NewRegistry(logging.NewLogger("services")),
		launcher:  launcher.NewService(logging.NewLogger("launcher")),

		serverStatus: services.NewStatusCell(),
	}
	s.compositor = compositor.NewService(CompositorOptions(cfg), logging.NewLogger("compositor"), backends...)

	s.registry.Register(s.compositor)
	s.registry.Register(s.launcher)
	s.registry.Register(brightness.NewService(brightness.Options{
		Root:         cfg.Brightness.Root,
		Device:       cfg.Brightness.Device,
		PollInterval: cfg.Brightness.PollInterval.Std(),
		QueueSize:    cfg.Compositor.QueueSize,
	}, logging.NewLogger("brightness")))
	s.registry.Register(power.NewService(power.Options{
		Root:         cfg.Power.Root,
		Device:       cfg.Power.Device,
		PollInterval: cfg.Power.PollInterval.Std(),
	}, logging.NewLogger("power")))

	if cfg.Server.IsEnabled() {
		s.server = server.New(s.registry, logging.NewLogger("server"))
	} else {
		s.serverStatus.Set(services.Unavailable("disabled"))
	}
	return s
}

// CompositorOptions maps the [compositor] section onto service options.
func CompositorOptions(cfg *config.Config) compositor.Options {
	c := cfg.Compositor
	return compositor.Options{
		Backend:           c.Backend,
		ReconnectAttempts: c.ReconnectAttempts,
		BackoffBase:       c.BackoffBase.Std(),
		BackoffMax:        c.BackoffMax.Std(),
		QueueSize:         c.QueueSize,
		CommandTimeout:    c.CommandTimeout.Std(),
	}
}

// InstanceOptions maps the [instance] section onto coordinator options.
func InstanceOptions(cfg *config.Config) instance.Options {
	i := cfg.Instance
	return instance.Options{
		SocketPath:       i.SocketPath,
		LockPath:         i.LockPath,
		DialTimeout:      i.DialTimeout.Std(),
		ReadTimeout:      i.ReadTimeout.Std(),
		RecoveryAttempts: i.RecoveryAttempts,
	}
}

// StateSocketPath returns the state server socket for cfg.
func StateSocketPath(cfg *config.Config) string {
	if cfg.Server.SocketPath != "" {
		return cfg.Server.SocketPath
	}
	return paths.StateSocketPath()
}

// LockPath returns the instance lock file for cfg.
func LockPath(cfg *config.Config) string {
	if cfg.Instance.LockPath != "" {
		return cfg.Instance.LockPath
	}
	return paths.InstanceLockPath()
}

// Registry returns the service registry.
func (s *Shell) Registry() *services.Registry { return s.registry }

// ServerStatus returns the state API status cell.
func (s *Shell) ServerStatus() *reactive.Cell[services.Status] { return s.serverStatus }

// Launcher returns the launcher service.
func (s *Shell) Launcher() *launcher.Service { return s.launcher }

// HandleRequest is the instance handler: a request from another process
// toggles the launcher.
func (s *Shell) HandleRequest(ctx context.Context, req instance.LauncherOpenRequest) {
	err := s.registry.Dispatch(launcher.ServiceName, launcher.Toggle{
		Prefill:   req.Prefill,
		RequestID: req.ID,
	})
	if err != nil {
		s.logger.WithError(err).WithField("request_id", req.ID).Error("Failed to dispatch launcher request")
	}
}

// Open shows the launcher for this process's own --input.
func (s *Shell) Open(prefill string) error {
	var p *string
	if prefill != "" {
		p = &prefill
	}
	return s.registry.Dispatch(launcher.ServiceName, launcher.Open{Prefill: p})
}

// Run runs the services, the instance listener of coord (when given), the
// state server and the config watcher until ctx is done. Only the services
// and the instance listener end the run on failure; the state server and
// the watcher log their errors and stop alone.
func (s *Shell) Run(ctx context.Context, coord *instance.Coordinator) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.registry.Run(ctx)
	})

	if coord != nil {
		g.Go(func() error {
			return coord.Serve(ctx)
		})
	}

	if s.server != nil {
		socket := StateSocketPath(s.cfg)
		s.server.SetRunningInfo(&server.RunningInfo{
			PID:        os.Getpid(),
			Version:    version.GetInfo().Short(),
			Backend:    s.cfg.Compositor.Backend,
			ConfigFile: s.cfg.Path,
			StartedAt:  time.Now(),
		})
		g.Go(func() error {
			s.serveState(ctx, socket)
			return nil
		})
	}

	if s.configDir != "" {
		watcher, err := config.NewWatcher(s.configDir, s.cfg, config.DefaultDebounce, logging.NewLogger("config"))
		if err != nil {
			s.logger.WithError(err).Warn("Config hot reload disabled")
		} else {
			g.Go(func() error {
				if err := watcher.Run(ctx); err != nil {
					s.logger.WithError(err).Error("Config watcher stopped, hot reload disabled")
				}
				return nil
			})
			g.Go(func() error {
				s.followConfig(ctx, watcher.Config())
				return nil
			})
		}
	}

	s.logger.WithField("pid", os.Getpid()).Info("wayshell running")
	return g.Wait()
}

func (s *Shell) serveState(ctx context.Context, socket string) {
	log := s.logger.WithField("socket", socket)
	log.Info("Serving state API")
	s.serverStatus.Set(services.Active(socket))

	err := s.server.ListenAndServe(ctx, socket)
	if err != nil && ctx.Err() == nil {
		log.WithError(err).Error("State API unavailable, services keep running")
		s.serverStatus.Set(services.Failed(err))
		return
	}
	s.serverStatus.Set(services.Unavailable("stopped"))
}

// followConfig applies reloaded logging settings. Other sections take
// effect on restart.
func (s *Shell) followConfig(ctx context.Context, cell *reactive.Cell[*config.Config]) {
	for cfg := range cell.All(ctx) {
		if cfg == s.cfg {
			continue
		}
		logging.Configure(logging.FromConfig(cfg))
		s.logger.WithField("path", cfg.Path).Debug("Applied logging configuration")
	}
}
