package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/grovetools/wayshell/cli"
	"github.com/grovetools/wayshell/config"
	"github.com/grovetools/wayshell/internal/instance"
	"github.com/grovetools/wayshell/internal/shell"
	"github.com/grovetools/wayshell/logging"
	"github.com/grovetools/wayshell/pkg/paths"
	"github.com/spf13/cobra"
)

// NewRootCmd returns the wayshell command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	cmd := cli.NewStandardCommand("wayshell", "System-integration core of the wayshell desktop shell")
	cmd.Long = `Runs the wayshell services: compositor state, launcher, backlight and battery.

Only one wayshell runs per session. Starting it again hands the --input text
to the running instance, which toggles its launcher, and exits.

Examples:
  # Start the shell, or toggle the launcher of the running one
  wayshell

  # Open the launcher with text prefilled
  wayshell -i "calc "
`
	cmd.Args = cobra.NoArgs
	cmd.Flags().StringP("input", "i", "", "Text to prefill in the launcher")
	cmd.RunE = runShell
	cli.SetVersionTemplate(cmd)

	cmd.AddCommand(
		NewStatusCmd(),
		NewStopCmd(),
		NewGetCmd(),
		NewDispatchCmd(),
		NewWatchCmd(),
		NewLogsCmd(),
		NewConfigCmd(),
		NewPathsCmd(),
		cli.NewVersionCommand(),
	)
	return cmd
}

func runShell(cmd *cobra.Command, args []string) error {
	opts := cli.GetOptions(cmd)
	input, _ := cmd.Flags().GetString("input")

	cfg, err := cli.LoadConfig(opts)
	if err != nil {
		return err
	}
	logging.Configure(logging.FromConfig(cfg))
	logger := cli.GetLogger(cmd, "wayshell")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The handler only runs once Serve starts, after s exists.
	var s *shell.Shell
	handler := func(ctx context.Context, req instance.LauncherOpenRequest) {
		s.HandleRequest(ctx, req)
	}
	coord := instance.New(shell.InstanceOptions(cfg), handler, logging.NewLogger("instance"))

	role, err := coord.Start(ctx, input)
	if err != nil {
		return err
	}
	if role == instance.RoleClient {
		logger.Debug("Request handed to the running instance")
		return nil
	}
	defer coord.Close()

	if err := paths.EnsureDirs(); err != nil {
		logger.WithError(err).Warn("Failed to create wayshell directories")
	}

	s = shell.New(shell.Options{Config: cfg, ConfigDir: watchDir(opts)})
	if input != "" {
		if err := s.Open(input); err != nil {
			logger.WithError(err).Warn("Failed to open launcher")
		}
	}

	err = s.Run(ctx, coord)
	logger.Info("wayshell stopped")
	return err
}

// watchDir is the directory hot reload watches; an explicit --config file
// is loaded once.
func watchDir(opts cli.CommandOptions) string {
	if opts.ConfigFile != "" {
		return ""
	}
	return paths.ConfigDir()
}

// loadConfig loads config for the client subcommands, which fall back to
// defaults when the file cannot be read.
func loadConfig(cmd *cobra.Command) *config.Config {
	cfg, err := cli.LoadConfig(cli.GetOptions(cmd))
	if err != nil {
		cli.GetLogger(cmd, "cli").WithError(err).Debug("Using default configuration")
		return config.Default()
	}
	return cfg
}
