package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/grovetools/wayshell/internal/shell"
	"github.com/grovetools/wayshell/pkg/paths"
	"github.com/spf13/cobra"
)

// PathsOutput lists the files and directories wayshell uses.
type PathsOutput struct {
	ConfigDir      string `json:"config_dir"`
	StateDir       string `json:"state_dir"`
	LogDir         string `json:"log_dir"`
	RuntimeDir     string `json:"runtime_dir"`
	InstanceSocket string `json:"instance_socket"`
	InstanceLock   string `json:"instance_lock"`
	StateSocket    string `json:"state_socket"`
}

// NewPathsCmd creates the `paths` command.
func NewPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print the paths used by wayshell",
		Long: `Print the paths used by wayshell as JSON.

Directories follow the XDG Base Directory Specification; WAYSHELL_HOME
relocates all of them. Socket and lock paths include overrides from the
config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(cmd)
			output := PathsOutput{
				ConfigDir:      paths.ConfigDir(),
				StateDir:       paths.StateDir(),
				LogDir:         paths.LogDir(),
				RuntimeDir:     paths.RuntimeDir(),
				InstanceSocket: paths.InstanceSocketPath(),
				InstanceLock:   shell.LockPath(cfg),
				StateSocket:    shell.StateSocketPath(cfg),
			}
			if cfg.Instance.SocketPath != "" {
				output.InstanceSocket = cfg.Instance.SocketPath
			}

			jsonData, err := json.MarshalIndent(output, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal paths to JSON: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonData))
			return nil
		},
	}
}
