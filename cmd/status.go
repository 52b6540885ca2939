package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/grovetools/wayshell/cli"
	"github.com/grovetools/wayshell/internal/instance"
	"github.com/grovetools/wayshell/internal/server"
	"github.com/grovetools/wayshell/internal/services"
	"github.com/grovetools/wayshell/internal/shell"
	"github.com/grovetools/wayshell/pkg/client"
	"github.com/grovetools/wayshell/pkg/process"
	"github.com/spf13/cobra"
)

const requestTimeout = 3 * time.Second

var (
	nameStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	activeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	degradedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// StatusOutput is the --json form of status.
type StatusOutput struct {
	Running  bool                `json:"running"`
	PID      int                 `json:"pid,omitempty"`
	Info     *server.RunningInfo `json:"info,omitempty"`
	Services []services.Info     `json:"services,omitempty"`
}

// NewStatusCmd creates the `status` command.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether wayshell is running and the state of its services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(cmd)
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			out := StatusOutput{}
			c := client.New(shell.StateSocketPath(cfg))
			if info, err := c.Info(ctx); err == nil {
				out.Running = true
				out.PID = info.PID
				out.Info = info
				if out.Services, err = c.Services(ctx); err != nil {
					return err
				}
			} else {
				pid, alive, herr := instance.Holder(shell.LockPath(cfg))
				if herr != nil {
					return herr
				}
				out.Running = alive
				if alive {
					out.PID = pid
				}
			}

			if cli.GetOptions(cmd).JSONOutput {
				data, err := json.MarshalIndent(out, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			printStatus(cmd, out)
			return nil
		},
	}
}

func printStatus(cmd *cobra.Command, out StatusOutput) {
	w := cmd.OutOrStdout()
	switch {
	case !out.Running:
		fmt.Fprintln(w, "wayshell is not running")
		return
	case out.Info == nil:
		fmt.Fprintf(w, "wayshell is running (pid %d) but the state API is not reachable\n", out.PID)
		return
	}

	info := out.Info
	fmt.Fprintf(w, "wayshell %s running (pid %d, up %s)\n", info.Version, info.PID, time.Since(info.StartedAt).Round(time.Second))
	if info.ConfigFile != "" {
		fmt.Fprintf(w, "%s\n", dimStyle.Render("config: "+info.ConfigFile))
	}
	fmt.Fprintln(w)

	for _, svc := range out.Services {
		state := "unknown"
		message := ""
		if svc.Status != nil {
			state = string(svc.Status.State)
			message = svc.Status.Message
		}
		fmt.Fprintf(w, "%s  %s", nameStyle.Render(fmt.Sprintf("%-11s", svc.Name)), styleState(state))
		if message != "" {
			fmt.Fprintf(w, " %s", dimStyle.Render("("+message+")"))
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  fields:   %s\n", strings.Join(svc.Fields, ", "))
		if len(svc.Commands) > 0 {
			fmt.Fprintf(w, "  commands: %s\n", strings.Join(svc.Commands, ", "))
		}
	}
}

func styleState(state string) string {
	switch services.State(state) {
	case services.StateActive:
		return activeStyle.Render(state)
	case services.StateDegraded, services.StateUnavailable, services.StateInitializing:
		return degradedStyle.Render(state)
	default:
		return failedStyle.Render(state)
	}
}

// NewStopCmd creates the `stop` command.
func NewStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running wayshell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(cmd)
			lockPath := shell.LockPath(cfg)

			pid, alive, err := instance.Holder(lockPath)
			if err != nil {
				return fmt.Errorf("error checking status: %w", err)
			}
			if !alive {
				fmt.Fprintln(cmd.OutOrStdout(), "wayshell is not running")
				return nil
			}

			if err := process.Terminate(pid); err != nil {
				return fmt.Errorf("failed to stop wayshell (pid %d): %w", pid, err)
			}

			wait, _ := cmd.Flags().GetDuration("wait")
			deadline := time.Now().Add(wait)
			for time.Now().Before(deadline) {
				if !process.IsAlive(pid) {
					fmt.Fprintf(cmd.OutOrStdout(), "Stopped wayshell (pid %d)\n", pid)
					return nil
				}
				time.Sleep(50 * time.Millisecond)
			}
			return fmt.Errorf("wayshell (pid %d) did not exit within %s", pid, wait)
		},
	}
	cmd.Flags().Duration("wait", 5*time.Second, "How long to wait for the process to exit")
	return cmd
}
