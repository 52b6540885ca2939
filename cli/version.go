package cli

import (
	"encoding/json"
	"fmt"

	"github.com/grovetools/wayshell/version"
	"github.com/spf13/cobra"
)

// SetVersionTemplate makes --version print the short version line.
func SetVersionTemplate(cmd *cobra.Command) {
	cmd.Version = version.Version
	cmd.SetVersionTemplate(fmt.Sprintf("{{.Name}} %s\n", version.GetInfo().Short()))
}

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.GetInfo()
			if GetOptions(cmd).JSONOutput {
				data, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), info.String())
			return nil
		},
	}
}
