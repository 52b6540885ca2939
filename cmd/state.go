package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/grovetools/wayshell/errors"
	"github.com/grovetools/wayshell/internal/shell"
	"github.com/grovetools/wayshell/pkg/client"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

func stateClient(cmd *cobra.Command) *client.Client {
	return client.New(shell.StateSocketPath(loadConfig(cmd)))
}

// NewGetCmd creates the `get` command.
func NewGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <service> <field> [path]",
		Short: "Print the current value of a service field",
		Long: `Prints the current value of a field as JSON. An optional path selects
part of the value using gjson syntax.

Examples:
  wayshell get compositor active_workspace
  wayshell get power battery percentage
  wayshell get brightness percent
  wayshell get compositor state workspaces.#.name
`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			raw, err := stateClient(cmd).Get(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if len(args) == 3 {
				result := gjson.GetBytes(raw, args[2])
				if !result.Exists() {
					return errors.UnknownField(args[0], args[1]+"."+args[2])
				}
				raw = json.RawMessage(result.Raw)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return nil
		},
	}
	return cmd
}

// NewDispatchCmd creates the `dispatch` command.
func NewDispatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch <service> <command>",
		Short: "Send a command to a service",
		Long: `Sends a command to a running wayshell. Arguments are given as key=value
pairs; values that parse as JSON are sent as JSON, everything else as a
string. Keys may be dotted paths.

Examples:
  wayshell dispatch compositor focus_workspace --arg id=3
  wayshell dispatch launcher open --arg prefill="calc "
  wayshell dispatch brightness increase --arg percent=10
  wayshell dispatch compositor custom --args '{"dispatcher":"exec","args":"foot"}'
`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, _ := cmd.Flags().GetStringArray("arg")
			base, _ := cmd.Flags().GetString("args")

			body, err := buildArgs(base, pairs)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()
			if err := stateClient(cmd).Dispatch(ctx, args[0], args[1], body); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dispatched %s to %s\n", args[1], args[0])
			return nil
		},
	}
	cmd.Flags().StringArray("arg", nil, "Command argument as key=value (repeatable)")
	cmd.Flags().String("args", "", "Command arguments as a JSON object")
	return cmd
}

// buildArgs merges key=value pairs into the JSON object base.
func buildArgs(base string, pairs []string) (json.RawMessage, error) {
	doc := strings.TrimSpace(base)
	if doc == "" {
		doc = "{}"
	}
	if !gjson.Valid(doc) || !gjson.Parse(doc).IsObject() {
		return nil, errors.New(errors.ErrCodeInvalidCommand, "--args must be a JSON object")
	}

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, errors.New(errors.ErrCodeInvalidCommand, fmt.Sprintf("argument %q is not key=value", pair))
		}
		var err error
		if gjson.Valid(value) {
			doc, err = sjson.SetRaw(doc, key, value)
		} else {
			doc, err = sjson.Set(doc, key, value)
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInvalidCommand, fmt.Sprintf("invalid argument key %q", key))
		}
	}

	if doc == "{}" {
		return nil, nil
	}
	return json.RawMessage(doc), nil
}

// NewWatchCmd creates the `watch` command.
func NewWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <service> <field>",
		Short: "Print a service field every time it changes",
		Long: `Streams a field as JSON lines, starting with its current value, until
interrupted.

Examples:
  wayshell watch compositor active_workspace
  wayshell watch launcher visible
`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			values, err := stateClient(cmd).Watch(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			for raw := range values {
				fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			}
			return nil
		},
	}
}
