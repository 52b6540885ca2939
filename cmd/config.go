package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/grovetools/wayshell/cli"
	"github.com/grovetools/wayshell/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCmd creates the `config` command group.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate wayshell configuration",
	}
	cmd.AddCommand(newConfigSchemaCmd())
	cmd.AddCommand(newConfigValidateCmd())
	cmd.AddCommand(newConfigShowCmd())
	return cmd
}

func newConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.GenerateSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a config file",
		Long: `Parses and validates a config file against the schema. Without an
argument the file from --config or the config directory is checked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := cli.GetOptions(cmd)
			if len(args) == 1 {
				opts.ConfigFile = args[0]
			}
			cfg, err := cli.LoadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.Path == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "No config file found, defaults apply\n")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid\n", cfg.Path)
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig(cli.GetOptions(cmd))
			if err != nil {
				return err
			}
			format, _ := cmd.Flags().GetString("format")
			if cli.GetOptions(cmd).JSONOutput {
				format = "json"
			}

			data, err := marshalConfig(cfg, format)
			if err != nil {
				return err
			}
			if cfg.Path != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# Source: %s\n", cfg.Path)
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	cmd.Flags().String("format", "toml", "Output format: toml, yaml, json")
	return cmd
}

// marshalConfig renders cfg with its extension tables.
func marshalConfig(cfg *config.Config, format string) ([]byte, error) {
	var doc map[string]interface{}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = make(map[string]interface{})
	}
	for key, value := range cfg.Extensions {
		doc[key] = value
	}

	switch format {
	case "toml":
		return toml.Marshal(doc)
	case "yaml", "yml":
		return yaml.Marshal(doc)
	case "json":
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}
