package cli

import (
	"github.com/grovetools/wayshell/config"
	"github.com/grovetools/wayshell/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Persistent flags shared by every wayshell command.
const (
	FlagVerbose = "verbose"
	FlagJSON    = "json"
	FlagConfig  = "config"
)

// CommandOptions are the values of the shared flags.
type CommandOptions struct {
	ConfigFile string
	Verbose    bool
	JSONOutput bool
}

// NewStandardCommand returns a command carrying the shared flags and the
// styled help. Errors are left to ErrorHandler, so cobra prints neither
// errors nor usage.
func NewStandardCommand(use, short string) *cobra.Command {
	cmd := &cobra.Command{Use: use, Short: short}
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	pf := cmd.PersistentFlags()
	pf.BoolP(FlagVerbose, "v", false, "Enable verbose logging")
	pf.Bool(FlagJSON, false, "Output in JSON format")
	pf.StringP(FlagConfig, "c", "", "Path to config.toml or config.yml")

	SetStyledHelp(cmd)
	return cmd
}

// GetLogger returns the logger for component. --verbose raises every
// logger to debug.
func GetLogger(cmd *cobra.Command, component string) *logrus.Entry {
	if GetOptions(cmd).Verbose {
		logging.SetLevel(logrus.DebugLevel)
	}
	return logging.NewLogger(component)
}

// GetOptions reads the shared flags of cmd.
func GetOptions(cmd *cobra.Command) CommandOptions {
	var opts CommandOptions
	flags := cmd.Flags()
	opts.ConfigFile, _ = flags.GetString(FlagConfig)
	opts.Verbose, _ = flags.GetBool(FlagVerbose)
	opts.JSONOutput, _ = flags.GetBool(FlagJSON)
	return opts
}

// LoadConfig loads --config when given, else the config directory.
func LoadConfig(opts CommandOptions) (*config.Config, error) {
	if opts.ConfigFile == "" {
		return config.LoadDefault()
	}
	return config.Load(opts.ConfigFile)
}
