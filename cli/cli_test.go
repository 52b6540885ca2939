package cli

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/grovetools/wayshell/errors"
	"github.com/grovetools/wayshell/version"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"transport", errors.Transport("/run/state.sock", fmt.Errorf("refused")), "is wayshell running?"},
		{"lock recovery", errors.LockRecovery("/run/wayshell.lock", 10, nil), "after 10 attempts"},
		{"unknown field", errors.UnknownField("launcher", "volume"), "has no field 'volume'"},
		{"unknown service", errors.UnknownService("audio"), "Unknown service 'audio'"},
		{"wrapped", fmt.Errorf("get: %w", errors.UnknownService("audio")), "Unknown service 'audio'"},
		{"plain", fmt.Errorf("boom"), "Error: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := NewErrorHandler(false, &buf).Handle(tt.err)
			assert.Equal(t, tt.err, err)
			assert.Contains(t, buf.String(), tt.want)
			assert.NotContains(t, buf.String(), "Error details")
		})
	}
}

func TestErrorHandlerVerbose(t *testing.T) {
	var buf bytes.Buffer
	NewErrorHandler(true, &buf).Handle(errors.UnknownService("audio"))
	assert.Contains(t, buf.String(), "Error details")
	assert.Contains(t, buf.String(), `"UNKNOWN_SERVICE"`)
}

func TestStandardCommandFlags(t *testing.T) {
	root := NewStandardCommand("wayshell", "Desktop shell")
	var opts CommandOptions
	root.RunE = func(cmd *cobra.Command, args []string) error {
		opts = GetOptions(cmd)
		return nil
	}
	root.SetArgs([]string{"-v", "--json", "-c", "/etc/ws.toml"})
	require.NoError(t, root.Execute())

	assert.Equal(t, CommandOptions{ConfigFile: "/etc/ws.toml", Verbose: true, JSONOutput: true}, opts)
}

func TestStyledHelp(t *testing.T) {
	root := NewStandardCommand("wayshell", "Desktop shell")
	sub := &cobra.Command{
		Use:   "get <service> <field>",
		Short: "Print a field",
		Long:  "Print the current value of a field.\n\nExamples:\n  # launcher visibility\n  wayshell get launcher visible --json\n",
		Run:   func(*cobra.Command, []string) {},
	}
	root.AddCommand(sub)

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"get", "--help"})
	require.NoError(t, root.Execute())

	out := buf.String()
	assert.Contains(t, out, "WAYSHELL GET")
	assert.Contains(t, out, "Print the current value of a field.")
	assert.Contains(t, out, "EXAMPLES")
	assert.Contains(t, out, "# launcher visibility")
	assert.Contains(t, out, "--config")
	assert.NotContains(t, out, "Examples:")
}

func TestParseDescription(t *testing.T) {
	desc, ex := parseDescription("Does things.\nExamples:\n  a b\n")
	assert.Equal(t, "Does things.", desc)
	assert.Equal(t, "a b", ex)

	desc, ex = parseDescription("Only text.")
	assert.Equal(t, "Only text.", desc)
	assert.Empty(t, ex)
}

func TestTerminalWidthOffTerminal(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	tests := []struct {
		columns string
		want    int
	}{
		{"", maxWidth},
		{"50", 50},
		{"200", maxWidth},
		{"10", maxWidth},
		{"wide", maxWidth},
	}
	for _, tt := range tests {
		t.Run("COLUMNS="+tt.columns, func(t *testing.T) {
			t.Setenv("COLUMNS", tt.columns)
			assert.Equal(t, tt.want, terminalWidth(int(w.Fd())))
		})
	}
}

func TestWrapText(t *testing.T) {
	out := wrapText(strings.Repeat("word ", 20), 22)
	for _, line := range strings.Split(out, "\n") {
		assert.LessOrEqual(t, len(line), 22)
	}
	assert.Equal(t, "a\nb", wrapText("a\nb", 10))
}

func TestVersionCommand(t *testing.T) {
	root := NewStandardCommand("wayshell", "Desktop shell")
	root.AddCommand(NewVersionCommand())

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"version", "--json"})
	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), fmt.Sprintf(`"version": %q`, version.Version))
}
