package cmd

import (
	"bufio"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/grovetools/wayshell/logging"
	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

// NewLogsCmd creates the `logs` command.
func NewLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the wayshell log",
		Long: `Prints today's wayshell log file.

Examples:
  # Follow the log
  wayshell logs -f

  # Last 50 lines from the compositor service
  wayshell logs --tail 50 --component compositor
`,
		Args: cobra.NoArgs,
		RunE: runLogsE,
	}

	cmd.Flags().BoolP("follow", "f", false, "Follow log output")
	cmd.Flags().Int("tail", -1, "Number of lines to show from the end of the log (default: all)")
	cmd.Flags().String("component", "", "Only show lines from this component")
	cmd.Flags().Bool("path", false, "Print the log file path and exit")

	return cmd
}

func runLogsE(cmd *cobra.Command, args []string) error {
	logCfg := logging.FromConfig(loadConfig(cmd))
	path := logging.LogFilePath(logCfg, time.Now())

	if showPath, _ := cmd.Flags().GetBool("path"); showPath {
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	}

	follow, _ := cmd.Flags().GetBool("follow")
	tailLines, _ := cmd.Flags().GetInt("tail")
	component, _ := cmd.Flags().GetString("component")
	out := cmd.OutOrStdout()

	lines, err := lastLines(path, tailLines)
	if err != nil && !(os.IsNotExist(err) && follow) {
		return fmt.Errorf("failed to read log %s: %w", path, err)
	}
	for _, line := range lines {
		if matchComponent(line, component) {
			fmt.Fprintln(out, line)
		}
	}
	if !follow {
		return nil
	}

	t, err := tail.TailFile(path, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:   stdlog.New(io.Discard, "", 0),
	})
	if err != nil {
		return fmt.Errorf("failed to follow log %s: %w", path, err)
	}
	defer t.Cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return t.Stop()
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				return line.Err
			}
			if matchComponent(line.Text, component) {
				fmt.Fprintln(out, line.Text)
			}
		}
	}
}

// lastLines reads path and returns its last n lines, or all of them when
// n is negative.
func lastLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if n >= 0 && len(lines) > n {
			lines = lines[1:]
		}
	}
	return lines, scanner.Err()
}

// matchComponent reports whether line was logged by component. JSON lines
// are matched on their component field, text lines on the bracketed name.
func matchComponent(line, component string) bool {
	if component == "" {
		return true
	}
	if gjson.Valid(line) {
		return gjson.Get(line, "component").String() == component
	}
	return strings.Contains(stripANSI(line), "["+component+"]")
}

// stripANSI removes color escapes the text formatter may have written.
func stripANSI(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && (s[j] < 0x40 || s[j] > 0x7e) {
				j++
			}
			i = j
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
