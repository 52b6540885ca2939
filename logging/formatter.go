package logging

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"
)

const timestampLayout = "2006-01-02 15:04:05"

var (
	componentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)

	levelStyles = map[logrus.Level]lipgloss.Style{
		logrus.TraceLevel: lipgloss.NewStyle().Faint(true),
		logrus.DebugLevel: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		logrus.WarnLevel:  lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		logrus.ErrorLevel: lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		logrus.FatalLevel: lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		logrus.PanicLevel: lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	}
)

// TextFormatter renders entries as
//
//	2026-01-02 15:04:05 [INFO] [hyprland] connected socket=/run/...
//
// with remaining fields sorted by key.
type TextFormatter struct {
	Config FormatConfig
}

// Format implements logrus.Formatter.
func (f *TextFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	parts := make([]string, 0, 5)

	if !f.Config.DisableTimestamp {
		parts = append(parts, entry.Time.Format(timestampLayout))
	}
	parts = append(parts, levelTag(entry.Level))

	if c, ok := entry.Data[componentField]; ok && !f.Config.DisableComponent {
		parts = append(parts, "["+componentStyle.Render(fmt.Sprint(c))+"]")
	}
	if entry.HasCaller() {
		parts = append(parts, fmt.Sprintf("[%s:%d %s]",
			filepath.Base(entry.Caller.File), entry.Caller.Line, filepath.Base(entry.Caller.Function)))
	}
	parts = append(parts, entry.Message)

	line := strings.Join(parts, " ") + fieldSuffix(entry.Data) + "\n"
	return []byte(line), nil
}

func levelTag(level logrus.Level) string {
	name := strings.ToUpper(level.String())
	if level == logrus.WarnLevel {
		name = "WARN"
	}
	tag := "[" + name + "]"
	if style, ok := levelStyles[level]; ok {
		return style.Render(tag)
	}
	return tag
}

// fieldSuffix renders " k=v" pairs, quoting values that contain spaces.
func fieldSuffix(data logrus.Fields) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		if k != componentField {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		v := fmt.Sprint(data[k])
		if strings.ContainsAny(v, " \t\n\"") {
			v = fmt.Sprintf("%q", v)
		}
		sb.WriteString(" " + k + "=" + v)
	}
	return sb.String()
}
