// Package logging provides the component loggers every part of wayshell
// logs through.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/grovetools/wayshell/config"
	"github.com/grovetools/wayshell/pkg/paths"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

const (
	// LevelEnv overrides the configured level.
	LevelEnv = "WAYSHELL_LOG_LEVEL"
	// CallerEnv enables caller reporting when set to "true".
	CallerEnv = "WAYSHELL_LOG_CALLER"

	componentField = "component"
)

var (
	loggers   = make(map[string]*logrus.Entry)
	loggersMu sync.Mutex

	// current is the applied config; nil until Configure or the first
	// NewLogger loads one.
	current       *Config
	levelOverride *logrus.Level

	fileSinks = make(map[string]*os.File)

	stderrSink = &swapWriter{w: os.Stderr}
)

// swapWriter delegates to a writer that can be replaced at runtime.
type swapWriter struct {
	mu sync.RWMutex
	w  io.Writer
}

func (s *swapWriter) Write(p []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.w.Write(p)
}

func (s *swapWriter) set(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w = w
}

// SetGlobalOutput redirects the stderr sink of every logger.
func SetGlobalOutput(w io.Writer) {
	stderrSink.set(w)
}

// NewLogger creates and returns a pre-configured logger for a specific component.
// Loggers are cached per component; Configure reconfigures all of them.
func NewLogger(component string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if logger, exists := loggers[component]; exists {
		return logger
	}

	if current == nil {
		cfg := FromConfig(loadConfig())
		current = &cfg
	}

	logger := logrus.New()
	apply(logger, *current)

	entry := logger.WithField(componentField, component)
	loggers[component] = entry
	return entry
}

func loadConfig() *config.Config {
	cfg, err := config.LoadDefault()
	if err != nil {
		// Logging must come up even with a broken config file.
		return config.Default()
	}
	return cfg
}

// FromConfig extracts the [logging] table from cfg.
func FromConfig(cfg *config.Config) Config {
	var logCfg Config
	if cfg == nil {
		return logCfg
	}
	if err := cfg.UnmarshalExtension("logging", &logCfg); err != nil {
		logrus.Warnf("Failed to parse 'logging' config: %v", err)
	}
	return logCfg
}

// Configure applies cfg to every existing and future logger.
func Configure(cfg Config) {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	current = &cfg
	for _, entry := range loggers {
		apply(entry.Logger, cfg)
	}
}

// SetLevel forces level on every logger regardless of config and
// environment, e.g. for --verbose.
func SetLevel(level logrus.Level) {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	levelOverride = &level
	for _, entry := range loggers {
		entry.Logger.SetLevel(level)
	}
}

// ResolveLevel returns the level cfg selects after the environment override.
func ResolveLevel(cfg Config) logrus.Level {
	levelStr := "info"
	if env := os.Getenv(LevelEnv); env != "" {
		levelStr = env
	} else if cfg.Level != "" {
		levelStr = cfg.Level
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// LogFilePath returns the file the file sink writes to on day now.
func LogFilePath(cfg Config, now time.Time) string {
	if cfg.File.Path != "" {
		return expandPath(cfg.File.Path)
	}
	dir := paths.LogDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, fmt.Sprintf("wayshell-%s.log", now.Format("2006-01-02")))
}

// apply configures logger from cfg. Callers hold loggersMu.
func apply(logger *logrus.Logger, cfg Config) {
	level := ResolveLevel(cfg)
	if levelOverride != nil {
		level = *levelOverride
	}
	logger.SetLevel(level)

	logger.SetReportCaller(os.Getenv(CallerEnv) == "true" || cfg.ReportCaller)

	switch cfg.Format.Preset {
	case PresetJSON:
		logger.SetFormatter(&logrus.JSONFormatter{})
	case PresetSimple:
		logger.SetFormatter(&TextFormatter{Config: FormatConfig{
			DisableTimestamp: true,
			DisableComponent: true,
		}})
	default:
		logger.SetFormatter(&TextFormatter{Config: cfg.Format})
	}

	var writers []io.Writer
	if !cfg.File.Disabled {
		if f := openFileSink(LogFilePath(cfg, time.Now())); f != nil {
			writers = append(writers, f)
		}
	}
	if logToStderr(cfg, level) {
		writers = append(writers, stderrSink)
	}

	switch len(writers) {
	case 0:
		logger.SetOutput(io.Discard)
	case 1:
		logger.SetOutput(writers[0])
	default:
		logger.SetOutput(io.MultiWriter(writers...))
	}
}

// logToStderr decides the stderr sink. In "auto" mode logs go to stderr
// when debugging or when stderr is not a terminal, so a shell started from
// a compositor keybinding still leaves a trace in its journal.
func logToStderr(cfg Config, level logrus.Level) bool {
	mode := cfg.Format.StructuredToStderr
	if mode == "" {
		mode = "auto"
	}
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default:
		isDebug := level >= logrus.DebugLevel
		isInteractive := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
		return isDebug || !isInteractive
	}
}

// openFileSink opens path for appending once; later calls share the file.
// Callers hold loggersMu.
func openFileSink(path string) *os.File {
	if path == "" {
		return nil
	}
	if f, ok := fileSinks[path]; ok {
		return f
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil
	}
	fileSinks[path] = f
	return f
}

// expandPath expands tilde in file paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// reset drops cached loggers and config. Tests only.
func reset() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	loggers = make(map[string]*logrus.Entry)
	current = nil
	levelOverride = nil
	for path, f := range fileSinks {
		f.Close()
		delete(fileSinks, path)
	}
}
