// Package paths provides XDG-compliant path resolution for wayshell.
//
// Resolution order:
// 1. WAYSHELL_HOME (portable root) → $WAYSHELL_HOME/{config,state,run}
// 2. XDG env vars → $XDG_*_HOME/wayshell
// 3. Platform defaults → ~/.config/wayshell, ~/.local/state/wayshell, etc.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

const appName = "wayshell"

// getConfigHome returns the base config home directory.
func getConfigHome() string {
	if home := os.Getenv("WAYSHELL_HOME"); home != "" {
		return filepath.Join(home, "config")
	}
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return xdgConfigHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".config")
	}
	return ""
}

// getStateHome returns the base state home directory.
func getStateHome() string {
	if home := os.Getenv("WAYSHELL_HOME"); home != "" {
		return filepath.Join(home, "state")
	}
	if xdgStateHome := os.Getenv("XDG_STATE_HOME"); xdgStateHome != "" {
		return xdgStateHome
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".local", "state")
	}
	return ""
}

// ConfigDir returns the wayshell configuration directory.
// Used for config.toml and the env overlay file.
func ConfigDir() string {
	base := getConfigHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, appName)
}

// StateDir returns the wayshell state directory.
// Used for logs.
func StateDir() string {
	base := getStateHome()
	if base == "" {
		return ""
	}
	return filepath.Join(base, appName)
}

// LogDir returns the directory log files are written to.
func LogDir() string {
	state := StateDir()
	if state == "" {
		return ""
	}
	return filepath.Join(state, "logs")
}

// RuntimeDir returns the wayshell runtime directory for sockets and the instance lock.
// Uses XDG_RUNTIME_DIR when available, falls back to a per-user directory under /tmp.
func RuntimeDir() string {
	if home := os.Getenv("WAYSHELL_HOME"); home != "" {
		return filepath.Join(home, "run")
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, appName)
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("%s-%d", appName, os.Getuid()))
}

// InstanceSocketPath returns the path of the single-instance companion socket.
func InstanceSocketPath() string {
	return filepath.Join(RuntimeDir(), appName+".sock")
}

// InstanceLockPath returns the path of the single-instance lock file.
func InstanceLockPath() string {
	return filepath.Join(RuntimeDir(), appName+".lock")
}

// StateSocketPath returns the path of the state server socket.
func StateSocketPath() string {
	return filepath.Join(RuntimeDir(), "state.sock")
}

// EnsureDirs creates all wayshell directories if they don't exist.
func EnsureDirs() error {
	dirs := []string{
		ConfigDir(),
		StateDir(),
		LogDir(),
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	// The runtime dir holds sockets; keep it private to the user.
	if dir := RuntimeDir(); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return nil
}
