// Package process holds small helpers for probing and signalling other
// wayshell processes by PID.
package process

import (
	"errors"

	"golang.org/x/sys/unix"
)

// IsAlive reports whether a process with the given PID exists.
// Signal 0 performs the permission and existence checks without delivering
// anything; EPERM still means the process is there.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Terminate asks the process to shut down with SIGTERM.
func Terminate(pid int) error {
	if pid <= 0 {
		return unix.ESRCH
	}
	return unix.Kill(pid, unix.SIGTERM)
}
