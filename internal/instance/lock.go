package instance

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/grovetools/wayshell/errors"
	"github.com/grovetools/wayshell/pkg/process"
	"golang.org/x/sys/unix"
)

// Lock is an exclusive flock(2) on the instance lock file. The file holds
// the owner's PID; the kernel drops the lock when the owner exits.
type Lock struct {
	path string
	file *os.File
}

// Acquire takes the lock without blocking and records the current PID.
// It returns an ErrCodeLockHeld error if another open file owns it.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePermissionDenied, "failed to create lock directory")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodePermissionDenied, "failed to open lock file").
			WithDetail("path", path)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if stderrors.Is(err, unix.EWOULDBLOCK) {
			pid, _ := ReadPID(path)
			return nil, errors.LockHeld(path, pid)
		}
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "flock failed").WithDetail("path", path)
	}

	if err := writePID(f, os.Getpid()); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to write pid").WithDetail("path", path)
	}

	return &Lock{path: path, file: f}, nil
}

func writePID(f *os.File, pid int) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(pid)+"\n"), 0); err != nil {
		return err
	}
	return f.Sync()
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release drops the lock. The file is left in place so a concurrent
// starter never locks an unlinked inode.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil

	f.Truncate(0)
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		f.Close()
		return fmt.Errorf("failed to unlock %s: %w", l.path, err)
	}
	return f.Close()
}

// ReadPID returns the PID recorded in the lock file.
func ReadPID(path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(content)))
}

// Holder reports the PID recorded in the lock file and whether that
// process is still alive. A missing file reports (0, false, nil).
func Holder(path string) (int, bool, error) {
	pid, err := ReadPID(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return pid, process.IsAlive(pid), nil
}
