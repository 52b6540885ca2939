// Package sysfs reads and writes the one-value attribute files under
// /sys/class used by the brightness and power services.
package sysfs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ReadString returns the trimmed contents of dir/name.
func ReadString(dir, name string) (string, error) {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// ReadInt parses dir/name as a base-10 integer.
func ReadInt(dir, name string) (int64, error) {
	s, err := ReadString(dir, name)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", filepath.Join(dir, name), err)
	}
	return v, nil
}

// WriteInt writes v to dir/name. sysfs attributes must be written in one
// call without truncation, so the file is opened write-only.
func WriteInt(dir, name string, v int64) error {
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(strconv.FormatInt(v, 10)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Devices lists the device directories under class root, sorted by name,
// keeping those accepted by match. A nil match keeps everything.
func Devices(root string, match func(dir string) bool) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		dir := filepath.Join(root, e.Name())
		// Class entries are symlinks into /sys/devices.
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if match == nil || match(dir) {
			out = append(out, dir)
		}
	}
	sort.Strings(out)
	return out, nil
}
