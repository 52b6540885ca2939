package config

import (
	"fmt"
	"path/filepath"

	"github.com/grovetools/wayshell/errors"
)

var backends = map[string]bool{"auto": true, "hyprland": true, "niri": true, "none": true}

// Validate checks the semantic constraints the schema cannot express.
func (c *Config) Validate() error {
	if !backends[c.Compositor.Backend] {
		return errors.ConfigInvalid(fmt.Sprintf("compositor.backend must be auto, hyprland, niri or none, got %q", c.Compositor.Backend)).
			WithDetail("field", "compositor.backend")
	}

	if c.Compositor.BackoffBase > 0 && c.Compositor.BackoffMax > 0 && c.Compositor.BackoffMax < c.Compositor.BackoffBase {
		return errors.ConfigInvalid("compositor.backoff_max must not be smaller than compositor.backoff_base").
			WithDetail("field", "compositor.backoff_max")
	}

	for _, n := range []struct {
		field string
		value int
	}{
		{"compositor.reconnect_attempts", c.Compositor.ReconnectAttempts},
		{"compositor.queue_size", c.Compositor.QueueSize},
		{"instance.recovery_attempts", c.Instance.RecoveryAttempts},
	} {
		if n.value < 0 {
			return errors.ConfigInvalid(fmt.Sprintf("%s cannot be negative", n.field)).WithDetail("field", n.field)
		}
	}

	sockets := map[string]string{}
	for field, path := range map[string]string{
		"instance.socket_path": c.Instance.SocketPath,
		"instance.lock_path":   c.Instance.LockPath,
		"server.socket_path":   c.Server.SocketPath,
	} {
		if path == "" {
			continue
		}
		if !filepath.IsAbs(path) {
			return errors.ConfigInvalid(fmt.Sprintf("%s must be an absolute path", field)).
				WithDetail("field", field).
				WithDetail("path", path)
		}
		clean := filepath.Clean(path)
		if other, dup := sockets[clean]; dup {
			return errors.ConfigInvalid(fmt.Sprintf("%s and %s point at the same file", other, field)).
				WithDetail("path", path)
		}
		sockets[clean] = field
	}

	return nil
}
