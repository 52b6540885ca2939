package hyprland

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/grovetools/wayshell/errors"
	"github.com/grovetools/wayshell/internal/compositor"
)

// Translate returns the request-socket string for cmd. An empty string
// means the command needs no round-trip.
func Translate(cmd compositor.Command) (string, error) {
	switch c := cmd.(type) {
	case compositor.FocusWorkspace:
		return fmt.Sprintf("dispatch workspace %d", c.ID), nil
	case compositor.FocusSpecialWorkspace:
		if c.Name == "" {
			return "dispatch workspace special", nil
		}
		return "dispatch workspace special:" + c.Name, nil
	case compositor.ToggleSpecialWorkspace:
		return strings.TrimSpace("dispatch togglespecialworkspace " + c.Name), nil
	case compositor.FocusMonitor:
		return fmt.Sprintf("dispatch focusmonitor %d", c.ID), nil
	case compositor.ScrollWorkspace:
		if c.Delta == 0 {
			return "", nil
		}
		return fmt.Sprintf("dispatch workspace e%+d", c.Delta), nil
	case compositor.MoveWindowToWorkspace:
		return fmt.Sprintf("dispatch movetoworkspace %d", c.ID), nil
	case compositor.ToggleFullscreen:
		return "dispatch fullscreen 0", nil
	case compositor.GetActiveWindow:
		return "j/activewindow", nil
	case compositor.NextKeyboardLayout:
		return "switchxkblayout all next", nil
	case compositor.Custom:
		if c.Dispatcher == "" {
			return "", errors.InvalidCommand(compositor.ServiceName, "custom command needs a dispatcher")
		}
		return strings.TrimSpace("dispatch " + c.Dispatcher + " " + c.Args), nil
	default:
		return "", errors.CommandUnsupported("hyprland", cmd.CommandName())
	}
}

// checkReply maps a non-"ok" reply to a CommandFailed error.
func checkReply(command string, reply []byte) error {
	r := string(bytes.TrimSpace(reply))
	if r == "ok" {
		return nil
	}
	if r == "" {
		return errors.Protocol("hyprland", "empty reply to "+command)
	}
	return errors.CommandFailed("hyprland", command, r)
}
