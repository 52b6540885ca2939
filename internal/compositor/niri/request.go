package niri

import (
	"fmt"
	"strings"

	"github.com/grovetools/wayshell/errors"
	"github.com/grovetools/wayshell/internal/compositor"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Plain requests are bare JSON strings.
const (
	requestEventStream     = `"EventStream"`
	requestWorkspaces      = `"Workspaces"`
	requestWindows         = `"Windows"`
	requestKeyboardLayouts = `"KeyboardLayouts"`
	requestFocusedWindow   = `"FocusedWindow"`
)

// action builds {"Action":{name:body}}. body must be valid JSON.
func action(name, body string) (string, error) {
	return sjson.SetRaw(`{}`, "Action."+escapeKey(name), body)
}

func escapeKey(k string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return r.Replace(k)
}

// maxScrollSteps bounds the requests one ScrollWorkspace expands to.
const maxScrollSteps = 32

// Translate returns the requests that implement cmd, in order. niri has
// no relative-by-n workspace action, so ScrollWorkspace expands to one
// step per unit of Delta, at most maxScrollSteps.
func Translate(cmd compositor.Command) ([]string, error) {
	switch c := cmd.(type) {
	case compositor.FocusWorkspace:
		if c.ID < 0 {
			return nil, errors.InvalidCommand(compositor.ServiceName, "niri workspace ids are unsigned")
		}
		req, err := sjson.Set(`{}`, "Action.FocusWorkspace.reference.Id", c.ID)
		return []string{req}, err

	case compositor.ScrollWorkspace:
		if c.Delta > maxScrollSteps || c.Delta < -maxScrollSteps {
			return nil, errors.InvalidCommand(compositor.ServiceName,
				fmt.Sprintf("scroll delta %d exceeds %d steps", c.Delta, maxScrollSteps))
		}
		name := "FocusWorkspaceDown"
		n := c.Delta
		if n < 0 {
			name, n = "FocusWorkspaceUp", -n
		}
		reqs := make([]string, 0, n)
		for range n {
			req, err := action(name, `{}`)
			if err != nil {
				return nil, err
			}
			reqs = append(reqs, req)
		}
		return reqs, nil

	case compositor.MoveWindowToWorkspace:
		if c.ID < 0 {
			return nil, errors.InvalidCommand(compositor.ServiceName, "niri workspace ids are unsigned")
		}
		req, err := sjson.SetRaw(`{}`, "Action.MoveWindowToWorkspace", `{"window_id":null,"focus":true}`)
		if err != nil {
			return nil, err
		}
		req, err = sjson.Set(req, "Action.MoveWindowToWorkspace.reference.Id", c.ID)
		return []string{req}, err

	case compositor.ToggleFullscreen:
		req, err := action("FullscreenWindow", `{"id":null}`)
		return []string{req}, err

	case compositor.NextKeyboardLayout:
		req, err := sjson.Set(`{}`, "Action.SwitchLayout.layout", "Next")
		return []string{req}, err

	case compositor.GetActiveWindow:
		return []string{requestFocusedWindow}, nil

	case compositor.Custom:
		return translateCustom(c)

	case compositor.FocusSpecialWorkspace, compositor.ToggleSpecialWorkspace, compositor.FocusMonitor:
		return nil, errors.CommandUnsupported("niri", cmd.CommandName())

	default:
		return nil, errors.CommandUnsupported("niri", cmd.CommandName())
	}
}

// translateCustom maps "spawn" to niri's Spawn action. Any other
// dispatcher is sent as a raw action name with Args as its JSON body.
func translateCustom(c compositor.Custom) ([]string, error) {
	if c.Dispatcher == "" {
		return nil, errors.InvalidCommand(compositor.ServiceName, "custom command needs a dispatcher")
	}

	if c.Dispatcher == "spawn" {
		argv := strings.Fields(c.Args)
		if len(argv) == 0 {
			return nil, errors.InvalidCommand(compositor.ServiceName, "spawn needs a command")
		}
		req, err := sjson.Set(`{}`, "Action.Spawn.command", argv)
		return []string{req}, err
	}

	body := strings.TrimSpace(c.Args)
	if body == "" {
		body = `{}`
	}
	if !gjson.Valid(body) {
		return nil, errors.InvalidCommand(compositor.ServiceName, "niri action arguments must be JSON")
	}
	req, err := action(c.Dispatcher, body)
	return []string{req}, err
}
