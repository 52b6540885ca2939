package hyprland

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/grovetools/wayshell/errors"
	"github.com/grovetools/wayshell/internal/compositor"
)

type workspaceRef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type hyprWorkspace struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Monitor       string `json:"monitor"`
	MonitorID     int    `json:"monitorID"`
	Windows       int    `json:"windows"`
	HasFullscreen bool   `json:"hasfullscreen"`
}

type hyprMonitor struct {
	ID               int          `json:"id"`
	Name             string       `json:"name"`
	Width            int          `json:"width"`
	Height           int          `json:"height"`
	Focused          bool         `json:"focused"`
	ActiveWorkspace  workspaceRef `json:"activeWorkspace"`
	SpecialWorkspace workspaceRef `json:"specialWorkspace"`
}

type hyprClient struct {
	Address   string       `json:"address"`
	Class     string       `json:"class"`
	Title     string       `json:"title"`
	Workspace workspaceRef `json:"workspace"`
}

type hyprDevices struct {
	Keyboards []struct {
		Name         string `json:"name"`
		ActiveKeymap string `json:"active_keymap"`
		Main         bool   `json:"main"`
	} `json:"keyboards"`
}

// query runs one j/ request and decodes its JSON reply into v.
func (b *Backend) query(ctx context.Context, what string, v any) error {
	reply, err := b.Request(ctx, "j/"+what)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(reply, v); err != nil {
		return errors.Wrap(err, errors.ErrCodeProtocol, "decoding hyprland "+what)
	}
	return nil
}

// Snapshot queries workspaces, monitors, clients, the active workspace and
// window, and the main keyboard's layout.
func (b *Backend) Snapshot(ctx context.Context) (compositor.State, error) {
	var (
		workspaces []hyprWorkspace
		monitors   []hyprMonitor
		clients    []hyprClient
		active     hyprWorkspace
		devices    hyprDevices
	)
	if err := b.query(ctx, "workspaces", &workspaces); err != nil {
		return compositor.State{}, err
	}
	if err := b.query(ctx, "monitors", &monitors); err != nil {
		return compositor.State{}, err
	}
	if err := b.query(ctx, "clients", &clients); err != nil {
		return compositor.State{}, err
	}
	if err := b.query(ctx, "activeworkspace", &active); err != nil {
		return compositor.State{}, err
	}
	winReply, err := b.Request(ctx, "j/activewindow")
	if err != nil {
		return compositor.State{}, err
	}
	win, err := parseActiveWindow(winReply)
	if err != nil {
		return compositor.State{}, err
	}

	st := compositor.State{
		ActiveWorkspaceID: active.ID,
		ActiveWindow:      win,
		Fullscreen:        active.HasFullscreen,
		KeyboardLayout:    "Unknown",
	}

	// Devices are best effort; headless sessions have no keyboards.
	if err := b.query(ctx, "devices", &devices); err == nil {
		for _, k := range devices.Keyboards {
			if k.Main {
				st.KeyboardLayout = k.ActiveKeymap
				break
			}
		}
	} else {
		b.logger.WithError(err).Debug("Could not query keyboard devices")
	}

	for _, m := range monitors {
		st.Monitors = append(st.Monitors, compositor.Monitor{
			ID:                m.ID,
			Name:              m.Name,
			Width:             m.Width,
			Height:            m.Height,
			Focused:           m.Focused,
			ActiveWorkspaceID: m.ActiveWorkspace.ID,
		})
		if m.Focused && m.SpecialWorkspace.Name != "" {
			st.ActiveSpecial = m.SpecialWorkspace.Name
		}
	}
	for _, c := range clients {
		st.Windows = append(st.Windows, compositor.Window{
			Address:     normalizeAddress(c.Address),
			WorkspaceID: c.Workspace.ID,
			Class:       c.Class,
			Title:       c.Title,
		})
	}
	for _, w := range workspaces {
		st.Workspaces = append(st.Workspaces, compositor.Workspace{
			ID:        w.ID,
			Index:     w.ID,
			Name:      w.Name,
			Monitor:   w.Monitor,
			MonitorID: w.MonitorID,
			Windows:   w.Windows,
			Special:   w.ID < 0 || compositor.IsSpecialName(w.Name),
		})
	}
	compositor.SortWorkspaces(st.Workspaces)
	return st, nil
}

// parseActiveWindow decodes a j/activewindow reply; "{}" means no window.
func parseActiveWindow(reply []byte) (compositor.ActiveWindow, error) {
	var c hyprClient
	if err := json.Unmarshal(reply, &c); err != nil {
		return compositor.ActiveWindow{}, errors.Wrap(err, errors.ErrCodeProtocol, "decoding hyprland activewindow")
	}
	if c.Address == "" {
		return compositor.ActiveWindow{}, nil
	}
	return compositor.ActiveWindow{
		Title:   c.Title,
		Class:   c.Class,
		Address: normalizeAddress(c.Address),
	}, nil
}

// normalizeAddress returns addr with a 0x prefix; events omit it.
func normalizeAddress(addr string) string {
	if addr == "" || strings.HasPrefix(addr, "0x") {
		return addr
	}
	return "0x" + addr
}
