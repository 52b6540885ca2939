// Package compositor abstracts the Wayland compositor behind one Backend
// interface and publishes its state through a Service.
package compositor

import (
	"slices"
	"strings"
)

// Workspace is one compositor workspace.
type Workspace struct {
	ID        int    `json:"id"`
	Index     int    `json:"index"`
	Name      string `json:"name"`
	Monitor   string `json:"monitor,omitempty"`
	MonitorID int    `json:"monitor_id"`
	Windows   int    `json:"windows"`
	Special   bool   `json:"special,omitempty"`
}

// Monitor is one output.
type Monitor struct {
	ID                int    `json:"id"`
	Name              string `json:"name"`
	Width             int    `json:"width,omitempty"`
	Height            int    `json:"height,omitempty"`
	Focused           bool   `json:"focused"`
	ActiveWorkspaceID int    `json:"active_workspace_id"`
}

// Window is one toplevel known to the compositor.
type Window struct {
	Address     string `json:"address"`
	WorkspaceID int    `json:"workspace_id"`
	Class       string `json:"class"`
	Title       string `json:"title"`
}

// ActiveWindow identifies the focused window. The zero value means no
// window has focus.
type ActiveWindow struct {
	Title   string `json:"title"`
	Class   string `json:"class"`
	Address string `json:"address"`
}

// State is the full compositor state as seen by wayshell.
type State struct {
	Workspaces        []Workspace  `json:"workspaces"`
	Monitors          []Monitor    `json:"monitors"`
	Windows           []Window     `json:"windows,omitempty"`
	ActiveWorkspaceID int          `json:"active_workspace_id"`
	ActiveWindow      ActiveWindow `json:"active_window"`
	ActiveSpecial     string       `json:"active_special,omitempty"`
	KeyboardLayout    string       `json:"keyboard_layout"`
	Submap            string       `json:"submap,omitempty"`
	Fullscreen        bool         `json:"fullscreen"`
}

// Workspace returns the workspace with the given id.
func (s State) Workspace(id int) (Workspace, bool) {
	i := slices.IndexFunc(s.Workspaces, func(w Workspace) bool { return w.ID == id })
	if i < 0 {
		return Workspace{}, false
	}
	return s.Workspaces[i], true
}

// WorkspaceByName returns the workspace with the given name.
func (s State) WorkspaceByName(name string) (Workspace, bool) {
	i := slices.IndexFunc(s.Workspaces, func(w Workspace) bool { return w.Name == name })
	if i < 0 {
		return Workspace{}, false
	}
	return s.Workspaces[i], true
}

// ActiveWorkspace returns the focused workspace.
func (s State) ActiveWorkspace() (Workspace, bool) {
	return s.Workspace(s.ActiveWorkspaceID)
}

func (s State) clone() State {
	s.Workspaces = slices.Clone(s.Workspaces)
	s.Monitors = slices.Clone(s.Monitors)
	s.Windows = slices.Clone(s.Windows)
	return s
}

func (s *State) sortWorkspaces() {
	SortWorkspaces(s.Workspaces)
}

// SortWorkspaces orders workspaces by id with special workspaces last.
func SortWorkspaces(ws []Workspace) {
	slices.SortStableFunc(ws, func(a, b Workspace) int {
		if a.Special != b.Special {
			if a.Special {
				return 1
			}
			return -1
		}
		return a.ID - b.ID
	})
}

// recount recomputes per-workspace window counts from Windows.
func (s *State) recount() {
	counts := make(map[int]int, len(s.Workspaces))
	for _, w := range s.Windows {
		counts[w.WorkspaceID]++
	}
	for i := range s.Workspaces {
		s.Workspaces[i].Windows = counts[s.Workspaces[i].ID]
	}
}

func (s *State) monitorID(name string) int {
	for _, m := range s.Monitors {
		if m.Name == name {
			return m.ID
		}
	}
	return 0
}

// IsSpecialName reports whether a workspace name denotes a special
// (scratchpad) workspace.
func IsSpecialName(name string) bool {
	return strings.HasPrefix(name, "special")
}
