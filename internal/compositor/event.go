package compositor

import "slices"

// Event is a state change reported by a backend. The set is closed.
type Event interface {
	compositorEvent()
}

type (
	// WorkspaceFocused: the active workspace changed.
	WorkspaceFocused struct {
		ID   int
		Name string
	}
	// WorkspaceCreated: a workspace appeared.
	WorkspaceCreated struct {
		Workspace Workspace
	}
	// WorkspaceDestroyed: a workspace went away.
	WorkspaceDestroyed struct {
		ID int
	}
	// WorkspaceMoved: a workspace moved to another monitor.
	WorkspaceMoved struct {
		ID      int
		Monitor string
	}
	// WindowFocused: focus moved to Window; the zero value means none.
	WindowFocused struct {
		Window ActiveWindow
	}
	// WindowOpened: a window was mapped on the named workspace.
	WindowOpened struct {
		Address   string
		Workspace string
		Class     string
		Title     string
	}
	// WindowClosed: a window was unmapped.
	WindowClosed struct {
		Address string
	}
	// WindowMoved: a window changed workspace.
	WindowMoved struct {
		Address     string
		WorkspaceID int
	}
	// MonitorFocused: focus moved to a monitor showing Workspace.
	MonitorFocused struct {
		Monitor   string
		Workspace string
	}
	// LayoutChanged: the active keyboard layout changed.
	LayoutChanged struct {
		Layout string
	}
	// SubmapChanged: a keybind submap was entered; empty means the default.
	SubmapChanged struct {
		Name string
	}
	// SpecialWorkspaceChanged: a special workspace was shown or hidden on a
	// monitor. Name is empty when hidden.
	SpecialWorkspaceChanged struct {
		Name    string
		Monitor string
	}
	// FullscreenChanged: the focused window entered or left fullscreen.
	FullscreenChanged struct {
		Fullscreen bool
	}
	// StateReplaced carries a full snapshot.
	StateReplaced struct {
		State State
	}
)

func (WorkspaceFocused) compositorEvent()        {}
func (WorkspaceCreated) compositorEvent()        {}
func (WorkspaceDestroyed) compositorEvent()      {}
func (WorkspaceMoved) compositorEvent()          {}
func (WindowFocused) compositorEvent()           {}
func (WindowOpened) compositorEvent()            {}
func (WindowClosed) compositorEvent()            {}
func (WindowMoved) compositorEvent()             {}
func (MonitorFocused) compositorEvent()          {}
func (LayoutChanged) compositorEvent()           {}
func (SubmapChanged) compositorEvent()           {}
func (SpecialWorkspaceChanged) compositorEvent() {}
func (FullscreenChanged) compositorEvent()       {}
func (StateReplaced) compositorEvent()           {}

// Apply returns the state that results from ev. s is not modified.
func (s State) Apply(ev Event) State {
	if r, ok := ev.(StateReplaced); ok {
		return r.State.clone()
	}

	next := s.clone()
	switch e := ev.(type) {
	case WorkspaceFocused:
		next.ActiveWorkspaceID = e.ID
		if _, ok := next.Workspace(e.ID); !ok {
			next.Workspaces = append(next.Workspaces, Workspace{ID: e.ID, Index: e.ID, Name: e.Name})
			next.sortWorkspaces()
		}
		for i := range next.Monitors {
			if next.Monitors[i].Focused {
				next.Monitors[i].ActiveWorkspaceID = e.ID
			}
		}

	case WorkspaceCreated:
		if _, ok := next.Workspace(e.Workspace.ID); ok {
			break
		}
		ws := e.Workspace
		if ws.Monitor != "" && ws.MonitorID == 0 {
			ws.MonitorID = next.monitorID(ws.Monitor)
		}
		if !ws.Special && (ws.ID < 0 || IsSpecialName(ws.Name)) {
			ws.Special = true
		}
		next.Workspaces = append(next.Workspaces, ws)
		next.sortWorkspaces()
		next.recount()

	case WorkspaceDestroyed:
		next.Workspaces = slices.DeleteFunc(next.Workspaces, func(w Workspace) bool { return w.ID == e.ID })

	case WorkspaceMoved:
		for i := range next.Workspaces {
			if next.Workspaces[i].ID == e.ID {
				next.Workspaces[i].Monitor = e.Monitor
				next.Workspaces[i].MonitorID = next.monitorID(e.Monitor)
			}
		}

	case WindowFocused:
		next.ActiveWindow = e.Window

	case WindowOpened:
		wsID := 0
		if ws, ok := next.WorkspaceByName(e.Workspace); ok {
			wsID = ws.ID
		}
		next.Windows = slices.DeleteFunc(next.Windows, func(w Window) bool { return w.Address == e.Address })
		next.Windows = append(next.Windows, Window{
			Address:     e.Address,
			WorkspaceID: wsID,
			Class:       e.Class,
			Title:       e.Title,
		})
		next.recount()

	case WindowClosed:
		next.Windows = slices.DeleteFunc(next.Windows, func(w Window) bool { return w.Address == e.Address })
		if next.ActiveWindow.Address == e.Address {
			next.ActiveWindow = ActiveWindow{}
		}
		next.recount()

	case WindowMoved:
		for i := range next.Windows {
			if next.Windows[i].Address == e.Address {
				next.Windows[i].WorkspaceID = e.WorkspaceID
			}
		}
		next.recount()

	case MonitorFocused:
		for i := range next.Monitors {
			next.Monitors[i].Focused = next.Monitors[i].Name == e.Monitor
		}
		if ws, ok := next.WorkspaceByName(e.Workspace); ok {
			next.ActiveWorkspaceID = ws.ID
		}

	case LayoutChanged:
		next.KeyboardLayout = e.Layout

	case SubmapChanged:
		next.Submap = e.Name

	case SpecialWorkspaceChanged:
		next.ActiveSpecial = e.Name

	case FullscreenChanged:
		next.Fullscreen = e.Fullscreen
	}
	return next
}
