package compositor

import (
	"encoding/json"

	"github.com/grovetools/wayshell/internal/services"
)

// Command is a request to the compositor. The set is closed; backends
// translate each variant into their own wire form.
type Command interface {
	services.Command
	compositorCommand()
}

// FocusWorkspace switches to the workspace with the given id.
type FocusWorkspace struct {
	ID int `json:"id"`
}

// FocusSpecialWorkspace shows the named special workspace.
type FocusSpecialWorkspace struct {
	Name string `json:"name"`
}

// ToggleSpecialWorkspace shows or hides the named special workspace.
type ToggleSpecialWorkspace struct {
	Name string `json:"name"`
}

// FocusMonitor moves focus to the monitor with the given id.
type FocusMonitor struct {
	ID int `json:"id"`
}

// ScrollWorkspace moves Delta workspaces relative to the current one.
type ScrollWorkspace struct {
	Delta int `json:"delta"`
}

// MoveWindowToWorkspace moves the focused window to workspace ID.
type MoveWindowToWorkspace struct {
	ID int `json:"id"`
}

// ToggleFullscreen toggles fullscreen on the focused window.
type ToggleFullscreen struct{}

// GetActiveWindow queries the focused window and refreshes active_window.
type GetActiveWindow struct{}

// NextKeyboardLayout cycles to the next keyboard layout.
type NextKeyboardLayout struct{}

// Custom passes a raw dispatcher through to the compositor, e.g.
// Dispatcher "exec" with Args "foot".
type Custom struct {
	Dispatcher string `json:"dispatcher"`
	Args       string `json:"args,omitempty"`
}

func (FocusWorkspace) CommandName() string         { return "focus_workspace" }
func (FocusSpecialWorkspace) CommandName() string  { return "focus_special_workspace" }
func (ToggleSpecialWorkspace) CommandName() string { return "toggle_special_workspace" }
func (FocusMonitor) CommandName() string           { return "focus_monitor" }
func (ScrollWorkspace) CommandName() string        { return "scroll_workspace" }
func (MoveWindowToWorkspace) CommandName() string  { return "move_window_to_workspace" }
func (ToggleFullscreen) CommandName() string       { return "toggle_fullscreen" }
func (GetActiveWindow) CommandName() string        { return "get_active_window" }
func (NextKeyboardLayout) CommandName() string     { return "next_keyboard_layout" }
func (Custom) CommandName() string                 { return "custom" }

func (FocusWorkspace) compositorCommand()         {}
func (FocusSpecialWorkspace) compositorCommand()  {}
func (ToggleSpecialWorkspace) compositorCommand() {}
func (FocusMonitor) compositorCommand()           {}
func (ScrollWorkspace) compositorCommand()        {}
func (MoveWindowToWorkspace) compositorCommand()  {}
func (ToggleFullscreen) compositorCommand()       {}
func (GetActiveWindow) compositorCommand()        {}
func (NextKeyboardLayout) compositorCommand()     {}
func (Custom) compositorCommand()                 {}

// refresh is the wire form of Service.Refresh.
type refresh struct{}

func (refresh) CommandName() string { return "refresh" }

var decoders = services.Decoders{
	"focus_workspace":          services.JSON[FocusWorkspace](),
	"focus_special_workspace":  services.JSON[FocusSpecialWorkspace](),
	"toggle_special_workspace": services.JSON[ToggleSpecialWorkspace](),
	"focus_monitor":            services.JSON[FocusMonitor](),
	"scroll_workspace":         services.JSON[ScrollWorkspace](),
	"move_window_to_workspace": services.JSON[MoveWindowToWorkspace](),
	"toggle_fullscreen":        services.JSON[ToggleFullscreen](),
	"get_active_window":        services.JSON[GetActiveWindow](),
	"next_keyboard_layout":     services.JSON[NextKeyboardLayout](),
	"custom":                   services.JSON[Custom](),
	"refresh":                  func(json.RawMessage) (services.Command, error) { return refresh{}, nil },
}

// Ack is a backend's reply to a command.
type Ack struct {
	// Reply is the raw reply, for logging.
	Reply string
	// Window is set by GetActiveWindow.
	Window *ActiveWindow
}
