package niri

import (
	"encoding/json"
	"maps"
	"slices"
	"strconv"

	"github.com/grovetools/wayshell/errors"
	"github.com/grovetools/wayshell/internal/compositor"
	"github.com/tidwall/gjson"
)

type niriWorkspace struct {
	ID        uint64  `json:"id"`
	Idx       int     `json:"idx"`
	Name      *string `json:"name"`
	Output    *string `json:"output"`
	IsActive  bool    `json:"is_active"`
	IsFocused bool    `json:"is_focused"`
}

type niriWindow struct {
	ID          uint64  `json:"id"`
	Title       *string `json:"title"`
	AppID       *string `json:"app_id"`
	WorkspaceID *uint64 `json:"workspace_id"`
	IsFocused   bool    `json:"is_focused"`
}

type niriLayouts struct {
	Names      []string `json:"names"`
	CurrentIdx int      `json:"current_idx"`
}

// Tracker folds niri's event stream into a full state. niri sends whole
// collections on (re)connect and incremental changes afterwards.
type Tracker struct {
	workspaces map[uint64]niriWorkspace
	windows    map[uint64]niriWindow
	layouts    *niriLayouts
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		workspaces: make(map[uint64]niriWorkspace),
		windows:    make(map[uint64]niriWindow),
	}
}

// Apply folds one event line such as {"WorkspaceActivated":{"id":2,"focused":true}}.
// changed is false for events that carry nothing wayshell tracks,
// including variants newer than this code.
func (t *Tracker) Apply(line []byte) (changed bool, err error) {
	if !gjson.ValidBytes(line) {
		return false, errors.Protocol("niri", "invalid event JSON")
	}
	root := gjson.ParseBytes(line)
	if !root.IsObject() {
		return false, errors.Protocol("niri", "event is not an object")
	}

	var variant string
	var payload gjson.Result
	root.ForEach(func(key, value gjson.Result) bool {
		variant, payload = key.String(), value
		return false
	})

	switch variant {
	case "WorkspacesChanged":
		var list []niriWorkspace
		if err := unmarshal(payload.Get("workspaces"), &list); err != nil {
			return false, err
		}
		t.setWorkspaces(list)

	case "WorkspaceActivated":
		id := payload.Get("id").Uint()
		ws, ok := t.workspaces[id]
		if !ok {
			return false, nil
		}
		focused := payload.Get("focused").Bool()
		for wid, other := range t.workspaces {
			if sameOutput(other.Output, ws.Output) {
				other.IsActive = wid == id
			}
			if focused {
				other.IsFocused = wid == id
			}
			t.workspaces[wid] = other
		}

	case "WindowsChanged":
		var list []niriWindow
		if err := unmarshal(payload.Get("windows"), &list); err != nil {
			return false, err
		}
		t.windows = make(map[uint64]niriWindow, len(list))
		for _, w := range list {
			t.windows[w.ID] = w
		}

	case "WindowOpenedOrChanged":
		var w niriWindow
		if err := unmarshal(payload.Get("window"), &w); err != nil {
			return false, err
		}
		if w.IsFocused {
			t.focusWindow(&w.ID)
		}
		t.windows[w.ID] = w

	case "WindowClosed":
		delete(t.windows, payload.Get("id").Uint())

	case "WindowFocusChanged":
		id := payload.Get("id")
		if id.Type == gjson.Null || !id.Exists() {
			t.focusWindow(nil)
		} else {
			v := id.Uint()
			t.focusWindow(&v)
		}

	case "KeyboardLayoutsChanged":
		var l niriLayouts
		if err := unmarshal(payload.Get("keyboard_layouts"), &l); err != nil {
			return false, err
		}
		t.layouts = &l

	case "KeyboardLayoutSwitched":
		if t.layouts == nil {
			return false, nil
		}
		t.layouts.CurrentIdx = int(payload.Get("idx").Int())

	default:
		return false, nil
	}
	return true, nil
}

func (t *Tracker) setWorkspaces(list []niriWorkspace) {
	t.workspaces = make(map[uint64]niriWorkspace, len(list))
	for _, w := range list {
		t.workspaces[w.ID] = w
	}
}

func (t *Tracker) focusWindow(id *uint64) {
	for wid, w := range t.windows {
		w.IsFocused = id != nil && wid == *id
		t.windows[wid] = w
	}
}

// State maps the tracked collections to a compositor state. Monitor ids
// are positions in the sorted list of output names.
func (t *Tracker) State() compositor.State {
	st := compositor.State{KeyboardLayout: "Unknown"}

	outputs := make(map[string]int)
	for _, ws := range t.workspaces {
		if ws.Output != nil {
			if ws.IsActive {
				outputs[*ws.Output] = int(ws.ID)
			} else if _, ok := outputs[*ws.Output]; !ok {
				outputs[*ws.Output] = 0
			}
		}
	}
	names := slices.Sorted(maps.Keys(outputs))
	monitorID := func(name string) int { return slices.Index(names, name) }

	focusedOutput := ""
	for _, ws := range t.workspaces {
		if ws.IsFocused && ws.Output != nil {
			focusedOutput = *ws.Output
		}
	}
	for i, name := range names {
		st.Monitors = append(st.Monitors, compositor.Monitor{
			ID:                i,
			Name:              name,
			Focused:           name == focusedOutput,
			ActiveWorkspaceID: outputs[name],
		})
	}

	for _, ws := range t.workspaces {
		w := compositor.Workspace{
			ID:        int(ws.ID),
			Index:     ws.Idx,
			Name:      strconv.Itoa(ws.Idx),
			MonitorID: -1,
		}
		if ws.Name != nil {
			w.Name = *ws.Name
		}
		if ws.Output != nil {
			w.Monitor = *ws.Output
			w.MonitorID = monitorID(*ws.Output)
		}
		if ws.IsFocused {
			st.ActiveWorkspaceID = int(ws.ID)
		}
		st.Workspaces = append(st.Workspaces, w)
	}
	slices.SortFunc(st.Workspaces, func(a, b compositor.Workspace) int {
		if a.MonitorID != b.MonitorID {
			return a.MonitorID - b.MonitorID
		}
		return a.Index - b.Index
	})

	ids := slices.Sorted(maps.Keys(t.windows))
	counts := make(map[int]int)
	for _, id := range ids {
		w := t.windows[id]
		win := compositor.Window{
			Address: strconv.FormatUint(w.ID, 10),
			Class:   deref(w.AppID),
			Title:   deref(w.Title),
		}
		if w.WorkspaceID != nil {
			win.WorkspaceID = int(*w.WorkspaceID)
			counts[win.WorkspaceID]++
		}
		st.Windows = append(st.Windows, win)
		if w.IsFocused {
			st.ActiveWindow = compositor.ActiveWindow{Title: win.Title, Class: win.Class, Address: win.Address}
		}
	}
	for i := range st.Workspaces {
		st.Workspaces[i].Windows = counts[st.Workspaces[i].ID]
	}

	if t.layouts != nil && t.layouts.CurrentIdx >= 0 && t.layouts.CurrentIdx < len(t.layouts.Names) {
		st.KeyboardLayout = t.layouts.Names[t.layouts.CurrentIdx]
	}
	return st
}

func unmarshal(r gjson.Result, v any) error {
	if !r.Exists() {
		return errors.Protocol("niri", "event payload missing")
	}
	if err := json.Unmarshal([]byte(r.Raw), v); err != nil {
		return errors.Wrap(err, errors.ErrCodeProtocol, "decoding niri event")
	}
	return nil
}

func sameOutput(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
