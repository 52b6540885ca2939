package hyprland

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/grovetools/wayshell/internal/compositor"
)

// maxEventLine bounds one event line; window titles can be long. Longer
// lines are skipped whole.
const maxEventLine = 64 * 1024

func (b *Backend) readEvents(ctx context.Context, r io.Reader, out chan<- compositor.Event) error {
	br := bufio.NewReaderSize(r, 4096)

	var p Parser
	for {
		line, err := readLine(br)
		if err == errLineTooLong {
			b.logger.WithField("limit", maxEventLine).Warn("Skipping oversized event line")
			continue
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		ev := p.Parse(line)
		if ev == nil {
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

var errLineTooLong = errors.New("event line too long")

// readLine returns the next line without its terminator. A line longer
// than maxEventLine is consumed and reported as errLineTooLong. A final
// unterminated line is returned before io.EOF.
func readLine(br *bufio.Reader) (string, error) {
	var buf []byte
	oversized := false
	for {
		frag, isPrefix, err := br.ReadLine()
		if err != nil {
			if err == io.EOF && (len(buf) > 0 || oversized) {
				break
			}
			return "", err
		}
		if !oversized {
			buf = append(buf, frag...)
			if len(buf) > maxEventLine {
				oversized, buf = true, nil
			}
		}
		if !isPrefix {
			break
		}
	}
	if oversized {
		return "", errLineTooLong
	}
	return string(buf), nil
}

// Parser turns event-socket lines into events. It keeps the class and
// title from "activewindow" until the matching "activewindowv2" supplies
// the address, so one WindowFocused carries all three.
type Parser struct {
	class string
	title string
}

// Parse parses one EVENT>>DATA line. It returns nil for events wayshell
// does not track and for malformed lines.
func (p *Parser) Parse(line string) compositor.Event {
	name, data, ok := strings.Cut(strings.TrimRight(line, "\r\n"), ">>")
	if !ok {
		return nil
	}

	switch name {
	case "workspacev2":
		id, wsName, ok := idAndName(data)
		if !ok {
			return nil
		}
		return compositor.WorkspaceFocused{ID: id, Name: wsName}

	case "createworkspacev2":
		id, wsName, ok := idAndName(data)
		if !ok {
			return nil
		}
		return compositor.WorkspaceCreated{Workspace: compositor.Workspace{
			ID:      id,
			Index:   id,
			Name:    wsName,
			Special: id < 0 || compositor.IsSpecialName(wsName),
		}}

	case "destroyworkspacev2":
		id, _, ok := idAndName(data)
		if !ok {
			return nil
		}
		return compositor.WorkspaceDestroyed{ID: id}

	case "moveworkspacev2":
		fields := strings.SplitN(data, ",", 3)
		if len(fields) != 3 {
			return nil
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil
		}
		return compositor.WorkspaceMoved{ID: id, Monitor: fields[2]}

	case "activewindow":
		p.class, p.title, _ = strings.Cut(data, ",")
		return nil

	case "activewindowv2":
		addr := strings.Trim(data, ", ")
		if addr == "" {
			p.class, p.title = "", ""
			return compositor.WindowFocused{}
		}
		ev := compositor.WindowFocused{Window: compositor.ActiveWindow{
			Title:   p.title,
			Class:   p.class,
			Address: normalizeAddress(addr),
		}}
		p.class, p.title = "", ""
		return ev

	case "openwindow":
		fields := strings.SplitN(data, ",", 4)
		if len(fields) != 4 {
			return nil
		}
		return compositor.WindowOpened{
			Address:   normalizeAddress(fields[0]),
			Workspace: fields[1],
			Class:     fields[2],
			Title:     fields[3],
		}

	case "closewindow":
		if data == "" {
			return nil
		}
		return compositor.WindowClosed{Address: normalizeAddress(data)}

	case "movewindowv2":
		fields := strings.SplitN(data, ",", 3)
		if len(fields) < 2 {
			return nil
		}
		id, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil
		}
		return compositor.WindowMoved{Address: normalizeAddress(fields[0]), WorkspaceID: id}

	case "focusedmon":
		mon, ws, ok := strings.Cut(data, ",")
		if !ok {
			return nil
		}
		return compositor.MonitorFocused{Monitor: mon, Workspace: ws}

	case "activelayout":
		_, layout, ok := strings.Cut(data, ",")
		if !ok {
			return nil
		}
		return compositor.LayoutChanged{Layout: layout}

	case "submap":
		return compositor.SubmapChanged{Name: data}

	case "activespecial":
		ws, mon, _ := strings.Cut(data, ",")
		return compositor.SpecialWorkspaceChanged{Name: ws, Monitor: mon}

	case "fullscreen":
		return compositor.FullscreenChanged{Fullscreen: data == "1"}
	}
	return nil
}

// idAndName splits "ID,NAME"; names may contain commas.
func idAndName(data string) (int, string, bool) {
	idStr, name, ok := strings.Cut(data, ",")
	if !ok {
		return 0, "", false
	}
	id, err := strconv.Atoi(idStr)
	if err != nil {
		return 0, "", false
	}
	return id, name, true
}
