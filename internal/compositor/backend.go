package compositor

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// Kind identifies a compositor protocol.
type Kind int

const (
	// KindNone means no backend; the service runs degraded.
	KindNone Kind = iota
	KindHyprland
	KindNiri
)

func (k Kind) String() string {
	switch k {
	case KindHyprland:
		return "hyprland"
	case KindNiri:
		return "niri"
	default:
		return "none"
	}
}

// ParseKind parses a backend name. "auto" and "" parse to KindNone with
// auto set, meaning detection decides.
func ParseKind(s string) (kind Kind, auto bool, err error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return KindNone, true, nil
	case "none":
		return KindNone, false, nil
	case "hyprland":
		return KindHyprland, false, nil
	case "niri":
		return KindNiri, false, nil
	default:
		return KindNone, false, fmt.Errorf("unknown compositor backend %q (want auto, hyprland, niri or none)", s)
	}
}

// Backend speaks one compositor's IPC protocol.
type Backend interface {
	// Kind returns the protocol this backend speaks.
	Kind() Kind

	// Detect reports whether this compositor appears to be running. It
	// only inspects the environment and the filesystem.
	Detect() bool

	// Connect verifies the command endpoint is reachable.
	Connect(ctx context.Context) error

	// Send performs one command round-trip.
	Send(ctx context.Context, cmd Command) (Ack, error)

	// Snapshot queries the full current state.
	Snapshot(ctx context.Context) (State, error)

	// Events opens the long-lived event connection. Events are delivered
	// until ctx is done or the connection fails; a failure is sent on the
	// error channel and both channels are then closed.
	Events(ctx context.Context) (<-chan Event, <-chan error)

	// Close releases any open connections.
	Close() error
}

// Select picks the backend for this session. With auto set, backends are
// tried in fixed priority order (Hyprland, then Niri) regardless of the
// order given, and the first whose Detect succeeds wins. Otherwise the
// backend of the requested kind is returned without detection. The result
// is nil when nothing matches.
func Select(backends []Backend, want Kind, auto bool) Backend {
	if !auto {
		if want == KindNone {
			return nil
		}
		for _, b := range backends {
			if b.Kind() == want {
				return b
			}
		}
		return nil
	}

	ordered := slices.Clone(backends)
	slices.SortStableFunc(ordered, func(a, b Backend) int { return int(a.Kind()) - int(b.Kind()) })
	for _, b := range ordered {
		if b.Kind() != KindNone && b.Detect() {
			return b
		}
	}
	return nil
}
