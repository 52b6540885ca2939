package services

import "github.com/grovetools/wayshell/pkg/reactive"

// State is the health of a service.
type State string

const (
	StateInitializing State = "initializing"
	StateActive       State = "active"
	StateDegraded     State = "degraded"
	StateUnavailable  State = "unavailable"
	StateError        State = "error"
)

// Status is the value of every service's "status" field.
type Status struct {
	State   State  `json:"state"`
	Message string `json:"message,omitempty"`
}

// Initializing returns the status services start in.
func Initializing() Status { return Status{State: StateInitializing} }

// Active reports a healthy service. detail is optional, e.g. the backend in use.
func Active(detail string) Status { return Status{State: StateActive, Message: detail} }

// Degraded reports a service running without its external system.
func Degraded(reason string) Status { return Status{State: StateDegraded, Message: reason} }

// Unavailable reports that the external system does not exist on this machine.
func Unavailable(reason string) Status { return Status{State: StateUnavailable, Message: reason} }

// Failed reports an error state.
func Failed(err error) Status {
	return Status{State: StateError, Message: err.Error()}
}

// NewStatusCell returns a status cell that starts Initializing and only
// notifies on change.
func NewStatusCell() *reactive.Cell[Status] {
	return reactive.NewCell(Initializing(), reactive.WithEqual(func(a, b Status) bool { return a == b }))
}
