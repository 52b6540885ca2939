// Package launcher holds the launcher's visibility and prefill as a
// service. Requests forwarded by client instances end up here; the UI
// subscribes to the cells and opens or closes its window.
package launcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/grovetools/wayshell/errors"
	"github.com/grovetools/wayshell/internal/services"
	"github.com/grovetools/wayshell/pkg/reactive"
	"github.com/sirupsen/logrus"
)

// ServiceName is the registry name of the launcher service.
const ServiceName = "launcher"

// Command is a launcher request.
type Command interface {
	services.Command
	launcherCommand()
}

// Open shows the launcher, replacing the prefill when one is given.
type Open struct {
	Prefill   *string `json:"prefill,omitempty"`
	RequestID string  `json:"request_id,omitempty"`
}

// Toggle shows a hidden launcher. On a visible launcher a prefill updates
// the text and keeps it open; no prefill closes it.
type Toggle struct {
	Prefill   *string `json:"prefill,omitempty"`
	RequestID string  `json:"request_id,omitempty"`
}

// Close hides the launcher.
type Close struct{}

func (Open) CommandName() string   { return "open" }
func (Toggle) CommandName() string { return "toggle" }
func (Close) CommandName() string  { return "close" }

func (Open) launcherCommand()   {}
func (Toggle) launcherCommand() {}
func (Close) launcherCommand()  {}

var decoders = services.Decoders{
	"open":   services.JSON[Open](),
	"toggle": services.JSON[Toggle](),
	"close":  services.JSON[Close](),
}

// View is the launcher state published to the UI.
type View struct {
	Visible bool   `json:"visible"`
	Prefill string `json:"prefill"`
	// RequestID identifies the request that last changed the view.
	RequestID string `json:"request_id,omitempty"`
}

// Service tracks the launcher view. It has no external system, so
// commands apply synchronously.
type Service struct {
	logger *logrus.Entry

	// mu keeps view and its derived cells in step.
	mu sync.Mutex

	view    *reactive.Cell[View]
	visible *reactive.Cell[bool]
	prefill *reactive.Cell[string]
	status  *reactive.Cell[services.Status]
	fields  map[string]reactive.Observable
}

// NewService creates the launcher service, initially hidden.
func NewService(logger *logrus.Entry) *Service {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Service{
		logger:  logger,
		view:    reactive.NewCell(View{}, reactive.WithEqual(func(a, b View) bool { return a == b })),
		visible: reactive.NewCell(false, reactive.WithEqual(func(a, b bool) bool { return a == b })),
		prefill: reactive.NewCell("", reactive.WithEqual(func(a, b string) bool { return a == b })),
		status:  services.NewStatusCell(),
	}
	s.fields = map[string]reactive.Observable{
		"view":    reactive.Erase(s.view),
		"visible": reactive.Erase(s.visible),
		"prefill": reactive.Erase(s.prefill),
		"status":  reactive.Erase(s.status),
	}
	return s
}

func (s *Service) Name() string { return ServiceName }

func (s *Service) Fields() map[string]reactive.Observable { return s.fields }

// CommandNames lists the wire names DecodeCommand accepts.
func (s *Service) CommandNames() []string { return decoders.Names() }

func (s *Service) DecodeCommand(name string, args json.RawMessage) (services.Command, error) {
	return decoders.Decode(ServiceName, name, args)
}

// View returns the combined view cell.
func (s *Service) View() *reactive.Cell[View] { return s.view }

// Visible returns the visibility cell.
func (s *Service) Visible() *reactive.Cell[bool] { return s.visible }

// Run marks the service active and waits for ctx.
func (s *Service) Run(ctx context.Context) error {
	s.status.Set(services.Active(""))
	<-ctx.Done()
	return nil
}

// Dispatch applies a launcher command.
func (s *Service) Dispatch(cmd services.Command) error {
	c, ok := cmd.(Command)
	if !ok {
		return errors.InvalidCommand(ServiceName, fmt.Sprintf("unexpected command %s", cmd.CommandName()))
	}

	s.mu.Lock()
	next := s.view.Update(func(v View) View { return reduce(v, c) })
	s.visible.Set(next.Visible)
	s.prefill.Set(next.Prefill)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"command":    c.CommandName(),
		"visible":    next.Visible,
		"request_id": next.RequestID,
	}).Debug("Launcher updated")
	return nil
}

func reduce(v View, c Command) View {
	switch c := c.(type) {
	case Open:
		v.Visible = true
		v.RequestID = c.RequestID
		if c.Prefill != nil {
			v.Prefill = *c.Prefill
		}
	case Toggle:
		v.RequestID = c.RequestID
		switch {
		case !v.Visible:
			v.Visible = true
			v.Prefill = deref(c.Prefill)
		case c.Prefill != nil:
			v.Prefill = *c.Prefill
		default:
			v.Visible = false
			v.Prefill = ""
		}
	case Close:
		v.Visible = false
		v.Prefill = ""
		v.RequestID = ""
	}
	return v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
