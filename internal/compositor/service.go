package compositor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/grovetools/wayshell/errors"
	"github.com/grovetools/wayshell/internal/services"
	"github.com/grovetools/wayshell/pkg/reactive"
	"github.com/grovetools/wayshell/pkg/retry"
	"github.com/sirupsen/logrus"
)

// ServiceName is the registry name of the compositor service.
const ServiceName = "compositor"

// Phase is the lifecycle state of the compositor service.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseDetecting
	PhaseActive
	PhaseDegraded
)

func (p Phase) String() string {
	switch p {
	case PhaseDetecting:
		return "detecting"
	case PhaseActive:
		return "active"
	case PhaseDegraded:
		return "degraded"
	default:
		return "uninitialized"
	}
}

// Options configures the compositor service.
type Options struct {
	// Backend is "auto", "hyprland", "niri" or "none".
	Backend string
	// ReconnectAttempts bounds consecutive reconnects before degrading.
	ReconnectAttempts int
	// BackoffBase is the delay before the first reconnect.
	BackoffBase time.Duration
	// BackoffMax caps the reconnect delay.
	BackoffMax time.Duration
	// QueueSize is the command queue depth.
	QueueSize int
	// CommandTimeout bounds one command round-trip.
	CommandTimeout time.Duration
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Backend:           "auto",
		ReconnectAttempts: 5,
		BackoffBase:       200 * time.Millisecond,
		BackoffMax:        5 * time.Second,
		QueueSize:         services.DefaultQueueSize,
		CommandTimeout:    2 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Backend == "" {
		o.Backend = d.Backend
	}
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = d.ReconnectAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = d.BackoffBase
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = d.BackoffMax
	}
	if o.QueueSize <= 0 {
		o.QueueSize = d.QueueSize
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = d.CommandTimeout
	}
	return o
}

// Service owns the compositor connection and publishes its state.
type Service struct {
	opts     Options
	backends []Backend
	logger   *logrus.Entry
	queue    *services.Queue

	mu      sync.RWMutex
	phase   Phase
	backend Backend

	// applyMu keeps state and its derived cells in step.
	applyMu sync.Mutex

	state           *reactive.Cell[State]
	activeWorkspace *reactive.Cell[int]
	activeWindow    *reactive.Cell[ActiveWindow]
	keyboardLayout  *reactive.Cell[string]
	backendName     *reactive.Cell[string]
	status          *reactive.Cell[services.Status]
	fields          map[string]reactive.Observable
}

// NewService creates the compositor service. backends are the candidates
// considered by detection; their order does not matter.
func NewService(opts Options, logger *logrus.Entry, backends ...Backend) *Service {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Service{
		opts:            opts.withDefaults(),
		backends:        backends,
		logger:          logger,
		state:           reactive.NewCell(State{}),
		activeWorkspace: reactive.NewCell(0, reactive.WithEqual(func(a, b int) bool { return a == b })),
		activeWindow:    reactive.NewCell(ActiveWindow{}, reactive.WithEqual(func(a, b ActiveWindow) bool { return a == b })),
		keyboardLayout:  reactive.NewCell("", reactive.WithEqual(func(a, b string) bool { return a == b })),
		backendName:     reactive.NewCell(KindNone.String(), reactive.WithEqual(func(a, b string) bool { return a == b })),
		status:          services.NewStatusCell(),
	}
	s.queue = services.NewQueue(s.opts.QueueSize, logger)
	s.fields = map[string]reactive.Observable{
		"state":            reactive.Erase(s.state),
		"active_workspace": reactive.Erase(s.activeWorkspace),
		"active_window":    reactive.Erase(s.activeWindow),
		"keyboard_layout":  reactive.Erase(s.keyboardLayout),
		"backend":          reactive.Erase(s.backendName),
		"status":           reactive.Erase(s.status),
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

// State returns the state cell.
func (s *Service) State() *reactive.Cell[State] { return s.state }

// ActiveWorkspace returns the active workspace id cell.
func (s *Service) ActiveWorkspace() *reactive.Cell[int] { return s.activeWorkspace }

// ActiveWindow returns the focused window cell.
func (s *Service) ActiveWindow() *reactive.Cell[ActiveWindow] { return s.activeWindow }

// KeyboardLayout returns the keyboard layout cell.
func (s *Service) KeyboardLayout() *reactive.Cell[string] { return s.keyboardLayout }

// Status returns the status cell.
func (s *Service) Status() *reactive.Cell[services.Status] { return s.status }

// Phase returns the current lifecycle phase.
func (s *Service) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Kind returns the selected backend, or KindNone before selection and
// when none was found.
func (s *Service) Kind() Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.backend == nil {
		return KindNone
	}
	return s.backend.Kind()
}

// Run detects the backend and keeps its event connection alive until ctx
// is done.
func (s *Service) Run(ctx context.Context) error {
	s.setPhase(PhaseDetecting)

	want, auto, err := ParseKind(s.opts.Backend)
	if err != nil {
		s.logger.WithError(err).Warn("Invalid backend override, using detection")
		auto = true
	}

	b := Select(s.backends, want, auto)
	if b == nil {
		s.degrade("no supported compositor detected")
		<-ctx.Done()
		return nil
	}

	s.mu.Lock()
	s.backend = b
	s.phase = PhaseActive
	s.mu.Unlock()
	s.backendName.Set(b.Kind().String())
	s.logger.WithField("backend", b.Kind().String()).Info("Compositor backend selected")

	defer b.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.queue.Run(ctx, s.handle)
	}()
	defer wg.Wait()

	s.supervise(ctx, b)
	<-ctx.Done()
	return nil
}

// supervise runs event sessions, reconnecting with backoff, until ctx is
// done or reconnects are exhausted.
func (s *Service) supervise(ctx context.Context, b Backend) {
	delays := retry.NewBackOff(s.opts.BackoffBase, s.opts.BackoffMax, 2)
	failures := 0
	for {
		connected, err := s.session(ctx, b)
		if ctx.Err() != nil {
			return
		}
		if connected {
			failures = 0
			delays.Reset()
		}
		failures++

		if failures > s.opts.ReconnectAttempts {
			s.degrade(fmt.Sprintf("lost connection to %s: %v", b.Kind(), err))
			return
		}

		delay := delays.NextBackOff()
		s.logger.WithFields(logrus.Fields{
			"backend": b.Kind().String(),
			"attempt": failures,
			"delay":   delay.String(),
		}).WithError(err).Warn("Compositor connection lost, reconnecting")
		s.status.Set(services.Status{State: services.StateDegraded, Message: "reconnecting"})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

var errStreamClosed = fmt.Errorf("event stream closed")

// session connects, loads a snapshot and applies events until the
// connection fails. connected reports whether the snapshot succeeded.
func (s *Service) session(ctx context.Context, b Backend) (connected bool, err error) {
	if err := b.Connect(ctx); err != nil {
		return false, err
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Subscribe before snapshotting so nothing between the two is lost.
	events, errs := b.Events(sctx)

	snap, err := b.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	s.apply(StateReplaced{State: snap})
	s.status.Set(services.Active(b.Kind().String()))

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				select {
				case err := <-errs:
					if err != nil {
						return true, err
					}
				default:
				}
				return true, errStreamClosed
			}
			s.apply(ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return true, err
			}
		}
	}
}

// Refresh replaces the state with a fresh snapshot. It is a no-op without
// an active backend.
func (s *Service) Refresh(ctx context.Context) error {
	s.mu.RLock()
	phase, b := s.phase, s.backend
	s.mu.RUnlock()
	if phase != PhaseActive || b == nil {
		return nil
	}

	snap, err := b.Snapshot(ctx)
	if err != nil {
		return err
	}
	s.apply(StateReplaced{State: snap})
	return nil
}

func (s *Service) apply(ev Event) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	next := s.state.Update(func(st State) State { return st.Apply(ev) })
	s.activeWorkspace.Set(next.ActiveWorkspaceID)
	s.activeWindow.Set(next.ActiveWindow)
	s.keyboardLayout.Set(next.KeyboardLayout)
}

// Dispatch queues cmd for the worker. While degraded it is a logged no-op.
// FocusWorkspace updates active_workspace immediately and is reverted if
// the compositor rejects it.
func (s *Service) Dispatch(cmd services.Command) error {
	switch cmd.(type) {
	case Command, refresh:
	default:
		return errors.InvalidCommand(ServiceName, fmt.Sprintf("unexpected command %s", cmd.CommandName()))
	}

	if s.Phase() == PhaseDegraded {
		s.logger.WithField("command", cmd.CommandName()).Debug("Compositor unavailable, ignoring command")
		return nil
	}

	q := queued{cmd: cmd}
	if fw, ok := cmd.(FocusWorkspace); ok {
		q.revert = s.focusOptimistically(fw.ID)
	}
	if !s.queue.Push(q) {
		q.undo()
		return nil
	}
	// Detection may have degraded the service since the check above.
	if s.Phase() == PhaseDegraded {
		s.discardPending()
	}
	return nil
}

// discardPending drops queued commands and undoes their optimistic updates.
func (s *Service) discardPending() {
	s.queue.Drain(func(c services.Command) {
		q := c.(queued)
		s.logger.WithField("command", q.CommandName()).Debug("Compositor unavailable, dropping queued command")
		q.undo()
	})
}

func (s *Service) focusOptimistically(id int) func() {
	s.applyMu.Lock()
	s.activeWorkspace.Set(id)
	s.applyMu.Unlock()

	return func() {
		s.applyMu.Lock()
		defer s.applyMu.Unlock()
		truth := s.state.Get().ActiveWorkspaceID
		s.activeWorkspace.Update(func(cur int) int {
			if cur == id {
				return truth
			}
			return cur
		})
	}
}

func (s *Service) handle(ctx context.Context, c services.Command) {
	q := c.(queued)
	log := s.logger.WithField("command", q.CommandName())

	s.mu.RLock()
	phase, b := s.phase, s.backend
	s.mu.RUnlock()
	if phase != PhaseActive || b == nil {
		log.Debug("Compositor unavailable, ignoring command")
		q.undo()
		return
	}

	cctx, cancel := context.WithTimeout(ctx, s.opts.CommandTimeout)
	defer cancel()

	switch cmd := q.cmd.(type) {
	case refresh:
		if err := s.Refresh(cctx); err != nil {
			log.WithError(err).Warn("Compositor refresh failed")
		}

	case Command:
		ack, err := b.Send(cctx, cmd)
		if err != nil {
			q.undo()
			if errors.Is(err, errors.ErrCodeCommandUnsupported) {
				log.WithError(err).Info("Command not supported by compositor")
				return
			}
			log.WithError(err).Warn("Compositor command failed")
			return
		}
		log.WithField("reply", ack.Reply).Debug("Compositor command sent")
		if ack.Window != nil {
			s.apply(WindowFocused{Window: *ack.Window})
		}
	}
}

func (s *Service) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

func (s *Service) degrade(reason string) {
	s.setPhase(PhaseDegraded)
	s.discardPending()
	s.status.Set(services.Degraded(reason))
	s.logger.WithField("reason", reason).Warn("Compositor service degraded")
}

// queued pairs a command with the undo of its optimistic update.
type queued struct {
	cmd    services.Command
	revert func()
}

func (q queued) CommandName() string { return q.cmd.CommandName() }

func (q queued) undo() {
	if q.revert != nil {
		q.revert()
	}
}
