// Package brightness exposes the screen backlight as a service backed by
// /sys/class/backlight.
package brightness

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/grovetools/wayshell/errors"
	"github.com/grovetools/wayshell/internal/services"
	"github.com/grovetools/wayshell/internal/sysfs"
	"github.com/grovetools/wayshell/pkg/reactive"
	"github.com/sirupsen/logrus"
)

// ServiceName is the registry name of the brightness service.
const ServiceName = "brightness"

// DefaultRoot is the sysfs class directory for backlights.
const DefaultRoot = "/sys/class/backlight"

// Level is the backlight reading.
type Level struct {
	Current int64  `json:"current"`
	Max     int64  `json:"max"`
	Device  string `json:"device,omitempty"`
}

// Percent returns Current as a rounded percentage of Max.
func (l Level) Percent() int {
	if l.Max <= 0 {
		return 0
	}
	return int(math.Round(float64(l.Current) / float64(l.Max) * 100))
}

// FromPercent converts a percentage to a raw value, clamped to [0, maxValue].
func FromPercent(percent int, maxValue int64) int64 {
	percent = min(max(percent, 0), 100)
	return int64(math.Round(float64(maxValue) * float64(percent) / 100))
}

// Command is a brightness request.
type Command interface {
	services.Command
	brightnessCommand()
}

// Set sets the raw brightness value.
type Set struct {
	Value int64 `json:"value"`
}

// SetPercent sets brightness as a percentage of the maximum.
type SetPercent struct {
	Percent int `json:"percent"`
}

// Increase raises brightness by Percent points.
type Increase struct {
	Percent int `json:"percent"`
}

// Decrease lowers brightness by Percent points.
type Decrease struct {
	Percent int `json:"percent"`
}

// Refresh rereads the device.
type Refresh struct{}

func (Set) CommandName() string        { return "set" }
func (SetPercent) CommandName() string { return "set_percent" }
func (Increase) CommandName() string   { return "increase" }
func (Decrease) CommandName() string   { return "decrease" }
func (Refresh) CommandName() string    { return "refresh" }

func (Set) brightnessCommand()        {}
func (SetPercent) brightnessCommand() {}
func (Increase) brightnessCommand()   {}
func (Decrease) brightnessCommand()   {}
func (Refresh) brightnessCommand()    {}

var decoders = services.Decoders{
	"set":         services.JSON[Set](),
	"set_percent": services.JSON[SetPercent](),
	"increase":    services.JSON[Increase](),
	"decrease":    services.JSON[Decrease](),
	"refresh":     services.JSON[Refresh](),
}

// Options configures the brightness service.
type Options struct {
	// Root is the backlight class directory.
	Root string
	// Device picks a backlight by name; empty means the first one.
	Device       string
	PollInterval time.Duration
	QueueSize    int
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Root:         DefaultRoot,
		PollInterval: 2 * time.Second,
		QueueSize:    services.DefaultQueueSize,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Root == "" {
		o.Root = d.Root
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.QueueSize <= 0 {
		o.QueueSize = d.QueueSize
	}
	return o
}

// Service polls one backlight and applies brightness commands to it.
type Service struct {
	opts   Options
	logger *logrus.Entry
	queue  *services.Queue

	mu  sync.RWMutex
	dir string

	level   *reactive.Cell[Level]
	percent *reactive.Cell[int]
	status  *reactive.Cell[services.Status]
	fields  map[string]reactive.Observable
}

// NewService creates the brightness service.
func NewService(opts Options, logger *logrus.Entry) *Service {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Service{
		opts:    opts.withDefaults(),
		logger:  logger,
		level:   reactive.NewCell(Level{}, reactive.WithEqual(func(a, b Level) bool { return a == b })),
		percent: reactive.NewCell(0, reactive.WithEqual(func(a, b int) bool { return a == b })),
		status:  services.NewStatusCell(),
	}
	s.queue = services.NewQueue(s.opts.QueueSize, logger)
	s.fields = map[string]reactive.Observable{
		"level":   reactive.Erase(s.level),
		"percent": reactive.Erase(s.percent),
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

// Level returns the level cell.
func (s *Service) Level() *reactive.Cell[Level] { return s.level }

// Status returns the status cell.
func (s *Service) Status() *reactive.Cell[services.Status] { return s.status }

// Run finds the device, then polls it and serves commands until ctx is done.
// A machine without a backlight leaves the service Unavailable.
func (s *Service) Run(ctx context.Context) error {
	dir, err := s.findDevice()
	if err != nil {
		s.logger.WithError(err).Info("No backlight device, brightness unavailable")
		s.status.Set(services.Unavailable(err.Error()))
		<-ctx.Done()
		return nil
	}
	s.mu.Lock()
	s.dir = dir
	s.mu.Unlock()
	s.logger.WithField("device", filepath.Base(dir)).Info("Using backlight device")

	s.poll()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.queue.Run(ctx, s.handle)
	}()
	defer wg.Wait()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *Service) findDevice() (string, error) {
	if s.opts.Device != "" {
		dir := filepath.Join(s.opts.Root, s.opts.Device)
		if _, err := sysfs.ReadInt(dir, "max_brightness"); err != nil {
			return "", fmt.Errorf("backlight %s: %w", s.opts.Device, err)
		}
		return dir, nil
	}
	devices, err := sysfs.Devices(s.opts.Root, func(dir string) bool {
		_, err := sysfs.ReadInt(dir, "max_brightness")
		return err == nil
	})
	if err != nil {
		return "", err
	}
	if len(devices) == 0 {
		return "", fmt.Errorf("no backlight devices in %s", s.opts.Root)
	}
	return devices[0], nil
}

func (s *Service) device() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dir
}

func read(dir string) (Level, error) {
	maxv, err := sysfs.ReadInt(dir, "max_brightness")
	if err != nil {
		return Level{}, err
	}
	cur, err := sysfs.ReadInt(dir, "actual_brightness")
	if err != nil {
		// Some drivers only expose brightness.
		if cur, err = sysfs.ReadInt(dir, "brightness"); err != nil {
			return Level{}, err
		}
	}
	return Level{Current: cur, Max: maxv, Device: filepath.Base(dir)}, nil
}

func (s *Service) poll() {
	dir := s.device()
	if dir == "" {
		return
	}
	lvl, err := read(dir)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read backlight")
		s.status.Set(services.Failed(err))
		return
	}
	s.publish(lvl)
	s.status.Set(services.Active(lvl.Device))
}

func (s *Service) publish(lvl Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level.Set(lvl)
	s.percent.Set(lvl.Percent())
}

// target computes the raw value cmd asks for, given the current level.
func target(cur Level, cmd Command) (int64, bool) {
	switch c := cmd.(type) {
	case Set:
		return min(max(c.Value, 0), cur.Max), true
	case SetPercent:
		return FromPercent(c.Percent, cur.Max), true
	case Increase:
		return FromPercent(cur.Percent()+c.Percent, cur.Max), true
	case Decrease:
		return FromPercent(cur.Percent()-c.Percent, cur.Max), true
	}
	return 0, false
}

// Dispatch applies the new level to the cells at once and queues the
// device write; a failed write restores the previous level.
func (s *Service) Dispatch(cmd services.Command) error {
	c, ok := cmd.(Command)
	if !ok {
		return errors.InvalidCommand(ServiceName, fmt.Sprintf("unexpected command %s", cmd.CommandName()))
	}
	if s.device() == "" {
		s.logger.WithField("command", c.CommandName()).Debug("No backlight, ignoring command")
		return nil
	}

	q := queued{cmd: c}
	prev := s.level.Get()
	if v, ok := target(prev, c); ok {
		next := prev
		next.Current = v
		q.value = v
		s.publish(next)
		q.revert = func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.level.Get() == next {
				s.level.Set(prev)
				s.percent.Set(prev.Percent())
			}
		}
	}
	if !s.queue.Push(q) && q.revert != nil {
		q.revert()
	}
	return nil
}

type queued struct {
	cmd    Command
	value  int64
	revert func()
}

func (q queued) CommandName() string { return q.cmd.CommandName() }

func (s *Service) handle(_ context.Context, c services.Command) {
	q := c.(queued)
	if _, ok := q.cmd.(Refresh); ok {
		s.poll()
		return
	}

	dir := s.device()
	if err := sysfs.WriteInt(dir, "brightness", q.value); err != nil {
		s.logger.WithError(err).WithField("command", q.CommandName()).Warn("Failed to set brightness")
		if q.revert != nil {
			q.revert()
		}
		return
	}
	s.logger.WithField("value", q.value).Debug("Brightness set")
}
