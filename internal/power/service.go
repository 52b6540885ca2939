// Package power publishes battery and AC state read from
// /sys/class/power_supply.
package power

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/grovetools/wayshell/errors"
	"github.com/grovetools/wayshell/internal/services"
	"github.com/grovetools/wayshell/internal/sysfs"
	"github.com/grovetools/wayshell/pkg/reactive"
	"github.com/sirupsen/logrus"
)

// ServiceName is the registry name of the power service.
const ServiceName = "power"

// DefaultRoot is the sysfs class directory for power supplies.
const DefaultRoot = "/sys/class/power_supply"

// ChargeState mirrors the kernel's status attribute.
type ChargeState string

const (
	Charging    ChargeState = "charging"
	Discharging ChargeState = "discharging"
	Full        ChargeState = "full"
	NotCharging ChargeState = "not_charging"
	Unknown     ChargeState = "unknown"
)

func parseState(s string) ChargeState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "charging":
		return Charging
	case "discharging":
		return Discharging
	case "full":
		return Full
	case "not charging":
		return NotCharging
	default:
		return Unknown
	}
}

// Battery is one reading of the battery.
type Battery struct {
	Present    bool        `json:"present"`
	Device     string      `json:"device,omitempty"`
	Percentage int         `json:"percentage"`
	State      ChargeState `json:"state"`
	// TimeToEmpty is set while discharging, TimeToFull while charging.
	TimeToEmpty time.Duration `json:"time_to_empty,omitempty"`
	TimeToFull  time.Duration `json:"time_to_full,omitempty"`
	// EnergyRate is the charge or discharge rate in watts.
	EnergyRate float64 `json:"energy_rate,omitempty"`
	OnAC       bool    `json:"on_ac"`
}

// Charging reports whether the battery is taking charge.
func (b Battery) Charging() bool { return b.State == Charging }

// Refresh rereads the power supplies immediately.
type Refresh struct{}

func (Refresh) CommandName() string { return "refresh" }

var decoders = services.Decoders{
	"refresh": services.JSON[Refresh](),
}

// Options configures the power service.
type Options struct {
	Root string
	// Device picks a battery by name; empty means the first one.
	Device       string
	PollInterval time.Duration
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Root:         DefaultRoot,
		PollInterval: 30 * time.Second,
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
	return o
}

// Service polls the battery. It is read-only apart from Refresh.
type Service struct {
	opts   Options
	logger *logrus.Entry
	kick   chan struct{}

	battery *reactive.Cell[Battery]
	status  *reactive.Cell[services.Status]
	fields  map[string]reactive.Observable
}

// NewService creates the power service.
func NewService(opts Options, logger *logrus.Entry) *Service {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Service{
		opts:    opts.withDefaults(),
		logger:  logger,
		kick:    make(chan struct{}, 1),
		battery: reactive.NewCell(Battery{State: Unknown}, reactive.WithEqual(func(a, b Battery) bool { return a == b })),
		status:  services.NewStatusCell(),
	}
	s.fields = map[string]reactive.Observable{
		"battery": reactive.Erase(s.battery),
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

// Battery returns the battery cell.
func (s *Service) Battery() *reactive.Cell[Battery] { return s.battery }

// Dispatch accepts Refresh only.
func (s *Service) Dispatch(cmd services.Command) error {
	if _, ok := cmd.(Refresh); !ok {
		return errors.InvalidCommand(ServiceName, fmt.Sprintf("unexpected command %s", cmd.CommandName()))
	}
	select {
	case s.kick <- struct{}{}:
	default:
	}
	return nil
}

// Run polls until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.scan()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.scan()
		case <-s.kick:
			s.scan()
		}
	}
}

func (s *Service) scan() {
	b, err := Read(s.opts.Root, s.opts.Device)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read power supply")
		s.status.Set(services.Failed(err))
		return
	}
	s.battery.Set(b)
	if !b.Present {
		s.status.Set(services.Unavailable("no battery"))
		return
	}
	s.status.Set(services.Active(b.Device))
}

// Read takes one reading from the power supplies under root. A machine
// without a battery returns Present false and no error.
func Read(root, device string) (Battery, error) {
	supplies, err := sysfs.Devices(root, nil)
	if err != nil {
		return Battery{}, err
	}

	out := Battery{State: Unknown}
	var bat string
	for _, dir := range supplies {
		typ, _ := sysfs.ReadString(dir, "type")
		switch typ {
		case "Mains":
			if online, err := sysfs.ReadInt(dir, "online"); err == nil && online == 1 {
				out.OnAC = true
			}
		case "Battery":
			if present, err := sysfs.ReadInt(dir, "present"); err == nil && present == 0 {
				continue
			}
			if bat == "" && (device == "" || filepath.Base(dir) == device) {
				bat = dir
			}
		}
	}
	if bat == "" {
		return out, nil
	}

	out.Present = true
	out.Device = filepath.Base(bat)
	if status, err := sysfs.ReadString(bat, "status"); err == nil {
		out.State = parseState(status)
	}

	now, full, rate, watts, ok := energy(bat)
	if capacity, err := sysfs.ReadInt(bat, "capacity"); err == nil {
		out.Percentage = int(capacity)
	} else if ok && full > 0 {
		out.Percentage = int(now * 100 / full)
	} else {
		return Battery{}, fmt.Errorf("battery %s reports no capacity: %w", out.Device, err)
	}
	out.Percentage = min(max(out.Percentage, 0), 100)

	if ok && rate > 0 {
		if watts {
			out.EnergyRate = float64(rate) / 1e6
		}
		switch out.State {
		case Discharging:
			out.TimeToEmpty = hours(float64(now) / float64(rate))
		case Charging:
			out.TimeToFull = hours(float64(full-now) / float64(rate))
		}
	}
	return out, nil
}

// energy returns the current and full charge and the rate, in µWh/µW when
// the driver exposes energy_* (watts is true) or in µAh/µA for charge_*
// drivers. The ratio of the two is hours either way.
func energy(dir string) (now, full, rate int64, watts, ok bool) {
	for i, names := range [][3]string{
		{"energy_now", "energy_full", "power_now"},
		{"charge_now", "charge_full", "current_now"},
	} {
		n, err1 := sysfs.ReadInt(dir, names[0])
		f, err2 := sysfs.ReadInt(dir, names[1])
		if err1 != nil || err2 != nil {
			continue
		}
		r, err := sysfs.ReadInt(dir, names[2])
		if err != nil {
			r = 0
		}
		if r < 0 {
			r = -r
		}
		return n, f, r, i == 0, true
	}
	return 0, 0, 0, false, false
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour)).Round(time.Second)
}
