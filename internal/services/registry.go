package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/grovetools/wayshell/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Registry is the single place consumers look services up. It is built at
// startup, frozen, and read-only afterwards, so lookups take no locks.
type Registry struct {
	services map[string]Service
	order    []string
	frozen   atomic.Bool
	logger   *logrus.Entry
}

// Info describes one registered service.
type Info struct {
	Name     string   `json:"name"`
	Fields   []string `json:"fields"`
	Commands []string `json:"commands,omitempty"`
	Status   *Status  `json:"status,omitempty"`
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logrus.Entry) *Registry {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{
		services: make(map[string]Service),
		logger:   logger,
	}
}

// Register adds a service. It panics after Freeze or on a duplicate name;
// both are programming errors in startup wiring.
func (r *Registry) Register(svc Service) {
	if r.frozen.Load() {
		panic(fmt.Sprintf("services: Register(%q) after Freeze", svc.Name()))
	}
	if _, dup := r.services[svc.Name()]; dup {
		panic(fmt.Sprintf("services: duplicate service %q", svc.Name()))
	}
	r.services[svc.Name()] = svc
	r.order = append(r.order, svc.Name())
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.frozen.Store(true)
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Service returns the named service.
func (r *Registry) Service(name string) (Service, error) {
	svc, ok := r.services[name]
	if !ok {
		return nil, errors.UnknownService(name)
	}
	return svc, nil
}

// Get returns a snapshot of one field.
func (r *Registry) Get(service, field string) (any, error) {
	svc, err := r.Service(service)
	if err != nil {
		return nil, err
	}
	obs, ok := svc.Fields()[field]
	if !ok {
		return nil, errors.UnknownField(service, field)
	}
	return obs.Value(), nil
}

// Subscribe watches one field. The channel starts with the current value
// and is closed when ctx is done or the returned stop function is called.
func (r *Registry) Subscribe(ctx context.Context, service, field string) (<-chan any, func(), error) {
	svc, err := r.Service(service)
	if err != nil {
		return nil, nil, err
	}
	obs, ok := svc.Fields()[field]
	if !ok {
		return nil, nil, errors.UnknownField(service, field)
	}
	ch, stop := obs.Watch(ctx)
	return ch, stop, nil
}

// Dispatch sends cmd to the named service.
func (r *Registry) Dispatch(service string, cmd Command) error {
	svc, err := r.Service(service)
	if err != nil {
		return err
	}
	r.logger.WithFields(logrus.Fields{
		"service": service,
		"command": cmd.CommandName(),
	}).Debug("Dispatching command")
	return svc.Dispatch(cmd)
}

// DispatchJSON decodes a wire command and dispatches it.
func (r *Registry) DispatchJSON(service, name string, args json.RawMessage) error {
	svc, err := r.Service(service)
	if err != nil {
		return err
	}
	cmd, err := svc.DecodeCommand(name, args)
	if err != nil {
		return err
	}
	return r.Dispatch(service, cmd)
}

// Services describes every registered service in registration order.
func (r *Registry) Services() []Info {
	infos := make([]Info, 0, len(r.order))
	for _, name := range r.order {
		svc := r.services[name]
		info := Info{Name: name}
		for field, obs := range svc.Fields() {
			info.Fields = append(info.Fields, field)
			if field == "status" {
				if st, ok := obs.Value().(Status); ok {
					info.Status = &st
				}
			}
		}
		sort.Strings(info.Fields)
		if lister, ok := svc.(interface{ CommandNames() []string }); ok {
			info.Commands = lister.CommandNames()
			sort.Strings(info.Commands)
		}
		infos = append(infos, info)
	}
	return infos
}

// Run freezes the registry and runs every service until ctx is done. A
// service whose Run fails is logged; the others keep running. The first
// failure is returned once all services have stopped.
func (r *Registry) Run(ctx context.Context) error {
	r.Freeze()

	var g errgroup.Group
	for _, name := range r.order {
		svc := r.services[name]
		g.Go(func() error {
			log := r.logger.WithField("service", svc.Name())
			log.Info("Starting service")
			if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).Error("Service failed")
				return fmt.Errorf("service %s: %w", svc.Name(), err)
			}
			log.Debug("Service stopped")
			return nil
		})
	}
	return g.Wait()
}
