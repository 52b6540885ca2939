// Package services defines the uniform surface every wayshell service
// exposes: named reactive fields, a command dispatcher, and a background
// task. Consumers reach services only through a Registry.
package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/grovetools/wayshell/errors"
	"github.com/grovetools/wayshell/pkg/reactive"
)

// Command is an action addressed to one service. Each service defines its
// own closed set of command structs.
type Command interface {
	// CommandName returns the wire name of the command, e.g. "focus_workspace".
	CommandName() string
}

// Service is a long-lived owner of cells and external connections.
type Service interface {
	// Name returns the service's registry name.
	Name() string

	// Fields returns the service's observable fields keyed by name. The map
	// must not change after the service is registered.
	Fields() map[string]reactive.Observable

	// Dispatch requests an action. It must not block on the external system;
	// failures are logged and reflected in cells, not returned, unless the
	// command itself is invalid for this service.
	Dispatch(cmd Command) error

	// DecodeCommand builds a command from its wire name and JSON arguments.
	DecodeCommand(name string, args json.RawMessage) (Command, error)

	// Run starts the service's background work. It blocks until ctx is done.
	Run(ctx context.Context) error
}

// Decoder builds one command from raw JSON arguments.
type Decoder func(args json.RawMessage) (Command, error)

// Decoders maps wire command names to decoders.
type Decoders map[string]Decoder

// Decode looks up name and decodes args with it.
func (d Decoders) Decode(service, name string, args json.RawMessage) (Command, error) {
	dec, ok := d[name]
	if !ok {
		return nil, errors.InvalidCommand(service, fmt.Sprintf("unknown command %q", name))
	}
	cmd, err := dec(args)
	if err != nil {
		return nil, errors.InvalidCommand(service, err.Error()).WithDetail("command", name)
	}
	return cmd, nil
}

// Names returns the command names known to d.
func (d Decoders) Names() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	return names
}

// JSON returns a Decoder that unmarshals args into a fresh C. Empty args
// decode to the zero value.
func JSON[C Command]() Decoder {
	return func(args json.RawMessage) (Command, error) {
		var cmd C
		if len(args) == 0 || string(args) == "null" {
			return cmd, nil
		}
		if err := json.Unmarshal(args, &cmd); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		return cmd, nil
	}
}
