package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
)

// Duration is a time.Duration written as a Go duration string ("250ms",
// "2s") in config files.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// JSONSchema describes Duration as a duration string.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
		Description: "Go duration string, e.g. 250ms or 2s",
	}
}

// CompositorConfig selects the compositor backend and tunes reconnects.
type CompositorConfig struct {
	Backend           string   `yaml:"backend,omitempty" toml:"backend,omitempty" jsonschema:"enum=auto,enum=hyprland,enum=niri,enum=none,description=Backend to use; auto detects from the environment"`
	ReconnectAttempts int      `yaml:"reconnect_attempts,omitempty" toml:"reconnect_attempts,omitempty" jsonschema:"minimum=0,description=Consecutive reconnect attempts before the service degrades"`
	BackoffBase       Duration `yaml:"backoff_base,omitempty" toml:"backoff_base,omitempty" jsonschema:"description=Delay before the first reconnect"`
	BackoffMax        Duration `yaml:"backoff_max,omitempty" toml:"backoff_max,omitempty" jsonschema:"description=Upper bound on the reconnect delay"`
	QueueSize         int      `yaml:"queue_size,omitempty" toml:"queue_size,omitempty" jsonschema:"minimum=0,description=Command queue depth"`
	CommandTimeout    Duration `yaml:"command_timeout,omitempty" toml:"command_timeout,omitempty" jsonschema:"description=Timeout for one command round-trip"`
}

// InstanceConfig tunes the single-instance coordinator.
type InstanceConfig struct {
	SocketPath       string   `yaml:"socket_path,omitempty" toml:"socket_path,omitempty" jsonschema:"description=Launcher request socket (default: runtime dir)"`
	LockPath         string   `yaml:"lock_path,omitempty" toml:"lock_path,omitempty" jsonschema:"description=Instance lock file (default: runtime dir)"`
	DialTimeout      Duration `yaml:"dial_timeout,omitempty" toml:"dial_timeout,omitempty" jsonschema:"description=How long a client waits to reach the primary"`
	ReadTimeout      Duration `yaml:"read_timeout,omitempty" toml:"read_timeout,omitempty" jsonschema:"description=How long the primary waits for a request line"`
	RecoveryAttempts int      `yaml:"recovery_attempts,omitempty" toml:"recovery_attempts,omitempty" jsonschema:"minimum=0,description=Attempts to become primary or reach it before giving up"`
}

// ServerConfig configures the state server.
type ServerConfig struct {
	Enabled    *bool  `yaml:"enabled,omitempty" toml:"enabled,omitempty" jsonschema:"description=Serve the state API (default: true)"`
	SocketPath string `yaml:"socket_path,omitempty" toml:"socket_path,omitempty" jsonschema:"description=State API socket (default: runtime dir)"`
}

// IsEnabled reports whether the state server should run.
func (s ServerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// BrightnessConfig configures the backlight service.
type BrightnessConfig struct {
	Root         string   `yaml:"root,omitempty" toml:"root,omitempty" jsonschema:"description=Backlight class directory (default: /sys/class/backlight)"`
	Device       string   `yaml:"device,omitempty" toml:"device,omitempty" jsonschema:"description=Backlight device name; empty picks the first"`
	PollInterval Duration `yaml:"poll_interval,omitempty" toml:"poll_interval,omitempty" jsonschema:"description=How often the device is reread"`
}

// PowerConfig configures the battery service.
type PowerConfig struct {
	Root         string   `yaml:"root,omitempty" toml:"root,omitempty" jsonschema:"description=Power supply class directory (default: /sys/class/power_supply)"`
	Device       string   `yaml:"device,omitempty" toml:"device,omitempty" jsonschema:"description=Battery name; empty picks the first"`
	PollInterval Duration `yaml:"poll_interval,omitempty" toml:"poll_interval,omitempty" jsonschema:"description=How often the battery is reread"`
}

// Config is the wayshell configuration. Zero durations and counts select
// each service's built-in default.
type Config struct {
	Compositor CompositorConfig `yaml:"compositor,omitempty" toml:"compositor,omitempty" jsonschema:"description=Compositor backend selection and reconnect policy"`
	Instance   InstanceConfig   `yaml:"instance,omitempty" toml:"instance,omitempty" jsonschema:"description=Single-instance coordination"`
	Server     ServerConfig     `yaml:"server,omitempty" toml:"server,omitempty" jsonschema:"description=State API server"`
	Brightness BrightnessConfig `yaml:"brightness,omitempty" toml:"brightness,omitempty" jsonschema:"description=Backlight service"`
	Power      PowerConfig      `yaml:"power,omitempty" toml:"power,omitempty" jsonschema:"description=Battery service"`

	// Extensions captures all other top-level tables, e.g. [logging].
	Extensions map[string]interface{} `yaml:"-" toml:"-" jsonschema:"-"`

	// Path is the file the config was loaded from; empty when only defaults apply.
	Path string `yaml:"-" toml:"-" jsonschema:"-"`
}

// Default returns a config with defaults applied and nothing loaded.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills in values that have no service-level default.
func (c *Config) SetDefaults() {
	if c.Compositor.Backend == "" {
		c.Compositor.Backend = "auto"
	}
	if c.Server.Enabled == nil {
		trueVal := true
		c.Server.Enabled = &trueVal
	}
}

// UnmarshalExtension decodes a specific extension's configuration into the
// provided target struct. The target must be a pointer. A missing key
// leaves target untouched.
//
// Example:
//
//	var logCfg logging.Config
//	err := cfg.UnmarshalExtension("logging", &logCfg)
func (c *Config) UnmarshalExtension(key string, target interface{}) error {
	extensionConfig, ok := c.Extensions[key]
	if !ok {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     target,
		TagName:    "yaml",
		DecodeHook: durationHook,
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(extensionConfig); err != nil {
		return fmt.Errorf("failed to decode extension config for '%s': %w", key, err)
	}

	return nil
}

var durationType = reflect.TypeOf(Duration(0))

// durationHook lets mapstructure read duration strings into Duration and
// time.Duration fields.
func durationHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	switch to {
	case durationType:
		d, err := time.ParseDuration(data.(string))
		return Duration(d), err
	case reflect.TypeOf(time.Duration(0)):
		return time.ParseDuration(data.(string))
	}
	return data, nil
}

// sectionNames returns the top-level keys Config decodes itself.
func sectionNames() map[string]bool {
	names := make(map[string]bool)
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		name := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if name != "" && name != "-" {
			names[name] = true
		}
	}
	return names
}
