package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/grovetools/wayshell/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tomlConfig = `
[compositor]
backend = "niri"
reconnect_attempts = 3
backoff_base = "100ms"
backoff_max = "2s"

[instance]
dial_timeout = "300ms"

[server]
enabled = false

[brightness]
device = "intel_backlight"
poll_interval = "5s"

[logging]
level = "debug"
report_caller = true
`

const yamlConfig = `
compositor:
  backend: hyprland
power:
  poll_interval: 1m
logging:
  level: warn
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadTOML(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(tomlConfig), FormatTOML)
	require.NoError(t, err)

	assert.Equal(t, "niri", cfg.Compositor.Backend)
	assert.Equal(t, 3, cfg.Compositor.ReconnectAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Compositor.BackoffBase.Std())
	assert.Equal(t, 2*time.Second, cfg.Compositor.BackoffMax.Std())
	assert.Equal(t, 300*time.Millisecond, cfg.Instance.DialTimeout.Std())
	assert.False(t, cfg.Server.IsEnabled())
	assert.Equal(t, "intel_backlight", cfg.Brightness.Device)
	assert.Equal(t, 5*time.Second, cfg.Brightness.PollInterval.Std())
	assert.Contains(t, cfg.Extensions, "logging")
}

func TestLoadYAMLDefaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(yamlConfig), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "hyprland", cfg.Compositor.Backend)
	assert.Equal(t, time.Minute, cfg.Power.PollInterval.Std())
	assert.True(t, cfg.Server.IsEnabled(), "server enabled by default")
	assert.Zero(t, cfg.Compositor.ReconnectAttempts)
}

func TestUnmarshalExtension(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(tomlConfig), FormatTOML)
	require.NoError(t, err)

	type loggingConfig struct {
		Level        string `yaml:"level"`
		ReportCaller bool   `yaml:"report_caller"`
	}
	var logCfg loggingConfig
	require.NoError(t, cfg.UnmarshalExtension("logging", &logCfg))
	assert.Equal(t, "debug", logCfg.Level)
	assert.True(t, logCfg.ReportCaller)

	// Missing extensions leave the target untouched.
	other := loggingConfig{Level: "info"}
	require.NoError(t, cfg.UnmarshalExtension("bar", &other))
	assert.Equal(t, "info", other.Level)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format Format
	}{
		{"unknown backend", "[compositor]\nbackend = \"sway\"\n", FormatTOML},
		{"unknown key in section", "[compositor]\nbakend = \"niri\"\n", FormatTOML},
		{"bad duration", "[compositor]\nbackoff_base = \"soon\"\n", FormatTOML},
		{"negative attempts", "compositor:\n  reconnect_attempts: -1\n", FormatYAML},
		{"backoff inverted", "[compositor]\nbackoff_base = \"2s\"\nbackoff_max = \"1s\"\n", FormatTOML},
		{"relative socket", "[server]\nsocket_path = \"state.sock\"\n", FormatTOML},
		{"same socket twice", "[server]\nsocket_path = \"/run/x.sock\"\n[instance]\nsocket_path = \"/run/x.sock\"\n", FormatTOML},
		{"syntax", "[compositor\n", FormatTOML},
		{"yaml syntax", "compositor: [", FormatYAML},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.data), tt.format)
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetCode(err))
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("WAYSHELL_TEST_DEVICE", "amdgpu_bl0")
	data := "[brightness]\ndevice = \"${WAYSHELL_TEST_DEVICE}\"\n[power]\ndevice = \"${WAYSHELL_TEST_UNSET:-BAT1}\"\n"

	cfg, err := LoadFromBytes([]byte(data), FormatTOML)
	require.NoError(t, err)
	assert.Equal(t, "amdgpu_bl0", cfg.Brightness.Device)
	assert.Equal(t, "BAT1", cfg.Power.Device)
}

func TestLoadDir(t *testing.T) {
	t.Run("no file yields defaults", func(t *testing.T) {
		cfg, err := LoadDir(t.TempDir(), nil)
		require.NoError(t, err)
		assert.Equal(t, "auto", cfg.Compositor.Backend)
		assert.Empty(t, cfg.Path)
	})

	t.Run("toml preferred over yaml", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "config.yml", yamlConfig)
		path := writeFile(t, dir, "config.toml", tomlConfig)

		cfg, err := LoadDir(dir, nil)
		require.NoError(t, err)
		assert.Equal(t, path, cfg.Path)
		assert.Equal(t, "niri", cfg.Compositor.Backend)
	})

	t.Run("env overlay feeds expansion", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("WAYSHELL_TEST_BAT", "")
		os.Unsetenv("WAYSHELL_TEST_BAT")
		writeFile(t, dir, EnvFileName, "WAYSHELL_TEST_BAT=BAT7\n")
		writeFile(t, dir, "config.toml", "[power]\ndevice = \"${WAYSHELL_TEST_BAT}\"\n")

		cfg, err := LoadDir(dir, nil)
		require.NoError(t, err)
		assert.Equal(t, "BAT7", cfg.Power.Device)
	})

	t.Run("backend env overrides file", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "config.toml", tomlConfig)
		t.Setenv(BackendEnv, "none")

		cfg, err := LoadDir(dir, nil)
		require.NoError(t, err)
		assert.Equal(t, "none", cfg.Compositor.Backend)
	})

	t.Run("invalid backend env", func(t *testing.T) {
		t.Setenv(BackendEnv, "weston")
		_, err := LoadDir(t.TempDir(), nil)
		assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetCode(err))
	})
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	assert.Equal(t, errors.ErrCodeConfigNotFound, errors.GetCode(err))

	_, err = Load("config.json")
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetCode(err))
}

func TestGenerateSchema(t *testing.T) {
	data, err := GenerateSchema()
	require.NoError(t, err)

	var schema map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &schema))

	props, ok := schema["properties"].(map[string]interface{})
	require.True(t, ok)
	for _, section := range []string{"compositor", "instance", "server", "brightness", "power"} {
		assert.Contains(t, props, section)
	}
	assert.NotContains(t, props, "Extensions")
	assert.Equal(t, true, schema["additionalProperties"])
	assert.Empty(t, schema["required"])
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.toml", "[compositor]\nbackend = \"niri\"\n")
	initial, err := LoadDir(dir, nil)
	require.NoError(t, err)

	w, err := NewWatcher(dir, initial, 20*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	writeFile(t, dir, "config.toml", "[compositor]\nbackend = \"hyprland\"\n")
	require.Eventually(t, func() bool {
		return w.Config().Get().Compositor.Backend == "hyprland"
	}, 3*time.Second, 10*time.Millisecond)

	// A broken file keeps the last good config.
	writeFile(t, dir, "config.toml", "[compositor]\nbackend = \"sway\"\n")
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, "hyprland", w.Config().Get().Compositor.Backend)

	// Unrelated files are ignored.
	before := w.Config().Get()
	writeFile(t, dir, "notes.txt", "hello")
	time.Sleep(100 * time.Millisecond)
	assert.Same(t, before, w.Config().Get())
}

func TestSchemaViolationsNameLocation(t *testing.T) {
	_, err := LoadFromBytes([]byte("[brightness]\npoll_interval = \"often\"\n"), FormatTOML)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/brightness/poll_interval")
}
