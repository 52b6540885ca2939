package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/grovetools/wayshell/errors"
	"github.com/grovetools/wayshell/pkg/paths"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Format is a config file syntax.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// EnvFileName is the dotenv overlay read from the config directory before
// the config file is expanded.
const EnvFileName = "env"

// BackendEnv overrides compositor.backend.
const BackendEnv = "WAYSHELL_BACKEND"

// configNames lists the files looked for in the config directory, in order.
var configNames = []string{"config.toml", "config.yml", "config.yaml"}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// FormatOf returns the format implied by path's extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML, nil
	case ".yml", ".yaml":
		return FormatYAML, nil
	default:
		return "", errors.ConfigInvalid(fmt.Sprintf("unsupported config file type %q", filepath.Ext(path))).
			WithDetail("path", path)
	}
}

// Load reads and parses one config file.
func Load(path string) (*Config, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigNotFound(path)
		}
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to read config file").
			WithDetail("path", path)
	}

	cfg, err := LoadFromBytes(data, format)
	if err != nil {
		if shellErr, ok := err.(*errors.ShellError); ok {
			shellErr.WithDetail("path", path)
		}
		return nil, err
	}
	cfg.Path = path
	return cfg, nil
}

// LoadDefault loads the config from the wayshell config directory.
func LoadDefault() (*Config, error) {
	return LoadDir(paths.ConfigDir(), nil)
}

// LoadDir applies the env overlay in dir, then loads the first config file
// found there. A directory without a config file yields the defaults.
func LoadDir(dir string, logger *logrus.Entry) (*Config, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	if err := LoadEnvFile(dir); err != nil {
		logger.WithError(err).Warn("Failed to read env overlay, continuing without it")
	}

	path, err := FindConfigFile(dir)
	if err != nil {
		if errors.Is(err, errors.ErrCodeConfigNotFound) {
			logger.WithField("dir", dir).Debug("No config file, using defaults")
			cfg := Default()
			return cfg, applyEnv(cfg)
		}
		return nil, err
	}

	logger.WithField("path", path).Debug("Loading configuration")
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromBytes parses, validates and decodes configuration data.
func LoadFromBytes(data []byte, format Format) (*Config, error) {
	expanded := expandEnvVars(string(data))

	raw := make(map[string]interface{})
	switch format {
	case FormatTOML:
		if err := toml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse TOML configuration")
		}
	case FormatYAML:
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to parse YAML configuration")
		}
	default:
		return nil, errors.ConfigInvalid(fmt.Sprintf("unsupported format %q", format))
	}

	if err := validateRaw(raw); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "schema validation failed")
	}

	cfg, err := decode(raw)
	if err != nil {
		return nil, err
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode splits raw into known sections and extensions and decodes the
// sections into a Config.
func decode(raw map[string]interface{}) (*Config, error) {
	known := sectionNames()
	sections := make(map[string]interface{})
	cfg := &Config{}
	for key, value := range raw {
		if known[key] {
			sections[key] = value
			continue
		}
		if cfg.Extensions == nil {
			cfg.Extensions = make(map[string]interface{})
		}
		cfg.Extensions[key] = value
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      cfg,
		TagName:     "yaml",
		DecodeHook:  durationHook,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}
	if err := decoder.Decode(sections); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to decode configuration")
	}
	return cfg, nil
}

// FindConfigFile returns the first config file present in dir.
func FindConfigFile(dir string) (string, error) {
	for _, name := range configNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", errors.ConfigNotFound(dir).WithDetail("searched", configNames)
}

// LoadEnvFile loads dir/env into the process environment. Variables that
// are already set win. A missing file is not an error.
func LoadEnvFile(dir string) error {
	path := filepath.Join(dir, EnvFileName)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// applyEnv applies environment overrides and revalidates.
func applyEnv(cfg *Config) error {
	if backend := os.Getenv(BackendEnv); backend != "" {
		cfg.Compositor.Backend = backend
	}
	return cfg.Validate()
}

// expandEnvVars substitutes ${VAR} and ${VAR:-fallback}. Unset or empty
// variables expand to the fallback, or to nothing.
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(ref string) string {
		expr := envVarRegex.FindStringSubmatch(ref)[1]
		name, fallback, _ := strings.Cut(expr, ":-")
		if v := os.Getenv(name); v != "" {
			return v
		}
		return fallback
	})
}
