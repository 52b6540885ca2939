package logging

// Format presets.
const (
	PresetDefault = "default"
	PresetSimple  = "simple"
	PresetJSON    = "json"
)

// Config is the [logging] table. It lives outside the core config sections
// and is decoded with config.Config.UnmarshalExtension.
type Config struct {
	// Level is a logrus level name. WAYSHELL_LOG_LEVEL takes precedence.
	Level string `yaml:"level" jsonschema:"enum=trace,enum=debug,enum=info,enum=warn,enum=warning,enum=error,description=Minimum level to log"`

	// ReportCaller adds file:line and function to each entry.
	ReportCaller bool `yaml:"report_caller" jsonschema:"description=Include the caller in each entry"`

	File   FileSinkConfig `yaml:"file" jsonschema:"description=Shared log file"`
	Format FormatConfig   `yaml:"format" jsonschema:"description=Output appearance"`
}

// FileSinkConfig controls the shared log file all components append to.
type FileSinkConfig struct {
	Disabled bool   `yaml:"disabled" jsonschema:"description=Do not write the log file"`
	Path     string `yaml:"path" jsonschema:"description=Log file path; ~ is expanded (default: <state dir>/logs/wayshell-<date>.log)"`
}

// FormatConfig controls how entries are rendered.
type FormatConfig struct {
	Preset string `yaml:"preset" jsonschema:"enum=default,enum=simple,enum=json,description=Output preset"`

	// DisableTimestamp and DisableComponent only affect the text presets.
	DisableTimestamp bool `yaml:"disable_timestamp" jsonschema:"description=Omit timestamps from text output"`
	DisableComponent bool `yaml:"disable_component" jsonschema:"description=Omit the component tag from text output"`

	// StructuredToStderr is auto, always or never. Auto writes to stderr
	// at debug level or when stderr is not a terminal.
	StructuredToStderr string `yaml:"structured_to_stderr" jsonschema:"enum=auto,enum=always,enum=never,description=When entries are copied to stderr"`
}
