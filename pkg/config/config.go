package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/marmos91/gopherd/pkg/adapter/gopher"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultConfigPath is read when no -c flag is given. A missing file there is
// not an error.
const DefaultConfigPath = "/etc/gopherd/config.yaml"

// EnvPrefix prefixes every environment override, e.g. GOPHERD_ADAPTERS_GOPHER_PORT.
const EnvPrefix = "GOPHERD"

// Config represents the complete gopherd configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (-d, -p, -s), applied as overrides
//  2. Environment variables (GOPHERD_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Adapters contains protocol adapter configurations
	Adapters AdaptersConfig `mapstructure:"adapters" yaml:"adapters"`

	// Supervisor controls the watchdog and daemon behaviour
	Supervisor SupervisorConfig `mapstructure:"supervisor" yaml:"supervisor"`

	// Metrics controls the worker's Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the verbosity threshold: a number 0-5 (0 FATAL ... 5 TRACE) or
	// a level name. Default: 2 (WARN).
	Level string `mapstructure:"level" validate:"required" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, syslog, or a file path.
	// A daemonized server with stdout/stderr output logs to syslog instead.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time the worker waits for its adapters
	// to stop once shutdown begins
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// User is the account the worker switches to after binding its socket,
	// when started as root. Empty keeps the current identity.
	User string `mapstructure:"user" yaml:"user"`
}

// AdaptersConfig contains all protocol adapter configurations.
type AdaptersConfig struct {
	// Gopher uses the adapter's own config type to avoid duplication.
	Gopher gopher.GopherConfig `mapstructure:"gopher" yaml:"gopher"`
}

// SupervisorConfig controls the watchdog and the daemon wrapper.
type SupervisorConfig struct {
	// PidFile records the supervisor's pid while daemonized; -k reads it.
	PidFile string `mapstructure:"pid_file" validate:"required" yaml:"pid_file"`

	// KillTimeout is how long -k waits for the running server to exit.
	KillTimeout time.Duration `mapstructure:"kill_timeout" validate:"gt=0" yaml:"kill_timeout"`

	// StartupTimeout is how long the launching process waits for a
	// daemonized server to report that it started.
	StartupTimeout time.Duration `mapstructure:"startup_timeout" validate:"gt=0" yaml:"startup_timeout"`

	// RestartDelay is slept before restarting a crashed worker. 0 restarts
	// immediately.
	RestartDelay time.Duration `mapstructure:"restart_delay" validate:"min=0" yaml:"restart_delay"`
}

// MetricsConfig controls the worker's Prometheus endpoint.
type MetricsConfig struct {
	// Enabled starts the HTTP metrics server in the worker
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port of the metrics server
	Port int `mapstructure:"port" validate:"min=0,max=65535" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults, then
// validates it.
//
// Parameters:
//   - configPath: Path to config file (empty string uses DefaultConfigPath)
func Load(configPath string) (*Config, error) {
	return LoadWithOverrides(configPath, nil)
}

// LoadWithOverrides is Load with CLI overrides applied after the file and
// environment but before validation.
func LoadWithOverrides(configPath string, overrides Overrides) (*Config, error) {
	v := viper.New()

	if err := setupViper(v, configPath); err != nil {
		return nil, err
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := ApplyOverrides(&cfg, overrides); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper wires environment variables, the config file location, and
// registers every known key so environment overrides reach nested fields.
func setupViper(v *viper.Viper, configPath string) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath == "" {
		configPath = DefaultConfigPath
	}
	v.SetConfigFile(configPath)

	// AutomaticEnv only consults keys viper already knows about.
	var defaults map[string]any
	if err := mapstructure.Decode(GetDefaultConfig(), &defaults); err != nil {
		return fmt.Errorf("failed to register config keys: %w", err)
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return nil
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}
