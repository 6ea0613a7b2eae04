package config

import (
	"strings"
	"time"

	"github.com/marmos91/gopherd/internal/logger"
	"github.com/marmos91/gopherd/internal/protocol/gopher"
	"github.com/marmos91/gopherd/internal/reactor"
	gopheradapter "github.com/marmos91/gopherd/pkg/adapter/gopher"
)

// Default values that are not owned by a lower-level package.
const (
	DefaultLogLevel        = "2"
	DefaultShutdownTimeout = 30 * time.Second
	DefaultPidFile         = "/var/run/gopherd.pid"
	DefaultKillTimeout     = 5 * time.Second
	DefaultStartupTimeout  = 5 * time.Second
	DefaultMetricsPort     = 9070
	DefaultBacklog         = 5
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "") are replaced with defaults
//   - Explicit values are preserved
//   - RestartDelay and Metrics.Enabled keep their zero value
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyGopherDefaults(&cfg.Adapters.Gopher)
	applySupervisorDefaults(&cfg.Supervisor)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = DefaultLogLevel
	}
	cfg.Level = strings.ToUpper(strings.TrimSpace(cfg.Level))

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	cfg.Format = strings.ToLower(cfg.Format)

	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// applyGopherDefaults fills the Gopher adapter section. Unlike the adapter
// itself, the configuration defaults Port to the well-known port 70.
func applyGopherDefaults(cfg *gopheradapter.GopherConfig) {
	if cfg.Port == 0 {
		cfg.Port = gopher.DefaultPort
	}
	if cfg.Backlog == 0 {
		cfg.Backlog = DefaultBacklog
	}
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.Hostname == "" {
		cfg.Hostname = gopher.DefaultHost
	}
	if cfg.AdvertisedPort == 0 {
		cfg.AdvertisedPort = gopher.DefaultPort
	}
	if cfg.MaxEvents == 0 {
		cfg.MaxEvents = reactor.DefaultMaxEvents
	}
}

func applySupervisorDefaults(cfg *SupervisorConfig) {
	if cfg.PidFile == "" {
		cfg.PidFile = DefaultPidFile
	}
	if cfg.KillTimeout == 0 {
		cfg.KillTimeout = DefaultKillTimeout
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = DefaultStartupTimeout
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Registering configuration keys for environment overrides
//   - Testing
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// LogLevel returns the configured verbosity as a logger level.
func (c *LoggingConfig) LogLevel() (logger.Level, error) {
	return logger.ParseLevel(c.Level)
}
