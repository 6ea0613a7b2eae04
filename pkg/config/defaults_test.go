package config

import (
	"testing"
	"time"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "2" {
		t.Errorf("Expected default log level '2', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stderr" {
		t.Errorf("Expected default log output 'stderr', got %q", cfg.Logging.Output)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.User != "" {
		t.Errorf("Expected no default user, got %q", cfg.Server.User)
	}

	g := cfg.Adapters.Gopher
	if g.Port != 70 || g.AdvertisedPort != 70 {
		t.Errorf("Expected ports 70/70, got %d/%d", g.Port, g.AdvertisedPort)
	}
	if g.Backlog != 5 {
		t.Errorf("Expected default backlog 5, got %d", g.Backlog)
	}
	if g.Root != "." {
		t.Errorf("Expected default root '.', got %q", g.Root)
	}
	if g.Hostname != "localhost" {
		t.Errorf("Expected default hostname 'localhost', got %q", g.Hostname)
	}
	if g.MaxEvents != 128 {
		t.Errorf("Expected default max events 128, got %d", g.MaxEvents)
	}

	s := cfg.Supervisor
	if s.PidFile != "/var/run/gopherd.pid" {
		t.Errorf("Expected default pid file, got %q", s.PidFile)
	}
	if s.KillTimeout != 5*time.Second || s.StartupTimeout != 5*time.Second {
		t.Errorf("Expected 5s kill/startup timeouts, got %v/%v", s.KillTimeout, s.StartupTimeout)
	}
	if s.RestartDelay != 0 {
		t.Errorf("Expected immediate restart by default, got %v", s.RestartDelay)
	}

	if cfg.Metrics.Enabled {
		t.Error("Expected metrics disabled by default")
	}
	if cfg.Metrics.Port != 9070 {
		t.Errorf("Expected default metrics port 9070, got %d", cfg.Metrics.Port)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{Level: " debug ", Format: "JSON", Output: "/tmp/gopherd.log"},
		Server:  ServerConfig{ShutdownTimeout: time.Second, User: "nobody"},
		Supervisor: SupervisorConfig{
			PidFile:      "/run/g.pid",
			RestartDelay: time.Second,
		},
		Metrics: MetricsConfig{Enabled: true, Port: 9999},
	}
	cfg.Adapters.Gopher.Port = 7070
	cfg.Adapters.Gopher.Root = "/srv/gopher"

	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected normalized format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "/tmp/gopherd.log" {
		t.Errorf("Expected output preserved, got %q", cfg.Logging.Output)
	}
	if cfg.Server.ShutdownTimeout != time.Second || cfg.Server.User != "nobody" {
		t.Errorf("Expected server section preserved, got %+v", cfg.Server)
	}
	if cfg.Adapters.Gopher.Port != 7070 || cfg.Adapters.Gopher.Root != "/srv/gopher" {
		t.Errorf("Expected gopher section preserved, got %+v", cfg.Adapters.Gopher)
	}
	if cfg.Supervisor.PidFile != "/run/g.pid" || cfg.Supervisor.RestartDelay != time.Second {
		t.Errorf("Expected supervisor section preserved, got %+v", cfg.Supervisor)
	}
	if cfg.Metrics.Port != 9999 {
		t.Errorf("Expected metrics port preserved, got %d", cfg.Metrics.Port)
	}
}

func TestLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	level, err := cfg.Logging.LogLevel()
	if err != nil {
		t.Fatalf("LogLevel failed: %v", err)
	}
	if int(level) != 2 {
		t.Errorf("Expected level 2, got %d", level)
	}
}
