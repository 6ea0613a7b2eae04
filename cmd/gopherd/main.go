// Command gopherd is a Gopher (RFC 1436) server.
//
// One binary plays every role. Started from a shell it is the CLI; without
// -f it re-executes itself detached as the daemon. The daemon (or the CLI
// with -f) runs the supervisor, which re-executes the binary again as the
// worker that actually serves connections.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/marmos91/gopherd/internal/daemon"
	"github.com/marmos91/gopherd/internal/logger"
	"github.com/marmos91/gopherd/internal/sigqueue"
	"github.com/marmos91/gopherd/internal/supervisor"
	"github.com/marmos91/gopherd/pkg/config"
	"github.com/marmos91/gopherd/pkg/server"
)

// envDetached marks the daemon child and, through inheritance, its workers.
const envDetached = "GOPHERD_DETACHED"

// Exit codes. A worker never uses supervisor.CrashExitCode on purpose.
const (
	exitOK      = 0
	exitFailure = 1
)

// options are the parsed command line flags.
type options struct {
	configPath  string
	foreground  bool
	kill        bool
	printConfig bool
	overrides   config.Overrides

	// debug is the -d level, or -1 when the flag was not given.
	debug int
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("gopherd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: gopherd [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	opts := &options{overrides: config.Overrides{}, debug: -1}
	debug := fs.Int("d", -1, "debug `level` 0-5 (0 fatal ... 5 trace, default 2)")
	port := fs.Int("p", 0, "`port` to listen on (default 70)")
	root := fs.String("s", "", "`dir` to serve (default .)")
	fs.StringVar(&opts.configPath, "c", config.DefaultConfigPath, "config `file`")
	fs.BoolVar(&opts.foreground, "f", false, "run in foreground")
	fs.BoolVar(&opts.kill, "k", false, "kill running daemon")
	fs.BoolVar(&opts.printConfig, "print-config", false, "print the effective configuration and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	var err error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "d":
			if *debug < 0 || *debug > 5 {
				err = fmt.Errorf("debug level must be 0-5, got %d", *debug)
				return
			}
			opts.debug = *debug
			opts.overrides.Set("logging.level", strconv.Itoa(*debug))
		case "p":
			opts.overrides.Set("adapters.gopher.port", *port)
		case "s":
			opts.overrides.Set("adapters.gopher.root", *root)
		}
	})
	if err != nil {
		return nil, err
	}
	return opts, nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(os.Stderr, "gopherd: %v\n", err)
		return exitFailure
	}

	// -d also governs messages logged before the config is loaded.
	if opts.debug >= 0 {
		logger.SetLevel(logger.Level(opts.debug))
	}

	if spec, ok := supervisor.WorkerFromEnv(); ok {
		return runWorker(opts, spec)
	}

	logger.With("role", "cli")

	// -k needs only the pid file location, so a broken config must not stop it.
	if opts.kill {
		return runKill(opts)
	}

	cfg, err := config.LoadWithOverrides(opts.configPath, opts.overrides)
	if err != nil {
		logger.Error("%v", err)
		return exitFailure
	}
	if err := configureLogger(cfg, false); err != nil {
		logger.Error("%v", err)
		return exitFailure
	}

	if opts.printConfig {
		out, err := config.Marshal(cfg)
		if err != nil {
			logger.Error("%v", err)
			return exitFailure
		}
		_, _ = os.Stdout.Write(out)
		return exitOK
	}

	if pid, err := daemon.ReadPid(cfg.Supervisor.PidFile); err == nil {
		logger.Error("Daemon already running as pid %d", pid)
		return exitFailure
	}

	detached := os.Getenv(envDetached) != ""
	if !opts.foreground && !detached {
		return runDetach(cfg, args)
	}
	return runSupervisor(cfg, args, detached)
}

func runKill(opts *options) int {
	pidFile := config.DefaultPidFile
	timeout := config.DefaultKillTimeout
	if cfg, err := config.LoadWithOverrides(opts.configPath, opts.overrides); err == nil {
		pidFile = cfg.Supervisor.PidFile
		timeout = cfg.Supervisor.KillTimeout
		_ = configureLogger(cfg, false)
	} else {
		logger.Warn("Using default pid file: %v", err)
	}

	if err := daemon.Kill(pidFile, timeout); err != nil {
		logger.Error("Failed to kill daemon: %v", err)
		return exitFailure
	}
	return exitOK
}

// runDetach starts the daemon child and reports its start status.
func runDetach(cfg *config.Config, args []string) int {
	exe, err := os.Executable()
	if err != nil {
		logger.Error("Forking error: %v", err)
		return exitFailure
	}

	cmd := exec.Command(exe, args...)
	cmd.Env = append(os.Environ(), envDetached+"=1")

	if err := daemon.Detach(cmd, cfg.Supervisor.StartupTimeout); err != nil {
		logger.Error("Could not start daemon: %v", err)
		return exitFailure
	}
	return exitOK
}

func runSupervisor(cfg *config.Config, args []string, detached bool) int {
	status := daemon.StatusFromEnv()
	logger.With("role", "supervisor")

	if err := configureLogger(cfg, detached); err != nil {
		logger.Fatal("%v", err)
		_ = status.Report(1)
		return exitFailure
	}

	signals, err := sigqueue.New(sigqueue.Handled...)
	if err != nil {
		logger.Error("Could not set up signal handlers: %v", err)
		_ = status.Report(1)
		return exitFailure
	}
	defer signals.Close()

	if detached {
		pf, err := daemon.CreatePidFile(cfg.Supervisor.PidFile)
		if err != nil {
			logger.Error("Could not create pidfile: %v", err)
			_ = status.Report(2)
			return exitFailure
		}
		defer func() {
			if err := pf.Remove(); err != nil {
				logger.Warn("%v", err)
			}
		}()
	}

	spawner, err := supervisor.NewSelfSpawner(args...)
	if err != nil {
		logger.Error("%v", err)
		_ = status.Report(1)
		return exitFailure
	}

	// Started up to the point that we can rely on the log sink.
	_ = status.Report(daemon.StatusOK)
	logger.Warn("Daemon started")

	sup := supervisor.New(spawner, signals, supervisor.Config{
		RestartDelay: cfg.Supervisor.RestartDelay,
		StopTimeout:  cfg.Server.ShutdownTimeout + cfg.Supervisor.KillTimeout,
	})
	if err := sup.Run(context.Background()); err != nil {
		logger.Fatal("Supervisor stopped: %v", err)
		return exitFailure
	}

	logger.Warn("Daemon exiting gracefully")
	return exitOK
}

// runWorker serves Gopher until a quit signal or a fatal error. It exits 1
// for anything that went wrong before or while serving, so the supervisor
// does not restart it.
func runWorker(opts *options, spec supervisor.WorkerSpec) int {
	logger.With("role", "worker")
	logger.With("worker_id", spec.ID)

	cfg, err := config.LoadWithOverrides(opts.configPath, opts.overrides)
	if err != nil {
		logger.Fatal("%v", err)
		return exitFailure
	}
	if err := configureLogger(cfg, os.Getenv(envDetached) != ""); err != nil {
		logger.Fatal("%v", err)
		return exitFailure
	}

	signals, err := sigqueue.New(sigqueue.Handled...)
	if err != nil {
		logger.Error("Could not set up signal handlers: %v", err)
		return exitFailure
	}
	defer signals.Close()

	metricsResult := config.InitializeMetrics(cfg)
	metricsResult.GopherMetrics.SetWorker(spec.ID, spec.Restarts)

	gopherAdapter, adapters := config.CreateAdapters(cfg, metricsResult)
	gopherAdapter.SetSignalQueue(signals)
	gopherAdapter.SetAfterBind(func() error {
		return daemon.DropPrivileges(cfg.Server.User)
	})

	srv := server.New(cfg.Server.ShutdownTimeout)
	for _, adp := range adapters {
		if err := srv.AddAdapter(adp); err != nil {
			logger.Error("%v", err)
			return exitFailure
		}
	}

	logger.Info("Serving %s on port %d", cfg.Adapters.Gopher.Root, cfg.Adapters.Gopher.Port)
	if err := srv.Serve(context.Background()); err != nil {
		logger.Fatal("Error initializing child process: %v", err)
		return exitFailure
	}
	return exitOK
}

// configureLogger applies the logging section. A detached process has no
// terminal, so console outputs go to syslog instead.
func configureLogger(cfg *config.Config, detached bool) error {
	level, err := cfg.Logging.LogLevel()
	if err != nil {
		return err
	}

	output := cfg.Logging.Output
	if detached && (output == "stdout" || output == "stderr") {
		output = "syslog"
	}

	return logger.Configure(logger.Config{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: output,
		Ident:  "gopherd",
	})
}
