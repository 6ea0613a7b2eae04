package logger

import (
	"fmt"
	"io"
	"log/syslog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Level is a verbosity level on the 0-5 scale used by the -d flag.
// Lower values are more severe; a message is emitted when its level is
// less than or equal to the current threshold.
type Level int

const (
	LevelFatal Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

// DefaultLevel matches the historical default verbosity (warnings and worse).
const DefaultLevel = LevelWarn

func (l Level) String() string {
	switch l {
	case LevelFatal:
		return "FATAL"
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	case LevelTrace:
		return "TRACE"
	default:
		return "UNKNOWN"
	}
}

// zerologLevel maps the verbosity scale onto zerolog severities.
func (l Level) zerologLevel() zerolog.Level {
	switch l {
	case LevelFatal:
		// zerolog.FatalLevel calls os.Exit; FATAL records here only log.
		return zerolog.ErrorLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// Config selects the sink and format of the process logger.
type Config struct {
	// Level is the verbosity threshold (0-5).
	Level Level

	// Format is "text" (human readable) or "json".
	Format string

	// Output is "stderr", "stdout", "syslog" or a file path.
	Output string

	// Ident is the syslog identifier; ignored for other outputs.
	Ident string
}

// severityField carries the 0-5 level name, since FATAL shares zerolog's
// error level.
const severityField = "severity"

type field struct{ key, value string }

var (
	mu           sync.RWMutex
	currentLevel = DefaultLevel
	sink         io.Writer = os.Stderr
	sinkFormat             = "text"
	fields       []field
	base         = newLogger(os.Stderr, "text", nil)
	closer       io.Closer
)

func newLogger(w io.Writer, format string, fields []field) zerolog.Logger {
	if format != "json" {
		w = zerolog.ConsoleWriter{
			Out:           w,
			NoColor:       true,
			TimeFormat:    "2006-01-02 15:04:05",
			PartsOrder:    []string{zerolog.TimestampFieldName, severityField, zerolog.MessageFieldName},
			FieldsExclude: []string{severityField},
		}
	}
	ctx := zerolog.New(w).Level(zerolog.TraceLevel).With().Timestamp()
	for _, f := range fields {
		ctx = ctx.Str(f.key, f.value)
	}
	return ctx.Logger()
}

// Configure replaces the process logger. The previous sink is closed if it
// was a file or syslog connection. Fields added with With are kept.
func Configure(cfg Config) error {
	var (
		w io.Writer
		c io.Closer
	)

	format := strings.ToLower(cfg.Format)

	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	case "syslog":
		ident := cfg.Ident
		if ident == "" {
			ident = "gopherd"
		}
		sw, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, ident)
		if err != nil {
			return fmt.Errorf("open syslog: %w", err)
		}
		w, c = zerolog.SyslogLevelWriter(sw), sw
		// syslog adds its own timestamp and severity
		format = "json"
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", cfg.Output, err)
		}
		w, c = f, f
	}

	mu.Lock()
	defer mu.Unlock()

	if closer != nil {
		_ = closer.Close()
	}
	sink, sinkFormat, closer = w, format, c
	base = newLogger(sink, sinkFormat, fields)
	currentLevel = clamp(cfg.Level)
	return nil
}

// SetOutput points the logger at an arbitrary writer, keeping the level and
// any With fields.
func SetOutput(w io.Writer, format string) {
	mu.Lock()
	defer mu.Unlock()
	sink, sinkFormat = w, strings.ToLower(format)
	base = newLogger(sink, sinkFormat, fields)
}

// With attaches a static field to every subsequent record, e.g. the process
// role. Setting a key again replaces its value.
func With(key, value string) {
	mu.Lock()
	defer mu.Unlock()
	replaced := false
	for i := range fields {
		if fields[i].key == key {
			fields[i].value = value
			replaced = true
		}
	}
	if !replaced {
		fields = append(fields, field{key, value})
	}
	base = newLogger(sink, sinkFormat, fields)
}

func clamp(l Level) Level {
	if l < LevelFatal {
		return LevelFatal
	}
	if l > LevelTrace {
		return LevelTrace
	}
	return l
}

// SetLevel changes the verbosity threshold. Out of range values are clamped.
func SetLevel(level Level) {
	mu.Lock()
	currentLevel = clamp(level)
	mu.Unlock()
}

func threshold() Level {
	mu.RLock()
	defer mu.RUnlock()
	return currentLevel
}

// ParseLevel accepts either a number on the 0-5 scale or a level name.
func ParseLevel(s string) (Level, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n < int(LevelFatal) || n > int(LevelTrace) {
			return 0, fmt.Errorf("log level %d out of range 0-5", n)
		}
		return Level(n), nil
	}

	switch strings.ToUpper(s) {
	case "FATAL":
		return LevelFatal, nil
	case "ERROR":
		return LevelError, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "INFO":
		return LevelInfo, nil
	case "DEBUG":
		return LevelDebug, nil
	case "TRACE":
		return LevelTrace, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// Enabled reports whether a message at level would be emitted.
func Enabled(level Level) bool {
	return level <= threshold()
}

func log(level Level, format string, v ...any) {
	mu.RLock()
	if level > currentLevel {
		mu.RUnlock()
		return
	}
	l := base
	mu.RUnlock()

	l.WithLevel(level.zerologLevel()).
		Str(severityField, level.String()).
		Msg(fmt.Sprintf(format, v...))
}

// Fatal logs an unrecoverable condition. It does not exit; callers decide.
func Fatal(format string, v ...any) {
	log(LevelFatal, format, v...)
}

func Error(format string, v ...any) {
	log(LevelError, format, v...)
}

func Warn(format string, v ...any) {
	log(LevelWarn, format, v...)
}

func Info(format string, v ...any) {
	log(LevelInfo, format, v...)
}

func Debug(format string, v ...any) {
	log(LevelDebug, format, v...)
}

// Trace is for per-event reactor chatter, only useful at -d 5.
func Trace(format string, v ...any) {
	log(LevelTrace, format, v...)
}
