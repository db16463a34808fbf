// Package log provides structured, colored logging for the tray engine.
package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Component loggers. They are rebuilt from Logger by Init.
var (
	Wallet    zerolog.Logger
	Organizer zerolog.Logger
	Fetcher   zerolog.Logger
	Workflow  zerolog.Logger
	Session   zerolog.Logger
	Balance   zerolog.Logger
	Exchange  zerolog.Logger
	RPC       zerolog.Logger
	Server    zerolog.Logger
	Storage   zerolog.Logger
	Poll      zerolog.Logger
)

func init() {
	Logger = NewConsoleLogger(os.Stdout, "info")
	initComponentLoggers()
}

// Init configures the global logger. With a file, entries go to both the
// console and the file; the file always receives JSON.
func Init(level string, jsonOutput bool, file string) error {
	var out io.Writer = os.Stdout
	if !jsonOutput {
		out = consoleWriter(os.Stdout)
	}
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		out = zerolog.MultiLevelWriter(out, f)
	}
	Logger = newLogger(out, level)
	initComponentLoggers()
	return nil
}

func consoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
}

// NewConsoleLogger creates a colored console logger.
func NewConsoleLogger(w io.Writer, level string) zerolog.Logger {
	return newLogger(consoleWriter(w), level)
}

// NewJSONLogger creates a structured JSON logger.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	return newLogger(w, level)
}

// parseLevel converts a level name to a zerolog.Level. Unknown names mean
// info.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func initComponentLoggers() {
	Wallet = WithComponent("wallet")
	Organizer = WithComponent("organizer")
	Fetcher = WithComponent("fetcher")
	Workflow = WithComponent("workflow")
	Session = WithComponent("session")
	Balance = WithComponent("balance")
	Exchange = WithComponent("exchange")
	RPC = WithComponent("rpc")
	Server = WithComponent("server")
	Storage = WithComponent("storage")
	Poll = WithComponent("poll")
}

// WithComponent returns a logger with a component field.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithRefresh tags l with a refresh correlation id.
func WithRefresh(l zerolog.Logger, refreshID string) zerolog.Logger {
	return l.With().Str("refresh", refreshID).Logger()
}

// Benchmark returns a func that logs the time elapsed since the call at
// debug level.
func Benchmark(name string) func() {
	start := time.Now()
	return func() {
		Logger.Debug().
			Str("operation", name).
			Dur("duration", time.Since(start)).
			Msg("benchmark")
	}
}
