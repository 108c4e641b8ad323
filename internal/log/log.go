// Package log provides structured, colored logging for the stealth wallet
// daemon, the relay and the funder.
package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process-wide root logger. Call Init before deriving
// component loggers from it.
var Logger zerolog.Logger

// Component loggers, rebuilt by every Init.
var (
	Registry zerolog.Logger
	Pairing  zerolog.Logger
	Relay    zerolog.Logger
	Approval zerolog.Logger
	Funding  zerolog.Logger
	RPC      zerolog.Logger
)

const consoleTime = "15:04:05"

func init() {
	setRoot(newLogger(console(os.Stdout), "info"))
}

// Init configures the root logger. Console output is colored unless
// jsonOutput is set. A non-empty file additionally receives every entry as
// JSON.
func Init(level string, jsonOutput bool, file string) error {
	var out io.Writer = os.Stdout
	if !jsonOutput {
		out = console(os.Stdout)
	}
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		out = zerolog.MultiLevelWriter(out, f)
	}
	setRoot(newLogger(out, level))
	return nil
}

// NewConsoleLogger returns a colored logger writing to w. Tests use it to
// capture output.
func NewConsoleLogger(w io.Writer, level string) zerolog.Logger {
	return newLogger(console(w), level)
}

func console(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTime}
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
}

// parseLevel maps the config names onto zerolog levels. Unknown names
// mean info.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
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

func setRoot(l zerolog.Logger) {
	Logger = l
	Registry = WithComponent("registry")
	Pairing = WithComponent("pairing")
	Relay = WithComponent("relay")
	Approval = WithComponent("approval")
	Funding = WithComponent("funding")
	RPC = WithComponent("rpc")
}

// WithComponent returns a logger with a component field.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithTopic tags a component logger with the first 12 characters of a
// relay topic. It returns a pointer so call sites can log in one chain.
func WithTopic(component, topic string) *zerolog.Logger {
	if len(topic) > 12 {
		topic = topic[:12]
	}
	l := Logger.With().Str("component", component).Str("topic", topic).Logger()
	return &l
}

// Benchmark logs the time until the returned func is called, at debug.
//
//	defer log.Benchmark("registry.GenerateBatch")()
func Benchmark(name string) func() {
	start := time.Now()
	return func() {
		Logger.Debug().Str("operation", name).Dur("duration", time.Since(start)).Msg("benchmark")
	}
}
