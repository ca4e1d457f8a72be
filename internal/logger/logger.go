package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// Logger is the process-wide logger. Replace it with Init or SetOutput.
	Logger zerolog.Logger
)

func init() {
	// Default until the CLI calls Init: info level, JSON to stderr so
	// stdout stays free for command output.
	Logger = zerolog.New(os.Stderr).
		With().
		Timestamp().
		Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = Logger
}

var levels = map[string]zerolog.Level{
	"trace":    zerolog.TraceLevel,
	"debug":    zerolog.DebugLevel,
	"info":     zerolog.InfoLevel,
	"":         zerolog.InfoLevel,
	"warn":     zerolog.WarnLevel,
	"warning":  zerolog.WarnLevel,
	"error":    zerolog.ErrorLevel,
	"disabled": zerolog.Disabled,
	"off":      zerolog.Disabled,
}

// ParseLevel maps a config string to a zerolog level. Unknown values map to info.
func ParseLevel(level string) zerolog.Level {
	if l, ok := levels[strings.ToLower(strings.TrimSpace(level))]; ok {
		return l
	}
	return zerolog.InfoLevel
}

// IsValidLevel reports whether ParseLevel knows level. Empty is valid.
func IsValidLevel(level string) bool {
	_, ok := levels[strings.ToLower(strings.TrimSpace(level))]
	return ok
}

// Init configures the global logger with the given level and output style
func Init(level string, pretty bool) {
	var output io.Writer = os.Stderr
	if pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}
	}
	SetOutput(output, level)
}

// SetOutput points the global logger at w. Tests use it to capture logs.
func SetOutput(w io.Writer, level string) {
	zerolog.SetGlobalLevel(ParseLevel(level))
	Logger = zerolog.New(w).
		With().
		Timestamp().
		Logger()
	log.Logger = Logger
}

// WithComponent returns a logger tagged with a component field
func WithComponent(component string) *zerolog.Logger {
	l := Logger.With().Str("component", component).Logger()
	return &l
}
