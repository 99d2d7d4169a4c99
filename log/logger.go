// Package log provides the logging facade used across nexus.
// It wraps the Kratos logging system with a zerolog backend and falls back
// to plain stderr output until Init or SetLogger is called.
package log

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/rs/zerolog"
)

// Level represents the logging level.
type Level int32

const (
	// DebugLevel logs are typically voluminous, and are usually disabled in production.
	DebugLevel Level = iota
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs are more important than Info, but don't need individual human review.
	WarnLevel
	// ErrorLevel logs are high-priority.
	ErrorLevel
)

// String returns the lowercase level name.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "info"
	}
}

// ParseLevel maps a textual level to a Level, defaulting to InfoLevel.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Options configures Init.
type Options struct {
	// Level is the minimum level written.
	Level Level
	// Console selects the human readable zerolog console writer.
	Console bool
	// Output defaults to os.Stdout.
	Output io.Writer
	// Fields are attached to every entry (e.g. "service.name", "nexus").
	Fields []any
}

var (
	mu sync.Mutex
	// base is the unfiltered logger; level changes rebuild the filter on top of it.
	base     log.Logger
	filtered log.Logger
	minLevel = InfoLevel
)

// Init builds the zerolog backed logger and installs it as the global logger.
func Init(opts Options) {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.Console {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339Nano,
			PartsOrder: []string{
				zerolog.TimestampFieldName,
				zerolog.LevelFieldName,
				zerolog.MessageFieldName,
			},
		}
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zl := zerolog.New(out).With().Timestamp().Logger()

	var l log.Logger = zeroLogLogger{logger: zl}
	if len(opts.Fields) > 0 {
		l = log.With(l, opts.Fields...)
	}

	mu.Lock()
	base = l
	minLevel = opts.Level
	mu.Unlock()
	rebuild()
}

// SetLogger installs an arbitrary Kratos logger, e.g. log.NewStdLogger in tests.
func SetLogger(l log.Logger) {
	mu.Lock()
	base = l
	mu.Unlock()
	rebuild()
}

// Logger returns the current filtered Kratos logger, or nil before Init.
func Logger() log.Logger {
	mu.Lock()
	defer mu.Unlock()
	return filtered
}

// SetLevel sets the global logging level.
func SetLevel(level Level) {
	mu.Lock()
	minLevel = level
	mu.Unlock()
	rebuild()
}

// GetLevel returns the current global logging level.
func GetLevel() Level {
	mu.Lock()
	defer mu.Unlock()
	return minLevel
}

func rebuild() {
	mu.Lock()
	defer mu.Unlock()
	if base == nil {
		filtered = nil
		helperStore.Store(nil)
		return
	}
	filtered = log.NewFilter(base, log.FilterLevel(kratosLevel(minLevel)))
	helperStore.Store(log.NewHelper(filtered))
}

func kratosLevel(l Level) log.Level {
	switch l {
	case DebugLevel:
		return log.LevelDebug
	case WarnLevel:
		return log.LevelWarn
	case ErrorLevel:
		return log.LevelError
	default:
		return log.LevelInfo
	}
}
