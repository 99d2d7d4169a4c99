package log

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// helperStore holds the active *log.Helper; nil until Init or SetLogger.
var helperStore atomic.Pointer[log.Helper]

// fallbackLogger writes plain lines to stderr when no logger was installed.
type fallbackLogger struct {
	out io.Writer
}

func (f *fallbackLogger) write(level Level, msg string) {
	if level < GetLevel() {
		return
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	_, _ = fmt.Fprintf(f.out, "[%s] [%s] [nexus] %s\n", timestamp, level, msg)
}

func (f *fallbackLogger) writew(level Level, keyvals ...any) {
	if level < GetLevel() {
		return
	}
	f.write(level, formatKeyvals(keyvals))
}

var fallback = &fallbackLogger{out: os.Stderr}

// formatKeyvals renders the message key first, then key=value pairs. An odd
// count is padded the way the zerolog adapter does.
func formatKeyvals(keyvals []any) string {
	if len(keyvals)%2 != 0 {
		keyvals = append(keyvals, "BAD_VALUE")
	}
	var msg string
	pairs := make([]string, 0, len(keyvals)/2)
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		val := fmt.Sprint(keyvals[i+1])
		if key == log.DefaultMessageKey && msg == "" {
			msg = val
			continue
		}
		if val == "" || strings.ContainsAny(val, " \t\n\"=") {
			val = strconv.Quote(val)
		}
		pairs = append(pairs, key+"="+val)
	}
	if msg == "" {
		return strings.Join(pairs, " ")
	}
	if len(pairs) == 0 {
		return msg
	}
	return msg + " " + strings.Join(pairs, " ")
}

func helper() *log.Helper {
	return helperStore.Load()
}

// Debug uses the log helper to record debug-level log information.
func Debug(a ...any) {
	if h := helper(); h != nil {
		h.Debug(a...)
	} else {
		fallback.write(DebugLevel, fmt.Sprint(a...))
	}
}

func Debugf(format string, a ...any) {
	if h := helper(); h != nil {
		h.Debugf(format, a...)
	} else {
		fallback.write(DebugLevel, fmt.Sprintf(format, a...))
	}
}

func Debugw(keyvals ...any) {
	if h := helper(); h != nil {
		h.Debugw(keyvals...)
	} else {
		fallback.writew(DebugLevel, keyvals...)
	}
}

func Info(a ...any) {
	if h := helper(); h != nil {
		h.Info(a...)
	} else {
		fallback.write(InfoLevel, fmt.Sprint(a...))
	}
}

func Infof(format string, a ...any) {
	if h := helper(); h != nil {
		h.Infof(format, a...)
	} else {
		fallback.write(InfoLevel, fmt.Sprintf(format, a...))
	}
}

func Infow(keyvals ...any) {
	if h := helper(); h != nil {
		h.Infow(keyvals...)
	} else {
		fallback.writew(InfoLevel, keyvals...)
	}
}

func Warn(a ...any) {
	if h := helper(); h != nil {
		h.Warn(a...)
	} else {
		fallback.write(WarnLevel, fmt.Sprint(a...))
	}
}

func Warnf(format string, a ...any) {
	if h := helper(); h != nil {
		h.Warnf(format, a...)
	} else {
		fallback.write(WarnLevel, fmt.Sprintf(format, a...))
	}
}

func Warnw(keyvals ...any) {
	if h := helper(); h != nil {
		h.Warnw(keyvals...)
	} else {
		fallback.writew(WarnLevel, keyvals...)
	}
}

func Error(a ...any) {
	if h := helper(); h != nil {
		h.Error(a...)
	} else {
		fallback.write(ErrorLevel, fmt.Sprint(a...))
	}
}

func Errorf(format string, a ...any) {
	if h := helper(); h != nil {
		h.Errorf(format, a...)
	} else {
		fallback.write(ErrorLevel, fmt.Sprintf(format, a...))
	}
}

func Errorw(keyvals ...any) {
	if h := helper(); h != nil {
		h.Errorw(keyvals...)
	} else {
		fallback.writew(ErrorLevel, keyvals...)
	}
}

// Logw logs key/value pairs at the given level; used where the level is computed.
func Logw(level Level, keyvals ...any) {
	switch level {
	case DebugLevel:
		Debugw(keyvals...)
	case InfoLevel:
		Infow(keyvals...)
	case WarnLevel:
		Warnw(keyvals...)
	default:
		Errorw(keyvals...)
	}
}
