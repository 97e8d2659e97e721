// Package logger holds the process-wide structured logger.
package logger

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	charm "github.com/charmbracelet/log"
)

var defaultLogger atomic.Pointer[charm.Logger]

func init() {
	defaultLogger.Store(New(os.Stderr))
}

// New creates a logger writing to w with timestamps and the nightly prefix.
func New(w io.Writer) *charm.Logger {
	return charm.NewWithOptions(w, charm.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		Prefix:          "nightly",
	})
}

// Default returns the global logger.
func Default() *charm.Logger {
	return defaultLogger.Load()
}

// SetDefault replaces the global logger. nil is ignored.
func SetDefault(l *charm.Logger) {
	if l != nil {
		defaultLogger.Store(l)
	}
}

// SetLevel parses level ("debug", "info", "warn", "error") and applies it to the global logger.
func SetLevel(level string) error {
	if level == "" {
		return nil
	}
	lvl, err := charm.ParseLevel(level)
	if err != nil {
		return err
	}
	Default().SetLevel(lvl)
	return nil
}

// With returns a child of the global logger carrying the given key/value pairs.
func With(keyvals ...any) *charm.Logger {
	return Default().With(keyvals...)
}

func Debug(msg any, keyvals ...any) { Default().Debug(msg, keyvals...) }
func Info(msg any, keyvals ...any)  { Default().Info(msg, keyvals...) }
func Warn(msg any, keyvals ...any)  { Default().Warn(msg, keyvals...) }
func Error(msg any, keyvals ...any) { Default().Error(msg, keyvals...) }
