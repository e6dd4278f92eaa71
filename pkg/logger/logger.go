// Package logger provides a thin structured logging facade used across the
// meal service. It wraps zerolog so call sites stay stable if the backend
// changes.
package logger

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the service-wide structured logger. The zero value is not usable;
// construct one with New or NewDefault.
type Logger struct {
	zl zerolog.Logger
}

// New creates a logger for the named component at the given level. Unknown
// level strings fall back to info.
func New(component, level string) *Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zl := zerolog.New(os.Stderr).
		Level(lvl).
		With().
		Timestamp().
		Str("component", component).
		Logger()
	return &Logger{zl: zl}
}

// NewDefault creates an info-level logger for the named component.
func NewDefault(component string) *Logger {
	return New(component, "info")
}

// NewConsole creates a human-readable logger for interactive use.
func NewConsole(component string) *Logger {
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().
		Timestamp().
		Str("component", component).
		Logger()
	return &Logger{zl: zl}
}

// WithField returns a logger with the field attached to every entry.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

// WithError returns a logger with the error attached to every entry.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zl: l.zl.With().AnErr("error", err).Logger()}
}

func (l *Logger) Debug(msg string)                          { l.zl.Debug().Msg(msg) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.zl.Debug().Msgf(format, args...) }
func (l *Logger) Info(msg string)                           { l.zl.Info().Msg(msg) }
func (l *Logger) Infof(format string, args ...interface{})  { l.zl.Info().Msgf(format, args...) }
func (l *Logger) Warn(msg string)                           { l.zl.Warn().Msg(msg) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.zl.Warn().Msgf(format, args...) }
func (l *Logger) Error(msg string)                          { l.zl.Error().Msg(msg) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.zl.Error().Msgf(format, args...) }

// Fatal logs the message and exits the process. Reserved for unrecoverable
// startup failures such as missing key material.
func (l *Logger) Fatal(msg string) { l.zl.Fatal().Msg(msg) }

func (l *Logger) Fatalf(format string, args ...interface{}) { l.zl.Fatal().Msgf(format, args...) }
