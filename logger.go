package featurestage

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Logger provides a simple interface for reader and writer logging
type Logger interface {
	// Debug logs a message at debug level
	Debug(format string, args ...interface{})

	// Info logs a message at info level
	Info(format string, args ...interface{})

	// Warn logs a message at warning level
	Warn(format string, args ...interface{})

	// Error logs a message at error level
	Error(format string, args ...interface{})
}

// DefaultLogger is a no-op logger implementation
type DefaultLogger struct{}

// Debug implements Logger.Debug
func (l *DefaultLogger) Debug(format string, args ...interface{}) {}

// Info implements Logger.Info
func (l *DefaultLogger) Info(format string, args ...interface{}) {}

// Warn implements Logger.Warn
func (l *DefaultLogger) Warn(format string, args ...interface{}) {}

// Error implements Logger.Error
func (l *DefaultLogger) Error(format string, args ...interface{}) {}

// NewDefaultLogger creates a new default no-op logger
func NewDefaultLogger() Logger {
	return &DefaultLogger{}
}

// ZerologLogger adapts a zerolog.Logger to Logger.
type ZerologLogger struct {
	zlog zerolog.Logger
}

// NewZerologLogger wraps zlog, tagging every entry with component=featurestage.
func NewZerologLogger(zlog zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{zlog: zlog.With().Str("component", "featurestage").Logger()}
}

// Debug implements Logger.Debug
func (l *ZerologLogger) Debug(format string, args ...interface{}) {
	l.zlog.Debug().Msg(fmt.Sprintf(format, args...))
}

// Info implements Logger.Info
func (l *ZerologLogger) Info(format string, args ...interface{}) {
	l.zlog.Info().Msg(fmt.Sprintf(format, args...))
}

// Warn implements Logger.Warn
func (l *ZerologLogger) Warn(format string, args ...interface{}) {
	l.zlog.Warn().Msg(fmt.Sprintf(format, args...))
}

// Error implements Logger.Error
func (l *ZerologLogger) Error(format string, args ...interface{}) {
	l.zlog.Error().Msg(fmt.Sprintf(format, args...))
}
