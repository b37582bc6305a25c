package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger provides structured logging for the worker
type Logger struct {
	component string
	logger    zerolog.Logger
}

// SetLevel sets the global log level from a string such as "debug" or "warn".
// Unknown values leave the level at info.
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// NewLogger creates a new logger tagged with a component name
func NewLogger(component string) *Logger {
	return newLogger(os.Stdout, component)
}

// NewTestLogger routes output through t.Log
func NewTestLogger(t zerolog.TestingLog, component string) *Logger {
	return newLogger(zerolog.NewTestWriter(t), component)
}

func newLogger(w io.Writer, component string) *Logger {
	return &Logger{
		component: component,
		logger:    zerolog.New(w).With().Timestamp().Str("component", component).Logger(),
	}
}

// With returns a child logger carrying the given key-value pairs on every entry
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	ctx := l.logger.With()
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		ctx = ctx.Interface(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1])
	}
	return &Logger{component: l.component, logger: ctx.Logger()}
}

// Info logs an informational message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.logWithKV(l.logger.Info(), msg, keysAndValues...)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.logWithKV(l.logger.Warn(), msg, keysAndValues...)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.logWithKV(l.logger.Error(), msg, keysAndValues...)
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.logWithKV(l.logger.Debug(), msg, keysAndValues...)
}

func (l *Logger) logWithKV(event *zerolog.Event, msg string, keysAndValues ...interface{}) {
	if event == nil {
		return
	}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		switch v := keysAndValues[i+1].(type) {
		case error:
			event = event.AnErr(key, v)
		case string:
			event = event.Str(key, v)
		default:
			event = event.Interface(key, v)
		}
	}
	event.Msg(msg)
}
