// Package logging provides the leveled logger used across the router,
// ports, and stack. It is a thin wrapper over logrus so call sites keep the
// Debug/Info/Warn/Error + key-value shape regardless of the backing
// implementation.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus.Logger with the level/keyvalue API the router uses.
type Logger struct {
	entry *logrus.Entry
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) toLogrus() logrus.Level {
	switch l {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Config holds logging configuration.
type Config struct {
	Level  LogLevel
	Output io.Writer
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// NewLogger creates a new logger.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	base := logrus.New()
	base.SetOutput(output)
	base.SetLevel(config.Level.toLogrus())
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{entry: logrus.NewEntry(base)}
}

// Default returns the default logger, creating it if necessary.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

func fields(args []any) logrus.Fields {
	f := make(logrus.Fields, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		f[key] = args[i+1]
	}
	return f
}

// WithPort returns a logger that annotates every message with the port id.
func (l *Logger) WithPort(portID int) *Logger {
	return &Logger{entry: l.entry.WithField("port_id", portID)}
}

// WithEID returns a logger that annotates every message with an endpoint id.
func (l *Logger) WithEID(eid uint8) *Logger {
	return &Logger{entry: l.entry.WithField("eid", eid)}
}

// WithError returns a logger that annotates every message with an error.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

func (l *Logger) Debug(msg string, args ...any) { l.entry.WithFields(fields(args)).Debug(msg) }
func (l *Logger) Info(msg string, args ...any)  { l.entry.WithFields(fields(args)).Info(msg) }
func (l *Logger) Warn(msg string, args ...any)  { l.entry.WithFields(fields(args)).Warn(msg) }
func (l *Logger) Error(msg string, args ...any) { l.entry.WithFields(fields(args)).Error(msg) }

// Printf-style logging, kept for call sites that build their own message.
func (l *Logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }

// Printf satisfies callers expecting a bare printf-to-info sink.
func (l *Logger) Printf(format string, args ...any) { l.Infof(format, args...) }

// Global convenience functions.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
