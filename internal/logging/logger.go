// Package logging provides the leveled logger shared by every kvfs component.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	// LevelError only logs errors
	LevelError LogLevel = iota
	// LevelWarn logs warnings and errors
	LevelWarn
	// LevelInfo logs general information, warnings and errors
	LevelInfo
	// LevelDebug logs detailed debug information and all above
	LevelDebug
	// LevelTrace logs very detailed trace information and all above
	LevelTrace
)

var levelNames = map[LogLevel]string{
	LevelError: "ERROR",
	LevelWarn:  "WARN",
	LevelInfo:  "INFO",
	LevelDebug: "DEBUG",
	LevelTrace: "TRACE",
}

var logrusLevels = map[LogLevel]logrus.Level{
	LevelError: logrus.ErrorLevel,
	LevelWarn:  logrus.WarnLevel,
	LevelInfo:  logrus.InfoLevel,
	LevelDebug: logrus.DebugLevel,
	LevelTrace: logrus.TraceLevel,
}

// String returns the upper-case name of the level.
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel converts a level name such as "debug" or "WARN" to a LogLevel.
func ParseLevel(name string) (LogLevel, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for level, levelName := range levelNames {
		if levelName == upper {
			return level, nil
		}
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// Logger provides leveled, component-tagged logging. Loggers derived with
// WithPrefix share the level and output of their parent.
type Logger struct {
	prefix string
	base   *logrus.Logger
	entry  *logrus.Entry
	mu     *sync.RWMutex
	level  *LogLevel
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// GetLogger returns the default logger instance
func GetLogger() *Logger {
	once.Do(func() {
		defaultLogger = NewLogger("KVFS", os.Stderr)
		applyEnv(defaultLogger, os.Getenv)
	})
	return defaultLogger
}

// applyEnv configures l from LOG_LEVEL, FUSE_DEBUG and LOG_FORMAT.
func applyEnv(l *Logger, getenv func(string) string) {
	if level := getenv("LOG_LEVEL"); level != "" {
		if parsed, err := ParseLevel(level); err == nil {
			l.SetLevel(parsed)
		}
	}

	// FUSE_DEBUG turns on TRACE, which also carries the FUSE protocol dump
	if getenv("FUSE_DEBUG") != "" {
		l.SetLevel(LevelTrace)
	}

	if strings.EqualFold(getenv("LOG_FORMAT"), "json") {
		l.SetJSON(true)
	}
}

// NewLogger creates a new logger with the given prefix writing to out.
func NewLogger(prefix string, out io.Writer) *Logger {
	base := logrus.New()
	base.SetOutput(out)
	base.SetFormatter(textFormatter())

	level := LevelInfo
	base.SetLevel(logrusLevels[level])

	return &Logger{
		prefix: prefix,
		base:   base,
		entry:  base.WithField("component", prefix),
		mu:     &sync.RWMutex{},
		level:  &level,
	}
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.level = level
	l.base.SetLevel(logrusLevels[level])
}

// Level returns the current logging level.
func (l *Logger) Level() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return *l.level
}

// SetJSON switches between the text and JSON formatters.
func (l *Logger) SetJSON(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if enabled {
		l.base.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	l.base.SetFormatter(textFormatter())
}

func textFormatter() logrus.Formatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000000Z07:00",
	}
}

// SetOutput redirects the logger and all loggers derived from it.
func (l *Logger) SetOutput(out io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.base.SetOutput(out)
}

// shouldLog determines if a message at the given level should be logged
func (l *Logger) shouldLog(level LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level <= *l.level
}

// log performs the actual logging
func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if !l.shouldLog(level) {
		return
	}
	l.entry.Log(logrusLevels[level], fmt.Sprintf(format, args...))
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Trace logs a trace message
func (l *Logger) Trace(format string, args ...interface{}) {
	l.log(LevelTrace, format, args...)
}

// WithPrefix creates a new logger tagged with another component name. The
// returned logger shares level and output with l.
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{
		prefix: prefix,
		base:   l.base,
		entry:  l.base.WithField("component", prefix),
		mu:     l.mu,
		level:  l.level,
	}
}

// Prefix returns the component name attached to every message.
func (l *Logger) Prefix() string {
	return l.prefix
}
