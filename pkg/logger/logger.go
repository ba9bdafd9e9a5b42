// Package logger provides leveled logging for the engine and the CLI.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// Logger writes leveled, timestamped messages to a pair of writers:
// errors go to errOut, everything else to out.
type Logger struct {
	mu     sync.Mutex
	level  Level
	out    io.Writer
	errOut io.Writer
	prefix string
}

var std = New(os.Stderr, os.Stderr, LevelInfo, "")

// Default returns the package-level logger.
func Default() *Logger { return std }

// New creates a logger with the given writers, minimum level, and prefix.
func New(out, errOut io.Writer, level Level, prefix string) *Logger {
	return &Logger{level: level, out: out, errOut: errOut, prefix: prefix}
}

// SetLevel sets the minimum level a message must have to be written.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }

// Info logs at INFO level.
func (l *Logger) Info(format string, args ...any) { l.log(LevelInfo, format, args...) }

// Warn logs at WARN level.
func (l *Logger) Warn(format string, args ...any) { l.log(LevelWarn, format, args...) }

// Error logs at ERROR level.
func (l *Logger) Error(format string, args ...any) { l.log(LevelError, format, args...) }

func (l *Logger) log(level Level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}
	out := l.out
	if level >= LevelError {
		out = l.errOut
	}
	prefix := l.prefix
	if prefix != "" {
		prefix += " "
	}
	stamp := time.Now().Format("15:04:05")
	fmt.Fprintf(out, "%s [%s] %s%s\n", stamp, level, prefix, fmt.Sprintf(format, args...))
}

// Package-level convenience functions using the default logger.

// SetLevel sets the minimum level on the default logger.
func SetLevel(level Level) { std.SetLevel(level) }

// Debug logs at DEBUG level using the default logger.
func Debug(format string, args ...any) { std.Debug(format, args...) }

// Info logs at INFO level using the default logger.
func Info(format string, args ...any) { std.Info(format, args...) }

// Warn logs at WARN level using the default logger.
func Warn(format string, args ...any) { std.Warn(format, args...) }

// Error logs at ERROR level using the default logger.
func Error(format string, args ...any) { std.Error(format, args...) }
