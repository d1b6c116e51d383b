// Package logger provides leveled logging to stderr plus a full-detail
// session file under .drover/logs/ for post-mortem reading.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level represents log severity
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger writes leveled, timestamped lines to one destination.
type Logger struct {
	mu       sync.Mutex
	output   io.Writer
	minLevel Level
	prefix   string
}

// New creates a logger.
func New(output io.Writer, minLevel Level, prefix string) *Logger {
	return &Logger{
		output:   output,
		minLevel: minLevel,
		prefix:   prefix,
	}
}

func (l *Logger) log(level Level, format string, args ...any) {
	if level < l.minLevel {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prefix := ""
	if l.prefix != "" {
		prefix = "[" + l.prefix + "] "
	}
	_, _ = fmt.Fprintf(l.output, "%s %-5s %s%s\n",
		time.Now().Format("15:04:05.000"), level, prefix, fmt.Sprintf(format, args...))
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...any) {
	l.log(LevelDebug, format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// The package-level functions write to stderr at the configured console
// level and mirror every line, regardless of level, into a per-session
// file so a failed run can be reconstructed afterwards.

var (
	console = New(os.Stderr, LevelInfo, "")

	sessionOnce sync.Once
	sessionFile *os.File
	session     *Logger
)

// SetLevel sets the minimum level for console output. The session file
// always records everything.
func SetLevel(level Level) {
	console.mu.Lock()
	defer console.mu.Unlock()
	console.minLevel = level
}

// SetLevelFromString sets the console level from its config-file name
// (debug, info, warn, error). Unknown names leave the level unchanged.
func SetLevelFromString(level string) {
	switch level {
	case "debug":
		SetLevel(LevelDebug)
	case "info":
		SetLevel(LevelInfo)
	case "warn":
		SetLevel(LevelWarn)
	case "error":
		SetLevel(LevelError)
	}
}

func sessionLogger() *Logger {
	sessionOnce.Do(openSessionFile)
	return session
}

// openSessionFile is best effort: any failure leaves session nil and
// logging continues on stderr only.
func openSessionFile() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}
	dir := filepath.Join(cwd, ".drover", "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}

	name := "session_" + time.Now().Format("2006-01-02_15-04-05") + ".log"
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	sessionFile = f
	session = New(f, LevelDebug, "")
	session.Info("session log opened (pid %d, cwd %s)", os.Getpid(), cwd)

	// latest.log points at the newest session; a failed symlink is harmless
	latest := filepath.Join(dir, "latest.log")
	_ = os.Remove(latest)
	_ = os.Symlink(name, latest)
}

// CloseLogFile closes the session file (call on shutdown)
func CloseLogFile() {
	if sessionFile != nil {
		_ = sessionFile.Close()
	}
}

func emit(level Level, format string, args ...any) {
	console.log(level, format, args...)
	if s := sessionLogger(); s != nil {
		s.log(level, format, args...)
	}
}

// Debug logs a debug message to the default sinks
func Debug(format string, args ...any) {
	emit(LevelDebug, format, args...)
}

// Info logs an info message to the default sinks
func Info(format string, args ...any) {
	emit(LevelInfo, format, args...)
}

// Warn logs a warning message to the default sinks
func Warn(format string, args ...any) {
	emit(LevelWarn, format, args...)
}

// Error logs an error message to the default sinks
func Error(format string, args ...any) {
	emit(LevelError, format, args...)
}
