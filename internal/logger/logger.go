package logger

import (
	"fmt"
	"log"
	"os"
)

// Log levels
const (
	LevelDebug = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	levelNames = map[int]string{
		LevelDebug: "DEBUG",
		LevelInfo:  "INFO",
		LevelWarn:  "WARN",
		LevelError: "ERROR",
	}

	minLevel = LevelInfo
)

// Logger tags every line with the component that produced it.
type Logger struct {
	component string
}

func init() {
	// Verbose output in development, INFO otherwise
	if os.Getenv("KINECT_ENV") == "development" {
		minLevel = LevelDebug
	}

	log.SetFlags(log.Ldate | log.Ltime)
}

// New creates a logger for a specific component.
func New(component string) *Logger {
	return &Logger{component: component}
}

// SetMinLevel changes the minimum log level at runtime.
func SetMinLevel(level int) {
	minLevel = level
}

func (l *Logger) logf(level int, format string, args ...interface{}) {
	if level < minLevel {
		return
	}

	prefix := fmt.Sprintf("[%s][%s] ", levelNames[level], l.component)
	log.Printf(prefix+format, args...)
}

// Debug logs diagnostic detail.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.logf(LevelDebug, format, args...)
}

// Info logs normal operation messages.
func (l *Logger) Info(format string, args ...interface{}) {
	l.logf(LevelInfo, format, args...)
}

// Warn logs recoverable problems.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.logf(LevelWarn, format, args...)
}

// Error logs failures.
func (l *Logger) Error(format string, args ...interface{}) {
	l.logf(LevelError, format, args...)
}

// GetAppEnv returns the current application environment.
func GetAppEnv() string {
	env := os.Getenv("KINECT_ENV")
	if env == "" {
		return "development"
	}
	return env
}

// IsDevelopment reports whether the client runs in development mode.
func IsDevelopment() bool {
	return GetAppEnv() == "development"
}
