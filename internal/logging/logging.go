package logging

import (
	"log"
	"os"
)

// Logger is a simple leveled logger. It writes to stderr so that command
// output on stdout stays machine-readable.
type Logger struct {
	*log.Logger
	verbose bool
}

// NewLogger creates a new Logger. Debug messages are suppressed unless
// verbose is set.
func NewLogger(verbose bool) *Logger {
	return &Logger{
		Logger:  log.New(os.Stderr, "", log.LstdFlags),
		verbose: verbose,
	}
}

// Info logs an informational message.
func (l *Logger) Info(msg string, args ...interface{}) {
	l.Printf("INFO: "+msg, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.Printf("WARN: "+msg, args...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...interface{}) {
	l.Printf("ERROR: "+msg, args...)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...interface{}) {
	if l.verbose {
		l.Printf("DEBUG: "+msg, args...)
	}
}
