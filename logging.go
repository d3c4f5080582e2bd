// Copyright 2025 The lnsocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lnsocket

import (
	"io"
	"log"
	"os"
)

// LogLevel selects how chatty a Logger is.
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
	LogLevelTrace
)

// String returns the level's name.
func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "ERROR"
	case LogLevelWarn:
		return "WARN"
	case LogLevelInfo:
		return "INFO"
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelTrace:
		return "TRACE"
	default:
		return "UNKNOWN"
	}
}

// Logger is a leveled logger shared by the socket and the protocol
// clients built on top of it. Connection lifecycle goes to Info,
// recoverable oddities (skipped odd messages, dropped fragments) to
// Debug, per-frame detail to Trace.
type Logger struct {
	logger *log.Logger
	level  LogLevel
}

// NewLogger returns a Logger writing to stderr at the given level.
func NewLogger(level LogLevel) *Logger {
	return &Logger{
		logger: log.New(os.Stderr, "lnsocket: ", log.LstdFlags),
		level:  level,
	}
}

// NewLoggerWithWriter returns a Logger with a custom writer and level.
func NewLoggerWithWriter(w io.Writer, level LogLevel) *Logger {
	return &Logger{
		logger: log.New(w, "lnsocket: ", log.LstdFlags),
		level:  level,
	}
}

// SetLevel sets the minimum level that will be emitted.
func (l *Logger) SetLevel(level LogLevel) { l.level = level }

// IsEnabled reports whether a level would be emitted.
func (l *Logger) IsEnabled(level LogLevel) bool { return level <= l.level }

func (l *Logger) Error(format string, args ...interface{}) {
	if l.IsEnabled(LogLevelError) {
		l.logger.Printf("[ERROR] "+format, args...)
	}
}

func (l *Logger) Warn(format string, args ...interface{}) {
	if l.IsEnabled(LogLevelWarn) {
		l.logger.Printf("[WARN] "+format, args...)
	}
}

func (l *Logger) Info(format string, args ...interface{}) {
	if l.IsEnabled(LogLevelInfo) {
		l.logger.Printf("[INFO] "+format, args...)
	}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l.IsEnabled(LogLevelDebug) {
		l.logger.Printf("[DEBUG] "+format, args...)
	}
}

func (l *Logger) Trace(format string, args ...interface{}) {
	if l.IsEnabled(LogLevelTrace) {
		l.logger.Printf("[TRACE] "+format, args...)
	}
}

var (
	// DevNullLogger discards everything.
	DevNullLogger = NewLoggerWithWriter(io.Discard, LogLevelError)

	// DefaultLogger logs errors only, the right default for a library.
	DefaultLogger = NewLogger(LogLevelError)
)
