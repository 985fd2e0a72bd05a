// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package log is the process-wide structured logger.
package log

import (
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

var (
	logger     zerolog.Logger
	loggerLock sync.RWMutex
)

func init() {
	var output io.Writer = os.Stderr
	if term.IsTerminal(int(os.Stderr.Fd())) {
		output = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.Kitchen,
		}
	}

	level := zerolog.InfoLevel
	if env := os.Getenv("TINYCHAT_LOG_LEVEL"); env != "" {
		level = parseLogLevel(env)
	}

	logger = zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// SetLevel sets the global log level at runtime.
func SetLevel(levelStr string) {
	level := parseLogLevel(levelStr)
	loggerLock.Lock()
	logger = logger.Level(level)
	loggerLock.Unlock()
}

// SetOutput redirects the logger. Pretty selects the console writer.
func SetOutput(w io.Writer, pretty bool) {
	loggerLock.Lock()
	defer loggerLock.Unlock()

	out := w
	if pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen, NoColor: true}
	}
	logger = logger.Output(out)
}

// parseLogLevel converts a string log level to zerolog.Level.
func parseLogLevel(levelStr string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func current() zerolog.Logger {
	loggerLock.RLock()
	defer loggerLock.RUnlock()
	return logger
}

// Debug logs a debug message
func Debug() *zerolog.Event {
	l := current()
	return l.Debug()
}

// Info logs an info message
func Info() *zerolog.Event {
	l := current()
	return l.Info()
}

// Warn logs a warning message
func Warn() *zerolog.Event {
	l := current()
	return l.Warn()
}

// Error logs an error message
func Error() *zerolog.Event {
	l := current()
	return l.Error()
}

// Logger returns a copy of the underlying zerolog logger.
func Logger() zerolog.Logger {
	return current()
}

// With returns a child logger carrying a component field.
func With(component string) zerolog.Logger {
	return current().With().Str("component", component).Logger()
}

// StdErrorLogger adapts the logger for APIs that want a *log.Logger, such as
// http.Server.ErrorLog.
func StdErrorLogger() *stdlog.Logger {
	l := current().Level(zerolog.ErrorLevel)
	return stdlog.New(l, "", 0)
}
