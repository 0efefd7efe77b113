// logging.go: Logger contract used by every runtime component
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"context"
	"sync"
)

type ctxLoggerKey struct{}

// Logger is what the store, resolver, materializer, bridge and host write
// their events to. Arguments after the message are key/value pairs:
//
//	logger.Warn("Excluding extension with mismatched contract", "uid", uid, "type", typ)
//
// Hosts normally pass NewLogrusLogger; tests use TestLogger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// With returns a child logger that prefixes every entry with args.
	With(args ...any) Logger
}

// NewLogger accepts a Logger or nil. nil yields a NoOpLogger; any other
// value is a programming error and panics.
func NewLogger(logger any) Logger {
	switch l := logger.(type) {
	case Logger:
		return l
	case nil:
		return NewNoOpLogger()
	default:
		panic("unsupported logger type: expected Logger interface or nil")
	}
}

// NoOpLogger drops every entry. Components fall back to it when the host
// supplies no logger.
type NoOpLogger struct{}

// NewNoOpLogger returns a NoOpLogger.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) Debug(string, ...any) {}
func (n *NoOpLogger) Info(string, ...any)  {}
func (n *NoOpLogger) Warn(string, ...any)  {}
func (n *NoOpLogger) Error(string, ...any) {}

// With returns n itself.
func (n *NoOpLogger) With(...any) Logger { return n }

// TestLogMessage is one entry captured by a TestLogger. Args holds the
// With fields followed by the call's own pairs.
type TestLogMessage struct {
	Level   string
	Message string
	Args    []any
}

// TestLogger keeps every entry in memory so tests can assert on what a
// component logged. Children created by With append to the same buffer as
// their root.
type TestLogger struct {
	mu       *sync.RWMutex
	messages *[]TestLogMessage
	fields   []any
}

// NewTestLogger returns an empty TestLogger.
func NewTestLogger() *TestLogger {
	messages := make([]TestLogMessage, 0)
	return &TestLogger{
		mu:       &sync.RWMutex{},
		messages: &messages,
	}
}

func (t *TestLogger) Debug(msg string, args ...any) { t.record("DEBUG", msg, args) }
func (t *TestLogger) Info(msg string, args ...any)  { t.record("INFO", msg, args) }
func (t *TestLogger) Warn(msg string, args ...any)  { t.record("WARN", msg, args) }
func (t *TestLogger) Error(msg string, args ...any) { t.record("ERROR", msg, args) }

// With returns a child writing to the same buffer.
func (t *TestLogger) With(args ...any) Logger {
	fields := make([]any, 0, len(t.fields)+len(args))
	fields = append(fields, t.fields...)
	fields = append(fields, args...)
	return &TestLogger{mu: t.mu, messages: t.messages, fields: fields}
}

func (t *TestLogger) record(level, msg string, args []any) {
	entry := TestLogMessage{Level: level, Message: msg}
	entry.Args = make([]any, 0, len(t.fields)+len(args))
	entry.Args = append(entry.Args, t.fields...)
	entry.Args = append(entry.Args, args...)

	t.mu.Lock()
	*t.messages = append(*t.messages, entry)
	t.mu.Unlock()
}

// Messages returns a snapshot of the captured entries in logging order.
func (t *TestLogger) Messages() []TestLogMessage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]TestLogMessage(nil), *t.messages...)
}

// HasMessage reports whether an entry with exactly this level and message
// was captured.
func (t *TestLogger) HasMessage(level, message string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, entry := range *t.messages {
		if entry.Level == level && entry.Message == message {
			return true
		}
	}
	return false
}

// Clear empties the shared buffer.
func (t *TestLogger) Clear() {
	t.mu.Lock()
	*t.messages = (*t.messages)[:0]
	t.mu.Unlock()
}

// DefaultLogger is the logger a Host starts with before WithLogger applies.
func DefaultLogger() Logger {
	return NewNoOpLogger()
}

// ContextWithLogger attaches a request-scoped logger to ctx.
func ContextWithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, ctxLoggerKey{}, logger)
}

// LoggerFromContext returns the logger attached by ContextWithLogger, or
// DefaultLogger when there is none.
func LoggerFromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(ctxLoggerKey{}).(Logger); ok {
		return logger
	}
	return DefaultLogger()
}
