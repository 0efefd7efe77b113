// logging_logrus.go: Logger adapter for github.com/sirupsen/logrus
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// LogrusLogger adapts a logrus entry to the Logger interface.
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger wraps a *logrus.Logger. A nil logger gets logrus.New().
//
// Example:
//
//	log := logrus.New()
//	log.SetFormatter(&logrus.JSONFormatter{})
//	host, err := goextensions.NewHost(cfg, goextensions.WithLogger(goextensions.NewLogrusLogger(log)))
func NewLogrusLogger(logger *logrus.Logger) *LogrusLogger {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogrusLogger{entry: logrus.NewEntry(logger)}
}

// Debug implements Logger
func (l *LogrusLogger) Debug(msg string, args ...any) {
	l.entry.WithFields(argsToFields(args)).Debug(msg)
}

// Info implements Logger
func (l *LogrusLogger) Info(msg string, args ...any) {
	l.entry.WithFields(argsToFields(args)).Info(msg)
}

// Warn implements Logger
func (l *LogrusLogger) Warn(msg string, args ...any) {
	l.entry.WithFields(argsToFields(args)).Warn(msg)
}

// Error implements Logger
func (l *LogrusLogger) Error(msg string, args ...any) {
	l.entry.WithFields(argsToFields(args)).Error(msg)
}

// With implements Logger
func (l *LogrusLogger) With(args ...any) Logger {
	return &LogrusLogger{entry: l.entry.WithFields(argsToFields(args))}
}

// argsToFields converts alternating key-value args into logrus fields.
// A dangling key is stored under "!BADKEY" like slog does.
func argsToFields(args []any) logrus.Fields {
	fields := make(logrus.Fields, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			fields["!BADKEY"] = args[i]
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		fields[key] = args[i+1]
	}
	return fields
}
