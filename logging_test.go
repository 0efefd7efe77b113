// logging_test.go: Tests for the logging abstraction and the logrus adapter
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	testLogger := NewTestLogger()
	assert.Same(t, testLogger, NewLogger(testLogger))
	assert.IsType(t, &NoOpLogger{}, NewLogger(nil))
	assert.Panics(t, func() { NewLogger("stdout") })
}

func TestTestLogger_WithSharesBuffer(t *testing.T) {
	root := NewTestLogger()
	child := root.With("plugin", "core")
	child.Warn("Container slow", "module", "pages")
	root.Info("Root message")

	messages := root.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, []any{"plugin", "core", "module", "pages"}, messages[0].Args)
	assert.True(t, root.HasMessage("WARN", "Container slow"))
	assert.False(t, root.HasMessage("ERROR", "Container slow"))

	root.Clear()
	assert.Empty(t, root.Messages())
	assert.Empty(t, child.(*TestLogger).Messages())
}

func TestNoOpLogger(t *testing.T) {
	var logger Logger = NewNoOpLogger()
	assert.NotPanics(t, func() {
		logger.With("k", "v").Error("ignored", "err", "x")
	})
}

func TestLoggerContext(t *testing.T) {
	assert.IsType(t, &NoOpLogger{}, LoggerFromContext(context.Background()))

	logger := NewTestLogger()
	ctx := ContextWithLogger(context.Background(), logger)
	LoggerFromContext(ctx).Info("From context")
	assert.True(t, logger.HasMessage("INFO", "From context"))
}

func decodeLogLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	return lines
}

func TestLogrusLogger(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.SetOutput(&buf)
	base.SetFormatter(&logrus.JSONFormatter{})
	base.SetLevel(logrus.DebugLevel)

	logger := NewLogrusLogger(base).With("component", "materializer")
	logger.Debug("Fetching module", "module", "pages")
	logger.Error("Fetch failed", "attempts", 3, "dangling")

	lines := decodeLogLines(t, &buf)
	require.Len(t, lines, 2)

	assert.Equal(t, "debug", lines[0]["level"])
	assert.Equal(t, "Fetching module", lines[0]["msg"])
	assert.Equal(t, "materializer", lines[0]["component"])
	assert.Equal(t, "pages", lines[0]["module"])

	assert.Equal(t, "error", lines[1]["level"])
	assert.Equal(t, float64(3), lines[1]["attempts"])
	assert.Equal(t, "dangling", lines[1]["!BADKEY"])
}

func TestLogrusLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	base := logrus.New()
	base.SetOutput(&buf)
	base.SetFormatter(&logrus.JSONFormatter{})
	base.SetLevel(logrus.WarnLevel)

	logger := NewLogrusLogger(base)
	logger.Info("dropped")
	logger.Warn("kept", 42, "non-string key")

	lines := decodeLogLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "kept", lines[0]["msg"])
	assert.Equal(t, "non-string key", lines[0]["42"])
}
