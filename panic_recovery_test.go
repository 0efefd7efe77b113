// panic_recovery_test.go: Tests for panic isolation helpers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/agilira/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeGo_RecoversPanic(t *testing.T) {
	logger := NewTestLogger()
	done := make(chan struct{})

	SafeGo(logger, func() {
		defer close(done)
		panic("extension exploded")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine did not run")
	}
	eventually(t, time.Second, func() bool {
		return logger.HasMessage("ERROR", "Panic recovered in goroutine")
	}, "panic is logged")
}

func TestInvokeIsolated(t *testing.T) {
	value, err := invokeIsolated("ok", func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, value)

	cause := stderrors.New("hook failed")
	_, err = invokeIsolated("failing", func() (int, error) { return 0, cause })
	require.True(t, IsRuntimeFault(err))

	value, err = invokeIsolated("panicking", func() (int, error) { panic("boom") })
	assert.Equal(t, 0, value)
	require.True(t, IsRuntimeFault(err))

	var extErr *errors.Error
	require.True(t, stderrors.As(err, &extErr))
	assert.Equal(t, "panicking", extErr.Context["uid"])
	assert.NotEmpty(t, extErr.Context["trace"])
}

func TestPanicError(t *testing.T) {
	cause := stderrors.New("typed")
	assert.Same(t, cause, panicError(cause))
	assert.EqualError(t, panicError(42), "panic: 42")
}

func TestInvokeIsolated_KeepsExistingRuntimeFault(t *testing.T) {
	inner := NewRuntimeFaultError("poller", stderrors.New("endpoint down"), "trace")
	_, err := invokeIsolated("poller", func() (int, error) { return 0, inner })
	assert.Same(t, inner, err)

	var extErr *errors.Error
	require.True(t, stderrors.As(err, &extErr))
	assert.Equal(t, "trace", extErr.Context["trace"], "no second stack is attached")
}
