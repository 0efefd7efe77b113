// panic_recovery.go: Panic recovery utilities with stack trace support
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"fmt"
	"runtime"
)

// captureStack returns the current goroutine stack.
func captureStack() []byte {
	buf := make([]byte, 64<<10)
	n := runtime.Stack(buf, false)
	return buf[:n]
}

// withStackRecover returns a panic recovery function that logs panic details
// including the full stack trace.
//
//	go func() {
//	    defer withStackRecover(logger)()
//	    // potentially panicking code
//	}()
func withStackRecover(logger Logger) func() {
	return func() {
		if r := recover(); r != nil {
			logger.Error("Panic recovered in goroutine",
				"panic", r,
				"stack", string(captureStack()))
		}
	}
}

// SafeGo executes fn in a new goroutine with automatic panic recovery.
func SafeGo(logger Logger, fn func()) {
	go func() {
		defer withStackRecover(logger)()
		fn()
	}()
}

// invokeIsolated calls fn and converts a panic or a returned error into a
// RuntimeFault scoped to uid. The fault carries the invoking stack so the
// host can show details without crashing sibling extensions. An error that
// is already a RuntimeFault is returned as is.
func invokeIsolated[V any](uid string, fn func() (V, error)) (value V, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero V
			value = zero
			err = NewRuntimeFaultError(uid, panicError(r), string(captureStack()))
		}
	}()

	value, err = fn()
	if err != nil {
		if IsRuntimeFault(err) {
			return value, err
		}
		return value, NewRuntimeFaultError(uid, err, string(captureStack()))
	}
	return value, nil
}

// panicError turns a recovered value into an error.
func panicError(r interface{}) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("panic: %v", r)
}
