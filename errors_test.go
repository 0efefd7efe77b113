// errors_test.go: Tests for error constructors, classification and notices
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/agilira/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorConstructors(t *testing.T) {
	t.Run("RemoteLoadFailure", func(t *testing.T) {
		ref := CodeRef{Plugin: "monitoring", Ref: "health.check"}
		err := NewRemoteLoadFailureError(ref, stderrors.New("connection reset"))

		if err.ErrorCode() != errors.ErrorCode(ErrCodeRemoteLoadFailure) {
			t.Errorf("Expected error code %s, got %s", ErrCodeRemoteLoadFailure, err.ErrorCode())
		}
		if err.Context["plugin_name"] != "monitoring" {
			t.Errorf("Expected plugin_name context to be monitoring, got %v", err.Context["plugin_name"])
		}
		if !err.IsRetryable() {
			t.Error("Remote load failures should be retryable")
		}
	})

	t.Run("ContractMismatchWithoutCause", func(t *testing.T) {
		err := NewContractMismatchError("uid-1", "host.page/route", "path is required", nil)

		if err.ErrorCode() != errors.ErrorCode(ErrCodeContractMismatch) {
			t.Errorf("Expected error code %s, got %s", ErrCodeContractMismatch, err.ErrorCode())
		}
		if err.Context["extension_type"] != "host.page/route" {
			t.Errorf("Expected extension_type context, got %v", err.Context["extension_type"])
		}
		if err.IsRetryable() {
			t.Error("Contract mismatches should not be retryable")
		}
	})

	t.Run("CircuitOpen", func(t *testing.T) {
		err := NewCircuitOpenError("monitoring")
		assert.Equal(t, errors.ErrorCode(ErrCodeCircuitOpen), err.ErrorCode())
		assert.True(t, err.IsRetryable())
	})

	t.Run("ConfigValidation", func(t *testing.T) {
		withCause := NewConfigValidationError("bad pattern", stderrors.New("syntax"))
		withoutCause := NewConfigValidationError("bad pattern", nil)
		assert.Equal(t, withCause.ErrorCode(), withoutCause.ErrorCode())
	})
}

func TestClassification(t *testing.T) {
	ref := CodeRef{Plugin: "p", Ref: "m.e"}
	remote := NewRemoteLoadFailureError(ref, errChunkLoad)
	runtime := NewRuntimeFaultError("uid-1", stderrors.New("boom"), "")
	contract := NewContractMismatchError("uid-2", "a.ext/x", "bad", nil)

	tests := []struct {
		name     string
		err      error
		remote   bool
		runtime  bool
		contract bool
	}{
		{"nil", nil, false, false, false},
		{"plain", stderrors.New("plain"), false, false, false},
		{"remote", remote, true, false, false},
		{"runtime", runtime, false, true, false},
		{"contract", contract, false, false, true},
		{"wrapped remote", fmt.Errorf("resolving: %w", remote), true, false, false},
		{"joined", stderrors.Join(remote, contract), true, false, true},
		{"joined in wrap", fmt.Errorf("refresh: %w", stderrors.Join(runtime)), false, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.remote, IsRemoteLoadFailure(tt.err))
			assert.Equal(t, tt.runtime, IsRuntimeFault(tt.err))
			assert.Equal(t, tt.contract, IsContractMismatch(tt.err))
		})
	}
}

func TestNoticeFor(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Equal(t, Notice{Kind: NoticeNone}, NoticeFor(nil))
	})

	t.Run("remote load failure asks for reload", func(t *testing.T) {
		n := NoticeFor(NewRemoteLoadFailureError(CodeRef{Plugin: "p", Ref: "m"}, errChunkLoad))
		assert.Equal(t, NoticeReload, n.Kind)
		assert.Equal(t, []string{"reload"}, n.Actions)
		assert.NotEmpty(t, n.Details)
	})

	t.Run("runtime fault carries the trace", func(t *testing.T) {
		n := NoticeFor(NewRuntimeFaultError("uid-1", stderrors.New("boom"), "goroutine 7 [running]"))
		assert.Equal(t, NoticeRuntime, n.Kind)
		assert.Contains(t, n.Details, "goroutine 7 [running]")
		assert.Equal(t, []string{"show-details", "dismiss"}, n.Actions)
	})

	t.Run("contract mismatch is silent", func(t *testing.T) {
		n := NoticeFor(NewContractMismatchError("uid", "a.ext/x", "bad", nil))
		assert.Equal(t, NoticeNone, n.Kind)
	})

	t.Run("remote failure wins in a joined error", func(t *testing.T) {
		err := stderrors.Join(
			NewContractMismatchError("uid", "a.ext/x", "bad", nil),
			NewRemoteLoadFailureError(CodeRef{Plugin: "p", Ref: "m"}, errChunkLoad),
		)
		assert.Equal(t, NoticeReload, NoticeFor(err).Kind)
	})

	t.Run("anything else is incomplete", func(t *testing.T) {
		n := NoticeFor(NewModuleNotFoundError("pages"))
		require.Equal(t, NoticeIncomplete, n.Kind)
		assert.NotEmpty(t, n.Message)
	})
}
