// circuit_breaker_test.go: Tests for per-plugin container circuit breaking
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"sync"
	"testing"
	"time"
)

// TestCircuitBreakerState_String tests state string representation
func TestCircuitBreakerState_String(t *testing.T) {
	assert := NewTestAssertions(t)

	testCases := []struct {
		state    CircuitBreakerState
		expected string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{CircuitBreakerState(99), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.AssertEqual(tc.expected, tc.state.String(), "state string representation")
		})
	}
}

func TestCircuitBreaker_Disabled(t *testing.T) {
	assert := NewTestAssertions(t)

	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}

	assert.AssertTrue(cb.AllowRequest(), "disabled breaker always allows")
	assert.AssertEqual(StateClosed, cb.GetState(), "disabled breaker stays closed")
	assert.AssertEqual(int64(5), cb.GetStats().TotalFailures, "failures are still counted")
}

func TestCircuitBreaker_TripsAfterThreshold(t *testing.T) {
	assert := NewTestAssertions(t)

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 3,
		RecoveryTimeout:  time.Hour,
	})

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	assert.AssertEqual(StateClosed, cb.GetState(), "a success resets consecutive failures")

	cb.RecordFailure()
	assert.AssertEqual(StateOpen, cb.GetState(), "third consecutive failure trips")
	assert.AssertFalse(cb.AllowRequest(), "open breaker rejects")

	stats := cb.GetStats()
	assert.AssertEqual(int64(5), stats.TotalFailures, "total failures")
	assert.AssertEqual(int64(1), stats.TotalSuccesses, "total successes")
	assert.AssertFalse(stats.OpenedAt.IsZero(), "opened at recorded")
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	assert := NewTestAssertions(t)

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 1,
		RecoveryTimeout:  20 * time.Millisecond,
		SuccessThreshold: 1,
	})

	cb.RecordFailure()
	assert.AssertFalse(cb.AllowRequest(), "rejects before recovery timeout")

	time.Sleep(60 * time.Millisecond)
	assert.AssertTrue(cb.AllowRequest(), "admits a probe after recovery timeout")
	assert.AssertEqual(StateHalfOpen, cb.GetState(), "half-open after recovery timeout")
	assert.AssertFalse(cb.AllowRequest(), "admits only SuccessThreshold probes")

	cb.RecordSuccess()
	assert.AssertEqual(StateClosed, cb.GetState(), "closes after successful probe")
	assert.AssertTrue(cb.AllowRequest(), "closed breaker allows")
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	assert := NewTestAssertions(t)

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 1,
		RecoveryTimeout:  20 * time.Millisecond,
	})

	cb.RecordFailure()
	time.Sleep(60 * time.Millisecond)
	assert.AssertTrue(cb.AllowRequest(), "probe admitted")

	cb.RecordFailure()
	assert.AssertEqual(StateOpen, cb.GetState(), "failed probe reopens")
}

func TestCircuitBreaker_Reset(t *testing.T) {
	assert := NewTestAssertions(t)

	cb := NewCircuitBreaker(CircuitBreakerConfig{Enabled: true, FailureThreshold: 1, RecoveryTimeout: time.Hour})
	cb.RecordFailure()
	assert.AssertEqual(StateOpen, cb.GetState(), "tripped")

	cb.Reset()
	assert.AssertEqual(StateClosed, cb.GetState(), "reset closes")
	assert.AssertTrue(cb.AllowRequest(), "reset allows")
	assert.AssertTrue(cb.GetStats().OpenedAt.IsZero(), "reset clears opened at")
}

func TestCircuitBreaker_ConcurrentRecording(t *testing.T) {
	assert := NewTestAssertions(t)

	cb := NewCircuitBreaker(CircuitBreakerConfig{Enabled: true, FailureThreshold: 1000, RecoveryTimeout: time.Hour})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				cb.RecordSuccess()
			} else {
				cb.RecordFailure()
			}
			cb.AllowRequest()
		}(i)
	}
	wg.Wait()

	stats := cb.GetStats()
	assert.AssertEqual(int64(25), stats.TotalSuccesses, "concurrent successes")
	assert.AssertEqual(int64(25), stats.TotalFailures, "concurrent failures")
}

func TestBreakerSet(t *testing.T) {
	assert := NewTestAssertions(t)

	set := newBreakerSet(CircuitBreakerConfig{Enabled: true, FailureThreshold: 1, RecoveryTimeout: time.Hour})
	set.get("monitoring").RecordFailure()

	assert.AssertTrue(set.get("monitoring") == set.get("monitoring"), "breakers are reused per plugin")
	assert.AssertEqual(StateOpen, set.stats()["monitoring"].State, "monitoring tripped")
	assert.AssertEqual(StateClosed, set.get("core").GetState(), "other plugins unaffected")

	set.remove("monitoring")
	assert.AssertEqual(StateClosed, set.get("monitoring").GetState(), "removal forgets the breaker")

	set.reset()
	assert.AssertEqual(0, len(set.stats()), "reset drops every breaker")
}
