// circuit_breaker.go: Per-plugin circuit breaking for container fetches
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// CircuitBreakerState is the state of a container fetch breaker.
type CircuitBreakerState int32

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the breaker guarding a plugin container.
type CircuitBreakerConfig struct {
	Enabled          bool          `json:"enabled" yaml:"enabled"`
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout" yaml:"recovery_timeout"`
	SuccessThreshold int           `json:"success_threshold" yaml:"success_threshold"`
}

// CircuitBreaker stops fetching from a plugin container after repeated
// failures, so a broken deployment fails fast instead of stalling every
// consumer for the full fetch timeout.
//
// Consecutive failures open the breaker. After RecoveryTimeout the next
// fetches run in half-open mode; SuccessThreshold successes close it again
// and any failure reopens it.
//
//	cb := NewCircuitBreaker(CircuitBreakerConfig{
//	    Enabled:          true,
//	    FailureThreshold: 3,
//	    RecoveryTimeout:  30 * time.Second,
//	    SuccessThreshold: 1,
//	})
//	if !cb.AllowRequest() {
//	    return errCircuitOpen
//	}
type CircuitBreaker struct {
	config CircuitBreakerConfig

	state            atomic.Int32
	failures         atomic.Int64
	halfOpenSuccess  atomic.Int64
	halfOpenInFlight atomic.Int64
	openedAt         atomic.Int64

	totalFailures  atomic.Int64
	totalSuccesses atomic.Int64

	mu sync.Mutex
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	cb := &CircuitBreaker{config: config}
	cb.state.Store(int32(StateClosed))
	return cb
}

// AllowRequest reports whether a fetch may proceed.
func (cb *CircuitBreaker) AllowRequest() bool {
	if !cb.config.Enabled {
		return true
	}

	switch CircuitBreakerState(cb.state.Load()) {
	case StateClosed:
		return true
	case StateOpen:
		if !cb.recoveryElapsed() {
			return false
		}
		cb.mu.Lock()
		if CircuitBreakerState(cb.state.Load()) == StateOpen && cb.recoveryElapsed() {
			cb.state.Store(int32(StateHalfOpen))
			cb.halfOpenSuccess.Store(0)
			cb.halfOpenInFlight.Store(0)
		}
		cb.mu.Unlock()
		return cb.admitHalfOpen()
	case StateHalfOpen:
		return cb.admitHalfOpen()
	default:
		return false
	}
}

func (cb *CircuitBreaker) admitHalfOpen() bool {
	if CircuitBreakerState(cb.state.Load()) != StateHalfOpen {
		return CircuitBreakerState(cb.state.Load()) == StateClosed
	}
	return cb.halfOpenInFlight.Add(1) <= int64(cb.config.SuccessThreshold)
}

// RecordSuccess records a completed fetch.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.totalSuccesses.Add(1)
	if !cb.config.Enabled {
		return
	}

	cb.failures.Store(0)
	if CircuitBreakerState(cb.state.Load()) != StateHalfOpen {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.halfOpenSuccess.Add(1) >= int64(cb.config.SuccessThreshold) {
		cb.state.Store(int32(StateClosed))
		cb.halfOpenSuccess.Store(0)
		cb.halfOpenInFlight.Store(0)
	}
}

// RecordFailure records a failed fetch.
func (cb *CircuitBreaker) RecordFailure() {
	cb.totalFailures.Add(1)
	if !cb.config.Enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch CircuitBreakerState(cb.state.Load()) {
	case StateHalfOpen:
		cb.trip()
	case StateClosed:
		if cb.failures.Add(1) >= int64(cb.config.FailureThreshold) {
			cb.trip()
		}
	}
}

// trip opens the breaker. Callers hold cb.mu.
func (cb *CircuitBreaker) trip() {
	cb.state.Store(int32(StateOpen))
	cb.openedAt.Store(timecache.CachedTimeNano())
	cb.failures.Store(0)
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	return CircuitBreakerState(cb.state.Load())
}

// GetStats returns a snapshot of the breaker counters.
func (cb *CircuitBreaker) GetStats() CircuitBreakerStats {
	stats := CircuitBreakerStats{
		State:               cb.GetState(),
		ConsecutiveFailures: cb.failures.Load(),
		TotalFailures:       cb.totalFailures.Load(),
		TotalSuccesses:      cb.totalSuccesses.Load(),
	}
	if opened := cb.openedAt.Load(); opened != 0 {
		stats.OpenedAt = time.Unix(0, opened)
	}
	return stats
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state.Store(int32(StateClosed))
	cb.failures.Store(0)
	cb.halfOpenSuccess.Store(0)
	cb.halfOpenInFlight.Store(0)
	cb.openedAt.Store(0)
}

func (cb *CircuitBreaker) recoveryElapsed() bool {
	opened := cb.openedAt.Load()
	if opened == 0 {
		return true
	}
	return time.Since(time.Unix(0, opened)) >= cb.config.RecoveryTimeout
}

// CircuitBreakerStats is a point-in-time view of a breaker.
type CircuitBreakerStats struct {
	State               CircuitBreakerState `json:"state"`
	ConsecutiveFailures int64               `json:"consecutive_failures"`
	TotalFailures       int64               `json:"total_failures"`
	TotalSuccesses      int64               `json:"total_successes"`
	OpenedAt            time.Time           `json:"opened_at,omitempty"`
}

// breakerSet lazily creates one breaker per plugin.
type breakerSet struct {
	config   CircuitBreakerConfig
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

func newBreakerSet(config CircuitBreakerConfig) *breakerSet {
	return &breakerSet{config: config, breakers: make(map[string]*CircuitBreaker)}
}

func (s *breakerSet) get(plugin string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.breakers[plugin]
	if !ok {
		cb = NewCircuitBreaker(s.config)
		s.breakers[plugin] = cb
	}
	return cb
}

func (s *breakerSet) remove(plugin string) {
	s.mu.Lock()
	delete(s.breakers, plugin)
	s.mu.Unlock()
}

func (s *breakerSet) reset() {
	s.mu.Lock()
	s.breakers = make(map[string]*CircuitBreaker)
	s.mu.Unlock()
}

func (s *breakerSet) stats() map[string]CircuitBreakerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]CircuitBreakerStats, len(s.breakers))
	for name, cb := range s.breakers {
		out[name] = cb.GetStats()
	}
	return out
}
