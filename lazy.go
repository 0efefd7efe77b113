// lazy.go: Placeholder-backed handles for lazily materialized values
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"context"
	"sync"
)

// LazyState is the state of a LazyComponent.
type LazyState int

const (
	LazyIdle LazyState = iota
	LazyPending
	LazyReady
	LazyFailed
	LazyClosed
)

func (s LazyState) String() string {
	switch s {
	case LazyIdle:
		return "idle"
	case LazyPending:
		return "pending"
	case LazyReady:
		return "ready"
	case LazyFailed:
		return "failed"
	case LazyClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// LazyComponent is a consumer's handle on a code reference. While the value
// is pending, Value returns the placeholder; asking again does not start
// another materialization. A closed component ignores late results.
//
// Example:
//
//	page := goextensions.NewLazyComponent[Page](m, "route-1", route.Component, loadingPage)
//	page.OnSettled(requestRender)
//	current, state, err := page.Value()
type LazyComponent[V any] struct {
	materializer *Materializer
	uid          string
	ref          CodeRef
	placeholder  V

	mu        sync.Mutex
	state     LazyState
	value     V
	err       error
	attempt   uint64
	done      chan struct{}
	onSettled func()
}

// NewLazyComponent returns an idle component. Materialization starts on the
// first call to Value or Wait.
func NewLazyComponent[V any](m *Materializer, uid string, ref CodeRef, placeholder V) *LazyComponent[V] {
	return &LazyComponent[V]{
		materializer: m,
		uid:          uid,
		ref:          ref,
		placeholder:  placeholder,
		done:         make(chan struct{}),
	}
}

// OnSettled registers fn to run once each attempt settles. It is not called
// after Close.
func (l *LazyComponent[V]) OnSettled(fn func()) {
	l.mu.Lock()
	l.onSettled = fn
	l.mu.Unlock()
}

// Value returns the materialized value when ready, the placeholder otherwise.
// The error is set only in the LazyFailed state.
func (l *LazyComponent[V]) Value() (V, LazyState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == LazyIdle {
		l.startLocked()
	}
	switch l.state {
	case LazyReady:
		return l.value, l.state, nil
	case LazyFailed:
		return l.placeholder, l.state, l.err
	default:
		return l.placeholder, l.state, nil
	}
}

// Wait blocks until the current attempt settles or ctx ends.
func (l *LazyComponent[V]) Wait(ctx context.Context) (V, error) {
	l.mu.Lock()
	if l.state == LazyIdle {
		l.startLocked()
	}
	done := l.done
	l.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return l.placeholder, ctx.Err()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case LazyReady:
		return l.value, nil
	case LazyClosed:
		return l.placeholder, NewBridgeUnmountedError()
	default:
		return l.placeholder, l.err
	}
}

// Retry starts a new attempt after a failure. It returns false in any other
// state.
func (l *LazyComponent[V]) Retry() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != LazyFailed {
		return false
	}
	l.done = make(chan struct{})
	l.err = nil
	l.startLocked()
	return true
}

// Close detaches the component. A pending materialization still completes
// and is cached by the Materializer, but its result is not applied here.
func (l *LazyComponent[V]) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LazyClosed {
		return
	}
	prev := l.state
	l.state = LazyClosed
	l.onSettled = nil
	if prev == LazyIdle {
		close(l.done)
	}
}

// State returns the current state without starting materialization.
func (l *LazyComponent[V]) State() LazyState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// startLocked begins an attempt. Callers hold l.mu.
func (l *LazyComponent[V]) startLocked() {
	if value, ok := l.materializer.Peek(l.ref); ok {
		if v, isV := value.(V); isV {
			l.value = v
			l.state = LazyReady
			close(l.done)
			return
		}
	}

	l.state = LazyPending
	l.attempt++
	attempt := l.attempt
	done := l.done

	go func() {
		value, err := materializeAs[V](context.Background(), l.materializer, l.uid, l.ref)

		l.mu.Lock()
		if l.state == LazyClosed || l.attempt != attempt {
			if l.state == LazyClosed {
				close(done)
			}
			l.mu.Unlock()
			return
		}
		if err != nil {
			l.state = LazyFailed
			l.err = err
		} else {
			l.state = LazyReady
			l.value = value
		}
		notify := l.onSettled
		close(done)
		l.mu.Unlock()

		if notify != nil {
			notify()
		}
	}()
}
