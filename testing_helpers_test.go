// testing_helpers_test.go: Shared fixtures for extension runtime tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestEnvironment provides temp files with automatic cleanup.
type TestEnvironment struct {
	t       *testing.T
	dir     string
	cleanup []func()
	mu      sync.Mutex
}

// NewTestEnvironment creates a new test environment with automatic cleanup
func NewTestEnvironment(t *testing.T) *TestEnvironment {
	env := &TestEnvironment{t: t, dir: t.TempDir()}
	t.Cleanup(env.Cleanup)
	return env
}

// Dir returns the environment root directory.
func (te *TestEnvironment) Dir() string {
	return te.dir
}

// WriteFile writes content to a path relative to the environment root.
func (te *TestEnvironment) WriteFile(rel, content string) string {
	te.t.Helper()
	path := filepath.Join(te.dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		te.t.Fatalf("Failed to create dir for %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		te.t.Fatalf("Failed to write %s: %v", rel, err)
	}
	return path
}

// AddCleanupFunc adds a custom cleanup function
func (te *TestEnvironment) AddCleanupFunc(fn func()) {
	te.mu.Lock()
	defer te.mu.Unlock()
	te.cleanup = append(te.cleanup, fn)
}

// Cleanup runs registered cleanup functions in reverse order.
func (te *TestEnvironment) Cleanup() {
	te.mu.Lock()
	fns := te.cleanup
	te.cleanup = nil
	te.mu.Unlock()
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

// fakeContainer counts fetches and can fail or block them.
type fakeContainer struct {
	mu      sync.Mutex
	modules map[string]Module
	fail    map[string]error
	gate    chan struct{}
	panics  bool

	fetches atomic.Int64
}

func newFakeContainer() *fakeContainer {
	return &fakeContainer{
		modules: make(map[string]Module),
		fail:    make(map[string]error),
	}
}

func (c *fakeContainer) set(name string, mod Module) *fakeContainer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules[name] = mod
	delete(c.fail, name)
	return c
}

func (c *fakeContainer) failWith(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail[name] = err
}

// block makes fetches wait until the returned release function is called.
func (c *fakeContainer) block() (release func()) {
	gate := make(chan struct{})
	c.mu.Lock()
	c.gate = gate
	c.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (c *fakeContainer) Get(ctx context.Context, name string) (Module, error) {
	c.fetches.Add(1)

	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.panics {
		panic("container exploded")
	}
	if err, ok := c.fail[name]; ok {
		return nil, err
	}
	mod, ok := c.modules[name]
	if !ok {
		return nil, NewModuleNotFoundError(name)
	}
	out := make(Module, len(mod))
	for k, v := range mod {
		out[k] = v
	}
	return out, nil
}

var errChunkLoad = errors.New("chunk load error")

// testRuntime is a store, materializer and resolver wired together.
type testRuntime struct {
	store        *ExtensionStore
	materializer *Materializer
	resolver     *Resolver
	logger       *TestLogger
}

func newTestRuntime(t *testing.T, opts ...ResolverOption) *testRuntime {
	t.Helper()
	logger := NewTestLogger()
	store := NewExtensionStore(logger, nil)
	m := NewMaterializer(MaterializerConfig{FetchTimeout: 5 * time.Second}, WithMaterializerLogger(logger))
	r := NewResolver(store, m, append([]ResolverOption{WithResolverLogger(logger)}, opts...)...)
	t.Cleanup(r.Close)
	return &testRuntime{store: store, materializer: m, resolver: r, logger: logger}
}

// load adds a plugin with a container and its records.
func (rt *testRuntime) load(t *testing.T, plugin string, c Container, records ...ExtensionRecord) {
	t.Helper()
	if c != nil {
		rt.materializer.RegisterContainer(plugin, c)
	}
	if err := rt.store.AddPlugin(plugin, records); err != nil {
		t.Fatalf("AddPlugin(%s) failed: %v", plugin, err)
	}
}

func codeRef(ref string) map[string]any {
	return map[string]any{"$codeRef": ref}
}

func statusProvider(uid, title, ref string) ExtensionRecord {
	return ExtensionRecord{
		UID:  uid,
		Type: TypeStatusProvider,
		Properties: map[string]any{
			"title":         title,
			"healthHandler": codeRef(ref),
		},
	}
}

func route(uid, path, ref string) ExtensionRecord {
	return ExtensionRecord{
		UID:  uid,
		Type: TypeRoute,
		Properties: map[string]any{
			"path":      path,
			"component": codeRef(ref),
		},
	}
}

func staticHook[V any](v V) Hook[V] {
	return func(context.Context) (V, error) { return v, nil }
}

// eventually polls cond until it holds or the timeout passes.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// TestAssertions provides assertion helpers with uniform messages.
type TestAssertions struct {
	t *testing.T
}

// NewTestAssertions creates new test assertions helper
func NewTestAssertions(t *testing.T) *TestAssertions {
	return &TestAssertions{t: t}
}

// AssertNoError fails the test if err is not nil
func (ta *TestAssertions) AssertNoError(err error, context string) {
	ta.t.Helper()
	if err != nil {
		ta.t.Fatalf("%s: unexpected error: %v", context, err)
	}
}

// AssertError fails the test if err is nil
func (ta *TestAssertions) AssertError(err error, context string) {
	ta.t.Helper()
	if err == nil {
		ta.t.Fatalf("%s: expected error but got nil", context)
	}
}

// AssertEqual fails the test if values are not equal
func (ta *TestAssertions) AssertEqual(expected, actual interface{}, context string) {
	ta.t.Helper()
	if expected != actual {
		ta.t.Fatalf("%s: expected %v, got %v", context, expected, actual)
	}
}

// AssertTrue fails the test if condition is false
func (ta *TestAssertions) AssertTrue(condition bool, context string) {
	ta.t.Helper()
	if !condition {
		ta.t.Fatalf("%s: expected true, got false", context)
	}
}

// AssertFalse fails the test if condition is true
func (ta *TestAssertions) AssertFalse(condition bool, context string) {
	ta.t.Helper()
	if condition {
		ta.t.Fatalf("%s: expected false, got true", context)
	}
}
