// materializer.go: Lazy materialization of code references with shared fetches
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// RefStatus describes where a code reference is in its materialization.
type RefStatus int

const (
	RefUnrequested RefStatus = iota
	RefPending
	RefResolved
	RefFailed
)

func (s RefStatus) String() string {
	switch s {
	case RefUnrequested:
		return "unrequested"
	case RefPending:
		return "pending"
	case RefResolved:
		return "resolved"
	case RefFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Settled reports whether materialization has finished, successfully or not.
func (s RefStatus) Settled() bool {
	return s == RefResolved || s == RefFailed
}

// MaterializerConfig configures a Materializer.
type MaterializerConfig struct {
	// FetchTimeout bounds a single container fetch. The fetch is detached
	// from the requesting context so that other waiters still get the result
	// when the first requester goes away.
	FetchTimeout time.Duration `json:"fetch_timeout" yaml:"fetch_timeout"`

	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
}

// MaterializerOption configures optional collaborators.
type MaterializerOption func(*Materializer)

// WithMaterializerLogger sets the logger.
func WithMaterializerLogger(logger Logger) MaterializerOption {
	return func(m *Materializer) { m.logger = logger }
}

// WithMaterializerMetrics sets the metrics sink.
func WithMaterializerMetrics(metrics *Metrics) MaterializerOption {
	return func(m *Materializer) { m.metrics = metrics }
}

// Materializer turns CodeRefs into values by fetching modules from the
// owning plugin's Container.
//
// Modules are fetched once: concurrent first requests for the same module
// share one in-flight fetch and every caller observes the same result.
// Successful modules are cached until the plugin is evicted or the
// materializer is reset. Failures are never cached, so a later request
// issues a new fetch.
//
// A Materializer is an ordinary value. Hosts own one; tests create their own.
//
// Example:
//
//	m := goextensions.NewMaterializer(goextensions.MaterializerConfig{FetchTimeout: 10 * time.Second})
//	m.RegisterContainer("monitoring", container)
//	value, err := m.Materialize(ctx, ref)
//	if goextensions.IsRemoteLoadFailure(err) {
//	    // offer a reload
//	}
type Materializer struct {
	config  MaterializerConfig
	logger  Logger
	metrics *Metrics

	group    singleflight.Group
	breakers *breakerSet

	mu         sync.RWMutex
	containers map[string]Container
	modules    map[string]map[string]Module
	failures   map[string]error
	pending    map[string]int
	generation uint64
	pluginGen  map[string]uint64
}

// NewMaterializer creates a Materializer with no containers registered.
func NewMaterializer(config MaterializerConfig, opts ...MaterializerOption) *Materializer {
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 30 * time.Second
	}
	m := &Materializer{
		config:     config,
		logger:     NewNoOpLogger(),
		breakers:   newBreakerSet(config.CircuitBreaker),
		containers: make(map[string]Container),
		modules:    make(map[string]map[string]Module),
		failures:   make(map[string]error),
		pending:    make(map[string]int),
		pluginGen:  make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterContainer sets the container for plugin, replacing any previous
// one. Cached modules of the plugin are evicted.
func (m *Materializer) RegisterContainer(plugin string, c Container) {
	m.mu.Lock()
	_, replaced := m.containers[plugin]
	m.containers[plugin] = c
	if replaced {
		m.evictLocked(plugin)
	}
	m.mu.Unlock()

	m.logger.Debug("Registered plugin container", "plugin", plugin, "replaced", replaced)
}

// UnregisterContainer removes the container and evicts the plugin's modules.
func (m *Materializer) UnregisterContainer(plugin string) {
	m.mu.Lock()
	delete(m.containers, plugin)
	m.evictLocked(plugin)
	m.mu.Unlock()
	m.breakers.remove(plugin)

	m.logger.Debug("Unregistered plugin container", "plugin", plugin)
}

// EvictPlugin drops the cached modules of plugin. Fetches already in flight
// complete for their waiters but are not cached.
func (m *Materializer) EvictPlugin(plugin string) {
	m.mu.Lock()
	m.evictLocked(plugin)
	m.mu.Unlock()
}

func (m *Materializer) evictLocked(plugin string) {
	delete(m.modules, plugin)
	m.pluginGen[plugin]++
	for key := range m.failures {
		if refPlugin(key) == plugin {
			delete(m.failures, key)
		}
	}
}

// Reset drops every cached module and failure. Used on full host reload and
// between tests.
func (m *Materializer) Reset() {
	m.mu.Lock()
	m.modules = make(map[string]map[string]Module)
	m.failures = make(map[string]error)
	m.generation++
	m.mu.Unlock()
	m.breakers.reset()

	m.logger.Info("Materializer cache reset")
}

// Materialize returns the value exported at ref, fetching its module if
// needed. {default: V} wrappers unwrap to V.
//
// If ctx ends before the fetch completes, Materialize returns ctx.Err() and
// the fetch keeps running so its result is cached for later requests.
//
// Every fetch failure is reported as a remote load failure.
func (m *Materializer) Materialize(ctx context.Context, ref CodeRef) (any, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	if value, ok, err := m.peek(ref); ok || err != nil {
		if ok {
			m.metrics.recordCacheHit(ref.Plugin)
		}
		return value, err
	}

	ch := m.fetch(ctx, ref)
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		value, err := lookupExport(res.Val.(Module), ref)
		if err != nil {
			return nil, m.fail(ref, err)
		}
		return value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Prefetch starts materializing ref without waiting for it.
func (m *Materializer) Prefetch(ref CodeRef) {
	if ref.Validate() != nil {
		return
	}
	if _, ok, _ := m.peek(ref); ok {
		return
	}
	m.fetch(context.Background(), ref)
}

// Peek returns the value at ref if its module is already cached. It never
// starts a fetch.
func (m *Materializer) Peek(ref CodeRef) (any, bool) {
	value, ok, err := m.peek(ref)
	return value, ok && err == nil
}

func (m *Materializer) peek(ref CodeRef) (any, bool, error) {
	m.mu.RLock()
	mod, ok := m.modules[ref.Plugin][ref.Module()]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	value, err := lookupExport(mod, ref)
	if err != nil {
		return nil, false, m.fail(ref, err)
	}
	return value, true, nil
}

// Status reports the materialization status of ref.
func (m *Materializer) Status(ref CodeRef) RefStatus {
	key := moduleKey(ref)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if mod, ok := m.modules[ref.Plugin][ref.Module()]; ok {
		if _, found := mod[ref.Export()]; found {
			return RefResolved
		}
		return RefFailed
	}
	if m.pending[key] > 0 {
		return RefPending
	}
	if _, failed := m.failures[key]; failed {
		return RefFailed
	}
	return RefUnrequested
}

// LastError returns the error of the most recent failed fetch of ref's
// module, cleared when a new fetch starts.
func (m *Materializer) LastError(ref CodeRef) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failures[moduleKey(ref)]
}

// MaterializerStats is a snapshot of the materializer.
type MaterializerStats struct {
	Containers     int                            `json:"containers"`
	CachedModules  int                            `json:"cached_modules"`
	PendingModules int                            `json:"pending_modules"`
	FailedModules  int                            `json:"failed_modules"`
	Breakers       map[string]CircuitBreakerStats `json:"breakers"`
}

// Stats returns a snapshot of the cache and breaker state.
func (m *Materializer) Stats() MaterializerStats {
	m.mu.RLock()
	stats := MaterializerStats{
		Containers:    len(m.containers),
		FailedModules: len(m.failures),
	}
	for _, mods := range m.modules {
		stats.CachedModules += len(mods)
	}
	for _, n := range m.pending {
		if n > 0 {
			stats.PendingModules++
		}
	}
	m.mu.RUnlock()
	stats.Breakers = m.breakers.stats()
	return stats
}

// fetch joins or starts the shared fetch of ref's module.
func (m *Materializer) fetch(ctx context.Context, ref CodeRef) <-chan singleflight.Result {
	key := moduleKey(ref)

	m.mu.Lock()
	flightKey := fmt.Sprintf("%d.%d/%s", m.generation, m.pluginGen[ref.Plugin], key)
	m.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	return m.group.DoChan(flightKey, func() (interface{}, error) {
		return m.fetchModule(detached, ref, key)
	})
}

func (m *Materializer) fetchModule(ctx context.Context, ref CodeRef, key string) (mod interface{}, err error) {
	m.mu.Lock()
	if cached, hit := m.modules[ref.Plugin][ref.Module()]; hit {
		m.mu.Unlock()
		return cached, nil
	}
	generation, pluginGen := m.generation, m.pluginGen[ref.Plugin]
	container, ok := m.containers[ref.Plugin]
	delete(m.failures, key)
	m.pending[key]++
	m.mu.Unlock()

	var breaker *CircuitBreaker
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
			if breaker != nil {
				breaker.RecordFailure()
			}
		}
		if err != nil {
			err = NewRemoteLoadFailureError(ref, err)
		}
		m.metrics.recordFetch(ref.Plugin, start, err)
		m.settle(ref, key, generation, pluginGen, mod, err)
	}()

	if !ok {
		return nil, NewContainerNotFoundError(ref.Plugin)
	}

	breaker = m.breakers.get(ref.Plugin)
	if !breaker.AllowRequest() {
		return nil, NewCircuitOpenError(ref.Plugin)
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.FetchTimeout)
	defer cancel()

	m.logger.Debug("Fetching plugin module", "plugin", ref.Plugin, "module", ref.Module())
	fetched, err := container.Get(ctx, ref.Module())
	if err != nil {
		breaker.RecordFailure()
		return nil, err
	}
	breaker.RecordSuccess()
	if fetched == nil {
		fetched = Module{}
	}
	return fetched, nil
}

// settle records the outcome of a fetch. Results of fetches that started
// before an eviction or reset are not cached.
func (m *Materializer) settle(ref CodeRef, key string, generation, pluginGen uint64, mod interface{}, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending[key]--; m.pending[key] <= 0 {
		delete(m.pending, key)
	}
	if generation != m.generation || pluginGen != m.pluginGen[ref.Plugin] {
		return
	}
	if err != nil {
		m.failures[key] = err
		m.logger.Warn("Failed to fetch plugin module",
			"plugin", ref.Plugin, "module", ref.Module(), "error", err)
		return
	}
	if m.modules[ref.Plugin] == nil {
		m.modules[ref.Plugin] = make(map[string]Module)
	}
	m.modules[ref.Plugin][ref.Module()] = mod.(Module)
}

// fail wraps an export lookup error as a remote load failure.
func (m *Materializer) fail(ref CodeRef, err error) error {
	m.logger.Warn("Plugin module does not provide export",
		"plugin", ref.Plugin, "module", ref.Module(), "export", ref.Export())
	return NewRemoteLoadFailureError(ref, err)
}

// materializeAs materializes ref and converts the value to V.
func materializeAs[V any](ctx context.Context, m *Materializer, uid string, ref CodeRef) (V, error) {
	var zero V
	raw, err := m.Materialize(ctx, ref)
	if err != nil {
		return zero, err
	}
	v, ok := raw.(V)
	if !ok {
		return zero, NewContractMismatchError(uid, "",
			fmt.Sprintf("code reference %s resolved to %T", ref, raw), nil)
	}
	return v, nil
}

func moduleKey(ref CodeRef) string {
	return ref.Plugin + ":" + ref.Module()
}

func refPlugin(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return key
}
