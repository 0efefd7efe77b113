// bridge.go: Per-extension adapters feeding plugin hooks into host state
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"reflect"
	"sync"
)

// Hook is a plugin-supplied subscription evaluated on every render pass.
type Hook[V any] func(ctx context.Context) (V, error)

// ErrNoValue is returned by a hook that has nothing to report yet. The
// adapter skips the pass without notifying or faulting.
var ErrNoValue = stderrors.New("hook has no value yet")

// HookBinding attaches a hook to the uid of the extension contributing it.
type HookBinding[V any] struct {
	UID  string
	Hook Hook[V]
}

// BridgeOption configures a StateBridge.
type BridgeOption[V any] func(*StateBridge[V])

// WithBridgeLogger sets the logger.
func WithBridgeLogger[V any](logger Logger) BridgeOption[V] {
	return func(b *StateBridge[V]) { b.logger = logger }
}

// WithBridgeMetrics sets the metrics sink.
func WithBridgeMetrics[V any](metrics *Metrics) BridgeOption[V] {
	return func(b *StateBridge[V]) { b.metrics = metrics }
}

// WithBridgeDiagnostics marks mounted adapters active in d.
func WithBridgeDiagnostics[V any](d *Diagnostics) BridgeOption[V] {
	return func(b *StateBridge[V]) { b.diagnostics = d }
}

// WithEqual sets the comparison deciding whether a hook value changed.
// The default is reflect.DeepEqual.
func WithEqual[V any](equal func(a, b V) bool) BridgeOption[V] {
	return func(b *StateBridge[V]) { b.equal = equal }
}

// WithFaultHandler is called once for each new runtime fault.
func WithFaultHandler[V any](fn func(uid string, fault error)) BridgeOption[V] {
	return func(b *StateBridge[V]) { b.onFault = fn }
}

// StateBridge mounts one adapter per extension uid. Each adapter evaluates
// exactly one hook, so the set of hooks may grow and shrink between passes
// while every adapter keeps a fixed shape.
//
// For a given uid, onNotify fires once per value change and onUnmount fires
// exactly once when the uid leaves the bound set. No onNotify follows the
// onUnmount of its uid. Calls for different uids are not ordered relative to
// each other; onNotify and onUnmount are never called concurrently and must
// not call back into the bridge.
//
// A hook that fails or panics faults its own adapter only. The fault is
// returned from Render and the adapter stays quiet until dismissed.
//
// Example:
//
//	bridge := goextensions.MountStateBridge(
//	    func(uid string, r StatusReport) { board.Set(uid, r) },
//	    func(uid string) { board.Delete(uid) },
//	)
//	defer bridge.Unmount()
//	_ = bridge.Sync(bindings)
//	faults := bridge.Render(ctx)
type StateBridge[V any] struct {
	onNotify  func(uid string, value V)
	onUnmount func(uid string)
	onFault   func(uid string, fault error)
	equal     func(a, b V) bool

	logger      Logger
	metrics     *Metrics
	diagnostics *Diagnostics

	mu        sync.Mutex
	adapters  map[string]*hookAdapter[V]
	order     []string
	unmounted bool

	callbackMu sync.Mutex
}

type hookAdapter[V any] struct {
	uid string

	mu        sync.Mutex
	hook      Hook[V]
	hasValue  bool
	last      V
	fault     error
	torndown  bool
	rendering bool
}

// MountStateBridge creates a bridge with no adapters.
func MountStateBridge[V any](onNotify func(uid string, value V), onUnmount func(uid string), opts ...BridgeOption[V]) *StateBridge[V] {
	b := &StateBridge[V]{
		onNotify:  onNotify,
		onUnmount: onUnmount,
		equal:     func(a, b V) bool { return reflect.DeepEqual(a, b) },
		logger:    NewNoOpLogger(),
		adapters:  make(map[string]*hookAdapter[V]),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Sync reconciles the adapters with bindings. New uids are mounted, removed
// uids are torn down and reported through onUnmount, and hooks of kept uids
// are replaced. Duplicate uids keep their first binding.
func (b *StateBridge[V]) Sync(bindings []HookBinding[V]) error {
	b.mu.Lock()
	if b.unmounted {
		b.mu.Unlock()
		return NewBridgeUnmountedError()
	}

	wanted := make(map[string]Hook[V], len(bindings))
	order := make([]string, 0, len(bindings))
	for _, binding := range bindings {
		if binding.UID == "" || binding.Hook == nil {
			continue
		}
		if _, dup := wanted[binding.UID]; dup {
			continue
		}
		wanted[binding.UID] = binding.Hook
		order = append(order, binding.UID)
	}

	var removed []*hookAdapter[V]
	for uid, adapter := range b.adapters {
		if _, keep := wanted[uid]; !keep {
			removed = append(removed, adapter)
			delete(b.adapters, uid)
		}
	}

	mounted := 0
	for _, uid := range order {
		if adapter, ok := b.adapters[uid]; ok {
			adapter.mu.Lock()
			adapter.hook = wanted[uid]
			adapter.mu.Unlock()
			if b.diagnostics != nil {
				b.diagnostics.Transition(uid, StateActive, nil)
			}
			continue
		}
		b.adapters[uid] = &hookAdapter[V]{uid: uid, hook: wanted[uid]}
		mounted++
		if b.diagnostics != nil {
			b.diagnostics.Transition(uid, StateActive, nil)
		}
	}
	b.order = order
	b.mu.Unlock()

	b.metrics.addAdapters(mounted - len(removed))
	if mounted > 0 || len(removed) > 0 {
		b.logger.Debug("Synchronized state bridge adapters",
			"mounted", mounted, "removed", len(removed), "active", len(order))
	}
	for _, adapter := range removed {
		b.teardown(adapter)
	}
	return nil
}

// Render evaluates every mounted, non-faulted adapter once. Adapters run
// concurrently; a slow hook delays only its own notification. It returns
// the runtime faults raised during this pass keyed by uid.
func (b *StateBridge[V]) Render(ctx context.Context) map[string]error {
	b.mu.Lock()
	if b.unmounted {
		b.mu.Unlock()
		return nil
	}
	adapters := make([]*hookAdapter[V], 0, len(b.order))
	for _, uid := range b.order {
		adapters = append(adapters, b.adapters[uid])
	}
	b.mu.Unlock()

	var (
		wg       sync.WaitGroup
		faultsMu sync.Mutex
		faults   = make(map[string]error)
	)
	for _, adapter := range adapters {
		wg.Add(1)
		go func(a *hookAdapter[V]) {
			defer wg.Done()
			if fault := b.renderAdapter(ctx, a); fault != nil {
				faultsMu.Lock()
				faults[a.uid] = fault
				faultsMu.Unlock()
			}
		}(adapter)
	}
	wg.Wait()

	if len(faults) == 0 {
		return nil
	}
	return faults
}

func (b *StateBridge[V]) renderAdapter(ctx context.Context, a *hookAdapter[V]) error {
	a.mu.Lock()
	if a.torndown || a.fault != nil || a.rendering {
		a.mu.Unlock()
		return nil
	}
	a.rendering = true
	hook := a.hook
	a.mu.Unlock()

	pending := false
	value, err := invokeIsolated(a.uid, func() (V, error) {
		v, err := hook(ctx)
		if stderrors.Is(err, ErrNoValue) {
			pending = true
			return v, nil
		}
		return v, err
	})

	a.mu.Lock()
	defer a.mu.Unlock()
	a.rendering = false
	if a.torndown || pending {
		return nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		a.fault = err
		b.logger.Error("Extension hook failed", "uid", a.uid, "error", err)
		b.metrics.recordRuntimeFault(pluginOfUID(b.diagnostics, a.uid))
		if b.onFault != nil {
			b.callback(func() { b.onFault(a.uid, err) })
		}
		return err
	}
	if a.hasValue && b.equal(a.last, value) {
		return nil
	}
	a.last = value
	a.hasValue = true
	if b.onNotify != nil {
		b.callback(func() { b.onNotify(a.uid, value) })
	}
	return nil
}

// Dismiss clears the fault of uid so the next Render evaluates it again.
// It reports whether a fault was cleared.
func (b *StateBridge[V]) Dismiss(uid string) bool {
	b.mu.Lock()
	adapter, ok := b.adapters[uid]
	b.mu.Unlock()
	if !ok {
		return false
	}
	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if adapter.fault == nil {
		return false
	}
	adapter.fault = nil
	b.logger.Info("Dismissed extension fault", "uid", uid)
	return true
}

// Release tears down the adapters of uids, as when the plugin contributing
// them is removed. A later Sync binding the same uid mounts a fresh adapter
// with no value and no fault.
func (b *StateBridge[V]) Release(uids []string) {
	b.mu.Lock()
	if b.unmounted {
		b.mu.Unlock()
		return
	}
	released := make(map[string]bool, len(uids))
	var removed []*hookAdapter[V]
	for _, uid := range uids {
		if adapter, ok := b.adapters[uid]; ok {
			removed = append(removed, adapter)
			released[uid] = true
			delete(b.adapters, uid)
		}
	}
	if len(removed) > 0 {
		order := make([]string, 0, len(b.order))
		for _, uid := range b.order {
			if !released[uid] {
				order = append(order, uid)
			}
		}
		b.order = order
	}
	b.mu.Unlock()

	if len(removed) == 0 {
		return
	}
	b.metrics.addAdapters(-len(removed))
	b.logger.Debug("Released state bridge adapters", "released", len(removed))
	for _, adapter := range removed {
		b.teardown(adapter)
	}
}

// Faults returns the current faults keyed by uid.
func (b *StateBridge[V]) Faults() map[string]error {
	b.mu.Lock()
	adapters := make([]*hookAdapter[V], 0, len(b.adapters))
	for _, a := range b.adapters {
		adapters = append(adapters, a)
	}
	b.mu.Unlock()

	out := make(map[string]error)
	for _, a := range adapters {
		a.mu.Lock()
		if a.fault != nil {
			out[a.uid] = a.fault
		}
		a.mu.Unlock()
	}
	return out
}

// UIDs returns the mounted uids in binding order.
func (b *StateBridge[V]) UIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// Unmount tears down every adapter. Further Sync calls fail and Render
// does nothing.
func (b *StateBridge[V]) Unmount() {
	b.mu.Lock()
	if b.unmounted {
		b.mu.Unlock()
		return
	}
	b.unmounted = true
	adapters := make([]*hookAdapter[V], 0, len(b.order))
	for _, uid := range b.order {
		adapters = append(adapters, b.adapters[uid])
	}
	b.adapters = make(map[string]*hookAdapter[V])
	b.order = nil
	b.mu.Unlock()

	b.metrics.addAdapters(-len(adapters))
	for _, adapter := range adapters {
		b.teardown(adapter)
	}
	b.logger.Debug("State bridge unmounted", "adapters", len(adapters))
}

// teardown marks the adapter dead before reporting the removal, so a render
// finishing concurrently cannot notify afterwards.
func (b *StateBridge[V]) teardown(a *hookAdapter[V]) {
	a.mu.Lock()
	if a.torndown {
		a.mu.Unlock()
		return
	}
	a.torndown = true
	a.mu.Unlock()

	if b.onUnmount != nil {
		b.callback(func() { b.onUnmount(a.uid) })
	}
}

// callback serializes host callbacks and contains their panics.
func (b *StateBridge[V]) callback(fn func()) {
	b.callbackMu.Lock()
	defer b.callbackMu.Unlock()
	defer withStackRecover(b.logger)()
	fn()
}

func pluginOfUID(d *Diagnostics, uid string) string {
	if d == nil {
		return ""
	}
	if entry, ok := d.Get(uid); ok {
		return entry.PluginName
	}
	return ""
}

// AsHook converts a materialized value into a Hook[V]. Functions of the
// usual shapes are adapted; any other value becomes a hook returning that
// value, converted through JSON when it is plain data from a remote
// container.
func AsHook[V any](value any) (Hook[V], error) {
	switch fn := value.(type) {
	case Hook[V]:
		return fn, nil
	case func(context.Context) (V, error):
		return fn, nil
	case func() (V, error):
		return func(context.Context) (V, error) { return fn() }, nil
	case func() V:
		return func(context.Context) (V, error) { return fn(), nil }, nil
	case V:
		return func(context.Context) (V, error) { return fn, nil }, nil
	case nil:
		return nil, fmt.Errorf("nil value cannot be used as a hook")
	}

	if reflect.TypeOf(value).Kind() == reflect.Func {
		return nil, fmt.Errorf("function of type %T cannot be used as a hook", value)
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("value of type %T cannot be used as a hook: %w", value, err)
	}
	var converted V
	if err := json.Unmarshal(raw, &converted); err != nil {
		return nil, fmt.Errorf("value of type %T cannot be used as a hook: %w", value, err)
	}
	return func(context.Context) (V, error) { return converted, nil }, nil
}

// HooksFromResolved builds hook bindings from the field of resolved
// extensions. Extensions whose value cannot be used as a Hook[V] are left
// out and reported as contract mismatches.
func HooksFromResolved[P any, V any](resolved []ResolvedExtension[P], field string) ([]HookBinding[V], []error) {
	bindings := make([]HookBinding[V], 0, len(resolved))
	var errs []error
	for _, r := range resolved {
		value, ok := r.Resolved[field]
		if !ok {
			errs = append(errs, NewContractMismatchError(r.Extension.UID, r.Extension.Type,
				fmt.Sprintf("field %q was not resolved", field), nil))
			continue
		}
		hook, err := AsHook[V](value)
		if err != nil {
			errs = append(errs, NewContractMismatchError(r.Extension.UID, r.Extension.Type,
				fmt.Sprintf("field %q is not a hook", field), err))
			continue
		}
		bindings = append(bindings, HookBinding[V]{UID: r.Extension.UID, Hook: hook})
	}
	return bindings, errs
}
