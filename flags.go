// flags.go: Feature flags computed from plugin contributions
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
)

// ModelChecker reports whether the backend serves a model, e.g. a resource
// kind. Hosts supply it; it is how model-backed feature flags are decided.
type ModelChecker func(ctx context.Context, model string) (bool, error)

// FlagAggregator computes feature flags from two kinds of extensions and
// writes the result into the store:
//
//   - host.flag/model enables Flag when Model is available
//   - host.flag/hook-provider hooks return flag values; a flag is enabled
//     when any provider enables it
//
// Providers are bridged per uid, so a provider that goes away takes its
// contributions with it.
type FlagAggregator struct {
	resolver *Resolver
	models   ModelChecker
	logger   Logger

	bridge      *StateBridge[map[string]bool]
	unsubscribe func()

	mu       sync.Mutex
	byUID    map[string]map[string]bool
	fromHook map[string]bool
}

// NewFlagAggregator creates an aggregator writing to resolver's store.
// models may be nil, in which case model-backed flags are left untouched.
func NewFlagAggregator(resolver *Resolver, models ModelChecker, logger Logger, metrics *Metrics) *FlagAggregator {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	fa := &FlagAggregator{
		resolver: resolver,
		models:   models,
		logger:   logger,
		byUID:    make(map[string]map[string]bool),
		fromHook: make(map[string]bool),
	}
	fa.bridge = MountStateBridge(fa.set, fa.evict,
		WithBridgeLogger[map[string]bool](logger),
		WithBridgeMetrics[map[string]bool](metrics),
		WithBridgeDiagnostics[map[string]bool](resolver.Diagnostics()),
	)
	fa.unsubscribe = resolver.Store().Subscribe(func(event StoreEvent) {
		if event.Type == StoreEventPluginRemoved {
			fa.bridge.Release(event.UIDs)
		}
	})
	return fa
}

func (fa *FlagAggregator) set(uid string, flags map[string]bool) {
	fa.mu.Lock()
	copied := make(map[string]bool, len(flags))
	for k, v := range flags {
		copied[k] = v
	}
	fa.byUID[uid] = copied
	fa.mu.Unlock()
}

func (fa *FlagAggregator) evict(uid string) {
	fa.mu.Lock()
	delete(fa.byUID, uid)
	fa.mu.Unlock()
}

// Refresh evaluates every flag contribution once and applies the combined
// values to the store.
func (fa *FlagAggregator) Refresh(ctx context.Context) error {
	if !fa.resolver.Store().DiscoveryComplete() {
		return nil
	}

	var errs []error
	values := make(map[string]bool)

	models, _ := GetExtensions(fa.resolver, IsFeatureFlag)
	for _, ext := range models {
		if fa.models == nil {
			// undecided; host configured values stand
			continue
		}
		enabled := false
		if ext.Properties.Model != "" {
			available, err := fa.models(ctx, ext.Properties.Model)
			if err != nil {
				fa.logger.Warn("Model availability check failed",
					"uid", ext.UID, "model", ext.Properties.Model, "error", err)
				errs = append(errs, err)
				continue
			}
			enabled = available
		}
		values[ext.Properties.Flag] = values[ext.Properties.Flag] || enabled
	}

	providers, _, err := ResolveExtensions(ctx, fa.resolver, IsFlagHookProvider)
	errs = append(errs, err)
	bindings, bindErrs := HooksFromResolved[FlagHookProperties, map[string]bool](providers, "handler")
	errs = append(errs, bindErrs...)
	if err := fa.bridge.Sync(bindings); err != nil {
		return err
	}
	for _, fault := range fa.bridge.Render(ctx) {
		errs = append(errs, fault)
	}

	fa.mu.Lock()
	current := make(map[string]bool)
	for _, flags := range fa.byUID {
		for name, enabled := range flags {
			current[name] = current[name] || enabled
		}
	}
	// Flags a provider stopped reporting fall back to disabled.
	for name := range fa.fromHook {
		if _, still := current[name]; !still {
			current[name] = false
		}
	}
	fa.fromHook = make(map[string]bool, len(current))
	for name := range current {
		fa.fromHook[name] = true
	}
	fa.mu.Unlock()

	for name, enabled := range current {
		values[name] = values[name] || enabled
	}
	fa.resolver.Store().SetFlags(values)
	return stderrors.Join(errs...)
}

// Contributions returns the flags reported by each provider uid, sorted by
// uid.
func (fa *FlagAggregator) Contributions() []FlagContribution {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	out := make([]FlagContribution, 0, len(fa.byUID))
	for uid, flags := range fa.byUID {
		copied := make(map[string]bool, len(flags))
		for k, v := range flags {
			copied[k] = v
		}
		out = append(out, FlagContribution{UID: uid, Flags: copied})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// FlagContribution is the flag set reported by one provider.
type FlagContribution struct {
	UID   string          `json:"uid"`
	Flags map[string]bool `json:"flags"`
}

// Close unmounts the provider bridge.
func (fa *FlagAggregator) Close() {
	fa.unsubscribe()
	fa.bridge.Unmount()
}
