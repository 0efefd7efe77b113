// resolver.go: Typed, memoized extension queries over the record store
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"context"
	stderrors "errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger sets the logger.
func WithResolverLogger(logger Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// WithResolverMetrics sets the metrics sink.
func WithResolverMetrics(metrics *Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = metrics }
}

// WithResolveConcurrency bounds the number of extensions resolved in
// parallel by ResolveExtensions.
func WithResolveConcurrency(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithPrefetch controls whether GetExtensions starts materializing the code
// references of matched extensions in the background. Enabled by default.
func WithPrefetch(enabled bool) ResolverOption {
	return func(r *Resolver) { r.prefetch = enabled }
}

// Resolver answers typed queries over an ExtensionStore.
//
// Results are memoized per predicate id and store version: as long as the
// store does not change, repeated queries return the same slice, so callers
// can compare results by identity to skip work.
type Resolver struct {
	store        *ExtensionStore
	materializer *Materializer
	diagnostics  *Diagnostics
	logger       Logger
	metrics      *Metrics
	concurrency  int
	prefetch     bool

	mu       sync.Mutex
	matched  map[string]matchMemo
	resolved map[string]resolvedMemo

	unsubscribe func()
}

type matchMemo struct {
	version uint64
	value   any
}

type resolvedMemo struct {
	version uint64
	value   any
}

// NewResolver creates a resolver over store using m for code references.
func NewResolver(store *ExtensionStore, m *Materializer, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:        store,
		materializer: m,
		logger:       NewNoOpLogger(),
		concurrency:  8,
		prefetch:     true,
		matched:      make(map[string]matchMemo),
		resolved:     make(map[string]resolvedMemo),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.diagnostics = NewDiagnostics(r.logger)
	r.diagnostics.Discovered(store.AllRecords())
	r.unsubscribe = store.Subscribe(r.onStoreEvent)
	return r
}

// Store returns the underlying store.
func (r *Resolver) Store() *ExtensionStore { return r.store }

// Materializer returns the materializer used for code references.
func (r *Resolver) Materializer() *Materializer { return r.materializer }

// Diagnostics returns the lifecycle tracker.
func (r *Resolver) Diagnostics() *Diagnostics { return r.diagnostics }

// Close detaches the resolver from its store.
func (r *Resolver) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}

func (r *Resolver) onStoreEvent(event StoreEvent) {
	switch event.Type {
	case StoreEventPluginAdded:
		var added []ExtensionRecord
		for _, uid := range event.UIDs {
			if rec, ok := r.store.Record(uid); ok {
				added = append(added, rec)
			}
		}
		r.diagnostics.Discovered(added)
	case StoreEventPluginRemoved:
		r.diagnostics.Removed(event.UIDs)
		if r.materializer != nil {
			r.materializer.EvictPlugin(event.Plugin)
		}
	}

	r.mu.Lock()
	for id, memo := range r.matched {
		if memo.version < event.Version {
			delete(r.matched, id)
		}
	}
	for id, memo := range r.resolved {
		if memo.version < event.Version {
			delete(r.resolved, id)
		}
	}
	r.mu.Unlock()
}

// GetExtensions returns the in-use extensions matching pred in store order.
//
// settled is true once discovery has completed and every code reference of
// every matched extension has finished materializing, successfully or not.
// Before discovery completes the result is (nil, false).
//
// Records whose properties do not fit P are logged, recorded as rejected,
// and left out.
func GetExtensions[P any](r *Resolver, pred Predicate[P]) ([]Extension[P], bool) {
	extensions, version, complete := matchExtensions(r, pred)
	if !complete {
		return nil, false
	}

	settled := true
	for _, ext := range extensions {
		for _, field := range codeRefFields(ext.Properties) {
			status := r.materializer.Status(field.ref)
			if status == RefUnrequested && r.prefetch {
				r.materializer.Prefetch(field.ref)
				status = r.materializer.Status(field.ref)
			}
			if !status.Settled() {
				settled = false
			}
		}
	}

	r.logger.Debug("Resolved extension query", "predicate", pred.ID(), "version", version,
		"extensions", len(extensions), "settled", settled)
	return extensions, settled
}

// matchExtensions narrows the store snapshot, reusing the memoized slice
// when the store version has not changed.
func matchExtensions[P any](r *Resolver, pred Predicate[P]) ([]Extension[P], uint64, bool) {
	records, version, complete := r.store.Snapshot()
	if !complete {
		return nil, version, false
	}

	r.mu.Lock()
	if memo, ok := r.matched[pred.ID()]; ok && memo.version == version {
		if cached, isP := memo.value.([]Extension[P]); isP {
			r.mu.Unlock()
			return cached, version, true
		}
	}
	r.mu.Unlock()

	extensions := make([]Extension[P], 0)
	for _, rec := range records {
		ext, matched, err := pred.Narrow(rec)
		if err != nil {
			r.logger.Warn("Excluding extension with mismatched contract",
				"uid", rec.UID, "type", rec.Type, "plugin", rec.PluginName, "error", err)
			r.metrics.recordContractMismatch(rec.Type)
			r.diagnostics.Transition(rec.UID, StateNarrowing, nil)
			r.diagnostics.Transition(rec.UID, StateRejected, err)
			continue
		}
		if matched {
			extensions = append(extensions, ext)
		}
	}

	r.mu.Lock()
	if memo, ok := r.matched[pred.ID()]; ok && memo.version == version {
		if cached, isP := memo.value.([]Extension[P]); isP {
			r.mu.Unlock()
			return cached, version, true
		}
	}
	r.matched[pred.ID()] = matchMemo{version: version, value: extensions}
	r.mu.Unlock()

	return extensions, version, true
}

// ResolveExtensions returns the matched extensions with every code reference
// materialized, waiting for pending fetches.
//
// Extensions whose references fail to materialize are rejected: they are
// left out of the result and their errors are joined into err. The result is
// settled once discovery has completed; before that it is (nil, false, nil).
func ResolveExtensions[P any](ctx context.Context, r *Resolver, pred Predicate[P]) ([]ResolvedExtension[P], bool, error) {
	extensions, version, complete := matchExtensions(r, pred)
	if !complete {
		return nil, false, nil
	}

	r.mu.Lock()
	if memo, ok := r.resolved[pred.ID()]; ok && memo.version == version {
		if cached, isP := memo.value.([]ResolvedExtension[P]); isP {
			r.mu.Unlock()
			return cached, true, nil
		}
	}
	r.mu.Unlock()

	results := make([]*ResolvedExtension[P], len(extensions))
	failures := make([]error, len(extensions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, ext := range extensions {
		g.Go(func() error {
			resolved, err := resolveOne(gctx, r, ext)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				failures[i] = err
				return nil
			}
			results[i] = &resolved
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	out := make([]ResolvedExtension[P], 0, len(extensions))
	for _, res := range results {
		if res != nil {
			out = append(out, *res)
		}
	}
	joined := stderrors.Join(failures...)

	if joined == nil {
		r.mu.Lock()
		if memo, ok := r.resolved[pred.ID()]; ok && memo.version == version {
			if cached, isP := memo.value.([]ResolvedExtension[P]); isP {
				r.mu.Unlock()
				return cached, true, nil
			}
		}
		if r.store.Version() == version {
			r.resolved[pred.ID()] = resolvedMemo{version: version, value: out}
		}
		r.mu.Unlock()
	}
	return out, true, joined
}

// PeekResolvedExtensions returns the matched extensions whose code
// references are all materialized, without waiting. Missing references are
// prefetched. settled is true when nothing is pending anymore.
func PeekResolvedExtensions[P any](r *Resolver, pred Predicate[P]) ([]ResolvedExtension[P], bool) {
	if !r.store.DiscoveryComplete() {
		return nil, false
	}
	extensions, _ := GetExtensions(r, pred)

	settled := true
	out := make([]ResolvedExtension[P], 0, len(extensions))
	for _, ext := range extensions {
		resolved := make(map[string]any)
		ready := true
		for _, field := range codeRefFields(ext.Properties) {
			value, ok := r.materializer.Peek(field.ref)
			if !ok {
				ready = false
				if !r.materializer.Status(field.ref).Settled() {
					settled = false
				}
				continue
			}
			resolved[field.name] = value
		}
		if ready {
			out = append(out, ResolvedExtension[P]{Extension: ext, Resolved: resolved})
		}
	}
	return out, settled
}

// resolveOne materializes every code reference of ext.
func resolveOne[P any](ctx context.Context, r *Resolver, ext Extension[P]) (ResolvedExtension[P], error) {
	r.diagnostics.Transition(ext.UID, StateNarrowing, nil)

	fields := codeRefFields(ext.Properties)
	resolved := make(map[string]any, len(fields))
	for _, field := range fields {
		value, err := r.materializer.Materialize(ctx, field.ref)
		if err != nil {
			if ctx.Err() == nil {
				r.logger.Warn("Rejecting extension with unresolvable code reference",
					"uid", ext.UID, "plugin", ext.PluginName, "field", field.name,
					"code_ref", field.ref.String(), "error", err)
				r.diagnostics.Transition(ext.UID, StateRejected, err)
			}
			return ResolvedExtension[P]{}, err
		}
		resolved[field.name] = value
	}

	r.diagnostics.Transition(ext.UID, StateResolved, nil)
	return ResolvedExtension[P]{Extension: ext, Resolved: resolved}, nil
}
