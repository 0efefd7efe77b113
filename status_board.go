// status_board.go: Host-owned aggregate of plugin status providers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"context"
	stderrors "errors"
	"reflect"
	"sync"
	"time"
)

// NamedStatus is the latest report of one status provider.
type NamedStatus struct {
	UID    string       `json:"uid"`
	Title  string       `json:"title"`
	Report StatusReport `json:"report"`
}

// StatusBoard collects the reports of every status provider and status
// poller extension and summarizes them.
//
// Each Refresh resolves the providers, reconciles pollers (starting new
// ones, stopping the ones whose extension went away or was gated off by a
// feature flag) and renders the bridge once.
type StatusBoard struct {
	resolver     *Resolver
	logger       Logger
	metrics      *Metrics
	pollInterval time.Duration
	pollTimeout  time.Duration

	bridge *StateBridge[StatusReport]

	unsubscribe func()

	mu      sync.RWMutex
	reports map[string]StatusReport
	titles  map[string]string
	order   []string
	pollers map[string]*boardPoller
}

// boardPoller is a running poller and the inputs it was built from.
type boardPoller struct {
	poller   *StatusPoller
	fetch    any
	interval time.Duration
}

// StatusBoardConfig configures a StatusBoard.
type StatusBoardConfig struct {
	DefaultPollInterval time.Duration `json:"default_poll_interval" yaml:"default_poll_interval"`
	PollTimeout         time.Duration `json:"poll_timeout" yaml:"poll_timeout"`
}

// NewStatusBoard creates a board over resolver.
func NewStatusBoard(resolver *Resolver, config StatusBoardConfig, logger Logger, metrics *Metrics) *StatusBoard {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	if config.DefaultPollInterval <= 0 {
		config.DefaultPollInterval = 30 * time.Second
	}
	sb := &StatusBoard{
		resolver:     resolver,
		logger:       logger,
		metrics:      metrics,
		pollInterval: config.DefaultPollInterval,
		pollTimeout:  config.PollTimeout,
		reports:      make(map[string]StatusReport),
		titles:       make(map[string]string),
		pollers:      make(map[string]*boardPoller),
	}
	sb.bridge = MountStateBridge(sb.set, sb.evict,
		WithBridgeLogger[StatusReport](logger),
		WithBridgeMetrics[StatusReport](metrics),
		WithBridgeDiagnostics[StatusReport](resolver.Diagnostics()),
	)
	sb.unsubscribe = resolver.Store().Subscribe(sb.onStoreEvent)
	return sb
}

// onStoreEvent stops the pollers and releases the adapters of a removed
// plugin, so a reload under the same uids starts from the new code.
func (sb *StatusBoard) onStoreEvent(event StoreEvent) {
	if event.Type != StoreEventPluginRemoved {
		return
	}
	var stopped []*StatusPoller
	sb.mu.Lock()
	for _, uid := range event.UIDs {
		if entry, ok := sb.pollers[uid]; ok {
			stopped = append(stopped, entry.poller)
			delete(sb.pollers, uid)
		}
	}
	sb.mu.Unlock()

	for _, poller := range stopped {
		poller.Stop()
	}
	sb.bridge.Release(event.UIDs)
	if len(stopped) > 0 {
		sb.logger.Debug("Stopped pollers of removed plugin", "plugin", event.Plugin, "pollers", len(stopped))
	}
}

func (sb *StatusBoard) set(uid string, report StatusReport) {
	sb.mu.Lock()
	sb.reports[uid] = report
	sb.mu.Unlock()
}

func (sb *StatusBoard) evict(uid string) {
	sb.mu.Lock()
	delete(sb.reports, uid)
	sb.mu.Unlock()
}

// Refresh resolves providers and renders one pass. The returned error joins
// resolution failures and runtime faults of this pass.
func (sb *StatusBoard) Refresh(ctx context.Context) error {
	providers, settled, resolveErr := ResolveExtensions(ctx, sb.resolver, IsStatusProvider)
	if !settled && resolveErr == nil {
		return nil
	}
	pollers, _, pollErr := ResolveExtensions(ctx, sb.resolver, IsStatusPoller)

	errs := []error{resolveErr, pollErr}
	bindings, bindErrs := HooksFromResolved[StatusProviderProperties, StatusReport](providers, "healthHandler")
	errs = append(errs, bindErrs...)

	titles := make(map[string]string)
	order := make([]string, 0, len(providers)+len(pollers))
	for _, p := range providers {
		titles[p.Extension.UID] = p.Extension.Properties.Title
	}
	for _, b := range bindings {
		order = append(order, b.UID)
	}

	pollerBindings, pollerErrs := sb.syncPollers(pollers)
	errs = append(errs, pollerErrs...)
	for _, p := range pollers {
		titles[p.Extension.UID] = p.Extension.Properties.Title
	}
	for _, b := range pollerBindings {
		order = append(order, b.UID)
	}
	bindings = append(bindings, pollerBindings...)

	sb.mu.Lock()
	sb.titles = titles
	sb.order = order
	sb.mu.Unlock()

	if err := sb.bridge.Sync(bindings); err != nil {
		return err
	}
	for _, fault := range sb.bridge.Render(ctx) {
		errs = append(errs, fault)
	}
	return stderrors.Join(errs...)
}

// syncPollers starts pollers for new extensions, rebuilds the ones whose
// fetch or interval changed and stops the others.
func (sb *StatusBoard) syncPollers(resolved []ResolvedExtension[StatusPollerProperties]) ([]HookBinding[StatusReport], []error) {
	var (
		errs    []error
		stopped []*StatusPoller
	)
	wanted := make(map[string]bool, len(resolved))
	bindings := make([]HookBinding[StatusReport], 0, len(resolved))

	sb.mu.Lock()
	for _, r := range resolved {
		uid := r.Extension.UID
		wanted[uid] = true

		rawFetch := r.Resolved["fetch"]
		interval := r.Extension.Properties.Interval.Std()
		if interval <= 0 {
			interval = sb.pollInterval
		}

		entry, running := sb.pollers[uid]
		if running && (entry.interval != interval || !sameValue(entry.fetch, rawFetch)) {
			stopped = append(stopped, entry.poller)
			delete(sb.pollers, uid)
			running = false
		}
		if !running {
			fetch, err := AsHook[StatusReport](rawFetch)
			if err != nil {
				errs = append(errs, NewContractMismatchError(uid, r.Extension.Type, "field \"fetch\" is not a hook", err))
				continue
			}
			poller := NewStatusPoller(uid, fetch,
				StatusPollerConfig{Interval: interval, Timeout: sb.pollTimeout},
				WithPollerLogger(sb.logger), WithPollerMetrics(sb.metrics))
			if err := poller.Start(); err != nil {
				errs = append(errs, err)
				continue
			}
			entry = &boardPoller{poller: poller, fetch: rawFetch, interval: interval}
			sb.pollers[uid] = entry
		}
		bindings = append(bindings, HookBinding[StatusReport]{UID: uid, Hook: entry.poller.Hook()})
	}

	for uid, entry := range sb.pollers {
		if !wanted[uid] {
			stopped = append(stopped, entry.poller)
			delete(sb.pollers, uid)
		}
	}
	sb.mu.Unlock()

	for _, poller := range stopped {
		poller.Stop()
	}
	return bindings, errs
}

// sameValue compares materialized values. Functions compare by code
// pointer.
func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Kind() == reflect.Func || vb.Kind() == reflect.Func {
		return va.Kind() == vb.Kind() && va.Type() == vb.Type() && va.Pointer() == vb.Pointer()
	}
	return reflect.DeepEqual(a, b)
}

// Summary summarizes the current reports in provider order.
func (sb *StatusBoard) Summary() (StatusReport, bool) {
	statuses := sb.Statuses()
	reports := make([]StatusReport, 0, len(statuses))
	for _, s := range statuses {
		reports = append(reports, s.Report)
	}
	return Summarize(reports)
}

// Statuses returns the current report of each provider in provider order.
func (sb *StatusBoard) Statuses() []NamedStatus {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	out := make([]NamedStatus, 0, len(sb.reports))
	for _, uid := range sb.order {
		if report, ok := sb.reports[uid]; ok {
			out = append(out, NamedStatus{UID: uid, Title: sb.titles[uid], Report: report})
		}
	}
	return out
}

// Faults returns the providers currently faulted.
func (sb *StatusBoard) Faults() map[string]error {
	return sb.bridge.Faults()
}

// Dismiss clears the fault of uid.
func (sb *StatusBoard) Dismiss(uid string) bool {
	return sb.bridge.Dismiss(uid)
}

// ActivePollers returns the number of running pollers.
func (sb *StatusBoard) ActivePollers() int {
	sb.mu.RLock()
	defer sb.mu.RUnlock()
	return len(sb.pollers)
}

// Close stops every poller and unmounts the bridge.
func (sb *StatusBoard) Close() {
	sb.unsubscribe()
	sb.mu.Lock()
	pollers := sb.pollers
	sb.pollers = make(map[string]*boardPoller)
	sb.mu.Unlock()

	for _, entry := range pollers {
		entry.poller.Stop()
	}
	sb.bridge.Unmount()
}
