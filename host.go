// host.go: Host facade wiring discovery, resolution, flags and status
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// HostOption customizes a Host.
type HostOption func(*Host)

// WithLogger sets the host logger. Anything NewLogger accepts works.
func WithLogger(logger any) HostOption {
	return func(h *Host) { h.logger = NewLogger(logger) }
}

// WithRegisterer sets the Prometheus registerer used when metrics are
// enabled. The default is prometheus.DefaultRegisterer.
func WithRegisterer(registerer prometheus.Registerer) HostOption {
	return func(h *Host) { h.registerer = registerer }
}

// WithModelChecker sets the checker deciding model-backed feature flags.
func WithModelChecker(checker ModelChecker) HostOption {
	return func(h *Host) { h.models = checker }
}

// Host owns one extension runtime: the store, the materializer, the
// resolver and the host-side consumers built on them.
//
//	host, err := goextensions.NewHost(cfg, goextensions.WithLogger(logrus.New()))
//	if err != nil {
//		return err
//	}
//	host.RegisterStaticContainer("core", coreModules)
//	if err := host.Start(ctx); err != nil {
//		return err
//	}
//	defer host.Shutdown(ctx)
//
//	routes, ok := goextensions.GetExtensions(host.Resolver(), goextensions.IsRoute)
type Host struct {
	config     HostConfig
	logger     Logger
	registerer prometheus.Registerer
	models     ModelChecker

	metrics      *Metrics
	audit        *AuditTrail
	store        *ExtensionStore
	materializer *Materializer
	resolver     *Resolver
	loader       *PluginLoader
	watcher      *ManifestWatcher
	statusBoard  *StatusBoard
	flags        *FlagAggregator

	mu       sync.Mutex
	started  atomic.Bool
	shutdown atomic.Bool
}

// NewHost validates cfg and builds a stopped host.
func NewHost(cfg HostConfig, opts ...HostOption) (*Host, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	h := &Host{
		config:     cfg,
		logger:     DefaultLogger(),
		registerer: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(h)
	}

	if cfg.Metrics.Enabled {
		h.metrics = NewMetrics(h.registerer)
	}
	audit, err := NewAuditTrail(cfg.Audit)
	if err != nil {
		return nil, err
	}
	h.audit = audit

	h.store = NewExtensionStore(h.logger, h.metrics)
	h.materializer = NewMaterializer(cfg.MaterializerConfig(),
		WithMaterializerLogger(h.logger),
		WithMaterializerMetrics(h.metrics),
	)
	h.resolver = NewResolver(h.store, h.materializer,
		WithResolverLogger(h.logger),
		WithResolverMetrics(h.metrics),
		WithResolveConcurrency(cfg.ResolveConcurrency),
	)
	h.loader = NewPluginLoader(h.store, h.materializer, h.audit, h.logger)
	h.statusBoard = NewStatusBoard(h.resolver, cfg.StatusBoardConfig(), h.logger, h.metrics)
	h.flags = NewFlagAggregator(h.resolver, h.models, h.logger, h.metrics)
	if cfg.Watch.Enabled {
		h.watcher = NewManifestWatcher(h.loader, cfg.Watch, h.logger, h.metrics, h.audit)
	}
	return h, nil
}

// RegisterStaticContainer supplies in-process code for a static plugin.
func (h *Host) RegisterStaticContainer(plugin string, c Container) {
	h.loader.RegisterStaticContainer(plugin, c)
}

// LoadPlugin loads a manifest built in code.
func (h *Host) LoadPlugin(manifest *PluginManifest) error {
	return h.loader.Load(manifest)
}

// UnloadPlugin removes a loaded plugin.
func (h *Host) UnloadPlugin(name string) error {
	return h.loader.Unload(name)
}

// Start discovers and loads every configured manifest, applies the
// configured flags, marks discovery complete and starts the manifest
// watcher. Plugins that fail to load are logged and skipped; a dependency
// cycle or an unreadable plugin directory fails Start.
func (h *Host) Start(ctx context.Context) error {
	if h.shutdown.Load() {
		return NewConfigWatcherError("host has been shut down", nil)
	}
	if !h.started.CompareAndSwap(false, true) {
		return NewConfigWatcherError("host is already started", nil)
	}

	h.store.SetFlags(h.config.Flags)

	manifests, err := h.collectManifests(ctx)
	if err != nil {
		h.started.Store(false)
		return err
	}
	if err := h.loader.LoadAll(ctx, manifests); err != nil {
		if hasCode(err, ErrCodeDependencyCycle) || hasCode(err, ErrCodeMissingDependency) {
			h.started.Store(false)
			return err
		}
		h.logger.Warn("Some plugins failed to load", "error", err)
	}
	h.store.MarkDiscoveryComplete()

	if err := h.startWatcher(); err != nil {
		return err
	}

	h.logger.Info("Extension host started",
		"plugins", len(h.store.Plugins()),
		"extensions", len(h.store.AllRecords()),
		"watch", h.watcher != nil)
	return nil
}

func (h *Host) collectManifests(ctx context.Context) ([]*PluginManifest, error) {
	manifests, err := h.loader.Discover(ctx, h.config.PluginDirs, h.config.ManifestPatterns)
	if err != nil {
		return nil, err
	}
	for _, path := range h.config.Manifests {
		manifest, err := LoadManifestFile(path)
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, manifest)
	}
	return manifests, nil
}

func (h *Host) startWatcher() error {
	if h.watcher == nil {
		return nil
	}
	h.watchLoaded()
	if err := h.watcher.Start(); err != nil {
		return err
	}
	return nil
}

func (h *Host) watchLoaded() {
	if h.watcher == nil {
		return
	}
	for _, plugin := range h.store.Plugins() {
		manifest, ok := h.loader.Manifest(plugin)
		if !ok || manifest.Path == "" {
			continue
		}
		if err := h.watcher.Watch(manifest.Path, plugin); err != nil {
			h.logger.Warn("Failed to watch plugin manifest", "plugin", plugin, "error", err)
		}
	}
}

// Rescan discovers manifests added since Start and loads the ones whose
// plugin is not loaded yet.
func (h *Host) Rescan(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	manifests, err := h.collectManifests(ctx)
	if err != nil {
		return err
	}
	var fresh []*PluginManifest
	for _, m := range manifests {
		if !h.store.HasPlugin(m.Name) {
			fresh = append(fresh, m)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	err = h.loader.LoadAll(ctx, fresh)
	h.watchLoaded()
	return err
}

// Refresh recomputes feature flags and then the status board. Flags go
// first because they gate which status extensions are in use.
func (h *Host) Refresh(ctx context.Context) error {
	flagErr := h.flags.Refresh(ctx)
	statusErr := h.statusBoard.Refresh(ctx)
	return stderrors.Join(flagErr, statusErr)
}

// Reload drops every cached module so the next access fetches fresh code.
func (h *Host) Reload() {
	h.materializer.Reset()
	h.logger.Info("Extension code cache reset")
	h.audit.Record(AuditCacheReset, "Materializer cache reset", nil)
}

// Shutdown stops the watcher, the pollers and the bridges, then closes
// remote containers and the audit log. It is safe to call more than once.
func (h *Host) Shutdown(ctx context.Context) error {
	if !h.shutdown.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	if h.watcher != nil {
		errs = append(errs, h.watcher.Stop())
	}

	done := make(chan struct{})
	SafeGo(h.logger, func() {
		defer close(done)
		h.statusBoard.Close()
		h.flags.Close()
	})
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}

	h.resolver.Close()
	errs = append(errs, h.loader.Close(), h.audit.Close())

	h.logger.Info("Extension host stopped")
	return stderrors.Join(errs...)
}

// Config returns the effective configuration.
func (h *Host) Config() HostConfig { return h.config }

// Store returns the extension record store.
func (h *Host) Store() *ExtensionStore { return h.store }

// Resolver returns the extension resolver.
func (h *Host) Resolver() *Resolver { return h.resolver }

// Materializer returns the code materializer.
func (h *Host) Materializer() *Materializer { return h.materializer }

// StatusBoard returns the status aggregate.
func (h *Host) StatusBoard() *StatusBoard { return h.statusBoard }

// Flags returns the feature flag aggregator.
func (h *Host) Flags() *FlagAggregator { return h.flags }

// Diagnostics returns the per-extension lifecycle tracker.
func (h *Host) Diagnostics() *Diagnostics { return h.resolver.Diagnostics() }

// Metrics returns the collectors, or nil when metrics are disabled.
func (h *Host) Metrics() *Metrics { return h.metrics }

// Loader returns the plugin loader.
func (h *Host) Loader() *PluginLoader { return h.loader }
