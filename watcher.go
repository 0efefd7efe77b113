// watcher.go: Manifest hot reload through argus file watching
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/agilira/argus"
)

// ManifestWatcher reloads plugins when their manifest files change and
// unloads them when the file is deleted. New files are not picked up; a
// Host.Rescan discovers them.
type ManifestWatcher struct {
	loader  *PluginLoader
	watcher *argus.Watcher
	logger  Logger
	metrics *Metrics
	audit   *AuditTrail

	mu       sync.Mutex
	watched  map[string]string // path -> plugin
	running  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
}

// NewManifestWatcher creates a stopped watcher.
func NewManifestWatcher(loader *PluginLoader, settings WatchSettings, logger Logger, metrics *Metrics, audit *AuditTrail) *ManifestWatcher {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	mw := &ManifestWatcher{
		loader:  loader,
		logger:  logger,
		metrics: metrics,
		audit:   audit,
		watched: make(map[string]string),
	}
	mw.watcher = argus.New(argus.Config{
		PollInterval:         settings.PollInterval.Std(),
		CacheTTL:             settings.CacheTTL.Std(),
		MaxWatchedFiles:      1000,
		OptimizationStrategy: argus.OptimizationSingleEvent,
		ErrorHandler: func(err error, path string) {
			logger.Error("Manifest watching error", "error", err, "file", path)
		},
	})
	return mw
}

// Watch adds a manifest file belonging to plugin. Paths already watched
// are ignored.
func (mw *ManifestWatcher) Watch(path, plugin string) error {
	clean := filepath.Clean(path)

	mw.mu.Lock()
	if _, ok := mw.watched[clean]; ok {
		mw.watched[clean] = plugin
		mw.mu.Unlock()
		return nil
	}
	mw.watched[clean] = plugin
	mw.mu.Unlock()

	if err := mw.watcher.Watch(clean, mw.handleChange); err != nil {
		mw.mu.Lock()
		delete(mw.watched, clean)
		mw.mu.Unlock()
		return NewConfigWatcherError("failed to watch manifest "+clean, err)
	}
	return nil
}

// Watched returns the number of watched manifest files.
func (mw *ManifestWatcher) Watched() int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return len(mw.watched)
}

// Start begins polling. A stopped watcher cannot be restarted.
func (mw *ManifestWatcher) Start() error {
	if mw.stopped.Load() {
		return NewConfigWatcherError("manifest watcher has been stopped", nil)
	}
	if !mw.running.CompareAndSwap(false, true) {
		return NewConfigWatcherError("manifest watcher is already running", nil)
	}
	if err := mw.watcher.Start(); err != nil {
		mw.running.Store(false)
		return NewConfigWatcherError("failed to start manifest watcher", err)
	}
	mw.logger.Info("Manifest watcher started", "files", mw.Watched())
	return nil
}

// Stop ends polling permanently.
func (mw *ManifestWatcher) Stop() error {
	var stopErr error
	mw.stopOnce.Do(func() {
		mw.stopped.Store(true)
		if !mw.running.CompareAndSwap(true, false) {
			return
		}
		if err := mw.watcher.Stop(); err != nil {
			stopErr = NewConfigWatcherError("failed to stop manifest watcher", err)
			return
		}
		mw.logger.Info("Manifest watcher stopped")
	})
	return stopErr
}

// IsRunning reports whether the watcher is polling.
func (mw *ManifestWatcher) IsRunning() bool {
	return mw.running.Load()
}

func (mw *ManifestWatcher) handleChange(event argus.ChangeEvent) {
	if !mw.running.Load() {
		return
	}
	path := filepath.Clean(event.Path)

	mw.mu.Lock()
	plugin, ok := mw.watched[path]
	mw.mu.Unlock()
	if !ok {
		return
	}

	if event.IsDelete {
		mw.handleDelete(path, plugin)
		return
	}
	mw.handleReload(path, plugin)
}

func (mw *ManifestWatcher) handleDelete(path, plugin string) {
	if !mw.loader.store.HasPlugin(plugin) {
		return
	}
	if err := mw.loader.Unload(plugin); err != nil {
		mw.logger.Error("Failed to unload plugin after manifest deletion", "plugin", plugin, "error", err)
		mw.metrics.recordManifestReload("error")
		return
	}
	mw.logger.Info("Plugin manifest deleted", "plugin", plugin, "path", path)
	mw.metrics.recordManifestReload("deleted")
	mw.audit.Record(AuditManifestDeleted, "Plugin manifest deleted", map[string]interface{}{
		"plugin": plugin,
		"path":   path,
	})
}

// handleReload keeps the loaded plugin when the new manifest is invalid.
func (mw *ManifestWatcher) handleReload(path, plugin string) {
	manifest, err := LoadManifestFile(path)
	if err != nil {
		mw.logger.Warn("Ignoring invalid manifest change", "plugin", plugin, "path", path, "error", err)
		mw.metrics.recordManifestReload("invalid")
		mw.audit.Record(AuditPluginRejected, "Invalid manifest change ignored", map[string]interface{}{
			"plugin": plugin,
			"path":   path,
			"error":  err.Error(),
		})
		return
	}

	if manifest.Name != plugin {
		if mw.loader.store.HasPlugin(plugin) {
			if err := mw.loader.Unload(plugin); err != nil {
				mw.logger.Warn("Failed to unload renamed plugin", "plugin", plugin, "error", err)
			}
		}
		mw.mu.Lock()
		mw.watched[path] = manifest.Name
		mw.mu.Unlock()
	}

	if err := mw.loader.Reload(manifest); err != nil {
		mw.logger.Error("Failed to reload plugin", "plugin", manifest.Name, "error", err)
		mw.metrics.recordManifestReload("error")
		return
	}

	mw.logger.Info("Plugin manifest reloaded", "plugin", manifest.Name, "path", path, "version", manifest.Version)
	mw.metrics.recordManifestReload("success")
	mw.audit.Record(AuditManifestReloaded, "Plugin manifest reloaded", map[string]interface{}{
		"plugin":  manifest.Name,
		"version": manifest.Version,
		"path":    path,
	})
}
