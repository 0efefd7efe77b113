// loader.go: Plugin discovery, dependency ordering, loading and unloading
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// PluginLoader moves manifests into the store and their containers into the
// materializer, in dependency order.
type PluginLoader struct {
	store        *ExtensionStore
	materializer *Materializer
	audit        *AuditTrail
	logger       Logger

	mu        sync.Mutex
	manifests map[string]*PluginManifest
	static    map[string]Container
	closers   map[string]io.Closer
}

// NewPluginLoader creates a loader.
func NewPluginLoader(store *ExtensionStore, m *Materializer, audit *AuditTrail, logger Logger) *PluginLoader {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &PluginLoader{
		store:        store,
		materializer: m,
		audit:        audit,
		logger:       logger,
		manifests:    make(map[string]*PluginManifest),
		static:       make(map[string]Container),
		closers:      make(map[string]io.Closer),
	}
}

// RegisterStaticContainer provides the in-process container of a static
// plugin. It may be called before or after the plugin is loaded.
func (l *PluginLoader) RegisterStaticContainer(plugin string, c Container) {
	l.mu.Lock()
	l.static[plugin] = c
	_, loaded := l.manifests[plugin]
	l.mu.Unlock()

	if loaded {
		l.materializer.RegisterContainer(plugin, c)
	}
}

// Discover finds manifest files in dirs. A directory is scanned two levels
// deep so both dir/plugin.yaml and dir/<plugin>/plugin.yaml are found.
// Unparseable manifests are logged, audited and skipped.
func (l *PluginLoader) Discover(ctx context.Context, dirs, patterns []string) ([]*PluginManifest, error) {
	var found []*PluginManifest
	for _, dir := range dirs {
		root := filepath.Clean(dir)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if walkErr != nil {
				if path == root {
					return walkErr
				}
				l.logger.Warn("Skipping unreadable plugin path", "path", path, "error", walkErr)
				return nil
			}
			rel, _ := filepath.Rel(root, path)
			depth := len(strings.Split(rel, string(os.PathSeparator)))
			if d.IsDir() {
				if path != root && depth > 1 {
					return filepath.SkipDir
				}
				return nil
			}
			if !matchesAny(d.Name(), patterns) {
				return nil
			}
			manifest, err := LoadManifestFile(path)
			if err != nil {
				l.logger.Warn("Skipping invalid plugin manifest", "path", path, "error", err)
				l.audit.Record(AuditPluginRejected, "Invalid plugin manifest", map[string]interface{}{
					"path":  path,
					"error": err.Error(),
				})
				return nil
			}
			found = append(found, manifest)
			return nil
		})
		if err != nil {
			return nil, NewManifestParseError(dir, err)
		}
	}

	l.logger.Info("Discovered plugin manifests", "count", len(found), "dirs", len(dirs))
	return found, nil
}

func matchesAny(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

// LoadAll loads manifests so that every plugin loads after its
// dependencies. Dependencies may be satisfied by plugins already loaded.
// A cycle or a missing dependency fails the whole batch before anything is
// loaded; individual load failures are returned after the rest is loaded.
func (l *PluginLoader) LoadAll(ctx context.Context, manifests []*PluginManifest) error {
	ordered, err := l.LoadOrder(manifests)
	if err != nil {
		return err
	}

	var firstErr error
	for _, manifest := range ordered {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.Load(manifest); err != nil {
			l.logger.Error("Failed to load plugin", "plugin", manifest.Name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// LoadOrder sorts manifests topologically by dependency. Ties keep input
// order so results are deterministic.
func (l *PluginLoader) LoadOrder(manifests []*PluginManifest) ([]*PluginManifest, error) {
	byName := make(map[string]*PluginManifest, len(manifests))
	position := make(map[string]int, len(manifests))
	for i, m := range manifests {
		if _, dup := byName[m.Name]; dup {
			return nil, NewPluginAlreadyLoadedError(m.Name)
		}
		byName[m.Name] = m
		position[m.Name] = i
	}

	inDegree := make(map[string]int, len(manifests))
	dependents := make(map[string][]string)
	for _, m := range manifests {
		inDegree[m.Name] = 0
		for _, dep := range m.Dependencies {
			if _, inBatch := byName[dep]; inBatch {
				inDegree[m.Name]++
				dependents[dep] = append(dependents[dep], m.Name)
				continue
			}
			if !l.store.HasPlugin(dep) {
				return nil, NewMissingDependencyError(m.Name, dep)
			}
		}
	}

	var queue []string
	for _, m := range manifests {
		if inDegree[m.Name] == 0 {
			queue = append(queue, m.Name)
		}
	}

	ordered := make([]*PluginManifest, 0, len(manifests))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		ordered = append(ordered, byName[current])

		next := dependents[current]
		sort.Slice(next, func(i, j int) bool { return position[next[i]] < position[next[j]] })
		for _, name := range next {
			inDegree[name]--
			if inDegree[name] == 0 {
				queue = append(queue, name)
			}
		}
	}

	if len(ordered) != len(manifests) {
		var cycle []string
		for name, degree := range inDegree {
			if degree > 0 {
				cycle = append(cycle, name)
			}
		}
		sort.Strings(cycle)
		return nil, NewDependencyCycleError(cycle)
	}
	return ordered, nil
}

// Load registers the manifest's container and adds its records.
func (l *PluginLoader) Load(manifest *PluginManifest) error {
	if err := manifest.Validate(); err != nil {
		return err
	}
	for _, dep := range manifest.Dependencies {
		if !l.store.HasPlugin(dep) {
			return NewMissingDependencyError(manifest.Name, dep)
		}
	}

	container, err := manifest.NewContainer()
	if err != nil {
		l.audit.Record(AuditPluginRejected, "Plugin container could not be created", map[string]interface{}{
			"plugin": manifest.Name,
			"error":  err.Error(),
		})
		return err
	}

	l.mu.Lock()
	if container == nil {
		container = l.static[manifest.Name]
	}
	l.mu.Unlock()

	if err := l.store.AddPlugin(manifest.Name, manifest.Extensions); err != nil {
		closeContainer(container)
		l.audit.Record(AuditPluginRejected, "Plugin records rejected", map[string]interface{}{
			"plugin": manifest.Name,
			"error":  err.Error(),
		})
		return err
	}

	l.mu.Lock()
	l.manifests[manifest.Name] = manifest
	if closer, ok := container.(io.Closer); ok {
		l.closers[manifest.Name] = closer
	}
	l.mu.Unlock()

	if container != nil {
		l.materializer.RegisterContainer(manifest.Name, container)
	} else {
		l.logger.Warn("Static plugin loaded without a container", "plugin", manifest.Name)
	}

	l.logger.Info("Loaded plugin", "plugin", manifest.Name, "version", manifest.Version,
		"transport", string(manifest.Container.Transport), "extensions", len(manifest.Extensions))
	l.audit.Record(AuditPluginLoaded, "Plugin loaded", map[string]interface{}{
		"plugin":     manifest.Name,
		"version":    manifest.Version,
		"transport":  string(manifest.Container.Transport),
		"extensions": len(manifest.Extensions),
	})
	return nil
}

// Unload removes the plugin's records, cached code and container. Loaded
// plugins depending on it are left in place and logged.
func (l *PluginLoader) Unload(name string) error {
	if err := l.store.RemovePlugin(name); err != nil {
		return err
	}

	l.mu.Lock()
	delete(l.manifests, name)
	closer := l.closers[name]
	delete(l.closers, name)
	var dependents []string
	for other, m := range l.manifests {
		for _, dep := range m.Dependencies {
			if dep == name {
				dependents = append(dependents, other)
			}
		}
	}
	l.mu.Unlock()

	l.materializer.UnregisterContainer(name)
	if closer != nil {
		if err := closer.Close(); err != nil {
			l.logger.Warn("Failed to close plugin container", "plugin", name, "error", err)
		}
	}
	if len(dependents) > 0 {
		sort.Strings(dependents)
		l.logger.Warn("Unloaded plugin still has dependents", "plugin", name, "dependents", dependents)
	}

	l.logger.Info("Unloaded plugin", "plugin", name)
	l.audit.Record(AuditPluginUnloaded, "Plugin unloaded", map[string]interface{}{
		"plugin": name,
	})
	return nil
}

// Reload replaces a loaded plugin with a new manifest.
func (l *PluginLoader) Reload(manifest *PluginManifest) error {
	if l.store.HasPlugin(manifest.Name) {
		if err := l.Unload(manifest.Name); err != nil {
			return err
		}
	}
	return l.Load(manifest)
}

// Manifest returns the manifest of a loaded plugin.
func (l *PluginLoader) Manifest(name string) (*PluginManifest, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.manifests[name]
	return m, ok
}

// ManifestByPath returns the loaded manifest that was read from path.
func (l *PluginLoader) ManifestByPath(path string) (*PluginManifest, bool) {
	clean := filepath.Clean(path)
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.manifests {
		if m.Path == clean {
			return m, true
		}
	}
	return nil, false
}

// Close closes every remote container.
func (l *PluginLoader) Close() error {
	l.mu.Lock()
	closers := l.closers
	l.closers = make(map[string]io.Closer)
	l.mu.Unlock()

	for name, closer := range closers {
		if err := closer.Close(); err != nil {
			l.logger.Warn("Failed to close plugin container", "plugin", name, "error", err)
		}
	}
	return nil
}

func closeContainer(c Container) {
	if closer, ok := c.(io.Closer); ok {
		_ = closer.Close()
	}
}
