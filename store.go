// store.go: Extension record store keyed by contributing plugin
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"fmt"
	"sort"
	"sync"
)

// StoreEventType identifies a store change.
type StoreEventType string

const (
	StoreEventPluginAdded        StoreEventType = "plugin_added"
	StoreEventPluginRemoved      StoreEventType = "plugin_removed"
	StoreEventFlagsChanged       StoreEventType = "flags_changed"
	StoreEventDiscoveryCompleted StoreEventType = "discovery_completed"
)

// StoreEvent describes a change applied to an ExtensionStore.
type StoreEvent struct {
	Type    StoreEventType
	Plugin  string
	UIDs    []string
	Version uint64
}

// StoreListener receives store events after the change is applied.
type StoreListener func(StoreEvent)

// ExtensionStore holds the raw records contributed by all loaded plugins.
//
// Records keep plugin registration order, then manifest order within a
// plugin. Every change increments Version, which consumers use as a cheap
// staleness check for memoized results.
//
// Records returns only the records whose flag gates are satisfied by the
// current feature flags. Unknown flags count as disabled.
type ExtensionStore struct {
	mu        sync.RWMutex
	plugins   []string
	records   map[string][]ExtensionRecord
	uids      map[string]string
	flags     map[string]bool
	version   uint64
	discovery bool

	listenersMu sync.RWMutex
	listeners   map[int]StoreListener
	nextID      int

	logger  Logger
	metrics *Metrics
}

// NewExtensionStore returns an empty store.
func NewExtensionStore(logger Logger, metrics *Metrics) *ExtensionStore {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &ExtensionStore{
		records:   make(map[string][]ExtensionRecord),
		uids:      make(map[string]string),
		flags:     make(map[string]bool),
		listeners: make(map[int]StoreListener),
		logger:    logger,
		metrics:   metrics,
	}
}

// AddPlugin adds the records of a plugin. Records without a uid get
// "<plugin>[<index>]". Each record type must follow the type convention and
// uids must be unique across the store.
func (s *ExtensionStore) AddPlugin(plugin string, records []ExtensionRecord) error {
	s.mu.Lock()

	if _, exists := s.records[plugin]; exists {
		s.mu.Unlock()
		return NewPluginAlreadyLoadedError(plugin)
	}

	added := make([]ExtensionRecord, 0, len(records))
	seen := make(map[string]bool, len(records))
	for i, rec := range records {
		if !ValidExtensionType(rec.Type) {
			s.mu.Unlock()
			return NewInvalidExtensionTypeError(plugin, rec.Type)
		}
		if rec.UID == "" {
			rec.UID = fmt.Sprintf("%s[%d]", plugin, i)
		}
		rec.Properties = cloneProperties(rec.Properties)
		if _, err := bindCodeRefs(plugin, rec.Properties); err != nil {
			s.mu.Unlock()
			return err
		}
		if _, taken := s.uids[rec.UID]; taken || seen[rec.UID] {
			s.mu.Unlock()
			return NewDuplicateExtensionUIDError(rec.UID)
		}
		seen[rec.UID] = true
		rec.PluginName = plugin
		added = append(added, rec)
	}

	uids := make([]string, 0, len(added))
	for _, rec := range added {
		s.uids[rec.UID] = plugin
		uids = append(uids, rec.UID)
	}
	s.records[plugin] = added
	s.plugins = append(s.plugins, plugin)
	s.version++
	event := StoreEvent{Type: StoreEventPluginAdded, Plugin: plugin, UIDs: uids, Version: s.version}
	s.updateMetricsLocked()
	s.mu.Unlock()

	s.logger.Info("Added plugin extensions", "plugin", plugin, "extensions", len(added))
	s.emit(event)
	return nil
}

// RemovePlugin removes every record contributed by plugin.
func (s *ExtensionStore) RemovePlugin(plugin string) error {
	s.mu.Lock()

	records, exists := s.records[plugin]
	if !exists {
		s.mu.Unlock()
		return NewPluginNotLoadedError(plugin)
	}

	uids := make([]string, 0, len(records))
	for _, rec := range records {
		delete(s.uids, rec.UID)
		uids = append(uids, rec.UID)
	}
	delete(s.records, plugin)
	for i, name := range s.plugins {
		if name == plugin {
			s.plugins = append(s.plugins[:i:i], s.plugins[i+1:]...)
			break
		}
	}
	s.version++
	event := StoreEvent{Type: StoreEventPluginRemoved, Plugin: plugin, UIDs: uids, Version: s.version}
	s.updateMetricsLocked()
	s.mu.Unlock()

	s.logger.Info("Removed plugin extensions", "plugin", plugin, "extensions", len(uids))
	s.emit(event)
	return nil
}

// Records returns the in-use records in registration order.
func (s *ExtensionStore) Records() []ExtensionRecord {
	records, _, _ := s.Snapshot()
	return records
}

// AllRecords returns every record regardless of flag gates.
func (s *ExtensionStore) AllRecords() []ExtensionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ExtensionRecord
	for _, plugin := range s.plugins {
		out = append(out, s.records[plugin]...)
	}
	return out
}

// Snapshot returns the in-use records together with the version they belong
// to and whether discovery has completed.
func (s *ExtensionStore) Snapshot() ([]ExtensionRecord, uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ExtensionRecord
	for _, plugin := range s.plugins {
		for _, rec := range s.records[plugin] {
			if s.inUseLocked(rec.Flags) {
				out = append(out, rec)
			}
		}
	}
	return out, s.version, s.discovery
}

func (s *ExtensionStore) inUseLocked(flags ExtensionFlags) bool {
	for _, f := range flags.Required {
		if !s.flags[f] {
			return false
		}
	}
	for _, f := range flags.Disallowed {
		if s.flags[f] {
			return false
		}
	}
	return true
}

// Record returns the record with the given uid.
func (s *ExtensionStore) Record(uid string) (ExtensionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plugin, ok := s.uids[uid]
	if !ok {
		return ExtensionRecord{}, false
	}
	for _, rec := range s.records[plugin] {
		if rec.UID == uid {
			return rec, true
		}
	}
	return ExtensionRecord{}, false
}

// Plugins returns the loaded plugin names in registration order.
func (s *ExtensionStore) Plugins() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.plugins))
	copy(out, s.plugins)
	return out
}

// HasPlugin reports whether plugin is loaded.
func (s *ExtensionStore) HasPlugin(plugin string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[plugin]
	return ok
}

// Version returns the change counter.
func (s *ExtensionStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// MarkDiscoveryComplete records that the initial plugin discovery finished.
// Until then resolvers report no extensions.
func (s *ExtensionStore) MarkDiscoveryComplete() {
	s.mu.Lock()
	if s.discovery {
		s.mu.Unlock()
		return
	}
	s.discovery = true
	s.version++
	event := StoreEvent{Type: StoreEventDiscoveryCompleted, Version: s.version}
	s.mu.Unlock()

	s.logger.Info("Plugin discovery complete", "plugins", len(s.Plugins()))
	s.emit(event)
}

// DiscoveryComplete reports whether MarkDiscoveryComplete was called.
func (s *ExtensionStore) DiscoveryComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.discovery
}

// SetFlag sets one feature flag.
func (s *ExtensionStore) SetFlag(name string, enabled bool) {
	s.SetFlags(map[string]bool{name: enabled})
}

// SetFlags applies flag values. The version only changes when a value does.
func (s *ExtensionStore) SetFlags(values map[string]bool) {
	s.mu.Lock()
	changed := false
	for name, enabled := range values {
		if current, ok := s.flags[name]; !ok || current != enabled {
			s.flags[name] = enabled
			changed = true
		}
	}
	if !changed {
		s.mu.Unlock()
		return
	}
	s.version++
	event := StoreEvent{Type: StoreEventFlagsChanged, Version: s.version}
	s.mu.Unlock()

	s.logger.Debug("Feature flags changed", "flags", len(values))
	s.emit(event)
}

// Flag returns the value of a feature flag; unknown flags are disabled.
func (s *ExtensionStore) Flag(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags[name]
}

// Flags returns a copy of the feature flags.
func (s *ExtensionStore) Flags() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.flags))
	for k, v := range s.flags {
		out[k] = v
	}
	return out
}

// FlagNames returns the known flag names in sorted order.
func (s *ExtensionStore) FlagNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.flags))
	for name := range s.flags {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Subscribe registers a listener and returns its unsubscribe function.
// Listeners run synchronously on the goroutine that changed the store.
func (s *ExtensionStore) Subscribe(listener StoreListener) func() {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

func (s *ExtensionStore) emit(event StoreEvent) {
	s.listenersMu.RLock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]StoreListener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.listenersMu.RUnlock()

	for _, listener := range listeners {
		func() {
			defer withStackRecover(s.logger)()
			listener(event)
		}()
	}
}

func (s *ExtensionStore) updateMetricsLocked() {
	total := 0
	for _, records := range s.records {
		total += len(records)
	}
	s.metrics.setStoreSize(len(s.plugins), total)
}
