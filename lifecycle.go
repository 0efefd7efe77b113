// lifecycle.go: Extension lifecycle states and diagnostics
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"sync"
	"time"

	"github.com/agilira/go-timecache"
)

// ExtensionState is the lifecycle state of one extension.
//
//	Discovered -> Narrowing -> (Resolved | Rejected) -> Active -> Removed
type ExtensionState int

const (
	StateDiscovered ExtensionState = iota
	StateNarrowing
	StateResolved
	StateRejected
	StateActive
	StateRemoved
)

func (s ExtensionState) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateNarrowing:
		return "narrowing"
	case StateResolved:
		return "resolved"
	case StateRejected:
		return "rejected"
	case StateActive:
		return "active"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// validTransitions lists the allowed successors of each state. Narrowing is
// re-entered when a rejected extension is retried or when a resolved one is
// resolved again after a store change.
var validTransitions = map[ExtensionState][]ExtensionState{
	StateDiscovered: {StateNarrowing, StateRemoved},
	StateNarrowing:  {StateResolved, StateRejected, StateRemoved},
	StateResolved:   {StateActive, StateNarrowing, StateRemoved},
	StateRejected:   {StateNarrowing, StateRemoved},
	StateActive:     {StateNarrowing, StateResolved, StateRemoved},
	StateRemoved:    {StateDiscovered},
}

// CanTransition reports whether from -> to is a lifecycle edge.
func CanTransition(from, to ExtensionState) bool {
	if from == to {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// DiagnosticEntry is the recorded lifecycle of one extension.
type DiagnosticEntry struct {
	UID        string         `json:"uid"`
	Type       string         `json:"type"`
	PluginName string         `json:"plugin_name"`
	State      ExtensionState `json:"state"`
	Err        error          `json:"-"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Diagnostics tracks extension lifecycle states. Rejected extensions stay
// visible here with their error while being excluded from use.
type Diagnostics struct {
	mu      sync.RWMutex
	entries map[string]*DiagnosticEntry
	order   []string
	logger  Logger
}

// NewDiagnostics returns an empty tracker.
func NewDiagnostics(logger Logger) *Diagnostics {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	return &Diagnostics{entries: make(map[string]*DiagnosticEntry), logger: logger}
}

// Discovered records new records as discovered.
func (d *Diagnostics) Discovered(records []ExtensionRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := timecache.CachedTime()
	for _, rec := range records {
		entry, ok := d.entries[rec.UID]
		if !ok {
			entry = &DiagnosticEntry{UID: rec.UID}
			d.entries[rec.UID] = entry
			d.order = append(d.order, rec.UID)
		}
		entry.Type = rec.Type
		entry.PluginName = rec.PluginName
		entry.State = StateDiscovered
		entry.Err = nil
		entry.UpdatedAt = now
	}
}

// Transition moves uid to state. Unknown uids and invalid edges are ignored
// and reported as false.
func (d *Diagnostics) Transition(uid string, state ExtensionState, err error) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.entries[uid]
	if !ok {
		return false
	}
	if !CanTransition(entry.State, state) {
		d.logger.Debug("Ignoring invalid extension state transition",
			"uid", uid, "from", entry.State.String(), "to", state.String())
		return false
	}
	entry.State = state
	entry.Err = err
	entry.UpdatedAt = timecache.CachedTime()
	return true
}

// Removed marks every given uid as removed.
func (d *Diagnostics) Removed(uids []string) {
	for _, uid := range uids {
		d.Transition(uid, StateRemoved, nil)
	}
}

// Get returns the entry for uid.
func (d *Diagnostics) Get(uid string) (DiagnosticEntry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.entries[uid]
	if !ok {
		return DiagnosticEntry{}, false
	}
	return *entry, true
}

// Entries returns every entry in discovery order.
func (d *Diagnostics) Entries() []DiagnosticEntry {
	return d.filter(func(*DiagnosticEntry) bool { return true })
}

// Rejected returns the entries currently in the Rejected state.
func (d *Diagnostics) Rejected() []DiagnosticEntry {
	return d.filter(func(e *DiagnosticEntry) bool { return e.State == StateRejected })
}

func (d *Diagnostics) filter(keep func(*DiagnosticEntry) bool) []DiagnosticEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]DiagnosticEntry, 0, len(d.order))
	for _, uid := range d.order {
		if entry := d.entries[uid]; keep(entry) {
			out = append(out, *entry)
		}
	}
	return out
}
