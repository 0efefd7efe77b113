// predicate.go: Capability predicates narrowing raw records to typed extensions
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"encoding/json"
)

// PropertiesValidator is implemented by properties shapes that check their
// own required fields after decoding.
type PropertiesValidator interface {
	Validate() error
}

// Predicate narrows ExtensionRecords to Extension[P].
//
// A predicate matches on the record type first; predicates for distinct
// contracts must not share a type. Narrowing then decodes the properties into
// P and validates them. A record whose type matches but whose properties do
// not fit P is a contract mismatch.
//
// Example:
//
//	isRoute := goextensions.IsType[RouteProperties](TypeRoute)
//	routes, settled := goextensions.GetExtensions(resolver, isRoute)
type Predicate[P any] struct {
	id     string
	types  []string
	filter func(Extension[P]) bool
}

// IsType returns a predicate matching records of any of the given types.
func IsType[P any](extensionType string, more ...string) Predicate[P] {
	types := append([]string{extensionType}, more...)
	id := types[0]
	for _, t := range types[1:] {
		id += "|" + t
	}
	return Predicate[P]{id: id, types: types}
}

// Where refines the predicate with an additional filter. The id must be
// unique per distinct filter so that memoized results stay correct.
func (p Predicate[P]) Where(id string, filter func(Extension[P]) bool) Predicate[P] {
	prev := p.filter
	combined := filter
	if prev != nil {
		combined = func(e Extension[P]) bool { return prev(e) && filter(e) }
	}
	return Predicate[P]{
		id:     p.id + "#" + id,
		types:  p.types,
		filter: combined,
	}
}

// ID identifies the predicate for memoization.
func (p Predicate[P]) ID() string {
	return p.id
}

// Types returns the record types this predicate accepts.
func (p Predicate[P]) Types() []string {
	out := make([]string, len(p.types))
	copy(out, p.types)
	return out
}

// Matches reports whether the record type is accepted.
func (p Predicate[P]) Matches(rec ExtensionRecord) bool {
	for _, t := range p.types {
		if rec.Type == t {
			return true
		}
	}
	return false
}

// Narrow converts rec into Extension[P].
//
// matched is false when the record type is not accepted or the refinement
// filter rejects it. A non-nil error is always a contract mismatch.
func (p Predicate[P]) Narrow(rec ExtensionRecord) (ext Extension[P], matched bool, err error) {
	if !p.Matches(rec) {
		return ext, false, nil
	}

	props, err := decodeProperties[P](rec)
	if err != nil {
		return ext, true, err
	}

	ext = Extension[P]{
		UID:        rec.UID,
		Type:       rec.Type,
		PluginName: rec.PluginName,
		Flags:      rec.Flags,
		Properties: props,
	}
	if p.filter != nil && !p.filter(ext) {
		return Extension[P]{}, false, nil
	}
	return ext, true, nil
}

// decodeProperties binds raw properties into P through JSON.
func decodeProperties[P any](rec ExtensionRecord) (P, error) {
	var props P

	raw, err := json.Marshal(rec.Properties)
	if err != nil {
		return props, NewContractMismatchError(rec.UID, rec.Type, "properties are not serializable", err)
	}
	if err := json.Unmarshal(raw, &props); err != nil {
		return props, NewContractMismatchError(rec.UID, rec.Type, "properties do not match the contract shape", err)
	}

	var validator PropertiesValidator
	switch v := any(&props).(type) {
	case PropertiesValidator:
		validator = v
	default:
		if pv, ok := any(props).(PropertiesValidator); ok {
			validator = pv
		}
	}
	if validator != nil {
		if err := validator.Validate(); err != nil {
			return props, NewContractMismatchError(rec.UID, rec.Type, "properties failed validation", err)
		}
	}
	return props, nil
}
