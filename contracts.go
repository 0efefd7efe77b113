// contracts.go: Built-in extension point contracts and the closed Kind set
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Built-in extension types.
const (
	TypeFeatureFlag      = "host.flag/model"
	TypeFlagHookProvider = "host.flag/hook-provider"
	TypeStatusProvider   = "host.status/provider"
	TypeStatusPoller     = "host.status/poller"
	TypeRoute            = "host.page/route"
	TypeActionProvider   = "host.action/provider"
)

// FeatureFlagProperties enables a flag when a backend model is available.
type FeatureFlagProperties struct {
	Flag  string `json:"flag"`
	Model string `json:"model"`
}

// Validate implements PropertiesValidator
func (p FeatureFlagProperties) Validate() error {
	if p.Flag == "" {
		return errors.New("flag is required")
	}
	return nil
}

// FlagHookProperties contributes a hook that computes feature flags.
// Handler must resolve to a Hook[map[string]bool].
type FlagHookProperties struct {
	Handler CodeRef `json:"handler"`
}

// Validate implements PropertiesValidator
func (p FlagHookProperties) Validate() error {
	if p.Handler.IsZero() {
		return errors.New("handler is required")
	}
	return nil
}

// StatusProviderProperties contributes a subsystem status hook.
// HealthHandler must resolve to a Hook[StatusReport].
type StatusProviderProperties struct {
	Title         string  `json:"title"`
	HealthHandler CodeRef `json:"healthHandler"`
}

// Validate implements PropertiesValidator
func (p StatusProviderProperties) Validate() error {
	if p.Title == "" {
		return errors.New("title is required")
	}
	if p.HealthHandler.IsZero() {
		return errors.New("healthHandler is required")
	}
	return nil
}

// StatusPollerProperties contributes a polled status provider.
// Fetch must resolve to a Hook[StatusReport]; it is called every Interval.
type StatusPollerProperties struct {
	Title    string   `json:"title"`
	Fetch    CodeRef  `json:"fetch"`
	Interval Duration `json:"interval,omitempty"`
}

// Validate implements PropertiesValidator
func (p StatusPollerProperties) Validate() error {
	if p.Title == "" {
		return errors.New("title is required")
	}
	if p.Fetch.IsZero() {
		return errors.New("fetch is required")
	}
	if p.Interval < 0 {
		return errors.New("interval must not be negative")
	}
	return nil
}

// RouteProperties contributes a page rendered at Path.
type RouteProperties struct {
	Path      string  `json:"path"`
	Exact     bool    `json:"exact,omitempty"`
	Component CodeRef `json:"component"`
}

// Validate implements PropertiesValidator
func (p RouteProperties) Validate() error {
	if p.Path == "" {
		return errors.New("path is required")
	}
	if p.Component.IsZero() {
		return errors.New("component is required")
	}
	return nil
}

// ActionProviderProperties contributes actions for a context id.
type ActionProviderProperties struct {
	ContextID string  `json:"contextId"`
	Provider  CodeRef `json:"provider"`
}

// Validate implements PropertiesValidator
func (p ActionProviderProperties) Validate() error {
	if p.ContextID == "" {
		return errors.New("contextId is required")
	}
	if p.Provider.IsZero() {
		return errors.New("provider is required")
	}
	return nil
}

// Duration is a time.Duration that decodes from "5s" style strings or from
// a number of nanoseconds.
type Duration time.Duration

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		parsed, err := time.ParseDuration(string(data[1 : len(data)-1]))
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*d = Duration(time.Duration(n))
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler for yaml.v3 scalar nodes.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if parsed, err := time.ParseDuration(s); err == nil {
		*d = Duration(parsed)
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(time.Duration(n))
	return nil
}

// Kind is the closed set of built-in extension contracts.
type Kind int

const (
	KindUnknown Kind = iota
	KindFeatureFlag
	KindFlagHookProvider
	KindStatusProvider
	KindStatusPoller
	KindRoute
	KindActionProvider
)

var kindTypes = map[Kind]string{
	KindFeatureFlag:      TypeFeatureFlag,
	KindFlagHookProvider: TypeFlagHookProvider,
	KindStatusProvider:   TypeStatusProvider,
	KindStatusPoller:     TypeStatusPoller,
	KindRoute:            TypeRoute,
	KindActionProvider:   TypeActionProvider,
}

// String returns the extension type of the kind.
func (k Kind) String() string {
	if t, ok := kindTypes[k]; ok {
		return t
	}
	return "unknown"
}

// KindOf maps an extension type to its built-in kind.
func KindOf(extensionType string) Kind {
	for k, t := range kindTypes {
		if t == extensionType {
			return k
		}
	}
	return KindUnknown
}

// Built-in predicates.
var (
	IsFeatureFlag      = IsType[FeatureFlagProperties](TypeFeatureFlag)
	IsFlagHookProvider = IsType[FlagHookProperties](TypeFlagHookProvider)
	IsStatusProvider   = IsType[StatusProviderProperties](TypeStatusProvider)
	IsStatusPoller     = IsType[StatusPollerProperties](TypeStatusPoller)
	IsRoute            = IsType[RouteProperties](TypeRoute)
	IsActionProvider   = IsType[ActionProviderProperties](TypeActionProvider)
)

// KindVisitor has one handler per built-in kind. Match fails with an
// unhandled-kind error when the handler for a record's kind is nil, so
// adding a kind surfaces every visitor that does not handle it yet.
type KindVisitor[R any] struct {
	FeatureFlag      func(Extension[FeatureFlagProperties]) R
	FlagHookProvider func(Extension[FlagHookProperties]) R
	StatusProvider   func(Extension[StatusProviderProperties]) R
	StatusPoller     func(Extension[StatusPollerProperties]) R
	Route            func(Extension[RouteProperties]) R
	ActionProvider   func(Extension[ActionProviderProperties]) R
}

// Match narrows rec to its built-in kind and dispatches to the visitor.
func Match[R any](rec ExtensionRecord, v KindVisitor[R]) (R, error) {
	var zero R
	kind := KindOf(rec.Type)
	switch kind {
	case KindFeatureFlag:
		return visit(rec, IsFeatureFlag, v.FeatureFlag, kind)
	case KindFlagHookProvider:
		return visit(rec, IsFlagHookProvider, v.FlagHookProvider, kind)
	case KindStatusProvider:
		return visit(rec, IsStatusProvider, v.StatusProvider, kind)
	case KindStatusPoller:
		return visit(rec, IsStatusPoller, v.StatusPoller, kind)
	case KindRoute:
		return visit(rec, IsRoute, v.Route, kind)
	case KindActionProvider:
		return visit(rec, IsActionProvider, v.ActionProvider, kind)
	default:
		return zero, NewUnhandledKindError(kind)
	}
}

func visit[P any, R any](rec ExtensionRecord, pred Predicate[P], handler func(Extension[P]) R, kind Kind) (R, error) {
	var zero R
	if handler == nil {
		return zero, NewUnhandledKindError(kind)
	}
	ext, _, err := pred.Narrow(rec)
	if err != nil {
		return zero, err
	}
	return handler(ext), nil
}
