// container.go: Code containers exposing plugin modules to the materializer
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"context"
	"sort"
	"sync"
)

// ContainerTransport names how a plugin's container is reached.
type ContainerTransport string

const (
	// TransportStatic serves modules registered in-process.
	TransportStatic ContainerTransport = "static"
	// TransportHTTP fetches modules as JSON documents over HTTP.
	TransportHTTP ContainerTransport = "http"
	// TransportGRPC fetches modules from a ModuleContainer gRPC service.
	TransportGRPC ContainerTransport = "grpc"
)

// Module is the set of exports of one container module.
type Module map[string]any

// Container is the minimal capability the materializer needs from a plugin:
// fetch a module by name. Implementations must be safe for concurrent use.
type Container interface {
	Get(ctx context.Context, module string) (Module, error)
}

// ContainerFunc adapts a function to the Container interface.
type ContainerFunc func(ctx context.Context, module string) (Module, error)

// Get implements Container
func (f ContainerFunc) Get(ctx context.Context, module string) (Module, error) {
	return f(ctx, module)
}

// DefaultExporter is implemented by values wrapping a default export.
// The materializer unwraps it to the wrapped value.
type DefaultExporter interface {
	DefaultExport() any
}

// Default wraps v as a default export.
type Default struct {
	Value any
}

// DefaultExport implements DefaultExporter
func (d Default) DefaultExport() any { return d.Value }

// unwrapDefault returns V for {default: V} shaped values and the value
// itself otherwise.
func unwrapDefault(v any) any {
	switch w := v.(type) {
	case DefaultExporter:
		return w.DefaultExport()
	case map[string]any:
		if inner, ok := w[defaultExport]; ok && len(w) == 1 {
			return inner
		}
	case Module:
		if inner, ok := w[defaultExport]; ok && len(w) == 1 {
			return inner
		}
	}
	return v
}

// lookupExport selects the export named by ref from mod.
func lookupExport(mod Module, ref CodeRef) (any, error) {
	value, ok := mod[ref.Export()]
	if !ok {
		return nil, NewExportNotFoundError(ref)
	}
	return unwrapDefault(value), nil
}

// StaticContainer serves modules registered in-process. It backs plugins
// compiled into the host and test fixtures.
//
// Example:
//
//	c := goextensions.NewStaticContainer()
//	c.Register("health", goextensions.Module{
//	    "default": goextensions.Hook[goextensions.StatusReport](checkHealth),
//	})
type StaticContainer struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewStaticContainer returns an empty StaticContainer.
func NewStaticContainer() *StaticContainer {
	return &StaticContainer{modules: make(map[string]Module)}
}

// Register adds or replaces a module.
func (c *StaticContainer) Register(name string, mod Module) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules[name] = mod
}

// Modules returns the registered module names in sorted order.
func (c *StaticContainer) Modules() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.modules))
	for name := range c.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get implements Container
func (c *StaticContainer) Get(ctx context.Context, name string) (Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	mod, ok := c.modules[name]
	if !ok {
		return nil, NewModuleNotFoundError(name)
	}
	out := make(Module, len(mod))
	for k, v := range mod {
		out[k] = v
	}
	return out, nil
}
