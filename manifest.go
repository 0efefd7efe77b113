// manifest.go: Plugin manifests declaring containers and extensions
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// pluginNamePattern allows lowercase names such as "monitoring" or
// "acme.storage-ui".
var pluginNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9.-]{0,126}[a-z0-9])?$`)

// PluginManifest is the declaration a plugin publishes.
//
// Example (YAML):
//
//	name: monitoring
//	version: 1.4.0
//	dependencies: [core]
//	container:
//	  transport: http
//	  endpoint: https://plugins.example.com/monitoring/1.4.0
//	extensions:
//	  - type: host.status/provider
//	    uid: monitoring-status
//	    properties:
//	      title: Monitoring
//	      healthHandler: {$codeRef: health.check}
type PluginManifest struct {
	Name         string            `json:"name" yaml:"name"`
	Version      string            `json:"version" yaml:"version"`
	DisplayName  string            `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	Description  string            `json:"description,omitempty" yaml:"description,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Container    ContainerSpec     `json:"container" yaml:"container"`
	Extensions   []ExtensionRecord `json:"extensions" yaml:"extensions"`

	// Path is the file the manifest was loaded from, if any.
	Path string `json:"-" yaml:"-"`
}

// ContainerSpec describes how to reach the plugin's code.
type ContainerSpec struct {
	Transport      ContainerTransport `json:"transport" yaml:"transport"`
	Endpoint       string             `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Headers        map[string]string  `json:"headers,omitempty" yaml:"headers,omitempty"`
	TLS            bool               `json:"tls,omitempty" yaml:"tls,omitempty"`
	RequestTimeout Duration           `json:"requestTimeout,omitempty" yaml:"requestTimeout,omitempty"`
}

// LoadManifestFile reads and validates a manifest. The format follows the
// file extension.
func LoadManifestFile(path string) (*PluginManifest, error) {
	cleanPath := filepath.Clean(path)
	data, err := readConfigFile(cleanPath)
	if err != nil {
		return nil, NewManifestParseError(path, err)
	}
	return ParseManifest(data, cleanPath)
}

// ParseManifest decodes and validates manifest data; source names the
// document and selects its format by extension.
func ParseManifest(data []byte, source string) (*PluginManifest, error) {
	var manifest PluginManifest
	if err := decodeDocument(data, source, &manifest); err != nil {
		return nil, NewManifestParseError(source, err)
	}
	manifest.Path = source
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// Validate checks the manifest and binds its code references to the plugin.
// Records without a uid get "<plugin>[<index>]".
func (m *PluginManifest) Validate() error {
	if !pluginNamePattern.MatchString(m.Name) {
		return NewInvalidPluginNameError(m.Name)
	}

	switch m.Container.Transport {
	case "":
		m.Container.Transport = TransportStatic
	case TransportStatic:
	case TransportHTTP, TransportGRPC:
		if m.Container.Endpoint == "" {
			return NewInvalidManifestError(m.Path, "container endpoint is required for transport "+string(m.Container.Transport))
		}
	default:
		return NewUnsupportedTransportError(m.Name, m.Container.Transport)
	}

	for _, dep := range m.Dependencies {
		if dep == m.Name {
			return NewDependencyCycleError([]string{m.Name})
		}
		if !pluginNamePattern.MatchString(dep) {
			return NewInvalidManifestError(m.Path, fmt.Sprintf("invalid dependency name %q", dep))
		}
	}

	seen := make(map[string]bool, len(m.Extensions))
	for i := range m.Extensions {
		rec := &m.Extensions[i]
		if !ValidExtensionType(rec.Type) {
			return NewInvalidExtensionTypeError(m.Name, rec.Type)
		}
		if rec.UID == "" {
			rec.UID = fmt.Sprintf("%s[%d]", m.Name, i)
		}
		if seen[rec.UID] {
			return NewDuplicateExtensionUIDError(rec.UID)
		}
		seen[rec.UID] = true
		rec.PluginName = m.Name
		if _, err := bindCodeRefs(m.Name, rec.Properties); err != nil {
			return NewInvalidManifestError(m.Path, fmt.Sprintf("extension %s: %v", rec.UID, err))
		}
	}
	return nil
}

// NewContainer builds the container described by the spec. Static plugins
// have no remote container; their code is registered in-process with
// Host.RegisterStaticContainer.
func (m *PluginManifest) NewContainer() (Container, error) {
	spec := m.Container
	timeout := spec.RequestTimeout.Std()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	switch spec.Transport {
	case TransportHTTP:
		return NewHTTPContainer(HTTPContainerConfig{
			BaseURL:        spec.Endpoint,
			Headers:        spec.Headers,
			RequestTimeout: timeout,
		})
	case TransportGRPC:
		return NewGRPCContainer(GRPCContainerConfig{
			Endpoint:       strings.TrimPrefix(spec.Endpoint, "grpc://"),
			TLS:            spec.TLS,
			RequestTimeout: timeout,
		})
	case TransportStatic, "":
		return nil, nil
	default:
		return nil, NewUnsupportedTransportError(m.Name, spec.Transport)
	}
}
