// http_container.go: Container fetching JSON modules over HTTP
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPContainerConfig configures an HTTPContainer.
type HTTPContainerConfig struct {
	// BaseURL is the container root; module m is fetched from BaseURL/m.json.
	BaseURL string `json:"base_url" yaml:"base_url"`

	Headers        map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	RequestTimeout time.Duration     `json:"request_timeout" yaml:"request_timeout"`
	MaxBodyBytes   int64             `json:"max_body_bytes" yaml:"max_body_bytes"`
}

// HTTPContainer serves modules published as JSON documents by a remote
// plugin deployment. Exports are plain data; function exports are only
// available from in-process containers.
//
// Example:
//
//	c, err := goextensions.NewHTTPContainer(goextensions.HTTPContainerConfig{
//	    BaseURL:        "https://plugins.example.com/monitoring/1.4.0",
//	    RequestTimeout: 10 * time.Second,
//	})
type HTTPContainer struct {
	config HTTPContainerConfig
	base   *url.URL
	client *http.Client
}

// NewHTTPContainer validates the configuration and builds the HTTP client.
func NewHTTPContainer(config HTTPContainerConfig) (*HTTPContainer, error) {
	base, err := url.Parse(config.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, NewConfigValidationError("invalid container base_url "+config.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, NewConfigValidationError("container base_url must use http or https", nil)
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 4 << 20
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}

	return &HTTPContainer{
		config: config,
		base:   base,
		client: &http.Client{Transport: transport, Timeout: config.RequestTimeout},
	}, nil
}

// Get implements Container
func (c *HTTPContainer) Get(ctx context.Context, module string) (Module, error) {
	if module == "" || strings.ContainsAny(module, "/\\") {
		return nil, NewModuleNotFoundError(module)
	}

	endpoint := c.base.JoinPath(module + ".json")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build module request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("module request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, NewModuleNotFoundError(module)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("module request returned HTTP %d", resp.StatusCode)
	}

	var mod Module
	decoder := json.NewDecoder(io.LimitReader(resp.Body, c.config.MaxBodyBytes))
	if err := decoder.Decode(&mod); err != nil {
		return nil, fmt.Errorf("failed to decode module %s: %w", module, err)
	}
	return mod, nil
}
