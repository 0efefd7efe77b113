// config.go: Host configuration with defaults, validation and file loading
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agilira/argus"
	"gopkg.in/yaml.v3"
)

// HostConfig is the file-facing configuration of a Host.
//
// Example (YAML):
//
//	plugin_dirs: ["/opt/app/plugins"]
//	fetch_timeout: 10s
//	circuit_breaker:
//	  enabled: true
//	  failure_threshold: 3
//	  recovery_timeout: 30s
//	watch:
//	  enabled: true
//	  poll_interval: 2s
//	flags:
//	  CAN_LIST_NODES: ${CAN_LIST_NODES:-true}
type HostConfig struct {
	PluginDirs       []string `json:"plugin_dirs" yaml:"plugin_dirs"`
	ManifestPatterns []string `json:"manifest_patterns" yaml:"manifest_patterns"`
	Manifests        []string `json:"manifests" yaml:"manifests"`

	FetchTimeout       Duration `json:"fetch_timeout" yaml:"fetch_timeout"`
	ResolveConcurrency int      `json:"resolve_concurrency" yaml:"resolve_concurrency"`

	CircuitBreaker BreakerSettings `json:"circuit_breaker" yaml:"circuit_breaker"`
	Status         StatusSettings  `json:"status" yaml:"status"`
	Watch          WatchSettings   `json:"watch" yaml:"watch"`
	Audit          AuditSettings   `json:"audit" yaml:"audit"`
	Metrics        MetricsSettings `json:"metrics" yaml:"metrics"`

	Flags map[string]bool `json:"flags" yaml:"flags"`
}

// BreakerSettings configures the per-plugin container circuit breakers.
type BreakerSettings struct {
	Enabled          bool     `json:"enabled" yaml:"enabled"`
	FailureThreshold int      `json:"failure_threshold" yaml:"failure_threshold"`
	RecoveryTimeout  Duration `json:"recovery_timeout" yaml:"recovery_timeout"`
	SuccessThreshold int      `json:"success_threshold" yaml:"success_threshold"`
}

// StatusSettings configures status pollers.
type StatusSettings struct {
	DefaultPollInterval Duration `json:"default_poll_interval" yaml:"default_poll_interval"`
	PollTimeout         Duration `json:"poll_timeout" yaml:"poll_timeout"`
}

// WatchSettings configures manifest hot reload.
type WatchSettings struct {
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	PollInterval Duration `json:"poll_interval" yaml:"poll_interval"`
	CacheTTL     Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// AuditSettings configures the audit trail.
type AuditSettings struct {
	Enabled       bool     `json:"enabled" yaml:"enabled"`
	OutputFile    string   `json:"output_file" yaml:"output_file"`
	BufferSize    int      `json:"buffer_size" yaml:"buffer_size"`
	FlushInterval Duration `json:"flush_interval" yaml:"flush_interval"`
}

// MetricsSettings toggles Prometheus collection.
type MetricsSettings struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// DefaultHostConfig returns a configuration with every default applied.
func DefaultHostConfig() HostConfig {
	var cfg HostConfig
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *HostConfig) ApplyDefaults() {
	if len(c.ManifestPatterns) == 0 {
		c.ManifestPatterns = []string{"plugin.yaml", "plugin.yml", "plugin.json"}
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = Duration(30 * time.Second)
	}
	if c.ResolveConcurrency <= 0 {
		c.ResolveConcurrency = 8
	}
	if c.CircuitBreaker.FailureThreshold <= 0 {
		c.CircuitBreaker.FailureThreshold = 5
	}
	if c.CircuitBreaker.RecoveryTimeout <= 0 {
		c.CircuitBreaker.RecoveryTimeout = Duration(30 * time.Second)
	}
	if c.CircuitBreaker.SuccessThreshold <= 0 {
		c.CircuitBreaker.SuccessThreshold = 1
	}
	if c.Status.DefaultPollInterval <= 0 {
		c.Status.DefaultPollInterval = Duration(30 * time.Second)
	}
	if c.Status.PollTimeout <= 0 {
		c.Status.PollTimeout = Duration(10 * time.Second)
	}
	if c.Watch.PollInterval <= 0 {
		c.Watch.PollInterval = Duration(2 * time.Second)
	}
	if c.Watch.CacheTTL <= 0 {
		c.Watch.CacheTTL = Duration(time.Second)
	}
	if c.Audit.OutputFile == "" {
		c.Audit.OutputFile = "go-extensions-audit.jsonl"
	}
	if c.Audit.BufferSize <= 0 {
		c.Audit.BufferSize = 1000
	}
	if c.Audit.FlushInterval <= 0 {
		c.Audit.FlushInterval = Duration(10 * time.Second)
	}
	if c.Flags == nil {
		c.Flags = make(map[string]bool)
	}
}

// Validate checks the configuration after defaults are applied.
func (c *HostConfig) Validate() error {
	for _, dir := range c.PluginDirs {
		if dir == "" {
			return NewConfigValidationError("plugin_dirs must not contain empty entries", nil)
		}
	}
	for _, pattern := range c.ManifestPatterns {
		if _, err := filepath.Match(pattern, "plugin.yaml"); err != nil {
			return NewConfigValidationError(fmt.Sprintf("invalid manifest pattern %q", pattern), err)
		}
	}
	if c.FetchTimeout <= 0 {
		return NewConfigValidationError("fetch_timeout must be positive", nil)
	}
	if c.ResolveConcurrency <= 0 {
		return NewConfigValidationError("resolve_concurrency must be positive", nil)
	}
	if c.Watch.Enabled && c.Watch.PollInterval.Std() < 100*time.Millisecond {
		return NewConfigValidationError("watch.poll_interval must be at least 100ms", nil)
	}
	if c.Status.PollTimeout > c.Status.DefaultPollInterval {
		return NewConfigValidationError("status.poll_timeout must not exceed status.default_poll_interval", nil)
	}
	return nil
}

// MaterializerConfig derives the materializer configuration.
func (c *HostConfig) MaterializerConfig() MaterializerConfig {
	return MaterializerConfig{
		FetchTimeout: c.FetchTimeout.Std(),
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          c.CircuitBreaker.Enabled,
			FailureThreshold: c.CircuitBreaker.FailureThreshold,
			RecoveryTimeout:  c.CircuitBreaker.RecoveryTimeout.Std(),
			SuccessThreshold: c.CircuitBreaker.SuccessThreshold,
		},
	}
}

// StatusBoardConfig derives the status board configuration.
func (c *HostConfig) StatusBoardConfig() StatusBoardConfig {
	return StatusBoardConfig{
		DefaultPollInterval: c.Status.DefaultPollInterval.Std(),
		PollTimeout:         c.Status.PollTimeout.Std(),
	}
}

// LoadHostConfig reads, expands, parses, defaults and validates a host
// configuration file. The format follows the file extension.
func LoadHostConfig(path string) (HostConfig, error) {
	var cfg HostConfig

	data, err := readConfigFile(path)
	if err != nil {
		return cfg, err
	}
	expanded, err := ExpandEnv(string(data), DefaultEnvExpansionOptions())
	if err != nil {
		return cfg, NewConfigParseError(path, err)
	}
	if err := decodeDocument([]byte(expanded), path, &cfg); err != nil {
		return cfg, NewConfigParseError(path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	cleanPath := filepath.Clean(path)
	info, err := os.Stat(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewConfigNotFoundError(path)
		}
		return nil, NewConfigParseError(path, err)
	}
	if !info.Mode().IsRegular() || info.Size() > 10*1024*1024 {
		return nil, NewConfigValidationError("config file invalid or too large: "+path, nil)
	}
	data, err := os.ReadFile(cleanPath) // #nosec G304 -- caller-supplied config path
	if err != nil {
		return nil, NewConfigParseError(path, err)
	}
	return data, nil
}

// decodeDocument binds data into out. YAML and JSON decode directly; other
// formats argus understands are parsed to a map and bound through JSON.
func decodeDocument(data []byte, path string, out any) error {
	switch format := argus.DetectFormat(path); format {
	case argus.FormatYAML:
		return yaml.Unmarshal(data, out)
	case argus.FormatJSON:
		return json.Unmarshal(data, out)
	default:
		parsed, err := argus.ParseConfig(data, format)
		if err != nil {
			return fmt.Errorf("unsupported or invalid %s document: %w", format.String(), err)
		}
		raw, err := json.Marshal(parsed)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, out)
	}
}
