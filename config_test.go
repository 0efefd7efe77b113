// config_test.go: Tests for host configuration loading and env expansion
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultHostConfig(t *testing.T) {
	cfg := DefaultHostConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"plugin.yaml", "plugin.yml", "plugin.json"}, cfg.ManifestPatterns)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout.Std())
	assert.Equal(t, 8, cfg.ResolveConcurrency)
	assert.False(t, cfg.CircuitBreaker.Enabled)
	assert.NotNil(t, cfg.Flags)

	mc := cfg.MaterializerConfig()
	assert.Equal(t, 30*time.Second, mc.FetchTimeout)
	assert.Equal(t, 5, mc.CircuitBreaker.FailureThreshold)

	sc := cfg.StatusBoardConfig()
	assert.Equal(t, 30*time.Second, sc.DefaultPollInterval)
	assert.Equal(t, 10*time.Second, sc.PollTimeout)
}

func TestHostConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*HostConfig)
	}{
		{"empty plugin dir", func(c *HostConfig) { c.PluginDirs = []string{""} }},
		{"bad pattern", func(c *HostConfig) { c.ManifestPatterns = []string{"[plugin"} }},
		{"zero timeout", func(c *HostConfig) { c.FetchTimeout = 0 }},
		{"zero concurrency", func(c *HostConfig) { c.ResolveConcurrency = 0 }},
		{"fast watch", func(c *HostConfig) {
			c.Watch.Enabled = true
			c.Watch.PollInterval = Duration(10 * time.Millisecond)
		}},
		{"poll timeout above interval", func(c *HostConfig) {
			c.Status.PollTimeout = Duration(time.Minute)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultHostConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, hasCode(err, ErrCodeConfigValidationError))
		})
	}
}

func TestLoadHostConfig_YAML(t *testing.T) {
	t.Setenv("GO_EXTENSIONS_PLUGIN_ROOT", "/opt/app/plugins")
	env := NewTestEnvironment(t)
	path := env.WriteFile("host.yaml", `
plugin_dirs: ["${PLUGIN_ROOT}"]
fetch_timeout: 10s
circuit_breaker:
  enabled: true
  failure_threshold: 3
watch:
  enabled: true
  poll_interval: 500ms
flags:
  CAN_LIST_NODES: ${CAN_LIST_NODES:-true}
`)

	cfg, err := LoadHostConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"/opt/app/plugins"}, cfg.PluginDirs)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout.Std())
	assert.True(t, cfg.CircuitBreaker.Enabled)
	assert.Equal(t, 3, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.CircuitBreaker.RecoveryTimeout.Std(), "defaults fill the rest")
	assert.Equal(t, 500*time.Millisecond, cfg.Watch.PollInterval.Std())
	assert.Equal(t, map[string]bool{"CAN_LIST_NODES": true}, cfg.Flags)
}

func TestLoadHostConfig_JSON(t *testing.T) {
	env := NewTestEnvironment(t)
	path := env.WriteFile("host.json", `{"resolve_concurrency": 2, "status": {"default_poll_interval": "1m"}}`)

	cfg, err := LoadHostConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.ResolveConcurrency)
	assert.Equal(t, time.Minute, cfg.Status.DefaultPollInterval.Std())
}

func TestLoadHostConfig_Errors(t *testing.T) {
	env := NewTestEnvironment(t)

	_, err := LoadHostConfig(filepath.Join(env.Dir(), "absent.yaml"))
	assert.True(t, hasCode(err, ErrCodeConfigNotFound))

	_, err = LoadHostConfig(env.WriteFile("broken.yaml", "plugin_dirs: ["))
	assert.True(t, hasCode(err, ErrCodeConfigParseError))

	_, err = LoadHostConfig(env.WriteFile("invalid.yaml", "plugin_dirs: ['']"))
	assert.True(t, hasCode(err, ErrCodeConfigValidationError))

	_, err = LoadHostConfig(env.Dir())
	assert.True(t, hasCode(err, ErrCodeConfigValidationError), "directories are rejected")
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("GO_EXTENSIONS_REGION", "eu-west")
	t.Setenv("REGION", "us-east")
	t.Setenv("ZONE", "b")
	t.Setenv("BROKEN", "line\nbreak")

	tests := []struct {
		name    string
		input   string
		options EnvExpansionOptions
		want    string
		wantErr bool
	}{
		{"no placeholders", "plain", DefaultEnvExpansionOptions(), "plain", false},
		{"prefixed wins", "${REGION}", DefaultEnvExpansionOptions(), "eu-west", false},
		{"bare fallback", "${ZONE}", DefaultEnvExpansionOptions(), "b", false},
		{"without prefix", "${REGION}", EnvExpansionOptions{}, "us-east", false},
		{"inline default", "${MISSING:-fallback}", EnvExpansionOptions{}, "fallback", false},
		{"override beats default", "${MISSING:-fallback}", EnvExpansionOptions{Overrides: map[string]string{"MISSING": "set"}}, "set", false},
		{"missing is empty", "[${MISSING}]", EnvExpansionOptions{}, "[]", false},
		{"missing fails", "${MISSING}", EnvExpansionOptions{FailOnMissing: true}, "", true},
		{"control characters", "${BROKEN}", EnvExpansionOptions{}, "", true},
		{"several", "${ZONE}-${MISSING:-x}", EnvExpansionOptions{}, "b-x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandEnv(tt.input, tt.options)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, hasCode(err, ErrCodeConfigValidationError))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
