// env_config.go: Environment variable expansion for host configuration files
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// EnvExpansionOptions controls ${VAR} expansion.
type EnvExpansionOptions struct {
	// Prefix is tried before the bare variable name, e.g. GO_EXTENSIONS_.
	Prefix string
	// Overrides take precedence over inline defaults.
	Overrides map[string]string
	// FailOnMissing turns unresolved variables without default into errors.
	FailOnMissing bool
}

// DefaultEnvExpansionOptions returns the options used by LoadHostConfig.
func DefaultEnvExpansionOptions() EnvExpansionOptions {
	return EnvExpansionOptions{Prefix: "GO_EXTENSIONS_"}
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default} placeholders.
//
// Resolution order: prefixed variable, bare variable, override, inline
// default. Values containing NUL or line breaks are rejected.
func ExpandEnv(input string, options EnvExpansionOptions) (string, error) {
	if !strings.Contains(input, "${") {
		return input, nil
	}

	var firstErr error
	result := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := envPattern.FindStringSubmatch(match)
		value, err := lookupEnv(sub[1], sub[3], sub[2] != "", options)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return match
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

func lookupEnv(name, inlineDefault string, hasDefault bool, options EnvExpansionOptions) (string, error) {
	candidates := []string{name}
	if options.Prefix != "" && !strings.HasPrefix(name, options.Prefix) {
		candidates = []string{options.Prefix + name, name}
	}
	for _, candidate := range candidates {
		if value, ok := os.LookupEnv(candidate); ok && value != "" {
			return sanitizeEnvValue(candidate, value)
		}
	}
	if value, ok := options.Overrides[name]; ok {
		return sanitizeEnvValue(name, value)
	}
	if hasDefault {
		return sanitizeEnvValue(name, inlineDefault)
	}
	if options.FailOnMissing {
		return "", NewConfigValidationError(fmt.Sprintf("required environment variable not found: %s", name), nil)
	}
	return "", nil
}

func sanitizeEnvValue(name, value string) (string, error) {
	if strings.ContainsAny(value, "\x00\r\n") {
		return "", NewConfigValidationError(fmt.Sprintf("environment variable %s contains control characters", name), nil)
	}
	return value, nil
}
