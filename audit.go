// audit.go: Audit trail of plugin lifecycle events backed by argus
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"github.com/agilira/argus"
	"github.com/agilira/go-timecache"
)

// Audit event types.
const (
	AuditPluginLoaded     = "plugin_loaded"
	AuditPluginUnloaded   = "plugin_unloaded"
	AuditPluginRejected   = "plugin_rejected"
	AuditManifestReloaded = "manifest_reloaded"
	AuditManifestDeleted  = "manifest_deleted"
	AuditCacheReset       = "materializer_reset"
)

// AuditTrail records plugin lifecycle events. A nil *AuditTrail records
// nothing.
type AuditTrail struct {
	logger *argus.AuditLogger
}

// NewAuditTrail opens the argus audit logger described by settings. It
// returns nil when auditing is disabled.
func NewAuditTrail(settings AuditSettings) (*AuditTrail, error) {
	if !settings.Enabled {
		return nil, nil
	}
	logger, err := argus.NewAuditLogger(argus.AuditConfig{
		Enabled:       true,
		OutputFile:    settings.OutputFile,
		MinLevel:      argus.AuditInfo,
		BufferSize:    settings.BufferSize,
		FlushInterval: settings.FlushInterval.Std(),
	})
	if err != nil {
		return nil, NewAuditError("failed to create audit logger", err)
	}
	return &AuditTrail{logger: logger}, nil
}

// Record writes one event.
func (a *AuditTrail) Record(eventType, message string, fields map[string]interface{}) {
	if a == nil || a.logger == nil {
		return
	}
	context := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		context[k] = v
	}
	context["recorded_at"] = timecache.CachedTime().UTC().Format("2006-01-02T15:04:05.000Z07:00")
	a.logger.LogSecurityEvent(eventType, message, context)
}

// Close flushes and closes the audit log.
func (a *AuditTrail) Close() error {
	if a == nil || a.logger == nil {
		return nil
	}
	if err := a.logger.Close(); err != nil {
		return NewAuditError("failed to close audit logger", err)
	}
	return nil
}
