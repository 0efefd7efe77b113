// errors.go: structured error definitions for the go-extensions runtime
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	stderrors "errors"
	"fmt"

	"github.com/agilira/go-errors"
)

// Error codes for the go-extensions runtime
const (
	// Manifest and configuration errors (1000-1099)
	ErrCodeInvalidManifest       = "MANIFEST_1001"
	ErrCodeInvalidPluginName     = "MANIFEST_1002"
	ErrCodeInvalidExtensionType  = "MANIFEST_1003"
	ErrCodeDuplicateExtensionUID = "MANIFEST_1004"
	ErrCodeManifestParseError    = "MANIFEST_1005"
	ErrCodeUnsupportedTransport  = "MANIFEST_1006"
	ErrCodeDependencyCycle       = "MANIFEST_1007"
	ErrCodeMissingDependency     = "MANIFEST_1008"

	ErrCodeConfigNotFound        = "CONFIG_1051"
	ErrCodeConfigParseError      = "CONFIG_1052"
	ErrCodeConfigValidationError = "CONFIG_1053"
	ErrCodeConfigWatcherError    = "CONFIG_1054"

	// Store and registry errors (1100-1199)
	ErrCodePluginAlreadyLoaded = "STORE_1101"
	ErrCodePluginNotLoaded     = "STORE_1102"
	ErrCodeContainerNotFound   = "STORE_1103"

	// Materialization and runtime errors (2000-2199)
	ErrCodeRemoteLoadFailure = "EXT_2001"
	ErrCodeInvalidCodeRef    = "EXT_2002"
	ErrCodeModuleNotFound    = "EXT_2003"
	ErrCodeExportNotFound    = "EXT_2004"
	ErrCodeCircuitOpen       = "EXT_2005"
	ErrCodeRuntimeFault      = "EXT_2101"

	// Contract errors (2200-2299)
	ErrCodeContractMismatch = "EXT_2201"
	ErrCodeUnhandledKind    = "EXT_2202"

	// Bridge and poller errors (2300-2399)
	ErrCodeBridgeUnmounted = "BRIDGE_2301"
	ErrCodePollerStopped   = "BRIDGE_2302"

	// Audit errors (2400-2499)
	ErrCodeAuditError = "AUDIT_2401"
)

// Manifest and configuration error constructors

func NewInvalidManifestError(path string, message string) *errors.Error {
	return errors.New(ErrCodeInvalidManifest, "Invalid plugin manifest: "+message).
		WithUserMessage("The plugin manifest is not valid").
		WithContext("manifest_path", path).
		WithSeverity("error")
}

func NewInvalidPluginNameError(name string) *errors.Error {
	return errors.New(ErrCodeInvalidPluginName, "Invalid plugin name").
		WithUserMessage("Plugin name is required and may only contain lowercase letters, digits, dots and dashes").
		WithContext("provided_name", name).
		WithSeverity("error")
}

func NewInvalidExtensionTypeError(pluginName, extensionType string) *errors.Error {
	return errors.New(ErrCodeInvalidExtensionType, "Invalid extension type").
		WithUserMessage("Extension type must follow the <namespace>.<section>/<sub-section> convention").
		WithContext("plugin_name", pluginName).
		WithContext("extension_type", extensionType).
		WithSeverity("error")
}

func NewDuplicateExtensionUIDError(uid string) *errors.Error {
	return errors.New(ErrCodeDuplicateExtensionUID, "Duplicate extension uid").
		WithUserMessage("Extension uids must be unique across all loaded plugins").
		WithContext("uid", uid).
		WithSeverity("error")
}

func NewManifestParseError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeManifestParseError, "Manifest parse error").
		WithUserMessage("Failed to parse plugin manifest").
		WithContext("manifest_path", path).
		WithSeverity("error")
}

func NewUnsupportedTransportError(pluginName string, transport ContainerTransport) *errors.Error {
	return errors.New(ErrCodeUnsupportedTransport, "Unsupported container transport").
		WithUserMessage("The plugin container transport is not supported").
		WithContext("plugin_name", pluginName).
		WithContext("transport", string(transport)).
		WithSeverity("error")
}

func NewDependencyCycleError(plugins []string) *errors.Error {
	return errors.New(ErrCodeDependencyCycle, "Plugin dependency cycle").
		WithUserMessage("Plugins declare a circular dependency").
		WithContext("plugins", plugins).
		WithSeverity("error")
}

func NewMissingDependencyError(pluginName, dependency string) *errors.Error {
	return errors.New(ErrCodeMissingDependency, "Missing plugin dependency").
		WithUserMessage("A plugin dependency is not available").
		WithContext("plugin_name", pluginName).
		WithContext("dependency", dependency).
		WithSeverity("error")
}

func NewConfigNotFoundError(path string) *errors.Error {
	return errors.New(ErrCodeConfigNotFound, "Configuration file not found").
		WithUserMessage("The configuration file could not be found").
		WithContext("config_path", path).
		WithSeverity("error")
}

func NewConfigParseError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeConfigParseError, "Configuration parse error").
		WithUserMessage("Failed to parse configuration file").
		WithContext("config_path", path).
		WithSeverity("error")
}

func NewConfigValidationError(message string, cause error) *errors.Error {
	if cause != nil {
		return errors.Wrap(cause, ErrCodeConfigValidationError, "Configuration validation error: "+message).
			WithUserMessage("Configuration validation failed").
			WithSeverity("error")
	}
	return errors.New(ErrCodeConfigValidationError, "Configuration validation error: "+message).
		WithUserMessage("Configuration validation failed").
		WithSeverity("error")
}

func NewConfigWatcherError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeConfigWatcherError, "Manifest watcher error: "+message).
		WithUserMessage("Manifest monitoring failed").
		WithSeverity("error")
}

// Store error constructors

func NewPluginAlreadyLoadedError(name string) *errors.Error {
	return errors.New(ErrCodePluginAlreadyLoaded, "Plugin already loaded").
		WithUserMessage("A plugin with this name is already loaded").
		WithContext("plugin_name", name).
		WithSeverity("warning")
}

func NewPluginNotLoadedError(name string) *errors.Error {
	return errors.New(ErrCodePluginNotLoaded, "Plugin not loaded").
		WithUserMessage("The requested plugin is not loaded").
		WithContext("plugin_name", name).
		WithSeverity("warning")
}

func NewContainerNotFoundError(pluginName string) *errors.Error {
	return errors.New(ErrCodeContainerNotFound, "Container not found").
		WithUserMessage("No code container is registered for this plugin").
		WithContext("plugin_name", pluginName).
		WithSeverity("error")
}

// Materialization error constructors

// NewRemoteLoadFailureError reports that the code behind a reference could not
// be fetched or instantiated. The condition is recoverable by reloading.
func NewRemoteLoadFailureError(ref CodeRef, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeRemoteLoadFailure, "Remote load failure: "+ref.String()).
		WithUserMessage("Failed to load plugin code, reload to get the latest version").
		WithContext("plugin_name", ref.Plugin).
		WithContext("code_ref", ref.Ref).
		WithSeverity("error").
		AsRetryable()
}

func NewInvalidCodeRefError(ref string) *errors.Error {
	return errors.New(ErrCodeInvalidCodeRef, "Invalid code reference").
		WithUserMessage("Code reference must have the form module or module.export").
		WithContext("code_ref", ref).
		WithSeverity("error")
}

func NewModuleNotFoundError(module string) *errors.Error {
	return errors.New(ErrCodeModuleNotFound, "Module not found: "+module).
		WithUserMessage("The plugin container does not provide the requested module").
		WithContext("module", module).
		WithSeverity("error")
}

func NewExportNotFoundError(ref CodeRef) *errors.Error {
	return errors.New(ErrCodeExportNotFound, "Export not found: "+ref.String()).
		WithUserMessage("The plugin module does not provide the requested export").
		WithContext("plugin_name", ref.Plugin).
		WithContext("code_ref", ref.Ref).
		WithSeverity("error")
}

func NewCircuitOpenError(pluginName string) *errors.Error {
	return errors.New(ErrCodeCircuitOpen, "Circuit breaker open for plugin "+pluginName).
		WithUserMessage("Plugin code is temporarily unavailable").
		WithContext("plugin_name", pluginName).
		WithSeverity("warning").
		AsRetryable()
}

// NewRuntimeFaultError reports that a materialized value failed once invoked.
// The trace carries the stack of the adapter that invoked it.
func NewRuntimeFaultError(uid string, cause error, trace string) *errors.Error {
	return errors.Wrap(cause, ErrCodeRuntimeFault, "Runtime fault in extension "+uid).
		WithUserMessage("A plugin extension failed while running").
		WithContext("uid", uid).
		WithContext("trace", trace).
		WithSeverity("error")
}

// Contract error constructors

func NewContractMismatchError(uid, extensionType, message string, cause error) *errors.Error {
	if cause == nil {
		cause = stderrors.New(message)
	}
	return errors.Wrap(cause, ErrCodeContractMismatch, "Contract mismatch: "+message).
		WithUserMessage("Extension properties do not match the extension point contract").
		WithContext("uid", uid).
		WithContext("extension_type", extensionType).
		WithSeverity("warning")
}

func NewUnhandledKindError(kind Kind) *errors.Error {
	return errors.New(ErrCodeUnhandledKind, "Unhandled extension kind").
		WithUserMessage("No handler is registered for the extension kind").
		WithContext("kind", kind.String()).
		WithSeverity("error")
}

// Bridge error constructors

func NewBridgeUnmountedError() *errors.Error {
	return errors.New(ErrCodeBridgeUnmounted, "State bridge unmounted").
		WithUserMessage("The state bridge has been unmounted").
		WithSeverity("warning")
}

func NewPollerStoppedError(uid string) *errors.Error {
	return errors.New(ErrCodePollerStopped, "Status poller stopped").
		WithUserMessage("The status poller is no longer running").
		WithContext("uid", uid).
		WithSeverity("warning")
}

func NewAuditError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeAuditError, "Audit error: "+message).
		WithUserMessage("Extension audit logging failed").
		WithSeverity("warning")
}

// Classification helpers

// hasCode walks err's tree, including errors joined with errors.Join.
func hasCode(err error, code errors.ErrorCode) bool {
	for err != nil {
		if extErr, ok := err.(*errors.Error); ok && extErr.Code == code {
			return true
		}
		if joined, ok := err.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				if hasCode(inner, code) {
					return true
				}
			}
			return false
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// IsRemoteLoadFailure reports whether err is, or wraps, a remote load failure.
func IsRemoteLoadFailure(err error) bool {
	return hasCode(err, ErrCodeRemoteLoadFailure)
}

// IsRuntimeFault reports whether err is, or wraps, a runtime fault.
func IsRuntimeFault(err error) bool {
	return hasCode(err, ErrCodeRuntimeFault)
}

// IsContractMismatch reports whether err is, or wraps, a contract mismatch.
func IsContractMismatch(err error) bool {
	return hasCode(err, ErrCodeContractMismatch)
}

// NoticeKind identifies the user-facing presentation of a failure.
type NoticeKind string

const (
	NoticeNone       NoticeKind = ""
	NoticeReload     NoticeKind = "reload"
	NoticeRuntime    NoticeKind = "runtime"
	NoticeIncomplete NoticeKind = "incomplete"
)

// Notice is the actionable message shown for a scoped extension failure.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Details string     `json:"details,omitempty"`
	Actions []string   `json:"actions,omitempty"`
}

// NoticeFor maps an extension failure to its user-visible notice.
//
// Remote load failures ask the user to reload. Runtime faults offer details
// and a dismiss action. Contract mismatches are excluded silently and
// produce NoticeNone.
func NoticeFor(err error) Notice {
	switch {
	case err == nil:
		return Notice{Kind: NoticeNone}
	case IsRemoteLoadFailure(err):
		return Notice{
			Kind:    NoticeReload,
			Title:   "Failed to load plugin code",
			Message: "A newer version of this plugin may be available. Reload to get the latest version.",
			Details: err.Error(),
			Actions: []string{"reload"},
		}
	case IsRuntimeFault(err):
		var extErr *errors.Error
		details := err.Error()
		if stderrors.As(err, &extErr) {
			if trace, ok := extErr.Context["trace"].(string); ok && trace != "" {
				details = fmt.Sprintf("%s\n\n%s", details, trace)
			}
		}
		return Notice{
			Kind:    NoticeRuntime,
			Title:   "A plugin extension stopped working",
			Message: "The rest of the application keeps running. You can dismiss this message and continue.",
			Details: details,
			Actions: []string{"show-details", "dismiss"},
		}
	case IsContractMismatch(err):
		return Notice{Kind: NoticeNone}
	default:
		return Notice{
			Kind:    NoticeIncomplete,
			Title:   "Extension unavailable",
			Message: err.Error(),
		}
	}
}
