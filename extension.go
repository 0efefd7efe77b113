// extension.go: Extension records, typed extensions and deferred code references
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// extensionTypePattern enforces <namespace>.<section>[/<sub-section>...].
var extensionTypePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]*\.[A-Za-z][A-Za-z0-9-]*(/[A-Za-z][A-Za-z0-9-]*)*$`)

// ValidExtensionType reports whether t follows the extension type convention.
func ValidExtensionType(t string) bool {
	return extensionTypePattern.MatchString(t)
}

// ExtensionFlags gates an extension on host feature flags.
//
// An extension is in use only when every Required flag is enabled and no
// Disallowed flag is enabled.
type ExtensionFlags struct {
	Required   []string `json:"required,omitempty" yaml:"required,omitempty"`
	Disallowed []string `json:"disallowed,omitempty" yaml:"disallowed,omitempty"`
}

// IsZero reports whether no flags are declared.
func (f ExtensionFlags) IsZero() bool {
	return len(f.Required) == 0 && len(f.Disallowed) == 0
}

// ExtensionRecord is a raw, untyped declaration contributed by a plugin.
//
// Type determines the shape of Properties. UID is unique across all loaded
// plugins and stable for the lifetime of the plugin.
type ExtensionRecord struct {
	UID        string         `json:"uid,omitempty" yaml:"uid,omitempty"`
	Type       string         `json:"type" yaml:"type"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
	Flags      ExtensionFlags `json:"flags,omitempty" yaml:"flags,omitempty"`
	PluginName string         `json:"-" yaml:"-"`
}

// Extension is a record narrowed to the properties shape P of its contract.
type Extension[P any] struct {
	UID        string
	Type       string
	PluginName string
	Flags      ExtensionFlags
	Properties P
}

// ResolvedExtension pairs an extension with the materialized values of all
// its CodeRef fields, keyed by the field's JSON name.
type ResolvedExtension[P any] struct {
	Extension Extension[P]
	Resolved  map[string]any
}

// ResolvedAs returns the materialized value of field converted to V.
// A missing field or a value of another type is a contract mismatch.
func ResolvedAs[V any, P any](r ResolvedExtension[P], field string) (V, error) {
	var zero V
	raw, ok := r.Resolved[field]
	if !ok {
		return zero, NewContractMismatchError(r.Extension.UID, r.Extension.Type,
			fmt.Sprintf("field %q was not resolved", field), nil)
	}
	v, ok := raw.(V)
	if !ok {
		return zero, NewContractMismatchError(r.Extension.UID, r.Extension.Type,
			fmt.Sprintf("field %q has type %T, expected %s", field, raw, reflect.TypeOf((*V)(nil)).Elem()), nil)
	}
	return v, nil
}

// CodeRef is a deferred pointer to code exported by a plugin's container.
//
// In manifests it is written as {"$codeRef": "module.export"}; a bare
// "module" refers to the module's default export. The owning plugin is bound
// by the loader.
type CodeRef struct {
	Plugin string `json:"plugin,omitempty" yaml:"plugin,omitempty"`
	Ref    string `json:"$codeRef" yaml:"$codeRef"`
}

const (
	codeRefKey    = "$codeRef"
	codeRefPlugin = "plugin"
	defaultExport = "default"
)

// ParseCodeRef validates ref and binds it to plugin.
func ParseCodeRef(plugin, ref string) (CodeRef, error) {
	c := CodeRef{Plugin: plugin, Ref: ref}
	if err := c.Validate(); err != nil {
		return CodeRef{}, err
	}
	return c, nil
}

// Validate checks the module.export syntax.
func (c CodeRef) Validate() error {
	if c.Ref == "" || strings.HasPrefix(c.Ref, ".") || strings.HasSuffix(c.Ref, ".") || strings.Count(c.Ref, ".") > 1 {
		return NewInvalidCodeRefError(c.Ref)
	}
	return nil
}

// IsZero reports whether the reference is unset.
func (c CodeRef) IsZero() bool {
	return c.Ref == ""
}

// Module returns the module part of the reference.
func (c CodeRef) Module() string {
	module, _, _ := strings.Cut(c.Ref, ".")
	return module
}

// Export returns the export name, "default" when none is given.
func (c CodeRef) Export() string {
	_, export, found := strings.Cut(c.Ref, ".")
	if !found {
		return defaultExport
	}
	return export
}

// Key identifies the reference across plugins.
func (c CodeRef) Key() string {
	return c.Plugin + ":" + c.Module() + "." + c.Export()
}

// String implements fmt.Stringer
func (c CodeRef) String() string {
	if c.Plugin == "" {
		return c.Ref
	}
	return c.Plugin + "/" + c.Ref
}

var codeRefType = reflect.TypeOf(CodeRef{})

// codeRefField is a CodeRef-typed field of a properties struct.
type codeRefField struct {
	name string
	ref  CodeRef
}

// codeRefFields enumerates the set CodeRef fields of a properties value,
// including those of embedded structs. Field names follow the json tag.
func codeRefFields(props any) []codeRefField {
	v := reflect.ValueOf(props)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}

	var fields []codeRefField
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		fv := v.Field(i)

		if sf.Anonymous && sf.Type.Kind() == reflect.Struct && sf.Type != codeRefType {
			fields = append(fields, codeRefFields(fv.Interface())...)
			continue
		}

		var ref CodeRef
		switch {
		case sf.Type == codeRefType:
			ref = fv.Interface().(CodeRef)
		case sf.Type.Kind() == reflect.Pointer && sf.Type.Elem() == codeRefType && !fv.IsNil():
			ref = *(fv.Interface().(*CodeRef))
		default:
			continue
		}
		if ref.IsZero() {
			continue
		}
		fields = append(fields, codeRefField{name: jsonFieldName(sf), ref: ref})
	}
	return fields
}

// jsonFieldName returns the json name of a struct field.
func jsonFieldName(sf reflect.StructField) string {
	tag := sf.Tag.Get("json")
	if tag == "" || tag == "-" {
		return sf.Name
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return sf.Name
	}
	return name
}

// bindCodeRefs walks decoded manifest properties and stamps every
// {"$codeRef": ...} object with the owning plugin name. It returns the
// references it found so the loader can validate them.
func bindCodeRefs(plugin string, value any) ([]CodeRef, error) {
	var refs []CodeRef
	var walk func(v any) error
	walk = func(v any) error {
		switch node := v.(type) {
		case map[string]any:
			if raw, ok := node[codeRefKey]; ok {
				ref, isString := raw.(string)
				if !isString {
					return NewInvalidCodeRefError(fmt.Sprint(raw))
				}
				c, err := ParseCodeRef(plugin, ref)
				if err != nil {
					return err
				}
				node[codeRefPlugin] = plugin
				refs = append(refs, c)
				return nil
			}
			for _, child := range node {
				if err := walk(child); err != nil {
					return err
				}
			}
		case []any:
			for _, child := range node {
				if err := walk(child); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(value); err != nil {
		return nil, err
	}
	return refs, nil
}

// cloneProperties deep-copies the maps and slices of decoded properties so
// that binding code references never mutates caller-owned data.
func cloneProperties(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	return cloneValue(props).(map[string]any)
}

func cloneValue(v any) any {
	switch node := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			out[k] = cloneValue(child)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, child := range node {
			out[i] = cloneValue(child)
		}
		return out
	default:
		return v
	}
}
