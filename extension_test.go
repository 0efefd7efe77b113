// extension_test.go: Tests for code references, predicates and contracts
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goextensions

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidExtensionType(t *testing.T) {
	valid := []string{"host.flag/model", "console.page/route", "a.ext/x", "acme.dashboard/card/header"}
	invalid := []string{"", "noseparator", ".leading", "host.", "host.flag/", "host flag/model", "1host.flag"}

	for _, v := range valid {
		assert.True(t, ValidExtensionType(v), v)
	}
	for _, v := range invalid {
		assert.False(t, ValidExtensionType(v), v)
	}
}

func TestCodeRef_Parts(t *testing.T) {
	ref, err := ParseCodeRef("monitoring", "health.check")
	require.NoError(t, err)
	assert.Equal(t, "health", ref.Module())
	assert.Equal(t, "check", ref.Export())
	assert.Equal(t, "monitoring:health.check", ref.Key())
	assert.Equal(t, "monitoring/health.check", ref.String())

	bare, err := ParseCodeRef("monitoring", "pages")
	require.NoError(t, err)
	assert.Equal(t, "pages", bare.Module())
	assert.Equal(t, "default", bare.Export())
}

func TestCodeRef_Invalid(t *testing.T) {
	for _, ref := range []string{"", ".x", "x.", "a.b.c"} {
		_, err := ParseCodeRef("p", ref)
		require.Error(t, err, ref)
		assert.True(t, hasCode(err, ErrCodeInvalidCodeRef), ref)
	}
}

func TestCodeRef_JSON(t *testing.T) {
	var props RouteProperties
	require.NoError(t, json.Unmarshal([]byte(`{"path":"/x","component":{"$codeRef":"pages.X","plugin":"core"}}`), &props))
	assert.Equal(t, CodeRef{Plugin: "core", Ref: "pages.X"}, props.Component)
}

func TestBindCodeRefs(t *testing.T) {
	props := map[string]any{
		"title":   "t",
		"handler": codeRef("health.check"),
		"nested": []any{
			map[string]any{"component": codeRef("pages")},
			"plain",
		},
	}

	refs, err := bindCodeRefs("monitoring", props)
	require.NoError(t, err)
	assert.Len(t, refs, 2)
	assert.Equal(t, "monitoring", props["handler"].(map[string]any)["plugin"])
	nested := props["nested"].([]any)[0].(map[string]any)["component"].(map[string]any)
	assert.Equal(t, "monitoring", nested["plugin"])
}

func TestBindCodeRefs_RejectsNonStringRef(t *testing.T) {
	_, err := bindCodeRefs("p", map[string]any{"h": map[string]any{"$codeRef": 42}})
	require.Error(t, err)
	assert.True(t, hasCode(err, ErrCodeInvalidCodeRef))
}

func TestCloneProperties_DoesNotAlias(t *testing.T) {
	inner := map[string]any{"$codeRef": "a.b"}
	props := map[string]any{"ref": inner, "list": []any{1, 2}}

	cloned := cloneProperties(props)
	_, err := bindCodeRefs("p", cloned)
	require.NoError(t, err)

	_, stamped := inner["plugin"]
	assert.False(t, stamped, "original map must not be mutated")
	assert.Nil(t, cloneProperties(nil))
}

func TestCodeRefFields(t *testing.T) {
	type Embedded struct {
		Extra CodeRef `json:"extra"`
	}
	type props struct {
		Embedded
		Main     CodeRef  `json:"main"`
		Optional *CodeRef `json:"optional,omitempty"`
		Unset    CodeRef  `json:"unset"`
		Name     string   `json:"name"`
	}

	fields := codeRefFields(props{
		Embedded: Embedded{Extra: CodeRef{Plugin: "p", Ref: "x"}},
		Main:     CodeRef{Plugin: "p", Ref: "m.main"},
		Optional: &CodeRef{Plugin: "p", Ref: "o"},
	})

	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.name)
	}
	assert.ElementsMatch(t, []string{"extra", "main", "optional"}, names)
	assert.Empty(t, codeRefFields("not a struct"))
}

func TestPredicate_Narrow(t *testing.T) {
	rec := route("r1", "/home", "pages.Home")
	_, err := bindCodeRefs("core", rec.Properties)
	require.NoError(t, err)
	rec.PluginName = "core"

	ext, matched, err := IsRoute.Narrow(rec)
	require.NoError(t, err)
	require.True(t, matched)
	assert.Equal(t, "r1", ext.UID)
	assert.Equal(t, "core", ext.PluginName)
	assert.Equal(t, "/home", ext.Properties.Path)
	assert.Equal(t, CodeRef{Plugin: "core", Ref: "pages.Home"}, ext.Properties.Component)

	_, matched, err = IsStatusProvider.Narrow(rec)
	assert.NoError(t, err)
	assert.False(t, matched)
}

func TestPredicate_ContractMismatch(t *testing.T) {
	tests := []struct {
		name  string
		props map[string]any
	}{
		{"wrong field type", map[string]any{"path": 42, "component": codeRef("a")}},
		{"missing required field", map[string]any{"component": codeRef("a")}},
		{"missing code ref", map[string]any{"path": "/x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, matched, err := IsRoute.Narrow(ExtensionRecord{UID: "bad", Type: TypeRoute, Properties: tt.props})
			assert.True(t, matched)
			require.Error(t, err)
			assert.True(t, IsContractMismatch(err))
		})
	}
}

func TestPredicate_Where(t *testing.T) {
	exact := IsRoute.Where("exact", func(e Extension[RouteProperties]) bool { return e.Properties.Exact })
	assert.Equal(t, TypeRoute+"#exact", exact.ID())

	rec := route("r1", "/home", "pages.Home")
	_, matched, err := exact.Narrow(rec)
	require.NoError(t, err)
	assert.False(t, matched)

	rec.Properties["exact"] = true
	ext, matched, err := exact.Narrow(rec)
	require.NoError(t, err)
	assert.True(t, matched)
	assert.True(t, ext.Properties.Exact)
}

func TestPredicate_MultipleTypes(t *testing.T) {
	type anyProps map[string]any
	pred := IsType[anyProps]("a.ext/x", "a.ext/y")
	assert.Equal(t, "a.ext/x|a.ext/y", pred.ID())
	assert.Equal(t, []string{"a.ext/x", "a.ext/y"}, pred.Types())
	assert.True(t, pred.Matches(ExtensionRecord{Type: "a.ext/y"}))
	assert.False(t, pred.Matches(ExtensionRecord{Type: "a.ext/z"}))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindRoute, KindOf(TypeRoute))
	assert.Equal(t, KindStatusPoller, KindOf(TypeStatusPoller))
	assert.Equal(t, KindUnknown, KindOf("acme.custom/thing"))
	assert.Equal(t, TypeFeatureFlag, KindFeatureFlag.String())
	assert.Equal(t, "unknown", KindUnknown.String())
}

func TestMatch_DispatchesByKind(t *testing.T) {
	visitor := KindVisitor[string]{
		Route: func(e Extension[RouteProperties]) string { return "route " + e.Properties.Path },
		FeatureFlag: func(e Extension[FeatureFlagProperties]) string {
			return "flag " + e.Properties.Flag
		},
	}

	got, err := Match(route("r", "/a", "pages.A"), visitor)
	require.NoError(t, err)
	assert.Equal(t, "route /a", got)

	got, err = Match(ExtensionRecord{UID: "f", Type: TypeFeatureFlag, Properties: map[string]any{"flag": "X", "model": "m"}}, visitor)
	require.NoError(t, err)
	assert.Equal(t, "flag X", got)
}

func TestMatch_UnhandledKind(t *testing.T) {
	visitor := KindVisitor[int]{}

	_, err := Match(route("r", "/a", "pages.A"), visitor)
	require.Error(t, err)
	assert.True(t, hasCode(err, ErrCodeUnhandledKind))

	_, err = Match(ExtensionRecord{UID: "c", Type: "acme.custom/thing"}, visitor)
	require.Error(t, err)
	assert.True(t, hasCode(err, ErrCodeUnhandledKind))
}

func TestMatch_ContractMismatch(t *testing.T) {
	visitor := KindVisitor[bool]{Route: func(Extension[RouteProperties]) bool { return true }}
	_, err := Match(ExtensionRecord{UID: "r", Type: TypeRoute, Properties: map[string]any{"path": true}}, visitor)
	require.Error(t, err)
	assert.True(t, IsContractMismatch(err))
}

func TestResolvedAs(t *testing.T) {
	r := ResolvedExtension[RouteProperties]{
		Extension: Extension[RouteProperties]{UID: "r", Type: TypeRoute},
		Resolved:  map[string]any{"component": "page"},
	}

	v, err := ResolvedAs[string](r, "component")
	require.NoError(t, err)
	assert.Equal(t, "page", v)

	_, err = ResolvedAs[int](r, "component")
	assert.True(t, IsContractMismatch(err))

	_, err = ResolvedAs[string](r, "missing")
	assert.True(t, IsContractMismatch(err))
}

func TestDuration_Decode(t *testing.T) {
	var props StatusPollerProperties
	require.NoError(t, json.Unmarshal([]byte(`{"title":"t","fetch":{"$codeRef":"a"},"interval":"15s"}`), &props))
	assert.Equal(t, "15s", props.Interval.Std().String())

	require.NoError(t, json.Unmarshal([]byte(`{"title":"t","fetch":{"$codeRef":"a"},"interval":1000000000}`), &props))
	assert.Equal(t, "1s", props.Interval.Std().String())

	out, err := json.Marshal(props.Interval)
	require.NoError(t, err)
	assert.Equal(t, `"1s"`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &props.Interval))
}
