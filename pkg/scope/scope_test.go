package scope

import (
	"testing"

	"go.starlark.net/starlark"

	"github.com/quarrybuild/quarry/pkg/diag"
)

func TestLookup_WalksParentChain(t *testing.T) {
	root := New(nil)
	root.Define("outer", starlark.MakeInt(1))
	child := New(root)
	child.Define("inner", starlark.MakeInt(2))

	v, err := child.Lookup("outer")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if v != starlark.MakeInt(1) {
		t.Errorf("Expected 1, got %v", v)
	}

	if _, err := root.Lookup("inner"); !diag.IsKind(err, diag.KindUndefinedReference) {
		t.Errorf("Expected undefined-reference error, got: %v", err)
	}
}

func TestLookup_InnerShadowsOuter(t *testing.T) {
	root := New(nil)
	root.Define("x", starlark.MakeInt(1))
	child := New(root)
	child.Define("x", starlark.MakeInt(2))

	v, err := child.Lookup("x")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if v != starlark.MakeInt(2) {
		t.Errorf("Expected shadowing binding 2, got %v", v)
	}
}

func TestExported_PrivateNamesAreFiltered(t *testing.T) {
	s := New(nil)
	s.Define("visible", starlark.String("a"))
	s.Define("_hidden", starlark.String("b"))

	exported := s.Exported()
	if _, ok := exported["visible"]; !ok {
		t.Errorf("Expected visible to be exported")
	}
	if _, ok := exported["_hidden"]; ok {
		t.Errorf("Expected _hidden to be private")
	}
}

func TestExported_IsComputedOnce(t *testing.T) {
	s := New(nil)
	s.Define("before", starlark.String("a"))
	_ = s.Exported()
	s.Define("after", starlark.String("b"))

	if _, ok := s.Exported()["after"]; ok {
		t.Errorf("Expected export set to be frozen after first computation")
	}
}

func TestExported_ParentBindingsAreNotExported(t *testing.T) {
	root := New(nil)
	root.Define("outer", starlark.String("a"))
	child := New(root)
	child.Define("inner", starlark.String("b"))

	if _, ok := child.Exported()["outer"]; ok {
		t.Errorf("Expected parent binding not to leak into child's exports")
	}
}

func TestFromStringDict_WhitelistNarrowsExports(t *testing.T) {
	d := starlark.StringDict{
		"FOO":         starlark.MakeInt(1),
		"BAR":         starlark.MakeInt(2),
		WhitelistName: starlark.NewList([]starlark.Value{starlark.String("FOO")}),
	}
	s, err := FromStringDict(d)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	exported := s.Exported()
	if _, ok := exported["FOO"]; !ok {
		t.Errorf("Expected whitelisted FOO to be exported")
	}
	if _, ok := exported["BAR"]; ok {
		t.Errorf("Expected non-whitelisted BAR to be hidden")
	}
	if _, ok := exported[WhitelistName]; ok {
		t.Errorf("Expected the whitelist marker itself not to be exported")
	}
	// The whitelist narrows exports only; the name stays visible locally.
	if !s.Has("BAR") {
		t.Errorf("Expected BAR to remain visible inside the module")
	}
}

func TestFromStringDict_EmptyWhitelistExportsNothing(t *testing.T) {
	d := starlark.StringDict{
		"FOO":         starlark.MakeInt(1),
		WhitelistName: starlark.NewList(nil),
	}
	s, err := FromStringDict(d)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if n := len(s.Exported()); n != 0 {
		t.Errorf("Expected empty export set, got %d entries", n)
	}
}

func TestFromStringDict_BadWhitelist(t *testing.T) {
	d := starlark.StringDict{WhitelistName: starlark.MakeInt(3)}
	if _, err := FromStringDict(d); err == nil {
		t.Errorf("Expected error for non-sequence whitelist")
	}
}

func TestFlatten_InnerWins(t *testing.T) {
	root := New(nil)
	root.Define("x", starlark.MakeInt(1))
	root.Define("y", starlark.MakeInt(1))
	child := New(root)
	child.Define("x", starlark.MakeInt(2))

	flat := child.Flatten()
	if flat["x"] != starlark.MakeInt(2) {
		t.Errorf("Expected inner binding to win, got %v", flat["x"])
	}
	if flat["y"] != starlark.MakeInt(1) {
		t.Errorf("Expected outer binding to be present, got %v", flat["y"])
	}
}

func TestExportedNames_Sorted(t *testing.T) {
	s := New(nil)
	s.Define("b", starlark.None)
	s.Define("a", starlark.None)
	s.Define("c", starlark.None)

	names := s.ExportedNames()
	if len(names) != 3 || names[0] != "a" || names[1] != "b" || names[2] != "c" {
		t.Errorf("Expected sorted names, got %v", names)
	}
}
