// Package label parses the references used by load() and include_defs()
// in build files: cell-qualified labels such as "@cell//pkg:file.bzl",
// root-relative labels such as "//pkg:file.bzl" or "//pkg/DEFS", and
// directory-relative labels such as ":file.bzl".
package label

import (
	"strings"

	"github.com/quarrybuild/quarry/pkg/diag"
)

// Label is a parsed load or include reference.
type Label struct {
	// Cell is the named root the label is anchored to. Empty for the
	// main cell.
	Cell string

	// Package is the slash-separated directory path below the cell root.
	Package string

	// Name is the file name after the colon. Empty for path-form
	// references such as "//pkg/DEFS", where the last path segment of
	// Package is the file.
	Name string

	// Relative is true for ":name" references, which are resolved
	// against the directory of the requesting file.
	Relative bool
}

// String renders the label back in its canonical form.
func (l Label) String() string {
	if l.Relative {
		return ":" + l.Name
	}
	var b strings.Builder
	b.WriteString(l.Cell)
	b.WriteString("//")
	b.WriteString(l.Package)
	if l.Name != "" {
		b.WriteString(":")
		b.WriteString(l.Name)
	}
	return b.String()
}

// PathBelowRoot returns the label's file path relative to its cell root.
func (l Label) PathBelowRoot() string {
	if l.Name == "" {
		return l.Package
	}
	if l.Package == "" {
		return l.Name
	}
	return l.Package + "/" + l.Name
}

// Parse parses a load or include reference. It accepts the skylark-style
// "@cell//pkg:name", the bare "cell//pkg:name", the root-anchored
// "//pkg:name" and "//pkg/path" forms, and the directory-relative ":name"
// form. Anything else is an invalid reference.
func Parse(ref string) (Label, error) {
	if ref == "" {
		return Label{}, diag.New(diag.KindInvalidReference, "empty load reference")
	}

	if strings.HasPrefix(ref, ":") {
		return Label{Name: ref[1:], Relative: true}, nil
	}

	idx := strings.Index(ref, "//")
	if idx < 0 {
		return Label{}, diag.Newf(diag.KindInvalidReference,
			"invalid reference %q: expected [cell]//pkg[:name] or :name", ref)
	}

	cell := strings.TrimPrefix(ref[:idx], "@")
	rest := ref[idx+2:]

	pkg, name := rest, ""
	if colon := strings.Index(rest, ":"); colon >= 0 {
		pkg, name = rest[:colon], rest[colon+1:]
		if name == "" {
			return Label{}, diag.Newf(diag.KindInvalidReference,
				"invalid reference %q: empty name after colon", ref)
		}
	}

	return Label{Cell: cell, Package: pkg, Name: name}, nil
}
