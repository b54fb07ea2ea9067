// Package scope implements the name→value symbol tables used by the
// evaluator: an isolated namespace with export-visibility rules and an
// optional parent chain for layered predeclared environments.
package scope

import (
	"sort"
	"strings"

	"go.starlark.net/starlark"

	"github.com/quarrybuild/quarry/pkg/diag"
)

// WhitelistName is the module-level binding that, when present, narrows a
// module's exported set to the names it lists.
const WhitelistName = "__all__"

// Scope is a mutable mapping from identifier to value with an associated
// export filter. Names prefixed with an underscore are private: visible
// to code inside the defining module (including functions that close over
// them) but never exported to a consumer of the scope. A module may
// instead declare an explicit export whitelist, in which case only the
// whitelisted names are exported.
type Scope struct {
	parent    *Scope
	bindings  starlark.StringDict
	whitelist []string // nil means "everything not underscore-prefixed"

	exported starlark.StringDict // computed lazily on first export
}

// New creates a scope. A nil parent makes a root scope.
func New(parent *Scope) *Scope {
	return &Scope{parent: parent, bindings: starlark.StringDict{}}
}

// FromStringDict creates a root scope holding the given bindings. If the
// dict declares an export whitelist under WhitelistName, the whitelist is
// applied and the marker binding itself is dropped.
func FromStringDict(d starlark.StringDict) (*Scope, error) {
	s := New(nil)
	for name, v := range d {
		if name == WhitelistName {
			names, err := whitelistNames(v)
			if err != nil {
				return nil, err
			}
			s.whitelist = names
			continue
		}
		s.bindings[name] = v
	}
	return s, nil
}

// Define binds name to value in this scope, shadowing any binding of the
// same name in the parent chain.
func (s *Scope) Define(name string, v starlark.Value) {
	s.bindings[name] = v
}

// Lookup resolves name against this scope, falling back to the parent
// chain. Missing names fail with an undefined-reference error.
func (s *Scope) Lookup(name string) (starlark.Value, error) {
	for sc := s; sc != nil; sc = sc.parent {
		if v, ok := sc.bindings[name]; ok {
			return v, nil
		}
	}
	return nil, diag.Newf(diag.KindUndefinedReference, "undefined: %s", name)
}

// Has reports whether name is bound in this scope or its parent chain.
func (s *Scope) Has(name string) bool {
	_, err := s.Lookup(name)
	return err == nil
}

// Exported returns this scope's exported bindings, applying the export
// filter. The filter is evaluated once and the result cached; later
// Define calls do not change the exported set. Parent bindings are never
// exported.
func (s *Scope) Exported() starlark.StringDict {
	if s.exported == nil {
		s.exported = starlark.StringDict{}
		if s.whitelist != nil {
			for _, name := range s.whitelist {
				if v, ok := s.bindings[name]; ok {
					s.exported[name] = v
				}
			}
		} else {
			for name, v := range s.bindings {
				if !strings.HasPrefix(name, "_") {
					s.exported[name] = v
				}
			}
		}
	}
	return s.exported
}

// ExportedNames returns the sorted names of the exported bindings.
func (s *Scope) ExportedNames() []string {
	exported := s.Exported()
	names := make([]string, 0, len(exported))
	for name := range exported {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Flatten merges the scope chain into a single StringDict, with bindings
// in inner scopes shadowing outer ones. Only local (non-exported-filtered)
// bindings participate: Flatten builds execution environments, not export
// surfaces.
func (s *Scope) Flatten() starlark.StringDict {
	out := starlark.StringDict{}
	s.flattenInto(out)
	return out
}

func (s *Scope) flattenInto(out starlark.StringDict) {
	if s.parent != nil {
		s.parent.flattenInto(out)
	}
	for name, v := range s.bindings {
		out[name] = v
	}
}

func whitelistNames(v starlark.Value) ([]string, error) {
	seq, ok := v.(starlark.Sequence)
	if !ok {
		return nil, diag.Newf(diag.KindInvalidReference,
			"%s must be a sequence of strings, got %s", WhitelistName, v.Type())
	}
	names := make([]string, 0, seq.Len())
	iter := seq.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		str, ok := starlark.AsString(x)
		if !ok {
			return nil, diag.Newf(diag.KindInvalidReference,
				"%s entries must be strings, got %s", WhitelistName, x.Type())
		}
		names = append(names, str)
	}
	return names, nil
}
