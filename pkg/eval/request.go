package eval

import (
	"go.starlark.net/starlark"

	"github.com/quarrybuild/quarry/pkg/diag"
	"github.com/quarrybuild/quarry/pkg/extension"
)

// PackageImplicit names a module and the symbols from it that
// implicit_package_symbol may resolve for this build file. Symbols maps
// local name to the name exported by the module.
type PackageImplicit struct {
	Load    string
	Symbols map[string]string
}

// Request describes one build file to evaluate.
type Request struct {
	// BuildFile is the absolute path of the file.
	BuildFile string

	// Implicit optionally supplies package-implicit symbols.
	Implicit *PackageImplicit

	// Diagnostics seeds the file's diagnostic list, typically with
	// entries carried over from an earlier pipeline stage.
	Diagnostics []diag.Diagnostic
}

// Rule is one registered rule: its kind and raw attributes.
type Rule struct {
	Kind  string
	Attrs starlark.StringDict
}

// Name returns the rule's name attribute.
func (r Rule) Name() string {
	name, _ := starlark.AsString(r.Attrs["name"])
	return name
}

// Result is the outcome of evaluating one build file. A file that failed
// carries no rules; the failure is the trailing fatal diagnostic.
type Result struct {
	// Rules are the registered rules in registration order.
	Rules []Rule

	// Provenance records the file's external inputs: the file itself,
	// every transitively loaded module and tracked file, and all config
	// and environment reads.
	Provenance *extension.Provenance

	// Diagnostics are the warnings and errors raised, in order.
	Diagnostics []diag.Diagnostic
}

// Failed reports whether the result carries a fatal diagnostic.
func (r *Result) Failed() bool {
	for _, d := range r.Diagnostics {
		if d.Level == diag.LevelFatal {
			return true
		}
	}
	return false
}
