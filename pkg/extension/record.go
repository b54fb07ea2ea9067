// Package extension resolves load references to absolute file locations
// and materializes each referenced module at most once per evaluator
// instance, caching its exported-symbol table together with the external
// inputs its evaluation depended on.
package extension

import (
	"go.starlark.net/starlark"

	"github.com/quarrybuild/quarry/pkg/diag"
	"github.com/quarrybuild/quarry/pkg/scope"
)

// ModuleRecord identifies a fully evaluated extension or include file.
// Records live for the lifetime of the evaluator instance and are never
// invalidated: repeated loads of the same path return the identical
// record.
type ModuleRecord struct {
	// Path is the module's absolute file path.
	Path string

	// Cell names the root the module was resolved in.
	Cell string

	// Scope holds the module's top-level bindings and export filter.
	Scope *scope.Scope

	// Provenance records the files, config keys and environment
	// variables the module's evaluation transitively depended on.
	Provenance *Provenance
}

// Exported returns the module's exported bindings.
func (r *ModuleRecord) Exported() starlark.StringDict {
	return r.Scope.Exported()
}

// Extract resolves the requested symbols from a module's exported set.
// The symbols map is local name → original name; renamed symbols bind
// under the local name only. A request for a symbol outside the exported
// set fails naming the module's absolute path and the missing symbol.
func Extract(rec *ModuleRecord, symbols map[string]string) (starlark.StringDict, error) {
	out := make(starlark.StringDict, len(symbols))
	exported := rec.Exported()
	for local, original := range symbols {
		v, ok := exported[original]
		if !ok {
			err := diag.Newf(diag.KindSymbolNotFound, "%q is not defined in %s", original, rec.Path)
			return nil, err.WithPath(rec.Path).WithSymbol(original)
		}
		out[local] = v
	}
	return out, nil
}

// Provenance is the set of external inputs observed during evaluation:
// file dependencies (ordered, first occurrence wins), configuration reads
// and environment reads, each with the value observed or recorded-as-
// absent (nil).
type Provenance struct {
	files   []string
	fileSet map[string]bool

	// Configs maps section → key → observed value (nil when absent).
	Configs map[string]map[string]*string

	// Env maps variable name → observed value (nil when absent).
	Env map[string]*string
}

// NewProvenance creates an empty provenance set.
func NewProvenance() *Provenance {
	return &Provenance{
		fileSet: make(map[string]bool),
		Configs: make(map[string]map[string]*string),
		Env:     make(map[string]*string),
	}
}

// AddFile records a file dependency.
func (p *Provenance) AddFile(path string) {
	if p.fileSet[path] {
		return
	}
	p.fileSet[path] = true
	p.files = append(p.files, path)
}

// HasFile reports whether path was recorded as a dependency.
func (p *Provenance) HasFile(path string) bool {
	return p.fileSet[path]
}

// Files returns the recorded file dependencies in recording order. The
// returned slice is shared; callers must not mutate it.
func (p *Provenance) Files() []string {
	return p.files
}

// AddConfig records a configuration read.
func (p *Provenance) AddConfig(section, key string, value *string) {
	bySection := p.Configs[section]
	if bySection == nil {
		bySection = make(map[string]*string)
		p.Configs[section] = bySection
	}
	bySection[key] = value
}

// AddEnv records an environment-variable read.
func (p *Provenance) AddEnv(name string, value *string) {
	p.Env[name] = value
}

// Merge folds another provenance set into this one.
func (p *Provenance) Merge(other *Provenance) {
	for _, f := range other.files {
		p.AddFile(f)
	}
	for section, bySection := range other.Configs {
		for key, value := range bySection {
			p.AddConfig(section, key, value)
		}
	}
	for name, value := range other.Env {
		p.AddEnv(name, value)
	}
}
