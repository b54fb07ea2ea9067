package eval

import (
	"fmt"
	"os"
	"path/filepath"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/quarrybuild/quarry/pkg/diag"
	"github.com/quarrybuild/quarry/pkg/extension"
)

// fileState is the mutable per-build-file state: it exists for the
// duration of one Process call.
type fileState struct {
	path    string
	dir     string
	pkg     string
	rules   []Rule
	names   map[string]bool
	prov    *extension.Provenance
	tracked map[string]bool
	diags   *diag.Collector

	// implicitSymbols backs implicit_package_symbol for this file.
	implicitSymbols starlark.StringDict
}

// moduleFrame tracks one module whose top level is currently executing.
type moduleFrame struct {
	path string
	dir  string
	cell string
	prov *extension.Provenance
}

// buildEnv implements sandbox.Host. One instance is shared by every file
// an Evaluator processes, so builtins captured by cached module
// functions keep working across build files; the per-file state is
// swapped in and out by Process.
type buildEnv struct {
	ev      *Evaluator
	file    *fileState
	modules []moduleFrame

	// resolved maps load references seen this Process call to the
	// absolute paths they resolved to, for error reporting.
	resolved map[string]string
}

func (b *buildEnv) begin(f *fileState) {
	b.file = f
	b.modules = nil
	b.resolved = map[string]string{}
}

func (b *buildEnv) end() {
	b.file = nil
	b.modules = nil
}

func (b *buildEnv) pushModule(path, cell string, prov *extension.Provenance) {
	b.modules = append(b.modules, moduleFrame{
		path: path,
		dir:  filepath.Dir(path),
		cell: cell,
		prov: prov,
	})
}

func (b *buildEnv) popModule() {
	b.modules = b.modules[:len(b.modules)-1]
}

// inInclude reports whether the top level of a loaded module is
// currently executing. Context-sensitive builtins are forbidden there;
// calls from functions the module defines happen later, during build
// file execution, and pass.
func (b *buildEnv) inInclude() bool {
	return len(b.modules) > 0
}

func (b *buildEnv) currentModule() string {
	return b.modules[len(b.modules)-1].path
}

// currentProv is the provenance set observations are recorded to: the
// executing module's own set, or the build file's once its body runs.
func (b *buildEnv) currentProv() *extension.Provenance {
	if len(b.modules) > 0 {
		return b.modules[len(b.modules)-1].prov
	}
	return b.file.prov
}

func (b *buildEnv) currentDir() string {
	if len(b.modules) > 0 {
		return b.modules[len(b.modules)-1].dir
	}
	return b.file.dir
}

func (b *buildEnv) currentCell() string {
	if len(b.modules) > 0 {
		return b.modules[len(b.modules)-1].cell
	}
	return b.ev.opts.CellName
}

func (b *buildEnv) topLevelRestriction(builtin string) error {
	return diag.Newf(diag.KindUsageRestriction,
		"Cannot use `%s()` at the top-level of an included file.", builtin).
		WithPath(b.currentModule())
}

func (b *buildEnv) PackageName() (string, error) {
	if b.inInclude() {
		return "", b.topLevelRestriction("package_name")
	}
	return b.file.pkg, nil
}

func (b *buildEnv) RepositoryName() (string, error) {
	if b.inInclude() {
		return "", b.topLevelRestriction("repository_name")
	}
	return "@" + b.ev.opts.CellName, nil
}

func (b *buildEnv) RuleExists(name string) (bool, error) {
	if b.inInclude() {
		return false, b.topLevelRestriction("rule_exists")
	}
	return b.file.names[name], nil
}

func (b *buildEnv) AddRule(kind string, attrs starlark.StringDict) error {
	if b.inInclude() {
		return diag.Newf(diag.KindUsageRestriction,
			"Cannot register rule %s at the top-level of an included file.", kind).
			WithPath(b.currentModule())
	}
	b.file.rules = append(b.file.rules, Rule{Kind: kind, Attrs: attrs})
	if name, ok := starlark.AsString(attrs["name"]); ok {
		b.file.names[name] = true
	}
	return nil
}

func (b *buildEnv) ReadConfig(section, key string) (*string, error) {
	var value *string
	if fields, ok := b.ev.opts.Configs[section]; ok {
		if raw, ok := fields[key]; ok {
			v := raw
			value = &v
		}
	}
	// The raw observation is recorded even when the caller's default
	// ends up being returned.
	b.currentProv().AddConfig(section, key, value)
	return value, nil
}

func (b *buildEnv) Glob(include, exclude []string) ([]string, error) {
	if b.inInclude() {
		return nil, b.topLevelRestriction("glob")
	}
	b.ev.opts.Metrics.GlobQuery()
	res, err := b.ev.opts.Globber.Query(b.file.dir, include, exclude)
	if err != nil {
		return nil, err
	}
	if res.Warning != "" {
		b.Warn(diag.SourceGlobProvider, res.Warning)
	}
	return res.Files, nil
}

func (b *buildEnv) ImplicitPackageSymbol(name string) (starlark.Value, bool, error) {
	if b.inInclude() {
		return nil, false, b.topLevelRestriction("implicit_package_symbol")
	}
	v, ok := b.file.implicitSymbols[name]
	return v, ok, nil
}

func (b *buildEnv) LookupEnv(name string) (string, bool) {
	if b.ev.opts.Env != nil {
		v, ok := b.ev.opts.Env[name]
		return v, ok
	}
	return os.LookupEnv(name)
}

func (b *buildEnv) Environ() map[string]string {
	if b.ev.opts.Env != nil {
		return b.ev.opts.Env
	}
	env := map[string]string{}
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				env[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return env
}

func (b *buildEnv) RecordEnv(name string, value *string) {
	b.currentProv().AddEnv(name, value)
}

func (b *buildEnv) ResolveInclude(ref string) (string, error) {
	inc, err := b.ev.resolver.Resolve(ref, b.currentCell(), b.currentDir())
	if err != nil {
		return "", err
	}
	return inc.Path, nil
}

func (b *buildEnv) TrackFile(path string) {
	b.file.tracked[path] = true
	b.currentProv().AddFile(path)
}

func (b *buildEnv) IsTracked(path string) bool {
	return b.file.tracked[path] || b.file.prov.HasFile(path)
}

func (b *buildEnv) CurrentDir() string {
	return b.currentDir()
}

func (b *buildEnv) Warn(source, message string) {
	b.file.diags.Warn(source, message)
	b.ev.opts.Metrics.DiagnosticRaised(string(diag.LevelWarning), source)
}

// IncludeDefs loads a module and returns it as a namespace value, so a
// file can reach another file's exported definitions through attribute
// access without naming each symbol in a load statement.
func (b *buildEnv) IncludeDefs(ref string) (starlark.Value, error) {
	rec, err := b.ev.loadModule(ref)
	if err != nil {
		return nil, err
	}
	return &starlarkstruct.Module{Name: ref, Members: rec.Exported()}, nil
}

// packagePath converts a build file directory to its slash-separated
// package path below root.
func packagePath(root, dir string) (string, error) {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return "", fmt.Errorf("build file outside the cell root: %w", err)
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}
