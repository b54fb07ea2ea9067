package sandbox

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/quarrybuild/quarry/pkg/diag"
)

// Host is the per-evaluation state the sandbox delegates to. The
// evaluator implements it against the build file currently being
// processed; context-sensitive operations return usage-restriction errors
// when no build-file state is available (i.e. at the top level of an
// included file).
type Host interface {
	// PackageName returns the current build file's package path.
	PackageName() (string, error)

	// RepositoryName returns the current cell name prefixed with "@".
	RepositoryName() (string, error)

	// RuleExists reports whether a rule with the given name has been
	// declared earlier in the current build file.
	RuleExists(name string) (bool, error)

	// AddRule appends a rule record of the given kind to the current
	// build file's rule list.
	AddRule(kind string, attrs starlark.StringDict) error

	// ReadConfig returns the configured value for (section, key), or nil
	// when absent, recording the read in provenance either way.
	ReadConfig(section, key string) (*string, error)

	// Glob expands the patterns against the build file's directory.
	Glob(include, exclude []string) ([]string, error)

	// ImplicitPackageSymbol looks up a package-level implicit binding.
	ImplicitPackageSymbol(name string) (starlark.Value, bool, error)

	// LookupEnv reads a process environment variable without recording.
	LookupEnv(name string) (string, bool)

	// Environ enumerates the process environment without recording.
	Environ() map[string]string

	// RecordEnv records an observed environment read; value is nil when
	// the variable was observed as absent.
	RecordEnv(name string, value *string)

	// ResolveInclude resolves a load-style reference against the current
	// include context to an absolute path.
	ResolveInclude(ref string) (string, error)

	// TrackFile registers an absolute path as a declared dependency of
	// the current build file.
	TrackFile(path string)

	// IsTracked reports whether an absolute path was declared as a
	// dependency.
	IsTracked(path string) bool

	// CurrentDir is the directory of the file currently executing.
	CurrentDir() string

	// Warn raises a non-fatal diagnostic on the current build file.
	Warn(source, message string)

	// IncludeDefs evaluates the referenced module and returns its
	// exported bindings as a namespace value.
	IncludeDefs(ref string) (starlark.Value, error)
}

// Options configures a sandbox instance.
type Options struct {
	// ImportAllowlist names host modules importable without restriction.
	ImportAllowlist []string

	// SafeModules maps a blocked module to the members exposed in its
	// safe version. Nil selects the default safe surface.
	SafeModules map[string][]string

	// Modules is the host-module registry. Nil selects HostModules().
	Modules map[string]*starlarkstruct.Module
}

// Sandbox holds the capability configuration shared by every file one
// evaluator instance processes. It is not safe for concurrent use.
type Sandbox struct {
	allowlist map[string]bool
	safe      map[string][]string
	registry  map[string]*starlarkstruct.Module
	safeMods  map[string]*starlarkstruct.Module

	// capStack tracks scoped capability relaxations; the top entry wins.
	capStack []bool
}

// New creates a sandbox with the given options.
func New(opts Options) *Sandbox {
	s := &Sandbox{
		allowlist: make(map[string]bool, len(opts.ImportAllowlist)),
		safe:      opts.SafeModules,
		registry:  opts.Modules,
		safeMods:  make(map[string]*starlarkstruct.Module),
	}
	for _, name := range opts.ImportAllowlist {
		s.allowlist[name] = true
	}
	if s.safe == nil {
		s.safe = DefaultSafeModules()
	}
	if s.registry == nil {
		s.registry = HostModules()
	}
	return s
}

// Builtins assembles the builtin surface exposed to file bodies: the
// rule-registration entry points for ruleKinds plus the fixed set of
// sandbox builtins, all bound to h.
func (s *Sandbox) Builtins(h Host, ruleKinds []string) starlark.StringDict {
	d := starlark.StringDict{
		"struct":                  starlark.NewBuiltin("struct", builtinStruct),
		"provider":                starlark.NewBuiltin("provider", builtinProvider),
		"fail":                    starlark.NewBuiltin("fail", builtinFail),
		"select":                  starlark.NewBuiltin("select", builtinSelect),
		"read_config":             starlark.NewBuiltin("read_config", readConfigFn(h)),
		"package_name":            starlark.NewBuiltin("package_name", packageNameFn(h)),
		"repository_name":         starlark.NewBuiltin("repository_name", repositoryNameFn(h)),
		"rule_exists":             starlark.NewBuiltin("rule_exists", ruleExistsFn(h)),
		"glob":                    starlark.NewBuiltin("glob", globFn(h)),
		"implicit_package_symbol": starlark.NewBuiltin("implicit_package_symbol", implicitPackageSymbolFn(h)),
		"getenv":                  starlark.NewBuiltin("getenv", getenvFn(h)),
		"environ":                 NewEnviron(h),
		"read_file":               starlark.NewBuiltin("read_file", readFileFn(h)),
		"add_build_file_dep":      starlark.NewBuiltin("add_build_file_dep", addBuildFileDepFn(h)),
		"import_module":           starlark.NewBuiltin("import_module", s.importModuleFn(h)),
		"allow_unsafe_import":     starlark.NewBuiltin("allow_unsafe_import", s.allowUnsafeImportFn()),
		"include_defs":            starlark.NewBuiltin("include_defs", includeDefsFn(h)),
	}
	for _, kind := range ruleKinds {
		d[kind] = starlark.NewBuiltin(kind, ruleFn(h, kind))
	}
	return d
}

// TypeTagKey is the reserved rule attribute identifying which rule kind
// produced a record.
const TypeTagKey = "quarry.type"

func ruleFn(h Host, kind string) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) > 0 {
			return nil, fmt.Errorf("%s: rules take keyword arguments only", kind)
		}
		attrs := make(starlark.StringDict, len(kwargs))
		for _, kv := range kwargs {
			name, _ := starlark.AsString(kv[0])
			attrs[name] = kv[1]
		}
		if _, ok := attrs["name"]; !ok {
			return nil, fmt.Errorf("%s: rules must declare a name", kind)
		}
		if _, ok := starlark.AsString(attrs["name"]); !ok {
			return nil, fmt.Errorf("%s: rule names must be strings, got %s", kind, attrs["name"].Type())
		}
		if err := h.AddRule(kind, attrs); err != nil {
			return nil, err
		}
		return starlark.None, nil
	}
}

type builtinFunc = func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

func builtinFail(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var msg starlark.Value
	var attribute string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "msg", &msg, "attr?", &attribute); err != nil {
		return nil, err
	}
	text, ok := starlark.AsString(msg)
	if !ok {
		text = msg.String()
	}
	if attribute != "" {
		return nil, diag.Newf(diag.KindExplicitFailure, "attribute %s: %s", attribute, text)
	}
	return nil, diag.New(diag.KindExplicitFailure, text)
}

func readConfigFn(h Host) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var section, key string
		var def starlark.Value = starlark.None
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "section", &section, "field", &key, "default?", &def); err != nil {
			return nil, err
		}
		value, err := h.ReadConfig(section, key)
		if err != nil {
			return nil, err
		}
		if value == nil {
			return def, nil
		}
		return starlark.String(*value), nil
	}
}

func packageNameFn(h Host) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
			return nil, err
		}
		name, err := h.PackageName()
		if err != nil {
			return nil, err
		}
		return starlark.String(name), nil
	}
}

func repositoryNameFn(h Host) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
			return nil, err
		}
		name, err := h.RepositoryName()
		if err != nil {
			return nil, err
		}
		return starlark.String(name), nil
	}
}

func ruleExistsFn(h Host) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
			return nil, err
		}
		exists, err := h.RuleExists(name)
		if err != nil {
			return nil, err
		}
		return starlark.Bool(exists), nil
	}
}

func globFn(h Host) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var include, exclude, excludes starlark.Value
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "include", &include, "exclude?", &exclude, "excludes?", &excludes); err != nil {
			return nil, err
		}
		if exclude != nil && excludes != nil {
			return nil, fmt.Errorf("glob: mixing 'exclude' and 'excludes' is not allowed; pass a single excludes list")
		}
		if exclude == nil {
			exclude = excludes
		}
		includeList, err := stringList("include", include)
		if err != nil {
			return nil, err
		}
		excludeList, err := stringList("exclude", exclude)
		if err != nil {
			return nil, err
		}
		files, err := h.Glob(includeList, excludeList)
		if err != nil {
			return nil, err
		}
		out := make([]starlark.Value, len(files))
		for i, f := range files {
			out[i] = starlark.String(f)
		}
		return starlark.NewList(out), nil
	}
}

func implicitPackageSymbolFn(h Host) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		var def starlark.Value = starlark.None
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "symbol", &name, "default?", &def); err != nil {
			return nil, err
		}
		v, ok, err := h.ImplicitPackageSymbol(name)
		if err != nil {
			return nil, err
		}
		if !ok {
			return def, nil
		}
		return v, nil
	}
}

func includeDefsFn(h Host) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var ref string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &ref); err != nil {
			return nil, err
		}
		return h.IncludeDefs(ref)
	}
}

func stringList(what string, v starlark.Value) ([]string, error) {
	if v == nil || v == starlark.None {
		return nil, nil
	}
	seq, ok := v.(starlark.Sequence)
	if !ok {
		return nil, fmt.Errorf("glob: %s must be a sequence of strings, got %s", what, v.Type())
	}
	out := make([]string, 0, seq.Len())
	iter := seq.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		str, ok := starlark.AsString(x)
		if !ok {
			return nil, fmt.Errorf("glob: %s entries must be strings, got %s", what, x.Type())
		}
		out = append(out, str)
	}
	return out, nil
}
