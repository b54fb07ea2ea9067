package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/quarrybuild/quarry/pkg/diag"
)

// importModuleFn returns the import_module builtin: the only way a file
// body reaches a host module. Modules on the allow-list import as-is;
// modules with a configured safe subset import as a shim exposing the
// whitelisted members and failing on the rest; everything else is a
// capability error.
func (s *Sandbox) importModuleFn(h Host) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
			return nil, err
		}
		mod, known := s.registry[name]
		if !known {
			return nil, diag.Newf(diag.KindCapabilityRestriction,
				"importing module %s is forbidden: no such host module", name)
		}
		if s.unrestricted() || s.allowlist[name] {
			return mod, nil
		}
		if members, ok := s.safe[name]; ok {
			return s.safeModule(name, mod, members), nil
		}
		return nil, diag.Newf(diag.KindCapabilityRestriction,
			"importing module %s is forbidden; if you really need it, opt in with allow_unsafe_import()", name)
	}
}

// allowUnsafeImportFn returns the allow_unsafe_import builtin: a scoped
// escape hatch that runs the given function with import restrictions
// lifted. The relaxed capability set is popped on every exit path.
func (s *Sandbox) allowUnsafeImportFn() builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var fn starlark.Callable
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "fn", &fn); err != nil {
			return nil, err
		}
		s.capStack = append(s.capStack, true)
		defer func() {
			s.capStack = s.capStack[:len(s.capStack)-1]
		}()
		return starlark.Call(thread, fn, nil, nil)
	}
}

func (s *Sandbox) unrestricted() bool {
	return len(s.capStack) > 0 && s.capStack[len(s.capStack)-1]
}

// safeModule builds (and caches) the safe version of a module: members on
// the whitelist pass through; other callable members are replaced with a
// shim that fails with a capability error when invoked.
func (s *Sandbox) safeModule(name string, mod *starlarkstruct.Module, whitelist []string) *starlarkstruct.Module {
	if safe, ok := s.safeMods[name]; ok {
		return safe
	}
	allowed := make(map[string]bool, len(whitelist))
	for _, m := range whitelist {
		allowed[m] = true
	}
	members := starlark.StringDict{}
	for member, v := range mod.Members {
		switch {
		case allowed[member]:
			members[member] = v
		case isCallable(v):
			members[member] = blockedFunction(member, name)
		}
	}
	safe := &starlarkstruct.Module{Name: name, Members: members}
	s.safeMods[name] = safe
	return safe
}

func blockedFunction(member, module string) *starlark.Builtin {
	return starlark.NewBuiltin(member, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		return nil, diag.Newf(diag.KindCapabilityRestriction,
			"using function %s is forbidden in the safe version of module %s; opt in with allow_unsafe_import()", member, module)
	})
}

func isCallable(v starlark.Value) bool {
	_, ok := v.(starlark.Callable)
	return ok
}

// DefaultSafeModules is the default safe surface: path manipulation and
// shell quoting stay available under sandboxing while anything touching
// the filesystem stays blocked.
func DefaultSafeModules() map[string][]string {
	return map[string][]string{
		"paths": {"join", "split", "dirname", "basename"},
		"shell": {"quote"},
	}
}

// HostModules is the default host-module registry.
func HostModules() map[string]*starlarkstruct.Module {
	return map[string]*starlarkstruct.Module{
		"paths": {
			Name: "paths",
			Members: starlark.StringDict{
				"join":     starlark.NewBuiltin("join", pathsJoin),
				"split":    starlark.NewBuiltin("split", pathsSplit),
				"dirname":  starlark.NewBuiltin("dirname", pathsDirname),
				"basename": starlark.NewBuiltin("basename", pathsBasename),
				"exists":   starlark.NewBuiltin("exists", pathsExists),
			},
		},
		"shell": {
			Name: "shell",
			Members: starlark.StringDict{
				"quote": starlark.NewBuiltin("quote", shellQuote),
			},
		},
	}
}

func pathsJoin(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("join: unexpected keyword arguments")
	}
	parts := make([]string, len(args))
	for i, arg := range args {
		str, ok := starlark.AsString(arg)
		if !ok {
			return nil, fmt.Errorf("join: arguments must be strings, got %s", arg.Type())
		}
		parts[i] = str
	}
	return starlark.String(strings.Join(parts, "/")), nil
}

func pathsSplit(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var p string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &p); err != nil {
		return nil, err
	}
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return starlark.Tuple{starlark.String(""), starlark.String(p)}, nil
	}
	return starlark.Tuple{starlark.String(p[:i]), starlark.String(p[i+1:])}, nil
}

func pathsDirname(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var p string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &p); err != nil {
		return nil, err
	}
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return starlark.String(p[:i]), nil
	}
	return starlark.String(""), nil
}

func pathsBasename(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var p string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &p); err != nil {
		return nil, err
	}
	return starlark.String(filepath.Base(p)), nil
}

func pathsExists(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var p string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &p); err != nil {
		return nil, err
	}
	_, err := os.Stat(p)
	return starlark.Bool(err == nil), nil
}

func shellQuote(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var s string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "s", &s); err != nil {
		return nil, err
	}
	if s != "" && !strings.ContainsAny(s, " \t\n\"'`$\\|&;<>()*?[]#~%") {
		return starlark.String(s), nil
	}
	return starlark.String("'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"), nil
}
