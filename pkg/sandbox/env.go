package sandbox

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
)

// Environ is the environment-variable mapping exposed to file bodies.
// Every observation — index, .get, membership test, or enumeration — is
// recorded in the current build file's provenance with the value seen,
// including variables observed as absent.
type Environ struct {
	host Host
}

// NewEnviron creates the environ value bound to h.
func NewEnviron(h Host) *Environ {
	return &Environ{host: h}
}

// String implements starlark.Value.
func (e *Environ) String() string { return "environ" }

// Type implements starlark.Value.
func (e *Environ) Type() string { return "environ" }

// Freeze implements starlark.Value.
func (e *Environ) Freeze() {}

// Truth implements starlark.Value.
func (e *Environ) Truth() starlark.Bool { return true }

// Hash implements starlark.Value.
func (e *Environ) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: environ")
}

// Get implements starlark.Mapping; it also backs membership tests.
func (e *Environ) Get(k starlark.Value) (starlark.Value, bool, error) {
	name, ok := starlark.AsString(k)
	if !ok {
		return nil, false, fmt.Errorf("environ keys are strings, got %s", k.Type())
	}
	value, found := e.host.LookupEnv(name)
	e.record(name, value, found)
	if !found {
		return nil, false, nil
	}
	return starlark.String(value), true, nil
}

// Items implements starlark.IterableMapping. Bulk enumeration records
// every variable it exposes.
func (e *Environ) Items() []starlark.Tuple {
	env := e.host.Environ()
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)
	items := make([]starlark.Tuple, 0, len(names))
	for _, name := range names {
		e.record(name, env[name], true)
		items = append(items, starlark.Tuple{starlark.String(name), starlark.String(env[name])})
	}
	return items
}

// Iterate implements starlark.Iterable, yielding keys like a dict.
func (e *Environ) Iterate() starlark.Iterator {
	items := e.Items()
	keys := make([]starlark.Value, len(items))
	for i, item := range items {
		keys[i] = item[0]
	}
	return &environIterator{keys: keys}
}

// Attr implements starlark.HasAttrs.
func (e *Environ) Attr(name string) (starlark.Value, error) {
	switch name {
	case "get":
		return starlark.NewBuiltin("get", e.get), nil
	case "keys":
		return starlark.NewBuiltin("keys", e.keys), nil
	case "items":
		return starlark.NewBuiltin("items", e.items), nil
	}
	return nil, nil
}

// AttrNames implements starlark.HasAttrs.
func (e *Environ) AttrNames() []string {
	return []string{"get", "items", "keys"}
}

func (e *Environ) get(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var def starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "default?", &def); err != nil {
		return nil, err
	}
	value, found := e.host.LookupEnv(name)
	e.record(name, value, found)
	if !found {
		return def, nil
	}
	return starlark.String(value), nil
}

func (e *Environ) keys(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	items := e.Items()
	keys := make([]starlark.Value, len(items))
	for i, item := range items {
		keys[i] = item[0]
	}
	return starlark.NewList(keys), nil
}

func (e *Environ) items(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	items := e.Items()
	out := make([]starlark.Value, len(items))
	for i, item := range items {
		out[i] = item
	}
	return starlark.NewList(out), nil
}

func (e *Environ) record(name, value string, found bool) {
	if !found {
		e.host.RecordEnv(name, nil)
		return
	}
	v := value
	e.host.RecordEnv(name, &v)
}

type environIterator struct {
	keys []starlark.Value
	i    int
}

func (it *environIterator) Next(p *starlark.Value) bool {
	if it.i >= len(it.keys) {
		return false
	}
	*p = it.keys[it.i]
	it.i++
	return true
}

func (it *environIterator) Done() {}

// getenvFn returns the getenv builtin, the by-name read entry point.
func getenvFn(h Host) builtinFunc {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		var def starlark.Value = starlark.None
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "default?", &def); err != nil {
			return nil, err
		}
		value, found := h.LookupEnv(name)
		if !found {
			h.RecordEnv(name, nil)
			return def, nil
		}
		v := value
		h.RecordEnv(name, &v)
		return starlark.String(value), nil
	}
}
