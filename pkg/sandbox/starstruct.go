package sandbox

import (
	"fmt"
	"sort"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/quarrybuild/quarry/pkg/diag"
	"github.com/quarrybuild/quarry/pkg/encode"
)

// Instance is an immutable field-named record produced by struct() or by
// calling a provider. Instances compare structurally and project to JSON
// as a plain object of their fields.
type Instance struct {
	entries []fieldEntry // sorted by name
}

type fieldEntry struct {
	name  string
	value starlark.Value
}

func newInstance(kwargs []starlark.Tuple) *Instance {
	inst := &Instance{entries: make([]fieldEntry, 0, len(kwargs))}
	for _, kv := range kwargs {
		name, _ := starlark.AsString(kv[0])
		inst.entries = append(inst.entries, fieldEntry{name: name, value: kv[1]})
	}
	sort.Slice(inst.entries, func(i, j int) bool {
		return inst.entries[i].name < inst.entries[j].name
	})
	return inst
}

// String implements starlark.Value.
func (s *Instance) String() string {
	var b strings.Builder
	b.WriteString("struct(")
	for i, e := range s.entries {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(e.name)
		b.WriteString(" = ")
		b.WriteString(e.value.String())
	}
	b.WriteString(")")
	return b.String()
}

// Type implements starlark.Value.
func (s *Instance) Type() string { return "struct" }

// Freeze implements starlark.Value.
func (s *Instance) Freeze() {
	for _, e := range s.entries {
		e.value.Freeze()
	}
}

// Truth implements starlark.Value.
func (s *Instance) Truth() starlark.Bool { return true }

// Hash implements starlark.Value.
func (s *Instance) Hash() (uint32, error) {
	var x uint32 = 8731
	for _, e := range s.entries {
		namehash, _ := starlark.String(e.name).Hash()
		x ^= 3 * namehash
		y, err := e.value.Hash()
		if err != nil {
			return 0, err
		}
		x ^= y * 9839
	}
	return x, nil
}

// Attr implements starlark.HasAttrs.
func (s *Instance) Attr(name string) (starlark.Value, error) {
	if name == "to_json" {
		return starlark.NewBuiltin("to_json", s.toJSON).BindReceiver(s), nil
	}
	i := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].name >= name
	})
	if i < len(s.entries) && s.entries[i].name == name {
		return s.entries[i].value, nil
	}
	return nil, nil // no such attr; starlark reports the error
}

// AttrNames implements starlark.HasAttrs.
func (s *Instance) AttrNames() []string {
	names := make([]string, 0, len(s.entries)+1)
	for _, e := range s.entries {
		names = append(names, e.name)
	}
	names = append(names, "to_json")
	sort.Strings(names)
	return names
}

// Fields returns the instance's fields as a StringDict. The result
// enables the capability-probing encoder to project the instance without
// depending on this package.
func (s *Instance) Fields() starlark.StringDict {
	d := make(starlark.StringDict, len(s.entries))
	for _, e := range s.entries {
		d[e.name] = e.value
	}
	return d
}

// CompareSameType implements starlark.Comparable: structural equality over
// field names and values.
func (s *Instance) CompareSameType(op syntax.Token, y starlark.Value, depth int) (bool, error) {
	other := y.(*Instance)
	switch op {
	case syntax.EQL:
		return instancesEqual(s, other, depth)
	case syntax.NEQ:
		eq, err := instancesEqual(s, other, depth)
		return !eq, err
	default:
		return false, fmt.Errorf("%s %s %s not implemented", s.Type(), op, other.Type())
	}
}

func instancesEqual(x, y *Instance, depth int) (bool, error) {
	if len(x.entries) != len(y.entries) {
		return false, nil
	}
	for i := range x.entries {
		if x.entries[i].name != y.entries[i].name {
			return false, nil
		}
		eq, err := starlark.EqualDepth(x.entries[i].value, y.entries[i].value, depth-1)
		if err != nil || !eq {
			return eq, err
		}
	}
	return true, nil
}

func (s *Instance) toJSON(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	out, err := encode.Marshal(s)
	if err != nil {
		return nil, err
	}
	return starlark.String(out), nil
}

// Provider is a factory for Instances, optionally constrained to a fixed
// field set. Calling a provider with an undeclared field fails at
// construction time.
type Provider struct {
	doc    string
	fields []string // nil means any fields are accepted
	frozen bool
}

// String implements starlark.Value.
func (p *Provider) String() string { return "provider" }

// Type implements starlark.Value.
func (p *Provider) Type() string { return "provider" }

// Freeze implements starlark.Value.
func (p *Provider) Freeze() { p.frozen = true }

// Truth implements starlark.Value.
func (p *Provider) Truth() starlark.Bool { return true }

// Hash implements starlark.Value.
func (p *Provider) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: provider")
}

// Name implements starlark.Callable.
func (p *Provider) Name() string { return "provider" }

// CallInternal implements starlark.Callable.
func (p *Provider) CallInternal(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 0 {
		return nil, diag.New(diag.KindConstruction, "provider instances take keyword arguments only")
	}
	if p.fields != nil {
		declared := make(map[string]bool, len(p.fields))
		for _, f := range p.fields {
			declared[f] = true
		}
		for _, kv := range kwargs {
			name, _ := starlark.AsString(kv[0])
			if !declared[name] {
				return nil, diag.Newf(diag.KindConstruction,
					"got an unexpected keyword argument '%s'", name)
			}
		}
	}
	return newInstance(kwargs), nil
}

func builtinStruct(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 0 {
		return nil, fmt.Errorf("struct: unexpected positional arguments")
	}
	return newInstance(kwargs), nil
}

func builtinProvider(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var doc string
	var fields starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "doc?", &doc, "fields?", &fields); err != nil {
		return nil, err
	}
	p := &Provider{doc: doc}
	if fields != nil && fields != starlark.None {
		seq, ok := fields.(starlark.Sequence)
		if !ok {
			return nil, fmt.Errorf("provider: fields must be a sequence of strings, got %s", fields.Type())
		}
		iter := seq.Iterate()
		defer iter.Done()
		var x starlark.Value
		for iter.Next(&x) {
			name, ok := starlark.AsString(x)
			if !ok {
				return nil, fmt.Errorf("provider: field names must be strings, got %s", x.Type())
			}
			p.fields = append(p.fields, name)
		}
		if p.fields == nil {
			p.fields = []string{}
		}
	}
	return p, nil
}
