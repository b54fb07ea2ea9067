// Package encode serializes evaluation results to the JSON wire payload
// consumed by the caller. Values are converted by observable capability,
// not by a fixed type list: anything that supports key iteration encodes
// as an object, anything that supports length plus positional access (or
// plain iteration with a known length) encodes as an array, and struct
// instances encode as the projection of their fields.
package encode

import (
	"encoding/json"
	"io"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/quarrybuild/quarry/pkg/diag"
)

// FieldOwner is implemented by struct-like values that expose a fixed
// field projection. The encoder probes for it instead of naming concrete
// struct types.
type FieldOwner interface {
	Fields() starlark.StringDict
}

// SelectorValue is implemented by unresolved select() expressions. They
// encode as an @type-tagged object so the consumer can resolve the
// matching condition once a configuration is chosen.
type SelectorValue interface {
	Conditions() starlark.IterableMapping
	NoMatchError() string
}

// SelectorList is implemented by concatenations involving selector
// values; its parts encode in concatenation order.
type SelectorList interface {
	SelectorItems() []starlark.Value
}

// Value converts a Starlark value to a JSON-encodable Go value.
// Unrepresentable values fail with an encoding error.
func Value(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		if i, ok := val.Int64(); ok {
			return i, nil
		}
		return json.Number(val.String()), nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlarkstruct.Struct:
		d := starlark.StringDict{}
		val.ToStringDict(d)
		return fieldMap(d)
	case *starlarkstruct.Module:
		return fieldMap(val.Members)
	}

	if owner, ok := v.(FieldOwner); ok {
		return fieldMap(owner.Fields())
	}

	if sel, ok := v.(SelectorValue); ok {
		conditions, err := Value(sel.Conditions())
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"@type":          "SelectorValue",
			"conditions":     conditions,
			"no_match_error": sel.NoMatchError(),
		}, nil
	}

	if sel, ok := v.(SelectorList); ok {
		items := make([]interface{}, 0, len(sel.SelectorItems()))
		for _, item := range sel.SelectorItems() {
			enc, err := Value(item)
			if err != nil {
				return nil, err
			}
			items = append(items, enc)
		}
		return map[string]interface{}{"@type": "SelectorList", "items": items}, nil
	}

	// Key iteration wins over positional access: a mapping is encoded as
	// an object even if it also happens to be indexable.
	if m, ok := v.(starlark.IterableMapping); ok {
		out := make(map[string]interface{})
		for _, item := range m.Items() {
			key, ok := starlark.AsString(item[0])
			if !ok {
				return nil, diag.Newf(diag.KindEncoding,
					"cannot encode mapping with non-string key of type %s", item[0].Type())
			}
			enc, err := Value(item[1])
			if err != nil {
				return nil, err
			}
			out[key] = enc
		}
		return out, nil
	}

	if seq, ok := v.(starlark.Indexable); ok {
		out := make([]interface{}, seq.Len())
		for i := 0; i < seq.Len(); i++ {
			enc, err := Value(seq.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil
	}

	if seq, ok := v.(starlark.Sequence); ok {
		out := make([]interface{}, 0, seq.Len())
		iter := seq.Iterate()
		defer iter.Done()
		var x starlark.Value
		for iter.Next(&x) {
			enc, err := Value(x)
			if err != nil {
				return nil, err
			}
			out = append(out, enc)
		}
		return out, nil
	}

	return nil, diag.Newf(diag.KindEncoding, "cannot encode value of type %s", v.Type())
}

// Marshal renders a Starlark value as compact JSON with object keys in
// sorted order.
func Marshal(v starlark.Value) (string, error) {
	enc, err := Value(v)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(enc)
	if err != nil {
		return "", diag.Wrap(diag.KindEncoding, "cannot encode value", err)
	}
	return string(out), nil
}

// RuleObject converts one rule's attributes to a JSON object, dropping
// attributes whose value is the absent sentinel (None) entirely rather
// than emitting them as null.
func RuleObject(attrs starlark.StringDict) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(attrs))
	for name, v := range attrs {
		if _, isNone := v.(starlark.NoneType); isNone {
			continue
		}
		enc, err := Value(v)
		if err != nil {
			return nil, err
		}
		out[name] = enc
	}
	return out, nil
}

// Payload is the single structured result written for one build file.
type Payload struct {
	// Values holds the rule objects followed by the reserved provenance
	// entries.
	Values []interface{} `json:"values"`

	// Diagnostics are reported in the order they were raised.
	Diagnostics []diag.Diagnostic `json:"diagnostics"`
}

// WritePayload serializes the payload to w as a single JSON document.
func WritePayload(w io.Writer, p Payload) error {
	if p.Values == nil {
		p.Values = []interface{}{}
	}
	if p.Diagnostics == nil {
		p.Diagnostics = []diag.Diagnostic{}
	}
	return json.NewEncoder(w).Encode(p)
}

func fieldMap(d starlark.StringDict) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(d))
	for name, v := range d {
		enc, err := Value(v)
		if err != nil {
			return nil, err
		}
		out[name] = enc
	}
	return out, nil
}
