package sandbox

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// SelectorValue is the value returned by select(): a mapping from
// configuration condition to candidate attribute value, left unresolved
// until the consumer knows the active configuration. Selectors pass
// through evaluation opaquely; concatenating one with another value of
// the attribute's type produces a SelectorList holding both parts in
// order.
type SelectorValue struct {
	conditions   *starlark.Dict
	noMatchError string
}

// Conditions returns the condition-to-value mapping.
func (s *SelectorValue) Conditions() starlark.IterableMapping { return s.conditions }

// NoMatchError is the message reported when no condition matches.
func (s *SelectorValue) NoMatchError() string { return s.noMatchError }

// String implements starlark.Value.
func (s *SelectorValue) String() string { return "select(" + s.conditions.String() + ")" }

// Type implements starlark.Value.
func (s *SelectorValue) Type() string { return "select" }

// Freeze implements starlark.Value.
func (s *SelectorValue) Freeze() { s.conditions.Freeze() }

// Truth implements starlark.Value.
func (s *SelectorValue) Truth() starlark.Bool { return starlark.True }

// Hash implements starlark.Value.
func (s *SelectorValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: select")
}

// Binary implements starlark.HasBinary for + concatenation.
func (s *SelectorValue) Binary(op syntax.Token, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	if op != syntax.PLUS {
		return nil, nil
	}
	return concatSelectors(s, y, side), nil
}

// SelectorList is the result of concatenating a selector with another
// value. Parts are kept in concatenation order and resolved together by
// the consumer.
type SelectorList struct {
	items []starlark.Value
}

// SelectorItems returns the concatenated parts in order.
func (l *SelectorList) SelectorItems() []starlark.Value { return l.items }

// String implements starlark.Value.
func (l *SelectorList) String() string {
	parts := make([]string, len(l.items))
	for i, item := range l.items {
		parts[i] = item.String()
	}
	return strings.Join(parts, " + ")
}

// Type implements starlark.Value.
func (l *SelectorList) Type() string { return "select_list" }

// Freeze implements starlark.Value.
func (l *SelectorList) Freeze() {
	for _, item := range l.items {
		item.Freeze()
	}
}

// Truth implements starlark.Value.
func (l *SelectorList) Truth() starlark.Bool { return starlark.Bool(len(l.items) > 0) }

// Hash implements starlark.Value.
func (l *SelectorList) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: select_list")
}

// Binary implements starlark.HasBinary for + concatenation.
func (l *SelectorList) Binary(op syntax.Token, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	if op != syntax.PLUS {
		return nil, nil
	}
	return concatSelectors(l, y, side), nil
}

func concatSelectors(x, y starlark.Value, side starlark.Side) *SelectorList {
	left, right := x, y
	if side == starlark.Right {
		left, right = y, x
	}
	items := append(selectorParts(left), selectorParts(right)...)
	return &SelectorList{items: items}
}

// selectorParts always copies so concatenation never aliases an existing
// list's backing array.
func selectorParts(v starlark.Value) []starlark.Value {
	if l, ok := v.(*SelectorList); ok {
		return append([]starlark.Value{}, l.items...)
	}
	return []starlark.Value{v}
}

func builtinSelect(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var conditions *starlark.Dict
	var noMatchError string
	if err := starlark.UnpackArgs("select", args, kwargs,
		"conditions", &conditions, "no_match_error?", &noMatchError); err != nil {
		return nil, err
	}
	return &SelectorValue{conditions: conditions, noMatchError: noMatchError}, nil
}

var (
	_ starlark.HasBinary = (*SelectorValue)(nil)
	_ starlark.HasBinary = (*SelectorList)(nil)
)
