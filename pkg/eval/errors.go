package eval

import (
	"errors"
	"regexp"
	"strings"

	"go.starlark.net/starlark"

	"github.com/quarrybuild/quarry/pkg/diag"
)

var (
	undefinedRe    = regexp.MustCompile(`undefined: (\w+)`)
	loadNotFoundRe = regexp.MustCompile(`name (\S+) not found in module (\S+)`)
	notExportedRe  = regexp.MustCompile(`names with leading underscores are not exported: (\w+)`)
	loadNoSymbolRe = regexp.MustCompile(`load statement must import at least 1 symbol`)
)

// classify maps an evaluation failure to a classified error. Errors our
// own builtins raised already carry a classification and pass through;
// interpreter errors are recognized by message shape and rewritten, with
// load references replaced by the absolute paths they resolved to.
func (e *Evaluator) classify(err error) error {
	var ee *diag.EvalError
	if errors.As(err, &ee) {
		return ee
	}

	msg := err.Error()

	if m := loadNotFoundRe.FindStringSubmatch(msg); m != nil {
		symbol, ref := m[1], m[2]
		path := ref
		if resolved, ok := e.env.resolved[ref]; ok {
			path = resolved
		}
		return diag.Newf(diag.KindSymbolNotFound, "%q is not defined in %s", symbol, path).
			WithPath(path).WithSymbol(symbol)
	}
	if m := notExportedRe.FindStringSubmatch(msg); m != nil {
		return diag.Newf(diag.KindSymbolNotFound,
			"%q is a private name and is not exported", m[1]).WithSymbol(m[1])
	}
	if m := undefinedRe.FindStringSubmatch(msg); m != nil {
		return diag.Newf(diag.KindUndefinedReference, "undefined: %s", m[1]).WithSymbol(m[1])
	}
	if loadNoSymbolRe.MatchString(msg) {
		return diag.New(diag.KindInvalidReference, "load statement must import at least 1 symbol")
	}

	return err
}

// traceback extracts the evaluation stack from a starlark error,
// outermost frame first.
func traceback(err error) []string {
	var evalErr *starlark.EvalError
	if !errors.As(err, &evalErr) {
		return nil
	}
	var frames []string
	for _, line := range strings.Split(evalErr.Backtrace(), "\n") {
		if line != "" {
			frames = append(frames, line)
		}
	}
	return frames
}
