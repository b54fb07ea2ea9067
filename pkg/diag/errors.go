package diag

import (
	"errors"
	"fmt"
)

// Kind classifies an evaluation error for reporting and recovery logic.
type Kind string

const (
	// KindUndefinedReference indicates an identifier that is not bound in
	// any scope visible to the referencing code.
	KindUndefinedReference Kind = "undefined-reference"

	// KindSymbolNotFound indicates a load requested a symbol absent from
	// the target module's exported set.
	KindSymbolNotFound Kind = "symbol-not-found"

	// KindInvalidReference indicates a malformed or out-of-bounds load
	// reference, e.g. a relative load crossing a directory boundary.
	KindInvalidReference Kind = "invalid-reference"

	// KindCapabilityRestriction indicates an import or attribute access
	// outside the sandbox's allow-list.
	KindCapabilityRestriction Kind = "capability-restriction"

	// KindExplicitFailure indicates the build-file author called fail().
	KindExplicitFailure Kind = "explicit-failure"

	// KindConstruction indicates a struct or provider was instantiated
	// with a field outside its declared field set.
	KindConstruction Kind = "construction"

	// KindUsageRestriction indicates a context-sensitive builtin was
	// invoked at the top level of an included file.
	KindUsageRestriction Kind = "usage-restriction"

	// KindEncoding indicates a value could not be represented in the
	// output format.
	KindEncoding Kind = "encoding"

	// KindLoadCycle indicates a cyclic load graph.
	KindLoadCycle Kind = "load-cycle"

	// KindGlobService indicates the external glob service failed.
	KindGlobService Kind = "glob-service"
)

// EvalError is an evaluation error classified by Kind, with optional
// path, symbol and attribute context.
type EvalError struct {
	// Kind is the error classification.
	Kind Kind

	// Message is the human-readable error message.
	Message string

	// Path is the file the error relates to, if applicable.
	Path string

	// Symbol is the symbol the error relates to, if applicable.
	Symbol string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *EvalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EvalError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is. Two EvalErrors are
// considered equal when their kinds match.
func (e *EvalError) Is(target error) bool {
	t, ok := target.(*EvalError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Source returns the diagnostic source tag under which a fatal diagnostic
// for this error should be reported.
func (e *EvalError) Source() string {
	switch e.Kind {
	case KindGlobService:
		return SourceGlobProvider
	default:
		return SourceParse
	}
}

// WithPath adds file context to the error.
func (e *EvalError) WithPath(path string) *EvalError {
	e.Path = path
	return e
}

// WithSymbol adds symbol context to the error.
func (e *EvalError) WithSymbol(symbol string) *EvalError {
	e.Symbol = symbol
	return e
}

// New creates a classified evaluation error.
func New(kind Kind, message string) *EvalError {
	return &EvalError{Kind: kind, Message: message}
}

// Newf creates a classified evaluation error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *EvalError {
	return &EvalError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified evaluation error around an underlying cause.
func Wrap(kind Kind, message string, err error) *EvalError {
	return &EvalError{Kind: kind, Message: message, Err: err}
}

// IsKind reports whether err or any error in its chain is an EvalError of
// the given kind.
func IsKind(err error, kind Kind) bool {
	var e *EvalError
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or the generic "error" tag when err
// carries no classification.
func KindOf(err error) Kind {
	var e *EvalError
	if errors.As(err, &e) {
		return e.Kind
	}
	return Kind("error")
}
