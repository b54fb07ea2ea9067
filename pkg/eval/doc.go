// Package eval evaluates build files and extension modules.
//
// An Evaluator is configured once per cell layout and then processes
// build files one at a time. Each Process call runs the file body in a
// restricted environment (package sandbox), resolves its load statements
// through a per-instance module cache, and produces the registered rules
// together with the file's provenance (transitively loaded files, config
// reads and environment reads) and the ordered diagnostics raised along
// the way.
//
// Module records are cached for the lifetime of the Evaluator: a module
// loaded by several build files is evaluated exactly once, and every
// consumer observes the identical exported values. The Evaluator is not
// safe for concurrent use; run one instance per worker.
package eval
