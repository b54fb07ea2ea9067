// Package sandbox implements the restricted execution surface build files
// run under: the builtin functions exposed to file bodies, the host-module
// import allow-list with its safe-subset shims and scoped escape hatch,
// interception of environment-variable reads, and tracking of filesystem
// access.
//
// The sandbox itself is stateless with respect to any single build file;
// per-file state (rules, provenance, package identity) lives behind the
// Host interface, which the evaluator implements. One Sandbox instance is
// owned by one evaluator instance and must not be shared across instances.
package sandbox
