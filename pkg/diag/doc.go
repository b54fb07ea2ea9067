// Package diag defines the diagnostic records produced while evaluating
// build files and the classified error type used across the evaluator.
//
// Diagnostics are append-only and ordered: they are reported to the caller
// in exactly the order they were raised. Warnings never abort evaluation;
// each fatal diagnostic corresponds to one aborting error.
package diag
