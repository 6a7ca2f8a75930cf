// Package errors provides structured error types for the deploy-runtime library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type carries the failing entry-point symbol and the
// instance ordinal when they are known, plus a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseEngine, errors.KindEngineFault).
//		Instance(2).
//		Detail("call %q", name).
//		Cause(callErr).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.SymbolMissing("interp_new")
//	err := errors.CrossInstance("object lives in a different session")
//
// All errors implement the standard error interface and support errors.Is/As;
// Is matches on the (Phase, Kind) pair.
//
// Propagation policy: load and resolve failures abort pool construction.
// Session-level misuse (invalid_operation, cross_instance) is returned to
// the caller as an ordinary failure. Teardown failures are logged and
// swallowed, never returned from a close path.
package errors
