package image

import (
	"context"

	deployruntime "github.com/wippyai/deploy-runtime"
)

// Backend selects the loading primitive a Provider uses. The default
// compiling backend is fastest; the interpreter backend exists for
// environments where the native compiler is unavailable (instrumented or
// sandboxed builds). The choice is explicit configuration, not runtime
// sniffing, so both paths stay testable.
type Backend int

const (
	BackendCompiler Backend = iota
	BackendInterpreter
)

// OpenOptions control how a payload is opened.
type OpenOptions struct {
	// PrivateScope requests a symbol-resolution scope private to this
	// load, so N opened copies of the same image never share internal
	// state. Variants that carry their own runtime copy require it.
	PrivateScope bool
	Backend      Backend
}

// Library is one opened copy of a runtime image.
type Library interface {
	// NewEngine invokes the image's factory entry point with the extra
	// script search paths and plugin library paths, returning the opaque
	// engine handle. Fails with a symbol_missing resolve error when the
	// image does not export the required ABI surface.
	NewEngine(ctx context.Context, extraPaths, pluginPaths []string) (deployruntime.Engine, error)

	// Flush lets the image release process-wide resources it registered.
	// Called once, after the engine is destroyed and before Close.
	Flush(ctx context.Context) error

	// Close unloads the image. The engine produced by NewEngine must have
	// been closed first.
	Close(ctx context.Context) error
}

// Provider opens materialized payloads. The production provider lives in
// the engine package; tests substitute their own.
type Provider interface {
	Open(ctx context.Context, payload *Payload, opts OpenOptions) (Library, error)
}
