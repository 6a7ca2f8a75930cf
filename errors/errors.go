package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLoad      Phase = "load"      // embedded payload discovery and opening
	PhaseResolve   Phase = "resolve"   // entry-point symbol resolution
	PhasePool      Phase = "pool"      // pool construction and lifecycle
	PhaseSession   Phase = "session"   // session-scoped operations
	PhaseReplicate Phase = "replicate" // movable object transfer
	PhaseRegistry  Phase = "registry"  // module source registration
	PhaseTeardown  Phase = "teardown"  // instance/session destruction
	PhaseEngine    Phase = "engine"    // calls into a loaded engine
	PhasePackage   Phase = "package"   // package container access
)

// Kind categorizes the error
type Kind string

const (
	KindPayloadMissing   Kind = "payload_missing"
	KindOpenFailed       Kind = "open_failed"
	KindSymbolMissing    Kind = "symbol_missing"
	KindInvalidOperation Kind = "invalid_operation"
	KindCrossInstance    Kind = "cross_instance"
	KindDuplicateModule  Kind = "duplicate_module"
	KindTeardownFailed   Kind = "teardown_failed"
	KindClosed           Kind = "closed"
	KindInvalidInput     Kind = "invalid_input"
	KindNotFound         Kind = "not_found"
	KindEngineFault      Kind = "engine_fault"
)

// Error is the structured error type used throughout the library
type Error struct {
	Cause    error
	Phase    Phase
	Kind     Kind
	Symbol   string
	Detail   string
	Instance int // instance ordinal, -1 when not bound to one
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Instance >= 0 {
		fmt.Fprintf(&b, " on instance %d", e.Instance)
	}

	if e.Symbol != "" {
		b.WriteString(": symbol ")
		b.WriteString(e.Symbol)
	}

	if e.Detail != "" {
		if e.Symbol != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase:    phase,
			Kind:     kind,
			Instance: -1,
		},
	}
}

// Symbol sets the entry-point symbol name
func (b *Builder) Symbol(s string) *Builder {
	b.err.Symbol = s
	return b
}

// Instance sets the instance ordinal
func (b *Builder) Instance(i int) *Builder {
	b.err.Instance = i
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// PayloadMissing creates a load error for an image with no present payload
// variant. sections is the ordered candidate list that was searched.
func PayloadMissing(name string, sections []string) *Error {
	return &Error{
		Phase:    PhaseLoad,
		Kind:     KindPayloadMissing,
		Instance: -1,
		Detail:   fmt.Sprintf("image %q: no embedded payload present (searched %s)", name, strings.Join(sections, ", ")),
	}
}

// OpenFailed creates a load error carrying the loading backend's diagnostic
func OpenFailed(detail string, cause error) *Error {
	return &Error{
		Phase:    PhaseLoad,
		Kind:     KindOpenFailed,
		Instance: -1,
		Detail:   detail,
		Cause:    cause,
	}
}

// SymbolMissing creates a resolution error for an absent ABI entry point.
// A successfully loaded image missing a required symbol is a packaging
// defect; callers treat it as fatal for the whole pool.
func SymbolMissing(symbol string) *Error {
	return &Error{
		Phase:    PhaseResolve,
		Kind:     KindSymbolMissing,
		Instance: -1,
		Symbol:   symbol,
		Detail:   "required entry point not exported by loaded image",
	}
}

// InvalidOperation creates a recoverable misuse error
func InvalidOperation(detail string) *Error {
	return &Error{
		Phase:    PhaseSession,
		Kind:     KindInvalidOperation,
		Instance: -1,
		Detail:   detail,
	}
}

// CrossInstance creates an error for operating on an object across
// instance boundaries without going through replication
func CrossInstance(detail string) *Error {
	return &Error{
		Phase:    PhaseSession,
		Kind:     KindCrossInstance,
		Instance: -1,
		Detail:   detail,
	}
}

// DuplicateModule creates a registry error for re-registering a module name
func DuplicateModule(name string) *Error {
	return &Error{
		Phase:    PhaseRegistry,
		Kind:     KindDuplicateModule,
		Instance: -1,
		Detail:   fmt.Sprintf("module source %q already registered", name),
	}
}

// Teardown creates a destruction-path error. Teardown errors are logged
// and swallowed, never propagated from a close path.
func Teardown(instance int, cause error) *Error {
	return &Error{
		Phase:    PhaseTeardown,
		Kind:     KindTeardownFailed,
		Instance: instance,
		Cause:    cause,
	}
}

// Closed creates an error for operating on a closed resource
func Closed(what string) *Error {
	return &Error{
		Phase:    PhasePool,
		Kind:     KindClosed,
		Instance: -1,
		Detail:   what + " is closed",
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindInvalidInput,
		Instance: -1,
		Detail:   detail,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindNotFound,
		Instance: -1,
		Detail:   fmt.Sprintf("%s %q not found", what, name),
	}
}

// EngineFault wraps a failure reported by a loaded engine
func EngineFault(detail string, cause error) *Error {
	return &Error{
		Phase:    PhaseEngine,
		Kind:     KindEngineFault,
		Instance: -1,
		Detail:   detail,
		Cause:    cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     kind,
		Instance: -1,
		Detail:   detail,
		Cause:    cause,
	}
}
