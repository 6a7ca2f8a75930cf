package deployruntime

import (
	"context"
	"io"
)

// Obj is an opaque handle to a value living inside one engine's object
// graph. Handles are engine-owned tokens: they are only meaningful when
// passed back to the engine that produced them.
type Obj interface {
	// Handle returns the engine-scoped identity of the object.
	Handle() uint64
}

// Engine is the ABI surface a loaded runtime image exposes. One Engine is
// one fully isolated copy of the embeddable scripting runtime; engines
// never share live object references, values move between them only as
// serialized snapshots (Pickle / UnpickleOrGet).
//
// Calls into one engine are serialized by the engine's own internal lock.
// Different engines execute truly concurrently.
type Engine interface {
	// Global resolves name inside module within the engine's object graph.
	Global(ctx context.Context, module, name string) (Obj, error)
	// Attr resolves an attribute of obj.
	Attr(ctx context.Context, obj Obj, name string) (Obj, error)
	// SetAttr assigns value to an attribute of obj.
	SetAttr(ctx context.Context, obj Obj, name string, value Obj) error
	// Call invokes a callable object with the given arguments.
	Call(ctx context.Context, fn Obj, args ...Obj) (Obj, error)

	// FromValue materializes a host value inside the engine; ToValue
	// converts an engine object back to a host value. Both bridge through
	// the engine's serialization surface.
	FromValue(ctx context.Context, value any) (Obj, error)
	ToValue(ctx context.Context, obj Obj) (any, error)

	// Pickle captures a serialized snapshot of obj using the engine's
	// native serialization mechanism.
	Pickle(ctx context.Context, obj Obj) ([]byte, error)
	// UnpickleOrGet materializes data under the given pool-wide object id.
	// Repeated calls with the same id return the engine's cached
	// materialization instead of deserializing again.
	UnpickleOrGet(ctx context.Context, id uint64, data []byte) (Obj, error)
	// Unload drops the engine's cached materialization for id, if any.
	Unload(ctx context.Context, id uint64) error

	// Owns reports whether obj lives in this engine.
	Owns(obj Obj) bool

	// SetFindModule installs the import-hook fallback consulted when the
	// engine cannot otherwise resolve a module. The hook returns the
	// module's source text, or ok=false when the name is unknown.
	SetFindModule(fn func(name string) (src string, ok bool))

	// Close destroys the engine. It must run before the image that
	// produced the engine is unloaded.
	Close(ctx context.Context) error
}

// ReadAdapter is the generic streaming-reader interface package containers
// are read through. Containers are random-access archives, so a reader
// must support positioned reads and report its total size.
type ReadAdapter interface {
	io.ReaderAt
	Size() int64
}
