// Package engine provides the wazero-backed implementation of the runtime
// image ABI.
//
// # Architecture
//
// The package provides two main types:
//
//	Provider - opens materialized payloads; a private-scope open gets its
//	           own wazero runtime so N loaded copies never share state
//	Engine   - one isolated interpreter instance; implements the root
//	           deployruntime.Engine interface over the payload's exported
//	           entry points
//
// # Instance ABI
//
// A payload must export the entry-point surface in symbols.go. interp_new
// is the factory: it receives msgpack-encoded extra search paths and
// plugin paths and returns the opaque engine handle every later call
// passes back. interp_bind_self (optional) runs once before any other
// use; interp_flush (optional) runs after the engine is destroyed and
// before the image is unloaded.
//
// Variable-size data crosses the boundary as guest buffers allocated via
// interp_alloc / interp_free; values and argument vectors are
// msgpack-encoded. Object-returning calls return a non-zero object handle
// or 0 with a diagnostic retrievable through interp_last_error.
//
// The payload imports exactly one host function, deploy_host.find_module,
// the module-resolution fallback consulted when an import cannot be
// satisfied inside the guest.
//
// # Locking
//
// Engine serializes all calls with an internal mutex, mirroring an
// embedded interpreter's own global lock. True parallelism comes from
// running several engines, never from concurrent calls into one.
package engine
