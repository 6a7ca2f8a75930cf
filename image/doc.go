// Package image locates, stages, and opens the embedded runtime payloads
// instances boot from.
//
// A runtime image ships as one of several payload variants (all / gpu /
// cpu / vendor), each embedded under a well-known section name. Build
// variants register their payload bytes at init; Find picks the first
// present candidate in order. The chosen payload is immutable for the
// process lifetime.
//
// Materialize stages payload bytes into a content-addressed file so the
// loading backend has a stable, loader-addressable artifact (and a home
// for its compilation cache).
//
// Opening is pluggable through Provider. The production provider (package
// engine) opens each payload in its own isolated runtime when the variant
// requires a private symbol-resolution scope, so concurrently loaded
// copies never collide. Backend selects the loading primitive: the
// default native compiler, or the interpreter fallback for environments
// where the compiler is unavailable.
package image
