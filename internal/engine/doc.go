// Package engine drives the external PDF conversion engine (qpdf).
//
// The engine is treated as an opaque capability: it runs with an argv and
// reports an exit code, and it exchanges data only through named files in its
// own private filesystem root. Handle is that capability; QPDF is the
// production Factory that runs the qpdf executable.
//
// LOADING:
//
// Loader instantiates the engine lazily and exactly once per process.
// Concurrent first callers share a single in-flight instantiation
// (golang.org/x/sync/singleflight). The outcome is memoized either way: a
// failed instantiation is surfaced as ENGINE_UNAVAILABLE on every later
// Acquire and is never retried automatically.
//
// SERIALIZATION:
//
// A Handle is not safe for concurrent Invoke calls against the same staging
// paths. Callers (the gateway) serialize every invocation.
package engine
