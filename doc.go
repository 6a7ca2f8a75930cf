// Package deployruntime multiplexes independent instances of an embeddable
// scripting runtime inside a single host process.
//
// Each instance is a fully isolated copy of the runtime loaded from an
// embedded binary image, so CPU-bound script work runs in true parallel
// instead of being serialized by one global interpreter lock. Instances
// share no live object references; values move between them as serialized
// snapshots ("movable" objects) that are reconstituted on demand.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	deployruntime/       Root package with the Engine and Obj ABI interfaces
//	├── pool/            Instance pool, load balancer, sessions, movable objects
//	├── image/           Embedded payload discovery, staging, loader providers
//	├── engine/          wazero-backed engine implementation of the image ABI
//	└── errors/          Structured error types for debugging
//
// # Quick Start
//
// Build a pool and run work across it:
//
//	p, err := pool.New(ctx, 4, pool.SystemEnvironment(), nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close(ctx)
//
//	s := p.AcquireOne()
//	defer s.Close()
//
//	fn, err := s.Global(ctx, "app", "handler")
//	result, err := fn.Call(ctx, "payload")
//
// # Moving Values Between Instances
//
// A session can snapshot an object it owns into a ReplicatedObject, which
// any other instance can materialize:
//
//	movable, err := s.CreateMovable(ctx, obj)
//	other, err := movable.AcquireSession(ctx, nil) // balanced pick
//	defer other.Close()
//	// other.Self is the reconstituted object
//
// # Thread Safety
//
// Pool and ReplicatedObject are safe for concurrent use. A Session is NOT:
// each goroutine acquires its own. Two goroutines may end up holding
// sessions on the same instance; the instance's internal engine lock is
// the exclusion mechanism, the balancer only spreads load.
package deployruntime
