// Package pool multiplexes many isolated runtime instances behind one
// process-level API.
//
// A Pool boots a fixed number of instances, each backed by its own copy
// of the runtime image so that global state never leaks between them.
// Callers acquire short-lived Sessions; the lock-free LoadBalancer spreads
// them across instances by active-user count. Objects cross instance
// boundaries only as ReplicatedObjects, serialized snapshots that any
// instance can materialize and that are deduplicated per instance by id.
//
// Packages bundle serialized modules and resources in zip containers;
// Package.LoadPickle turns a container entry straight into a
// ReplicatedObject.
package pool
