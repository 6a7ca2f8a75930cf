package pool

import (
	"context"

	deployruntime "github.com/wippyai/deploy-runtime"
	"github.com/wippyai/deploy-runtime/errors"
)

// Session is a scoped acquisition of one instance. It is the unit through
// which callers interact with that instance's object graph.
//
// A Session is not safe to share across goroutines and must not be
// copied; each goroutine acquires its own. Two goroutines may well hold
// sessions on the same instance: the engine's internal lock serializes
// them, the balancer only spreads load.
type Session struct {
	pool *Pool
	inst *Instance
	slot int // balancer slot, -1 when pinned to an instance

	// Self carries the materialized object when the session was minted by
	// ReplicatedObject.AcquireSession.
	Self Obj

	closed bool
}

// Instance returns the instance this session is bound to.
func (s *Session) Instance() *Instance { return s.inst }

// Global resolves name inside module within the bound instance.
func (s *Session) Global(ctx context.Context, module, name string) (Obj, error) {
	raw, err := s.inst.engine.Global(ctx, module, name)
	if err != nil {
		return Obj{}, err
	}
	return Obj{sess: s, raw: raw}, nil
}

// FromValue materializes a host value inside the bound instance.
func (s *Session) FromValue(ctx context.Context, value any) (Obj, error) {
	raw, err := s.inst.engine.FromValue(ctx, value)
	if err != nil {
		return Obj{}, err
	}
	return Obj{sess: s, raw: raw}, nil
}

// CreateMovable snapshots obj into a ReplicatedObject that any instance in
// the pool can materialize. The session must belong to a managed pool, and
// obj must live in this session's instance.
func (s *Session) CreateMovable(ctx context.Context, obj Obj) (*ReplicatedObject, error) {
	if s.pool == nil {
		return nil, errors.InvalidOperation("cannot create a movable object outside a managed pool")
	}
	if obj.sess != s || !s.inst.engine.Owns(obj.raw) {
		return nil, errors.CrossInstance("cannot create a movable from an object that lives in a different session")
	}

	data, err := s.inst.engine.Pickle(ctx, obj.raw)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseReplicate, errors.KindEngineFault, err, "snapshot object")
	}
	return newReplicated(s.pool.nextID(), data, s.pool), nil
}

// FromMovable materializes a replicated object inside this session's
// instance. Materialization is deduplicated by object id: repeated calls
// in the same instance return the same live object.
func (s *Session) FromMovable(ctx context.Context, r *ReplicatedObject) (Obj, error) {
	raw, err := s.inst.engine.UnpickleOrGet(ctx, r.impl.id, r.impl.data)
	if err != nil {
		return Obj{}, errors.Wrap(errors.PhaseReplicate, errors.KindEngineFault, err, "materialize object")
	}
	return Obj{sess: s, raw: raw}, nil
}

// Close releases the session. A pool-balanced session frees exactly the
// slot it acquired, exactly once. Close never panics and never reports an
// error: teardown failures are swallowed.
func (s *Session) Close() {
	if s == nil || s.closed {
		return
	}
	s.closed = true
	if s.pool != nil && s.slot >= 0 {
		s.pool.balancer.Free(s.slot)
		s.slot = -1
	}
}

// Obj is a session-bound handle into the instance's object graph.
type Obj struct {
	sess *Session
	raw  deployruntime.Obj
}

// Raw exposes the underlying engine handle.
func (o Obj) Raw() deployruntime.Obj { return o.raw }

// Valid reports whether the handle references an object.
func (o Obj) Valid() bool { return o.raw != nil }

// Attr resolves an attribute of the object.
func (o Obj) Attr(ctx context.Context, name string) (Obj, error) {
	raw, err := o.sess.inst.engine.Attr(ctx, o.raw, name)
	if err != nil {
		return Obj{}, err
	}
	return Obj{sess: o.sess, raw: raw}, nil
}

// SetAttr assigns a host value or another Obj to an attribute.
func (o Obj) SetAttr(ctx context.Context, name string, value any) error {
	raw, err := o.sess.lower(ctx, value)
	if err != nil {
		return err
	}
	return o.sess.inst.engine.SetAttr(ctx, o.raw, name, raw)
}

// Call invokes the object as a callable. Arguments may be host values
// (bridged through the engine) or Objs from the same session.
func (o Obj) Call(ctx context.Context, args ...any) (Obj, error) {
	raws := make([]deployruntime.Obj, len(args))
	for i, a := range args {
		raw, err := o.sess.lower(ctx, a)
		if err != nil {
			return Obj{}, err
		}
		raws[i] = raw
	}
	raw, err := o.sess.inst.engine.Call(ctx, o.raw, raws...)
	if err != nil {
		return Obj{}, err
	}
	return Obj{sess: o.sess, raw: raw}, nil
}

// Value converts the object back to a host value.
func (o Obj) Value(ctx context.Context) (any, error) {
	return o.sess.inst.engine.ToValue(ctx, o.raw)
}

// lower converts a call argument to an engine handle.
func (s *Session) lower(ctx context.Context, value any) (deployruntime.Obj, error) {
	if o, ok := value.(Obj); ok {
		if o.sess != s {
			return nil, errors.CrossInstance("argument object lives in a different session")
		}
		return o.raw, nil
	}
	return s.inst.engine.FromValue(ctx, value)
}
