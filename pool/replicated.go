package pool

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// ReplicatedObject is an instance-independent snapshot of one object. It
// carries the serialized payload plus a pool-unique id; any instance can
// materialize it, and materialization is deduplicated per instance by id.
//
// ReplicatedObject values are cheap handles over shared state. Clone when
// handing one to another owner, Release when done. The last release
// evicts the materialized copies from every instance.
type ReplicatedObject struct {
	impl *replicatedImpl
}

type replicatedImpl struct {
	id   uint64
	data []byte
	pool *Pool
	refs atomic.Int64
}

func newReplicated(id uint64, data []byte, p *Pool) *ReplicatedObject {
	impl := &replicatedImpl{id: id, data: data, pool: p}
	impl.refs.Store(1)
	return &ReplicatedObject{impl: impl}
}

// ID returns the pool-unique object id.
func (r *ReplicatedObject) ID() uint64 { return r.impl.id }

// Payload returns the serialized form of the object.
func (r *ReplicatedObject) Payload() []byte { return r.impl.data }

// Clone adds an owner. Clone and Release must pair up.
func (r *ReplicatedObject) Clone() *ReplicatedObject {
	r.impl.refs.Add(1)
	return &ReplicatedObject{impl: r.impl}
}

// Release drops one owner. The last release evicts the object's
// materialized copies from every live instance. Eviction failures are
// logged and swallowed.
func (r *ReplicatedObject) Release(ctx context.Context) {
	if r.impl.refs.Add(-1) == 0 {
		r.impl.unload(ctx, nil)
	}
}

// AcquireSession materializes the object on an instance and returns a
// session with Self set to the live object. A nil inst takes a balanced
// pick; otherwise the session is pinned to inst.
func (r *ReplicatedObject) AcquireSession(ctx context.Context, inst *Instance) (*Session, error) {
	var s *Session
	if inst == nil {
		s = r.impl.pool.AcquireOne()
	} else {
		s = inst.NewSession()
	}

	self, err := s.FromMovable(ctx, r)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Self = self
	return s, nil
}

// Unload evicts the object's materialized copy from inst, or from every
// instance when inst is nil. The serialized payload stays valid; a later
// FromMovable re-materializes.
func (r *ReplicatedObject) Unload(ctx context.Context, inst *Instance) {
	r.impl.unload(ctx, inst)
}

func (impl *replicatedImpl) unload(ctx context.Context, inst *Instance) {
	if inst != nil {
		impl.unloadFrom(ctx, inst)
		return
	}
	if impl.pool.Closed() {
		return
	}
	for _, i := range impl.pool.instances {
		impl.unloadFrom(ctx, i)
	}
}

func (impl *replicatedImpl) unloadFrom(ctx context.Context, inst *Instance) {
	s := inst.NewSession()
	defer s.Close()
	if err := inst.engine.Unload(ctx, impl.id); err != nil {
		impl.pool.log.Warn("replicated object eviction failed",
			zap.Uint64("object", impl.id),
			zap.Int("instance", inst.ordinal),
			zap.Error(err))
	}
}
