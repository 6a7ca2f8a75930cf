package pool

import (
	"math"
	"sync/atomic"
)

// Counters are padded out to their own cache line so concurrent updates to
// neighboring slots never contend on the same line.
const slotStride = 64

type slot struct {
	users atomic.Uint64
	_     [slotStride - 8]byte
}

// LoadBalancer hands out instance indices by usage count. It is a fairness
// heuristic, not a mutual-exclusion guarantee: two callers may hold the
// same slot at once, and the instance's own engine lock is the true
// exclusion mechanism. Acquire and Free are lock-free and bounded: one
// scan of the slots with a single CAS per slot, no spin-waits.
type LoadBalancer struct {
	slots []slot
	next  atomic.Uint64 // rotating first-look position
}

func NewLoadBalancer(n int) *LoadBalancer {
	if n < 1 {
		panic("pool: load balancer needs at least one slot")
	}
	return &LoadBalancer{slots: make([]slot, n)}
}

func (b *LoadBalancer) Len() int { return len(b.slots) }

// Acquire picks one slot and increments its usage counter.
//
// Fast path: starting from a rotating offset, claim the first provably
// idle slot with a 0→1 compare-and-swap. Slow path: no slot was idle, so
// bump the slot with the smallest count observed during the scan. That
// minimum may be stale by the time it is incremented; accepted, the
// balancer only spreads load.
func (b *LoadBalancer) Acquire() int {
	n := len(b.slots)
	start := int((b.next.Add(1) - 1) % uint64(n))
	minUsers := uint64(math.MaxUint64)
	minIdx := 0
	for i := 0; i < n; i++ {
		idx := start + i
		if idx >= n {
			idx -= n
		}
		prev := b.slots[idx].users.Load()
		if prev == 0 && b.slots[idx].users.CompareAndSwap(0, 1) {
			return idx
		}
		if prev < minUsers {
			minUsers = prev
			minIdx = idx
		}
	}
	b.slots[minIdx].users.Add(1)
	return minIdx
}

// Free decrements a slot's usage counter. Calling it at most once per
// successful Acquire is the caller's contract; Free never fails and never
// blocks.
func (b *LoadBalancer) Free(idx int) {
	b.slots[idx].users.Add(^uint64(0))
}

// Users reports a slot's current usage count.
func (b *LoadBalancer) Users(idx int) uint64 {
	return b.slots[idx].users.Load()
}
