// Package ring implements the fixed-capacity, single-producer /
// single-consumer event queue the pipeline uses twice: IO engine → batch
// processor (carrying RequestEvent) and batch processor → IO engine
// (carrying ResponseRecord). Slots are pre-allocated by a factory and
// reused forever; publishing writes into the slot the producer just
// claimed, and a poll returns a borrow-scoped Guard over the newly
// available slots whose Release advances the consumer cursor, exposing
// those slots to the next wrap.
package ring

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrFull is returned by TryPublish when the ring has no free slot.
var ErrFull = errors.New("ring: full")

// ErrNoEvents is returned by Poll when nothing new is available.
var ErrNoEvents = errors.New("ring: no events")

// ErrShutdown is returned by Poll once Shutdown has been called and every
// published event has been drained.
var ErrShutdown = errors.New("ring: shutdown")

// Ring is a classic disruptor-style SPSC ring buffer over T. Capacity
// must be a power of two so slot indices reduce to a mask-and-AND.
//
// producerSeq counts how many slots have ever been published; with the
// default single producer, no CAS is needed to claim a slot — only an
// atomic store so the consumer thread observes the new value.
// consumerSeq counts how many slots have been released back.
//
// producerMu is nil for the default single-producer ring. A multi-engine
// orchestrator configuration (io-threads > 1) calls EnableMultiProducer,
// which makes TryPublish take producerMu around the claim-fill-publish
// sequence so concurrent producers can't claim the same slot; the
// consumer side is unaffected and stays single-threaded either way.
type Ring[T any] struct {
	mask        uint64
	slots       []T
	producerSeq atomic.Uint64
	consumerSeq atomic.Uint64
	closed      atomic.Bool
	producerMu  *sync.Mutex
}

// New builds a Ring with the given power-of-two capacity, pre-allocating
// every slot via factory.
func New[T any](capacity int, factory func() T) *Ring[T] {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("ring: capacity must be a power of two")
	}
	slots := make([]T, capacity)
	for i := range slots {
		slots[i] = factory()
	}
	return &Ring[T]{mask: uint64(capacity - 1), slots: slots}
}

// Capacity returns the ring's slot count.
func (r *Ring[T]) Capacity() int { return int(r.mask + 1) }

// EnableMultiProducer switches TryPublish from its lock-free single-
// producer fast path to a mutex-guarded path safe for concurrent callers.
// Call before any producer starts publishing; the consumer side (Poll /
// Guard) is always single-threaded and unaffected.
func (r *Ring[T]) EnableMultiProducer() {
	r.producerMu = &sync.Mutex{}
}

// TryPublish claims the next slot and lets fill write into it in place,
// then makes the slot visible to the consumer. It returns ErrFull without
// calling fill if the ring has no free slot; callers that must not drop
// the event retry (see request flow / batch processor, which busy-spin
// on ErrFull because a stuck consumer is a fatal condition to surface
// elsewhere, not here).
func (r *Ring[T]) TryPublish(fill func(slot *T)) error {
	if r.producerMu != nil {
		r.producerMu.Lock()
		defer r.producerMu.Unlock()
	}
	producer := r.producerSeq.Load()
	consumer := r.consumerSeq.Load()
	if producer-consumer >= r.mask+1 {
		return ErrFull
	}
	idx := producer & r.mask
	fill(&r.slots[idx])
	r.producerSeq.Store(producer + 1)
	return nil
}

// Shutdown marks the ring closed: once every already-published slot has
// been polled and released, Poll starts returning ErrShutdown instead of
// ErrNoEvents.
func (r *Ring[T]) Shutdown() { r.closed.Store(true) }

// Poll returns a Guard over every slot published since the last Release,
// or ErrNoEvents (or ErrShutdown, once closed and drained) if there is
// nothing new.
func (r *Ring[T]) Poll() (*Guard[T], error) {
	consumer := r.consumerSeq.Load()
	producer := r.producerSeq.Load()
	if consumer == producer {
		if r.closed.Load() {
			return nil, ErrShutdown
		}
		return nil, ErrNoEvents
	}
	return &Guard[T]{ring: r, lo: consumer, hi: producer}, nil
}

// Guard is a scoped borrow over a contiguous batch of published slots.
// Release must be called exactly once, after the caller is done reading
// (and, for handle-owning slot types, after releasing any arena handles
// the caller is done with) — Release is what exposes these slots to the
// next wrap, which is the moment any arena handle still held by an
// overwritten slot must already have been released by the caller.
type Guard[T any] struct {
	ring *Ring[T]
	lo   uint64
	hi   uint64
}

// Len returns how many slots this guard covers.
func (g *Guard[T]) Len() int { return int(g.hi - g.lo) }

// At returns a pointer to the i'th slot in publish order, 0 <= i < Len().
func (g *Guard[T]) At(i int) *T {
	idx := (g.lo + uint64(i)) & g.ring.mask
	return &g.ring.slots[idx]
}

// ForEach calls fn for every slot in publish order, then releases.
func (g *Guard[T]) ForEach(fn func(*T)) {
	for i := 0; i < g.Len(); i++ {
		fn(g.At(i))
	}
	g.Release()
}

// Release advances the consumer cursor to the end of this guard's range,
// making those slots available to the producer again.
func (g *Guard[T]) Release() {
	g.ring.consumerSeq.Store(g.hi)
}
