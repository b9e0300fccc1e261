// Package arena implements the ring-buffer allocator the pipeline uses for
// variable-length feature payloads. A single long-lived Arena backs many
// short-lived Handles; allocation and release are both wait-free, O(1),
// and lock-free — a handle is just an offset/length pair plus a release
// flag, and releasing one is a single atomic add to the arena's read
// cursor.
package arena

import (
	"sync/atomic"
)

// pageScalars is how many f32 slots make up one 4 KiB page; touching one
// slot per page during construction faults every page in up front instead
// of taking first-touch faults on the hot path.
const pageScalars = 1024

// Arena is a contiguous ring of capacity scalar slots with two monotonic
// cursors. write is advanced only by the single producer (Alloc); read is
// advanced only by handle release, which may happen on a different thread
// than the one that called Alloc — a handle is allocated on the IO engine
// thread and released on the batch-processor thread, or vice versa,
// depending on which arena it is.
//
// write - read never exceeds capacity; see Alloc.
type Arena struct {
	data     []float32
	capacity uint64
	write    atomic.Uint64
	read     atomic.Uint64
}

// New constructs an Arena able to hold capacity scalars, pre-touching
// every page. Call it on the thread that will drive allocations from this
// arena, so that on a NUMA machine the pages are first-touched local to
// that thread.
func New(capacity int) *Arena {
	data := make([]float32, capacity)
	for i := 0; i < capacity; i += pageScalars {
		data[i] = 0
	}
	return &Arena{data: data, capacity: uint64(capacity)}
}

// Capacity returns the arena's total scalar capacity.
func (a *Arena) Capacity() int { return int(a.capacity) }

// Utilization returns (in_use, capacity) for diagnostics.
func (a *Arena) Utilization() (int, int) {
	write := a.write.Load()
	read := a.read.Load()
	return int(write - read), int(a.capacity)
}

// AllocError distinguishes the two ways Alloc can fail.
type AllocError struct {
	TooLarge  bool
	Requested int
	Capacity  int
	InUse     int
}

func (e *AllocError) Error() string {
	if e.TooLarge {
		return "arena: requested length exceeds capacity"
	}
	return "arena: exhausted"
}

// Alloc reserves len scalars and returns a write-once MutableSlice over
// them. len == 0 is a legal no-op: it returns an empty slice that performs
// no release when dropped.
//
// Wrap-by-padding: if the contiguous tail from the current write offset
// is shorter than len, the whole tail is skipped (counted against
// capacity) and the allocation restarts at offset 0. Payloads must be
// contiguous because vector indexing within a handle uses arithmetic
// offsets, so splitting an allocation across the wrap point is not an
// option; padding wastes at most one payload's worth of space per wrap.
func (a *Arena) Alloc(length int) (MutableSlice, error) {
	if length == 0 {
		return MutableSlice{arena: a}, nil
	}
	if uint64(length) > a.capacity {
		return MutableSlice{}, &AllocError{TooLarge: true, Requested: length, Capacity: int(a.capacity)}
	}

	write := a.write.Load()
	read := a.read.Load()
	inUse := write - read

	if inUse+uint64(length) > a.capacity {
		return MutableSlice{}, &AllocError{Requested: length, Capacity: int(a.capacity), InUse: int(inUse)}
	}

	offset := write % a.capacity
	var actualOffset uint64
	if offset+uint64(length) > a.capacity {
		padding := a.capacity - offset
		if inUse+padding+uint64(length) > a.capacity {
			return MutableSlice{}, &AllocError{Requested: length, Capacity: int(a.capacity), InUse: int(inUse)}
		}
		a.write.Store(write + padding + uint64(length))
		actualOffset = 0
	} else {
		a.write.Store(write + uint64(length))
		actualOffset = offset
	}

	return MutableSlice{
		arena:  a,
		offset: actualOffset,
		length: uint64(length),
	}, nil
}

func (a *Arena) release(length uint64) {
	if length == 0 {
		return
	}
	a.read.Add(length)
}

// MutableSlice is the write-once view Alloc returns. The caller writes
// the payload exactly once, then calls Freeze to obtain an immutable
// Handle that can be published into a ring slot and carried across
// threads.
type MutableSlice struct {
	arena  *Arena
	offset uint64
	length uint64
}

// Slice returns the mutable scalar view to write the payload into.
func (s MutableSlice) Slice() []float32 {
	if s.length == 0 {
		return nil
	}
	return s.arena.data[s.offset : s.offset+s.length]
}

// Freeze converts the slice into an immutable, releasable Handle. The
// byte range is now published to readers; nothing may write through this
// MutableSlice again.
func (s MutableSlice) Freeze() Handle {
	return Handle{arena: s.arena, offset: s.offset, length: s.length}
}

// Handle is an immutable borrow of a contiguous arena range plus a
// one-shot release flag. It is the Go stand-in for the original's
// RAII/Drop-released handle: Go has no destructors, so callers must call
// Release explicitly at the point where the original would have let the
// value go out of scope — typically when a ring slot holding the handle
// is about to be overwritten by the next wrap. Release is idempotent.
//
// An empty Handle (length == 0, from a zero-length Alloc, or the
// package-level Empty sentinel) performs no release.
type Handle struct {
	arena    *Arena
	offset   uint64
	length   uint64
	released bool
}

// Slice returns the scalar view this handle borrows.
func (h *Handle) Slice() []float32 {
	if h.length == 0 {
		return nil
	}
	return h.arena.data[h.offset : h.offset+h.length]
}

// Vector returns the dim-wide slice at vector index i, assuming the
// handle's range is a concatenation of fixed-width vectors.
func (h *Handle) Vector(i, dim int) []float32 {
	start := i * dim
	end := start + dim
	if end > int(h.length) {
		panic("arena: vector index out of bounds")
	}
	return h.arena.data[h.offset+uint64(start) : h.offset+uint64(end)]
}

// Len reports the handle's scalar length.
func (h *Handle) Len() int { return int(h.length) }

// Release returns the handle's range to its arena. It is idempotent and
// safe to call from a different thread than the one that allocated it —
// this is the one cross-thread transfer the arena's design assumes: the
// producer thread allocates and publishes the handle into a ring slot;
// the consumer thread that eventually drains that slot calls Release.
func (h *Handle) Release() {
	if h.released || h.length == 0 {
		h.released = true
		return
	}
	h.released = true
	h.arena.release(h.length)
}

// Empty returns a sentinel Handle that releases nothing. Pre-allocated
// ring slots hold one of these before their first real publish.
func Empty() Handle {
	return Handle{}
}
