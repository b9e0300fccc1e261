// Package event defines the two fixed-layout slot types carried by the
// pipeline's SPSC rings: RequestEvent (IO engine → batch processor) and
// ResponseRecord (batch processor → IO engine). Both are pre-allocated by
// a ring factory and reused for the ring's lifetime; publishing a slot
// means writing these fields in place, and a slot's arena handle (if any)
// must be released before the slot is overwritten on the next wrap.
package event

import (
	"unsafe"

	"github.com/vecpipe/vecpipe/arena"
)

// RequestEvent is the request-side ring slot: routing metadata plus a
// handle into the request arena holding this request's feature vectors.
// Field order is chosen so the struct lands on a single 64-byte cache
// line with no accidental false sharing between adjacent ring slots; see
// the init() assertion below.
type RequestEvent struct {
	RequestSeq uint64
	Features   arena.Handle
	IOThreadID uint8
	ConnID     uint16
	NumVectors uint8
	_          [19]byte // pad to one cache line; see init() assertion
}

// NewRequestEvent is the ring factory for RequestEvent slots: every slot
// starts holding the empty sentinel handle so the first wrap has
// something safe to release.
func NewRequestEvent() RequestEvent {
	h := arena.Empty()
	return RequestEvent{Features: h}
}

// Release drops this slot's feature handle. The batch processor calls
// this as soon as it has read the vectors out (see internal/batch),
// rather than waiting for the ring to wrap, so the request arena's read
// cursor advances promptly instead of trailing a full ring's worth of
// slots behind the write cursor.
func (e *RequestEvent) Release() {
	e.Features.Release()
}

func init() {
	if unsafe.Sizeof(RequestEvent{}) != 64 {
		panic("event: RequestEvent is not cache-line sized")
	}
}

// InlineResultCapacity is how many f32 results ResultStorage holds
// without touching the response arena. Chosen, per the original sizing
// rationale, so that most responses (MAX_VECTORS_PER_REQUEST is larger,
// but the common case is a handful of vectors) never allocate.
const InlineResultCapacity = 10

// ResultStorage is a tagged container for a response's per-vector
// results: Inline for result counts that fit in InlineResultCapacity,
// Pooled (an arena handle into a response arena) otherwise. The choice
// is purely a function of vector count, decided by ToResultStorage.
//
// Rust's original overlaps Inline and Pooled in one enum so ResponseRecord
// stays exactly one cache line; Go has no tagged union without
// unsafe.Pointer reinterpretation, so this is a plain struct and
// ResponseRecord runs past 64 bytes.
type ResultStorage struct {
	Pooled bool
	Inline [InlineResultCapacity]float32
	Handle arena.Handle
}

// ToResultStorage builds a ResultStorage for results, allocating from
// respArena only if results does not fit inline.
func ToResultStorage(respArena *arena.Arena, results []float32) (ResultStorage, error) {
	if len(results) <= InlineResultCapacity {
		var s ResultStorage
		copy(s.Inline[:], results)
		return s, nil
	}
	m, err := respArena.Alloc(len(results))
	if err != nil {
		return ResultStorage{}, err
	}
	copy(m.Slice(), results)
	return ResultStorage{Pooled: true, Handle: m.Freeze()}, nil
}

// Slice returns the result values regardless of storage mode, sized to n.
func (s *ResultStorage) Slice(n int) []float32 {
	if s.Pooled {
		return s.Handle.Slice()[:n]
	}
	return s.Inline[:n]
}

// Release returns any pooled storage to its arena. A no-op for inline
// storage.
func (s *ResultStorage) Release() {
	if s.Pooled {
		s.Handle.Release()
	}
}

// ResponseRecord is the response-side ring slot.
type ResponseRecord struct {
	RequestSeq uint64
	ConnID     uint16
	NumVectors uint8
	Results    ResultStorage
}

// NewResponseRecord is the ring factory for ResponseRecord slots.
func NewResponseRecord() ResponseRecord {
	return ResponseRecord{}
}

// Release drops this slot's pooled result handle, if any. The IO engine
// calls this once a response's bytes have been fully copied into (or
// vectored out of) its connection's write scratch, mirroring
// RequestEvent.Release on the other ring.
func (r *ResponseRecord) Release() {
	r.Results.Release()
}
