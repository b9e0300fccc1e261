// Package respflow turns a drained batch of ResponseRecords into bytes:
// either a plain per-connection byte buffer (used by tests and simple
// integrations) or a per-connection scatter-gather iovec list pointing
// directly into each response's own storage (zero-copy). The IO engine
// uses neither builder for its writes: it copies each response into its
// connection's own header/payload buffers and builds iovecs over those
// (see internal/ioengine's buildIovecs); it uses only EncodeFloats.
package respflow

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/vecpipe/vecpipe/event"
	"github.com/vecpipe/vecpipe/internal/protocol"
)

// WirePerConn accumulates [u8 num_vectors][f32* results] per response
// into a map keyed by connection id, appending responses for the same
// connection in iteration order. Multiple responses for one connection
// concatenate; this mirrors exactly what a client sees on the wire.
func WirePerConn(responses []*event.ResponseRecord) map[uint16][]byte {
	out := make(map[uint16][]byte)
	for _, resp := range responses {
		n := int(resp.NumVectors)
		results := resp.Results.Slice(n)
		out[resp.ConnID] = protocol.WriteResponse(out[resp.ConnID], n, results)
	}
	return out
}

// EncodeFloats returns the little-endian byte encoding of values with no
// header byte, for callers (the IO engine's accumulating write buffers)
// that track num_vectors headers separately from payload bytes.
func EncodeFloats(values []float32) []byte {
	return protocol.WriteResponse(nil, len(values), values)[1:]
}

// IovecsPerConn builds, for each connection represented in responses, a
// scatter-gather list of unix.Iovec entries per response: one byte for
// the num_vectors header, then, when num_vectors is non-zero, the raw
// result bytes (a zero-vector response gets only the header entry). The header
// iovec points directly at the ResponseRecord.NumVectors field and the
// payload iovec reinterprets the result f32 slice's backing memory as
// bytes — no copy, no per-response allocation, a single vectored write
// flushes an entire batch.
//
// This assumes a little-endian host, exactly like the wire format it
// produces: float32 values are written out in whatever byte order the
// host CPU already holds them in, which is little-endian on every
// platform this module targets (amd64, arm64). See the "NaN handling /
// host layout" note in the design notes for why this tradeoff is
// accepted rather than paying a per-response copy to byte-swap.
//
// Callers must ensure the ResponseRecords outlive use of the returned
// iovecs — i.e. the vectored write completes, and any release of the
// underlying ring guard or pooled arena handle happens only after that.
func IovecsPerConn(responses []*event.ResponseRecord) map[uint16][]unix.Iovec {
	out := make(map[uint16][]unix.Iovec)
	for _, resp := range responses {
		n := int(resp.NumVectors)
		results := resp.Results.Slice(n)

		headerPtr := (*byte)(unsafe.Pointer(&resp.NumVectors))
		header := unix.Iovec{Base: headerPtr}
		header.SetLen(1)

		var payload unix.Iovec
		if n > 0 {
			payloadPtr := (*byte)(unsafe.Pointer(unsafe.SliceData(results)))
			payload.Base = payloadPtr
			payload.SetLen(n * 4)
		}

		list := out[resp.ConnID]
		list = append(list, header)
		if n > 0 {
			list = append(list, payload)
		}
		out[resp.ConnID] = list
	}
	return out
}
