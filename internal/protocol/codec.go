// Package protocol implements the wire codec as pure functions: parsing
// the length-prefixed request header, copying feature bytes into an
// already-allocated f32 destination, and serializing a response. Nothing
// here touches a ring, an arena, or a socket — it only knows about byte
// slices, which is what makes it straightforward to property-test.
package protocol

import (
	"encoding/binary"
	"math"

	"github.com/vecpipe/vecpipe/internal/constants"
)

// RequestHeaderSize is the fixed length of a request's num_vectors header.
const RequestHeaderSize = 4

// ResponseHeaderSize is the fixed length of a response's num_vectors header.
const ResponseHeaderSize = 1

// ParseOutcome distinguishes the three ways TryParse can resolve.
type ParseOutcome int

const (
	// Complete: a full request was found; see ParseResult.NumVectors /
	// BytesConsumed.
	Complete ParseOutcome = iota
	// Incomplete: need ParseResult.NeedBytes more bytes before retrying.
	Incomplete
	// ParseError: the header is malformed; the connection must be closed.
	// No bytes should be treated as consumed.
	ParseError
)

// ParseResult is the outcome of one TryParse call.
type ParseResult struct {
	Outcome       ParseOutcome
	NumVectors    int
	BytesConsumed int
	NeedBytes     int
	Err           string
}

// TryParse looks for one complete request at the front of buf. It never
// consumes partial data: on Incomplete it reports how many more bytes are
// needed (relative to the current buffer length) before trying again; on
// ParseError the caller must close the connection without consuming
// anything.
func TryParse(buf []byte) ParseResult {
	if len(buf) < RequestHeaderSize {
		return ParseResult{Outcome: Incomplete, NeedBytes: RequestHeaderSize - len(buf)}
	}

	numVectors := binary.LittleEndian.Uint32(buf[0:4])

	if numVectors == 0 || numVectors > constants.MaxVectorsPerRequest {
		return ParseResult{Outcome: ParseError, Err: "num_vectors out of range"}
	}

	payloadSize := int(numVectors) * constants.FeatureDim * 4
	totalSize := RequestHeaderSize + payloadSize

	if len(buf) < totalSize {
		return ParseResult{Outcome: Incomplete, NeedBytes: totalSize - len(buf)}
	}

	return ParseResult{Outcome: Complete, NumVectors: int(numVectors), BytesConsumed: totalSize}
}

// CopyFeatures decodes numVectors*FEATURE_DIM little-endian f32 values
// from src (the request payload, starting after the 4-byte header) into
// dst. Decoding element-by-element via binary.LittleEndian keeps this
// portable regardless of host endianness, unlike a raw reinterpret cast.
func CopyFeatures(src []byte, dst []float32, numVectors int) {
	count := numVectors * constants.FeatureDim
	for i := 0; i < count && i < len(dst); i++ {
		off := i * 4
		bits := binary.LittleEndian.Uint32(src[off : off+4])
		dst[i] = math.Float32frombits(bits)
	}
}

// WriteResponse appends one response's wire bytes ([u8 num_vectors]
// followed by numVectors little-endian f32 values) to buf, returning the
// extended slice.
func WriteResponse(buf []byte, numVectors int, results []float32) []byte {
	buf = append(buf, byte(numVectors))
	var tmp [4]byte
	for _, v := range results[:numVectors] {
		binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(v))
		buf = append(buf, tmp[:]...)
	}
	return buf
}

// ResponseLen computes the wire length of a response with numVectors
// results, without building it.
func ResponseLen(numVectors int) int {
	return ResponseHeaderSize + numVectors*4
}

// RequestLen computes the wire length of a well-formed request with
// numVectors vectors.
func RequestLen(numVectors int) int {
	return RequestHeaderSize + numVectors*constants.FeatureDim*4
}
