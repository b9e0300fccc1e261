// Package reqflow implements the request path: bytes in → parse → alloc
// → publish to the request ring. It is factored out of the IO engine so
// integration tests and benchmarks can drive it directly, without a real
// kernel submission interface underneath.
package reqflow

import (
	"github.com/vecpipe/vecpipe/arena"
	"github.com/vecpipe/vecpipe/event"
	"github.com/vecpipe/vecpipe/internal/constants"
	"github.com/vecpipe/vecpipe/internal/protocol"
	"github.com/vecpipe/vecpipe/internal/vecerr"
	"github.com/vecpipe/vecpipe/ring"
)

// Error wraps the two ways processing can fail: an unrecoverable arena
// allocation error (TooLarge — Exhausted is never returned here; see
// below) or a malformed request header.
type Error struct {
	Alloc  error
	Parse  string
	ConnID uint16
}

func (e *Error) Error() string {
	if e.Parse != "" {
		return "reqflow: parse error: " + e.Parse
	}
	return "reqflow: alloc error: " + e.Alloc.Error()
}

// Unwrap surfaces this error through the pipeline-wide structured
// taxonomy, so a caller that only knows about vecerr.Error (the IO engine
// deciding whether to close a connection, or a log line that wants a
// Code) can errors.As into one without reqflow needing to import
// anything connection-shaped.
func (e *Error) Unwrap() error {
	if e.Parse != "" {
		return vecerr.NewConnError("reqflow.Process", uint32(e.ConnID), vecerr.ErrCodeParse, e.Parse)
	}
	return vecerr.NewConnError("reqflow.Process", uint32(e.ConnID), vecerr.ErrCodeTooLarge, e.Alloc.Error())
}

// StallFunc is called once per spin iteration while waiting for ring
// space; tests can leave it nil, production wiring plugs in a spin hint.
type StallFunc func()

// Process parses every complete request at the front of buf, allocates
// its features from reqArena, and publishes one RequestEvent per request
// onto producer. It returns (bytesConsumed, requestsPublished) on
// success.
//
// On Incomplete, processing stops and reports consumed-so-far — no error.
// On a parse error, it returns immediately with no further bytes
// consumed: the caller closes the connection. On an arena.AllocError
// with TooLarge set it
// likewise returns immediately, since a payload over the arena's total
// capacity can never succeed; arena exhaustion (a full arena with
// transient in-flight requests) is not an error here because it is
// retried inline — the caller only sees backpressure if the arena is
// wedged, which the arena's own invariants rule out as long as every
// downstream release keeps happening.
func Process(
	buf []byte,
	producer *ring.Ring[event.RequestEvent],
	reqArena *arena.Arena,
	connID uint16,
	ioThreadID uint8,
	requestSeq *uint64,
	stall StallFunc,
) (int, int, error) {
	consumed := 0
	published := 0

	for consumed < len(buf) {
		slice := buf[consumed:]
		result := protocol.TryParse(slice)

		switch result.Outcome {
		case protocol.Complete:
			featureBytes := slice[protocol.RequestHeaderSize:result.BytesConsumed]
			seq := *requestSeq
			*requestSeq++

			featureCount := result.NumVectors * constants.FeatureDim
			mut, err := reqArena.Alloc(featureCount)
			for {
				if err == nil {
					break
				}
				ae, ok := err.(*arena.AllocError)
				if !ok || ae.TooLarge {
					return consumed, published, &Error{Alloc: err, ConnID: connID}
				}
				if stall != nil {
					stall()
				}
				mut, err = reqArena.Alloc(featureCount)
			}

			protocol.CopyFeatures(featureBytes, mut.Slice(), result.NumVectors)
			handle := mut.Freeze()

			numVectors := result.NumVectors
			for {
				pubErr := producer.TryPublish(func(slot *event.RequestEvent) {
					slot.IOThreadID = ioThreadID
					slot.ConnID = connID
					slot.RequestSeq = seq
					slot.NumVectors = uint8(numVectors)
					slot.Features = handle
				})
				if pubErr == nil {
					break
				}
				if stall != nil {
					stall()
				}
			}

			published++
			consumed += result.BytesConsumed

		case protocol.Incomplete:
			return consumed, published, nil

		case protocol.ParseError:
			return consumed, published, &Error{Parse: result.Err, ConnID: connID}
		}
	}

	return consumed, published, nil
}
