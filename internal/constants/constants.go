// Package constants holds the compile-time sizing and protocol constants
// shared across the request/response pipeline. Values here are the Go
// equivalent of the original project's const-generic sizing module: they
// are not meant to be runtime-configurable, only process-wide and checked
// once at init via the assertions at the bottom of this file.
package constants

import "fmt"

const (
	// FeatureDim is the number of scalars per feature vector.
	FeatureDim = 16

	// MaxVectorsPerRequest bounds the vector count in a single request; it
	// must fit in a byte because the response header is a single u8.
	MaxVectorsPerRequest = 64

	// MaxIOThreads bounds how many IO engines may be spawned: io_thread_id
	// is a u8 in the request event slot.
	MaxIOThreads = 256

	// DisruptorSize is the request queue capacity (power of two).
	DisruptorSize = 65536

	// ResponseQueueSize is the per-engine response queue capacity. Must be
	// >= DisruptorSize or the batch processor can deadlock waiting for a
	// response queue slot while the request queue backs up behind it.
	ResponseQueueSize = DisruptorSize

	// ReadBufSize is the per-connection read buffer size in bytes.
	ReadBufSize = 65536

	// SlabCapacity bounds concurrent connections per IO engine; conn_id is
	// a u16 so this must fit in 16 bits.
	SlabCapacity = 4096

	// BufferPoolCapacity is the request arena size in scalars. Worst-case
	// sizing: every in-flight request queue slot holds a max-size request.
	BufferPoolCapacity = DisruptorSize * MaxVectorsPerRequest * FeatureDim

	// ResultPoolCapacity is the response (pooled-result) arena size in
	// scalars, sized generously relative to the response queue.
	ResultPoolCapacity = ResponseQueueSize * 16
)

func init() {
	if SlabCapacity > 0xffff {
		panic(fmt.Sprintf("constants: SlabCapacity %d does not fit in u16 (conn_id)", SlabCapacity))
	}
	if BufferPoolCapacity < DisruptorSize*FeatureDim {
		panic("constants: BufferPoolCapacity too small for DisruptorSize")
	}
	if ResultPoolCapacity < MaxVectorsPerRequest*4 {
		panic("constants: ResultPoolCapacity too small")
	}
	if ResponseQueueSize < DisruptorSize {
		panic("constants: ResponseQueueSize must be >= DisruptorSize")
	}
	if MaxVectorsPerRequest > 255 {
		panic("constants: MaxVectorsPerRequest must fit in a u8")
	}
}
