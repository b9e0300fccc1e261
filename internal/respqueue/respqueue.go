// Package respqueue pairs a ResponseRecord ring with the wakeup file
// descriptor used to unblock the consuming IO engine: the batch
// processor is this ring's only producer, and after publishing a batch
// it writes to the wakeup descriptor exactly once so a blocked IO engine
// returns from its kernel wait.
package respqueue

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/vecpipe/vecpipe/event"
	"github.com/vecpipe/vecpipe/ring"
)

// Producer lives on the batch-processor thread.
type Producer struct {
	Ring    *ring.Ring[event.ResponseRecord]
	EventFD int
}

// Send publishes one response, spinning on a full ring exactly like the
// request side — retrying is always safe here because the IO engine (the
// sole consumer) will drain the ring once it wakes.
func (p *Producer) Send(fill func(*event.ResponseRecord), stall func()) {
	for {
		if err := p.Ring.TryPublish(fill); err == nil {
			return
		}
		if stall != nil {
			stall()
		}
	}
}

// Signal writes an 8-byte little-endian counter increment to the wakeup
// descriptor. Call this once after a batch of Send calls, not once per
// response — the IO engine drains every ready response in one guard
// regardless of how many writes woke it.
func (p *Producer) Signal() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(p.EventFD, buf[:])
	return err
}

// Pair is what Build returns: the producer half (batch processor) and
// the bare ring (IO engine polls it directly; the wakeup fd read is the
// IO engine's own concern, handled in internal/ioengine).
type Pair struct {
	Producer *Producer
	Ring     *ring.Ring[event.ResponseRecord]
}

// Build constructs a matched producer/ring pair for one IO engine's
// response channel.
func Build(capacity int, eventFD int) Pair {
	r := ring.New[event.ResponseRecord](capacity, event.NewResponseRecord)
	return Pair{
		Producer: &Producer{Ring: r, EventFD: eventFD},
		Ring:     r,
	}
}
