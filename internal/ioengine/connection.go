package ioengine

import (
	"sync"

	"github.com/vecpipe/vecpipe/internal/constants"
)

// writeSegment is one response's [header_offset, payload_offset,
// payload_len] triple into the connection's shared header/payload
// buffers, recorded so the iovec list can be rebuilt after every drain.
type writeSegment struct {
	headerOff  int
	payloadOff int
	payloadLen int
}

// Connection holds one accepted socket's read and write state. Slab keys
// double as the connection's id for routing (RequestEvent.ConnID and
// ResponseRecord.ConnID), so a key must fit in 16 bits — see Slab.
type Connection struct {
	FD int

	ReadBuf [constants.ReadBufSize]byte
	ReadLen int

	WriteHeaders  []byte
	WritePayloads []byte
	WriteSegments []writeSegment

	NextRequestSeq uint64

	ReadInflight  bool
	WriteInflight bool
}

// connPool recycles Connection structs (each carrying a fixed 64 KiB
// ReadBuf array) across accept/close cycles, the same sync.Pool-backed
// reuse strategy internal/queue/pool.go uses for ublk's oversized I/O
// buffers — here sized to the one bucket this workload ever needs
// (whole per-connection state) rather than several power-of-two buckets.
var connPool = sync.Pool{
	New: func() any { return &Connection{} },
}

// NewConnection constructs per-connection state for an accepted fd,
// reusing a pooled Connection when one is available.
func NewConnection(fd int) *Connection {
	c := connPool.Get().(*Connection)
	c.FD = fd
	c.ReadLen = 0
	c.NextRequestSeq = 0
	c.ReadInflight = false
	c.WriteInflight = false
	if c.WriteHeaders == nil {
		c.WriteHeaders = make([]byte, 0, 256)
		c.WritePayloads = make([]byte, 0, 4096)
		c.WriteSegments = make([]writeSegment, 0, 128)
	} else {
		c.resetWriteState()
	}
	return c
}

// releaseConnection returns c to connPool once its fd is closed. Callers
// must not touch c again afterward.
func releaseConnection(c *Connection) {
	connPool.Put(c)
}

// resetWriteState clears buffers once a write completes, ready for the
// next drain cycle to refill them.
func (c *Connection) resetWriteState() {
	c.WriteHeaders = c.WriteHeaders[:0]
	c.WritePayloads = c.WritePayloads[:0]
	c.WriteSegments = c.WriteSegments[:0]
}

// Slab is a free-list-indexed connection table keyed by a uint16, the
// same role the original fills with the slab crate's Slab<Connection>.
// No grounded third-party Go slab library turned up anywhere in the
// retrieved examples, so this is a small self-rolled freelist — the
// simplest structure satisfying the one property that matters here:
// O(1) insert/remove with a stable, reusable, bounded-width key.
type Slab struct {
	entries []*Connection
	free    []uint16
}

// NewSlab preallocates capacity slots up front, matching
// Slab::with_capacity in the original.
func NewSlab(capacity int) *Slab {
	s := &Slab{entries: make([]*Connection, 0, capacity)}
	return s
}

// Insert stores conn and returns its key. Keys are reused after Remove,
// most-recently-freed first, so long-running servers don't grow the
// backing slice without bound.
func (s *Slab) Insert(conn *Connection) uint16 {
	if n := len(s.free); n > 0 {
		key := s.free[n-1]
		s.free = s.free[:n-1]
		s.entries[key] = conn
		return key
	}
	key := len(s.entries)
	s.entries = append(s.entries, conn)
	return uint16(key)
}

// Get returns the connection at key, or nil if the slot is empty.
func (s *Slab) Get(key uint16) *Connection {
	if int(key) >= len(s.entries) {
		return nil
	}
	return s.entries[key]
}

// Remove evicts and returns the connection at key, or nil if already
// empty. The key becomes available for reuse.
func (s *Slab) Remove(key uint16) *Connection {
	if int(key) >= len(s.entries) {
		return nil
	}
	conn := s.entries[key]
	if conn == nil {
		return nil
	}
	s.entries[key] = nil
	s.free = append(s.free, key)
	return conn
}
