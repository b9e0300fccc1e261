// Package ioengine drives one IO thread's event loop: an io_uring
// completion queue multiplexes accept/read/write/eventfd-wakeup
// operations across every connection that thread owns, reusing the
// parse-and-publish logic in internal/reqflow and internal/respflow.
package ioengine

import "golang.org/x/sys/unix"

// Completion is one decoded completion queue entry.
type Completion struct {
	UserData uint64
	Result   int32
}

// Ring is the submission/completion interface an IoThread drives. Two
// implementations satisfy it: the default portable backend (raw
// io_uring syscalls via golang.org/x/sys/unix, always built) and the
// giouring-backed one (build tag "giouring", wrapping
// github.com/pawelgaczynski/giouring). Both speak the same four
// operations; an IoThread does not know or care which is underneath.
type Ring interface {
	// SubmitAccept queues an accept on listenFD, tagged OpAccept.
	SubmitAccept(listenFD int) error

	// SubmitRead queues a read into conn's buffer starting at
	// conn.ReadLen, tagged (OpRead, key). A no-op if conn.ReadInflight.
	SubmitRead(conn *Connection, key uint16) error

	// SubmitWrite queues a vectored write of conn's pending segments,
	// tagged (OpWrite, key). A no-op if conn.WriteInflight or there is
	// nothing pending.
	SubmitWrite(conn *Connection, key uint16, iovecs []unix.Iovec) error

	// SubmitEventFDRead queues an 8-byte read on the wakeup eventfd,
	// tagged OpEventFD.
	SubmitEventFDRead(eventFD int, buf *uint64) error

	// SubmitAndWait flushes queued submissions to the kernel and blocks
	// until at least minCompletions are ready, then drains and returns
	// every completion currently available.
	SubmitAndWait(minCompletions int) ([]Completion, error)

	// Close releases the ring's kernel and mmap resources.
	Close() error
}
