//go:build giouring

package ioengine

import (
	"fmt"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"

	"github.com/vecpipe/vecpipe/internal/logging"
)

// giouringRing is the Ring implementation built when this module is
// compiled with -tags giouring, wrapping github.com/pawelgaczynski/giouring
// instead of the hand-rolled syscall bindings in backend_portable.go. It
// gives the teacher's go.mod giouring dependency — present but never
// imported anywhere in its own tree — an actual caller, following the
// same default-vs-real-backend split internal/uring/iouring.go draws for
// ublk's URING_CMD ring.
type giouringRing struct {
	ring *giouring.Ring
}

// NewGiouringRing creates a Ring backed by giouring's pure-Go io_uring
// bindings.
func NewGiouringRing(entries uint32) (Ring, error) {
	logger := logging.Default()
	logger.Debug("creating giouring-backed ring", "entries", entries)

	r, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, fmt.Errorf("ioengine: giouring.CreateRing: %w", err)
	}
	return &giouringRing{ring: r}, nil
}

func (r *giouringRing) getSQE() (*giouring.SubmissionQueueEntry, error) {
	sqe := r.ring.GetSQE()
	if sqe == nil {
		if _, err := r.ring.Submit(); err != nil {
			return nil, fmt.Errorf("ioengine: submit during SQ flush: %w", err)
		}
		sqe = r.ring.GetSQE()
		if sqe == nil {
			return nil, fmt.Errorf("ioengine: submission queue full after flush")
		}
	}
	return sqe, nil
}

func (r *giouringRing) SubmitAccept(listenFD int) error {
	sqe, err := r.getSQE()
	if err != nil {
		return err
	}
	sqe.PrepareAccept(listenFD, 0, 0, 0)
	sqe.UserData = encodeUserData(OpAccept, 0)
	return nil
}

func (r *giouringRing) SubmitRead(conn *Connection, key uint16) error {
	if conn.ReadInflight {
		return nil
	}
	conn.ReadInflight = true
	sqe, err := r.getSQE()
	if err != nil {
		return err
	}
	buf := conn.ReadBuf[conn.ReadLen:]
	sqe.PrepareRead(conn.FD, uintptr(unsafe.Pointer(&buf[0])), uint32(len(buf)), 0)
	sqe.UserData = encodeUserData(OpRead, key)
	return nil
}

func (r *giouringRing) SubmitWrite(conn *Connection, key uint16, iovecs []unix.Iovec) error {
	if conn.WriteInflight || len(iovecs) == 0 {
		return nil
	}
	conn.WriteInflight = true
	sqe, err := r.getSQE()
	if err != nil {
		return err
	}
	sqe.PrepareWritev(conn.FD, uintptr(unsafe.Pointer(&iovecs[0])), uint32(len(iovecs)), 0)
	sqe.UserData = encodeUserData(OpWrite, key)
	return nil
}

func (r *giouringRing) SubmitEventFDRead(eventFD int, buf *uint64) error {
	sqe, err := r.getSQE()
	if err != nil {
		return err
	}
	sqe.PrepareRead(eventFD, uintptr(unsafe.Pointer(buf)), 8, 0)
	sqe.UserData = encodeUserData(OpEventFD, 0)
	return nil
}

func (r *giouringRing) SubmitAndWait(minCompletions int) ([]Completion, error) {
	if _, err := r.ring.SubmitAndWait(uint32(minCompletions)); err != nil {
		return nil, fmt.Errorf("ioengine: submit_and_wait: %w", err)
	}

	var out []Completion
	var cqes [64]*giouring.CompletionQueueEvent
	n := r.ring.PeekBatchCQE(cqes[:])
	for i := uint32(0); i < n; i++ {
		cqe := cqes[i]
		out = append(out, Completion{UserData: cqe.UserData, Result: cqe.Res})
	}
	if n > 0 {
		r.ring.CQAdvance(n)
	}
	return out, nil
}

func (r *giouringRing) Close() error {
	r.ring.QueueExit()
	return nil
}
