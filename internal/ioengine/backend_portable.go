//go:build !giouring

package ioengine

import (
	"fmt"
	"sync/atomic"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/vecpipe/vecpipe/internal/logging"
)

// This file is the default Ring backend when the module is built without
// the "giouring" tag: a minimal raw io_uring binding built the same way
// internal/uring/minimal.go builds ublk's URING_CMD ring — by hand-laying
// out the kernel's SQE/CQE/params structs and driving io_uring_setup /
// io_uring_enter directly through golang.org/x/sys/unix, rather than
// depending on a C io_uring binding. Unlike minimal.go (which only needs
// SQE128/CQE32 URING_CMD support), this ring uses the plain 64-byte
// SQE / 16-byte CQE layout and the four opcodes the IO thread actually
// issues: Accept, Read, Writev, and the eventfd wakeup Read.

const (
	sysIOUringSetup = 425
	sysIOUringEnter = 426

	ioUringOffSQRing = 0
	ioUringOffCQRing = 0x8000000
	ioUringOffSQEs   = 0x10000000

	ioUringEnterGetEvents = 1 << 0

	opAccept = 13
	opRead   = 22
	opWritev = 2
)

type sqeEntry struct {
	opcode      uint8
	flags       uint8
	ioprio      uint16
	fd          int32
	off         uint64
	addr        uint64
	length      uint32
	opFlags     uint32
	userData    uint64
	bufIndex    uint16
	personality uint16
	spliceFDIn  int32
	addr3       uint64
	pad2        uint64
}

type cqeEntry struct {
	userData uint64
	res      int32
	flags    uint32
}

type sqRingOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	flags       uint32
	dropped     uint32
	array       uint32
	resv1       uint32
	userAddr    uint64
}

type cqRingOffsets struct {
	head        uint32
	tail        uint32
	ringMask    uint32
	ringEntries uint32
	overflow    uint32
	cqes        uint32
	flags       uint32
	resv1       uint32
	userAddr    uint64
}

type ioUringParams struct {
	sqEntries    uint32
	cqEntries    uint32
	flags        uint32
	sqThreadCPU  uint32
	sqThreadIdle uint32
	features     uint32
	wqFD         uint32
	resv         [3]uint32
	sqOff        sqRingOffsets
	cqOff        cqRingOffsets
}

// portableRing is the default Ring implementation.
type portableRing struct {
	fd     int
	params ioUringParams

	sqMem  []byte
	cqMem  []byte
	sqeMem []byte

	sqHead  *uint32
	sqTail  *uint32
	sqMask  uint32
	sqArray []uint32
	sqes    []sqeEntry

	cqHead *uint32
	cqTail *uint32
	cqMask uint32
	cqes   []cqeEntry

	sqPending uint32 // local tail not yet committed to the shared array
}

// NewPortableRing creates the default io_uring backed Ring with entries
// submission slots (the completion queue is sized 2x, as is conventional).
func NewPortableRing(entries uint32) (Ring, error) {
	logger := logging.Default()
	logger.Debug("creating portable io_uring ring", "entries", entries)

	params := ioUringParams{sqEntries: entries, cqEntries: entries * 2}

	fd, _, errno := syscall.Syscall(sysIOUringSetup, uintptr(entries), uintptr(unsafe.Pointer(&params)), 0)
	if errno != 0 {
		return nil, fmt.Errorf("ioengine: io_uring_setup: %w", errno)
	}

	sqSize := int(params.sqOff.array + params.sqEntries*4)
	cqSize := int(params.cqOff.cqes + params.cqEntries*uint32(unsafe.Sizeof(cqeEntry{})))
	sqeSize := int(params.sqEntries) * int(unsafe.Sizeof(sqeEntry{}))

	sqMem, err := unix.Mmap(int(fd), ioUringOffSQRing, sqSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		syscall.Close(int(fd))
		return nil, fmt.Errorf("ioengine: mmap SQ ring: %w", err)
	}
	cqMem, err := unix.Mmap(int(fd), ioUringOffCQRing, cqSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		unix.Munmap(sqMem)
		syscall.Close(int(fd))
		return nil, fmt.Errorf("ioengine: mmap CQ ring: %w", err)
	}
	sqeMem, err := unix.Mmap(int(fd), ioUringOffSQEs, sqeSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		unix.Munmap(sqMem)
		unix.Munmap(cqMem)
		syscall.Close(int(fd))
		return nil, fmt.Errorf("ioengine: mmap SQEs: %w", err)
	}

	r := &portableRing{fd: int(fd), params: params, sqMem: sqMem, cqMem: cqMem, sqeMem: sqeMem}
	r.sqHead = (*uint32)(unsafe.Pointer(&sqMem[params.sqOff.head]))
	r.sqTail = (*uint32)(unsafe.Pointer(&sqMem[params.sqOff.tail]))
	r.sqMask = *(*uint32)(unsafe.Pointer(&sqMem[params.sqOff.ringMask]))
	r.sqArray = unsafe.Slice((*uint32)(unsafe.Pointer(&sqMem[params.sqOff.array])), params.sqEntries)
	r.sqes = unsafe.Slice((*sqeEntry)(unsafe.Pointer(&sqeMem[0])), params.sqEntries)

	r.cqHead = (*uint32)(unsafe.Pointer(&cqMem[params.cqOff.head]))
	r.cqTail = (*uint32)(unsafe.Pointer(&cqMem[params.cqOff.tail]))
	r.cqMask = *(*uint32)(unsafe.Pointer(&cqMem[params.cqOff.ringMask]))
	r.cqes = unsafe.Slice((*cqeEntry)(unsafe.Pointer(&cqMem[params.cqOff.cqes])), params.cqEntries)

	logger.Info("portable io_uring ring ready", "sq_entries", params.sqEntries, "cq_entries", params.cqEntries)
	return r, nil
}

func loadU32(p *uint32) uint32  { return atomic.LoadUint32(p) }
func storeU32(p *uint32, v uint32) { atomic.StoreUint32(p, v) }

// pushSQE claims the next SQE slot, flushing to the kernel and retrying
// once if the local view of the ring is full — mirroring push_sqe's
// "submit then retry" loop in the original.
func (r *portableRing) pushSQE(fill func(*sqeEntry)) error {
	tail := loadU32(r.sqTail) + r.sqPending
	head := loadU32(r.sqHead)
	if tail-head >= r.params.sqEntries {
		pending := r.sqPending
		storeU32(r.sqTail, loadU32(r.sqTail)+pending)
		r.sqPending = 0
		if _, err := r.enter(pending, 0, 0); err != nil {
			return err
		}
	}

	idx := tail & r.sqMask
	sqe := &r.sqes[idx]
	*sqe = sqeEntry{}
	fill(sqe)

	r.sqArray[idx] = idx
	r.sqPending++
	return nil
}

func (r *portableRing) commitSQ() {
	if r.sqPending == 0 {
		return
	}
	storeU32(r.sqTail, loadU32(r.sqTail)+r.sqPending)
	r.sqPending = 0
}

func (r *portableRing) enter(toSubmit uint32, minComplete uint32, flags uint32) (int, error) {
	ret, _, errno := syscall.Syscall6(sysIOUringEnter, uintptr(r.fd), uintptr(toSubmit), uintptr(minComplete), uintptr(flags), 0, 0)
	if errno != 0 {
		return 0, fmt.Errorf("ioengine: io_uring_enter: %w", errno)
	}
	return int(ret), nil
}

func (r *portableRing) SubmitAccept(listenFD int) error {
	return r.pushSQE(func(sqe *sqeEntry) {
		sqe.opcode = opAccept
		sqe.fd = int32(listenFD)
		sqe.userData = encodeUserData(OpAccept, 0)
	})
}

func (r *portableRing) SubmitRead(conn *Connection, key uint16) error {
	if conn.ReadInflight {
		return nil
	}
	conn.ReadInflight = true
	ptr := uintptr(unsafe.Pointer(&conn.ReadBuf[conn.ReadLen]))
	length := uint32(len(conn.ReadBuf) - conn.ReadLen)
	return r.pushSQE(func(sqe *sqeEntry) {
		sqe.opcode = opRead
		sqe.fd = int32(conn.FD)
		sqe.addr = uint64(ptr)
		sqe.length = length
		sqe.userData = encodeUserData(OpRead, key)
	})
}

func (r *portableRing) SubmitWrite(conn *Connection, key uint16, iovecs []unix.Iovec) error {
	if conn.WriteInflight || len(iovecs) == 0 {
		return nil
	}
	conn.WriteInflight = true
	ptr := uintptr(unsafe.Pointer(&iovecs[0]))
	return r.pushSQE(func(sqe *sqeEntry) {
		sqe.opcode = opWritev
		sqe.fd = int32(conn.FD)
		sqe.addr = uint64(ptr)
		sqe.length = uint32(len(iovecs))
		sqe.userData = encodeUserData(OpWrite, key)
	})
}

func (r *portableRing) SubmitEventFDRead(eventFD int, buf *uint64) error {
	ptr := uintptr(unsafe.Pointer(buf))
	return r.pushSQE(func(sqe *sqeEntry) {
		sqe.opcode = opRead
		sqe.fd = int32(eventFD)
		sqe.addr = uint64(ptr)
		sqe.length = 8
		sqe.userData = encodeUserData(OpEventFD, 0)
	})
}

func (r *portableRing) SubmitAndWait(minCompletions int) ([]Completion, error) {
	toSubmit := r.sqPending
	r.commitSQ()
	if _, err := r.enter(toSubmit, uint32(minCompletions), ioUringEnterGetEvents); err != nil {
		return nil, err
	}

	head := loadU32(r.cqHead)
	tail := loadU32(r.cqTail)

	var out []Completion
	for i := head; i != tail; i++ {
		cqe := &r.cqes[i&r.cqMask]
		out = append(out, Completion{UserData: cqe.userData, Result: cqe.res})
	}
	storeU32(r.cqHead, tail)
	return out, nil
}

func (r *portableRing) Close() error {
	unix.Munmap(r.sqMem)
	unix.Munmap(r.cqMem)
	unix.Munmap(r.sqeMem)
	return syscall.Close(r.fd)
}
