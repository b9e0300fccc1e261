package ioengine

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/vecpipe/vecpipe/arena"
	"github.com/vecpipe/vecpipe/event"
	"github.com/vecpipe/vecpipe/internal/constants"
	"github.com/vecpipe/vecpipe/internal/logging"
	"github.com/vecpipe/vecpipe/ring"
)

// fakeRing records submissions without touching a real io_uring, so
// IoThread's completion-handling logic can be exercised without a kernel.
type fakeRing struct {
	accepts       int
	reads         []uint16
	writes        []uint16
	lastIovecs    []unix.Iovec
	eventFDReads  int
}

func (f *fakeRing) SubmitAccept(listenFD int) error { f.accepts++; return nil }
func (f *fakeRing) SubmitRead(conn *Connection, key uint16) error {
	conn.ReadInflight = true
	f.reads = append(f.reads, key)
	return nil
}
func (f *fakeRing) SubmitWrite(conn *Connection, key uint16, iovecs []unix.Iovec) error {
	conn.WriteInflight = true
	f.writes = append(f.writes, key)
	f.lastIovecs = iovecs
	return nil
}
func (f *fakeRing) SubmitEventFDRead(eventFD int, buf *uint64) error {
	f.eventFDReads++
	return nil
}
func (f *fakeRing) SubmitAndWait(minCompletions int) ([]Completion, error) { return nil, nil }
func (f *fakeRing) Close() error                                          { return nil }

func newTestThread(t *testing.T) (*IoThread, *ring.Ring[event.RequestEvent], *ring.Ring[event.ResponseRecord]) {
	t.Helper()
	reqArena := arena.New(4096)
	producer := ring.New[event.RequestEvent](16, event.NewRequestEvent)
	respRing := ring.New[event.ResponseRecord](16, event.NewResponseRecord)
	thread := &IoThread{
		ThreadID:     0,
		ListenFD:     -1,
		Producer:     producer,
		ResponseRing: respRing,
		RequestArena: reqArena,
	}
	return thread, producer, respRing
}

func TestHandleAcceptInsertsConnectionAndSubmitsRead(t *testing.T) {
	thread, _, _ := newTestThread(t)
	fr := &fakeRing{}
	conns := NewSlab(8)

	thread.handleAccept(fr, conns, 77, noOpObserver{}, discardLogger())

	require.Len(t, fr.reads, 1)
	conn := conns.Get(fr.reads[0])
	require.NotNil(t, conn)
	assert.Equal(t, 77, conn.FD)
	assert.Equal(t, 1, fr.accepts)
}

func TestHandleAcceptNegativeResultSkipsInsert(t *testing.T) {
	thread, _, _ := newTestThread(t)
	fr := &fakeRing{}
	conns := NewSlab(8)

	thread.handleAccept(fr, conns, -1, noOpObserver{}, discardLogger())

	assert.Empty(t, fr.reads)
	assert.Equal(t, 1, fr.accepts)
}

func TestHandleReadClosesConnOnNonPositiveResult(t *testing.T) {
	thread, _, _ := newTestThread(t)
	fr := &fakeRing{}
	conns := NewSlab(8)
	key := conns.Insert(NewConnection(5))

	thread.handleRead(fr, conns, key, 0, noOpObserver{}, discardLogger())

	assert.Nil(t, conns.Get(key))
}

func encodeRequest(fill float32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, 1)
	var tmp [4]byte
	for i := 0; i < constants.FeatureDim; i++ {
		binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(fill))
		buf = append(buf, tmp[:]...)
	}
	return buf
}

func TestHandleReadPublishesRequestAndResubmits(t *testing.T) {
	thread, producer, _ := newTestThread(t)
	fr := &fakeRing{}
	conns := NewSlab(8)
	key := conns.Insert(NewConnection(5))
	conn := conns.Get(key)

	payload := encodeRequest(4.0)
	copy(conn.ReadBuf[:], payload)

	thread.handleRead(fr, conns, key, int32(len(payload)), noOpObserver{}, discardLogger())

	g, err := producer.Poll()
	require.NoError(t, err)
	require.Equal(t, 1, g.Len())
	g.Release()
	assert.Contains(t, fr.reads, key)
}

func TestHandleWriteResetsConnectionBuffers(t *testing.T) {
	thread, _, _ := newTestThread(t)
	conns := NewSlab(8)
	key := conns.Insert(NewConnection(5))
	conn := conns.Get(key)
	conn.WriteInflight = true
	conn.WriteHeaders = append(conn.WriteHeaders, 1)

	thread.handleWrite(nil, conns, key)

	assert.False(t, conn.WriteInflight)
	assert.Empty(t, conn.WriteHeaders)
}

func TestHandleEventFDBuildsWriteForWaitingConnection(t *testing.T) {
	thread, _, respRing := newTestThread(t)
	fr := &fakeRing{}
	conns := NewSlab(8)
	key := conns.Insert(NewConnection(5))

	require.NoError(t, respRing.TryPublish(func(r *event.ResponseRecord) {
		r.ConnID = key
		r.NumVectors = 1
		r.Results.Inline[0] = 3.0
	}))

	var buf uint64
	thread.handleEventFD(fr, conns, &buf, noOpObserver{})

	require.Len(t, fr.writes, 1)
	assert.Equal(t, key, fr.writes[0])
	assert.Equal(t, 1, fr.eventFDReads)
}

func discardLogger() *logging.Logger { return logging.NewLogger(nil) }
