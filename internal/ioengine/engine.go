package ioengine

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/vecpipe/vecpipe/arena"
	"github.com/vecpipe/vecpipe/event"
	"github.com/vecpipe/vecpipe/internal/constants"
	"github.com/vecpipe/vecpipe/internal/logging"
	"github.com/vecpipe/vecpipe/internal/reqflow"
	"github.com/vecpipe/vecpipe/internal/respflow"
	"github.com/vecpipe/vecpipe/internal/vecerr"
	"github.com/vecpipe/vecpipe/ring"
)

// Observer receives the counters an IoThread run affects.
type Observer interface {
	IncReqOcc()
	IncRequestsPublished()
	IncConnsAccepted()
	IncConnsClosed()
	DecRespOcc()
	IncResponsesSent()
}

type noOpObserver struct{}

func (noOpObserver) IncReqOcc()             {}
func (noOpObserver) IncRequestsPublished()  {}
func (noOpObserver) IncConnsAccepted()      {}
func (noOpObserver) IncConnsClosed()        {}
func (noOpObserver) DecRespOcc()            {}
func (noOpObserver) IncResponsesSent()      {}

// IoThread owns one accept loop, its connection slab, and the producer
// half of the request ring. Multiple IoThreads may run concurrently
// (SO_REUSEPORT on the same port), each with its own response channel —
// see internal/respqueue and orchestrator.go for how they're wired.
type IoThread struct {
	ThreadID      uint8
	ListenFD      int
	Producer      *ring.Ring[event.RequestEvent]
	ResponseRing  *ring.Ring[event.ResponseRecord]
	EventFD       int
	RequestArena  *arena.Arena
	Observer      Observer
}

// Run drives the completion-queue loop on r until a submission or
// submit-and-wait call on r fails. It never returns under normal operation.
func (t *IoThread) Run(r Ring) error {
	obs := t.Observer
	if obs == nil {
		obs = noOpObserver{}
	}
	logger := logging.Default()

	conns := NewSlab(constants.SlabCapacity)
	var eventFDBuf uint64

	if err := r.SubmitAccept(t.ListenFD); err != nil {
		return err
	}
	if err := r.SubmitEventFDRead(t.EventFD, &eventFDBuf); err != nil {
		return err
	}

	for {
		completions, err := r.SubmitAndWait(1)
		if err != nil {
			return err
		}

		for _, c := range completions {
			op, key := decodeUserData(c.UserData)
			switch op {
			case OpAccept:
				t.handleAccept(r, conns, c.Result, obs, logger)
			case OpRead:
				t.handleRead(r, conns, key, c.Result, obs, logger)
			case OpWrite:
				t.handleWrite(r, conns, key)
			case OpEventFD:
				t.handleEventFD(r, conns, &eventFDBuf, obs)
			}
		}
	}
}

func (t *IoThread) handleAccept(r Ring, conns *Slab, result int32, obs Observer, logger *logging.Logger) {
	if result >= 0 {
		clientFD := int(result)
		if len(conns.entries)-len(conns.free) >= constants.SlabCapacity {
			logger.Warn("connection slab full, closing accepted connection", "fd", clientFD)
			unix.Close(clientFD)
		} else {
			conn := NewConnection(clientFD)
			key := conns.Insert(conn)
			obs.IncConnsAccepted()
			if err := r.SubmitRead(conn, key); err != nil {
				logger.Error("submit read after accept failed", "error", err)
			}
		}
	}
	if err := r.SubmitAccept(t.ListenFD); err != nil {
		logger.Error("resubmit accept failed", "error", err)
	}
}

func (t *IoThread) handleRead(r Ring, conns *Slab, key uint16, result int32, obs Observer, logger *logging.Logger) {
	if result <= 0 {
		if conn := conns.Remove(key); conn != nil {
			if result < 0 {
				ioErr := vecerr.WrapIOError("ioengine.handleRead", uint32(key), unix.Errno(-result))
				logger.Debug("read completion failed, closing connection", "conn", key, "error", ioErr)
			}
			unix.Close(conn.FD)
			releaseConnection(conn)
			obs.IncConnsClosed()
		}
		return
	}

	conn := conns.Get(key)
	if conn == nil {
		return
	}
	conn.ReadInflight = false
	conn.ReadLen += int(result)

	buf := conn.ReadBuf[:conn.ReadLen]
	consumed, published, err := reqflow.Process(buf, t.Producer, t.RequestArena, key, t.ThreadID, &conn.NextRequestSeq, nil)
	for i := 0; i < published; i++ {
		obs.IncReqOcc()
		obs.IncRequestsPublished()
	}
	if err != nil {
		var ve *vecerr.Error
		code := vecerr.ErrorCode("unknown")
		if errors.As(err, &ve) {
			code = ve.Code
		}
		logger.Warn("request flow error, closing connection", "conn", key, "code", code, "error", err)
		conns.Remove(key)
		unix.Close(conn.FD)
		releaseConnection(conn)
		return
	}
	if consumed > 0 {
		copy(conn.ReadBuf[:], conn.ReadBuf[consumed:conn.ReadLen])
		conn.ReadLen -= consumed
	}

	if err := r.SubmitRead(conn, key); err != nil {
		logger.Error("resubmit read failed", "error", err)
	}
}

func (t *IoThread) handleWrite(r Ring, conns *Slab, key uint16) {
	conn := conns.Get(key)
	if conn == nil {
		return
	}
	conn.WriteInflight = false
	conn.resetWriteState()
}

func (t *IoThread) handleEventFD(r Ring, conns *Slab, eventFDBuf *uint64, obs Observer) {
	logger := logging.Default()

	guard, err := t.ResponseRing.Poll()
	if err == nil {
		var writeKeys []uint16
		seen := make(map[uint16]bool)

		guard.ForEach(func(resp *event.ResponseRecord) {
			conn := conns.Get(resp.ConnID)
			if conn != nil {
				headerOff := len(conn.WriteHeaders)
				conn.WriteHeaders = append(conn.WriteHeaders, resp.NumVectors)

				results := resp.Results.Slice(int(resp.NumVectors))
				payloadOff := len(conn.WritePayloads)
				conn.WritePayloads = append(conn.WritePayloads, protocolFloatsToBytes(results)...)

				conn.WriteSegments = append(conn.WriteSegments, writeSegment{
					headerOff:  headerOff,
					payloadOff: payloadOff,
					payloadLen: len(results) * 4,
				})

				if !conn.WriteInflight && !seen[resp.ConnID] {
					writeKeys = append(writeKeys, resp.ConnID)
					seen[resp.ConnID] = true
				}
			}
			resp.Release()
			obs.DecRespOcc()
			obs.IncResponsesSent()
		})
		guard.Release()

		for _, key := range writeKeys {
			conn := conns.Get(key)
			if conn == nil {
				continue
			}
			iovecs := buildIovecs(conn)
			if err := r.SubmitWrite(conn, key, iovecs); err != nil {
				logger.Error("submit write failed", "conn", key, "error", err)
			}
		}
	} else if err != ring.ErrNoEvents && err != ring.ErrShutdown {
		logger.Error("response ring poll failed", "error", err)
	}

	if err := r.SubmitEventFDRead(t.EventFD, eventFDBuf); err != nil {
		logger.Error("resubmit eventfd read failed", "error", err)
	}
}

// buildIovecs reassembles conn's accumulated header/payload bytes into
// the [header, payload] * N scatter-gather list respflow.IovecsPerConn
// builds straight from ring storage; here the IO thread's own
// WriteHeaders/WritePayloads buffers are the backing memory instead,
// since multiple drains may have accumulated before a write completes.
func buildIovecs(conn *Connection) []unix.Iovec {
	iovecs := make([]unix.Iovec, 0, len(conn.WriteSegments)*2)
	for _, seg := range conn.WriteSegments {
		var hdr unix.Iovec
		hdr.Base = &conn.WriteHeaders[seg.headerOff]
		hdr.SetLen(1)
		iovecs = append(iovecs, hdr)

		if seg.payloadLen > 0 {
			var pay unix.Iovec
			pay.Base = &conn.WritePayloads[seg.payloadOff]
			pay.SetLen(seg.payloadLen)
			iovecs = append(iovecs, pay)
		}
	}
	return iovecs
}

// protocolFloatsToBytes is a tiny local alias so handleEventFD doesn't
// need to import internal/protocol just for this one conversion; see
// respflow.WirePerConn for the same logic used in the non-iovec path.
func protocolFloatsToBytes(values []float32) []byte {
	return respflow.EncodeFloats(values)
}
