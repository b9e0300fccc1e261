package vecpipe

import "sync/atomic"

// Metrics holds process-wide counters for the request/response pipeline.
// Every field is a relaxed atomic, matching the concurrency model: these
// are incremented from whichever thread observes the event (IO engine or
// batch processor) and read from anywhere (a reporter goroutine, tests).
//
// This is explicitly a "collaborator": nothing in the hot path depends on
// Metrics being accurate or even present — every call site goes through
// the Observer interface below, whose no-op implementation is the
// default.
type Metrics struct {
	ReqRingFull    atomic.Uint64
	RespRingFull   atomic.Uint64
	PoolExhausted  atomic.Uint64
	PoolTooLarge   atomic.Uint64
	PoolMaxInUse   atomic.Uint64
	ReqOcc         atomic.Int64
	RespOcc        atomic.Int64
	ReqMaxOcc      atomic.Uint64
	RespMaxOcc     atomic.Uint64
	ConnsAccepted  atomic.Uint64
	ConnsClosed    atomic.Uint64
	RequestsParsed atomic.Uint64
	ParseErrors    atomic.Uint64
}

// NewMetrics returns a zeroed Metrics block ready to use.
func NewMetrics() *Metrics {
	return &Metrics{}
}

func updateMax(target *atomic.Uint64, value uint64) {
	for {
		prev := target.Load()
		if value <= prev {
			return
		}
		if target.CompareAndSwap(prev, value) {
			return
		}
	}
}

func (m *Metrics) IncReqRingFull()    { m.ReqRingFull.Add(1) }
func (m *Metrics) IncRespRingFull()   { m.RespRingFull.Add(1) }
func (m *Metrics) IncPoolExhausted()  { m.PoolExhausted.Add(1) }
func (m *Metrics) IncPoolTooLarge()   { m.PoolTooLarge.Add(1) }

func (m *Metrics) UpdatePoolInUse(inUse int) {
	updateMax(&m.PoolMaxInUse, uint64(inUse))
}

func (m *Metrics) IncReqOcc() {
	v := m.ReqOcc.Add(1)
	if v > 0 {
		updateMax(&m.ReqMaxOcc, uint64(v))
	}
}

func (m *Metrics) DecReqOcc() { m.ReqOcc.Add(-1) }

func (m *Metrics) IncRespOcc() {
	v := m.RespOcc.Add(1)
	if v > 0 {
		updateMax(&m.RespMaxOcc, uint64(v))
	}
}

func (m *Metrics) DecRespOcc() { m.RespOcc.Add(-1) }

func (m *Metrics) IncConnsAccepted()  { m.ConnsAccepted.Add(1) }
func (m *Metrics) IncConnsClosed()    { m.ConnsClosed.Add(1) }
func (m *Metrics) IncRequestsParsed() { m.RequestsParsed.Add(1) }
func (m *Metrics) IncParseErrors()    { m.ParseErrors.Add(1) }

// MetricsSnapshot is a point-in-time copy of Metrics, safe to log or print.
type MetricsSnapshot struct {
	ReqRingFull    uint64
	RespRingFull   uint64
	PoolExhausted  uint64
	PoolTooLarge   uint64
	PoolMaxInUse   uint64
	ReqOcc         int64
	RespOcc        int64
	ReqMaxOcc      uint64
	RespMaxOcc     uint64
	ConnsAccepted  uint64
	ConnsClosed    uint64
	RequestsParsed uint64
	ParseErrors    uint64
}

// Snapshot reads every counter. Individual loads are not mutually
// consistent with each other, which is fine for a diagnostics reporter.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		ReqRingFull:    m.ReqRingFull.Load(),
		RespRingFull:   m.RespRingFull.Load(),
		PoolExhausted:  m.PoolExhausted.Load(),
		PoolTooLarge:   m.PoolTooLarge.Load(),
		PoolMaxInUse:   m.PoolMaxInUse.Load(),
		ReqOcc:         m.ReqOcc.Load(),
		RespOcc:        m.RespOcc.Load(),
		ReqMaxOcc:      m.ReqMaxOcc.Load(),
		RespMaxOcc:     m.RespMaxOcc.Load(),
		ConnsAccepted:  m.ConnsAccepted.Load(),
		ConnsClosed:    m.ConnsClosed.Load(),
		RequestsParsed: m.RequestsParsed.Load(),
		ParseErrors:    m.ParseErrors.Load(),
	}
}

// Observer is the optional counter-update hook contract the IO engine and
// batch processor call into. NoOpObserver is the zero-cost default; a
// *MetricsObserver wraps a *Metrics for anyone who wants the numbers.
type Observer interface {
	ObserveReqRingFull()
	ObserveRespRingFull()
	ObservePoolExhausted()
	ObservePoolTooLarge()
	ObservePoolInUse(inUse int)
	ObserveReqOccDelta(delta int)
	ObserveRespOccDelta(delta int)
	ObserveConnAccepted()
	ObserveConnClosed()
	ObserveRequestParsed()
	ObserveParseError()
}

// NoOpObserver discards every observation.
type NoOpObserver struct{}

func (NoOpObserver) ObserveReqRingFull()     {}
func (NoOpObserver) ObserveRespRingFull()    {}
func (NoOpObserver) ObservePoolExhausted()   {}
func (NoOpObserver) ObservePoolTooLarge()    {}
func (NoOpObserver) ObservePoolInUse(int)    {}
func (NoOpObserver) ObserveReqOccDelta(int)  {}
func (NoOpObserver) ObserveRespOccDelta(int) {}
func (NoOpObserver) ObserveConnAccepted()    {}
func (NoOpObserver) ObserveConnClosed()      {}
func (NoOpObserver) ObserveRequestParsed()   {}
func (NoOpObserver) ObserveParseError()      {}

// MetricsObserver delegates every observation to a *Metrics.
type MetricsObserver struct {
	M *Metrics
}

func NewMetricsObserver(m *Metrics) *MetricsObserver { return &MetricsObserver{M: m} }

func (o *MetricsObserver) ObserveReqRingFull()       { o.M.IncReqRingFull() }
func (o *MetricsObserver) ObserveRespRingFull()      { o.M.IncRespRingFull() }
func (o *MetricsObserver) ObservePoolExhausted()     { o.M.IncPoolExhausted() }
func (o *MetricsObserver) ObservePoolTooLarge()      { o.M.IncPoolTooLarge() }
func (o *MetricsObserver) ObservePoolInUse(inUse int) { o.M.UpdatePoolInUse(inUse) }

func (o *MetricsObserver) ObserveReqOccDelta(delta int) {
	if delta > 0 {
		for i := 0; i < delta; i++ {
			o.M.IncReqOcc()
		}
	} else {
		for i := 0; i > delta; i-- {
			o.M.DecReqOcc()
		}
	}
}

func (o *MetricsObserver) ObserveRespOccDelta(delta int) {
	if delta > 0 {
		for i := 0; i < delta; i++ {
			o.M.IncRespOcc()
		}
	} else {
		for i := 0; i > delta; i-- {
			o.M.DecRespOcc()
		}
	}
}

func (o *MetricsObserver) ObserveConnAccepted()  { o.M.IncConnsAccepted() }
func (o *MetricsObserver) ObserveConnClosed()    { o.M.IncConnsClosed() }
func (o *MetricsObserver) ObserveRequestParsed() { o.M.IncRequestsParsed() }
func (o *MetricsObserver) ObserveParseError()    { o.M.IncParseErrors() }

var (
	_ Observer = NoOpObserver{}
	_ Observer = (*MetricsObserver)(nil)
)
