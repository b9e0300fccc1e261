// Package batch implements the pipeline's one consumer of the request
// ring: it drains whatever requests are ready in a single poll, computes
// each one's per-vector sum, and republishes a ResponseRecord per request
// onto the response channel owned by that request's originating IO
// thread. It is the request ring's only consumer and the response rings'
// only producer.
package batch

import (
	"github.com/vecpipe/vecpipe/arena"
	"github.com/vecpipe/vecpipe/event"
	"github.com/vecpipe/vecpipe/internal/constants"
	"github.com/vecpipe/vecpipe/internal/respqueue"
	"github.com/vecpipe/vecpipe/ring"
)

// Observer receives the counters a processor run affects. Implementations
// live in the root package (Metrics/NoOpObserver); batch only depends on
// the narrow slice of methods it actually calls.
type Observer interface {
	IncPollEvents()
	IncPollNoEvents()
	DecReqOcc()
}

// noOpObserver is used when Processor is built without one.
type noOpObserver struct{}

func (noOpObserver) IncPollEvents()   {}
func (noOpObserver) IncPollNoEvents() {}
func (noOpObserver) DecReqOcc()       {}

// StallFunc is called once per spin iteration while waiting on a
// recoverable resource (a response arena momentarily exhausted).
type StallFunc func()

// Processor consumes one request ring and fans responses out to however
// many IO threads are configured, one respqueue.Producer and one result
// arena per thread, indexed by RequestEvent.IOThreadID.
type Processor struct {
	Consumer          *ring.Ring[event.RequestEvent]
	ResponseProducers []*respqueue.Producer
	ResultPools       []*arena.Arena
	Observer          Observer
	Stall             StallFunc
}

// NewProcessor constructs a Processor, defaulting Observer to a no-op and
// Stall to nil (busy-spin with no hint) when not supplied.
func NewProcessor(consumer *ring.Ring[event.RequestEvent], responseProducers []*respqueue.Producer, resultPools []*arena.Arena) *Processor {
	return &Processor{
		Consumer:          consumer,
		ResponseProducers: responseProducers,
		ResultPools:       resultPools,
		Observer:          noOpObserver{},
	}
}

// ErrNoEvents is returned by ProcessOneCycle when the request ring had
// nothing ready to poll — callers should spin-hint and retry, not treat
// it as a fault.
var ErrNoEvents = ring.ErrNoEvents

// ProcessOneCycle polls the request ring once. If events were ready, it
// computes a response for each, releasing every request's feature handle
// as soon as its sum is read out. The guard's release only advances the
// request ring's consumer cursor and releases no arena handle, so this
// per-event release is what advances the request arena's read cursor,
// and it keeps the arena draining promptly under load. It returns
// ring.ErrNoEvents when there was
// nothing to do, and any other error is a wake-the-caller fault (ring
// shutdown).
func (p *Processor) ProcessOneCycle() error {
	numThreads := len(p.ResponseProducers)
	signaled := make([]bool, numThreads)
	var tempResults [constants.MaxVectorsPerRequest]float32

	guard, err := p.Consumer.Poll()
	if err != nil {
		if err == ring.ErrNoEvents {
			p.Observer.IncPollNoEvents()
		}
		return err
	}
	p.Observer.IncPollEvents()

	guard.ForEach(func(evt *event.RequestEvent) {
		numVecs := int(evt.NumVectors)
		for v := 0; v < numVecs; v++ {
			vector := evt.Features.Vector(v, constants.FeatureDim)
			var sum float32
			for _, x := range vector {
				sum += x
			}
			tempResults[v] = sum
		}
		evt.Release()

		threadID := int(evt.IOThreadID)

		var resultPool *arena.Arena
		if numVecs > event.InlineResultCapacity {
			resultPool = p.ResultPools[threadID]
		}

		storage, storageErr := event.ToResultStorage(resultPool, tempResults[:numVecs])
		for storageErr != nil {
			if p.Stall != nil {
				p.Stall()
			}
			storage, storageErr = event.ToResultStorage(resultPool, tempResults[:numVecs])
		}

		seq := evt.RequestSeq
		connID := evt.ConnID
		producer := p.ResponseProducers[threadID]
		producer.Send(func(slot *event.ResponseRecord) {
			slot.RequestSeq = seq
			slot.ConnID = connID
			slot.NumVectors = uint8(numVecs)
			slot.Results = storage
		}, p.Stall)

		signaled[threadID] = true
		p.Observer.DecReqOcc()
	})

	guard.Release()

	for i, had := range signaled {
		if had {
			p.ResponseProducers[i].Signal()
		}
	}

	return nil
}

// Run drains the request ring forever, calling spin when a poll finds
// nothing ready. It returns only when the ring has been shut down.
func (p *Processor) Run(spin func()) {
	for {
		err := p.ProcessOneCycle()
		switch err {
		case nil:
			// keep going
		case ring.ErrNoEvents:
			if spin != nil {
				spin()
			}
		default:
			return
		}
	}
}
