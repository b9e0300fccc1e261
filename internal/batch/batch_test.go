package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/vecpipe/vecpipe/arena"
	"github.com/vecpipe/vecpipe/event"
	"github.com/vecpipe/vecpipe/internal/constants"
	"github.com/vecpipe/vecpipe/internal/respqueue"
	"github.com/vecpipe/vecpipe/ring"
)

func newEventFD(t *testing.T) int {
	t.Helper()
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fd) })
	return fd
}

type countingObserver struct {
	pollEvents, pollNoEvents, decReqOcc int
}

func (c *countingObserver) IncPollEvents()   { c.pollEvents++ }
func (c *countingObserver) IncPollNoEvents() { c.pollNoEvents++ }
func (c *countingObserver) DecReqOcc()       { c.decReqOcc++ }

func publishRequest(t *testing.T, reqArena *arena.Arena, producer *ring.Ring[event.RequestEvent], connID uint16, ioThreadID uint8, seq uint64, values ...float32) {
	t.Helper()
	mut, err := reqArena.Alloc(len(values))
	require.NoError(t, err)
	copy(mut.Slice(), values)
	handle := mut.Freeze()

	err = producer.TryPublish(func(slot *event.RequestEvent) {
		slot.ConnID = connID
		slot.IOThreadID = ioThreadID
		slot.RequestSeq = seq
		slot.NumVectors = uint8(len(values) / constants.FeatureDim)
		slot.Features = handle
	})
	require.NoError(t, err)
}

func TestProcessOneCycleProducesResponseAndSignals(t *testing.T) {
	reqArena := arena.New(4096)
	reqRing := ring.New[event.RequestEvent](16, event.NewRequestEvent)

	fd := newEventFD(t)
	pair := respqueue.Build(16, fd)

	p := NewProcessor(reqRing, []*respqueue.Producer{pair.Producer}, []*arena.Arena{arena.New(4096)})
	obs := &countingObserver{}
	p.Observer = obs

	values := make([]float32, constants.FeatureDim)
	for i := range values {
		values[i] = 2.0
	}
	publishRequest(t, reqArena, reqRing, 3, 0, 0, values...)

	require.NoError(t, p.ProcessOneCycle())

	assert.Equal(t, 1, obs.pollEvents)
	assert.Equal(t, 1, obs.decReqOcc)

	g, err := pair.Ring.Poll()
	require.NoError(t, err)
	require.Equal(t, 1, g.Len())
	resp := g.At(0)
	assert.Equal(t, uint16(3), resp.ConnID)
	assert.Equal(t, uint8(1), resp.NumVectors)
	assert.Equal(t, float32(constants.FeatureDim)*2.0, resp.Results.Inline[0])
	g.Release()

	var buf [8]byte
	n, err := unix.Read(fd, buf[:])
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}

func TestProcessOneCycleReturnsNoEventsWhenRingEmpty(t *testing.T) {
	reqRing := ring.New[event.RequestEvent](4, event.NewRequestEvent)
	fd := newEventFD(t)
	pair := respqueue.Build(4, fd)

	p := NewProcessor(reqRing, []*respqueue.Producer{pair.Producer}, []*arena.Arena{arena.New(1024)})
	obs := &countingObserver{}
	p.Observer = obs

	err := p.ProcessOneCycle()
	assert.ErrorIs(t, err, ring.ErrNoEvents)
	assert.Equal(t, 1, obs.pollNoEvents)
}

func TestProcessOneCycleRoutesByIOThread(t *testing.T) {
	reqArena := arena.New(4096)
	reqRing := ring.New[event.RequestEvent](16, event.NewRequestEvent)

	fd0 := newEventFD(t)
	fd1 := newEventFD(t)
	pair0 := respqueue.Build(16, fd0)
	pair1 := respqueue.Build(16, fd1)

	p := NewProcessor(reqRing, []*respqueue.Producer{pair0.Producer, pair1.Producer}, []*arena.Arena{arena.New(4096), arena.New(4096)})

	values := make([]float32, constants.FeatureDim)
	publishRequest(t, reqArena, reqRing, 1, 1, 0, values...)

	require.NoError(t, p.ProcessOneCycle())

	_, err := pair0.Ring.Poll()
	assert.ErrorIs(t, err, ring.ErrNoEvents)

	g, err := pair1.Ring.Poll()
	require.NoError(t, err)
	assert.Equal(t, 1, g.Len())
	g.Release()
}

func TestProcessOneCycleReleasesFeatureHandleBeforeResponding(t *testing.T) {
	reqArena := arena.New(constants.FeatureDim)
	reqRing := ring.New[event.RequestEvent](4, event.NewRequestEvent)
	fd := newEventFD(t)
	pair := respqueue.Build(4, fd)
	p := NewProcessor(reqRing, []*respqueue.Producer{pair.Producer}, []*arena.Arena{arena.New(1024)})

	values := make([]float32, constants.FeatureDim)
	publishRequest(t, reqArena, reqRing, 1, 0, 0, values...)
	require.NoError(t, p.ProcessOneCycle())
	g, err := pair.Ring.Poll()
	require.NoError(t, err)
	g.Release()

	inUse, _ := reqArena.Utilization()
	assert.Zero(t, inUse)

	mut, err := reqArena.Alloc(constants.FeatureDim)
	require.NoError(t, err)
	_ = mut
}

func TestProcessOneCyclePooledResultsAboveInlineCapacity(t *testing.T) {
	reqArena := arena.New(4096)
	reqRing := ring.New[event.RequestEvent](4, event.NewRequestEvent)
	fd := newEventFD(t)
	pair := respqueue.Build(4, fd)
	resultPool := arena.New(4096)
	p := NewProcessor(reqRing, []*respqueue.Producer{pair.Producer}, []*arena.Arena{resultPool})

	numVectors := event.InlineResultCapacity + 2
	values := make([]float32, numVectors*constants.FeatureDim)
	for i := range values {
		values[i] = 1.0
	}
	publishRequest(t, reqArena, reqRing, 1, 0, 0, values...)

	require.NoError(t, p.ProcessOneCycle())

	g, err := pair.Ring.Poll()
	require.NoError(t, err)
	resp := g.At(0)
	assert.True(t, resp.Results.Pooled)
	results := resp.Results.Slice(numVectors)
	require.Len(t, results, numVectors)
	assert.Equal(t, float32(constants.FeatureDim), results[0])
	g.Release()
}
