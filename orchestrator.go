package vecpipe

import (
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/vecpipe/vecpipe/arena"
	"github.com/vecpipe/vecpipe/event"
	"github.com/vecpipe/vecpipe/internal/batch"
	"github.com/vecpipe/vecpipe/internal/constants"
	"github.com/vecpipe/vecpipe/internal/ioengine"
	"github.com/vecpipe/vecpipe/internal/logging"
	"github.com/vecpipe/vecpipe/internal/respqueue"
	"github.com/vecpipe/vecpipe/ring"
)

// Config is the set of knobs orchestrator.Run needs: the listen port, how
// many independent IO threads to run (each with its own SO_REUSEPORT
// listener, request arena, and response channel), and CPU affinity for
// pinning those threads, mirroring main.rs's num_threads/port CLI
// arguments plus the teacher's queue.Runner CPU-affinity option.
type Config struct {
	Port        uint16
	IOThreads   int
	CPUAffinity []int
	Observer    Observer
}

// DefaultConfig mirrors the original's fallback: one IO thread fewer than
// available parallelism (minimum one), port 9900.
func DefaultConfig() Config {
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	return Config{Port: 9900, IOThreads: n, Observer: NoOpObserver{}}
}

// Server owns every long-lived resource orchestrator.Run constructs: the
// request ring, per-thread response channels and result arenas, and the
// listener sockets. Run blocks until one of its goroutines returns an
// error or the process is signaled to stop elsewhere.
type Server struct {
	cfg      Config
	reqArena *arena.Arena
	reqRing  *ring.Ring[event.RequestEvent]
}

// NewServer validates cfg and builds the request ring every IO thread
// shares, plus the first IO thread's request arena (Run builds one more
// arena per additional IO thread). It does not yet bind listeners or
// spawn goroutines; call Run for that.
func NewServer(cfg Config) (*Server, error) {
	if cfg.IOThreads < 1 || cfg.IOThreads > constants.MaxIOThreads {
		return nil, fmt.Errorf("orchestrator: io threads must be in [1,%d], got %d", constants.MaxIOThreads, cfg.IOThreads)
	}
	if cfg.Observer == nil {
		cfg.Observer = NoOpObserver{}
	}

	reqArena := arena.New(constants.BufferPoolCapacity)
	reqRing := ring.New[event.RequestEvent](constants.DisruptorSize, event.NewRequestEvent)
	if cfg.IOThreads > 1 {
		reqRing.EnableMultiProducer()
	}

	return &Server{cfg: cfg, reqArena: reqArena, reqRing: reqRing}, nil
}

// Run builds one listener/response-channel pair per configured IO thread,
// spawns the batch processor and every IO thread as its own goroutine
// pinned to an OS thread, and blocks until any of them exits.
func (s *Server) Run() error {
	logger := logging.Default()
	n := s.cfg.IOThreads

	responseProducers := make([]*respqueue.Producer, n)
	responseRings := make([]*ring.Ring[event.ResponseRecord], n)
	resultPools := make([]*arena.Arena, n)
	eventFDs := make([]int, n)

	for i := 0; i < n; i++ {
		fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK)
		if err != nil {
			return fmt.Errorf("orchestrator: eventfd: %w", err)
		}
		pair := respqueue.Build(constants.ResponseQueueSize, fd)
		responseProducers[i] = pair.Producer
		responseRings[i] = pair.Ring
		resultPools[i] = arena.New(constants.ResultPoolCapacity)
		eventFDs[i] = fd
	}

	logger.Info("vecpipe starting",
		"io_threads", n,
		"port", s.cfg.Port,
		"buffer_pool_mb", constants.BufferPoolCapacity*4/1_000_000,
		"result_pool_kb", constants.ResultPoolCapacity*4/1_000,
	)

	proc := batch.NewProcessor(s.reqRing, responseProducers, resultPools)
	proc.Observer = batchObserverAdapter{s.cfg.Observer}

	var wg sync.WaitGroup
	errs := make(chan error, n+1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		proc.Run(func() {})
		errs <- fmt.Errorf("orchestrator: batch processor exited")
	}()

	for i := 0; i < n; i++ {
		listener, err := createListener(s.cfg.Port)
		if err != nil {
			errs <- fmt.Errorf("orchestrator: listener %d: %w", i, err)
			continue
		}

		reqArena := s.reqArena
		if i > 0 {
			reqArena = arena.New(constants.BufferPoolCapacity)
		}

		thread := &ioengine.IoThread{
			ThreadID:     uint8(i),
			ListenFD:     listener,
			Producer:     s.reqRing,
			ResponseRing: responseRings[i],
			EventFD:      eventFDs[i],
			RequestArena: reqArena,
			Observer:     ioObserverAdapter{s.cfg.Observer},
		}
		affinity := s.cfg.CPUAffinity

		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			if len(affinity) > 0 {
				cpuIdx := affinity[id%len(affinity)]
				var mask unix.CPUSet
				mask.Set(cpuIdx)
				if err := unix.SchedSetaffinity(0, &mask); err != nil {
					logger.Warn("failed to set IO thread CPU affinity", "thread", id, "cpu", cpuIdx, "error", err)
				}
			}

			kernelRing, err := ioengine.NewRing(constants.DisruptorSize)
			if err != nil {
				errs <- fmt.Errorf("orchestrator: io thread %d ring: %w", id, err)
				return
			}
			defer kernelRing.Close()

			if err := thread.Run(kernelRing); err != nil {
				errs <- fmt.Errorf("orchestrator: io thread %d: %w", id, err)
			}
		}(i)
	}

	logger.Info("vecpipe ready")

	err := <-errs
	return err
}

// createListener binds a nonblocking, SO_REUSEPORT, TCP_NODELAY listener
// on port, so every IO thread can independently accept() on the same
// port with the kernel load-balancing connections across them.
func createListener(port uint16) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	addr := unix.SockaddrInet4{Port: int(port)}
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, 1024); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// batchObserverAdapter satisfies internal/batch.Observer. Poll-cycle
// counters have no root Metrics analog (the original's metrics module,
// mirrored exactly in metrics.go, never tracked them either), so those
// two are no-ops here; only occupancy is forwarded.
type batchObserverAdapter struct{ o Observer }

func (a batchObserverAdapter) IncPollEvents()   {}
func (a batchObserverAdapter) IncPollNoEvents() {}
func (a batchObserverAdapter) DecReqOcc()       { a.o.ObserveReqOccDelta(-1) }

// ioObserverAdapter satisfies internal/ioengine.Observer.
type ioObserverAdapter struct{ o Observer }

func (a ioObserverAdapter) IncReqOcc()            { a.o.ObserveReqOccDelta(1) }
func (a ioObserverAdapter) IncRequestsPublished() { a.o.ObserveRequestParsed() }
func (a ioObserverAdapter) IncConnsAccepted()     { a.o.ObserveConnAccepted() }
func (a ioObserverAdapter) IncConnsClosed()       { a.o.ObserveConnClosed() }
func (a ioObserverAdapter) DecRespOcc()           { a.o.ObserveRespOccDelta(-1) }
func (a ioObserverAdapter) IncResponsesSent()     {}
