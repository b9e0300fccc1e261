// Command vecpipe-bench drives load against a running vecpipe-server: it
// opens a configurable number of connections, each sending one
// fixed-size-vector request and waiting for its response before sending
// the next, and reports the request count, error count, and throughput
// once the run duration elapses. It does not pipeline requests and does
// not measure latency.
package main

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/vecpipe/vecpipe/internal/constants"
)

func main() {
	var (
		addr        string
		connections int
		duration    time.Duration
		numVectors  int
		seed        int64
	)

	root := &cobra.Command{
		Use:   "vecpipe-bench",
		Short: "Load-generate requests against a vecpipe-server instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			if numVectors < 1 || numVectors > constants.MaxVectorsPerRequest {
				return fmt.Errorf("vecpipe-bench: vectors must be in [1,%d]", constants.MaxVectorsPerRequest)
			}

			var totalRequests int64
			var totalErrors int64
			stop := make(chan struct{})

			var wg sync.WaitGroup
			for i := 0; i < connections; i++ {
				wg.Add(1)
				go func(id int) {
					defer wg.Done()
					runConnection(addr, numVectors, seed+int64(id), stop, &totalRequests, &totalErrors)
				}(i)
			}

			time.Sleep(duration)
			close(stop)
			wg.Wait()

			rate := float64(atomic.LoadInt64(&totalRequests)) / duration.Seconds()
			fmt.Printf("requests=%d errors=%d rate=%.1f req/s\n",
				atomic.LoadInt64(&totalRequests), atomic.LoadInt64(&totalErrors), rate)
			return nil
		},
	}

	root.Flags().StringVar(&addr, "addr", "127.0.0.1:9900", "server address")
	root.Flags().IntVar(&connections, "connections", 4, "number of concurrent connections")
	root.Flags().DurationVar(&duration, "duration", 5*time.Second, "benchmark run duration")
	root.Flags().IntVar(&numVectors, "vectors", 1, "vectors per request")
	root.Flags().Int64Var(&seed, "seed", 1, "base random seed (offset per connection)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runConnection(addr string, numVectors int, seed int64, stop <-chan struct{}, totalRequests, totalErrors *int64) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		atomic.AddInt64(totalErrors, 1)
		return
	}
	defer conn.Close()

	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	rng := rand.New(rand.NewSource(seed))
	req := encodeRequest(numVectors, rng)
	respBuf := make([]byte, 1+constants.MaxVectorsPerRequest*4)

	for {
		select {
		case <-stop:
			return
		default:
		}

		if _, err := conn.Write(req); err != nil {
			atomic.AddInt64(totalErrors, 1)
			return
		}
		if err := readResponse(conn, respBuf); err != nil {
			atomic.AddInt64(totalErrors, 1)
			return
		}
		atomic.AddInt64(totalRequests, 1)
	}
}

func encodeRequest(numVectors int, rng *rand.Rand) []byte {
	buf := make([]byte, 4+numVectors*constants.FeatureDim*4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(numVectors))
	off := 4
	for i := 0; i < numVectors*constants.FeatureDim; i++ {
		binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(rng.Float32()))
		off += 4
	}
	return buf
}

func readResponse(conn net.Conn, buf []byte) error {
	if _, err := readFull(conn, buf[:1]); err != nil {
		return err
	}
	n := int(buf[0])
	if n == 0 {
		return nil
	}
	_, err := readFull(conn, buf[1:1+n*4])
	return err
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
