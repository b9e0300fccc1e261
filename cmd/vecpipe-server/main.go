// Command vecpipe-server runs the vector-sum inference pipeline: one or
// more SO_REUSEPORT IO threads accept connections and parse requests, a
// single batch processor computes responses, and responses flow back out
// over the same IO threads.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vecpipe/vecpipe"
	"github.com/vecpipe/vecpipe/internal/logging"
)

func main() {
	var (
		port            uint16
		ioThreads       int
		verbose         bool
		metricsInterval time.Duration
	)

	root := &cobra.Command{
		Use:   "vecpipe-server",
		Short: "Serve vector-sum inference requests over TCP",
		RunE: func(cmd *cobra.Command, args []string) error {
			logConfig := logging.DefaultConfig()
			if verbose {
				logConfig.Level = logging.LevelDebug
			}
			logger := logging.NewLogger(logConfig)
			logging.SetDefault(logger)
			defer logger.Sync()

			cfg := vecpipe.DefaultConfig()
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("io-threads") {
				cfg.IOThreads = ioThreads
			}

			metrics := vecpipe.NewMetrics()
			cfg.Observer = vecpipe.NewMetricsObserver(metrics)

			server, err := vecpipe.NewServer(cfg)
			if err != nil {
				return fmt.Errorf("vecpipe-server: %w", err)
			}

			if metricsInterval > 0 {
				go reportMetrics(metrics, metricsInterval, logger)
			}

			fmt.Printf("vecpipe: %d IO threads, port %d\n", cfg.IOThreads, cfg.Port)
			fmt.Printf("Send SIGUSR1 (kill -USR1 %d) to dump goroutine stacks\n", os.Getpid())

			stackDumpCh := make(chan os.Signal, 1)
			signal.Notify(stackDumpCh, syscall.SIGUSR1)
			go func() {
				for range stackDumpCh {
					dumpStacks(logger)
				}
			}()

			errCh := make(chan error, 1)
			go func() { errCh <- server.Run() }()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case <-sigCh:
				logger.Info("received shutdown signal")
				return nil
			}
		},
	}

	root.Flags().Uint16Var(&port, "port", 9900, "TCP port to listen on")
	root.Flags().IntVar(&ioThreads, "io-threads", 0, "number of IO threads (default: NumCPU-1)")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.Flags().DurationVar(&metricsInterval, "metrics-interval", 0, "periodic metrics log interval (0 disables)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func reportMetrics(m *vecpipe.Metrics, interval time.Duration, logger *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		s := m.Snapshot()
		logger.Info("metrics",
			"req_ring_full", s.ReqRingFull,
			"resp_ring_full", s.RespRingFull,
			"req_occ", s.ReqOcc,
			"resp_occ", s.RespOcc,
			"req_max_occ", s.ReqMaxOcc,
			"resp_max_occ", s.RespMaxOcc,
			"pool_exhausted", s.PoolExhausted,
			"pool_too_large", s.PoolTooLarge,
			"pool_max_in_use", s.PoolMaxInUse,
			"conns_accepted", s.ConnsAccepted,
			"conns_closed", s.ConnsClosed,
			"requests_parsed", s.RequestsParsed,
			"parse_errors", s.ParseErrors,
		)
	}
}

func dumpStacks(logger *logging.Logger) {
	logger.Info("goroutine stack dump requested")
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	filename := fmt.Sprintf("vecpipe-stacks-%d.txt", time.Now().Unix())
	if f, err := os.Create(filename); err == nil {
		fmt.Fprintf(f, "Process ID: %d\n\n", os.Getpid())
		f.Write(buf[:n])
		fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
		pprof.Lookup("goroutine").WriteTo(f, 2)
		f.Close()
		logger.Info("stack trace written to file", "file", filename)
	}
}
