// cmd/producer/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	http_api "distributed-matmul/internal/api/http"
	"distributed-matmul/internal/channel"
	"distributed-matmul/internal/config"
	"distributed-matmul/internal/domain"
	"distributed-matmul/internal/infra/etcd"
	"distributed-matmul/internal/infra/rpc"
	"distributed-matmul/internal/matrixio"
	"distributed-matmul/internal/metrics"
	"distributed-matmul/internal/producer"
	"distributed-matmul/internal/scheduler"
	"distributed-matmul/internal/tracing"
	"distributed-matmul/internal/worker"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:          "producer <matrixFileA> <matrixFileB> <outputFile> [interTaskDelaySeconds]",
		Short:        "Multiply two matrices by handing one dot product per cell to the workers",
		Args:         cobra.RangeArgs(3, 4),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configFile, cmd.Flags(), args)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "config file (default ./configs/config.yaml or ./config.yaml)")
	cmd.Flags().String("transport", "", "job channel transport: memory, grpc or etcd")
	cmd.Flags().String("grpc_addr", "", "address of the worker's job channel broker")
	cmd.Flags().String("channel_key", "", "etcd channel key shared with the workers")
	cmd.Flags().String("log_level", "", "log level: debug, info, warn or error")
	return cmd
}

func parseDelay(args []string) (time.Duration, error) {
	if len(args) < 4 {
		return 0, nil
	}
	secs, err := strconv.Atoi(args[3])
	if err != nil || secs < 0 {
		return 0, fmt.Errorf("interTaskDelaySeconds must be a non-negative integer, got %q", args[3])
	}
	return time.Duration(secs) * time.Second, nil
}

func run(ctx context.Context, configFile string, flags *pflag.FlagSet, args []string) error {
	delay, err := parseDelay(args)
	if err != nil {
		return err
	}

	// 1. Load configuration, then init logger and tracer. Standard output
	// carries the result matrix, so logs and spans go to standard error.
	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	tracerShutdown, err := tracing.InitTracer(tracing.Options{
		ServiceName: "distributed-matmul-producer",
		Writer:      os.Stderr,
		Enabled:     cfg.TracingEnabled,
		SampleRatio: cfg.TraceSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Printf("failed to shutdown tracer: %v", err)
		}
	}()

	// 2. Read and check the operands before touching the transport.
	a, err := matrixio.ReadFile(args[0])
	if err != nil {
		return err
	}
	b, err := matrixio.ReadFile(args[1])
	if err != nil {
		return err
	}
	if err := domain.CheckConformable(a, b); err != nil {
		return err
	}
	if a.Cols > cfg.MaxInnerDim {
		return fmt.Errorf("%w: %d > %d", domain.ErrInnerDimTooLarge, a.Cols, cfg.MaxInnerDim)
	}

	// 3. Root context for lifecycle management.
	if ctx == nil {
		ctx = context.Background()
	}
	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	setupGracefulShutdown(cancel)

	// 4. Open the job channel.
	counters := metrics.NewCounters(metrics.RoleProducer)
	tr, err := openTransport(rootCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer tr.close()

	// 5. Diagnostics: /stats, /metrics and the periodic reporter.
	sources := append([]*metrics.Counters{counters}, tr.extraCounters...)
	stopDiagnostics, err := startDiagnostics(rootCtx, cfg.Producer.HttpListenAddr, cfg.StatsSchedule, tr.alive, sources, logger)
	if err != nil {
		return err
	}
	defer stopDiagnostics()

	// 6. Multiply.
	p := producer.New(tr.channel, counters, producer.Options{
		Concurrency:     cfg.Producer.Concurrency,
		TaskDelay:       delay,
		ResponseTimeout: cfg.Producer.ResponseTimeout,
		MaxInnerDim:     cfg.MaxInnerDim,
	}, logger)

	result, err := p.Run(rootCtx, a, b)
	if err != nil {
		return err
	}

	// 7. Report.
	if err := matrixio.Print(os.Stdout, result.Matrix); err != nil {
		return fmt.Errorf("failed to print result: %w", err)
	}
	if err := matrixio.WriteFile(args[2], result.Matrix); err != nil {
		return err
	}
	snap := counters.Snapshot()
	logger.Info("producer finished", "run_id", result.RunID, "jobs_sent", snap.Sent, "jobs_received", snap.Received)

	if err := result.Err(); err != nil {
		return fmt.Errorf("run %s incomplete: %w", result.RunID, err)
	}
	return nil
}

// transport is an open job channel plus whatever hosts or guards it.
type transport struct {
	channel       domain.JobChannel
	alive         func() int
	extraCounters []*metrics.Counters
	closers       []func()
}

func (t *transport) close() {
	for i := len(t.closers) - 1; i >= 0; i-- {
		t.closers[i]()
	}
}

func openTransport(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*transport, error) {
	switch cfg.Transport {
	case config.TransportMemory:
		return openMemory(ctx, cfg, logger)
	case config.TransportGRPC:
		client, err := rpc.Dial(cfg.GrpcAddr, cfg.MaxInnerDim)
		if err != nil {
			return nil, fmt.Errorf("failed to open job channel at %s: %w", cfg.GrpcAddr, err)
		}
		readyCtx, readyCancel := withOptionalTimeout(ctx, cfg.DiscoveryTimeout)
		defer readyCancel()
		if err := client.WaitReady(readyCtx); err != nil {
			client.Close()
			return nil, err
		}
		logger.Info("job channel ready", "transport", cfg.Transport, "addr", cfg.GrpcAddr)
		return &transport{channel: client, closers: []func(){func() { client.Close() }}}, nil
	case config.TransportEtcd:
		return openEtcd(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// openMemory runs the worker pool inside this process.
func openMemory(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*transport, error) {
	ch := channel.New(cfg.ChannelCapacity, cfg.MaxInnerDim)
	workerCounters := metrics.NewCounters(metrics.RoleWorker)
	pool := worker.NewPool(ch, workerCounters, worker.PoolOptions{
		Size:        cfg.Worker.PoolSize,
		MaxInnerDim: cfg.MaxInnerDim,
	}, logger)
	if err := pool.Start(ctx); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to start worker pool: %w", err)
	}
	logger.Info("job channel ready", "transport", cfg.Transport, "workers", cfg.Worker.PoolSize)

	return &transport{
		channel:       ch,
		alive:         pool.Alive,
		extraCounters: []*metrics.Counters{workerCounters},
		closers: []func(){func() {
			ch.Close()
			pool.Wait()
		}},
	}, nil
}

// openEtcd takes the producer lock for the channel key, clears what a
// previous run left behind and waits until a worker is registered.
func openEtcd(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*transport, error) {
	client, err := etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	tr := &transport{closers: []func(){func() { client.Close() }}}

	lockCtx, lockCancel := withOptionalTimeout(ctx, cfg.DiscoveryTimeout)
	defer lockCancel()
	lock, err := etcd.NewEtcdLocker(client, int(cfg.WorkerLeaseTTL.Seconds()), logger).Lock(lockCtx, etcd.ProducerLockKey(cfg.ChannelKey))
	if err != nil {
		tr.close()
		return nil, fmt.Errorf("channel %q is busy: %w", cfg.ChannelKey, err)
	}
	tr.closers = append(tr.closers, func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), cfg.EtcdTimeout)
		defer cancel()
		if err := lock.Unlock(unlockCtx); err != nil {
			logger.Error("failed to release producer lock", "error", err)
		}
	})

	jc := etcd.NewJobChannel(client, cfg.ChannelKey, cfg.MaxInnerDim, logger)
	for _, t := range []domain.MessageType{domain.MessageTypeRequest, domain.MessageTypeResponse} {
		n, err := jc.Purge(ctx, t)
		if err != nil {
			tr.close()
			return nil, err
		}
		if n > 0 {
			logger.Warn("purged stale messages", "type", t.String(), "count", n)
		}
	}
	tr.channel = jc

	discovery := etcd.NewWorkerDiscovery(client, cfg.ChannelKey, logger)
	watchCtx, stopWatch := context.WithCancel(ctx)
	tr.closers = append(tr.closers, stopWatch)
	go func() {
		if err := discovery.WatchWorkers(watchCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("worker discovery stopped", "error", err)
		}
	}()
	tr.alive = discovery.Count

	waitCtx, waitCancel := withOptionalTimeout(ctx, cfg.DiscoveryTimeout)
	defer waitCancel()
	n, err := discovery.WaitForWorkers(waitCtx)
	if err != nil {
		tr.close()
		return nil, fmt.Errorf("no workers serving channel %q: %w", cfg.ChannelKey, err)
	}
	logger.Info("job channel ready", "transport", cfg.Transport, "channel_key", cfg.ChannelKey, "workers", n)
	return tr, nil
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func startDiagnostics(ctx context.Context, addr, schedule string, alive func() int, counters []*metrics.Counters, logger *slog.Logger) (func(), error) {
	statsSources := make([]http_api.StatsSource, 0, len(counters))
	reportSources := make([]scheduler.Source, 0, len(counters))
	for _, c := range counters {
		statsSources = append(statsSources, c)
		reportSources = append(reportSources, c)
	}

	handler := http_api.NewStatsHandler(logger, statsSources...)
	if alive != nil {
		handler.WithWorkers(alive)
	}
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	server := &http.Server{Addr: addr, Handler: mux}
	if addr != "" {
		logger.Info("starting HTTP diagnostics server", "addr", addr)
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server failed", "error", err)
			}
		}()
	}

	reportCtx, stopReporter := context.WithCancel(ctx)
	if schedule != "" {
		reporter, err := scheduler.NewStatsReporter(schedule, logger, reportSources...)
		if err != nil {
			stopReporter()
			return nil, err
		}
		go reporter.Start(reportCtx)
	}

	return func() {
		stopReporter()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", "error", err)
		}
	}, nil
}

func setupGracefulShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v. Initiating graceful shutdown...", sig)
		cancel()
	}()
}
