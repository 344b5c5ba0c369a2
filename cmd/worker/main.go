// cmd/worker/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	http_api "distributed-matmul/internal/api/http"
	"distributed-matmul/internal/channel"
	"distributed-matmul/internal/config"
	"distributed-matmul/internal/domain"
	"distributed-matmul/internal/infra/etcd"
	"distributed-matmul/internal/infra/rpc"
	"distributed-matmul/internal/metrics"
	"distributed-matmul/internal/scheduler"
	"distributed-matmul/internal/tracing"
	"distributed-matmul/internal/worker"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	otelgrpc "go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configFile string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:          "worker <workerPoolSize> [-n]",
		Short:        "Answer dot-product requests from the job channel with a pool of workers",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("workerPoolSize must be a number, got %q", args[0])
			}
			if size <= 0 {
				return fmt.Errorf("workerPoolSize must be positive, got %d", size)
			}
			return run(configFile, cmd.Flags(), size, verbose)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "n", false, "log every computed cell")
	cmd.Flags().StringVar(&configFile, "config", "", "config file (default ./configs/config.yaml or ./config.yaml)")
	cmd.Flags().String("transport", "", "job channel transport: grpc or etcd")
	cmd.Flags().String("grpc_listen_addr", "", "listen address of the job channel broker")
	cmd.Flags().String("channel_key", "", "etcd channel key shared with the producer")
	cmd.Flags().String("log_level", "", "log level: debug, info, warn or error")
	return cmd
}

func run(configFile string, flags *pflag.FlagSet, poolSize int, verbose bool) error {
	// 1. Load configuration, init logger and tracer.
	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	nodeID := uuid.New().String()
	tracerShutdown, err := tracing.InitTracer(tracing.Options{
		ServiceName: "distributed-matmul-worker",
		InstanceID:  nodeID,
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

	logger = logger.With("node_id", nodeID)
	logger.Info("starting worker node", "transport", cfg.Transport, "pool_size", poolSize)

	// 2. Root context for lifecycle management.
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupGracefulShutdown(cancel)

	// 3. Open the job channel this node serves.
	var (
		ch      domain.JobChannel
		cleanup []func()
	)
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	switch cfg.Transport {
	case config.TransportGRPC:
		local := channel.New(cfg.ChannelCapacity, cfg.MaxInnerDim)
		ch = local

		lis, err := net.Listen("tcp", cfg.GrpcListenAddr)
		if err != nil {
			return fmt.Errorf("failed to listen for gRPC: %w", err)
		}
		grpcServer := grpc.NewServer(
			grpc.StatsHandler(otelgrpc.NewServerHandler()),
		)
		rpc.RegisterJobChannelServer(grpcServer, worker.NewServer(local, cfg.MaxInnerDim, logger))

		logger.Info("gRPC job channel listening", "addr", cfg.GrpcListenAddr)
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server failed", "error", err)
				cancel()
			}
		}()
		cleanup = append(cleanup, func() {
			// Wake broker receives still waiting on the local queue.
			local.Close()
			grpcServer.GracefulStop()
		})

	case config.TransportEtcd:
		client, err := etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
		if err != nil {
			return fmt.Errorf("failed to create etcd client: %w", err)
		}
		cleanup = append(cleanup, func() { client.Close() })
		logger.Info("connected to etcd", "endpoints", cfg.EtcdEndpoints)

		ch = etcd.NewJobChannel(client, cfg.ChannelKey, cfg.MaxInnerDim, logger)

		registry := worker.NewRegistry(client, cfg.ChannelKey, nodeID, logger)
		regCtx, regCancel := context.WithTimeout(rootCtx, cfg.EtcdTimeout)
		err = registry.Register(regCtx, strconv.Itoa(poolSize), int64(cfg.WorkerLeaseTTL.Seconds()))
		regCancel()
		if err != nil {
			return fmt.Errorf("failed to register worker: %w", err)
		}
		cleanup = append(cleanup, func() {
			deregCtx, deregCancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer deregCancel()
			if err := registry.Deregister(deregCtx); err != nil {
				logger.Error("failed to deregister worker", "error", err)
			}
		})

	default:
		return fmt.Errorf("transport %q cannot serve a standalone worker; use grpc or etcd", cfg.Transport)
	}

	// 4. Start the pool.
	counters := metrics.NewCounters(metrics.RoleWorker)
	pool := worker.NewPool(ch, counters, worker.PoolOptions{
		Size:        poolSize,
		Verbose:     verbose,
		MaxInnerDim: cfg.MaxInnerDim,
	}, logger)
	if err := pool.Start(rootCtx); err != nil {
		return err
	}
	var exhausted atomic.Bool
	go func() {
		pool.Wait()
		if rootCtx.Err() == nil {
			logger.Error("all workers exited")
			exhausted.Store(true)
			cancel()
		}
	}()

	// 5. Diagnostics.
	handler := http_api.NewStatsHandler(logger, counters).WithWorkers(pool.Alive)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	server := &http.Server{
		Addr:    cfg.Worker.HttpListenAddr,
		Handler: mux,
	}
	if server.Addr != "" {
		logger.Info("starting HTTP diagnostics server", "addr", server.Addr)
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server failed", "error", err)
			}
		}()
	}
	if cfg.StatsSchedule != "" {
		reporter, err := scheduler.NewStatsReporter(cfg.StatsSchedule, logger, counters)
		if err != nil {
			return err
		}
		go reporter.Start(rootCtx)
	}

	// 6. Block until shutdown.
	<-rootCtx.Done()
	logger.Info("shutting down worker node gracefully")

	pool.Wait()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}

	snap := counters.Snapshot()
	logger.Info("worker node shut down", "jobs_received", snap.Received, "jobs_sent", snap.Sent)
	if exhausted.Load() {
		return errors.New("every worker exited before shutdown was requested")
	}
	return nil
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
