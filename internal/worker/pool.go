// internal/worker/pool.go
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"distributed-matmul/internal/domain"
	"distributed-matmul/internal/metrics"
	"distributed-matmul/internal/wire"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PoolOptions configures a worker pool.
type PoolOptions struct {
	Size        int
	Verbose     bool
	MaxInnerDim int
}

// Pool runs a fixed number of fungible compute loops against a job channel.
type Pool struct {
	channel  domain.JobChannel
	counters *metrics.Counters
	opts     PoolOptions
	logger   *slog.Logger
	tracer   trace.Tracer
	wg       sync.WaitGroup
	alive    atomic.Int32
}

// NewPool creates a pool; call Start to launch it.
func NewPool(ch domain.JobChannel, counters *metrics.Counters, opts PoolOptions, logger *slog.Logger) *Pool {
	if opts.MaxInnerDim <= 0 {
		opts.MaxInnerDim = domain.DefaultMaxInnerDim
	}
	return &Pool{
		channel:  ch,
		counters: counters,
		opts:     opts,
		logger:   logger.With("component", "worker-pool"),
		tracer:   otel.Tracer("distributed-matmul-worker"),
	}
}

// Start launches the workers. They run until ctx is canceled or their receive fails.
func (p *Pool) Start(ctx context.Context) error {
	if p.opts.Size <= 0 {
		return fmt.Errorf("worker pool size must be positive, got %d", p.opts.Size)
	}
	for i := 0; i < p.opts.Size; i++ {
		p.wg.Add(1)
		p.alive.Add(1)
		metrics.WorkersAlive.Inc()
		go p.run(ctx, i)
	}
	p.logger.Info("worker pool started", "size", p.opts.Size)
	return nil
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Alive returns the number of workers still looping.
func (p *Pool) Alive() int {
	return int(p.alive.Load())
}

func (p *Pool) run(ctx context.Context, id int) {
	logger := p.logger.With("worker", id)
	defer func() {
		p.alive.Add(-1)
		metrics.WorkersAlive.Dec()
		p.wg.Done()
	}()

	for {
		req, err := p.channel.Receive(ctx, domain.MessageTypeRequest)
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("worker stopping")
				return
			}
			metrics.TaskFailuresTotal.WithLabelValues(metrics.RoleWorker, "receive").Inc()
			logger.Error("could not receive request, worker exiting", "error", err)
			return
		}
		p.counters.IncReceived()
		logger.Debug("received request", "job_id", req.JobID, "type", req.Type.String(), "size", wire.Size(req))

		p.handle(ctx, req, logger)
	}
}

// handle computes one dot product and sends the answer. A failed send drops
// the result; the job is not retried.
func (p *Pool) handle(ctx context.Context, req *domain.Message, logger *slog.Logger) {
	ctx, span := p.tracer.Start(ctx, "worker.compute", trace.WithAttributes(
		attribute.Int("job.id", req.JobID),
		attribute.Int("cell.row", req.Row),
		attribute.Int("cell.col", req.Col),
		attribute.Int("job.inner_dim", req.InnerDim),
	))
	defer span.End()

	if req.Type != domain.MessageTypeRequest {
		err := fmt.Errorf("%w: expected request, got %s", domain.ErrInvalidMessage, req.Type)
		p.drop(span, logger, req, "invalid_request", err)
		return
	}
	if err := req.Validate(p.opts.MaxInnerDim); err != nil {
		p.drop(span, logger, req, "invalid_request", err)
		return
	}

	sum := req.DotProduct()
	resp := domain.NewResponse(req, sum)

	if err := p.channel.Send(ctx, resp); err != nil {
		p.drop(span, logger, req, "send", err)
		return
	}
	p.counters.IncSent()

	if p.opts.Verbose {
		logger.Info("computed cell", "row", resp.Row, "col", resp.Col, "sum", sum)
	} else {
		logger.Info("sent response", "job_id", resp.JobID, "type", resp.Type.String(), "size", wire.Size(resp))
	}
}

func (p *Pool) drop(span trace.Span, logger *slog.Logger, req *domain.Message, reason string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, reason)
	metrics.TaskFailuresTotal.WithLabelValues(metrics.RoleWorker, reason).Inc()
	logger.Error("dropping job", "job_id", req.JobID, "reason", reason, "error", err)
}
