// internal/producer/producer.go
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"distributed-matmul/internal/domain"
	"distributed-matmul/internal/metrics"
	"distributed-matmul/internal/wire"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Options tunes how tasks are spawned and how long they wait.
type Options struct {
	// Concurrency bounds the number of tasks in flight. Zero runs one goroutine per cell.
	Concurrency int
	// TaskDelay is slept between spawning consecutive tasks.
	TaskDelay time.Duration
	// ResponseTimeout bounds each task's wait for a response. Zero waits forever.
	ResponseTimeout time.Duration
	// MaxInnerDim is the largest inner dimension a request may carry.
	MaxInnerDim int
}

// Result is the outcome of one multiplication.
type Result struct {
	RunID   string
	Matrix  *domain.Matrix
	Jobs    int
	Failed  []error
	Missing []domain.Cell
}

// Complete reports whether every output cell received a value.
func (r *Result) Complete() bool {
	return len(r.Missing) == 0
}

// Err joins the per-task failures, or returns nil if the run was complete.
func (r *Result) Err() error {
	if len(r.Failed) == 0 && len(r.Missing) == 0 {
		return nil
	}
	errs := append([]error(nil), r.Failed...)
	if len(r.Missing) > 0 {
		errs = append(errs, fmt.Errorf("%d of %d cells missing", len(r.Missing), r.Matrix.Rows*r.Matrix.Cols))
	}
	return errors.Join(errs...)
}

// Producer splits a product into one task per output cell and collects the answers.
type Producer struct {
	channel  domain.JobChannel
	counters *metrics.Counters
	opts     Options
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates a producer sending on ch.
func New(ch domain.JobChannel, counters *metrics.Counters, opts Options, logger *slog.Logger) *Producer {
	if opts.MaxInnerDim <= 0 {
		opts.MaxInnerDim = domain.DefaultMaxInnerDim
	}
	return &Producer{
		channel:  ch,
		counters: counters,
		opts:     opts,
		logger:   logger.With("component", "producer"),
		tracer:   otel.Tracer("distributed-matmul-producer"),
	}
}

// Run computes a*b. Dimension errors are returned before any task starts.
// Per-task failures do not stop the run; they are reported in the Result.
func (p *Producer) Run(ctx context.Context, a, b *domain.Matrix) (*Result, error) {
	if err := domain.CheckConformable(a, b); err != nil {
		return nil, err
	}
	if a.Cols > p.opts.MaxInnerDim {
		return nil, fmt.Errorf("%w: %d > %d", domain.ErrInnerDimTooLarge, a.Cols, p.opts.MaxInnerDim)
	}

	runID := uuid.NewString()
	ctx, span := p.tracer.Start(ctx, "producer.Run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int("matrix.rows", a.Rows),
		attribute.Int("matrix.inner", a.Cols),
		attribute.Int("matrix.cols", b.Cols),
	))
	defer span.End()

	out, err := domain.NewMatrix(a.Rows, b.Cols)
	if err != nil {
		return nil, err
	}
	total := a.Rows * b.Cols
	limit := p.opts.Concurrency
	if limit <= 0 || limit > total {
		limit = total
	}

	logger := p.logger.With("run_id", runID)
	logger.Info("starting multiplication", "rows", a.Rows, "inner", a.Cols, "cols", b.Cols, "tasks", total, "concurrency", limit)

	cur := newCursor(a.Rows, b.Cols)
	col := newCollector(out)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []error
	)
	sem := make(chan struct{}, limit)

	var spawnErr error
spawn:
	for i := 0; i < total; i++ {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			spawnErr = ctx.Err()
			break spawn
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := p.runTask(ctx, a, b, cur, col, logger); err != nil {
				mu.Lock()
				failed = append(failed, err)
				mu.Unlock()
			}
		}()

		if p.opts.TaskDelay > 0 && i < total-1 {
			select {
			case <-time.After(p.opts.TaskDelay):
			case <-ctx.Done():
				spawnErr = ctx.Err()
				break spawn
			}
		}
	}
	wg.Wait()

	result := &Result{
		RunID:   runID,
		Matrix:  out,
		Jobs:    cur.claimed(),
		Failed:  failed,
		Missing: col.missing(),
	}
	span.SetAttributes(attribute.Int("run.jobs", result.Jobs), attribute.Int("run.missing", len(result.Missing)))
	if !result.Complete() {
		span.SetStatus(codes.Error, "multiplication incomplete")
		logger.Warn("multiplication finished with missing cells", "jobs", result.Jobs, "failed", len(failed), "missing", len(result.Missing))
	} else {
		logger.Info("multiplication finished", "jobs", result.Jobs)
	}
	if spawnErr != nil {
		span.RecordError(spawnErr)
		return result, fmt.Errorf("multiplication interrupted: %w", spawnErr)
	}
	return result, nil
}

// runTask performs one request/response round-trip. The response received may
// belong to any task; it is written to the cell it names.
func (p *Producer) runTask(ctx context.Context, a, b *domain.Matrix, cur *cursor, col *collector, logger *slog.Logger) error {
	cell, jobID, ok := cur.next()
	if !ok {
		return nil
	}

	ctx, span := p.tracer.Start(ctx, "producer.task", trace.WithAttributes(
		attribute.Int("job.id", jobID),
		attribute.Int("cell.row", cell.Row),
		attribute.Int("cell.col", cell.Col),
	))
	defer span.End()

	fail := func(reason string, err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		metrics.TaskFailuresTotal.WithLabelValues(metrics.RoleProducer, reason).Inc()
		logger.Error("task aborted", "job_id", jobID, "cell", cell.String(), "reason", reason, "error", err)
		return fmt.Errorf("job %d %s: %w", jobID, cell, err)
	}

	req, err := domain.NewRequest(jobID, cell.Row, cell.Col, a.Row(cell.Row), b.Column(cell.Col), p.opts.MaxInnerDim)
	if err != nil {
		return fail("invalid_request", err)
	}
	if err := p.channel.Send(ctx, req); err != nil {
		return fail("send", err)
	}
	p.counters.IncSent()
	logger.Debug("sent request", "job_id", jobID, "type", req.Type.String(), "size", wire.Size(req))

	recvCtx := ctx
	if p.opts.ResponseTimeout > 0 {
		var cancel context.CancelFunc
		recvCtx, cancel = context.WithTimeout(ctx, p.opts.ResponseTimeout)
		defer cancel()
	}
	resp, err := p.channel.Receive(recvCtx, domain.MessageTypeResponse)
	if err != nil {
		var timeout *domain.TimeoutError
		if errors.As(err, &timeout) {
			return fail("timeout", err)
		}
		return fail("receive", err)
	}
	p.counters.IncReceived()
	logger.Debug("received response", "job_id", resp.JobID, "type", resp.Type.String(), "size", wire.Size(resp))

	if err := col.store(resp); err != nil {
		return fail("unexpected_response", err)
	}
	return nil
}
