package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"distributed-matmul/internal/channel"
	"distributed-matmul/internal/domain"
	"distributed-matmul/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPoolAnswersRequests(t *testing.T) {
	ch := channel.New(16, domain.DefaultMaxInnerDim)
	counters := metrics.NewCounters(metrics.RoleWorker)
	pool := NewPool(ch, counters, PoolOptions{Size: 3}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	want := map[domain.Cell]int{}
	for j := 0; j < 5; j++ {
		a := []int{j, 1, 2}
		b := []int{3, j, 4}
		req, err := domain.NewRequest(j, 0, j, a, b, domain.DefaultMaxInnerDim)
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		want[req.Cell()] = 3*j + j + 8
		if err := ch.Send(ctx, req); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	recvCtx, recvCancel := context.WithTimeout(ctx, 2*time.Second)
	defer recvCancel()
	for i := 0; i < 5; i++ {
		resp, err := ch.Receive(recvCtx, domain.MessageTypeResponse)
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		if got, ok := want[resp.Cell()]; !ok || got != resp.Sum() {
			t.Errorf("cell %s: got %d, want %d", resp.Cell(), resp.Sum(), got)
		}
		delete(want, resp.Cell())
	}

	cancel()
	pool.Wait()
	snap := counters.Snapshot()
	if snap.Received != 5 || snap.Sent != 5 {
		t.Errorf("expected 5 received and 5 sent, got %+v", snap)
	}
}

func TestPoolDropsMalformedRequests(t *testing.T) {
	ch := channel.New(4, domain.DefaultMaxInnerDim)
	pool := NewPool(ch, metrics.NewCounters(metrics.RoleWorker), PoolOptions{Size: 1, MaxInnerDim: 2}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Accepted by the channel (limit 50) but over the pool's limit of 2.
	tooWide, _ := domain.NewRequest(0, 0, 0, []int{1, 1, 1}, []int{1, 1, 1}, domain.DefaultMaxInnerDim)
	ok, _ := domain.NewRequest(1, 0, 1, []int{2}, []int{3}, domain.DefaultMaxInnerDim)
	for _, msg := range []*domain.Message{tooWide, ok} {
		if err := ch.Send(ctx, msg); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	recvCtx, recvCancel := context.WithTimeout(ctx, 2*time.Second)
	defer recvCancel()
	resp, err := ch.Receive(recvCtx, domain.MessageTypeResponse)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if resp.JobID != 1 || resp.Sum() != 6 {
		t.Errorf("expected job 1 with sum 6, got job %d sum %d", resp.JobID, resp.Sum())
	}
	if n := ch.Len(domain.MessageTypeResponse); n != 0 {
		t.Errorf("malformed request should not be answered, %d extra responses", n)
	}
	if pool.Alive() != 1 {
		t.Errorf("dropping a job must not stop the worker")
	}
}

func TestWorkersExitWhenChannelFails(t *testing.T) {
	ch := channel.New(1, domain.DefaultMaxInnerDim)
	pool := NewPool(ch, metrics.NewCounters(metrics.RoleWorker), PoolOptions{Size: 2}, discardLogger())
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ch.Close()

	done := make(chan struct{})
	go func() {
		pool.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not exit after the channel closed")
	}
	if pool.Alive() != 0 {
		t.Errorf("expected no live workers, got %d", pool.Alive())
	}
}

func TestStartRejectsEmptyPool(t *testing.T) {
	pool := NewPool(channel.New(1, 1), metrics.NewCounters(metrics.RoleWorker), PoolOptions{}, discardLogger())
	if err := pool.Start(context.Background()); err == nil {
		t.Error("expected an error for a zero-size pool")
	}
}
