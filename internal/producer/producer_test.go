package producer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"distributed-matmul/internal/channel"
	"distributed-matmul/internal/domain"
	"distributed-matmul/internal/metrics"
	"distributed-matmul/internal/worker"

	"gonum.org/v1/gonum/mat"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingChannel remembers every request that was accepted.
type recordingChannel struct {
	domain.JobChannel
	mu       sync.Mutex
	requests []*domain.Message
}

func (r *recordingChannel) Send(ctx context.Context, msg *domain.Message) error {
	if err := r.JobChannel.Send(ctx, msg); err != nil {
		return err
	}
	if msg.Type == domain.MessageTypeRequest {
		r.mu.Lock()
		r.requests = append(r.requests, msg)
		r.mu.Unlock()
	}
	return nil
}

func (r *recordingChannel) jobIDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.requests))
	for _, m := range r.requests {
		ids = append(ids, m.JobID)
	}
	sort.Ints(ids)
	return ids
}

// lossyChannel refuses to send responses for the listed job ids.
type lossyChannel struct {
	domain.JobChannel
	lose map[int]bool
}

func (l *lossyChannel) Send(ctx context.Context, msg *domain.Message) error {
	if msg.Type == domain.MessageTypeResponse && l.lose[msg.JobID] {
		return &domain.SendError{Type: msg.Type, JobID: msg.JobID, Err: domain.ErrPayloadTooLarge}
	}
	return l.JobChannel.Send(ctx, msg)
}

// rejectingChannel refuses the requests of the listed job ids and counts
// response receives.
type rejectingChannel struct {
	domain.JobChannel
	reject   map[int]bool
	receives atomic.Int64
}

func (r *rejectingChannel) Send(ctx context.Context, msg *domain.Message) error {
	if msg.Type == domain.MessageTypeRequest && r.reject[msg.JobID] {
		return &domain.SendError{Type: msg.Type, JobID: msg.JobID, Err: domain.ErrChannelClosed}
	}
	return r.JobChannel.Send(ctx, msg)
}

func (r *rejectingChannel) Receive(ctx context.Context, t domain.MessageType) (*domain.Message, error) {
	r.receives.Add(1)
	return r.JobChannel.Receive(ctx, t)
}

// startPool runs a worker pool over workerSide and stops it when the test ends.
func startPool(t *testing.T, ch *channel.Channel, workerSide domain.JobChannel, size int) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	pool := worker.NewPool(workerSide, metrics.NewCounters(metrics.RoleWorker), worker.PoolOptions{Size: size}, discardLogger())
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		ch.Close()
		pool.Wait()
	})
}

func mustMatrix(t *testing.T, rows [][]int) *domain.Matrix {
	t.Helper()
	m, err := domain.MatrixFromRows(rows)
	if err != nil {
		t.Fatalf("MatrixFromRows: %v", err)
	}
	return m
}

func randomMatrix(rng *rand.Rand, rows, cols int) *domain.Matrix {
	m, _ := domain.NewMatrix(rows, cols)
	for i := range m.Data {
		for j := range m.Data[i] {
			m.Data[i][j] = rng.Intn(41) - 20
		}
	}
	return m
}

func referenceProduct(a, b *domain.Matrix) *domain.Matrix {
	toDense := func(m *domain.Matrix) *mat.Dense {
		data := make([]float64, 0, m.Rows*m.Cols)
		for _, row := range m.Data {
			for _, v := range row {
				data = append(data, float64(v))
			}
		}
		return mat.NewDense(m.Rows, m.Cols, data)
	}
	var c mat.Dense
	c.Mul(toDense(a), toDense(b))

	out, _ := domain.NewMatrix(a.Rows, b.Cols)
	for i := 0; i < out.Rows; i++ {
		for j := 0; j < out.Cols; j++ {
			out.Data[i][j] = int(c.At(i, j))
		}
	}
	return out
}

func TestRunTwoByTwo(t *testing.T) {
	ch := channel.New(16, domain.DefaultMaxInnerDim)
	startPool(t, ch, ch, 2)
	rec := &recordingChannel{JobChannel: ch}
	counters := metrics.NewCounters(metrics.RoleProducer)

	a := mustMatrix(t, [][]int{{1, 2}, {3, 4}})
	b := mustMatrix(t, [][]int{{5, 6}, {7, 8}})
	res, err := New(rec, counters, Options{}, discardLogger()).Run(context.Background(), a, b)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := res.Err(); err != nil {
		t.Fatalf("run had failures: %v", err)
	}

	want := mustMatrix(t, [][]int{{19, 22}, {43, 50}})
	if !res.Matrix.Equal(want) {
		t.Errorf("expected %v, got %v", want.Data, res.Matrix.Data)
	}
	if res.Jobs != 4 {
		t.Errorf("expected 4 jobs, got %d", res.Jobs)
	}
	ids := rec.jobIDs()
	for i, id := range ids {
		if id != i {
			t.Errorf("expected job ids {0,1,2,3}, got %v", ids)
			break
		}
	}
	for _, req := range rec.requests {
		if req.InnerDim != a.Cols {
			t.Errorf("job %d has inner dimension %d, want %d", req.JobID, req.InnerDim, a.Cols)
		}
	}
	if snap := counters.Snapshot(); snap.Sent != 4 || snap.Received != 4 {
		t.Errorf("expected 4 sent and 4 received, got %+v", snap)
	}
}

func TestRunMatchesReferenceProduct(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	tests := []struct {
		name        string
		m, n, p     int
		concurrency int
		pool        int
	}{
		{"one per cell", 6, 5, 7, 0, 4},
		{"serial producer", 4, 3, 4, 1, 2},
		{"bounded producer", 9, 50, 8, 5, 3},
		{"row vector", 1, 12, 10, 3, 1},
		{"column vector", 10, 1, 1, 0, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := channel.New(8, domain.DefaultMaxInnerDim)
			startPool(t, ch, ch, tt.pool)
			rec := &recordingChannel{JobChannel: ch}

			a := randomMatrix(rng, tt.m, tt.n)
			b := randomMatrix(rng, tt.n, tt.p)
			res, err := New(rec, metrics.NewCounters(metrics.RoleProducer), Options{Concurrency: tt.concurrency}, discardLogger()).
				Run(context.Background(), a, b)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if !res.Complete() {
				t.Fatalf("missing cells: %v", res.Missing)
			}
			if want := referenceProduct(a, b); !res.Matrix.Equal(want) {
				t.Errorf("product mismatch:\n got %v\nwant %v", res.Matrix.Data, want.Data)
			}

			claimed := map[domain.Cell]bool{}
			for _, req := range rec.requests {
				if claimed[req.Cell()] {
					t.Errorf("cell %s requested twice", req.Cell())
				}
				claimed[req.Cell()] = true
			}
			if len(claimed) != tt.m*tt.p {
				t.Errorf("expected %d distinct cells, got %d", tt.m*tt.p, len(claimed))
			}
		})
	}
}

func TestRunIsRepeatable(t *testing.T) {
	ch := channel.New(8, domain.DefaultMaxInnerDim)
	startPool(t, ch, ch, 3)
	p := New(ch, metrics.NewCounters(metrics.RoleProducer), Options{Concurrency: 4}, discardLogger())

	rng := rand.New(rand.NewSource(7))
	a := randomMatrix(rng, 5, 6)
	b := randomMatrix(rng, 6, 4)

	first, err := p.Run(context.Background(), a, b)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := p.Run(context.Background(), a, b)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !again.Matrix.Equal(first.Matrix) {
			t.Fatalf("run %d differs: %v vs %v", i, again.Matrix.Data, first.Matrix.Data)
		}
	}
}

func TestRunRejectsBeforeSending(t *testing.T) {
	wide := make([][]int, 51)
	for i := range wide {
		wide[i] = []int{1}
	}
	tests := []struct {
		name string
		a, b [][]int
		want error
	}{
		{"non-conformant", [][]int{{1, 2, 3}}, [][]int{{1}, {2}}, domain.ErrDimensionMismatch},
		{"inner dimension beyond capacity", [][]int{make([]int, 51)}, wide, domain.ErrInnerDimTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingChannel{JobChannel: channel.New(4, domain.DefaultMaxInnerDim)}
			counters := metrics.NewCounters(metrics.RoleProducer)
			_, err := New(rec, counters, Options{}, discardLogger()).Run(context.Background(), mustMatrix(t, tt.a), mustMatrix(t, tt.b))
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if len(rec.requests) != 0 || counters.Snapshot().Sent != 0 {
				t.Errorf("no message may be sent, got %d", len(rec.requests))
			}
		})
	}
}

func TestRunWithSingleWorker(t *testing.T) {
	ch := channel.New(2, domain.DefaultMaxInnerDim)
	startPool(t, ch, ch, 1)

	rng := rand.New(rand.NewSource(3))
	a := randomMatrix(rng, 6, 4)
	b := randomMatrix(rng, 4, 6)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := New(ch, metrics.NewCounters(metrics.RoleProducer), Options{}, discardLogger()).Run(ctx, a, b)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Matrix.Equal(referenceProduct(a, b)) {
		t.Errorf("product mismatch with a single worker")
	}
}

func TestRunReportsLostResponse(t *testing.T) {
	ch := channel.New(8, domain.DefaultMaxInnerDim)
	startPool(t, ch, &lossyChannel{JobChannel: ch, lose: map[int]bool{2: true}}, 2)

	a := mustMatrix(t, [][]int{{1, 2}, {3, 4}})
	b := mustMatrix(t, [][]int{{5, 6}, {7, 8}})
	opts := Options{ResponseTimeout: 250 * time.Millisecond}
	res, err := New(ch, metrics.NewCounters(metrics.RoleProducer), opts, discardLogger()).Run(context.Background(), a, b)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Complete() {
		t.Fatal("expected an incomplete result")
	}
	if len(res.Missing) != 1 || res.Missing[0] != (domain.Cell{Row: 1, Col: 0}) {
		t.Errorf("expected (1,0) missing, got %v", res.Missing)
	}
	if res.Matrix.Data[1][0] != 0 {
		t.Errorf("missing cell should keep its zero value, got %d", res.Matrix.Data[1][0])
	}
	var timeout *domain.TimeoutError
	if len(res.Failed) != 1 || !errors.As(res.Failed[0], &timeout) {
		t.Errorf("expected one TimeoutError, got %v", res.Failed)
	}
	if res.Err() == nil {
		t.Error("Err should report the incomplete run")
	}
	for _, c := range []domain.Cell{{Row: 0, Col: 0}, {Row: 0, Col: 1}, {Row: 1, Col: 1}} {
		want := map[domain.Cell]int{{Row: 0, Col: 0}: 19, {Row: 0, Col: 1}: 22, {Row: 1, Col: 1}: 50}[c]
		if got := res.Matrix.Data[c.Row][c.Col]; got != want {
			t.Errorf("cell %s = %d, want %d", c, got, want)
		}
	}
}

func TestRunHonoursTaskDelay(t *testing.T) {
	ch := channel.New(4, domain.DefaultMaxInnerDim)
	startPool(t, ch, ch, 1)

	a := mustMatrix(t, [][]int{{1}, {2}, {3}})
	b := mustMatrix(t, [][]int{{4}})
	start := time.Now()
	res, err := New(ch, metrics.NewCounters(metrics.RoleProducer), Options{TaskDelay: 20 * time.Millisecond}, discardLogger()).
		Run(context.Background(), a, b)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("expected at least two delays, run took %v", elapsed)
	}
	if !res.Matrix.Equal(mustMatrix(t, [][]int{{4}, {8}, {12}})) {
		t.Errorf("unexpected product %v", res.Matrix.Data)
	}
}

func TestRunAbortsTaskOnRequestSendFailure(t *testing.T) {
	ch := channel.New(8, domain.DefaultMaxInnerDim)
	startPool(t, ch, ch, 2)
	producerSide := &rejectingChannel{JobChannel: ch, reject: map[int]bool{1: true}}

	a := mustMatrix(t, [][]int{{1, 2}, {3, 4}})
	b := mustMatrix(t, [][]int{{5, 6}, {7, 8}})
	counters := metrics.NewCounters(metrics.RoleProducer)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := New(producerSide, counters, Options{}, discardLogger()).Run(ctx, a, b)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var sendErr *domain.SendError
	if len(res.Failed) != 1 || !errors.As(res.Failed[0], &sendErr) {
		t.Fatalf("expected one SendError, got %v", res.Failed)
	}
	if sendErr.JobID != 1 {
		t.Errorf("expected job 1 to fail, got job %d", sendErr.JobID)
	}
	if len(res.Missing) != 1 || res.Missing[0] != (domain.Cell{Row: 0, Col: 1}) {
		t.Errorf("expected (0,1) missing, got %v", res.Missing)
	}
	if !res.Matrix.Equal(mustMatrix(t, [][]int{{19, 0}, {43, 50}})) {
		t.Errorf("unexpected product %v", res.Matrix.Data)
	}
	if snap := counters.Snapshot(); snap.Sent != 3 || snap.Received != 3 {
		t.Errorf("expected 3 sent and 3 received, got %+v", snap)
	}
	if n := producerSide.receives.Load(); n != 3 {
		t.Errorf("the aborted task must not wait for a response, got %d receives", n)
	}
	if n := ch.Len(domain.MessageTypeRequest); n != 0 {
		t.Errorf("rejected request must not be retried, %d requests queued", n)
	}
}
