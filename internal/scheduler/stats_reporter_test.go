package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"distributed-matmul/internal/metrics"
)

func TestReportLogsEverySource(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	c := metrics.NewCounters(metrics.RoleProducer)
	c.IncSent()
	c.IncSent()
	c.IncReceived()

	r, err := NewStatsReporter("@every 1h", logger, c)
	if err != nil {
		t.Fatalf("NewStatsReporter: %v", err)
	}
	r.Report()

	var entry struct {
		Msg      string `json:"msg"`
		Role     string `json:"role"`
		Sent     int64  `json:"jobs_sent"`
		Received int64  `json:"jobs_received"`
	}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry.Role != metrics.RoleProducer || entry.Sent != 2 || entry.Received != 1 {
		t.Errorf("unexpected log entry %+v", entry)
	}
}

func TestNewStatsReporterRejectsBadSchedule(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := NewStatsReporter("not a schedule", logger); err == nil {
		t.Error("expected an error for an invalid schedule")
	}
}

func TestStartStopsWithContext(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r, err := NewStatsReporter("@every 1h", logger)
	if err != nil {
		t.Fatalf("NewStatsReporter: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Start(ctx) }()
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reporter did not stop")
	}
}
