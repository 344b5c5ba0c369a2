// internal/scheduler/stats_reporter.go
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"distributed-matmul/internal/metrics"

	"github.com/robfig/cron/v3"
)

// Source exposes the message counters of one role.
type Source interface {
	Snapshot() metrics.Snapshot
}

// StatsReporter periodically logs sent/received counts.
type StatsReporter struct {
	cron    *cron.Cron
	sources []Source
	logger  *slog.Logger
}

// NewStatsReporter schedules a report of every source on schedule
// (standard cron syntax or descriptors such as "@every 30s").
func NewStatsReporter(schedule string, logger *slog.Logger, sources ...Source) (*StatsReporter, error) {
	r := &StatsReporter{
		cron:    cron.New(),
		sources: sources,
		logger:  logger.With("component", "stats-reporter"),
	}
	if _, err := r.cron.AddFunc(schedule, r.Report); err != nil {
		return nil, fmt.Errorf("invalid stats schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start runs the reporter until ctx is done.
func (r *StatsReporter) Start(ctx context.Context) error {
	r.logger.Info("stats reporter started")
	r.cron.Start()
	<-ctx.Done()
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
	r.logger.Info("stats reporter stopped")
	return ctx.Err()
}

// Report logs the current counters once.
func (r *StatsReporter) Report() {
	for _, s := range r.sources {
		snap := s.Snapshot()
		r.logger.Info("job channel stats", "role", snap.Role, "jobs_sent", snap.Sent, "jobs_received", snap.Received)
	}
}
