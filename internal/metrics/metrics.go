// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HttpRequestsTotal counts HTTP requests served by the diagnostics endpoint.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of http requests handled by the service.",
		},
		[]string{"path", "method", "code"},
	)

	// MessagesSentTotal counts messages handed to the job channel.
	MessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matmul_messages_sent_total",
			Help: "Total number of messages sent on the job channel.",
		},
		[]string{"role"},
	)

	// MessagesReceivedTotal counts messages taken off the job channel.
	MessagesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matmul_messages_received_total",
			Help: "Total number of messages received from the job channel.",
		},
		[]string{"role"},
	)

	// TaskFailuresTotal counts aborted producer tasks and dropped worker iterations.
	TaskFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matmul_task_failures_total",
			Help: "Total number of failed tasks or worker iterations.",
		},
		[]string{"role", "reason"},
	)

	// WorkersAlive is the number of compute loops still running.
	WorkersAlive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "matmul_workers_alive",
			Help: "Number of worker loops currently running.",
		},
	)
)
