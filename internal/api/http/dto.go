package http

import "distributed-matmul/internal/metrics"

// StatsResponse is the body returned by GET /stats.
type StatsResponse struct {
	Stats        []metrics.Snapshot `json:"stats"`
	WorkersAlive *int               `json:"workers_alive,omitempty"`
}

// ErrorResponse is returned for rejected requests.
type ErrorResponse struct {
	Error string `json:"error"`
}
