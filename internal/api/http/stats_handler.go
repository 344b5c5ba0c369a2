// internal/api/http/stats_handler.go
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"distributed-matmul/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StatsSource exposes the message counters of one role.
type StatsSource interface {
	Snapshot() metrics.Snapshot
}

// StatsHandler answers the diagnostics query for sent/received counts.
type StatsHandler struct {
	sources []StatsSource
	alive   func() int
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewStatsHandler creates a handler reporting every source.
func NewStatsHandler(logger *slog.Logger, sources ...StatsSource) *StatsHandler {
	return &StatsHandler{
		sources: sources,
		logger:  logger.With("component", "stats-handler"),
		tracer:  otel.Tracer("distributed-matmul-api"),
	}
}

// WithWorkers makes the handler report the number of live workers.
func (h *StatsHandler) WithWorkers(alive func() int) *StatsHandler {
	h.alive = alive
	return h
}

// A helper struct to capture the status code
type instrumentedResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *instrumentedResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// RegisterRoutes registers /stats and /metrics on mux.
func (h *StatsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("/stats", h.instrument("/stats", http.HandlerFunc(h.handleStats)))
	mux.Handle("/metrics", promhttp.Handler())
}

func (h *StatsHandler) instrument(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "HTTP "+r.Method+" "+path, trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		))
		defer span.End()

		iw := &instrumentedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(iw, r.WithContext(ctx))

		metrics.HttpRequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(iw.statusCode)).Inc()
		span.SetAttributes(attribute.Int("http.status_code", iw.statusCode))
		if iw.statusCode >= 500 {
			span.SetStatus(codes.Error, "Server Error")
		}
	})
}

func (h *StatsHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
		return
	}

	resp := StatsResponse{Stats: make([]metrics.Snapshot, 0, len(h.sources))}
	for _, s := range h.sources {
		resp.Stats = append(resp.Stats, s.Snapshot())
	}
	if h.alive != nil {
		n := h.alive()
		resp.WorkersAlive = &n
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
