package main

import (
	"net/http"

	"github.com/soundscribe/analytics-service/internal/handler"
	"github.com/soundscribe/analytics-service/internal/metrics"
)

func setupRouter(h *handler.RecordingHandler, metricsCollector *metrics.Collector) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/recordings", h.Create)
	mux.HandleFunc("GET /v1/recordings", h.List)
	mux.HandleFunc("GET /v1/recordings/{id}", h.Get)
	mux.HandleFunc("POST /v1/recordings/{id}/reprocess", h.Reprocess)
	mux.HandleFunc("GET /v1/recordings/{id}/events", h.StreamEvents)
	mux.HandleFunc("GET /v1/realtime/status", h.RealtimeStatus)
	mux.HandleFunc("GET /v1/reports/export", h.Export)
	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /metrics", metricsCollector.Handler())

	return h.LogRequests(mux)
}
