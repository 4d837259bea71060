package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := h.middleware()

	// Runs
	mux.Handle("POST /run_agent", chain(http.HandlerFunc(h.RunAgent)))
	mux.Handle("GET /run/{id}", chain(http.HandlerFunc(h.GetRun)))
	mux.Handle("POST /run/{id}/cancel", chain(http.HandlerFunc(h.CancelRun)))
	mux.Handle("GET /runs", chain(http.HandlerFunc(h.ListRuns)))

	// Service
	mux.Handle("GET /status", chain(http.HandlerFunc(h.Status)))
	mux.HandleFunc("GET /healthz", h.Healthz)
	if h.metricsHandler != nil {
		mux.Handle("GET /metrics", h.metricsHandler)
	}
}

// middleware — цепочка для маршрутов API.
// Metrics снаружи Recovery, чтобы 500 после паники тоже попадал в метрику.
func (h *Handler) middleware() Middleware {
	return Chain(
		Metrics(h.metrics),
		Recovery(h.logger),
		Logging(h.logger),
	)
}
