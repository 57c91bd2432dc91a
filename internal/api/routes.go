package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Metrics(),
		Logging(h.logger),
	)

	// Flows
	mux.Handle("GET /api/v1/flows", chain(http.HandlerFunc(h.ListFlows)))

	// Tasks
	mux.Handle("GET /api/v1/tasks", chain(http.HandlerFunc(h.ListTasks)))
	mux.Handle("POST /api/v1/tasks", chain(http.HandlerFunc(h.CreateTask)))
	mux.Handle("GET /api/v1/tasks/{id}", chain(http.HandlerFunc(h.GetTask)))
	mux.Handle("GET /api/v1/tasks/{id}/jobs", chain(http.HandlerFunc(h.ListTaskJobs)))
}
