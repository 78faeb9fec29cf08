package api

import (
	"clipsync/internal/middleware"

	"github.com/gorilla/mux"
)

func SetupRoutes(h *Handler) *mux.Router {
	r := mux.NewRouter()

	// Middleware runs in order - tracing first, then recovery, then CORS
	r.Use(middleware.TracingMiddleware)
	r.Use(middleware.ErrorRecoveryMiddleware)
	r.Use(middleware.CORSMiddleware)

	// REST surface is read-only; all mutation flows over the websocket so
	// every change is an operation in the log.
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.Health).Methods("GET")
	api.HandleFunc("/sessions", h.ListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}/operations", h.GetSessionOperations).Methods("GET")
	api.HandleFunc("/sessions/{id}/timeline", h.GetSessionTimeline).Methods("GET")

	// WebSocket routes
	r.HandleFunc("/ws/session/{id}", h.HandleSessionWebSocket)

	return r
}
