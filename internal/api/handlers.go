// Package api exposes the minimal HTTP surface the daemon needs for
// operations: a health check and an on-demand solve trigger. The full
// CRUD/auth/OpenAPI surface for demands, portfolios, and products is out of
// scope here; a real deployment would front this service with the
// teacher's existing internal/api CRUD pattern extended to those entities.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/flowtrade/engine/internal/auction"
)

// BatchRunner runs a single batch immediately, bypassing the scheduler's
// clock. Satisfied by *scheduler.Scheduler's BatchFunc callback, or any
// adapter that wires repository + qp.Solver together.
type BatchRunner func(ctx context.Context, anchor auction.DateTime) (auction.BatchId, error)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	log    zerolog.Logger
	runner BatchRunner
}

// NewHandler creates a new Handler.
func NewHandler(log zerolog.Logger, runner BatchRunner) *Handler {
	return &Handler{log: log, runner: runner}
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// RunSolve handles POST /admin/solve, running a batch immediately for
// operational use (e.g. draining a backlog, or forcing a clear outside the
// regular schedule), grounded on
// original_source/fts-server/src/routes/admin/solve.rs.
func (h *Handler) RunSolve(w http.ResponseWriter, r *http.Request) {
	anchor := auction.Now()

	id, err := h.runner(r.Context(), anchor)
	if err != nil {
		h.log.Error().Err(err).Msg("admin solve failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"batch_id": id.String()})
}

// SetupRoutes configures the HTTP router.
func SetupRoutes(handler *Handler) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")

	admin := r.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/solve", handler.RunSolve).Methods("POST")

	return r
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
