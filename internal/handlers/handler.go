package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/parley/internal/engine"
	"github.com/eldtechnologies/parley/internal/store"
)

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	manager *engine.Manager
	data    store.DataStore
	redis   *store.RedisStore
	logger  zerolog.Logger
}

// NewHandler creates a new Handler. redis may be nil when running against
// the in-memory collaborators.
func NewHandler(manager *engine.Manager, data store.DataStore, redis *store.RedisStore, logger zerolog.Logger) *Handler {
	return &Handler{manager: manager, data: data, redis: redis, logger: logger}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
