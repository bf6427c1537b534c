// Package health reports service health over HTTP and the standard gRPC health protocol.
package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/teecode611-cmyk/studio/internal/api"
)

const defaultTimeout = 5 * time.Second

// Pinger is anything that can report whether its backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler handles health check endpoints.
type Handler struct {
	store   Pinger
	timeout time.Duration
}

// NewHandler creates a new health handler.
func NewHandler(store Pinger, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Handler{store: store, timeout: timeout}
}

// Health returns the health status of the API and its dependencies.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok", "database": "ok"}
	status, code := "healthy", http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		checks["database"] = "unreachable"
		status, code = "degraded", http.StatusServiceUnavailable
	}

	api.JSON(w, code, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// RegisterRoutes registers the health check route. The bare /health path is
// answered by the router heartbeat.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.Health)
}
