package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/redis/go-redis/v9"

	"licgate/internal/errors"
	"licgate/pkg/contracts"
)

// HealthHandler answers liveness and readiness probes.
type HealthHandler struct {
	client *redis.Client
	logger *slog.Logger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(client *redis.Client, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		client: client,
		logger: logger.With(slog.String("handler", "health")),
	}
}

// Liveness handles GET /healthz. Carries build identification so a
// probe response is enough to tell which binary is running.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{
		"status":  "ok",
		"version": contracts.GetVersionInfo(),
	})
}

// Readiness handles GET /readyz. Ready means the keyed store answers.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.client.Ping(ctx).Err(); err != nil {
		h.logger.ErrorContext(r.Context(), "readiness check failed",
			slog.String("error", err.Error()))
		errors.WriteError(w, errors.NewWithDetails(
			http.StatusServiceUnavailable,
			"SERVICE_UNAVAILABLE",
			"Service temporarily unavailable",
			map[string]string{"store": "unreachable"},
		))
		return
	}
	render.JSON(w, r, map[string]string{"status": "ok", "store": "ok"})
}
