// Package http carries the HTTP transport for the validation engine.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"licgate/internal/license"
	"licgate/pkg/contracts/domain"
)

// ValidationEngine is the engine contract the handler depends on.
type ValidationEngine interface {
	Validate(ctx context.Context, req domain.ValidateRequest, callerIP, origin string) license.Outcome
}

// ValidateHandler serves the single validation endpoint called by
// deployed client integrations.
type ValidateHandler struct {
	engine ValidationEngine
	logger *slog.Logger
}

// NewValidateHandler creates a new validation handler.
func NewValidateHandler(engine ValidationEngine, logger *slog.Logger) *ValidateHandler {
	return &ValidateHandler{
		engine: engine,
		logger: logger.With(slog.String("handler", "validate")),
	}
}

// Routes returns a chi router for the validation endpoint.
func (h *ValidateHandler) Routes(requestTimeout time.Duration) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(requestTimeout))
	r.Post("/validate", h.Validate)
	return r
}

// Validate handles POST /api/v1/license/validate.
func (h *ValidateHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "malformed validation request",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, domain.ValidateResponse{Valid: false, Reason: "Invalid request format"})
		return
	}

	out := h.engine.Validate(ctx, req, callerIP(r), originAssertion(r))

	if out.RateLimit != nil {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(out.RateLimit.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(out.RateLimit.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(out.RateLimit.ResetAt.Unix(), 10))
		retryAfter := time.Until(out.RateLimit.ResetAt).Seconds()
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter)))
	}

	render.Status(r, out.HTTPStatus)
	render.JSON(w, r, out.Response)
}

// callerIP resolves the source address. The RealIP middleware has
// already folded forwarding headers into RemoteAddr.
func callerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// originAssertion extracts the caller's explicit origin declaration.
// Referer is accepted as the equivalent assertion for embedded callers
// that cannot set Origin.
func originAssertion(r *http.Request) string {
	if origin := r.Header.Get("Origin"); origin != "" {
		return origin
	}
	return r.Header.Get("Referer")
}
