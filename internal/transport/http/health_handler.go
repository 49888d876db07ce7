package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"entitled/internal/license"
	"entitled/pkg/contracts"
)

// HealthHandler serves engine health and version endpoints
type HealthHandler struct {
	service LicenseService
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(service LicenseService, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		service: service,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// GetHealth handles GET /api/health. Unhealthy maps to 503 so process
// supervisors can act on it; degraded still serves 200.
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	result := h.service.HealthCheck(ctx)

	if result.Status == license.HealthStatusUnhealthy {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, result)
}

// GetVersion handles GET /api/version
func (h *HealthHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"version":   contracts.GetVersionInfo(),
		"timestamp": time.Now().UTC(),
	})
}
