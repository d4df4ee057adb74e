package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apperrors "ccsml/internal/errors"
	"ccsml/internal/services"
)

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	service *services.HealthService
	errors  *apperrors.ErrorHandler
	logger  *slog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(service *services.HealthService, errors *apperrors.ErrorHandler, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		service: service,
		errors:  errors,
		logger:  logger.With(slog.String("handler", "health")),
	}
}

// HealthCheck handles GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.service.HealthCheck(r.Context()))
}

// ReadinessCheck handles GET /api/health/ready. The service is ready once a
// generation has been committed; until then it answers 503.
func (h *HealthHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	status := h.service.HealthCheck(r.Context())
	if artifacts := status.Services["artifacts"]; artifacts.Status != services.StatusReady {
		h.logger.DebugContext(r.Context(), "not ready", slog.String("artifacts", artifacts.Status))
		h.errors.HandleError(w, r, apperrors.NewWithDetails(
			apperrors.ErrServiceUnavailable.StatusCode,
			apperrors.ErrServiceUnavailable.ErrorCode,
			"no trained artifact generation is available",
			artifacts,
		))
		return
	}
	render.JSON(w, r, map[string]string{"status": "ready"})
}

// LivenessCheck handles GET /api/health/live
func (h *HealthHandler) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "alive"})
}
