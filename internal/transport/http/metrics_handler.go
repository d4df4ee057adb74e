package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "ccsml/internal/errors"
)

// MetricsHandler exposes the Prometheus scrape endpoint. The exporter is
// optional; without it the route answers 404.
type MetricsHandler struct {
	exporter http.Handler
	errors   *apperrors.ErrorHandler
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(exporter http.Handler, errors *apperrors.ErrorHandler) *MetricsHandler {
	return &MetricsHandler{exporter: exporter, errors: errors}
}

// Routes sets up the metrics routes
func (h *MetricsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.GetMetrics)
	return r
}

// GetMetrics handles GET /metrics
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		h.errors.NotFound(w, r)
		return
	}
	h.exporter.ServeHTTP(w, r)
}
