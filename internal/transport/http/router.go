package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/trace"

	"ccsml/internal/config"
	apperrors "ccsml/internal/errors"
	"ccsml/internal/middleware"
	"ccsml/internal/services"
)

// RouterDeps collects what NewRouter mounts. Progress, Metrics and Tracer
// are optional.
type RouterDeps struct {
	Config   *config.Config
	Pipeline *services.PipelineService
	Health   *services.HealthService
	Progress http.Handler
	Metrics  http.Handler
	Tracer   trace.Tracer
	Logger   *slog.Logger
}

// NewRouter builds the HTTP API. Middleware order is RequestID, Tracing,
// StructuredLogger, Recovery, then the optional rate limiter.
func NewRouter(deps RouterDeps) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	errHandler := apperrors.NewErrorHandler(logger, deps.Config.Logging.Level == "debug")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)

	// The websocket route skips the wrapping middleware so the connection
	// can be hijacked without an open span or a buffered logger.
	if deps.Progress != nil {
		r.Handle("/ws/progress", deps.Progress)
	}
	r.Mount("/metrics", NewMetricsHandler(deps.Metrics, errHandler).Routes())

	r.Group(func(r chi.Router) {
		if deps.Tracer != nil {
			r.Use(middleware.Tracing(deps.Tracer))
		}
		r.Use(middleware.StructuredLogger(logger))
		r.Use(apperrors.RecoveryMiddleware(errHandler))
		if rl := deps.Config.Security.RateLimit; rl.Enabled {
			r.Use(middleware.NewRateLimiter(rl.RPS, rl.Burst, errHandler, logger).Handler)
		}

		r.Route("/api", func(r chi.Router) {
			r.Use(render.SetContentType(render.ContentTypeJSON))

			healthHandler := NewHealthHandler(deps.Health, errHandler, logger)
			r.Get("/health", healthHandler.HealthCheck)
			r.Get("/health/ready", healthHandler.ReadinessCheck)
			r.Get("/health/live", healthHandler.LivenessCheck)

			validator := middleware.NewRequestValidator(deps.Config.Server.MaxUploadBytes)
			r.Mount("/v1", NewPipelineHandler(deps.Pipeline, validator, errHandler, logger).Routes())
		})
	})

	r.NotFound(errHandler.NotFound)
	r.MethodNotAllowed(errHandler.MethodNotAllowed)
	return r
}
