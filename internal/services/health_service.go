package services

import (
	"context"
	"log/slog"
	"runtime"
	"time"
)

// GenerationSource reports the artifact generation serving predictions.
type GenerationSource interface {
	Generation(ctx context.Context) string
}

// ClientCounter reports connected progress clients.
type ClientCounter interface {
	ClientCount() int
}

// Artifact store states reported by HealthCheck.
const (
	StatusReady      = "ready"
	StatusNotTrained = "not_trained"
)

// HealthService provides health check functionality
type HealthService struct {
	version   string
	artifacts GenerationSource
	progress  ClientCounter
	datastore bool
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Version   string                   `json:"version"`
	Runtime   map[string]interface{}   `json:"runtime,omitempty"`
	Services  map[string]ServiceHealth `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NewHealthService creates a health service. artifacts and progress may be nil.
func NewHealthService(version string, artifacts GenerationSource, progress ClientCounter, datastoreEnabled bool, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		version:   version,
		artifacts: artifacts,
		progress:  progress,
		datastore: datastoreEnabled,
		startTime: time.Now(),
		logger:    logger.With(slog.String("component", "health_service")),
	}
}

// HealthCheck reports liveness plus the state of the artifact store. An
// untrained store is reported but does not make the service unhealthy.
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   hs.version,
		Runtime: map[string]interface{}{
			"uptime_seconds": time.Since(hs.startTime).Seconds(),
			"go_version":     runtime.Version(),
			"goroutines":     runtime.NumGoroutine(),
		},
		Services: map[string]ServiceHealth{
			"artifacts": hs.checkArtifacts(ctx),
			"datastore": hs.checkDatastore(),
		},
	}
	if hs.progress != nil {
		status.Runtime["progress_clients"] = hs.progress.ClientCount()
	}

	hs.logger.DebugContext(ctx, "health check completed",
		slog.String("status", status.Status),
		slog.String("artifacts", status.Services["artifacts"].Status))
	return status
}

func (hs *HealthService) checkArtifacts(ctx context.Context) ServiceHealth {
	if hs.artifacts == nil {
		return ServiceHealth{Status: "unknown"}
	}
	gen := hs.artifacts.Generation(ctx)
	if gen == "" {
		return ServiceHealth{Status: StatusNotTrained, Message: "no artifact generation committed"}
	}
	return ServiceHealth{Status: StatusReady, Message: "generation " + gen}
}

func (hs *HealthService) checkDatastore() ServiceHealth {
	if !hs.datastore {
		return ServiceHealth{Status: "disabled"}
	}
	return ServiceHealth{Status: "enabled"}
}
