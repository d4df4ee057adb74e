package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"ccsml/internal/artifacts"
	"ccsml/internal/dataset"
	apperrors "ccsml/internal/errors"
	"ccsml/internal/models"
)

// Router sends each row to the model trained on its cluster. Models are
// loaded lazily from one pinned generation and kept for the router's life.
type Router struct {
	reader artifacts.Reader
	logger *slog.Logger

	mu     sync.Mutex
	models map[int]*models.Artifact
}

// NewRouter creates a Router over reader.
func NewRouter(reader artifacts.Reader, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		reader: reader,
		logger: logger.With(slog.String("component", "router")),
		models: make(map[int]*models.Artifact),
	}
}

// Model returns the model of clusterID. A cluster without a persisted model
// is a CLUSTER_ROUTING error naming the id.
func (r *Router) Model(ctx context.Context, clusterID int) (*models.Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.models[clusterID]; ok {
		return m, nil
	}
	m, err := artifacts.LoadAs[*models.Artifact](ctx, r.reader, artifacts.ModelKey(clusterID))
	if errors.Is(err, apperrors.ErrArtifactNotFound) {
		routing := apperrors.NewClusterRoutingError(clusterID)
		routing.Cause = err
		return nil, routing
	}
	if err != nil {
		return nil, err
	}
	r.models[clusterID] = m
	return m, nil
}

// PredictAll predicts every row of features with the model of its cluster.
// It returns the predictions and the model name used for each row.
func (r *Router) PredictAll(ctx context.Context, features *dataset.Table, clusterIDs []int) ([]float64, []string, error) {
	if features.NumRows() != len(clusterIDs) {
		return nil, nil, apperrors.NewValidationError(
			fmt.Sprintf("%d rows but %d cluster ids", features.NumRows(), len(clusterIDs)))
	}

	groups := make(map[int][]int)
	var order []int
	for row, id := range clusterIDs {
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], row)
	}

	values := make([]float64, len(clusterIDs))
	names := make([]string, len(clusterIDs))
	for _, id := range order {
		rows := groups[id]
		m, err := r.Model(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		pred, err := m.Predict(features.TakeRows(rows).Matrix())
		if err != nil {
			return nil, nil, fmt.Errorf("predict cluster %d: %w", id, err)
		}
		for i, row := range rows {
			values[row] = pred[i]
			names[row] = m.Name
		}
		r.logger.DebugContext(ctx, "cluster routed",
			slog.Int("cluster_id", id),
			slog.String("model", m.Name),
			slog.Int("rows", len(rows)))
	}
	return values, names, nil
}
