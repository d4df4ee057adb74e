package pipeline

import (
	"log/slog"

	"ccsml/internal/artifacts"
	"ccsml/internal/cluster"
	"ccsml/internal/dataset"
	"ccsml/internal/eda"
	"ccsml/internal/models"
)

// TrainingContext is the state threaded through the training stages. Every
// fitted artifact is staged on Batch and becomes visible only on commit.
type TrainingContext struct {
	RunID  string
	Logger *slog.Logger
	Batch  artifacts.Batch

	Input    *dataset.Table
	Features *dataset.Table
	Label    []float64

	MissingColumns []string
	HighMissing    []string
	Classification eda.Classification
	Normalization  eda.Normalization
	Dropped        []string

	K           int
	Inertias    []float64
	Partitioner *cluster.Partitioner
	ClusterIDs  []int

	Models   map[int]*models.Artifact
	Failures []error
	Manifest artifacts.Manifest
}

// PredictionContext is the state threaded through the prediction stages.
// Reader is pinned to one generation for the whole run.
type PredictionContext struct {
	RunID  string
	Logger *slog.Logger
	Reader artifacts.Reader

	Input      *dataset.Table
	Features   *dataset.Table
	IDs        []string
	ClusterIDs []int
	Values     []float64
	ModelNames []string
}
