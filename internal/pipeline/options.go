package pipeline

import (
	"ccsml/internal/cluster"
	"ccsml/internal/config"
	"ccsml/internal/eda"
	"ccsml/internal/models"
)

// Run modes.
const (
	ModeTraining   = "training"
	ModePrediction = "prediction"
)

// Options carry every tunable of the two topologies.
type Options struct {
	LabelColumn          string
	IDColumn             string
	MissingDropRatio     float64
	ImputerNeighbors     int
	CorrelationThreshold float64
	ImportanceThreshold  float64
	TestRatio            float64
	Seed                 uint64
	Analysis             eda.Options
	Cluster              cluster.Options
	Models               models.Options
}

// OptionsFromConfig maps the pipeline configuration section.
func OptionsFromConfig(cfg config.PipelineConfig) Options {
	seed := uint64(cfg.Seed)
	return Options{
		LabelColumn:          cfg.LabelColumn,
		IDColumn:             cfg.IDColumn,
		MissingDropRatio:     cfg.MissingDropRatio,
		ImputerNeighbors:     cfg.ImputerNeighbors,
		CorrelationThreshold: cfg.CorrelationThreshold,
		ImportanceThreshold:  cfg.ImportanceThreshold,
		TestRatio:            cfg.TestRatio,
		Seed:                 seed,
		Analysis: eda.Options{
			ContinuousThreshold: cfg.ContinuousThreshold,
			NormalityAlpha:      cfg.NormalityAlpha,
		},
		Cluster: cluster.Options{
			MaxClusters: cfg.MaxClusters,
			Restarts:    cfg.KMeansRestarts,
			MaxIter:     cfg.KMeansMaxIter,
			Seed:        seed,
		},
		Models: models.Options{
			RidgeAlpha:     cfg.RidgeAlpha,
			ForestTrees:    cfg.ForestTrees,
			ForestMaxDepth: cfg.ForestMaxDepth,
			KNNNeighbors:   cfg.KNNNeighbors,
			Seed:           seed,
		},
	}
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default().Pipeline)
}
