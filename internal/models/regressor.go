package models

import (
	"encoding/gob"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"ccsml/internal/artifacts"
)

// Candidate names in evaluation order.
const (
	NameRidge        = "ridge"
	NameRandomForest = "random_forest"
	NameKNN          = "knn"
)

// Regressor is a fitted or fittable regression model.
type Regressor interface {
	Fit(x *mat.Dense, y []float64) error
	Predict(x *mat.Dense) ([]float64, error)
}

// Candidate builds a fresh regressor for one evaluation.
type Candidate struct {
	Name string
	New  func() Regressor
}

// Options parameterize the candidate panel.
type Options struct {
	RidgeAlpha     float64
	ForestTrees    int
	ForestMaxDepth int
	KNNNeighbors   int
	Seed           uint64
}

// DefaultOptions mirrors the configured defaults.
func DefaultOptions() Options {
	return Options{RidgeAlpha: 1, ForestTrees: 50, KNNNeighbors: 5, Seed: 42}
}

// Panel returns the candidates in evaluation order.
func Panel(opts Options) []Candidate {
	return []Candidate{
		{Name: NameRidge, New: func() Regressor { return &Ridge{Alpha: opts.RidgeAlpha} }},
		{Name: NameRandomForest, New: func() Regressor {
			return &RandomForest{Trees: opts.ForestTrees, MaxDepth: opts.ForestMaxDepth, Seed: opts.Seed}
		}},
		{Name: NameKNN, New: func() Regressor { return &KNN{K: opts.KNNNeighbors} }},
	}
}

// Artifact is the model persisted for one cluster.
type Artifact struct {
	ClusterID int
	Name      string
	Score     float64
	Scores    map[string]float64
	Model     Regressor
}

func (*Artifact) Kind() artifacts.Kind { return artifacts.KindModel }

// Predict delegates to the wrapped regressor.
func (a *Artifact) Predict(x *mat.Dense) ([]float64, error) {
	if a.Model == nil {
		return nil, fmt.Errorf("model for cluster %d is empty", a.ClusterID)
	}
	return a.Model.Predict(x)
}

func init() {
	gob.Register(&Ridge{})
	gob.Register(&RandomForest{})
	gob.Register(&KNN{})
	artifacts.Register(artifacts.KindModel, func() artifacts.Artifact { return &Artifact{} })
}

func checkFit(x *mat.Dense, y []float64) (int, int, error) {
	if x == nil {
		return 0, 0, fmt.Errorf("no training rows")
	}
	r, c := x.Dims()
	if r != len(y) {
		return 0, 0, fmt.Errorf("%d rows but %d targets", r, len(y))
	}
	if c == 0 {
		return 0, 0, fmt.Errorf("no feature columns")
	}
	return r, c, nil
}

func checkPredict(x *mat.Dense, cols int) (int, error) {
	if x == nil {
		return 0, nil
	}
	r, c := x.Dims()
	if c != cols {
		return 0, fmt.Errorf("model expects %d features, got %d", cols, c)
	}
	return r, nil
}
