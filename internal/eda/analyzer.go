package eda

import (
	"math"
	"slices"

	"ccsml/internal/dataset"
)

// SplitFeaturesLabel partitions a table into feature columns and label columns.
// It fails with a validation error if any label column is absent.
func SplitFeaturesLabel(t *dataset.Table, labelColumns ...string) (features, labels *dataset.Table, err error) {
	labels, err = t.Select(labelColumns...)
	if err != nil {
		return nil, nil, err
	}
	return t.Drop(labelColumns...), labels, nil
}

// MissingValueReport lists the columns holding at least one missing value.
func MissingValueReport(t *dataset.Table) (bool, []string) {
	var cols []string
	for _, name := range t.Columns() {
		if t.NaNCount(name) > 0 {
			cols = append(cols, name)
		}
	}
	return len(cols) > 0, cols
}

// DistinctCount counts the distinct non-missing values of a column.
func DistinctCount(values []float64) int {
	seen := make(map[float64]struct{}, len(values))
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		seen[v] = struct{}{}
	}
	return len(seen)
}

// Classification is the continuous/discrete split of the numeric columns.
type Classification struct {
	Continuous []string `json:"continuous"`
	Discrete   []string `json:"discrete"`
}

// IsContinuous reports whether name was classified as continuous.
func (c Classification) IsContinuous(name string) bool {
	return slices.Contains(c.Continuous, name)
}

// Normalization records what the training run did to each continuous column.
type Normalization struct {
	// Normal holds the columns that passed the normality test untransformed.
	Normal []string `json:"normal"`
	// Lambdas holds the Box-Cox lambda of every power-transformed column.
	Lambdas map[string]float64 `json:"lambdas,omitempty"`
	// Log holds the columns transformed with log(1+x).
	Log []string `json:"log"`
	// NotNormal holds the columns no transform could normalize. They are left as they are.
	NotNormal []string `json:"not_normal"`
}
