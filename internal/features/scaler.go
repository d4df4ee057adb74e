package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"ccsml/internal/artifacts"
	"ccsml/internal/dataset"
	apperrors "ccsml/internal/errors"
)

// Scaler standardizes columns to zero mean and unit population variance.
type Scaler struct {
	Columns []string
	Mean    []float64
	Std     []float64
}

func (*Scaler) Kind() artifacts.Kind { return artifacts.KindScaler }

func init() {
	artifacts.Register(artifacts.KindScaler, func() artifacts.Artifact { return &Scaler{} })
}

// FitScaler fits over every column of t. A constant column gets a unit
// scale so it maps to zero instead of dividing by zero.
func FitScaler(t *dataset.Table) (*Scaler, error) {
	if t.NumRows() == 0 {
		return nil, apperrors.NewValidationError("cannot fit scaler on an empty table")
	}
	s := &Scaler{Columns: t.Columns()}
	for _, name := range s.Columns {
		values, _ := t.Column(name)
		if err := requireFinite(name, values); err != nil {
			return nil, err
		}
		mean, std := stat.PopMeanStdDev(values, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		s.Mean = append(s.Mean, mean)
		s.Std = append(s.Std, std)
	}
	return s, nil
}

// Transform selects the fitted columns and standardizes them.
func (s *Scaler) Transform(t *dataset.Table) (*dataset.Table, error) {
	selected, err := t.Select(s.Columns...)
	if err != nil {
		return nil, err
	}
	cols := make([][]float64, len(s.Columns))
	for j, name := range s.Columns {
		values, _ := selected.Column(name)
		if err := requireFinite(name, values); err != nil {
			return nil, err
		}
		for i, v := range values {
			values[i] = (v - s.Mean[j]) / s.Std[j]
		}
		cols[j] = values
	}
	return dataset.NewTable(s.Columns, cols, selected.IDs())
}

func requireFinite(name string, values []float64) error {
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return apperrors.NewValidationError(fmt.Sprintf("column %q row %d is not a finite number", name, i)).
				WithContext("column", name)
		}
	}
	return nil
}
