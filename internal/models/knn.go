package models

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// KNN predicts the uniform mean target of the K nearest training rows.
type KNN struct {
	K    int
	Rows [][]float64
	Y    []float64
}

func (m *KNN) Fit(x *mat.Dense, y []float64) error {
	rows, _, err := checkFit(x, y)
	if err != nil {
		return err
	}
	if m.K < 1 || rows < m.K {
		return fmt.Errorf("knn needs at least %d training rows, got %d", m.K, rows)
	}
	m.Rows = make([][]float64, rows)
	for i := range m.Rows {
		m.Rows[i] = slices.Clone(x.RawRowView(i))
	}
	m.Y = slices.Clone(y)
	return nil
}

func (m *KNN) Predict(x *mat.Dense) ([]float64, error) {
	if len(m.Rows) == 0 {
		return nil, fmt.Errorf("knn is not fitted")
	}
	rows, err := checkPredict(x, len(m.Rows[0]))
	if err != nil {
		return nil, err
	}

	type neighbor struct {
		i int
		d float64
	}
	nbrs := make([]neighbor, len(m.Rows))
	out := make([]float64, rows)
	for r := range out {
		q := x.RawRowView(r)
		for i, row := range m.Rows {
			nbrs[i] = neighbor{i, floats.Distance(q, row, 2)}
		}
		slices.SortStableFunc(nbrs, func(a, b neighbor) int {
			switch {
			case a.d < b.d:
				return -1
			case a.d > b.d:
				return 1
			}
			return 0
		})
		sum := 0.0
		for _, n := range nbrs[:m.K] {
			sum += m.Y[n.i]
		}
		out[r] = sum / float64(m.K)
	}
	return out, nil
}
