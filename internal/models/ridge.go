package models

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Ridge is L2-regularized least squares with an unpenalized intercept.
type Ridge struct {
	Alpha     float64
	Coef      []float64
	Intercept float64
}

// Fit solves (XcᵀXc + αI)β = Xcᵀyc on centered data.
func (m *Ridge) Fit(x *mat.Dense, y []float64) error {
	rows, cols, err := checkFit(x, y)
	if err != nil {
		return err
	}
	if rows < 1 {
		return errors.New("ridge needs at least one row")
	}

	means := make([]float64, cols)
	xc := mat.NewDense(rows, cols, nil)
	for j := 0; j < cols; j++ {
		col := mat.Col(nil, j, x)
		means[j] = stat.Mean(col, nil)
		floats.AddConst(-means[j], col)
		xc.SetCol(j, col)
	}
	yMean := stat.Mean(y, nil)
	yc := make([]float64, rows)
	copy(yc, y)
	floats.AddConst(-yMean, yc)

	var gram mat.SymDense
	gram.SymOuterK(1, xc.T())
	for j := 0; j < cols; j++ {
		gram.SetSym(j, j, gram.At(j, j)+m.Alpha)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(&gram); !ok {
		return fmt.Errorf("ridge system is singular (alpha=%g)", m.Alpha)
	}

	var rhs mat.VecDense
	rhs.MulVec(xc.T(), mat.NewVecDense(rows, yc))
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &rhs); err != nil {
		return fmt.Errorf("solve ridge system: %w", err)
	}

	m.Coef = make([]float64, cols)
	for j := range m.Coef {
		m.Coef[j] = beta.AtVec(j)
	}
	m.Intercept = yMean - floats.Dot(means, m.Coef)
	return nil
}

func (m *Ridge) Predict(x *mat.Dense) ([]float64, error) {
	rows, err := checkPredict(x, len(m.Coef))
	if err != nil {
		return nil, err
	}
	out := make([]float64, rows)
	for i := range out {
		out[i] = m.Intercept + floats.Dot(x.RawRowView(i), m.Coef)
	}
	return out, nil
}
