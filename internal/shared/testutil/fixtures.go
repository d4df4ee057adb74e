package testutil

import (
	"fmt"
	"math"
	"path/filepath"
	"testing"

	"ccsml/internal/dataset"
)

// Column names used by the fixtures.
const (
	IDColumn    = "id"
	LabelColumn = "strength"
)

// RegimeRows is the number of rows per regime in TwoRegimeTable.
const RegimeRows = 40

// TwoRegimeTable returns 80 rows over features x1 and x2 forming two well
// separated regimes. In the first 40 rows (x near 1..2) the label is
// 3*x1 + 2*x2. In the last 40 (x near 11..12) the label steps from 50 to
// 60 where x1 crosses 11.5; x1 leaves a gap around the step.
func TwoRegimeTable(t testing.TB) *dataset.Table {
	t.Helper()
	steps := []float64{0, 0.1, 0.2, 0.3, 0.7, 0.8, 0.9, 1.0}
	n := 2 * RegimeRows
	x1 := make([]float64, n)
	x2 := make([]float64, n)
	y := make([]float64, n)
	ids := make([]string, n)
	for i := 0; i < RegimeRows; i++ {
		x1[i] = 1 + float64(i%8)/7
		x2[i] = 1 + float64(i/8)/4
		y[i] = 3*x1[i] + 2*x2[i]

		j := RegimeRows + i
		x1[j] = 11 + steps[i%8]
		x2[j] = 11 + float64(i/8)/4
		y[j] = 50
		if x1[j] > 11.5 {
			y[j] = 60
		}
	}
	for i := range ids {
		ids[i] = fmt.Sprintf("row-%03d", i)
	}
	tbl, err := dataset.NewTable([]string{"x1", "x2", LabelColumn}, [][]float64{x1, x2, y}, ids)
	if err != nil {
		t.Fatalf("build fixture: %v", err)
	}
	return tbl
}

// WithMostlyMissing adds column name to tbl with every row except each
// fifth one missing, i.e. 80% missing.
func WithMostlyMissing(t testing.TB, tbl *dataset.Table, name string) *dataset.Table {
	t.Helper()
	values := make([]float64, tbl.NumRows())
	for i := range values {
		values[i] = math.NaN()
		if i%5 == 0 {
			values[i] = float64(i)
		}
	}
	out, err := tbl.WithColumn(name, values)
	if err != nil {
		t.Fatalf("add column: %v", err)
	}
	return out
}

// WithPartlyMissing blanks column name in every fifth row of tbl, i.e. 20%
// missing.
func WithPartlyMissing(t testing.TB, tbl *dataset.Table, name string) *dataset.Table {
	t.Helper()
	values, ok := tbl.Column(name)
	if !ok {
		t.Fatalf("fixture has no column %s", name)
	}
	for i := range values {
		if i%5 == 0 {
			values[i] = math.NaN()
		}
	}
	out, err := tbl.WithColumn(name, values)
	if err != nil {
		t.Fatalf("replace column: %v", err)
	}
	return out
}

// WriteCSV writes tbl into dir under name with the id column first and
// returns the path.
func WriteCSV(t testing.TB, dir, name string, tbl *dataset.Table) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := dataset.WriteCSVFile(path, tbl, IDColumn); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
