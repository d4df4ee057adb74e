package features

import (
	"fmt"
	"math"
	"sort"

	"ccsml/internal/artifacts"
	"ccsml/internal/dataset"
	apperrors "ccsml/internal/errors"
)

// IndicatorSuffix names the 0/1 column recording where a value was missing.
const IndicatorSuffix = "_nan"

// IndicatorName returns the indicator column of source.
func IndicatorName(source string) string { return source + IndicatorSuffix }

// Imputer fills missing values with the mean of the k nearest training rows
// under the nan-euclidean distance, with uniform weights.
type Imputer struct {
	// Columns is the fitted column order, indicators included.
	Columns []string
	// Sources are the columns that get an indicator.
	Sources []string
	K       int
	// Data holds the fitted rows, NaN where missing.
	Data [][]float64
	// Means are the column means of Data, used when no donor is comparable.
	Means []float64
}

func (*Imputer) Kind() artifacts.Kind { return artifacts.KindImputer }

func init() {
	artifacts.Register(artifacts.KindImputer, func() artifacts.Artifact { return &Imputer{} })
}

// FitImputer adds an indicator column for every source and fits the imputer
// jointly over all columns of t.
func FitImputer(t *dataset.Table, sources []string, k int) (*Imputer, error) {
	if k < 1 {
		return nil, apperrors.NewValidationError(fmt.Sprintf("imputer needs k >= 1, got %d", k))
	}
	if err := t.RequireColumns(sources...); err != nil {
		return nil, err
	}
	withIndicators, err := addIndicators(t, sources)
	if err != nil {
		return nil, err
	}
	if withIndicators.NumRows() == 0 {
		return nil, apperrors.NewValidationError("cannot fit imputer on an empty table")
	}

	cols := withIndicators.Columns()
	data := make([][]float64, withIndicators.NumRows())
	for i := range data {
		data[i] = withIndicators.Row(i)
	}
	means := make([]float64, len(cols))
	for j := range cols {
		sum, n := 0.0, 0
		for _, row := range data {
			if !math.IsNaN(row[j]) {
				sum += row[j]
				n++
			}
		}
		means[j] = math.NaN()
		if n > 0 {
			means[j] = sum / float64(n)
		}
	}

	return &Imputer{
		Columns: cols,
		Sources: append([]string(nil), sources...),
		K:       k,
		Data:    data,
		Means:   means,
	}, nil
}

func addIndicators(t *dataset.Table, sources []string) (*dataset.Table, error) {
	out := t
	for _, src := range sources {
		values, ok := t.Column(src)
		if !ok {
			return nil, apperrors.NewValidationError("missing imputed column " + src)
		}
		ind := make([]float64, len(values))
		for i, v := range values {
			if math.IsNaN(v) {
				ind[i] = 1
			}
		}
		var err error
		out, err = out.WithColumn(IndicatorName(src), ind)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Transform rebuilds the indicators, selects the fitted column order and
// fills every missing value.
func (imp *Imputer) Transform(t *dataset.Table) (*dataset.Table, error) {
	withIndicators, err := addIndicators(t, imp.Sources)
	if err != nil {
		return nil, err
	}
	selected, err := withIndicators.Select(imp.Columns...)
	if err != nil {
		return nil, err
	}

	n := selected.NumRows()
	cols := make([][]float64, len(imp.Columns))
	for j, name := range imp.Columns {
		cols[j], _ = selected.Column(name)
	}
	for i := 0; i < n; i++ {
		row := selected.Row(i)
		for j, v := range row {
			if math.IsNaN(v) {
				cols[j][i] = imp.impute(row, j)
			}
		}
	}
	return dataset.NewTable(imp.Columns, cols, selected.IDs())
}

type donor struct {
	dist  float64
	index int
}

// impute returns the value of column j for row from its nearest donors.
func (imp *Imputer) impute(row []float64, j int) float64 {
	donors := make([]donor, 0, len(imp.Data))
	for idx, d := range imp.Data {
		if math.IsNaN(d[j]) {
			continue
		}
		dist := nanEuclidean(row, d)
		if math.IsNaN(dist) {
			continue
		}
		donors = append(donors, donor{dist: dist, index: idx})
	}
	if len(donors) == 0 {
		return imp.Means[j]
	}
	sort.SliceStable(donors, func(a, b int) bool { return donors[a].dist < donors[b].dist })

	k := imp.K
	if k > len(donors) {
		k = len(donors)
	}
	sum := 0.0
	for _, d := range donors[:k] {
		sum += imp.Data[d.index][j]
	}
	return sum / float64(k)
}

// nanEuclidean is the euclidean distance over coordinates present in both
// rows, scaled up by the fraction of coordinates present. It is NaN when the
// rows share no coordinate.
func nanEuclidean(x, y []float64) float64 {
	sq, present := 0.0, 0
	for i := range x {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) {
			continue
		}
		d := x[i] - y[i]
		sq += d * d
		present++
	}
	if present == 0 {
		return math.NaN()
	}
	return math.Sqrt(float64(len(x)) / float64(present) * sq)
}
