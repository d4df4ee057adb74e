package features

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"

	"ccsml/internal/dataset"
)

// ZeroVariance lists the columns whose non-missing values are all equal.
func ZeroVariance(t *dataset.Table) []string {
	var out []string
	for _, name := range t.Columns() {
		values, _ := t.Column(name)
		first, constant := math.NaN(), true
		for _, v := range values {
			if math.IsNaN(v) {
				continue
			}
			if math.IsNaN(first) {
				first = v
				continue
			}
			if v != first {
				constant = false
				break
			}
		}
		if constant {
			out = append(out, name)
		}
	}
	return out
}

// LowImportance lists the columns whose absolute Pearson correlation with the
// label is below threshold. Columns where the correlation is undefined count
// as unimportant.
func LowImportance(t *dataset.Table, label []float64, threshold float64) []string {
	var out []string
	for _, name := range t.Columns() {
		values, _ := t.Column(name)
		r := stat.Correlation(values, label, nil)
		if math.IsNaN(r) || math.Abs(r) < threshold {
			out = append(out, name)
		}
	}
	return out
}

// HighCorrelation lists every column whose absolute correlation with an
// earlier column exceeds threshold. Of each correlated pair the later column
// is dropped.
func HighCorrelation(t *dataset.Table, threshold float64) []string {
	names := t.Columns()
	cols := make([][]float64, len(names))
	for i, name := range names {
		cols[i], _ = t.Column(name)
	}
	var out []string
	for i := range names {
		for j := 0; j < i; j++ {
			r := stat.Correlation(cols[i], cols[j], nil)
			if math.Abs(r) > threshold {
				out = append(out, names[i])
				break
			}
		}
	}
	return out
}

// Union merges column lists, keeping first-seen order and dropping duplicates.
func Union(lists ...[]string) []string {
	var out []string
	for _, list := range lists {
		for _, name := range list {
			if !slices.Contains(out, name) {
				out = append(out, name)
			}
		}
	}
	return out
}
