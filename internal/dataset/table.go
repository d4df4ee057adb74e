package dataset

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"gonum.org/v1/gonum/mat"

	apperrors "ccsml/internal/errors"
)

// Mode selects which validated file a loader reads and which columns it requires.
type Mode string

const (
	ModeTraining   Mode = "training"
	ModePrediction Mode = "prediction"
)

// ColumnFunc maps one column to its transformed values. It must not modify its input.
type ColumnFunc func(values []float64) []float64

// Table is an immutable column-major numeric table with optional row ids.
type Table struct {
	names []string
	index map[string]int
	cols  [][]float64
	ids   []string
	rows  int
}

// NewTable builds a table from column names and column values. ids may be nil.
// The slices are copied.
func NewTable(names []string, cols [][]float64, ids []string) (*Table, error) {
	if len(names) != len(cols) {
		return nil, apperrors.NewValidationError(fmt.Sprintf("%d column names for %d columns", len(names), len(cols)))
	}
	rows := -1
	if ids != nil {
		rows = len(ids)
	}
	index := make(map[string]int, len(names))
	copied := make([][]float64, len(cols))
	for i, name := range names {
		if _, dup := index[name]; dup {
			return nil, apperrors.NewValidationError(fmt.Sprintf("duplicate column %q", name))
		}
		index[name] = i
		if rows == -1 {
			rows = len(cols[i])
		}
		if len(cols[i]) != rows {
			return nil, apperrors.NewValidationError(fmt.Sprintf("column %q has %d rows, expected %d", name, len(cols[i]), rows))
		}
		copied[i] = slices.Clone(cols[i])
	}
	if rows == -1 {
		rows = 0
	}
	return &Table{
		names: slices.Clone(names),
		index: index,
		cols:  copied,
		ids:   slices.Clone(ids),
		rows:  rows,
	}, nil
}

// newOwned builds a table that takes ownership of its arguments.
func newOwned(names []string, cols [][]float64, ids []string, rows int) *Table {
	index := make(map[string]int, len(names))
	for i, name := range names {
		index[name] = i
	}
	return &Table{names: names, index: index, cols: cols, ids: ids, rows: rows}
}

// Columns returns the column names in order.
func (t *Table) Columns() []string { return slices.Clone(t.names) }

// NumRows returns the number of rows.
func (t *Table) NumRows() int { return t.rows }

// NumCols returns the number of numeric columns.
func (t *Table) NumCols() int { return len(t.names) }

// Has reports whether the column exists.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// HasIDs reports whether the table carries row ids.
func (t *Table) HasIDs() bool { return t.ids != nil }

// IDs returns the row ids, or nil.
func (t *Table) IDs() []string { return slices.Clone(t.ids) }

// Column returns a copy of the named column.
func (t *Table) Column(name string) ([]float64, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return slices.Clone(t.cols[i]), true
}

// Row returns the values of row i in column order.
func (t *Table) Row(i int) []float64 {
	out := make([]float64, len(t.cols))
	for j, col := range t.cols {
		out[j] = col[i]
	}
	return out
}

// RequireColumns fails with a validation error listing every absent column.
func (t *Table) RequireColumns(names ...string) error {
	var missing []string
	for _, name := range names {
		if !t.Has(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return apperrors.NewValidationError("missing required columns: " + strings.Join(missing, ", ")).
			WithContext("columns", missing)
	}
	return nil
}

// Select returns a table with exactly the named columns in the given order.
func (t *Table) Select(names ...string) (*Table, error) {
	if err := t.RequireColumns(names...); err != nil {
		return nil, err
	}
	cols := make([][]float64, len(names))
	for i, name := range names {
		cols[i] = t.cols[t.index[name]]
	}
	return newOwned(slices.Clone(names), cols, t.ids, t.rows), nil
}

// Drop returns a table without the named columns. Absent names are ignored.
func (t *Table) Drop(names ...string) *Table {
	drop := make(map[string]struct{}, len(names))
	for _, name := range names {
		drop[name] = struct{}{}
	}
	keptNames := make([]string, 0, len(t.names))
	keptCols := make([][]float64, 0, len(t.cols))
	for i, name := range t.names {
		if _, ok := drop[name]; ok {
			continue
		}
		keptNames = append(keptNames, name)
		keptCols = append(keptCols, t.cols[i])
	}
	return newOwned(keptNames, keptCols, t.ids, t.rows)
}

// WithColumn returns a table with the column replaced, or appended if new.
func (t *Table) WithColumn(name string, values []float64) (*Table, error) {
	if len(values) != t.rows {
		return nil, apperrors.NewValidationError(fmt.Sprintf("column %q has %d rows, expected %d", name, len(values), t.rows))
	}
	names := slices.Clone(t.names)
	cols := slices.Clone(t.cols)
	if i, ok := t.index[name]; ok {
		cols[i] = slices.Clone(values)
	} else {
		names = append(names, name)
		cols = append(cols, slices.Clone(values))
	}
	return newOwned(names, cols, t.ids, t.rows), nil
}

// WithIDs returns a table carrying the given row ids.
func (t *Table) WithIDs(ids []string) (*Table, error) {
	if ids != nil && len(ids) != t.rows {
		return nil, apperrors.NewValidationError(fmt.Sprintf("%d ids for %d rows", len(ids), t.rows))
	}
	return newOwned(t.names, t.cols, slices.Clone(ids), t.rows), nil
}

// Transform applies per-column closures in one pass and returns the new table.
// Columns without a closure are shared with t. Names without a column are ignored.
func (t *Table) Transform(fns map[string]ColumnFunc) (*Table, error) {
	cols := slices.Clone(t.cols)
	for name, fn := range fns {
		i, ok := t.index[name]
		if !ok {
			continue
		}
		out := fn(t.cols[i])
		if len(out) != t.rows {
			return nil, apperrors.NewValidationError(fmt.Sprintf("transform of %q returned %d rows, expected %d", name, len(out), t.rows))
		}
		cols[i] = out
	}
	return newOwned(t.names, cols, t.ids, t.rows), nil
}

// TakeRows returns a table holding the given rows in the given order.
func (t *Table) TakeRows(rows []int) *Table {
	cols := make([][]float64, len(t.cols))
	for j, col := range t.cols {
		out := make([]float64, len(rows))
		for k, r := range rows {
			out[k] = col[r]
		}
		cols[j] = out
	}
	var ids []string
	if t.ids != nil {
		ids = make([]string, len(rows))
		for k, r := range rows {
			ids[k] = t.ids[r]
		}
	}
	return newOwned(t.names, cols, ids, len(rows))
}

// Round returns a table with every value rounded half away from zero to the given decimals.
func (t *Table) Round(decimals int) *Table {
	scale := math.Pow(10, float64(decimals))
	cols := make([][]float64, len(t.cols))
	for j, col := range t.cols {
		out := make([]float64, len(col))
		for i, v := range col {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				out[i] = v
				continue
			}
			out[i] = math.Round(v*scale) / scale
		}
		cols[j] = out
	}
	return newOwned(t.names, cols, t.ids, t.rows)
}

// NaNCount returns the number of missing values in the named column.
func (t *Table) NaNCount(name string) int {
	i, ok := t.index[name]
	if !ok {
		return 0
	}
	n := 0
	for _, v := range t.cols[i] {
		if math.IsNaN(v) {
			n++
		}
	}
	return n
}

// Matrix returns the numeric columns as a rows x cols dense matrix, or nil for an empty table.
func (t *Table) Matrix() *mat.Dense {
	if t.rows == 0 || len(t.cols) == 0 {
		return nil
	}
	m := mat.NewDense(t.rows, len(t.cols), nil)
	for j, col := range t.cols {
		m.SetCol(j, col)
	}
	return m
}

// Concat stacks tables with the same column set. Columns are aligned by name
// to the order of the first table.
func Concat(tables ...*Table) (*Table, error) {
	if len(tables) == 0 {
		return nil, apperrors.NewValidationError("nothing to concatenate")
	}
	first := tables[0]
	total := 0
	withIDs := first.HasIDs()
	for _, t := range tables {
		if t.NumCols() != first.NumCols() {
			return nil, apperrors.NewValidationError(fmt.Sprintf("column count %d does not match %d", t.NumCols(), first.NumCols()))
		}
		if err := t.RequireColumns(first.names...); err != nil {
			return nil, err
		}
		if t.HasIDs() != withIDs {
			return nil, apperrors.NewValidationError("cannot mix tables with and without ids")
		}
		total += t.rows
	}

	cols := make([][]float64, len(first.names))
	for j, name := range first.names {
		out := make([]float64, 0, total)
		for _, t := range tables {
			out = append(out, t.cols[t.index[name]]...)
		}
		cols[j] = out
	}
	var ids []string
	if withIDs {
		ids = make([]string, 0, total)
		for _, t := range tables {
			ids = append(ids, t.ids...)
		}
	}
	return newOwned(slices.Clone(first.names), cols, ids, total), nil
}
