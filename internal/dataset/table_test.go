package dataset

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	apperrors "ccsml/internal/errors"
)

func sampleTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := NewTable(
		[]string{"cement", "water", "age"},
		[][]float64{
			{540, 332.5, 198.6},
			{162, math.NaN(), 192},
			{28, 270, 365},
		},
		[]string{"a", "b", "c"},
	)
	require.NoError(t, err)
	return tbl
}

func TestNewTableValidation(t *testing.T) {
	tests := []struct {
		name  string
		names []string
		cols  [][]float64
		ids   []string
	}{
		{"name count mismatch", []string{"a"}, [][]float64{{1}, {2}}, nil},
		{"ragged columns", []string{"a", "b"}, [][]float64{{1, 2}, {1}}, nil},
		{"duplicate names", []string{"a", "a"}, [][]float64{{1}, {2}}, nil},
		{"ids length mismatch", []string{"a"}, [][]float64{{1, 2}}, []string{"x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable(tt.names, tt.cols, tt.ids)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperrors.ErrValidation))
		})
	}
}

func TestTableIsImmutable(t *testing.T) {
	tbl := sampleTable(t)

	col, ok := tbl.Column("cement")
	require.True(t, ok)
	col[0] = -1

	again, _ := tbl.Column("cement")
	assert.Equal(t, 540.0, again[0])

	scaled, err := tbl.Transform(map[string]ColumnFunc{
		"cement": func(v []float64) []float64 {
			out := make([]float64, len(v))
			for i := range v {
				out[i] = v[i] * 2
			}
			return out
		},
	})
	require.NoError(t, err)

	got, _ := scaled.Column("cement")
	assert.Equal(t, []float64{1080, 665, 397.2}, got)
	orig, _ := tbl.Column("cement")
	assert.Equal(t, []float64{540, 332.5, 198.6}, orig)
}

func TestSelectAndDrop(t *testing.T) {
	tbl := sampleTable(t)

	sel, err := tbl.Select("age", "cement")
	require.NoError(t, err)
	assert.Equal(t, []string{"age", "cement"}, sel.Columns())
	assert.Equal(t, []string{"a", "b", "c"}, sel.IDs())

	_, err = tbl.Select("slag")
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	dropped := tbl.Drop("water", "not-there")
	assert.Equal(t, []string{"cement", "age"}, dropped.Columns())
	assert.Equal(t, 3, dropped.NumRows())
}

func TestWithColumn(t *testing.T) {
	tbl := sampleTable(t)

	added, err := tbl.WithColumn("water_nan", []float64{0, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"cement", "water", "age", "water_nan"}, added.Columns())
	assert.False(t, tbl.Has("water_nan"))

	replaced, err := added.WithColumn("cement", []float64{1, 2, 3})
	require.NoError(t, err)
	col, _ := replaced.Column("cement")
	assert.Equal(t, []float64{1, 2, 3}, col)

	_, err = tbl.WithColumn("short", []float64{1})
	assert.Error(t, err)
}

func TestTakeRowsAndRound(t *testing.T) {
	tbl := sampleTable(t)

	sub := tbl.TakeRows([]int{2, 0})
	assert.Equal(t, []string{"c", "a"}, sub.IDs())
	assert.Equal(t, []float64{198.6, 192, 365}, sub.Row(0))
	assert.Equal(t, 2, sub.NumRows())

	raw, err := NewTable([]string{"x"}, [][]float64{{1.005, 2.344, -3.456, math.NaN()}}, nil)
	require.NoError(t, err)
	rounded := raw.Round(2)
	col, _ := rounded.Column("x")
	assert.InDelta(t, 2.34, col[1], 1e-12)
	assert.InDelta(t, -3.46, col[2], 1e-12)
	assert.True(t, math.IsNaN(col[3]))
}

func TestNaNCountAndRequire(t *testing.T) {
	tbl := sampleTable(t)
	assert.Equal(t, 1, tbl.NaNCount("water"))
	assert.Equal(t, 0, tbl.NaNCount("cement"))

	err := tbl.RequireColumns("cement", "slag", "ash")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slag, ash")
}

func TestMatrix(t *testing.T) {
	tbl := sampleTable(t)
	m := tbl.Matrix()
	r, c := m.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 3, c)
	assert.Equal(t, 270.0, m.At(1, 2))

	assert.Equal(t, []float64{28, 270, 365}, mat.Col(nil, 2, m))

	empty, err := NewTable(nil, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, empty.Matrix())
}

func TestConcat(t *testing.T) {
	a, err := NewTable([]string{"x", "y"}, [][]float64{{1}, {2}}, []string{"1"})
	require.NoError(t, err)
	b, err := NewTable([]string{"y", "x"}, [][]float64{{20, 30}, {10, 15}}, []string{"2", "3"})
	require.NoError(t, err)

	merged, err := Concat(a, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, merged.IDs())
	x, _ := merged.Column("x")
	assert.Equal(t, []float64{1, 10, 15}, x)

	c, err := NewTable([]string{"x"}, [][]float64{{1}}, []string{"4"})
	require.NoError(t, err)
	_, err = Concat(a, c)
	assert.Error(t, err)
}
