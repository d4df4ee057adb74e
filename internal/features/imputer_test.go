package features

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ccsml/internal/artifacts"
	"ccsml/internal/dataset"
	apperrors "ccsml/internal/errors"
)

var nan = math.NaN()

func TestNanEuclidean(t *testing.T) {
	// sklearn: nan_euclidean_distances([[3, nan, 5]], [[1, 0, 0]]) = sqrt(3/2 * (4 + 25))
	assert.InDelta(t, math.Sqrt(1.5*29), nanEuclidean([]float64{3, nan, 5}, []float64{1, 0, 0}), 1e-12)
	assert.True(t, math.IsNaN(nanEuclidean([]float64{nan, 1}, []float64{2, nan})))
	assert.Equal(t, 5.0, nanEuclidean([]float64{0, 0}, []float64{3, 4}))
}

func TestImputerFillsFromNearestRows(t *testing.T) {
	tbl, err := dataset.NewTable(
		[]string{"a", "b"},
		[][]float64{
			{1, 2, 3, 10, 11, 2.1},
			{10, 20, 30, 100, 110, nan},
		},
		[]string{"r1", "r2", "r3", "r4", "r5", "r6"},
	)
	require.NoError(t, err)

	imp, err := FitImputer(tbl, []string{"b"}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "b_nan"}, imp.Columns)

	out, err := imp.Transform(tbl)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "b_nan"}, out.Columns())
	assert.Equal(t, tbl.IDs(), out.IDs())

	b, _ := out.Column("b")
	// nearest donors of a=2.1 are a=2, 3, 1
	assert.InDelta(t, 20.0, b[5], 1e-12)
	assert.Equal(t, 10.0, b[0])

	ind, _ := out.Column("b_nan")
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 1}, ind)
}

func TestImputerFewerDonorsThanK(t *testing.T) {
	tbl, err := dataset.NewTable([]string{"a", "b"}, [][]float64{{1, 2, 3}, {4, nan, nan}}, nil)
	require.NoError(t, err)

	imp, err := FitImputer(tbl, []string{"b"}, 3)
	require.NoError(t, err)
	out, err := imp.Transform(tbl)
	require.NoError(t, err)
	b, _ := out.Column("b")
	assert.Equal(t, []float64{4, 4, 4}, b)
}

func TestImputerReplayIgnoresExtraColumnsAndRequiresFitted(t *testing.T) {
	train, err := dataset.NewTable([]string{"a", "b"}, [][]float64{{1, 2, 3, 4}, {1, nan, 3, 4}}, nil)
	require.NoError(t, err)
	imp, err := FitImputer(train, []string{"b"}, 2)
	require.NoError(t, err)

	predict, err := dataset.NewTable([]string{"extra", "b", "a"}, [][]float64{{9}, {nan}, {3.9}}, []string{"p1"})
	require.NoError(t, err)
	out, err := imp.Transform(predict)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "b_nan"}, out.Columns())
	assert.Equal(t, []float64{3.9, 3.5, 1}, out.Row(0))

	_, err = imp.Transform(predict.Drop("a"))
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestImputerArtifactRoundTrip(t *testing.T) {
	ctx := context.Background()
	tbl, err := dataset.NewTable([]string{"a", "b"}, [][]float64{{1, 2, 3}, {1, nan, 3}}, nil)
	require.NoError(t, err)
	imp, err := FitImputer(tbl, []string{"b"}, 3)
	require.NoError(t, err)

	store := artifacts.NewMemoryStore()
	batch, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, batch.Save(ctx, artifacts.KeyImputer, imp))
	_, err = batch.Commit(ctx)
	require.NoError(t, err)

	r, err := store.Open(ctx)
	require.NoError(t, err)
	loaded, err := artifacts.LoadAs[*Imputer](ctx, r, artifacts.KeyImputer)
	require.NoError(t, err)

	want, err := imp.Transform(tbl)
	require.NoError(t, err)
	got, err := loaded.Transform(tbl)
	require.NoError(t, err)
	assert.Equal(t, want.Row(1), got.Row(1))
}
