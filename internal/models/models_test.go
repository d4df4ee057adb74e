package models

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"ccsml/internal/artifacts"
	apperrors "ccsml/internal/errors"
)

// linearData returns y = 3*x1 + 2*x2 + 1 on a small grid.
func linearData(n int) (*mat.Dense, []float64) {
	x := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x1, x2 := float64(i%10), float64(i/10)
		x.SetRow(i, []float64{x1, x2})
		y[i] = 3*x1 + 2*x2 + 1
	}
	return x, y
}

// stepData returns y = 10 when x1 > 0 and 0 otherwise, with a gap around 0.
func stepData(n int) (*mat.Dense, []float64) {
	x := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x1 := -3 + float64(i%10)*0.2
		if i%2 == 1 {
			x1 = 1 + float64(i%10)*0.2
			y[i] = 10
		}
		x.SetRow(i, []float64{x1, float64(i % 7)})
	}
	return x, y
}

func TestRidgeRecoversLinearModel(t *testing.T) {
	x, y := linearData(60)
	m := &Ridge{Alpha: 1e-9}
	require.NoError(t, m.Fit(x, y))
	assert.InDelta(t, 3, m.Coef[0], 1e-6)
	assert.InDelta(t, 2, m.Coef[1], 1e-6)
	assert.InDelta(t, 1, m.Intercept, 1e-6)

	pred, err := m.Predict(mat.NewDense(1, 2, []float64{2, 2}))
	require.NoError(t, err)
	assert.InDelta(t, 11, pred[0], 1e-6)
}

func TestRidgeShrinks(t *testing.T) {
	x, y := linearData(60)
	strong := &Ridge{Alpha: 1e6}
	require.NoError(t, strong.Fit(x, y))
	assert.Less(t, math.Abs(strong.Coef[0]), 1.0)
}

func TestRandomForestFitsStep(t *testing.T) {
	x, y := stepData(40)
	m := &RandomForest{Trees: 20, Seed: 42}
	require.NoError(t, m.Fit(x, y))
	pred, err := m.Predict(mat.NewDense(2, 2, []float64{-2, 3, 2, 3}))
	require.NoError(t, err)
	assert.InDelta(t, 0, pred[0], 1e-9)
	assert.InDelta(t, 10, pred[1], 1e-9)
}

func TestRandomForestIsSeeded(t *testing.T) {
	x, y := linearData(50)
	a := &RandomForest{Trees: 5, Seed: 7}
	b := &RandomForest{Trees: 5, Seed: 7}
	require.NoError(t, a.Fit(x, y))
	require.NoError(t, b.Fit(x, y))
	assert.Equal(t, a.Forest, b.Forest)
}

func TestKNN(t *testing.T) {
	x := mat.NewDense(4, 1, []float64{0, 1, 2, 10})
	y := []float64{0, 1, 2, 10}

	m := &KNN{K: 2}
	require.NoError(t, m.Fit(x, y))
	pred, err := m.Predict(mat.NewDense(1, 1, []float64{0.4}))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, pred[0], 1e-12)

	tooFew := &KNN{K: 5}
	assert.Error(t, tooFew.Fit(x, y))
}

func TestPredictRejectsWrongWidth(t *testing.T) {
	x, y := linearData(20)
	m := &Ridge{Alpha: 1}
	require.NoError(t, m.Fit(x, y))
	_, err := m.Predict(mat.NewDense(1, 3, nil))
	assert.Error(t, err)
}

func TestTrainTestSplit(t *testing.T) {
	x, y := linearData(10)

	s, err := TrainTestSplit(x, y, 0.25, 42)
	require.NoError(t, err)
	assert.Len(t, s.TestY, 3)
	assert.Len(t, s.TrainY, 7)

	again, err := TrainTestSplit(x, y, 0.25, 42)
	require.NoError(t, err)
	assert.Equal(t, s.TestY, again.TestY)

	seen := map[float64]int{}
	for _, v := range append(append([]float64{}, s.TrainY...), s.TestY...) {
		seen[v]++
	}
	assert.Len(t, seen, 10)

	one := mat.NewDense(1, 2, []float64{1, 2})
	_, err = TrainTestSplit(one, []float64{1}, 0.25, 42)
	assert.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestR2(t *testing.T) {
	tests := []struct {
		name  string
		truth []float64
		pred  []float64
		want  float64
	}{
		{"perfect", []float64{1, 2, 3}, []float64{1, 2, 3}, 1},
		{"mean", []float64{1, 2, 3}, []float64{2, 2, 2}, 0},
		{"worse than mean", []float64{1, 2, 3}, []float64{3, 2, 1}, -3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, R2(tt.truth, tt.pred), 1e-12)
		})
	}
	assert.True(t, math.IsNaN(R2([]float64{4, 4}, []float64{4, 4})))
	assert.True(t, math.IsNaN(R2([]float64{4}, []float64{4})))
}

func TestSelectBestPrefersRidgeOnLinearData(t *testing.T) {
	x, y := linearData(60)
	split, err := TrainTestSplit(x, y, 0.25, 42)
	require.NoError(t, err)

	best, err := SelectBest(context.Background(), 0, Panel(DefaultOptions()), split, nil)
	require.NoError(t, err)
	assert.Equal(t, NameRidge, best.Name)
	assert.Len(t, best.Scores, 3)
	assert.Greater(t, best.Score, 0.99)
}

func TestSelectBestPrefersForestOnStep(t *testing.T) {
	x, y := stepData(60)
	split, err := TrainTestSplit(x, y, 0.25, 42)
	require.NoError(t, err)

	best, err := SelectBest(context.Background(), 1, Panel(DefaultOptions()), split, nil)
	require.NoError(t, err)
	assert.Equal(t, NameRandomForest, best.Name)
	assert.Equal(t, 1, best.ClusterID)
}

func TestSelectBestTieGoesToFirstCandidate(t *testing.T) {
	x, y := linearData(20)
	split, err := TrainTestSplit(x, y, 0.25, 42)
	require.NoError(t, err)
	same := func() Regressor { return &Ridge{Alpha: 1} }

	best, err := SelectBest(context.Background(), 0, []Candidate{{"first", same}, {"second", same}}, split, nil)
	require.NoError(t, err)
	assert.Equal(t, "first", best.Name)
}

func TestSelectBestSkipsFailingCandidate(t *testing.T) {
	x, y := linearData(6)
	split, err := TrainTestSplit(x, y, 0.25, 42)
	require.NoError(t, err)

	best, err := SelectBest(context.Background(), 0, Panel(DefaultOptions()), split, nil)
	require.NoError(t, err)
	assert.NotContains(t, best.Scores, NameKNN)
}

func TestSelectBestAllFail(t *testing.T) {
	x, y := linearData(4)
	split, err := TrainTestSplit(x, y, 0.25, 42)
	require.NoError(t, err)

	_, err = SelectBest(context.Background(), 3, Panel(DefaultOptions()), split, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrAllCandidatesFailed))
	assert.Contains(t, err.Error(), "cluster 3")
	assert.Contains(t, err.Error(), NameKNN)
}

func TestArtifactRoundTrip(t *testing.T) {
	ctx := context.Background()
	x, y := linearData(30)
	forest := &RandomForest{Trees: 3, Seed: 1}
	require.NoError(t, forest.Fit(x, y))
	want, err := forest.Predict(x)
	require.NoError(t, err)

	store := artifacts.NewMemoryStore()
	batch, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, batch.Save(ctx, artifacts.ModelKey(2), &Artifact{ClusterID: 2, Name: NameRandomForest, Score: 0.5, Model: forest}))
	_, err = batch.Commit(ctx)
	require.NoError(t, err)

	reader, err := store.Open(ctx)
	require.NoError(t, err)
	loaded, err := artifacts.LoadAs[*Artifact](ctx, reader, artifacts.ModelKey(2))
	require.NoError(t, err)
	assert.Equal(t, NameRandomForest, loaded.Name)
	got, err := loaded.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
