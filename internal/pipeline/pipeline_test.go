package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ccsml/internal/artifacts"
	"ccsml/internal/dataset"
	apperrors "ccsml/internal/errors"
	"ccsml/internal/models"
	"ccsml/internal/shared/testutil"
)

func testLogger(t *testing.T) *slog.Logger {
	logger, _ := testutil.NewTestLogger(t)
	return logger
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.LabelColumn = testutil.LabelColumn
	opts.IDColumn = testutil.IDColumn
	// The two regimes shift x1 and x2 together, so they are strongly
	// correlated across the whole batch.
	opts.CorrelationThreshold = 1
	opts.Models.RidgeAlpha = 1e-6
	opts.Models.ForestTrees = 20
	return opts
}

func trainFixture(t *testing.T, data *dataset.Table) (artifacts.Store, *TrainingResult) {
	t.Helper()
	store := artifacts.NewMemoryStore()
	result, err := NewTrainer(store, testOptions(), Deps{Logger: testLogger(t)}).
		Train(context.Background(), data)
	require.NoError(t, err)
	return store, result
}

func TestTrainTwoRegimesPicksDistinctModels(t *testing.T) {
	ctx := context.Background()
	data := testutil.TwoRegimeTable(t)
	store, result := trainFixture(t, data)

	assert.Equal(t, 2, result.Clusters)
	assert.Equal(t, 80, result.Rows)
	assert.NotEmpty(t, result.Generation)
	require.Len(t, result.Models, 2)

	byModel := map[string]ModelSummary{}
	for _, m := range result.Models {
		byModel[m.Model] = m
		assert.Equal(t, testutil.RegimeRows, m.Rows)
	}
	require.Contains(t, byModel, models.NameRidge)
	require.Contains(t, byModel, models.NameRandomForest)

	reader, err := store.Open(ctx)
	require.NoError(t, err)
	manifest := reader.Manifest()
	for _, key := range []string{
		artifacts.KeyScaler, artifacts.KeyPartitioner, artifacts.KeyContinuous,
		artifacts.KeyDiscrete, artifacts.KeyNormal, artifacts.KeyLambdas,
		artifacts.KeyLog, artifacts.KeyDropped,
		artifacts.ModelKey(0), artifacts.ModelKey(1),
	} {
		assert.True(t, manifest.Has(key), key)
	}
	assert.False(t, manifest.Has(artifacts.KeyImputer))

	for name, summary := range byModel {
		m, err := artifacts.LoadAs[*models.Artifact](ctx, reader, artifacts.ModelKey(summary.ClusterID))
		require.NoError(t, err)
		assert.Equal(t, name, m.Name)
	}

	preds, err := NewPredictor(store, testOptions(), Deps{Logger: testLogger(t)}).Predict(ctx, data)
	require.NoError(t, err)
	require.Len(t, preds, 80)

	label, _ := data.Column(testutil.LabelColumn)
	ids := data.IDs()
	for i, p := range preds {
		assert.Equal(t, ids[i], p.ID)
		if i < testutil.RegimeRows {
			assert.Equal(t, byModel[models.NameRidge].ClusterID, p.ClusterID)
			assert.Equal(t, models.NameRidge, p.Model)
			assert.InDelta(t, label[i], p.Value, 1e-3)
		} else {
			assert.Equal(t, byModel[models.NameRandomForest].ClusterID, p.ClusterID)
			assert.Equal(t, models.NameRandomForest, p.Model)
			assert.InDelta(t, label[i], p.Value, 1e-9)
		}
	}
}

func TestPredictIsIdempotent(t *testing.T) {
	ctx := context.Background()
	data := testutil.TwoRegimeTable(t)
	store, _ := trainFixture(t, data)

	input := data.Drop(testutil.LabelColumn)
	p := NewPredictor(store, testOptions(), Deps{Logger: testLogger(t)})
	first, err := p.Predict(ctx, input)
	require.NoError(t, err)
	second, err := p.Predict(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMostlyMissingColumnIsDropped(t *testing.T) {
	ctx := context.Background()
	data := testutil.WithMostlyMissing(t, testutil.TwoRegimeTable(t), "m")
	store, result := trainFixture(t, data)
	assert.Contains(t, result.Dropped, "m")

	reader, err := store.Open(ctx)
	require.NoError(t, err)
	dropped, err := artifacts.LoadAs[*artifacts.FeatureSet](ctx, reader, artifacts.KeyDropped)
	require.NoError(t, err)
	assert.True(t, dropped.Contains("m"))
	assert.False(t, reader.Manifest().Has(artifacts.KeyImputer))

	p := NewPredictor(store, testOptions(), Deps{Logger: testLogger(t)})
	withM, err := p.Predict(ctx, data)
	require.NoError(t, err)
	withoutM, err := p.Predict(ctx, data.Drop("m"))
	require.NoError(t, err)
	assert.Equal(t, withM, withoutM)
}

func TestPartlyMissingColumnIsImputed(t *testing.T) {
	ctx := context.Background()
	data := testutil.WithPartlyMissing(t, testutil.TwoRegimeTable(t), "x2")
	store, result := trainFixture(t, data)
	assert.Equal(t, 2, result.Clusters)
	assert.NotContains(t, result.Dropped, "x2")
	// the indicator is unrelated to the label
	assert.Contains(t, result.Dropped, "x2_nan")
	require.Len(t, result.Assignments, 80)

	reader, err := store.Open(ctx)
	require.NoError(t, err)
	assert.True(t, reader.Manifest().Has(artifacts.KeyImputer))

	p := NewPredictor(store, testOptions(), Deps{Logger: testLogger(t)})
	preds, err := p.Predict(ctx, data.Drop(testutil.LabelColumn))
	require.NoError(t, err)
	require.Len(t, preds, 80)
	for i, pred := range preds {
		assert.Equal(t, result.Assignments[i], pred.ClusterID, "row %d", i)
		regime := preds[0].ClusterID
		if i >= testutil.RegimeRows {
			regime = preds[testutil.RegimeRows].ClusterID
		}
		assert.Equal(t, regime, pred.ClusterID, "row %d", i)
	}
	assert.NotEqual(t, preds[0].ClusterID, preds[testutil.RegimeRows].ClusterID)

	fresh, err := dataset.NewTable([]string{"x1", "x2"},
		[][]float64{{1.5, 11.5}, {math.NaN(), math.NaN()}},
		[]string{"low", "high"})
	require.NoError(t, err)
	freshPreds, err := p.Predict(ctx, fresh)
	require.NoError(t, err)
	require.Len(t, freshPreds, 2)
	assert.Equal(t, preds[0].ClusterID, freshPreds[0].ClusterID)
	assert.Equal(t, preds[testutil.RegimeRows].ClusterID, freshPreds[1].ClusterID)
	for _, pred := range freshPreds {
		assert.False(t, math.IsNaN(pred.Value), pred.ID)
	}
}

func TestPredictBeforeTrain(t *testing.T) {
	p := NewPredictor(artifacts.NewMemoryStore(), testOptions(), Deps{Logger: testLogger(t)})
	_, err := p.Predict(context.Background(), testutil.TwoRegimeTable(t))
	assert.True(t, errors.Is(err, apperrors.ErrArtifactNotFound))
}

func TestPredictRejectsIncompleteRows(t *testing.T) {
	ctx := context.Background()
	data := testutil.TwoRegimeTable(t)
	store, _ := trainFixture(t, data)
	p := NewPredictor(store, testOptions(), Deps{Logger: testLogger(t)})

	x1, _ := data.Column("x1")
	x1[3] = math.NaN()
	withNaN, err := data.WithColumn("x1", x1)
	require.NoError(t, err)

	tests := []struct {
		name  string
		input *dataset.Table
	}{
		{"missing value", withNaN},
		{"missing column", data.Drop("x2")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Predict(ctx, tt.input)
			assert.True(t, errors.Is(err, apperrors.ErrValidation), "got %v", err)
		})
	}
}

func TestTrainRejectsMissingLabel(t *testing.T) {
	data := testutil.TwoRegimeTable(t).Drop(testutil.LabelColumn)
	store := artifacts.NewMemoryStore()
	_, err := NewTrainer(store, testOptions(), Deps{Logger: testLogger(t)}).Train(context.Background(), data)
	require.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = store.Open(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrArtifactNotFound), "a failed run must not commit")
}

func TestFailedClusterStillCommits(t *testing.T) {
	ctx := context.Background()
	data := testutil.TwoRegimeTable(t)
	feats := data.Drop(testutil.LabelColumn).TakeRows(seq(0, 41))
	label, _ := data.Column(testutil.LabelColumn)

	store := artifacts.NewMemoryStore()
	batch, err := store.Begin(ctx)
	require.NoError(t, err)

	ids := make([]int, 41)
	ids[40] = 1
	tr := NewTrainer(store, testOptions(), Deps{Logger: testLogger(t)})
	c := &TrainingContext{
		Logger:     testLogger(t),
		Batch:      batch,
		Features:   feats,
		Label:      label[:41],
		K:          2,
		ClusterIDs: ids,
		Models:     make(map[int]*models.Artifact),
	}
	require.NoError(t, tr.trainModels(ctx, c))
	require.Len(t, c.Failures, 1)
	assert.True(t, errors.Is(c.Failures[0], apperrors.ErrAllCandidatesFailed))
	assert.Contains(t, c.Models, 0)

	require.NoError(t, tr.commit(ctx, c))
	reader, err := store.Open(ctx)
	require.NoError(t, err)
	assert.True(t, reader.Manifest().Has(artifacts.ModelKey(0)))
	assert.False(t, reader.Manifest().Has(artifacts.ModelKey(1)))

	_, _, err = NewRouter(reader, nil).PredictAll(ctx, feats.TakeRows([]int{0, 40}), []int{0, 1})
	require.True(t, errors.Is(err, apperrors.ErrClusterRouting))
	assert.Contains(t, err.Error(), "cluster 1")
}

func seq(from, to int) []int {
	out := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}
