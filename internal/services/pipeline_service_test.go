package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ccsml/internal/artifacts"
	"ccsml/internal/config"
	"ccsml/internal/dataset"
	"ccsml/internal/datastore"
	apperrors "ccsml/internal/errors"
	"ccsml/internal/ingest"
	"ccsml/internal/shared/testutil"
)

type MockBackgroundWriter struct {
	mock.Mock
}

func (m *MockBackgroundWriter) SubmitGoodData(table string, data *dataset.Table) error {
	return m.Called(table, data).Error(0)
}

func (m *MockBackgroundWriter) SubmitPredictions(table string, rows []datastore.PredictionRow) error {
	return m.Called(table, rows).Error(0)
}

type MockGoodDataSource struct {
	mock.Mock
}

func (m *MockGoodDataSource) ExportGoodData(ctx context.Context, table string) (*dataset.Table, error) {
	args := m.Called(ctx, table)
	data, _ := args.Get(0).(*dataset.Table)
	return data, args.Error(1)
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	root := t.TempDir()
	cfg.Paths = config.PathsConfig{
		DataDir:      filepath.Join(root, "data"),
		UploadDir:    filepath.Join(root, "uploads"),
		ArchiveDir:   filepath.Join(root, "archive"),
		ArtifactsDir: filepath.Join(root, "artifacts"),
		ResultsDir:   filepath.Join(root, "results"),
		LogsDir:      filepath.Join(root, "logs"),
	}
	cfg.Pipeline.LabelColumn = testutil.LabelColumn
	cfg.Pipeline.IDColumn = testutil.IDColumn
	cfg.Pipeline.CorrelationThreshold = 1
	cfg.Pipeline.RidgeAlpha = 1e-6
	cfg.Pipeline.ForestTrees = 20
	cfg.Ingest = config.IngestConfig{FilePattern: `^batch_\d+\.csv$`}
	return cfg
}

func newService(t *testing.T, cfg *config.Config, deps Dependencies) *PipelineService {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	if deps.Store == nil {
		deps.Store = artifacts.NewMemoryStore()
	}
	if deps.Ingestor == nil {
		v, err := ingest.NewValidator(cfg.Ingest, cfg.Pipeline.IDColumn, cfg.Pipeline.LabelColumn, logger)
		require.NoError(t, err)
		deps.Ingestor = ingest.NewIngestor(v, cfg.Paths, 2, logger)
	}
	deps.Logger = logger
	return NewPipelineService(cfg, deps)
}

func predictionBatch(t *testing.T) *dataset.Table {
	t.Helper()
	return testutil.TwoRegimeTable(t).Drop(testutil.LabelColumn)
}

func TestPipelineServiceTrainPredictArtifacts(t *testing.T) {
	cfg := testConfig(t)
	writer := new(MockBackgroundWriter)
	writer.On("SubmitPredictions", "prediction_results", mock.AnythingOfType("[]datastore.PredictionRow")).Return(nil).Once()
	svc := newService(t, cfg, Dependencies{Writer: writer})
	ctx := context.Background()

	testutil.WriteCSV(t, cfg.Paths.DataDir, config.TrainingFileName, testutil.TwoRegimeTable(t))
	result, err := svc.Train(ctx, TrainRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Clusters)
	assert.NotEmpty(t, result.Generation)

	summary, err := svc.Artifacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, result.Generation, summary.Generation)
	assert.Contains(t, summary.Keys, "scaler")
	assert.Contains(t, summary.Keys, "cluster-partitioner")
	require.Len(t, summary.Models, 2)
	for i, m := range summary.Models {
		assert.Equal(t, i, m.ClusterID)
		assert.NotEmpty(t, m.Model)
		assert.Contains(t, m.Scores, m.Model)
	}

	testutil.WriteCSV(t, cfg.Paths.DataDir, config.PredictionFileName, predictionBatch(t))
	resp, err := svc.Predict(ctx)
	require.NoError(t, err)
	assert.Equal(t, result.Generation, resp.Generation)
	assert.Len(t, resp.Predictions, 2*testutil.RegimeRows)
	require.Len(t, resp.Records, 2*testutil.RegimeRows)
	assert.Equal(t, "row-000", resp.Records[0][testutil.IDColumn])
	assert.Contains(t, resp.Records[0], testutil.LabelColumn)
	assert.FileExists(t, cfg.Paths.ResultFile())

	writer.AssertExpectations(t)
	rows := writer.Calls[0].Arguments.Get(1).([]datastore.PredictionRow)
	assert.Len(t, rows, 2*testutil.RegimeRows)
	assert.Equal(t, resp.BatchID, rows[0].RunID)
}

func TestPipelineServiceRetrainInvalidatesSnapshot(t *testing.T) {
	cfg := testConfig(t)
	svc := newService(t, cfg, Dependencies{})
	ctx := context.Background()
	testutil.WriteCSV(t, cfg.Paths.DataDir, config.TrainingFileName, testutil.TwoRegimeTable(t))

	first, err := svc.Train(ctx, TrainRequest{})
	require.NoError(t, err)
	assert.Equal(t, first.Generation, svc.Generation(ctx))

	second, err := svc.Train(ctx, TrainRequest{})
	require.NoError(t, err)
	assert.NotEqual(t, first.Generation, second.Generation)
	assert.Equal(t, second.Generation, svc.Generation(ctx))
}

func TestPipelineServiceRejectsConcurrentTraining(t *testing.T) {
	cfg := testConfig(t)
	svc := newService(t, cfg, Dependencies{})

	svc.trainMu.Lock()
	svc.setActive("run-1")
	defer svc.trainMu.Unlock()

	_, err := svc.Train(context.Background(), TrainRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrTrainingInProgress)

	var pe *apperrors.PipelineError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "run-1", pe.Context["run_id"])
}

func TestPipelineServicePredictBeforeTraining(t *testing.T) {
	cfg := testConfig(t)
	svc := newService(t, cfg, Dependencies{})

	_, err := svc.PredictTable(context.Background(), predictionBatch(t))
	assert.ErrorIs(t, err, apperrors.ErrArtifactNotFound)

	summary, err := svc.Artifacts(context.Background())
	assert.Nil(t, summary)
	assert.ErrorIs(t, err, apperrors.ErrArtifactNotFound)
	assert.Empty(t, svc.Generation(context.Background()))
}

func TestPipelineServicePredictionWriterFailureIsIgnored(t *testing.T) {
	cfg := testConfig(t)
	writer := new(MockBackgroundWriter)
	writer.On("SubmitPredictions", mock.Anything, mock.Anything).Return(datastore.ErrQueueFull)
	svc := newService(t, cfg, Dependencies{Writer: writer})
	ctx := context.Background()

	testutil.WriteCSV(t, cfg.Paths.DataDir, config.TrainingFileName, testutil.TwoRegimeTable(t))
	_, err := svc.Train(ctx, TrainRequest{})
	require.NoError(t, err)

	resp, err := svc.PredictTable(ctx, predictionBatch(t))
	require.NoError(t, err)
	assert.Len(t, resp.Predictions, 2*testutil.RegimeRows)
	writer.AssertNumberOfCalls(t, "SubmitPredictions", 1)
}

func TestPipelineServiceIngestQueuesGoodData(t *testing.T) {
	cfg := testConfig(t)
	writer := new(MockBackgroundWriter)
	writer.On("SubmitGoodData", "good_training_data", mock.AnythingOfType("*dataset.Table")).Return(nil).Once()
	svc := newService(t, cfg, Dependencies{Writer: writer})

	testutil.WriteCSV(t, filepath.Join(cfg.Paths.UploadDir, "training"), "batch_1.csv", testutil.TwoRegimeTable(t))
	report, err := svc.Ingest(context.Background(), ingest.ModeTraining)
	require.NoError(t, err)
	assert.Equal(t, []string{"batch_1.csv"}, report.Accepted)
	assert.Equal(t, 2*testutil.RegimeRows, report.Rows)
	assert.FileExists(t, cfg.Paths.TrainingFile())
	writer.AssertExpectations(t)
}

func TestPipelineServiceTrainFromDB(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		setup   func(*MockGoodDataSource)
		noSrc   bool
		wantErr error
	}{
		{
			name: "exports and trains",
			setup: func(m *MockGoodDataSource) {
				m.On("ExportGoodData", mock.Anything, "good_training_data").Return(testutil.TwoRegimeTable(t), nil)
			},
		},
		{
			name: "nothing ingested",
			setup: func(m *MockGoodDataSource) {
				m.On("ExportGoodData", mock.Anything, "good_training_data").
					Return(nil, fmt.Errorf("good_training_data: %w", datastore.ErrNotIngested))
			},
			wantErr: apperrors.ErrValidation,
		},
		{
			name: "query failure",
			setup: func(m *MockGoodDataSource) {
				m.On("ExportGoodData", mock.Anything, "good_training_data").Return(nil, errors.New("connection reset"))
			},
			wantErr: apperrors.ErrStorage,
		},
		{
			name:    "datastore disabled",
			noSrc:   true,
			wantErr: apperrors.ErrConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			deps := Dependencies{}
			src := new(MockGoodDataSource)
			if !tt.noSrc {
				tt.setup(src)
				deps.Source = src
			}
			svc := newService(t, cfg, deps)

			result, err := svc.Train(ctx, TrainRequest{FromDB: true})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 2, result.Clusters)
			assert.FileExists(t, cfg.Paths.TrainingFile())
			src.AssertExpectations(t)
		})
	}
}

func TestHealthService(t *testing.T) {
	cfg := testConfig(t)
	svc := newService(t, cfg, Dependencies{})
	health := NewHealthService("1.0.0", svc, nil, false, nil)

	status := health.HealthCheck(context.Background())
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "not_trained", status.Services["artifacts"].Status)
	assert.Equal(t, "disabled", status.Services["datastore"].Status)

	testutil.WriteCSV(t, cfg.Paths.DataDir, config.TrainingFileName, testutil.TwoRegimeTable(t))
	result, err := svc.Train(context.Background(), TrainRequest{})
	require.NoError(t, err)

	status = health.HealthCheck(context.Background())
	assert.Equal(t, "ready", status.Services["artifacts"].Status)
	assert.Contains(t, status.Services["artifacts"].Message, result.Generation)
}
