package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"ccsml/internal/artifacts"
	"ccsml/internal/config"
	"ccsml/internal/dataset"
	"ccsml/internal/datastore"
	apperrors "ccsml/internal/errors"
	"ccsml/internal/exporter"
	"ccsml/internal/infrastructure"
	"ccsml/internal/ingest"
	"ccsml/internal/models"
	"ccsml/internal/pipeline"
)

// BackgroundWriter accepts datastore writes without blocking the caller.
type BackgroundWriter interface {
	SubmitGoodData(table string, data *dataset.Table) error
	SubmitPredictions(table string, rows []datastore.PredictionRow) error
}

// GoodDataSource reads ingested rows back from the datastore.
type GoodDataSource interface {
	ExportGoodData(ctx context.Context, table string) (*dataset.Table, error)
}

// Dependencies wires a PipelineService. Writer and Source are optional.
type Dependencies struct {
	Store    artifacts.Store
	Ingestor *ingest.Ingestor
	Writer   BackgroundWriter
	Source   GoodDataSource
	Pipeline pipeline.Deps
	Logger   *slog.Logger
}

// TrainRequest selects where training rows come from.
type TrainRequest struct {
	FromDB bool `json:"from_db"`
}

// PredictResponse carries the merged prediction output.
type PredictResponse struct {
	BatchID     string                `json:"batch_id"`
	Generation  string                `json:"generation"`
	Predictions []pipeline.Prediction `json:"predictions"`
	Records     []exporter.Record     `json:"records"`
	Output      string                `json:"output,omitempty"`
}

// ModelInfo describes one persisted cluster model.
type ModelInfo struct {
	ClusterID int                `json:"cluster_id"`
	Model     string             `json:"model"`
	Score     float64            `json:"score"`
	Scores    map[string]float64 `json:"scores,omitempty"`
}

// ArtifactsSummary lists the current generation.
type ArtifactsSummary struct {
	Generation string      `json:"generation"`
	CreatedAt  time.Time   `json:"created_at"`
	Keys       []string    `json:"keys"`
	Models     []ModelInfo `json:"models"`
}

// PipelineService runs ingest, training and prediction for the CLI and the
// HTTP API. At most one training run is active at a time; predictions read
// a cached snapshot of the current generation.
type PipelineService struct {
	store     artifacts.Store
	ingestor  *ingest.Ingestor
	trainer   *pipeline.Trainer
	predictor *pipeline.Predictor
	exporter  *exporter.ResultExporter
	writer    BackgroundWriter
	source    GoodDataSource
	paths     config.PathsConfig
	tables    config.DatastoreConfig
	idColumn  string
	label     string
	logger    *slog.Logger

	trainMu   sync.Mutex
	activeMu  sync.Mutex
	activeRun string
	readerMu  sync.RWMutex
	reader    artifacts.Reader
}

// NewPipelineService builds the service from the loaded configuration.
func NewPipelineService(cfg *config.Config, deps Dependencies) *PipelineService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Pipeline.Logger == nil {
		deps.Pipeline.Logger = logger
	}
	opts := pipeline.OptionsFromConfig(cfg.Pipeline)
	return &PipelineService{
		store:     deps.Store,
		ingestor:  deps.Ingestor,
		trainer:   pipeline.NewTrainer(deps.Store, opts, deps.Pipeline),
		predictor: pipeline.NewPredictor(deps.Store, opts, deps.Pipeline),
		exporter:  exporter.NewResultExporter(opts.IDColumn, opts.LabelColumn, logger),
		writer:    deps.Writer,
		source:    deps.Source,
		paths:     cfg.Paths,
		tables:    cfg.Datastore,
		idColumn:  opts.IDColumn,
		label:     opts.LabelColumn,
		logger:    logger.With(slog.String("component", "pipeline_service")),
	}
}

// Ingest validates the uploaded files of one mode and queues the good rows
// for the datastore.
func (s *PipelineService) Ingest(ctx context.Context, mode ingest.Mode) (*ingest.Report, error) {
	if s.ingestor == nil {
		return nil, apperrors.NewConfigError("ingest is not configured", nil)
	}
	report, err := s.ingestor.Ingest(ctx, mode)
	if err != nil {
		return report, err
	}
	if s.writer != nil {
		table := s.tables.TrainingTable
		if mode == ingest.ModePrediction {
			table = s.tables.PredictionTable
		}
		if err := s.writer.SubmitGoodData(table, report.Data); err != nil {
			s.logger.WarnContext(ctx, "good data not queued",
				slog.String("table", table),
				slog.String("error", err.Error()))
		}
	}
	return report, nil
}

// Train runs one training pass. A concurrent call fails with
// TRAINING_IN_PROGRESS instead of waiting.
func (s *PipelineService) Train(ctx context.Context, req TrainRequest) (*pipeline.TrainingResult, error) {
	if !s.trainMu.TryLock() {
		s.activeMu.Lock()
		active := s.activeRun
		s.activeMu.Unlock()
		return nil, apperrors.NewTrainingInProgressError(active)
	}
	defer s.trainMu.Unlock()

	token := infrastructure.GenerateRunID()
	s.setActive(token)
	defer s.setActive("")

	data, err := s.trainingData(ctx, req)
	if err != nil {
		return nil, err
	}

	result, err := s.trainer.Train(ctx, data)
	if result != nil && result.Generation != "" {
		s.Invalidate()
	}
	return result, err
}

func (s *PipelineService) setActive(id string) {
	s.activeMu.Lock()
	s.activeRun = id
	s.activeMu.Unlock()
}

func (s *PipelineService) trainingData(ctx context.Context, req TrainRequest) (*dataset.Table, error) {
	if !req.FromDB {
		return ingest.LoadValidated(s.paths.TrainingFile(), ingest.ModeTraining, s.idColumn, s.label)
	}
	if s.source == nil {
		return nil, apperrors.NewConfigError("datastore is disabled", nil)
	}
	data, err := s.source.ExportGoodData(ctx, s.tables.TrainingTable)
	if err != nil {
		if errors.Is(err, datastore.ErrNotIngested) {
			return nil, apperrors.NewValidationError("no training data has been ingested")
		}
		return nil, apperrors.NewStorageError("export training data", err)
	}
	if err := ingest.CheckIDs(data, s.idColumn); err != nil {
		return nil, err
	}
	if err := data.RequireColumns(s.label); err != nil {
		return nil, err
	}

	// Keep a CSV copy of what was trained on next to the ingested batch.
	if err := dataset.WriteCSVFile(s.paths.TrainingFile(), data, s.idColumn); err != nil {
		s.logger.WarnContext(ctx, "failed to write exported training data",
			slog.String("file_path", s.paths.TrainingFile()),
			slog.String("error", err.Error()))
	}
	return data.Round(2), nil
}

// Predict scores the validated prediction batch written by ingest.
func (s *PipelineService) Predict(ctx context.Context) (*PredictResponse, error) {
	data, err := ingest.LoadValidated(s.paths.PredictionFile(), ingest.ModePrediction, s.idColumn, s.label)
	if err != nil {
		return nil, err
	}
	return s.PredictTable(ctx, data)
}

// PredictTable scores data against the current generation, writes the
// result CSV and queues the predictions for the datastore.
func (s *PipelineService) PredictTable(ctx context.Context, data *dataset.Table) (*PredictResponse, error) {
	if err := ingest.CheckIDs(data, s.idColumn); err != nil {
		return nil, err
	}
	reader, err := s.currentReader(ctx)
	if err != nil {
		return nil, err
	}

	preds, err := s.predictor.PredictWith(ctx, reader, data)
	if err != nil {
		return nil, err
	}
	res, err := s.exporter.Merge(data, preds)
	if err != nil {
		return nil, err
	}
	if err := s.exporter.WriteCSV(ctx, s.paths.ResultFile(), res); err != nil {
		return nil, err
	}

	resp := &PredictResponse{
		BatchID:     infrastructure.GenerateRunID(),
		Generation:  reader.Manifest().Generation,
		Predictions: preds,
		Records:     res.Records,
		Output:      s.paths.ResultFile(),
	}
	s.persistPredictions(ctx, resp)
	return resp, nil
}

func (s *PipelineService) persistPredictions(ctx context.Context, resp *PredictResponse) {
	if s.writer == nil {
		return
	}
	now := time.Now().UTC()
	rows := make([]datastore.PredictionRow, len(resp.Predictions))
	for i, p := range resp.Predictions {
		rows[i] = datastore.PredictionRow{
			RunID:     resp.BatchID,
			ID:        p.ID,
			ClusterID: p.ClusterID,
			Model:     p.Model,
			Value:     p.Value,
			CreatedAt: now,
		}
	}
	if err := s.writer.SubmitPredictions(s.tables.ResultsTable, rows); err != nil {
		s.logger.WarnContext(ctx, "predictions not queued",
			slog.String("batch_id", resp.BatchID),
			slog.String("error", err.Error()))
	}
}

// Artifacts lists the keys and per-cluster models of the current generation.
func (s *PipelineService) Artifacts(ctx context.Context) (*ArtifactsSummary, error) {
	reader, err := s.currentReader(ctx)
	if err != nil {
		return nil, err
	}
	m := reader.Manifest()
	summary := &ArtifactsSummary{
		Generation: m.Generation,
		CreatedAt:  m.CreatedAt,
		Keys:       make([]string, 0, len(m.Entries)),
		Models:     []ModelInfo{},
	}
	for key := range m.Entries {
		summary.Keys = append(summary.Keys, key)
	}
	slices.Sort(summary.Keys)

	for _, key := range summary.Keys {
		idText, ok := strings.CutPrefix(key, "model/")
		if !ok {
			continue
		}
		if _, err := strconv.Atoi(idText); err != nil {
			continue
		}
		a, err := artifacts.LoadAs[*models.Artifact](ctx, reader, key)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", key, err)
		}
		summary.Models = append(summary.Models, ModelInfo{
			ClusterID: a.ClusterID,
			Model:     a.Name,
			Score:     a.Score,
			Scores:    a.Scores,
		})
	}
	slices.SortFunc(summary.Models, func(a, b ModelInfo) int { return a.ClusterID - b.ClusterID })
	return summary, nil
}

// Invalidate drops the cached reader so the next call reopens the store.
func (s *PipelineService) Invalidate() {
	s.readerMu.Lock()
	s.reader = nil
	s.readerMu.Unlock()
	s.logger.Debug("artifact snapshot invalidated")
}

// WatchArtifacts invalidates the cached reader whenever another process
// commits a generation to fs.
func (s *PipelineService) WatchArtifacts(ctx context.Context, fs *artifacts.FileStore) error {
	return artifacts.Watch(ctx, fs, s.logger, s.Invalidate)
}

// Generation returns the cached generation id, or "" when nothing is loaded.
func (s *PipelineService) Generation(ctx context.Context) string {
	reader, err := s.currentReader(ctx)
	if err != nil {
		return ""
	}
	return reader.Manifest().Generation
}

func (s *PipelineService) currentReader(ctx context.Context) (artifacts.Reader, error) {
	s.readerMu.RLock()
	r := s.reader
	s.readerMu.RUnlock()
	if r != nil {
		return r, nil
	}

	s.readerMu.Lock()
	defer s.readerMu.Unlock()
	if s.reader != nil {
		return s.reader, nil
	}
	r, err := s.store.Open(ctx)
	if err != nil {
		return nil, err
	}
	s.reader = r
	s.logger.InfoContext(ctx, "artifact snapshot opened", slog.String("generation", r.Manifest().Generation))
	return r, nil
}
