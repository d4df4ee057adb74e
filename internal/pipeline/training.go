package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"time"

	"ccsml/internal/artifacts"
	"ccsml/internal/cluster"
	"ccsml/internal/dataset"
	"ccsml/internal/eda"
	apperrors "ccsml/internal/errors"
	"ccsml/internal/features"
	"ccsml/internal/infrastructure"
	"ccsml/internal/models"
)

// ModelSummary describes the model kept for one cluster.
type ModelSummary struct {
	ClusterID int                `json:"cluster_id"`
	Model     string             `json:"model"`
	Score     float64            `json:"score"`
	Scores    map[string]float64 `json:"scores,omitempty"`
	Rows      int                `json:"rows"`
}

// TrainingResult reports what a training run produced.
type TrainingResult struct {
	RunID          string             `json:"run_id"`
	Generation     string             `json:"generation,omitempty"`
	Rows           int                `json:"rows"`
	Clusters       int                `json:"clusters"`
	// Assignments is the cluster of every training row, in input order.
	Assignments    []int              `json:"-"`
	Inertias       []float64          `json:"inertias"`
	Dropped        []string           `json:"dropped"`
	Classification eda.Classification `json:"classification"`
	Normalization  eda.Normalization  `json:"normalization"`
	Models         []ModelSummary     `json:"models"`
	Stages         []*StageState      `json:"stages"`
	Duration       time.Duration      `json:"duration"`
}

// Trainer runs the training topology and commits one artifact generation.
type Trainer struct {
	store  artifacts.Store
	opts   Options
	deps   Deps
	runner *Runner[*TrainingContext]
}

// NewTrainer creates a Trainer writing to store.
func NewTrainer(store artifacts.Store, opts Options, deps Deps) *Trainer {
	t := &Trainer{store: store, opts: opts, deps: deps.withDefaults()}
	t.runner = NewRunner(ModeTraining, t.stages(), t.deps)
	return t
}

func (t *Trainer) stages() []Stage[*TrainingContext] {
	return []Stage[*TrainingContext]{
		NewStage("prepare", "Split features and label", t.prepare),
		NewStage("missing_report", "Report missing values", t.missingReport),
		NewStage("impute", "Impute missing values", t.impute),
		NewStage("classify", "Classify continuous and discrete features", t.classify),
		NewStage("normalize", "Normalize continuous features", t.normalize),
		NewStage("select", "Select features", t.selectFeatures),
		NewStage("drop", "Drop unselected features", t.drop),
		NewStage("scale", "Scale features", t.scale),
		NewStage("cluster", "Cluster rows", t.clusterRows),
		NewStage("train_models", "Train per-cluster models", t.trainModels),
		NewStage("commit", "Commit artifacts", t.commit),
	}
}

// Train fits every artifact on data and commits them as one generation.
// When some clusters could not train, the generation is still committed
// and the returned error joins one ALL_CANDIDATES_FAILED per cluster.
func (t *Trainer) Train(ctx context.Context, data *dataset.Table) (*TrainingResult, error) {
	start := time.Now()
	runID := infrastructure.GenerateRunID()
	logger := infrastructure.RunLogger(t.deps.Logger, runID, ModeTraining)

	batch, err := t.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	c := &TrainingContext{
		RunID:  runID,
		Logger: logger,
		Batch:  batch,
		Input:  data,
		Models: make(map[int]*models.Artifact),
	}

	states, err := t.runner.Run(ctx, runID, logger, c)
	result := t.result(c, states, time.Since(start))
	if err != nil {
		if rbErr := batch.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			logger.WarnContext(ctx, "rollback failed", slog.String("error", rbErr.Error()))
		}
		t.deps.Metrics.RecordRun(ctx, ModeTraining, result.Duration, err)
		return result, err
	}

	err = errors.Join(c.Failures...)
	t.deps.Metrics.RecordRun(ctx, ModeTraining, result.Duration, err)
	logger.InfoContext(ctx, "training run finished",
		slog.String("generation", result.Generation),
		slog.Int("clusters", result.Clusters),
		slog.Int("models", len(result.Models)),
		slog.Int("failed_clusters", len(c.Failures)),
		slog.Duration("duration", result.Duration))
	return result, err
}

func (t *Trainer) result(c *TrainingContext, states []*StageState, d time.Duration) *TrainingResult {
	r := &TrainingResult{
		RunID:          c.RunID,
		Generation:     c.Manifest.Generation,
		Clusters:       c.K,
		Assignments:    slices.Clone(c.ClusterIDs),
		Inertias:       c.Inertias,
		Dropped:        c.Dropped,
		Classification: c.Classification,
		Normalization:  c.Normalization,
		Stages:         states,
		Duration:       d,
	}
	if c.Input != nil {
		r.Rows = c.Input.NumRows()
	}
	sizes := make(map[int]int)
	for _, id := range c.ClusterIDs {
		sizes[id]++
	}
	for _, id := range slices.Sorted(maps.Keys(c.Models)) {
		m := c.Models[id]
		r.Models = append(r.Models, ModelSummary{
			ClusterID: id,
			Model:     m.Name,
			Score:     m.Score,
			Scores:    m.Scores,
			Rows:      sizes[id],
		})
	}
	return r
}

func (t *Trainer) prepare(ctx context.Context, c *TrainingContext) error {
	if c.Input == nil || c.Input.NumRows() < 2 {
		return apperrors.NewValidationError("training needs at least two rows")
	}
	in := c.Input.Drop(t.opts.IDColumn)
	feats, labels, err := eda.SplitFeaturesLabel(in, t.opts.LabelColumn)
	if err != nil {
		return err
	}
	label, _ := labels.Column(t.opts.LabelColumn)
	for i, v := range label {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return apperrors.NewValidationError(fmt.Sprintf("label is missing at row %d", i)).
				WithContext("column", t.opts.LabelColumn)
		}
	}
	if feats.NumCols() == 0 {
		return apperrors.NewValidationError("training data has no feature columns")
	}
	c.Features, c.Label = feats, label
	return nil
}

func (t *Trainer) missingReport(ctx context.Context, c *TrainingContext) error {
	_, c.MissingColumns = eda.MissingValueReport(c.Features)
	c.Logger.InfoContext(ctx, "missing value report", slog.Any("columns", c.MissingColumns))
	return nil
}

// impute drops columns missing in more than MissingDropRatio of the rows and
// fits the KNN imputer over the rest when anything is still missing.
func (t *Trainer) impute(ctx context.Context, c *TrainingContext) error {
	rows := float64(c.Features.NumRows())
	var keep []string
	for _, name := range c.MissingColumns {
		if ratio := float64(c.Features.NaNCount(name)) / rows; ratio > t.opts.MissingDropRatio {
			c.HighMissing = append(c.HighMissing, name)
			c.Logger.InfoContext(ctx, "dropping mostly missing column",
				slog.String("column", name), slog.Float64("missing_ratio", ratio))
			continue
		}
		keep = append(keep, name)
	}
	c.Features = c.Features.Drop(c.HighMissing...)
	if c.Features.NumCols() == 0 {
		return apperrors.NewValidationError("every feature column is mostly missing")
	}
	if len(keep) == 0 {
		return nil
	}

	imp, err := features.FitImputer(c.Features, keep, t.opts.ImputerNeighbors)
	if err != nil {
		return err
	}
	if c.Features, err = imp.Transform(c.Features); err != nil {
		return err
	}
	return c.Batch.Save(ctx, artifacts.KeyImputer, imp)
}

func (t *Trainer) classify(ctx context.Context, c *TrainingContext) error {
	cls, err := eda.NewTrainer(t.opts.Analysis, c.Logger).Classify(ctx, c.Features, c.Features.Columns())
	if err != nil {
		return err
	}
	c.Classification = cls
	return eda.SaveClassification(ctx, c.Batch, cls)
}

func (t *Trainer) normalize(ctx context.Context, c *TrainingContext) error {
	out, n, err := eda.NewTrainer(t.opts.Analysis, c.Logger).Normalize(ctx, c.Features, c.Classification.Continuous)
	if err != nil {
		return err
	}
	c.Features, c.Normalization = out, n
	return eda.SaveNormalization(ctx, c.Batch, n)
}

func (t *Trainer) selectFeatures(ctx context.Context, c *TrainingContext) error {
	zero := features.ZeroVariance(c.Features)
	low := features.LowImportance(c.Features, c.Label, t.opts.ImportanceThreshold)
	corr := features.HighCorrelation(c.Features, t.opts.CorrelationThreshold)
	c.Dropped = features.Union(c.HighMissing, zero, low, corr)
	c.Logger.InfoContext(ctx, "features selected",
		slog.Any("zero_variance", zero),
		slog.Any("low_importance", low),
		slog.Any("high_correlation", corr),
		slog.Any("dropped", c.Dropped))
	return c.Batch.Save(ctx, artifacts.KeyDropped, &artifacts.FeatureSet{Names: c.Dropped})
}

func (t *Trainer) drop(ctx context.Context, c *TrainingContext) error {
	c.Features = c.Features.Drop(c.Dropped...)
	if c.Features.NumCols() == 0 {
		return apperrors.NewValidationError("feature selection dropped every column")
	}
	return nil
}

func (t *Trainer) scale(ctx context.Context, c *TrainingContext) error {
	s, err := features.FitScaler(c.Features)
	if err != nil {
		return err
	}
	if c.Features, err = s.Transform(c.Features); err != nil {
		return err
	}
	return c.Batch.Save(ctx, artifacts.KeyScaler, s)
}

func (t *Trainer) clusterRows(ctx context.Context, c *TrainingContext) error {
	k, inertias, err := cluster.ChooseClusterCount(ctx, c.Features, t.opts.Cluster, c.Logger)
	if err != nil {
		return err
	}
	p, ids, err := cluster.FitAndAssign(ctx, c.Features, k, t.opts.Cluster, c.Logger)
	if err != nil {
		return err
	}
	c.K, c.Inertias, c.Partitioner, c.ClusterIDs = k, inertias, p, ids
	return c.Batch.Save(ctx, artifacts.KeyPartitioner, p)
}

// trainModels selects one model per cluster. A cluster where every
// candidate fails is recorded in Failures and the others still train.
func (t *Trainer) trainModels(ctx context.Context, c *TrainingContext) error {
	members := make([][]int, c.K)
	for row, id := range c.ClusterIDs {
		members[id] = append(members[id], row)
	}
	panel := models.Panel(t.opts.Models)

	for id, rows := range members {
		if err := ctx.Err(); err != nil {
			return err
		}
		logger := c.Logger.With(slog.Int("cluster_id", id), slog.Int("rows", len(rows)))

		x := c.Features.TakeRows(rows).Matrix()
		y := make([]float64, len(rows))
		for i, r := range rows {
			y[i] = c.Label[r]
		}
		split, err := models.TrainTestSplit(x, y, t.opts.TestRatio, t.opts.Seed)
		if err != nil {
			reasons := make(map[string]string, len(panel))
			for _, cand := range panel {
				reasons[cand.Name] = err.Error()
			}
			c.Failures = append(c.Failures, apperrors.NewAllCandidatesFailedError(id, reasons).WithStage("train_models"))
			logger.WarnContext(ctx, "cluster not trained", slog.String("error", err.Error()))
			continue
		}

		best, err := models.SelectBest(ctx, id, panel, split, logger)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			var pe *apperrors.PipelineError
			if errors.As(err, &pe) {
				pe.WithStage("train_models")
			}
			c.Failures = append(c.Failures, err)
			logger.WarnContext(ctx, "cluster not trained", slog.String("error", err.Error()))
			continue
		}
		if err := c.Batch.Save(ctx, artifacts.ModelKey(id), best); err != nil {
			return err
		}
		c.Models[id] = best
	}
	return nil
}

func (t *Trainer) commit(ctx context.Context, c *TrainingContext) error {
	m, err := c.Batch.Commit(ctx)
	if err != nil {
		return err
	}
	c.Manifest = m
	t.deps.Metrics.RecordCommit(ctx)
	c.Logger.InfoContext(ctx, "artifacts committed",
		slog.String("generation", m.Generation),
		slog.Int("artifacts", len(m.Entries)))
	return nil
}
