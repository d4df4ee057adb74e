package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"ccsml/internal/artifacts"
	"ccsml/internal/cluster"
	"ccsml/internal/dataset"
	"ccsml/internal/eda"
	apperrors "ccsml/internal/errors"
	"ccsml/internal/features"
	"ccsml/internal/infrastructure"
)

// Prediction is the result for one input row.
type Prediction struct {
	ID        string  `json:"id"`
	ClusterID int     `json:"cluster_id"`
	Model     string  `json:"model"`
	Value     float64 `json:"value"`
}

// Predictor replays the committed artifacts on new rows.
type Predictor struct {
	store  artifacts.Store
	opts   Options
	deps   Deps
	runner *Runner[*PredictionContext]
}

// NewPredictor creates a Predictor reading from store.
func NewPredictor(store artifacts.Store, opts Options, deps Deps) *Predictor {
	p := &Predictor{store: store, opts: opts, deps: deps.withDefaults()}
	p.runner = NewRunner(ModePrediction, p.stages(), p.deps)
	return p
}

func (p *Predictor) stages() []Stage[*PredictionContext] {
	return []Stage[*PredictionContext]{
		NewStage("prepare", "Drop id and label", p.prepare),
		NewStage("impute", "Replay imputer", p.impute),
		NewStage("classify", "Load feature classification", p.classify),
		NewStage("normalize", "Replay normalization", p.normalize),
		NewStage("drop", "Drop unselected features", p.drop),
		NewStage("scale", "Replay scaler", p.scale),
		NewStage("assign", "Assign clusters", p.assign),
		NewStage("route", "Route rows to cluster models", p.route),
	}
}

// Predict opens the current generation and predicts every row of data.
func (p *Predictor) Predict(ctx context.Context, data *dataset.Table) ([]Prediction, error) {
	reader, err := p.store.Open(ctx)
	if err != nil {
		p.deps.Metrics.RecordRun(ctx, ModePrediction, 0, err)
		return nil, err
	}
	return p.PredictWith(ctx, reader, data)
}

// PredictWith predicts every row of data against a pinned reader.
func (p *Predictor) PredictWith(ctx context.Context, reader artifacts.Reader, data *dataset.Table) ([]Prediction, error) {
	start := time.Now()
	runID := infrastructure.GenerateRunID()
	logger := infrastructure.RunLogger(p.deps.Logger, runID, ModePrediction).
		With(slog.String("generation", reader.Manifest().Generation))

	c := &PredictionContext{RunID: runID, Logger: logger, Reader: reader, Input: data}
	_, err := p.runner.Run(ctx, runID, logger, c)
	p.deps.Metrics.RecordRun(ctx, ModePrediction, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	out := make([]Prediction, len(c.Values))
	for i := range out {
		out[i] = Prediction{
			ID:        c.IDs[i],
			ClusterID: c.ClusterIDs[i],
			Model:     c.ModelNames[i],
			Value:     c.Values[i],
		}
	}
	p.deps.Metrics.RecordPredictions(ctx, len(out))
	logger.InfoContext(ctx, "prediction run finished",
		slog.Int("rows", len(out)),
		slog.Duration("duration", time.Since(start)))
	return out, nil
}

func (p *Predictor) prepare(ctx context.Context, c *PredictionContext) error {
	if c.Input == nil || c.Input.NumRows() == 0 {
		return apperrors.NewValidationError("prediction needs at least one row")
	}
	c.IDs = c.Input.IDs()
	if c.IDs == nil {
		c.IDs = make([]string, c.Input.NumRows())
		for i := range c.IDs {
			c.IDs[i] = strconv.Itoa(i)
		}
	}
	c.Features = c.Input.Drop(p.opts.IDColumn, p.opts.LabelColumn)
	return nil
}

// impute replays the imputer. Training without missing values saves none,
// in which case the rows pass through.
func (p *Predictor) impute(ctx context.Context, c *PredictionContext) error {
	imp, err := artifacts.LoadAs[*features.Imputer](ctx, c.Reader, artifacts.KeyImputer)
	if errors.Is(err, apperrors.ErrArtifactNotFound) {
		c.Logger.DebugContext(ctx, "no imputer recorded, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	c.Features, err = imp.Transform(c.Features)
	return err
}

func (p *Predictor) classify(ctx context.Context, c *PredictionContext) error {
	cls, err := eda.NewReplayer(c.Reader, c.Logger).Classification(ctx)
	if err != nil {
		return err
	}
	c.Logger.DebugContext(ctx, "classification loaded",
		slog.Int("continuous", len(cls.Continuous)),
		slog.Int("discrete", len(cls.Discrete)))
	return nil
}

func (p *Predictor) normalize(ctx context.Context, c *PredictionContext) error {
	out, err := eda.NewReplayer(c.Reader, c.Logger).Normalize(ctx, c.Features)
	if err != nil {
		return err
	}
	c.Features = out
	return nil
}

func (p *Predictor) drop(ctx context.Context, c *PredictionContext) error {
	dropped, err := artifacts.LoadAs[*artifacts.FeatureSet](ctx, c.Reader, artifacts.KeyDropped)
	if err != nil {
		return err
	}
	c.Features = c.Features.Drop(dropped.Names...)
	return nil
}

func (p *Predictor) scale(ctx context.Context, c *PredictionContext) error {
	s, err := artifacts.LoadAs[*features.Scaler](ctx, c.Reader, artifacts.KeyScaler)
	if err != nil {
		return err
	}
	c.Features, err = s.Transform(c.Features)
	return err
}

func (p *Predictor) assign(ctx context.Context, c *PredictionContext) error {
	part, err := artifacts.LoadAs[*cluster.Partitioner](ctx, c.Reader, artifacts.KeyPartitioner)
	if err != nil {
		return err
	}
	c.ClusterIDs, err = part.Assign(c.Features)
	return err
}

func (p *Predictor) route(ctx context.Context, c *PredictionContext) error {
	values, names, err := NewRouter(c.Reader, c.Logger).PredictAll(ctx, c.Features, c.ClusterIDs)
	if err != nil {
		return err
	}
	c.Values, c.ModelNames = values, names
	return nil
}
