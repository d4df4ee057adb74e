package eda

import (
	"context"
	"errors"
	"log/slog"

	"ccsml/internal/artifacts"
	"ccsml/internal/dataset"
	apperrors "ccsml/internal/errors"
	"ccsml/internal/stats"
)

// Options are the analyzer thresholds.
type Options struct {
	ContinuousThreshold int
	NormalityAlpha      float64
}

// DefaultOptions returns the thresholds used when none are configured.
func DefaultOptions() Options {
	return Options{ContinuousThreshold: 25, NormalityAlpha: 0.05}
}

// Trainer makes the training-time analysis decisions.
type Trainer struct {
	opts   Options
	logger *slog.Logger
}

// NewTrainer creates a Trainer.
func NewTrainer(opts Options, logger *slog.Logger) *Trainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trainer{opts: opts, logger: logger.With(slog.String("component", "eda"))}
}

// Classify marks each listed column continuous when it has at least
// ContinuousThreshold distinct values and discrete otherwise.
func (a *Trainer) Classify(ctx context.Context, t *dataset.Table, numericColumns []string) (Classification, error) {
	var c Classification
	for _, name := range numericColumns {
		values, ok := t.Column(name)
		if !ok {
			return Classification{}, apperrors.NewValidationError("cannot classify missing column " + name)
		}
		if DistinctCount(values) >= a.opts.ContinuousThreshold {
			c.Continuous = append(c.Continuous, name)
		} else {
			c.Discrete = append(c.Discrete, name)
		}
	}
	a.logger.InfoContext(ctx, "columns classified",
		slog.Any("continuous", c.Continuous),
		slog.Any("discrete", c.Discrete))
	return c, nil
}

// Normalize tests each continuous column for normality and, for the ones
// that fail, tries a Box-Cox transform and then log(1+x). The first transform
// that yields a normal column is kept. Degenerate columns never fail the run.
func (a *Trainer) Normalize(ctx context.Context, t *dataset.Table, continuous []string) (*dataset.Table, Normalization, error) {
	n := Normalization{Lambdas: make(map[string]float64)}
	fns := make(map[string]dataset.ColumnFunc)

	for _, name := range continuous {
		values, ok := t.Column(name)
		if !ok {
			return nil, Normalization{}, apperrors.NewValidationError("cannot normalize missing column " + name)
		}
		if stats.IsNormal(values, a.opts.NormalityAlpha) {
			n.Normal = append(n.Normal, name)
			continue
		}

		lambda, err := stats.FitBoxCox(stats.PositiveValues(values))
		switch {
		case err == nil:
			if stats.IsNormal(stats.BoxCoxColumn(values, lambda), a.opts.NormalityAlpha) {
				n.Lambdas[name] = lambda
				fns[name] = boxCoxFunc(lambda)
				a.logger.DebugContext(ctx, "box-cox transform kept",
					slog.String("column", name), slog.Float64("lambda", lambda))
				continue
			}
		case errors.Is(err, apperrors.ErrTransformUndefined):
			a.logger.DebugContext(ctx, "box-cox transform undefined",
				slog.String("column", name), slog.String("reason", err.Error()))
		default:
			return nil, Normalization{}, err
		}

		if stats.IsNormal(stats.Log1pColumn(values), a.opts.NormalityAlpha) {
			n.Log = append(n.Log, name)
			fns[name] = stats.Log1pColumn
			a.logger.DebugContext(ctx, "log transform kept", slog.String("column", name))
			continue
		}
		n.NotNormal = append(n.NotNormal, name)
	}

	out, err := t.Transform(fns)
	if err != nil {
		return nil, Normalization{}, err
	}
	a.logger.InfoContext(ctx, "continuous columns normalized",
		slog.Any("normal", n.Normal),
		slog.Any("boxcox", n.Lambdas),
		slog.Any("log", n.Log),
		slog.Any("not_normal", n.NotNormal))
	return out, n, nil
}

func boxCoxFunc(lambda float64) dataset.ColumnFunc {
	return func(values []float64) []float64 {
		return stats.BoxCoxColumn(values, lambda)
	}
}

// SaveClassification stages the classification sets.
func SaveClassification(ctx context.Context, batch artifacts.Batch, c Classification) error {
	if err := batch.Save(ctx, artifacts.KeyContinuous, &artifacts.FeatureSet{Names: c.Continuous}); err != nil {
		return err
	}
	return batch.Save(ctx, artifacts.KeyDiscrete, &artifacts.FeatureSet{Names: c.Discrete})
}

// SaveNormalization stages the normal set, the lambda map and the log set.
func SaveNormalization(ctx context.Context, batch artifacts.Batch, n Normalization) error {
	if err := batch.Save(ctx, artifacts.KeyNormal, &artifacts.FeatureSet{Names: n.Normal}); err != nil {
		return err
	}
	if err := batch.Save(ctx, artifacts.KeyLambdas, &artifacts.LambdaMap{Lambdas: n.Lambdas}); err != nil {
		return err
	}
	return batch.Save(ctx, artifacts.KeyLog, &artifacts.FeatureSet{Names: n.Log})
}
