package eda

import (
	"context"
	"fmt"
	"log/slog"

	"ccsml/internal/artifacts"
	"ccsml/internal/dataset"
	"ccsml/internal/stats"
)

// Replayer applies the recorded analysis decisions at prediction time.
type Replayer struct {
	reader artifacts.Reader
	logger *slog.Logger
}

// NewReplayer creates a Replayer reading from one pinned generation.
func NewReplayer(reader artifacts.Reader, logger *slog.Logger) *Replayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replayer{reader: reader, logger: logger.With(slog.String("component", "eda"))}
}

// Classification returns the recorded continuous and discrete sets. It fails
// with ARTIFACT_NOT_FOUND when training has not recorded them.
func (r *Replayer) Classification(ctx context.Context) (Classification, error) {
	cont, err := artifacts.LoadAs[*artifacts.FeatureSet](ctx, r.reader, artifacts.KeyContinuous)
	if err != nil {
		return Classification{}, fmt.Errorf("load continuous features: %w", err)
	}
	disc, err := artifacts.LoadAs[*artifacts.FeatureSet](ctx, r.reader, artifacts.KeyDiscrete)
	if err != nil {
		return Classification{}, fmt.Errorf("load discrete features: %w", err)
	}
	return Classification{Continuous: cont.Names, Discrete: disc.Names}, nil
}

// Normalize re-applies every recorded Box-Cox and log transform. Columns the
// input does not carry are skipped.
func (r *Replayer) Normalize(ctx context.Context, t *dataset.Table) (*dataset.Table, error) {
	lambdas, err := artifacts.LoadAs[*artifacts.LambdaMap](ctx, r.reader, artifacts.KeyLambdas)
	if err != nil {
		return nil, fmt.Errorf("load box-cox lambdas: %w", err)
	}
	logs, err := artifacts.LoadAs[*artifacts.FeatureSet](ctx, r.reader, artifacts.KeyLog)
	if err != nil {
		return nil, fmt.Errorf("load log features: %w", err)
	}

	fns := make(map[string]dataset.ColumnFunc, len(lambdas.Lambdas)+len(logs.Names))
	for name, lambda := range lambdas.Lambdas {
		fns[name] = boxCoxFunc(lambda)
	}
	for _, name := range logs.Names {
		fns[name] = stats.Log1pColumn
	}
	r.logger.DebugContext(ctx, "replaying normalization",
		slog.Int("boxcox", len(lambdas.Lambdas)),
		slog.Int("log", len(logs.Names)))
	return t.Transform(fns)
}
