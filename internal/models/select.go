package models

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	apperrors "ccsml/internal/errors"
)

// Split is one train/test partition of a cluster's rows.
type Split struct {
	TrainX, TestX *mat.Dense
	TrainY, TestY []float64
}

// TrainTestSplit shuffles the rows with seed and holds out ceil(ratio*n) of
// them for scoring. Both sides must end up non-empty.
func TrainTestSplit(x *mat.Dense, y []float64, ratio float64, seed uint64) (Split, error) {
	if x == nil {
		return Split{}, apperrors.NewValidationError("cannot split an empty matrix")
	}
	rows, cols := x.Dims()
	if rows != len(y) {
		return Split{}, apperrors.NewValidationError(fmt.Sprintf("%d rows but %d targets", rows, len(y)))
	}
	nTest := int(math.Ceil(ratio * float64(rows)))
	if nTest < 1 || rows-nTest < 1 {
		return Split{}, apperrors.NewValidationError(
			fmt.Sprintf("cannot split %d rows with test ratio %g", rows, ratio))
	}

	perm := rand.New(rand.NewPCG(seed, seed)).Perm(rows)
	take := func(idx []int) (*mat.Dense, []float64) {
		m := mat.NewDense(len(idx), cols, nil)
		v := make([]float64, len(idx))
		for k, i := range idx {
			m.SetRow(k, x.RawRowView(i))
			v[k] = y[i]
		}
		return m, v
	}
	var s Split
	s.TestX, s.TestY = take(perm[:nTest])
	s.TrainX, s.TrainY = take(perm[nTest:])
	return s, nil
}

// R2 is the coefficient of determination of pred against truth. It is NaN
// when truth has fewer than two values or no variance.
func R2(truth, pred []float64) float64 {
	if len(truth) < 2 || len(truth) != len(pred) {
		return math.NaN()
	}
	if stat.Variance(truth, nil) == 0 {
		return math.NaN()
	}
	return stat.RSquaredFrom(pred, truth, nil)
}

// SelectBest fits every candidate on the split and returns the artifact of
// the best held-out R². A candidate that fails to fit or predict, or whose
// score is undefined, is skipped with its reason. When every candidate is
// skipped the error is ALL_CANDIDATES_FAILED for clusterID.
func SelectBest(ctx context.Context, clusterID int, candidates []Candidate, split Split, logger *slog.Logger) (*Artifact, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.Int("cluster_id", clusterID))

	var best *Artifact
	scores := make(map[string]float64, len(candidates))
	reasons := make(map[string]string)
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		score, model, err := evaluate(c, split)
		if err != nil {
			reasons[c.Name] = err.Error()
			logger.WarnContext(ctx, "candidate skipped",
				slog.String("candidate", c.Name),
				slog.String("reason", err.Error()))
			continue
		}
		scores[c.Name] = score
		logger.DebugContext(ctx, "candidate scored",
			slog.String("candidate", c.Name),
			slog.Float64("r2", score))
		if best == nil || score > best.Score {
			best = &Artifact{ClusterID: clusterID, Name: c.Name, Score: score, Model: model}
		}
	}

	if best == nil {
		return nil, apperrors.NewAllCandidatesFailedError(clusterID, reasons)
	}
	best.Scores = scores
	logger.InfoContext(ctx, "model selected",
		slog.String("model", best.Name),
		slog.Float64("r2", best.Score),
		slog.Int("skipped", len(reasons)))
	return best, nil
}

func evaluate(c Candidate, split Split) (float64, Regressor, error) {
	model := c.New()
	if err := model.Fit(split.TrainX, split.TrainY); err != nil {
		return 0, nil, fmt.Errorf("fit: %w", err)
	}
	pred, err := model.Predict(split.TestX)
	if err != nil {
		return 0, nil, fmt.Errorf("predict: %w", err)
	}
	score := R2(split.TestY, pred)
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, nil, fmt.Errorf("r2 undefined on %d held-out rows", len(split.TestY))
	}
	return score, model, nil
}
