package cluster

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"

	"ccsml/internal/dataset"
)

// ChooseClusterCount fits k = 1..MaxClusters and returns the knee of the
// inertia curve together with the inertias. The candidate range is capped
// at the number of distinct rows.
func ChooseClusterCount(ctx context.Context, t *dataset.Table, opts Options, logger *slog.Logger) (int, []float64, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rows, err := tableRows(t)
	if err != nil {
		return 0, nil, err
	}

	maxK := min(max(opts.MaxClusters, 1), distinctRows(rows))
	inertias := make([]float64, maxK)
	for k := 1; k <= maxK; k++ {
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}
		_, inertias[k-1] = fitKMeans(rows, k, opts)
	}

	k := Knee(inertias)
	logger.InfoContext(ctx, "cluster count chosen",
		slog.Int("k", k),
		slog.Int("max_k", maxK),
		slog.Any("inertias", inertias))
	return k, inertias, nil
}

// Knee locates the point of maximum curvature of a decreasing convex curve
// sampled at x = 1..len(y). Both axes are normalized to [0, 1] and the knee
// is the point farthest below the chord from the first to the last sample.
// A flat, linear or too short curve has no knee and yields 1.
func Knee(y []float64) int {
	if len(y) < 3 {
		return 1
	}
	lo, hi := floats.Min(y), floats.Max(y)
	if hi-lo == 0 || math.IsNaN(hi-lo) {
		return 1
	}

	n := float64(len(y) - 1)
	best, bestDiff := 1, 0.0
	for i, v := range y {
		xn := float64(i) / n
		yn := (v - lo) / (hi - lo)
		if diff := 1 - xn - yn; diff > bestDiff+1e-12 {
			best, bestDiff = i+1, diff
		}
	}
	return best
}

func distinctRows(rows [][]float64) int {
	seen := make(map[string]struct{}, len(rows))
	buf := make([]byte, 0, 8*len(rows[0]))
	for _, row := range rows {
		buf = buf[:0]
		for _, v := range row {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
		seen[string(buf)] = struct{}{}
	}
	return len(seen)
}
