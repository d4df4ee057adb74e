package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"ccsml/internal/artifacts"
	"ccsml/internal/dataset"
	apperrors "ccsml/internal/errors"
)

// Options control the k-means search.
type Options struct {
	MaxClusters int
	Restarts    int
	MaxIter     int
	Seed        uint64
}

// DefaultOptions mirrors the configured defaults.
func DefaultOptions() Options {
	return Options{MaxClusters: 10, Restarts: 10, MaxIter: 300, Seed: 42}
}

// Partitioner is the fitted cluster assignment model.
type Partitioner struct {
	Columns   []string
	Centroids [][]float64
	Inertia   float64
}

func (*Partitioner) Kind() artifacts.Kind { return artifacts.KindPartitioner }

func init() {
	artifacts.Register(artifacts.KindPartitioner, func() artifacts.Artifact { return &Partitioner{} })
}

// K returns the number of clusters.
func (p *Partitioner) K() int { return len(p.Centroids) }

// Assign maps every row to its nearest centroid. Ties go to the lowest id.
func (p *Partitioner) Assign(t *dataset.Table) ([]int, error) {
	selected, err := t.Select(p.Columns...)
	if err != nil {
		return nil, err
	}
	ids := make([]int, selected.NumRows())
	for i := range ids {
		row := selected.Row(i)
		for _, v := range row {
			if math.IsNaN(v) {
				return nil, apperrors.NewValidationError(fmt.Sprintf("row %d has a missing value", i))
			}
		}
		ids[i], _ = nearest(row, p.Centroids)
	}
	return ids, nil
}

// FitAndAssign fits k clusters on every column of t and labels its rows.
func FitAndAssign(ctx context.Context, t *dataset.Table, k int, opts Options, logger *slog.Logger) (*Partitioner, []int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rows, err := tableRows(t)
	if err != nil {
		return nil, nil, err
	}
	if k < 1 || k > len(rows) {
		return nil, nil, apperrors.NewValidationError(fmt.Sprintf("cannot fit %d clusters on %d rows", k, len(rows)))
	}

	centroids, _ := fitKMeans(rows, k, opts)
	labels := make([]int, len(rows))
	inertia := 0.0
	for i, row := range rows {
		var d float64
		labels[i], d = nearest(row, centroids)
		inertia += d
	}

	p := &Partitioner{Columns: t.Columns(), Centroids: centroids, Inertia: inertia}
	logger.InfoContext(ctx, "clusters fitted",
		slog.Int("k", k),
		slog.Float64("inertia", inertia),
		slog.Any("sizes", clusterSizes(labels, k)))
	return p, labels, nil
}

// fitKMeans runs k-means++ seeded Lloyd iterations Restarts times and keeps
// the lowest inertia. The first restart wins ties.
func fitKMeans(rows [][]float64, k int, opts Options) ([][]float64, float64) {
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed))
	restarts := max(opts.Restarts, 1)
	maxIter := max(opts.MaxIter, 1)

	var best [][]float64
	bestInertia := math.Inf(1)
	for r := 0; r < restarts; r++ {
		centroids := initPlusPlus(rows, k, rng)
		inertia := lloyd(rows, centroids, maxIter)
		if inertia < bestInertia {
			best, bestInertia = centroids, inertia
		}
	}
	return best, bestInertia
}

// initPlusPlus picks initial centroids with D² sampling.
func initPlusPlus(rows [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clone(rows[rng.IntN(len(rows))]))

	dist := make([]float64, len(rows))
	for len(centroids) < k {
		total := 0.0
		for i, row := range rows {
			_, dist[i] = nearest(row, centroids)
			total += dist[i]
		}
		var next int
		if total == 0 {
			next = rng.IntN(len(rows))
		} else {
			target := rng.Float64() * total
			acc := 0.0
			next = len(rows) - 1
			for i, d := range dist {
				acc += d
				if acc >= target && d > 0 {
					next = i
					break
				}
			}
		}
		centroids = append(centroids, clone(rows[next]))
	}
	return centroids
}

// lloyd updates centroids in place until assignments stop changing and
// returns the final inertia. An empty cluster keeps its previous centroid.
func lloyd(rows [][]float64, centroids [][]float64, maxIter int) float64 {
	k, dim := len(centroids), len(rows[0])
	labels := make([]int, len(rows))
	for i := range labels {
		labels[i] = -1
	}
	sums := make([][]float64, k)
	for c := range sums {
		sums[c] = make([]float64, dim)
	}
	counts := make([]int, k)

	inertia := 0.0
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		inertia = 0
		for i, row := range rows {
			c, d := nearest(row, centroids)
			inertia += d
			if c != labels[i] {
				labels[i] = c
				changed = true
			}
		}
		if !changed {
			break
		}

		for c := range sums {
			for j := range sums[c] {
				sums[c][j] = 0
			}
			counts[c] = 0
		}
		for i, row := range rows {
			floats.Add(sums[labels[i]], row)
			counts[labels[i]]++
		}
		for c := range centroids {
			if counts[c] == 0 {
				continue
			}
			copy(centroids[c], sums[c])
			floats.Scale(1/float64(counts[c]), centroids[c])
		}
	}
	return inertia
}

// nearest returns the closest centroid and the squared distance to it.
func nearest(row []float64, centroids [][]float64) (int, float64) {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		d := sqDist(row, centroid)
		if d < bestDist {
			best, bestDist = c, d
		}
	}
	return best, bestDist
}

func sqDist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func clone(v []float64) []float64 { return append([]float64(nil), v...) }

func tableRows(t *dataset.Table) ([][]float64, error) {
	if t.NumRows() == 0 || t.NumCols() == 0 {
		return nil, apperrors.NewValidationError("cannot cluster an empty table")
	}
	rows := make([][]float64, t.NumRows())
	for i := range rows {
		rows[i] = t.Row(i)
		for _, v := range rows[i] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, apperrors.NewValidationError(fmt.Sprintf("row %d is not finite", i))
			}
		}
	}
	return rows, nil
}

func clusterSizes(labels []int, k int) []int {
	sizes := make([]int, k)
	for _, l := range labels {
		sizes[l]++
	}
	return sizes
}
