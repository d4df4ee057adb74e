package models

import (
	"errors"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/mat"
)

// RandomForest averages bootstrapped CART regression trees split on MSE.
// Every split considers all features.
type RandomForest struct {
	Trees    int
	MaxDepth int // 0 means unlimited
	Seed     uint64
	Features int
	Forest   []Tree
}

// Tree is a regression tree stored as a flat node slice rooted at 0.
type Tree struct {
	Nodes []Node
}

// Node is a split when Left > 0, otherwise a leaf carrying Value.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64
}

func (m *RandomForest) Fit(x *mat.Dense, y []float64) error {
	rows, cols, err := checkFit(x, y)
	if err != nil {
		return err
	}
	if rows < 2 {
		return errors.New("random forest needs at least two rows")
	}
	trees := max(m.Trees, 1)
	rng := rand.New(rand.NewPCG(m.Seed, m.Seed))

	m.Features = cols
	m.Forest = make([]Tree, trees)
	sample := make([]int, rows)
	for t := range m.Forest {
		for i := range sample {
			sample[i] = rng.IntN(rows)
		}
		b := &treeBuilder{x: x, y: y, maxDepth: m.MaxDepth}
		b.grow(slices.Clone(sample), 0)
		m.Forest[t] = Tree{Nodes: b.nodes}
	}
	return nil
}

func (m *RandomForest) Predict(x *mat.Dense) ([]float64, error) {
	rows, err := checkPredict(x, m.Features)
	if err != nil {
		return nil, err
	}
	if len(m.Forest) == 0 {
		return nil, errors.New("random forest is not fitted")
	}
	out := make([]float64, rows)
	for i := range out {
		row := x.RawRowView(i)
		sum := 0.0
		for _, t := range m.Forest {
			sum += t.predict(row)
		}
		out[i] = sum / float64(len(m.Forest))
	}
	return out, nil
}

func (t Tree) predict(row []float64) float64 {
	n := t.Nodes[0]
	for n.Left > 0 {
		if row[n.Feature] <= n.Threshold {
			n = t.Nodes[n.Left]
		} else {
			n = t.Nodes[n.Right]
		}
	}
	return n.Value
}

type treeBuilder struct {
	x        *mat.Dense
	y        []float64
	maxDepth int
	nodes    []Node
}

// grow appends the subtree for idx and returns its node index.
func (b *treeBuilder) grow(idx []int, depth int) int {
	at := len(b.nodes)
	b.nodes = append(b.nodes, Node{Value: b.mean(idx)})

	if len(idx) < 2 || (b.maxDepth > 0 && depth >= b.maxDepth) {
		return at
	}
	feature, threshold, ok := b.bestSplit(idx)
	if !ok {
		return at
	}

	var left, right []int
	for _, i := range idx {
		if b.x.At(i, feature) <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[at].Feature = feature
	b.nodes[at].Threshold = threshold
	b.nodes[at].Left = l
	b.nodes[at].Right = r
	return at
}

func (b *treeBuilder) mean(idx []int) float64 {
	s := 0.0
	for _, i := range idx {
		s += b.y[i]
	}
	return s / float64(len(idx))
}

// bestSplit scans every feature for the threshold that minimizes the summed
// squared error of the two children. It reports false when no split lowers
// the parent's error.
func (b *treeBuilder) bestSplit(idx []int) (int, float64, bool) {
	n := float64(len(idx))
	total, totalSq := 0.0, 0.0
	for _, i := range idx {
		total += b.y[i]
		totalSq += b.y[i] * b.y[i]
	}
	parent := totalSq - total*total/n
	if parent <= 1e-12 {
		return 0, 0, false
	}

	_, cols := b.x.Dims()
	bestFeature, bestThreshold, bestSSE := -1, 0.0, parent
	order := slices.Clone(idx)
	for f := 0; f < cols; f++ {
		slices.SortStableFunc(order, func(a, c int) int {
			va, vc := b.x.At(a, f), b.x.At(c, f)
			switch {
			case va < vc:
				return -1
			case va > vc:
				return 1
			}
			return 0
		})
		leftSum, leftSq := 0.0, 0.0
		for k := 0; k < len(order)-1; k++ {
			yi := b.y[order[k]]
			leftSum += yi
			leftSq += yi * yi
			v, next := b.x.At(order[k], f), b.x.At(order[k+1], f)
			if v == next {
				continue
			}
			nl := float64(k + 1)
			nr := n - nl
			rightSum := total - leftSum
			sse := (leftSq - leftSum*leftSum/nl) + (totalSq - leftSq - rightSum*rightSum/nr)
			if sse < bestSSE-1e-12 {
				bestFeature, bestThreshold, bestSSE = f, (v+next)/2, sse
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}
