package stats

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"

	apperrors "ccsml/internal/errors"
)

// normalQuantiles returns n evenly spaced quantiles of N(mean, sd).
func normalQuantiles(n int, mean, sd float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		p := (float64(i) + 0.5) / float64(n)
		out[i] = mean + sd*distuv.UnitNormal.Quantile(p)
	}
	return out
}

func exponentialQuantiles(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		p := (float64(i) + 0.5) / float64(n)
		out[i] = -math.Log(1 - p)
	}
	return out
}

func TestNormalTest(t *testing.T) {
	tests := []struct {
		name       string
		sample     []float64
		wantNormal bool
		wantErr    bool
	}{
		{"normal quantiles", normalQuantiles(200, 30, 5), true, false},
		{"exponential quantiles", exponentialQuantiles(200), false, false},
		{"constant column", []float64{3, 3, 3, 3, 3, 3, 3, 3, 3, 3}, false, true},
		{"too few samples", []float64{1, 2, 3}, false, true},
		{"non-finite value", append(normalQuantiles(20, 0, 1), math.NaN()), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NormalTest(tt.sample)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, apperrors.ErrTransformUndefined))
			} else {
				require.NoError(t, err)
				assert.GreaterOrEqual(t, res.PValue, 0.0)
				assert.LessOrEqual(t, res.PValue, 1.0)
			}
			assert.Equal(t, tt.wantNormal, IsNormal(tt.sample, 0.05))
		})
	}
}

func TestMoments(t *testing.T) {
	sym := []float64{-2, -1, 0, 1, 2}
	assert.InDelta(t, 0, Skewness(sym), 1e-12)
	// m2 = 2, m4 = 6.8
	assert.InDelta(t, 1.7, Kurtosis(sym), 1e-12)
	assert.Greater(t, Skewness(exponentialQuantiles(100)), 1.0)
}

func TestFitBoxCox(t *testing.T) {
	t.Run("recovers lambda of a transformed normal sample", func(t *testing.T) {
		z := normalQuantiles(300, 0, 0.2)
		x := make([]float64, len(z))
		for i, v := range z {
			x[i] = math.Pow(0.5*v+1, 2)
		}
		lambda, err := FitBoxCox(x)
		require.NoError(t, err)
		assert.InDelta(t, 0.5, lambda, 0.1)
	})

	t.Run("lognormal sample gives lambda near zero", func(t *testing.T) {
		z := normalQuantiles(300, 0, 1)
		x := make([]float64, len(z))
		for i, v := range z {
			x[i] = math.Exp(v)
		}
		lambda, err := FitBoxCox(x)
		require.NoError(t, err)
		assert.InDelta(t, 0, lambda, 0.05)
	})

	t.Run("optimum beats neighbours", func(t *testing.T) {
		x := exponentialQuantiles(150)
		for i := range x {
			x[i] += 0.1
		}
		lambda, err := FitBoxCox(x)
		require.NoError(t, err)
		best := BoxCoxLLF(lambda, x)
		assert.GreaterOrEqual(t, best, BoxCoxLLF(lambda-0.01, x))
		assert.GreaterOrEqual(t, best, BoxCoxLLF(lambda+0.01, x))
	})

	t.Run("lambda is clamped to the upper bound", func(t *testing.T) {
		// x^8 is normal here, so the unconstrained optimum is near 8.
		z := normalQuantiles(300, 0, 0.3)
		x := make([]float64, len(z))
		for i, v := range z {
			x[i] = math.Pow(1+v, 1.0/8)
		}
		lambda, err := FitBoxCox(x)
		require.NoError(t, err)
		assert.LessOrEqual(t, lambda, 5.0)
		assert.InDelta(t, 5, lambda, 1e-3)
	})

	degenerate := map[string][]float64{
		"constant":     {2, 2, 2, 2},
		"single value": {4},
		"non-positive": {1, 2, 0},
	}
	for name, x := range degenerate {
		t.Run(name, func(t *testing.T) {
			_, err := FitBoxCox(x)
			assert.True(t, errors.Is(err, apperrors.ErrTransformUndefined))
		})
	}
}

func TestBoxCox(t *testing.T) {
	lambda := 0.37

	assert.Equal(t, -1/lambda, BoxCox(0, lambda))
	assert.Equal(t, BoxCox(12.5, lambda), BoxCox(12.5, lambda))
	assert.InDelta(t, (math.Pow(12.5, lambda)-1)/lambda, BoxCox(12.5, lambda), 1e-12)
	assert.Equal(t, -4.0, BoxCox(-4, lambda))
	assert.True(t, math.IsNaN(BoxCox(math.NaN(), lambda)))
	assert.InDelta(t, math.Log(5), BoxCox(5, 0), 1e-12)

	col := BoxCoxColumn([]float64{0, 1, 4}, 2)
	require.Len(t, col, 3)
	assert.Equal(t, -0.5, col[0])
	assert.InDelta(t, 0, col[1], 1e-12)
	assert.InDelta(t, 7.5, col[2], 1e-9)

	assert.Equal(t, []float64{1, 3}, PositiveValues([]float64{0, 1, -2, 3}))
	assert.InDelta(t, math.Log(2), Log1pColumn([]float64{1})[0], 1e-12)
}
