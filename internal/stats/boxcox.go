package stats

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	apperrors "ccsml/internal/errors"
)

const (
	lambdaLow  = -5.0
	lambdaHigh = 5.0
	gridStep   = 0.25
)

// BoxCoxLLF is the Box-Cox profile log-likelihood of lambda for strictly positive x.
func BoxCoxLLF(lambda float64, x []float64) float64 {
	n := float64(len(x))
	logs := make([]float64, len(x))
	for i, v := range x {
		logs[i] = math.Log(v)
	}
	y := make([]float64, len(x))
	if lambda == 0 {
		copy(y, logs)
	} else {
		for i, l := range logs {
			y[i] = math.Expm1(lambda*l) / lambda
		}
	}
	variance := stat.Moment(2, y, nil)
	return (lambda-1)*floats.Sum(logs) - n/2*math.Log(variance)
}

// FitBoxCox returns the lambda in [-5, 5] that maximizes BoxCoxLLF. A coarse
// grid picks the starting point and Nelder-Mead refines it.
func FitBoxCox(x []float64) (float64, error) {
	if len(x) < 2 {
		return 0, apperrors.NewTransformUndefinedError("", "box-cox needs at least two positive values")
	}
	for _, v := range x {
		if !(v > 0) || math.IsInf(v, 0) {
			return 0, apperrors.NewTransformUndefinedError("", "box-cox input must be strictly positive and finite")
		}
	}
	if floats.Min(x) == floats.Max(x) {
		return 0, apperrors.NewTransformUndefinedError("", "box-cox on a constant sample")
	}

	// The grid is offset by half a step so the search never starts at zero.
	start, startVal := lambdaLow, math.Inf(-1)
	for l := lambdaLow + gridStep/2; l < lambdaHigh; l += gridStep {
		if v := BoxCoxLLF(l, x); v > startVal {
			start, startVal = l, v
		}
	}
	if math.IsInf(startVal, -1) || math.IsNaN(startVal) {
		return 0, apperrors.NewTransformUndefinedError("", "box-cox likelihood is not finite")
	}

	// Outside the range the objective grows linearly, so the minimum sits on the bound.
	problem := optimize.Problem{
		Func: func(l []float64) float64 {
			clamped := clampLambda(l[0])
			return -BoxCoxLLF(clamped, x) + math.Abs(l[0]-clamped)
		},
	}
	lambda := start
	result, err := optimize.Minimize(problem, []float64{start}, nil, &optimize.NelderMead{})
	if err == nil && !math.IsNaN(result.F) {
		lambda = clampLambda(result.X[0])
	}
	if lambda == 0 {
		return 0, apperrors.NewTransformUndefinedError("", "box-cox lambda is zero, zero values cannot be substituted")
	}
	return lambda, nil
}

func clampLambda(l float64) float64 {
	return math.Max(lambdaLow, math.Min(lambdaHigh, l))
}

// BoxCox transforms a single value with a fitted lambda. Zero maps to -1/lambda,
// negative values and NaN pass through unchanged.
func BoxCox(v, lambda float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return v
	case v == 0:
		return -1 / lambda
	case lambda == 0:
		return math.Log(v)
	default:
		return math.Expm1(lambda*math.Log(v)) / lambda
	}
}

// BoxCoxColumn applies BoxCox to every value and returns a new slice.
func BoxCoxColumn(values []float64, lambda float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = BoxCox(v, lambda)
	}
	return out
}

// Log1pColumn applies log(1+x) to every value and returns a new slice.
func Log1pColumn(values []float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = math.Log1p(v)
	}
	return out
}

// PositiveValues returns the strictly positive finite values of x.
func PositiveValues(x []float64) []float64 {
	out := make([]float64, 0, len(x))
	for _, v := range x {
		if v > 0 && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}
