package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	apperrors "ccsml/internal/errors"
)

// MinNormalitySamples is the smallest sample the skewness test accepts.
const MinNormalitySamples = 8

// NormalityResult is the outcome of NormalTest.
type NormalityResult struct {
	Skew     float64
	Kurtosis float64
	K2       float64
	PValue   float64
}

// Normal reports whether the null hypothesis of normality survives at alpha.
func (r NormalityResult) Normal(alpha float64) bool {
	return r.PValue > alpha
}

// Skewness returns the biased sample skewness m3 / m2^1.5.
func Skewness(x []float64) float64 {
	m2 := stat.Moment(2, x, nil)
	m3 := stat.Moment(3, x, nil)
	return m3 / math.Pow(m2, 1.5)
}

// Kurtosis returns the biased Pearson kurtosis m4 / m2^2, which is 3 for a normal sample.
func Kurtosis(x []float64) float64 {
	m2 := stat.Moment(2, x, nil)
	m4 := stat.Moment(4, x, nil)
	return m4 / (m2 * m2)
}

// skewTest returns the z-score of the sample skewness.
func skewTest(x []float64) float64 {
	n := float64(len(x))
	b2 := Skewness(x)
	y := b2 * math.Sqrt((n+1)*(n+3)/(6*(n-2)))
	beta2 := 3 * (n*n + 27*n - 70) * (n + 1) * (n + 3) / ((n - 2) * (n + 5) * (n + 7) * (n + 9))
	w2 := -1 + math.Sqrt(2*(beta2-1))
	delta := 1 / math.Sqrt(0.5*math.Log(w2))
	alpha := math.Sqrt(2 / (w2 - 1))
	if y == 0 {
		y = 1
	}
	return delta * math.Log(y/alpha+math.Sqrt((y/alpha)*(y/alpha)+1))
}

// kurtosisTest returns the z-score of the sample kurtosis (Anscombe and Glynn).
func kurtosisTest(x []float64) float64 {
	n := float64(len(x))
	b2 := Kurtosis(x)
	e := 3 * (n - 1) / (n + 1)
	varb2 := 24 * n * (n - 2) * (n - 3) / ((n + 1) * (n + 1) * (n + 3) * (n + 5))
	z := (b2 - e) / math.Sqrt(varb2)
	sqrtBeta1 := 6 * (n*n - 5*n + 2) / ((n + 7) * (n + 9)) *
		math.Sqrt(6*(n+3)*(n+5)/(n*(n-2)*(n-3)))
	a := 6 + 8/sqrtBeta1*(2/sqrtBeta1+math.Sqrt(1+4/(sqrtBeta1*sqrtBeta1)))
	term1 := 1 - 2/(9*a)
	denom := 1 + z*math.Sqrt(2/(a-4))
	if denom == 0 {
		return math.NaN()
	}
	term2 := math.Copysign(math.Cbrt((1-2/a)/math.Abs(denom)), denom)
	return (term1 - term2) / math.Sqrt(2/(9*a))
}

// NormalTest runs D'Agostino and Pearson's omnibus K² test. Degenerate input
// (too few samples, a constant column, non-finite values) fails with a
// TRANSFORM_UNDEFINED error; callers treat that as not normal.
func NormalTest(x []float64) (NormalityResult, error) {
	if len(x) < MinNormalitySamples {
		return NormalityResult{}, apperrors.NewTransformUndefinedError("",
			fmt.Sprintf("normality test needs at least %d samples, got %d", MinNormalitySamples, len(x)))
	}
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return NormalityResult{}, apperrors.NewTransformUndefinedError("", "normality test on non-finite values")
		}
	}
	if stat.Moment(2, x, nil) == 0 {
		return NormalityResult{}, apperrors.NewTransformUndefinedError("", "normality test on a constant sample")
	}

	s := skewTest(x)
	k := kurtosisTest(x)
	k2 := s*s + k*k
	if math.IsNaN(k2) || math.IsInf(k2, 0) {
		return NormalityResult{}, apperrors.NewTransformUndefinedError("", "normality statistic is not finite")
	}

	chi2 := distuv.ChiSquared{K: 2}
	return NormalityResult{
		Skew:     s,
		Kurtosis: k,
		K2:       k2,
		PValue:   chi2.Survival(k2),
	}, nil
}

// IsNormal reports whether x passes the normality test at alpha. Degenerate
// samples are not normal.
func IsNormal(x []float64, alpha float64) bool {
	res, err := NormalTest(x)
	if err != nil {
		return false
	}
	return res.Normal(alpha)
}
