// Package stats implements the statistical tests and transforms used when the
// analyzer looks for a normalizing transform: D'Agostino's K² normality test
// and the Box-Cox power transform with its maximum likelihood lambda.
//
// Moments are population (biased) moments computed with gonum/stat, which
// is what both the test statistics and the Box-Cox log-likelihood expect.
package stats
