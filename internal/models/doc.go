// Package models holds the regressor panel trained per cluster and the
// selection that keeps the best scoring candidate.
//
// Candidates are evaluated in a fixed order (ridge, random_forest, knn) on
// the same train/test split and scored by R² on the held-out rows. The
// first candidate wins exact ties. A candidate that cannot be fitted is
// skipped with its reason recorded.
package models
