// Package dataset holds the immutable numeric table that flows through the
// pipeline, together with its CSV and Excel readers and writers.
//
// A Table is column-major. Missing values are NaN. The identifier column is
// kept apart from the numeric columns as a string slice so that it survives
// every transform untouched and can key the rows of a prediction result.
//
// Every method that changes shape or values returns a new Table. Column
// slices handed out by Column are copies.
package dataset
