// Package features holds the fitted transformers of the pipeline, the KNN
// imputer and the standard scaler, and the column selectors whose union is
// the dropped-column list.
//
// Transformers are fitted once per training run, persisted as artifacts and
// replayed unchanged by every prediction run. Each one records the exact
// column order it was fitted on and selects that order from its input, so
// extra columns in a prediction batch are ignored and missing ones fail.
package features
