package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"ccsml/internal/dataset"
	apperrors "ccsml/internal/errors"
	"ccsml/internal/pipeline"
)

// Record is one exported row keyed by column name. Missing cells are nil.
type Record map[string]any

// Results is a prediction batch merged back onto its input rows.
type Results struct {
	// Table holds the input features plus the label column filled with the
	// prediction, rounded to 2 decimals.
	Table   *dataset.Table
	Records []Record
}

// ResultExporter merges predictions with their input and writes the result file.
type ResultExporter struct {
	idColumn    string
	labelColumn string
	logger      *slog.Logger
}

// NewResultExporter creates an exporter for the given id and label columns.
func NewResultExporter(idColumn, labelColumn string, logger *slog.Logger) *ResultExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultExporter{
		idColumn:    idColumn,
		labelColumn: labelColumn,
		logger:      logger.With(slog.String("component", "result_exporter")),
	}
}

// Merge joins predictions to input rows by id. Every input row needs exactly
// one prediction. An input label column, if any, is replaced.
func (e *ResultExporter) Merge(input *dataset.Table, preds []pipeline.Prediction) (*Results, error) {
	if !input.HasIDs() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("input has no %s column", e.idColumn))
	}
	byID := make(map[string]pipeline.Prediction, len(preds))
	for _, p := range preds {
		if _, dup := byID[p.ID]; dup {
			return nil, apperrors.NewValidationError(fmt.Sprintf("duplicate prediction for %s %q", e.idColumn, p.ID))
		}
		byID[p.ID] = p
	}

	ids := input.IDs()
	if len(byID) != len(ids) {
		return nil, apperrors.NewValidationError(fmt.Sprintf("%d predictions for %d input rows", len(byID), len(ids)))
	}
	values := make([]float64, len(ids))
	matched := make([]pipeline.Prediction, len(ids))
	for i, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, apperrors.NewValidationError(fmt.Sprintf("no prediction for %s %q", e.idColumn, id))
		}
		values[i] = p.Value
		matched[i] = p
	}

	merged, err := input.Drop(e.labelColumn).WithColumn(e.labelColumn, values)
	if err != nil {
		return nil, err
	}
	merged = merged.Round(2)

	cols := merged.Columns()
	records := make([]Record, merged.NumRows())
	for i := range records {
		row := merged.Row(i)
		rec := make(Record, len(cols)+3)
		rec[e.idColumn] = ids[i]
		for j, name := range cols {
			if math.IsNaN(row[j]) {
				rec[name] = nil
				continue
			}
			rec[name] = row[j]
		}
		rec["cluster"] = matched[i].ClusterID
		rec["model"] = matched[i].Model
		records[i] = rec
	}
	return &Results{Table: merged, Records: records}, nil
}

// WriteCSV writes the merged table to path, id column first.
func (e *ResultExporter) WriteCSV(ctx context.Context, path string, res *Results) error {
	if err := dataset.WriteCSVFile(path, res.Table, e.idColumn); err != nil {
		return fmt.Errorf("failed to write prediction results: %w", err)
	}
	e.logger.InfoContext(ctx, "prediction results written",
		slog.String("file_path", path),
		slog.Int("record_count", res.Table.NumRows()))
	return nil
}
