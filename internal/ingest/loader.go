package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"ccsml/internal/dataset"
	apperrors "ccsml/internal/errors"
)

// LoadValidated reads a validated batch, rounds it to 2 decimals and checks
// that every row carries a unique, non-empty id. Training batches must also
// carry the label column.
func LoadValidated(path string, mode Mode, idColumn, labelColumn string) (*dataset.Table, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.NewValidationError(fmt.Sprintf("no validated %s file at %s; run ingest first", mode, path))
	}
	table, err := dataset.LoadFile(path, idColumn)
	if err != nil {
		return nil, err
	}
	if err := CheckIDs(table, idColumn); err != nil {
		return nil, err
	}
	if mode == ModeTraining {
		if err := table.RequireColumns(labelColumn); err != nil {
			return nil, err
		}
	}
	return table.Round(2), nil
}

// CheckIDs fails unless the table has an id for every row and no id repeats.
func CheckIDs(table *dataset.Table, idColumn string) error {
	if !table.HasIDs() {
		return apperrors.NewValidationError(fmt.Sprintf("missing id column %q", idColumn))
	}
	seen := make(map[string]int, table.NumRows())
	for row, id := range table.IDs() {
		if id == "" {
			return apperrors.NewValidationError(fmt.Sprintf("row %d has an empty %s", row, idColumn))
		}
		if prev, ok := seen[id]; ok {
			return apperrors.NewValidationError(fmt.Sprintf("duplicate %s %q in rows %d and %d", idColumn, id, prev, row))
		}
		seen[id] = row
	}
	return nil
}
