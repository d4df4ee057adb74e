package ingest

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"ccsml/internal/config"
	"ccsml/internal/dataset"
	apperrors "ccsml/internal/errors"
)

// Mode selects which batch a file belongs to.
type Mode string

const (
	ModeTraining   Mode = "training"
	ModePrediction Mode = "prediction"
)

// ParseMode accepts "training" or "prediction".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeTraining, ModePrediction:
		return Mode(s), nil
	}
	return "", apperrors.NewValidationError(fmt.Sprintf("unknown mode %q", s))
}

// Validator checks a single raw batch file against the configured schema.
type Validator struct {
	pattern     *regexp.Regexp
	columnCount int
	required    []string
	idColumn    string
	labelColumn string
	logger      *slog.Logger
}

// NewValidator compiles the file name pattern. The column count and required
// columns describe a training batch; prediction batches are expected to lack
// the label column.
func NewValidator(cfg config.IngestConfig, idColumn, labelColumn string, logger *slog.Logger) (*Validator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pattern, err := regexp.Compile(cfg.FilePattern)
	if err != nil {
		return nil, apperrors.NewConfigError("invalid ingest file pattern", err)
	}
	return &Validator{
		pattern:     pattern,
		columnCount: cfg.ColumnCount,
		required:    slices.Clone(cfg.RequiredColumns),
		idColumn:    idColumn,
		labelColumn: labelColumn,
		logger:      logger.With(slog.String("component", "ingest_validator")),
	}, nil
}

// MatchName reports whether the base name matches the batch file pattern.
func (v *Validator) MatchName(name string) bool {
	return v.pattern.MatchString(filepath.Base(name))
}

// ValidateFile loads path and returns its table when every check passes.
// Failures are validation errors naming the broken rule.
func (v *Validator) ValidateFile(path string, mode Mode) (*dataset.Table, error) {
	name := filepath.Base(path)
	if !v.MatchName(name) {
		return nil, apperrors.NewValidationError(fmt.Sprintf("file name %s does not match %s", name, v.pattern))
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("%s is a directory, not a file", name))
	}

	table, err := dataset.LoadFile(path, v.idColumn)
	if err != nil {
		return nil, err
	}

	if want := v.expectedColumns(mode); want > 0 {
		got := table.NumCols()
		if table.HasIDs() {
			got++
		}
		if got != want {
			return nil, apperrors.NewValidationError(fmt.Sprintf("%s has %d columns, expected %d", name, got, want))
		}
	}

	if err := table.RequireColumns(v.requiredColumns(mode)...); err != nil {
		return nil, err
	}

	if table.NumRows() == 0 {
		return nil, apperrors.NewValidationError(fmt.Sprintf("%s has no rows", name))
	}

	for _, col := range table.Columns() {
		if table.NaNCount(col) == table.NumRows() {
			return nil, apperrors.NewValidationError(fmt.Sprintf("%s: column %q is entirely empty", name, col))
		}
	}

	v.logger.Debug("file validated",
		slog.String("file", name),
		slog.String("mode", string(mode)),
		slog.Int("rows", table.NumRows()),
		slog.Int64("size", info.Size()))
	return table, nil
}

func (v *Validator) expectedColumns(mode Mode) int {
	if v.columnCount == 0 || mode == ModeTraining || v.labelColumn == "" {
		return v.columnCount
	}
	return v.columnCount - 1
}

func (v *Validator) requiredColumns(mode Mode) []string {
	if mode == ModeTraining {
		return v.required
	}
	return slices.DeleteFunc(slices.Clone(v.required), func(c string) bool { return c == v.labelColumn })
}
