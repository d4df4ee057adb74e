package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	apperrors "ccsml/internal/errors"
)

// missingTokens are the cell values read as NaN.
var missingTokens = map[string]struct{}{
	"":     {},
	"null": {},
	"nan":  {},
	"na":   {},
	"none": {},
}

// ReadCSV parses a header row followed by numeric rows. When idColumn is not
// empty and present in the header, that column is kept as the row ids.
func ReadCSV(r io.Reader, idColumn string) (*Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, apperrors.NewValidationError("csv has no header row")
	}
	return fromRecords(records[0], records[1:], idColumn)
}

// ReadCSVFile opens path and reads it with ReadCSV.
func ReadCSVFile(path, idColumn string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ReadCSV(f, idColumn)
}

// ReadExcel reads the first sheet of an .xlsx workbook.
func ReadExcel(path, idColumn string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, apperrors.NewValidationError(fmt.Sprintf("%s has no sheets", filepath.Base(path)))
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, apperrors.NewValidationError(fmt.Sprintf("%s has no header row", filepath.Base(path)))
	}
	return fromRecords(rows[0], rows[1:], idColumn)
}

// LoadFile reads a .csv or .xlsx file by extension.
func LoadFile(path, idColumn string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSVFile(path, idColumn)
	case ".xlsx":
		return ReadExcel(path, idColumn)
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("unsupported file type %q", filepath.Ext(path)))
	}
}

func fromRecords(header []string, rows [][]string, idColumn string) (*Table, error) {
	idIdx := -1
	names := make([]string, 0, len(header))
	colIdx := make([]int, 0, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if idColumn != "" && h == idColumn {
			idIdx = i
			continue
		}
		names = append(names, h)
		colIdx = append(colIdx, i)
	}

	cols := make([][]float64, len(names))
	for j := range cols {
		cols[j] = make([]float64, 0, len(rows))
	}
	var ids []string
	if idIdx >= 0 {
		ids = make([]string, 0, len(rows))
	}

	for r, row := range rows {
		if isBlankRow(row) {
			continue
		}
		if idIdx >= 0 {
			ids = append(ids, strings.TrimSpace(cell(row, idIdx)))
		}
		for j, src := range colIdx {
			v, err := parseCell(cell(row, src))
			if err != nil {
				return nil, apperrors.NewValidationError(
					fmt.Sprintf("row %d column %q: %v", r+2, names[j], err))
			}
			cols[j] = append(cols[j], v)
		}
	}
	return NewTable(names, cols, ids)
}

// cell tolerates short rows, which excelize returns when trailing cells are empty.
func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func parseCell(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if _, ok := missingTokens[strings.ToLower(s)]; ok {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	return v, nil
}

// WriteCSV writes the table with the id column first when ids are present.
// Missing values are written as empty cells.
func WriteCSV(w io.Writer, t *Table, idColumn string) error {
	writer := csv.NewWriter(w)

	header := make([]string, 0, t.NumCols()+1)
	if t.HasIDs() {
		header = append(header, idColumn)
	}
	header = append(header, t.names...)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(header))
	for i := 0; i < t.rows; i++ {
		k := 0
		if t.HasIDs() {
			record[0] = t.ids[i]
			k = 1
		}
		for j, col := range t.cols {
			record[k+j] = FormatValue(col[i])
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteCSVFile writes the table to path through a temporary file in the same directory.
func WriteCSVFile(path string, t *Table, idColumn string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path))
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteCSV(tmp, t, idColumn); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// FormatValue renders a cell the way WriteCSV does.
func FormatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
