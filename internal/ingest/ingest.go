package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"ccsml/internal/config"
	"ccsml/internal/dataset"
	apperrors "ccsml/internal/errors"
)

// Rejection records one file that failed validation.
type Rejection struct {
	File       string `json:"file"`
	Reason     string `json:"reason"`
	ArchivedTo string `json:"archived_to,omitempty"`
}

// Report summarizes one ingest pass.
type Report struct {
	Mode     Mode        `json:"mode"`
	Accepted []string    `json:"accepted"`
	Rejected []Rejection `json:"rejected"`
	Rows     int         `json:"rows"`
	Output   string      `json:"output,omitempty"`

	// Data is the merged, rounded batch that was written to Output.
	Data *dataset.Table `json:"-"`
}

// Ingestor turns the upload directory of one mode into a validated CSV.
type Ingestor struct {
	validator *Validator
	paths     config.PathsConfig
	idColumn  string
	workers   int
	logger    *slog.Logger
	now       func() time.Time
}

// NewIngestor creates an ingestor. workers bounds concurrent file validation.
func NewIngestor(v *Validator, paths config.PathsConfig, workers int, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = 4
	}
	return &Ingestor{
		validator: v,
		paths:     paths,
		idColumn:  v.idColumn,
		workers:   workers,
		logger:    logger.With(slog.String("component", "ingestor")),
		now:       time.Now,
	}
}

// SourceDir is the directory raw files of a mode are uploaded to.
func (i *Ingestor) SourceDir(mode Mode) string {
	return filepath.Join(i.paths.UploadDir, string(mode))
}

// OutputFile is the validated CSV a mode produces.
func (i *Ingestor) OutputFile(mode Mode) string {
	if mode == ModeTraining {
		return i.paths.TrainingFile()
	}
	return i.paths.PredictionFile()
}

type fileResult struct {
	name  string
	table *dataset.Table
	err   error
}

// Ingest validates every file in the mode's upload directory, archives the
// rejected ones, and writes the merged batch rounded to 2 decimals. It fails
// with a validation error when no file survives.
func (i *Ingestor) Ingest(ctx context.Context, mode Mode) (*Report, error) {
	dir := i.SourceDir(mode)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory %s: %w", dir, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload directory %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}

	i.logger.InfoContext(ctx, "ingest started",
		slog.String("mode", string(mode)),
		slog.String("directory", dir),
		slog.Int("files", len(names)))

	results := make([]fileResult, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.workers)
	for idx, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			table, err := i.validator.ValidateFile(filepath.Join(dir, name), mode)
			results[idx] = fileResult{name: name, table: table, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{Mode: mode, Accepted: []string{}, Rejected: []Rejection{}}
	var good []*dataset.Table
	var first []string
	for _, r := range results {
		if r.err == nil && len(good) > 0 && !sameColumns(first, r.table.Columns()) {
			r.err = apperrors.NewValidationError(fmt.Sprintf("columns of %s do not match %s", r.name, report.Accepted[0]))
		}
		if r.err != nil {
			report.Rejected = append(report.Rejected, Rejection{File: r.name, Reason: r.err.Error()})
			continue
		}
		if len(good) == 0 {
			first = r.table.Columns()
		}
		good = append(good, r.table)
		report.Accepted = append(report.Accepted, r.name)
	}

	if len(report.Rejected) > 0 {
		archive := filepath.Join(i.paths.ArchiveDir, fmt.Sprintf("%s_%s", mode, i.now().Format("20060102_150405")))
		for k := range report.Rejected {
			rej := &report.Rejected[k]
			dst := filepath.Join(archive, rej.File)
			if err := moveFile(filepath.Join(dir, rej.File), dst); err != nil {
				i.logger.ErrorContext(ctx, "failed to archive rejected file",
					slog.String("file", rej.File),
					slog.String("error", err.Error()))
				continue
			}
			rej.ArchivedTo = dst
			i.logger.WarnContext(ctx, "file rejected",
				slog.String("file", rej.File),
				slog.String("reason", rej.Reason),
				slog.String("archived_to", dst))
		}
	}

	if len(good) == 0 {
		return report, apperrors.NewValidationError(fmt.Sprintf("no valid %s files in %s", mode, dir))
	}

	merged, err := dataset.Concat(good...)
	if err != nil {
		return report, err
	}
	merged = merged.Round(2)

	out := i.OutputFile(mode)
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return report, fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := dataset.WriteCSVFile(out, merged, i.idColumn); err != nil {
		return report, fmt.Errorf("failed to write validated file: %w", err)
	}

	report.Rows = merged.NumRows()
	report.Output = out
	report.Data = merged

	i.logger.InfoContext(ctx, "ingest completed",
		slog.String("mode", string(mode)),
		slog.Int("accepted", len(report.Accepted)),
		slog.Int("rejected", len(report.Rejected)),
		slog.Int("rows", report.Rows),
		slog.String("output", out))
	return report, nil
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

// moveFile renames src to dst, falling back to copy and delete across
// filesystems.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy file content: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	in.Close()
	return os.Remove(src)
}
