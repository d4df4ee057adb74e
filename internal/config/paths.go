package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Well-known file names inside the configured directories.
const (
	TrainingFileName   = "validated_file.csv"
	PredictionFileName = "prediction_file.csv"
	ResultFileName     = "prediction_result.csv"
)

// EnsureDirectories creates all required directories if they don't exist
func (p PathsConfig) EnsureDirectories() error {
	directories := []string{
		p.DataDir,
		p.UploadDir,
		p.ArchiveDir,
		p.ArtifactsDir,
		p.ResultsDir,
		p.LogsDir,
	}

	for _, dir := range directories {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		slog.Debug("ensured directory exists", slog.String("directory", dir))
	}

	return nil
}

// TrainingFile is where ingest writes the merged training batch.
func (p PathsConfig) TrainingFile() string {
	return filepath.Join(p.DataDir, TrainingFileName)
}

// PredictionFile is where ingest writes the merged prediction batch.
func (p PathsConfig) PredictionFile() string {
	return filepath.Join(p.DataDir, PredictionFileName)
}

// ResultFile is the CSV the prediction run exports.
func (p PathsConfig) ResultFile() string {
	return filepath.Join(p.ResultsDir, ResultFileName)
}

// LogPathResolution logs the resolved directories once at startup.
func (p PathsConfig) LogPathResolution(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("path resolution summary",
		slog.Group("directories",
			slog.String("data", p.DataDir),
			slog.String("upload", p.UploadDir),
			slog.String("archive", p.ArchiveDir),
			slog.String("artifacts", p.ArtifactsDir),
			slog.String("results", p.ResultsDir),
			slog.String("logs", p.LogsDir),
		))
}
