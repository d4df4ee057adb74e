package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ccsml/internal/shared/testutil"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	root := t.TempDir()
	content := fmt.Sprintf(`
logging:
  level: warn
  output: console
paths:
  data_dir: %[1]s/data
  upload_dir: %[1]s/uploads
  archive_dir: %[1]s/archive
  artifacts_dir: %[1]s/artifacts
  results_dir: %[1]s/results
  logs_dir: %[1]s/logs
pipeline:
  label_column: %[2]s
  id_column: %[3]s
  correlation_threshold: 1
  forest_trees: 20
artifacts:
  watch: false
telemetry:
  metric_exporter: none
`, root, testutil.LabelColumn, testutil.IDColumn)
	path := filepath.Join(root, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path, root
}

func TestRunUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"score"}},
		{"bad flag", []string{"train", "-epochs", "3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			assert.Error(t, run(context.Background(), tt.args, &out))
		})
	}
}

func TestRunVersion(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"version"}, &out))
	assert.NotEmpty(t, out.String())
}

func TestRunEndToEnd(t *testing.T) {
	configPath, root := writeConfig(t)
	ctx := context.Background()
	const upload = "cement_strength_20240101_120000.csv"

	testutil.WriteCSV(t, filepath.Join(root, "uploads", "training"), upload, testutil.TwoRegimeTable(t))
	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"-config", configPath, "ingest", "-mode", "training"}, &out))
	var report map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Len(t, report["accepted"], 1)

	out.Reset()
	require.NoError(t, run(ctx, []string{"-config", configPath, "train"}, &out))
	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.NotEmpty(t, result["generation"])

	testutil.WriteCSV(t, filepath.Join(root, "uploads", "prediction"), upload, testutil.TwoRegimeTable(t).Drop(testutil.LabelColumn))
	out.Reset()
	require.NoError(t, run(ctx, []string{"-config", configPath, "ingest", "-mode", "prediction"}, &out))

	out.Reset()
	require.NoError(t, run(ctx, []string{"-config", configPath, "predict"}, &out))
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Len(t, resp["predictions"], 2*testutil.RegimeRows)
	assert.FileExists(t, filepath.Join(root, "results", "prediction_result.csv"))
}

func TestRunPredictBeforeTraining(t *testing.T) {
	configPath, _ := writeConfig(t)
	var out bytes.Buffer
	assert.Error(t, run(context.Background(), []string{"-config", configPath, "predict"}, &out))
}
