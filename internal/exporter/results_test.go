package exporter

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ccsml/internal/dataset"
	apperrors "ccsml/internal/errors"
	"ccsml/internal/pipeline"
)

func inputTable(t *testing.T) *dataset.Table {
	t.Helper()
	tbl, err := dataset.NewTable(
		[]string{"cement", "water"},
		[][]float64{{100.123, 200}, {50, math.NaN()}},
		[]string{"a", "b"},
	)
	require.NoError(t, err)
	return tbl
}

func TestMerge(t *testing.T) {
	e := NewResultExporter("id", "strength", nil)
	preds := []pipeline.Prediction{
		{ID: "b", ClusterID: 1, Model: "knn", Value: 20.456},
		{ID: "a", ClusterID: 0, Model: "ridge", Value: 10.004},
	}

	res, err := e.Merge(inputTable(t), preds)
	require.NoError(t, err)

	assert.Equal(t, []string{"cement", "water", "strength"}, res.Table.Columns())
	strength, _ := res.Table.Column("strength")
	assert.Equal(t, []float64{10, 20.46}, strength)

	require.Len(t, res.Records, 2)
	assert.Equal(t, Record{
		"id": "a", "cement": 100.12, "water": 50.0, "strength": 10.0,
		"cluster": 0, "model": "ridge",
	}, res.Records[0])
	assert.Nil(t, res.Records[1]["water"])
	assert.Equal(t, 20.46, res.Records[1]["strength"])
}

func TestMergeReplacesInputLabel(t *testing.T) {
	tbl, err := dataset.NewTable([]string{"x", "strength"}, [][]float64{{1}, {99}}, []string{"a"})
	require.NoError(t, err)

	e := NewResultExporter("id", "strength", nil)
	res, err := e.Merge(tbl, []pipeline.Prediction{{ID: "a", Value: 5}})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "strength"}, res.Table.Columns())
	assert.Equal(t, 5.0, res.Records[0]["strength"])
}

func TestMergeErrors(t *testing.T) {
	e := NewResultExporter("id", "strength", nil)
	noIDs, err := dataset.NewTable([]string{"x"}, [][]float64{{1}}, nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		input   *dataset.Table
		preds   []pipeline.Prediction
		wantErr string
	}{
		{name: "no ids", input: noIDs, preds: nil, wantErr: "no id column"},
		{name: "missing prediction", input: inputTable(t), preds: []pipeline.Prediction{{ID: "a"}, {ID: "c"}}, wantErr: `no prediction for id "b"`},
		{name: "count mismatch", input: inputTable(t), preds: []pipeline.Prediction{{ID: "a"}}, wantErr: "1 predictions for 2 input rows"},
		{name: "duplicate", input: inputTable(t), preds: []pipeline.Prediction{{ID: "a"}, {ID: "a"}}, wantErr: "duplicate prediction"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Merge(tt.input, tt.preds)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrValidation)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWriteCSV(t *testing.T) {
	e := NewResultExporter("id", "strength", nil)
	res, err := e.Merge(inputTable(t), []pipeline.Prediction{{ID: "a", Value: 1}, {ID: "b", Value: 2}})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "results", "prediction_result.csv")
	require.NoError(t, e.WriteCSV(context.Background(), path, res))

	back, err := dataset.LoadFile(path, "id")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, back.IDs())
	strength, _ := back.Column("strength")
	assert.Equal(t, []float64{1, 2}, strength)
}
