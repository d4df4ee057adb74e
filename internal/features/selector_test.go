package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ccsml/internal/dataset"
)

func TestSelectors(t *testing.T) {
	label := []float64{1, 2, 3, 4, 5, 6}
	tbl, err := dataset.NewTable(
		[]string{"signal", "constant", "noise", "twin", "anti"},
		[][]float64{
			{1, 2, 3, 4, 5, 6.5},
			{3, 3, 3, math.NaN(), 3, 3},
			{1, -1, -1, -1, -1, 1},
			{2, 4, 6, 8, 10, 13},
			{-1, -2, -3, -4, -5, -6},
		},
		nil,
	)
	require.NoError(t, err)

	tests := []struct {
		name string
		got  []string
		want []string
	}{
		{"zero variance", ZeroVariance(tbl), []string{"constant"}},
		{"low importance", LowImportance(tbl, label, 0.05), []string{"constant", "noise"}},
		{"high correlation", HighCorrelation(tbl.Drop("constant"), 0.9), []string{"twin", "anti"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestUnion(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Union([]string{"a", "b"}, nil, []string{"b", "c", "a"}))
	assert.Nil(t, Union())
}
