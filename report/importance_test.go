package report

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRank(t *testing.T) {
	ranked, err := Rank([]string{"a", "b", "c", "d"}, []float64{0.1, 0.5, 0.1, 0.3})
	require.NoError(t, err)
	assert.Equal(t, []Importance{
		{Feature: "b", Weight: 0.5},
		{Feature: "d", Weight: 0.3},
		{Feature: "a", Weight: 0.1},
		{Feature: "c", Weight: 0.1},
	}, ranked)

	_, err = Rank([]string{"a"}, []float64{0.1, 0.2})
	assert.Error(t, err)
}

func TestFeatureImportanceChart(t *testing.T) {
	names := []string{"feature_0", "feature_1", "feature_2"}
	data, err := FeatureImportanceChart(names, []float64{0.2, 0.5, 0.3}, DefaultChartOptions())
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Positive(t, img.Bounds().Dx())
	assert.Positive(t, img.Bounds().Dy())
}

func TestFeatureImportanceChart_TopKAndDefaults(t *testing.T) {
	names := make([]string, 30)
	weights := make([]float64, 30)
	for i := range names {
		names[i] = string(rune('a'+i%26)) + string(rune('0'+i/26))
		weights[i] = float64(i)
	}
	data, err := FeatureImportanceChart(names, weights, ChartOptions{TopK: 5})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))
}

func TestFeatureImportanceChart_Empty(t *testing.T) {
	_, err := FeatureImportanceChart(nil, nil, DefaultChartOptions())
	assert.Error(t, err)
}
