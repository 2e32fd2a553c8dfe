// Package report renders training artifacts such as the feature-importance chart.
package report

import (
	"bytes"
	"image/color"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/mlops/pkg/errors"
)

// Importance is the weight of one feature.
type Importance struct {
	Feature string  `json:"feature"`
	Weight  float64 `json:"weight"`
}

// Rank pairs names with importances and sorts them by descending weight.
// Ties keep feature order.
func Rank(names []string, importances []float64) ([]Importance, error) {
	if len(names) != len(importances) {
		return nil, errors.NewDimensionError("Rank", len(names), len(importances), 0)
	}
	out := make([]Importance, len(names))
	for i := range names {
		out[i] = Importance{Feature: names[i], Weight: importances[i]}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out, nil
}

// ChartOptions controls FeatureImportanceChart.
type ChartOptions struct {
	Title  string
	TopK   int // 0 draws every feature
	Width  vg.Length
	Height vg.Length
}

// DefaultChartOptions returns a 6×4 inch chart of the 20 strongest features.
func DefaultChartOptions() ChartOptions {
	return ChartOptions{
		Title:  "Feature importance",
		TopK:   20,
		Width:  6 * vg.Inch,
		Height: 4 * vg.Inch,
	}
}

// FeatureImportanceChart draws a horizontal bar chart of the ranked importances
// and returns it as PNG bytes. The strongest feature is drawn at the top.
func FeatureImportanceChart(names []string, importances []float64, opts ChartOptions) ([]byte, error) {
	ranked, err := Rank(names, importances)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, errors.NewValueError("FeatureImportanceChart", "no features to draw")
	}
	if opts.TopK > 0 && opts.TopK < len(ranked) {
		ranked = ranked[:opts.TopK]
	}
	if opts.Width <= 0 {
		opts.Width = 6 * vg.Inch
	}
	if opts.Height <= 0 {
		opts.Height = 4 * vg.Inch
	}

	// Bars are laid out bottom-up, so reverse the ranking.
	values := make(plotter.Values, len(ranked))
	labels := make([]string, len(ranked))
	for i, imp := range ranked {
		k := len(ranked) - 1 - i
		values[k] = imp.Weight
		labels[k] = imp.Feature
	}

	p := plot.New()
	p.Title.Text = opts.Title
	p.X.Label.Text = "Importance"

	bars, err := plotter.NewBarChart(values, vg.Points(12))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build bar chart")
	}
	bars.Horizontal = true
	bars.Color = color.RGBA{R: 50, G: 110, B: 200, A: 255}
	bars.LineStyle.Width = 0
	p.Add(bars)
	p.NominalY(labels...)

	w, err := p.WriterTo(opts.Width, opts.Height, "png")
	if err != nil {
		return nil, errors.Wrap(err, "failed to render chart")
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, errors.Wrap(err, "failed to encode chart")
	}
	return buf.Bytes(), nil
}
