package pipeline

import (
	"bytes"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlops/core/model"
	"github.com/YuminosukeSato/mlops/dataset"
	"github.com/YuminosukeSato/mlops/pkg/errors"
	"github.com/YuminosukeSato/mlops/preprocessing"
)

// BundleMetadata describes how a bundle was produced.
type BundleMetadata struct {
	Classifier string
	Experiment string
	RunID      string
	Seed       int64
	CreatedAt  time.Time
	Metrics    map[string]float64
}

// ModelBundle is everything needed to score raw data: the fitted classifier and
// the preprocessing state it was trained behind.
type ModelBundle struct {
	Classifier   model.Classifier
	FillValues   map[string]float64 // training means for missing numeric cells
	Encoders     map[string]*preprocessing.LabelEncoder
	Scaler       *preprocessing.StandardScaler
	FeatureNames []string
	Target       string
	Metadata     BundleMetadata
}

// Encode serializes the bundle with gob.
func (b *ModelBundle) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := model.Encode(&buf, b); err != nil {
		return nil, errors.Wrap(err, "failed to encode model bundle")
	}
	return buf.Bytes(), nil
}

// Save writes the bundle to path.
func (b *ModelBundle) Save(path string) error {
	return model.Save(path, b)
}

// DecodeBundle parses a bundle produced by Encode.
func DecodeBundle(data []byte) (*ModelBundle, error) {
	b := &ModelBundle{}
	if err := model.Decode(bytes.NewReader(data), b); err != nil {
		return nil, errors.Wrap(err, "failed to decode model bundle")
	}
	return b, nil
}

// LoadBundle reads a bundle written by Save.
func LoadBundle(path string) (*ModelBundle, error) {
	b := &ModelBundle{}
	if err := model.Load(path, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Prepare fills missing numeric cells with the training means, applies the
// bundle's encoders and scaler to a copy of raw and returns the feature matrix
// in training column order. raw is not modified.
func (b *ModelBundle) Prepare(raw *dataset.Dataset) (*mat.Dense, error) {
	if missing := raw.Missing(b.FeatureNames); len(missing) > 0 {
		return nil, errors.NewColumnNotFoundError("ModelBundle.Prepare", missing...)
	}
	ds := raw.Clone()

	for _, c := range ds.Columns() {
		fill, ok := b.FillValues[c.Name]
		if !ok || c.Kind != dataset.Numeric {
			continue
		}
		for i, v := range c.Floats {
			if math.IsNaN(v) {
				c.Floats[i] = fill
			}
		}
	}

	names := make([]string, 0, len(b.Encoders))
	for name := range b.Encoders {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c, ok := ds.Column(name)
		if !ok {
			return nil, errors.NewColumnNotFoundError("ModelBundle.Prepare", name)
		}
		values := make([]string, c.Len())
		for i := range values {
			values[i] = c.String(i)
		}
		codes, err := b.Encoders[name].Transform(values)
		if err != nil {
			return nil, err
		}
		if err := ds.ReplaceColumn(dataset.NewNumericColumn(name, codes)); err != nil {
			return nil, err
		}
	}

	if b.Scaler != nil {
		if err := b.Scaler.TransformDataset(ds); err != nil {
			return nil, err
		}
	}
	return ds.Matrix(b.FeatureNames)
}

// Predict scores raw, unprocessed rows.
func (b *ModelBundle) Predict(raw *dataset.Dataset) (mat.Matrix, error) {
	X, err := b.Prepare(raw)
	if err != nil {
		return nil, err
	}
	return b.Classifier.Predict(X)
}

// PredictProba returns class probabilities for raw, unprocessed rows.
func (b *ModelBundle) PredictProba(raw *dataset.Dataset) (mat.Matrix, error) {
	X, err := b.Prepare(raw)
	if err != nil {
		return nil, err
	}
	return b.Classifier.PredictProba(X)
}
