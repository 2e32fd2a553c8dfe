// Package preprocessing prepares tabular data for training: duplicate removal,
// mean imputation, label encoding, standard scaling and a seeded train/test split.
//
// DataPreprocessor enforces the order of these steps with an explicit stage:
//
//	loaded → cleaned → encoded → scaled → split
//
// Calls made out of order fail with a StageError instead of silently producing
// a partially transformed table.
package preprocessing

import (
	"math"

	"github.com/YuminosukeSato/mlops/dataset"
	"github.com/YuminosukeSato/mlops/pkg/errors"
	"github.com/YuminosukeSato/mlops/pkg/log"
)

// Stage is the preprocessing progress of a DataPreprocessor.
type Stage int

const (
	StageLoaded Stage = iota
	StageCleaned
	StageEncoded
	StageScaled
	StageSplit
)

func (s Stage) String() string {
	switch s {
	case StageLoaded:
		return "loaded"
	case StageCleaned:
		return "cleaned"
	case StageEncoded:
		return "encoded"
	case StageScaled:
		return "scaled"
	case StageSplit:
		return "split"
	default:
		return "unknown"
	}
}

// Option configures a DataPreprocessor.
type Option func(*DataPreprocessor)

// WithLogger sets the logger used for step summaries.
func WithLogger(logger log.Logger) Option {
	return func(p *DataPreprocessor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// DataPreprocessor owns a dataset and mutates it in place through the preprocessing steps.
type DataPreprocessor struct {
	data     *dataset.Dataset
	stage    Stage
	encoders map[string]*LabelEncoder
	scaler   *StandardScaler
	logger   log.Logger

	// fillValues are the imputation means of the first successful Clean.
	fillValues map[string]float64
}

// NewDataPreprocessor wraps an already loaded dataset.
func NewDataPreprocessor(ds *dataset.Dataset, opts ...Option) *DataPreprocessor {
	p := &DataPreprocessor{
		data:     ds,
		stage:    StageLoaded,
		encoders: make(map[string]*LabelEncoder),
		logger:   log.NopLogger{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(log.ComponentKey, "preprocessing")
	return p
}

// LoadDataPreprocessor reads a CSV file and wraps it.
func LoadDataPreprocessor(path string, opts ...Option) (*DataPreprocessor, error) {
	ds, err := dataset.LoadCSV(path)
	if err != nil {
		return nil, err
	}
	p := NewDataPreprocessor(ds, opts...)
	p.logger.Debug("Dataset loaded", log.PathKey, path, log.SamplesKey, ds.NRows(), log.ColumnsKey, ds.NCols())
	return p, nil
}

// Data returns the current table.
func (p *DataPreprocessor) Data() *dataset.Dataset { return p.data }

// Stage returns the current stage.
func (p *DataPreprocessor) Stage() Stage { return p.stage }

// Encoders returns the label encoders fitted by EncodeCategorical.
func (p *DataPreprocessor) Encoders() map[string]*LabelEncoder { return p.encoders }

// FillValues returns the per-column means Clean used for missing numeric cells.
func (p *DataPreprocessor) FillValues() map[string]float64 { return p.fillValues }

// Scaler returns the scaler fitted by ScaleFeatures, or nil.
func (p *DataPreprocessor) Scaler() *StandardScaler { return p.scaler }

func (p *DataPreprocessor) require(op string, allowed ...Stage) error {
	for _, s := range allowed {
		if p.stage == s {
			return nil
		}
	}
	names := make([]string, len(allowed))
	for i, s := range allowed {
		names[i] = s.String()
	}
	return errors.NewStageError(op, p.stage.String(), names...)
}

// Clean removes exact duplicate rows and fills missing numeric cells with the
// column mean of the de-duplicated data. Rows that become duplicates through
// filling are removed too, so Clean is idempotent.
func (p *DataPreprocessor) Clean() (*DataPreprocessor, error) {
	if err := p.require("Clean", StageLoaded, StageCleaned); err != nil {
		return p, err
	}

	// Nothing is mutated until every numeric column is known to be fillable.
	keep := distinctRows(p.data)
	means := make(map[string]float64)
	for _, c := range p.data.Columns() {
		if c.Kind != dataset.Numeric {
			continue
		}
		sum, n := 0.0, 0
		for _, i := range keep {
			if v := c.Floats[i]; !math.IsNaN(v) {
				sum += v
				n++
			}
		}
		if n == 0 {
			return p, errors.NewDataError("Clean", c.Name, "numeric column has no non-missing values")
		}
		means[c.Name] = sum / float64(n)
	}

	removed := selectRows(p.data, keep)
	imputed := 0
	for _, c := range p.data.Columns() {
		if c.Kind != dataset.Numeric {
			continue
		}
		for i, v := range c.Floats {
			if math.IsNaN(v) {
				c.Floats[i] = means[c.Name]
				imputed++
			}
		}
	}
	if imputed > 0 {
		removed += selectRows(p.data, distinctRows(p.data))
	}
	if len(p.fillValues) == 0 {
		p.fillValues = means
	}

	p.stage = StageCleaned
	p.logger.Info("Dataset cleaned",
		log.OperationKey, log.OperationClean,
		log.DuplicatesKey, removed,
		log.ImputedKey, imputed,
		log.SamplesKey, p.data.NRows(),
	)
	return p, nil
}

// distinctRows returns the indices of the first occurrence of every distinct row.
func distinctRows(ds *dataset.Dataset) []int {
	n := ds.NRows()
	seen := make(map[string]struct{}, n)
	keep := make([]int, 0, n)
	for i := 0; i < n; i++ {
		key := ds.RowKey(i)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keep = append(keep, i)
	}
	return keep
}

func selectRows(ds *dataset.Dataset, keep []int) int {
	n := ds.NRows()
	if len(keep) != n {
		ds.SelectRows(keep)
	}
	return n - len(keep)
}

// EncodeCategorical replaces each named column with dense integer codes in [0,k),
// assigned in sorted order of the distinct values.
func (p *DataPreprocessor) EncodeCategorical(columns []string) (map[string]*LabelEncoder, error) {
	if err := p.require("EncodeCategorical", StageCleaned); err != nil {
		return nil, err
	}
	if missing := p.data.Missing(columns); len(missing) > 0 {
		return nil, errors.NewColumnNotFoundError("EncodeCategorical", missing...)
	}

	encoded := make(map[string]*dataset.Column, len(columns))
	encoders := make(map[string]*LabelEncoder, len(columns))
	for _, name := range columns {
		c, _ := p.data.Column(name)
		values := cellStrings(c)
		enc := NewLabelEncoder(name)
		codes, err := enc.FitTransform(values)
		if err != nil {
			return nil, err
		}
		encoders[name] = enc
		encoded[name] = dataset.NewNumericColumn(name, codes)
	}
	// Mutate only after every column encoded successfully.
	for name, col := range encoded {
		if err := p.data.ReplaceColumn(col); err != nil {
			return nil, err
		}
		p.encoders[name] = encoders[name]
	}

	p.stage = StageEncoded
	p.logger.Info("Categorical columns encoded", log.OperationKey, log.OperationEncode, log.ColumnsKey, columns)
	return encoders, nil
}

func cellStrings(c *dataset.Column) []string {
	out := make([]string, c.Len())
	for i := range out {
		out[i] = c.String(i)
	}
	return out
}

// ScaleFeatures standardizes the named numeric columns in place using the
// population standard deviation.
func (p *DataPreprocessor) ScaleFeatures(columns []string) (*StandardScaler, error) {
	if err := p.require("ScaleFeatures", StageEncoded); err != nil {
		return nil, err
	}
	if missing := p.data.Missing(columns); len(missing) > 0 {
		return nil, errors.NewColumnNotFoundError("ScaleFeatures", missing...)
	}
	for _, name := range columns {
		if c, _ := p.data.Column(name); c.Kind != dataset.Numeric {
			return nil, errors.NewDataError("ScaleFeatures", name, "column is not numeric")
		}
	}

	scaler := NewStandardScaler()
	if err := scaler.FitColumns(p.data, columns); err != nil {
		return nil, err
	}
	if err := scaler.TransformDataset(p.data); err != nil {
		return nil, err
	}

	p.scaler = scaler
	p.stage = StageScaled
	p.logger.Info("Features scaled", log.OperationKey, log.OperationScale, log.FeaturesKey, len(columns))
	return scaler, nil
}
