package preprocessing

import (
	"math"
	"strconv"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/mlops/core/model"
	"github.com/YuminosukeSato/mlops/dataset"
	"github.com/YuminosukeSato/mlops/pkg/errors"
)

// degenerateTolerance bounds the standard deviation relative to the column's largest magnitude.
// Anything below it is rounding noise around a constant.
const degenerateTolerance = 10 * 2.220446049250313e-16

var _ model.InverseTransformer = (*StandardScaler)(nil)

// StandardScaler はscikit-learn互換の標準化スケーラー
// データを平均0、標準偏差1（母標準偏差）に変換する
// 学習した統計量は列名とともに保持され、将来のデータに同じ変換を適用できる
type StandardScaler struct {
	model.BaseEstimator

	// FeatureNames は学習時の列名（行列から学習した場合は空）
	FeatureNames []string

	// Mean は各特徴量の平均値
	Mean []float64

	// Scale は各特徴量の母標準偏差
	Scale []float64

	// NFeatures は特徴量の数
	NFeatures int
}

// NewStandardScaler は新しいStandardScalerを作成する
//
// 使用例:
//
//	scaler := preprocessing.NewStandardScaler()
//	err := scaler.Fit(X)
//	XScaled, err := scaler.Transform(X)
func NewStandardScaler() *StandardScaler {
	return &StandardScaler{}
}

// Fit は訓練データから統計情報（平均、母標準偏差）を計算する
// 標準偏差が0の列があるとDegenerateFeatureErrorを返す
func (s *StandardScaler) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("StandardScaler.Fit", "empty data", errors.ErrEmptyData)
	}
	if err := errors.CheckMatrix("StandardScaler.Fit", X, r, c, 0); err != nil {
		return err
	}

	names := s.FeatureNames
	if len(names) != c {
		names = nil
	}

	mean := make([]float64, c)
	scale := make([]float64, c)
	col := make([]float64, r)
	for j := 0; j < c; j++ {
		mat.Col(col, j, X)
		mean[j] = stat.Mean(col, nil)
		scale[j] = math.Sqrt(stat.PopVariance(col, nil))

		if isConstant(col, scale[j]) {
			name := featureLabel(j)
			if names != nil {
				name = names[j]
			}
			return errors.NewDegenerateFeatureError(name, col[0])
		}
	}

	s.NFeatures = c
	s.Mean = mean
	s.Scale = scale
	s.FeatureNames = names
	s.SetFitted()
	return nil
}

// isConstant reports whether a column's spread is indistinguishable from zero at its own magnitude.
func isConstant(col []float64, std float64) bool {
	maxAbs := 0.0
	for _, v := range col {
		maxAbs = math.Max(maxAbs, math.Abs(v))
	}
	return std == 0 || std < degenerateTolerance*maxAbs
}

// FitColumns fits the scaler on named numeric columns of ds.
func (s *StandardScaler) FitColumns(ds *dataset.Dataset, columns []string) error {
	X, err := ds.Matrix(columns)
	if err != nil {
		return err
	}
	s.FeatureNames = append([]string(nil), columns...)
	return s.Fit(X)
}

// Transform は学習済みの統計情報を使ってデータを標準化する
func (s *StandardScaler) Transform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.Require("StandardScaler", "Transform"); err != nil {
		return nil, err
	}

	r, c := X.Dims()
	if c != s.NFeatures {
		return nil, errors.NewDimensionError("StandardScaler.Transform", s.NFeatures, c, 1)
	}

	result := mat.NewDense(r, c, nil)
	result.Apply(func(i, j int, v float64) float64 {
		return (v - s.Mean[j]) / s.Scale[j]
	}, X)
	return result, nil
}

// TransformDataset replaces the fitted columns of ds with their standardized values.
// Columns are looked up by FeatureNames, so ds may contain other columns in any order.
func (s *StandardScaler) TransformDataset(ds *dataset.Dataset) error {
	if err := s.Require("StandardScaler", "TransformDataset"); err != nil {
		return err
	}
	if len(s.FeatureNames) != s.NFeatures {
		return errors.NewValueError("StandardScaler.TransformDataset", "scaler was fitted without feature names")
	}
	if missing := ds.Missing(s.FeatureNames); len(missing) > 0 {
		return errors.NewColumnNotFoundError("StandardScaler.TransformDataset", missing...)
	}
	for j, name := range s.FeatureNames {
		c, _ := ds.Column(name)
		if c.Kind != dataset.Numeric {
			return errors.NewDataError("StandardScaler.TransformDataset", name, "column is not numeric")
		}
		scaled := make([]float64, len(c.Floats))
		for i, v := range c.Floats {
			scaled[i] = (v - s.Mean[j]) / s.Scale[j]
		}
		if err := ds.ReplaceColumn(dataset.NewNumericColumn(name, scaled)); err != nil {
			return err
		}
	}
	return nil
}

// FitTransform は訓練データで学習し、同じデータを変換する
func (s *StandardScaler) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// InverseTransform は標準化されたデータを元のスケールに戻す
func (s *StandardScaler) InverseTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.Require("StandardScaler", "InverseTransform"); err != nil {
		return nil, err
	}

	r, c := X.Dims()
	if c != s.NFeatures {
		return nil, errors.NewDimensionError("StandardScaler.InverseTransform", s.NFeatures, c, 1)
	}

	result := mat.NewDense(r, c, nil)
	result.Apply(func(i, j int, v float64) float64 {
		return v*s.Scale[j] + s.Mean[j]
	}, X)
	return result, nil
}

// GetParams はスケーラーのパラメータを取得する
func (s *StandardScaler) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"with_mean": true,
		"with_std":  true,
	}
}

func featureLabel(j int) string {
	return "x" + strconv.Itoa(j)
}
