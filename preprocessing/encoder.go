package preprocessing

import (
	"sort"
	"strconv"

	"github.com/YuminosukeSato/mlops/core/model"
	"github.com/YuminosukeSato/mlops/pkg/errors"
)

// LabelEncoder はscikit-learn互換のラベルエンコーダー
// カテゴリ値を辞書順（全て数値なら数値順）に並べ、0からk-1までの密な整数コードを割り当てる
type LabelEncoder struct {
	model.BaseEstimator

	// Column は学習時の列名
	Column string

	// Classes は辞書順に並べたカテゴリ値。インデックスがコードになる
	Classes []string

	index map[string]int
}

// NewLabelEncoder は新しいLabelEncoderを作成する
func NewLabelEncoder(column string) *LabelEncoder {
	return &LabelEncoder{Column: column}
}

// Fit はカテゴリ値の一覧を学習する。欠損値（空文字）があるとDataErrorを返す
func (e *LabelEncoder) Fit(values []string) error {
	if len(values) == 0 {
		return errors.NewModelError("LabelEncoder.Fit", "empty data", errors.ErrEmptyData)
	}
	seen := make(map[string]struct{})
	for _, v := range values {
		if v == "" {
			return errors.NewDataError("LabelEncoder.Fit", e.Column, "column contains missing values")
		}
		seen[v] = struct{}{}
	}
	classes := make([]string, 0, len(seen))
	for v := range seen {
		classes = append(classes, v)
	}
	sortClasses(classes)

	e.Classes = classes
	e.buildIndex()
	e.SetFitted()
	return nil
}

// Transform はカテゴリ値をコードに変換する。未知の値はDataErrorになる
func (e *LabelEncoder) Transform(values []string) ([]float64, error) {
	if err := e.Require("LabelEncoder", "Transform"); err != nil {
		return nil, err
	}
	index := e.index
	if index == nil {
		// Decoded encoders carry only Classes.
		index = classIndex(e.Classes)
	}
	out := make([]float64, len(values))
	for i, v := range values {
		code, ok := index[v]
		if !ok {
			if v == "" {
				return nil, errors.NewDataError("LabelEncoder.Transform", e.Column, "column contains missing values")
			}
			return nil, errors.NewDataError("LabelEncoder.Transform", e.Column, "unseen label "+strconv.Quote(v))
		}
		out[i] = float64(code)
	}
	return out, nil
}

// FitTransform は学習と変換を同時に行う
func (e *LabelEncoder) FitTransform(values []string) ([]float64, error) {
	if err := e.Fit(values); err != nil {
		return nil, err
	}
	return e.Transform(values)
}

// InverseTransform はコードを元のカテゴリ値に戻す
func (e *LabelEncoder) InverseTransform(codes []float64) ([]string, error) {
	if err := e.Require("LabelEncoder", "InverseTransform"); err != nil {
		return nil, err
	}
	out := make([]string, len(codes))
	for i, c := range codes {
		k := int(c)
		if float64(k) != c || k < 0 || k >= len(e.Classes) {
			return nil, errors.NewValueError("LabelEncoder.InverseTransform", "code out of range: "+strconv.FormatFloat(c, 'g', -1, 64))
		}
		out[i] = e.Classes[k]
	}
	return out, nil
}

// sortClasses orders values lexicographically, or numerically when every value is a number
// (a numeric column encoded as categories).
func sortClasses(classes []string) {
	nums := make([]float64, len(classes))
	for i, c := range classes {
		v, err := strconv.ParseFloat(c, 64)
		if err != nil {
			sort.Strings(classes)
			return
		}
		nums[i] = v
	}
	sort.Sort(byValue{classes: classes, nums: nums})
}

type byValue struct {
	classes []string
	nums    []float64
}

func (b byValue) Len() int           { return len(b.classes) }
func (b byValue) Less(i, j int) bool { return b.nums[i] < b.nums[j] }
func (b byValue) Swap(i, j int) {
	b.classes[i], b.classes[j] = b.classes[j], b.classes[i]
	b.nums[i], b.nums[j] = b.nums[j], b.nums[i]
}

func (e *LabelEncoder) buildIndex() {
	e.index = classIndex(e.Classes)
}

func classIndex(classes []string) map[string]int {
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	return index
}
