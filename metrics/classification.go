// Package metrics は分類モデルの評価指標を提供する
//
// 二値ラベル（0/1）に対しては陽性クラスを1として precision/recall/F1 を計算し、
// それ以外のラベル集合ではクラスごとの値のマクロ平均を返す。
package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlops/pkg/errors"
)

// logLossEps は log(0) を避けるためのクリッピング幅
const logLossEps = 1e-15

func checkPair(op string, yTrue, yPred *mat.VecDense) (int, error) {
	if yTrue == nil || yPred == nil {
		return 0, errors.NewValueError(op, "empty vector")
	}
	n := yTrue.Len()
	if n == 0 {
		return 0, errors.NewValueError(op, "empty vector")
	}
	if yPred.Len() != n {
		return 0, errors.NewDimensionError(op, n, yPred.Len(), 0)
	}
	return n, nil
}

func checkBinary(op string, y *mat.VecDense) error {
	for i := 0; i < y.Len(); i++ {
		if v := y.AtVec(i); v != 0 && v != 1 {
			return errors.NewValueError(op, "labels must be 0 or 1")
		}
	}
	return nil
}

// Accuracy は正解率を計算する
func Accuracy(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("Accuracy", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	correct := 0
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == yPred.AtVec(i) {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// ClassificationError は誤分類率（1 - Accuracy）を計算する
func ClassificationError(yTrue, yPred *mat.VecDense) (float64, error) {
	acc, err := Accuracy(yTrue, yPred)
	if err != nil {
		return 0, errors.Wrap(err, "ClassificationError")
	}
	return 1 - acc, nil
}

// ConfusionMatrix は混同行列を返す。行が正解ラベル、列が予測ラベルで、
// ラベルは昇順に並ぶ
func ConfusionMatrix(yTrue, yPred *mat.VecDense) (*mat.Dense, []float64, error) {
	n, err := checkPair("ConfusionMatrix", yTrue, yPred)
	if err != nil {
		return nil, nil, err
	}
	labels := uniqueLabels(yTrue, yPred)
	index := make(map[float64]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	cm := mat.NewDense(len(labels), len(labels), nil)
	for i := 0; i < n; i++ {
		r, c := index[yTrue.AtVec(i)], index[yPred.AtVec(i)]
		cm.Set(r, c, cm.At(r, c)+1)
	}
	return cm, labels, nil
}

func uniqueLabels(vs ...*mat.VecDense) []float64 {
	seen := make(map[float64]struct{})
	for _, v := range vs {
		for i := 0; i < v.Len(); i++ {
			seen[v.AtVec(i)] = struct{}{}
		}
	}
	labels := make([]float64, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Float64s(labels)
	return labels
}

// isBinary reports whether every label lies in {0, 1}.
func isBinary(labels []float64) bool {
	for _, l := range labels {
		if l != 0 && l != 1 {
			return false
		}
	}
	return true
}

type counts struct{ tp, fp, fn float64 }

func perClass(op string, yTrue, yPred *mat.VecDense) ([]float64, map[float64]*counts, error) {
	n, err := checkPair(op, yTrue, yPred)
	if err != nil {
		return nil, nil, err
	}
	labels := uniqueLabels(yTrue, yPred)
	c := make(map[float64]*counts, len(labels))
	for _, l := range labels {
		c[l] = &counts{}
	}
	for i := 0; i < n; i++ {
		t, p := yTrue.AtVec(i), yPred.AtVec(i)
		if t == p {
			c[t].tp++
			continue
		}
		c[p].fp++
		c[t].fn++
	}
	return labels, c, nil
}

// averaged evaluates score per positive label: label 1 alone for binary data,
// the macro average over every label otherwise.
func averaged(op string, yTrue, yPred *mat.VecDense, score func(op string, c *counts) float64) (float64, error) {
	labels, c, err := perClass(op, yTrue, yPred)
	if err != nil {
		return 0, err
	}
	if isBinary(labels) {
		pos, ok := c[1]
		if !ok {
			pos = &counts{}
		}
		return score(op, pos), nil
	}
	sum := 0.0
	for _, l := range labels {
		sum += score(op, c[l])
	}
	return sum / float64(len(labels)), nil
}

func ratio(op, condition string, num, den float64) float64 {
	if den == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning(op, condition, 0))
		return 0
	}
	return num / den
}

// Precision は適合率を計算する。予測陽性が0件のときは0を返し、UndefinedMetricWarningを出す
func Precision(yTrue, yPred *mat.VecDense) (float64, error) {
	return averaged("Precision", yTrue, yPred, func(op string, c *counts) float64 {
		return ratio(op, "no predicted samples", c.tp, c.tp+c.fp)
	})
}

// Recall は再現率を計算する。正解陽性が0件のときは0を返し、UndefinedMetricWarningを出す
func Recall(yTrue, yPred *mat.VecDense) (float64, error) {
	return averaged("Recall", yTrue, yPred, func(op string, c *counts) float64 {
		return ratio(op, "no true samples", c.tp, c.tp+c.fn)
	})
}

// F1Score は適合率と再現率の調和平均を計算する
func F1Score(yTrue, yPred *mat.VecDense) (float64, error) {
	return averaged("F1Score", yTrue, yPred, func(op string, c *counts) float64 {
		return ratio(op, "no true or predicted samples", 2*c.tp, 2*c.tp+c.fp+c.fn)
	})
}

// AUC はROC曲線下面積を計算する（Mann-Whitney U 統計量、同順位は平均順位）
// 片方のクラスしか存在しない場合は未定義のため0.5を返す
func AUC(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("AUC", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	if err := checkBinary("AUC", yTrue); err != nil {
		return 0, err
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return yPred.AtVec(idx[a]) < yPred.AtVec(idx[b]) })

	// 同順位には平均順位を割り当てる
	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && yPred.AtVec(idx[j+1]) == yPred.AtVec(idx[i]) {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}

	var nPos, nNeg, rankSum float64
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == 1 {
			nPos++
			rankSum += ranks[i]
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("AUC", "only one class present in y_true", 0.5))
		return 0.5, nil
	}
	return (rankSum - nPos*(nPos+1)/2) / (nPos * nNeg), nil
}

// AUCMatrix は行列形式の入力に対してAUCを計算する（先頭列を使用）
func AUCMatrix(yTrue, yPred mat.Matrix) (float64, error) {
	yt, yp, err := firstColumns("AUCMatrix", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return AUC(yt, yp)
}

func firstColumns(op string, yTrue, yPred mat.Matrix) (*mat.VecDense, *mat.VecDense, error) {
	if yTrue == nil || yPred == nil {
		return nil, nil, errors.NewValueError(op, "nil matrix")
	}
	rTrue, cTrue := yTrue.Dims()
	rPred, cPred := yPred.Dims()
	if rTrue == 0 || cTrue == 0 || cPred == 0 {
		return nil, nil, errors.NewValueError(op, "empty matrix")
	}
	if rTrue != rPred {
		return nil, nil, errors.NewDimensionError(op, rTrue, rPred, 0)
	}
	return mat.VecDenseCopyOf(colView(yTrue)), mat.VecDenseCopyOf(colView(yPred)), nil
}

func colView(m mat.Matrix) mat.Vector {
	if cv, ok := m.(mat.ColViewer); ok {
		return cv.ColView(0)
	}
	r, _ := m.Dims()
	v := mat.NewVecDense(r, nil)
	for i := 0; i < r; i++ {
		v.SetVec(i, m.At(i, 0))
	}
	return v
}

// BinaryLogLoss は二値分類の対数損失を計算する。yPred は陽性クラスの確率
func BinaryLogLoss(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("BinaryLogLoss", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	if err := checkBinary("BinaryLogLoss", yTrue); err != nil {
		return 0, err
	}
	var sum float64
	for i := 0; i < n; i++ {
		p := errors.ClipValue(yPred.AtVec(i), logLossEps, 1-logLossEps)
		if yTrue.AtVec(i) == 1 {
			sum -= math.Log(p)
		} else {
			sum -= math.Log(1 - p)
		}
	}
	return sum / float64(n), nil
}

// LogLoss は多クラスの対数損失を計算する。proba の列は classes の順に並ぶ
// classes に含まれないラベルは確率0とみなし、logLossEps にクリップして加算する
func LogLoss(yTrue *mat.VecDense, proba mat.Matrix, classes []float64) (float64, error) {
	if yTrue == nil || proba == nil || yTrue.Len() == 0 {
		return 0, errors.NewValueError("LogLoss", "empty input")
	}
	r, c := proba.Dims()
	if r != yTrue.Len() {
		return 0, errors.NewDimensionError("LogLoss", yTrue.Len(), r, 0)
	}
	if c != len(classes) {
		return 0, errors.NewDimensionError("LogLoss", len(classes), c, 1)
	}
	index := make(map[float64]int, len(classes))
	for j, cl := range classes {
		index[cl] = j
	}
	var sum float64
	unseen := 0
	for i := 0; i < r; i++ {
		p := 0.0
		if j, ok := index[yTrue.AtVec(i)]; ok {
			p = proba.At(i, j)
		} else {
			unseen++
		}
		sum -= math.Log(errors.ClipValue(p, logLossEps, 1-logLossEps))
	}
	loss := sum / float64(r)
	if unseen > 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("LogLoss", "labels outside the model classes", loss))
	}
	return loss, nil
}
