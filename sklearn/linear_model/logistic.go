package linear_model

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlops/core/model"
	"github.com/YuminosukeSato/mlops/pkg/errors"
)

// LogisticRegression is a one-vs-rest logistic classifier fitted by full-batch
// gradient descent. With two classes a single problem is solved, the larger
// label being the positive one.
type LogisticRegression struct {
	state *model.FitState

	penalty      string  // "l2", "l1" or "none"
	C            float64 // inverse regularization strength
	fitIntercept bool
	randomState  int64 // < 0 seeds from the global source
	maxIter      int
	tol          float64 // stop when every gradient component is below tol

	coef_      [][]float64 // one row per binary problem
	intercept_ []float64
	classes_   []float64
	nClasses_  int
	nFeatures_ int
	nIter_     []int
}

// LogisticRegressionOption configures a LogisticRegression.
type LogisticRegressionOption func(*LogisticRegression)

// NewLogisticRegression returns an unfitted model with l2 penalty, C=1,
// intercept, max_iter=100 and tol=1e-4.
func NewLogisticRegression(opts ...LogisticRegressionOption) *LogisticRegression {
	lr := &LogisticRegression{
		state:        model.NewFitState(),
		penalty:      "l2",
		C:            1.0,
		fitIntercept: true,
		randomState:  -1,
		maxIter:      100,
		tol:          1e-4,
	}
	for _, opt := range opts {
		opt(lr)
	}
	return lr
}

func WithLRPenalty(penalty string) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.penalty = penalty }
}

func WithLRC(c float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.C = c }
}

func WithLogisticFitIntercept(fit bool) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.fitIntercept = fit }
}

func WithLRMaxIter(maxIter int) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.maxIter = maxIter }
}

func WithLRTol(tol float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.tol = tol }
}

// WithLRRandomState seeds the initial weights.
func WithLRRandomState(seed int64) LogisticRegressionOption {
	return func(lr *LogisticRegression) { lr.randomState = seed }
}

func (lr *LogisticRegression) validate() error {
	switch lr.penalty {
	case "l2", "l1", "none":
	default:
		return errors.NewValidationError("penalty", "must be 'l2', 'l1' or 'none'", lr.penalty)
	}
	if lr.C <= 0 {
		return errors.NewValidationError("C", "must be positive", lr.C)
	}
	if lr.maxIter < 1 {
		return errors.NewValidationError("max_iter", "must be >= 1", lr.maxIter)
	}
	return nil
}

func (lr *LogisticRegression) rng() *rand.Rand {
	seed := lr.randomState
	if seed < 0 {
		seed = rand.Int63()
	}
	return rand.New(rand.NewSource(seed))
}

// Fit learns one weight vector per binary problem. y is an n×1 label column
// with at least two distinct values.
func (lr *LogisticRegression) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "LogisticRegression.Fit")

	if err := lr.validate(); err != nil {
		return err
	}
	n, p := X.Dims()
	yRows, yCols := y.Dims()
	switch {
	case n == 0 || p == 0:
		return errors.NewModelError("LogisticRegression.Fit", "empty data", errors.ErrEmptyData)
	case yRows != n:
		return errors.NewDimensionError("LogisticRegression.Fit", n, yRows, 0)
	case yCols != 1:
		return errors.NewDimensionError("LogisticRegression.Fit", 1, yCols, 1)
	}
	if err := errors.CheckMatrix("LogisticRegression.Fit", X, n, p, 0); err != nil {
		return err
	}

	classes := sortedLabels(y)
	if len(classes) < 2 {
		return errors.NewValueError("LogisticRegression.Fit", "needs samples of at least 2 classes")
	}
	positives := classes
	if len(classes) == 2 {
		positives = classes[1:]
	}

	Xd := mat.DenseCopyOf(X)
	rng := lr.rng()
	coef := make([][]float64, len(positives))
	intercept := make([]float64, len(positives))
	nIter := make([]int, len(positives))
	for k, label := range positives {
		w := make([]float64, p)
		for j := range w {
			w[j] = rng.NormFloat64() * 0.01
		}
		b, iters, err := lr.descend(Xd, indicator(y, label), w)
		if err != nil {
			return errors.Wrapf(err, "failed to fit class %g", label)
		}
		coef[k], intercept[k], nIter[k] = w, b, iters
	}

	lr.coef_, lr.intercept_, lr.nIter_ = coef, intercept, nIter
	lr.classes_, lr.nClasses_, lr.nFeatures_ = classes, len(classes), p
	lr.state.MarkFitted(p, n)
	return nil
}

func sortedLabels(y mat.Matrix) []float64 {
	rows, _ := y.Dims()
	seen := make(map[float64]struct{})
	var labels []float64
	for i := 0; i < rows; i++ {
		v := y.At(i, 0)
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			labels = append(labels, v)
		}
	}
	sort.Float64s(labels)
	return labels
}

func indicator(y mat.Matrix, positive float64) *mat.VecDense {
	rows, _ := y.Dims()
	v := mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		if y.At(i, 0) == positive {
			v.SetVec(i, 1)
		}
	}
	return v
}

// descend minimizes the mean log loss plus penalty for one binary problem,
// updating w in place. The step size decays as 1/(1+0.1t). Running out of
// iterations emits a ConvergenceWarning.
func (lr *LogisticRegression) descend(X *mat.Dense, target *mat.VecDense, w []float64) (intercept float64, iters int, err error) {
	n, p := X.Dims()
	weights := mat.NewVecDense(p, w)
	residual := mat.NewVecDense(n, nil)
	grad := mat.NewVecDense(p, nil)
	lambda := 1 / lr.C

	for iter := 0; iter < lr.maxIter; iter++ {
		residual.MulVec(X, weights)
		for i := 0; i < n; i++ {
			residual.SetVec(i, sigmoid(residual.AtVec(i)+intercept))
		}
		residual.SubVec(residual, target)

		grad.MulVec(X.T(), residual)
		grad.ScaleVec(1/float64(n), grad)
		gradIntercept := mat.Sum(residual) / float64(n)

		switch lr.penalty {
		case "l2":
			grad.AddScaledVec(grad, lambda, weights)
		case "l1":
			for j, v := range w {
				grad.SetVec(j, grad.AtVec(j)+lambda*sign(v))
			}
		}

		step := 1 / (1 + 0.1*float64(iter))
		weights.AddScaledVec(weights, -step, grad)
		if lr.fitIntercept {
			intercept -= step * gradIntercept
		}
		iters = iter + 1

		if err := errors.CheckNumericalStability("LogisticRegression.Fit", w, iter); err != nil {
			return 0, iters, err
		}
		if math.Max(math.Abs(gradIntercept), mat.Norm(grad, math.Inf(1))) < lr.tol {
			return intercept, iters, nil
		}
	}

	errors.Warn(errors.NewConvergenceWarning("LogisticRegression", lr.maxIter,
		"maximum number of iterations reached; increase max_iter or scale the data"))
	return intercept, iters, nil
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

// scores returns the n×k decision values X·coefᵀ + intercept.
func (lr *LogisticRegression) scores(X mat.Matrix) *mat.Dense {
	n, _ := X.Dims()
	k := len(lr.coef_)
	W := mat.NewDense(k, lr.nFeatures_, nil)
	for c, row := range lr.coef_ {
		W.SetRow(c, row)
	}
	s := mat.NewDense(n, k, nil)
	s.Mul(X, W.T())
	s.Apply(func(_, c int, v float64) float64 { return v + lr.intercept_[c] }, s)
	return s
}

func (lr *LogisticRegression) checkInput(op string, X mat.Matrix) error {
	return lr.state.Check("LogisticRegression", op, X)
}

// Predict returns the most probable label per row.
func (lr *LogisticRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := lr.checkInput("Predict", X); err != nil {
		return nil, err
	}
	s := lr.scores(X)
	n, k := s.Dims()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		if k == 1 {
			label := lr.classes_[0]
			if sigmoid(s.At(i, 0)) >= 0.5 {
				label = lr.classes_[1]
			}
			out.Set(i, 0, label)
			continue
		}
		best := 0
		for c := 1; c < k; c++ {
			if s.At(i, c) > s.At(i, best) {
				best = c
			}
		}
		out.Set(i, 0, lr.classes_[best])
	}
	return out, nil
}

// PredictProba returns class probabilities ordered as Classes(). With more
// than two classes the one-vs-rest scores are normalized by softmax.
func (lr *LogisticRegression) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := lr.checkInput("PredictProba", X); err != nil {
		return nil, err
	}
	s := lr.scores(X)
	n, k := s.Dims()
	probas := mat.NewDense(n, lr.nClasses_, nil)
	for i := 0; i < n; i++ {
		if k == 1 {
			p := sigmoid(s.At(i, 0))
			probas.Set(i, 0, 1-p)
			probas.Set(i, 1, p)
			continue
		}
		row := s.RawRowView(i)
		top := math.Inf(-1)
		for _, v := range row {
			top = math.Max(top, v)
		}
		sum := 0.0
		for c, v := range row {
			e := math.Exp(v - top)
			probas.Set(i, c, e)
			sum += e
		}
		for c := 0; c < k; c++ {
			probas.Set(i, c, probas.At(i, c)/sum)
		}
	}
	return probas, nil
}

// Score returns the accuracy of Predict(X) against y, or 0 if Predict fails.
func (lr *LogisticRegression) Score(X, y mat.Matrix) float64 {
	pred, err := lr.Predict(X)
	if err != nil {
		return 0
	}
	n, _ := X.Dims()
	hits := 0
	for i := 0; i < n; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			hits++
		}
	}
	return float64(hits) / float64(n)
}

func (lr *LogisticRegression) Classes() []float64 {
	return append([]float64(nil), lr.classes_...)
}

// GetFeatureImportances ranks features by |coef| summed over the binary
// problems, normalized to sum to 1.
func (lr *LogisticRegression) GetFeatureImportances() []float64 {
	out := make([]float64, lr.nFeatures_)
	total := 0.0
	for _, row := range lr.coef_ {
		for j, w := range row {
			out[j] += math.Abs(w)
			total += math.Abs(w)
		}
	}
	if total > 0 {
		for j := range out {
			out[j] /= total
		}
	}
	return out
}

// NIter returns the iterations run for each binary problem.
func (lr *LogisticRegression) NIter() []int {
	return append([]int(nil), lr.nIter_...)
}

func (lr *LogisticRegression) IsFitted() bool { return lr.state.Fitted() }

func (lr *LogisticRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"penalty":       lr.penalty,
		"C":             lr.C,
		"fit_intercept": lr.fitIntercept,
		"random_state":  lr.randomState,
		"max_iter":      lr.maxIter,
		"multi_class":   "ovr",
		"tol":           lr.tol,
	}
}

// SetParams updates hyperparameters by GetParams key. Values must have the
// Go type GetParams reports.
func (lr *LogisticRegression) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var ok bool
		switch key {
		case "penalty":
			lr.penalty, ok = value.(string)
		case "C":
			lr.C, ok = value.(float64)
		case "fit_intercept":
			lr.fitIntercept, ok = value.(bool)
		case "random_state":
			lr.randomState, ok = value.(int64)
		case "max_iter":
			lr.maxIter, ok = value.(int)
		case "tol":
			lr.tol, ok = value.(float64)
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
		if !ok {
			return errors.NewValidationError(key, "unexpected type", value)
		}
	}
	return nil
}

type logisticSnapshot struct {
	Penalty      string
	C            float64
	FitIntercept bool
	RandomState  int64
	MaxIter      int
	Tol          float64
	Fitted       bool
	Coef         [][]float64
	Intercept    []float64
	Classes      []float64
	NFeatures    int
	NIter        []int
}

func (lr *LogisticRegression) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(logisticSnapshot{
		Penalty:      lr.penalty,
		C:            lr.C,
		FitIntercept: lr.fitIntercept,
		RandomState:  lr.randomState,
		MaxIter:      lr.maxIter,
		Tol:          lr.tol,
		Fitted:       lr.state.Fitted(),
		Coef:         lr.coef_,
		Intercept:    lr.intercept_,
		Classes:      lr.classes_,
		NFeatures:    lr.nFeatures_,
		NIter:        lr.nIter_,
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode logistic regression")
	}
	return buf.Bytes(), nil
}

func (lr *LogisticRegression) GobDecode(data []byte) error {
	var s logisticSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return errors.Wrap(err, "decode logistic regression")
	}
	*lr = LogisticRegression{
		state:        model.NewFitState(),
		penalty:      s.Penalty,
		C:            s.C,
		fitIntercept: s.FitIntercept,
		randomState:  s.RandomState,
		maxIter:      s.MaxIter,
		tol:          s.Tol,
		coef_:        s.Coef,
		intercept_:   s.Intercept,
		classes_:     s.Classes,
		nClasses_:    len(s.Classes),
		nFeatures_:   s.NFeatures,
		nIter_:       s.NIter,
	}
	if s.Fitted {
		lr.state.MarkFitted(s.NFeatures, 0)
	}
	return nil
}
