// Package ensemble implements bagged tree ensembles compatible with scikit-learn's
// RandomForestClassifier.
package ensemble

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/mlops/core/model"
	"github.com/YuminosukeSato/mlops/core/parallel"
	"github.com/YuminosukeSato/mlops/pkg/errors"
	"github.com/YuminosukeSato/mlops/sklearn/tree"
)

// RandomForestClassifier fits decision trees on bootstrap samples and averages
// their class probabilities.
//
// Every tree gets its own seed, drawn in order from randomState before any tree
// is built, so the fitted forest does not depend on nJobs.
type RandomForestClassifier struct {
	state *model.FitState

	// Hyperparameters
	nEstimators     int
	criterion       string
	maxDepth        int // 0 means unlimited
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     string // "sqrt", "log2" or "all"
	bootstrap       bool
	randomState     int64
	nJobs           int

	// Fitted attributes
	estimators_         []*tree.DecisionTreeClassifier
	classes_            []float64
	nFeatures_          int
	featureImportances_ []float64
}

// Option is a functional option for RandomForestClassifier
type Option func(*RandomForestClassifier)

// NewRandomForestClassifier creates a forest with scikit-learn's defaults and seed 42.
func NewRandomForestClassifier(opts ...Option) *RandomForestClassifier {
	rf := &RandomForestClassifier{
		state:           model.NewFitState(),
		nEstimators:     100,
		criterion:       "gini",
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		maxFeatures:     "sqrt",
		bootstrap:       true,
		randomState:     42,
		nJobs:           1,
	}
	for _, opt := range opts {
		opt(rf)
	}
	return rf
}

// WithNEstimators sets the number of trees
func WithNEstimators(n int) Option {
	return func(rf *RandomForestClassifier) { rf.nEstimators = n }
}

// WithCriterion sets the impurity measure of every tree
func WithCriterion(criterion string) Option {
	return func(rf *RandomForestClassifier) { rf.criterion = criterion }
}

// WithMaxDepth limits tree depth; 0 means unlimited
func WithMaxDepth(depth int) Option {
	return func(rf *RandomForestClassifier) { rf.maxDepth = depth }
}

// WithMinSamplesSplit sets the minimum samples required to split a node
func WithMinSamplesSplit(n int) Option {
	return func(rf *RandomForestClassifier) { rf.minSamplesSplit = n }
}

// WithMinSamplesLeaf sets the minimum samples in each leaf
func WithMinSamplesLeaf(n int) Option {
	return func(rf *RandomForestClassifier) { rf.minSamplesLeaf = n }
}

// WithMaxFeatures sets the features examined per split: "sqrt", "log2" or "all"
func WithMaxFeatures(mode string) Option {
	return func(rf *RandomForestClassifier) { rf.maxFeatures = mode }
}

// WithBootstrap toggles bootstrap sampling
func WithBootstrap(bootstrap bool) Option {
	return func(rf *RandomForestClassifier) { rf.bootstrap = bootstrap }
}

// WithRandomState sets the master seed
func WithRandomState(seed int64) Option {
	return func(rf *RandomForestClassifier) { rf.randomState = seed }
}

// WithNJobs sets the number of goroutines used to build trees (-1 means all CPUs)
func WithNJobs(n int) Option {
	return func(rf *RandomForestClassifier) { rf.nJobs = n }
}

func (rf *RandomForestClassifier) featuresPerSplit(nFeatures int) (int, error) {
	var k int
	switch rf.maxFeatures {
	case "sqrt", "auto":
		k = int(math.Sqrt(float64(nFeatures)))
	case "log2":
		k = int(math.Log2(float64(nFeatures)))
	case "all", "":
		k = nFeatures
	default:
		return 0, errors.NewValidationError("max_features", "must be 'sqrt', 'log2' or 'all'", rf.maxFeatures)
	}
	if k < 1 {
		k = 1
	}
	return k, nil
}

// Fit builds nEstimators trees from bootstrap samples of (X, y).
func (rf *RandomForestClassifier) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "RandomForestClassifier.Fit")

	if rf.nEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be >= 1", rf.nEstimators)
	}
	rows, cols := X.Dims()
	if rows == 0 || cols == 0 {
		return errors.NewModelError("RandomForestClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	yRows, _ := y.Dims()
	if yRows != rows {
		return errors.NewDimensionError("RandomForestClassifier.Fit", rows, yRows, 0)
	}
	maxFeatures, err := rf.featuresPerSplit(cols)
	if err != nil {
		return err
	}

	Xd := mat.DenseCopyOf(X)
	yv := make([]float64, rows)
	seen := make(map[float64]struct{})
	for i := range yv {
		yv[i] = y.At(i, 0)
		seen[yv[i]] = struct{}{}
	}
	classes := make([]float64, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Float64s(classes)

	master := rand.New(rand.NewSource(rf.randomState))
	seeds := make([]int64, rf.nEstimators)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	trees := make([]*tree.DecisionTreeClassifier, rf.nEstimators)
	err = parallel.Parallelize(rf.nEstimators, parallel.Workers(rf.nJobs), func(start, end int) error {
		for i := start; i < end; i++ {
			rng := rand.New(rand.NewSource(seeds[i]))
			Xs, ys := Xd, mat.NewDense(rows, 1, yv)
			if rf.bootstrap {
				Xs, ys = bootstrapSample(Xd, yv, rng)
			}
			t := tree.NewDecisionTreeClassifier(
				tree.WithCriterion(rf.criterion),
				tree.WithMaxDepth(rf.maxDepth),
				tree.WithMinSamplesSplit(rf.minSamplesSplit),
				tree.WithMinSamplesLeaf(rf.minSamplesLeaf),
				tree.WithMaxFeatures(maxFeatures),
				tree.WithRandomState(rng.Int63()),
				tree.WithClasses(classes),
			)
			if err := t.Fit(Xs, ys); err != nil {
				return err
			}
			trees[i] = t
		}
		return nil
	})
	if err != nil {
		return err
	}

	importances := make([]float64, cols)
	for _, t := range trees {
		for j, v := range t.GetFeatureImportances() {
			importances[j] += v
		}
	}

	rf.estimators_ = trees
	rf.classes_ = classes
	rf.nFeatures_ = cols
	rf.featureImportances_ = normalize(importances)
	rf.state.MarkFitted(cols, rows)
	return nil
}

func bootstrapSample(X *mat.Dense, y []float64, rng *rand.Rand) (*mat.Dense, *mat.Dense) {
	rows, cols := X.Dims()
	Xs := mat.NewDense(rows, cols, nil)
	ys := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		r := rng.Intn(rows)
		Xs.SetRow(i, X.RawRowView(r))
		ys.Set(i, 0, y[r])
	}
	return Xs, ys
}

func normalize(v []float64) []float64 {
	total := 0.0
	for _, x := range v {
		total += x
	}
	out := make([]float64, len(v))
	if total <= 0 {
		return out
	}
	for i, x := range v {
		out[i] = x / total
	}
	return out
}

func (rf *RandomForestClassifier) checkInput(op string, X mat.Matrix) error {
	return rf.state.Check("RandomForestClassifier", op, X)
}

// PredictProba averages the class probabilities of the trees. Columns follow Classes().
func (rf *RandomForestClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := rf.checkInput("PredictProba", X); err != nil {
		return nil, err
	}
	rows, _ := X.Dims()
	sum := mat.NewDense(rows, len(rf.classes_), nil)
	for _, t := range rf.estimators_ {
		p, err := t.PredictProba(X)
		if err != nil {
			return nil, err
		}
		sum.Add(sum, p)
	}
	sum.Scale(1/float64(len(rf.estimators_)), sum)
	return sum, nil
}

// Predict returns the class with the highest mean probability as an n×1 matrix.
func (rf *RandomForestClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := rf.PredictProba(X)
	if err != nil {
		return nil, err
	}
	rows, cols := proba.Dims()
	out := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		best := 0
		for j := 1; j < cols; j++ {
			if proba.At(i, j) > proba.At(i, best) {
				best = j
			}
		}
		out.Set(i, 0, rf.classes_[best])
	}
	return out, nil
}

// Score returns the mean accuracy on the given data
func (rf *RandomForestClassifier) Score(X, y mat.Matrix) float64 {
	pred, err := rf.Predict(X)
	if err != nil {
		return 0
	}
	rows, _ := pred.Dims()
	if rows == 0 {
		return 0
	}
	correct := 0
	for i := 0; i < rows; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(rows)
}

// Classes returns the sorted class labels
func (rf *RandomForestClassifier) Classes() []float64 {
	return append([]float64(nil), rf.classes_...)
}

// GetFeatureImportances returns the mean tree importances, normalized to sum to 1
func (rf *RandomForestClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), rf.featureImportances_...)
}

// Estimators returns the fitted trees
func (rf *RandomForestClassifier) Estimators() []*tree.DecisionTreeClassifier {
	return rf.estimators_
}

// IsFitted returns whether the forest has been fitted
func (rf *RandomForestClassifier) IsFitted() bool { return rf.state.Fitted() }

// GetParams returns the hyperparameters
func (rf *RandomForestClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":      rf.nEstimators,
		"criterion":         rf.criterion,
		"max_depth":         rf.maxDepth,
		"min_samples_split": rf.minSamplesSplit,
		"min_samples_leaf":  rf.minSamplesLeaf,
		"max_features":      rf.maxFeatures,
		"bootstrap":         rf.bootstrap,
		"random_state":      rf.randomState,
		"n_jobs":            rf.nJobs,
	}
}

// forestSnapshot is the gob form of a RandomForestClassifier.
type forestSnapshot struct {
	NEstimators     int
	Criterion       string
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     string
	Bootstrap       bool
	RandomState     int64
	NJobs           int
	Fitted          bool
	Trees           []*tree.DecisionTreeClassifier
	Classes         []float64
	NFeatures       int
	Importances     []float64
}

// GobEncode implements gob.GobEncoder
func (rf *RandomForestClassifier) GobEncode() ([]byte, error) {
	s := forestSnapshot{
		NEstimators:     rf.nEstimators,
		Criterion:       rf.criterion,
		MaxDepth:        rf.maxDepth,
		MinSamplesSplit: rf.minSamplesSplit,
		MinSamplesLeaf:  rf.minSamplesLeaf,
		MaxFeatures:     rf.maxFeatures,
		Bootstrap:       rf.bootstrap,
		RandomState:     rf.randomState,
		NJobs:           rf.nJobs,
		Fitted:          rf.state.Fitted(),
		Trees:           rf.estimators_,
		Classes:         rf.classes_,
		NFeatures:       rf.nFeatures_,
		Importances:     rf.featureImportances_,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, errors.Wrap(err, "encode random forest")
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder
func (rf *RandomForestClassifier) GobDecode(data []byte) error {
	var s forestSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return errors.Wrap(err, "decode random forest")
	}
	restored := NewRandomForestClassifier(
		WithNEstimators(s.NEstimators),
		WithCriterion(s.Criterion),
		WithMaxDepth(s.MaxDepth),
		WithMinSamplesSplit(s.MinSamplesSplit),
		WithMinSamplesLeaf(s.MinSamplesLeaf),
		WithMaxFeatures(s.MaxFeatures),
		WithBootstrap(s.Bootstrap),
		WithRandomState(s.RandomState),
		WithNJobs(s.NJobs),
	)
	restored.estimators_ = s.Trees
	restored.classes_ = s.Classes
	restored.nFeatures_ = s.NFeatures
	restored.featureImportances_ = s.Importances
	if s.Fitted {
		restored.state.MarkFitted(s.NFeatures, 0)
	}
	*rf = *restored
	return nil
}
