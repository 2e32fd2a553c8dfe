// Package tree implements a CART decision tree classifier compatible with
// scikit-learn's DecisionTreeClassifier.
package tree

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

// Node is one node of a fitted tree. Leaves have Feature == -1.
// Samples with X[Feature] <= Threshold go to Left.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     []float64 // class distribution at the node, one entry per class
	Impurity  float64
	NSamples  int
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return n.Feature < 0 }

// DecisionTreeClassifier is a CART classifier
type DecisionTreeClassifier struct {
	state *model.FitState

	// Hyperparameters
	criterion       string // "gini" or "entropy"
	maxDepth        int    // 0 means unlimited
	minSamplesSplit int    // Minimum samples required to split a node
	minSamplesLeaf  int    // Minimum samples in each leaf
	maxFeatures     int    // Features considered per split, 0 means all
	randomState     int64  // Seed for the feature order when maxFeatures is set
	fixedClasses    []float64

	// Fitted attributes
	nodes               []Node
	classes_            []float64
	nClasses_           int
	nFeatures_          int
	featureImportances_ []float64
	depth_              int
	nLeaves_            int
}

// Option is a functional option for DecisionTreeClassifier
type Option func(*DecisionTreeClassifier)

// NewDecisionTreeClassifier creates a new DecisionTreeClassifier
func NewDecisionTreeClassifier(opts ...Option) *DecisionTreeClassifier {
	dt := &DecisionTreeClassifier{
		state:           model.NewFitState(),
		criterion:       "gini",
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
	}
	for _, opt := range opts {
		opt(dt)
	}
	return dt
}

// WithCriterion sets the impurity measure ("gini" or "entropy")
func WithCriterion(criterion string) Option {
	return func(dt *DecisionTreeClassifier) { dt.criterion = criterion }
}

// WithMaxDepth limits the depth of the tree; 0 means unlimited
func WithMaxDepth(depth int) Option {
	return func(dt *DecisionTreeClassifier) { dt.maxDepth = depth }
}

// WithMinSamplesSplit sets the minimum number of samples required to split a node
func WithMinSamplesSplit(n int) Option {
	return func(dt *DecisionTreeClassifier) { dt.minSamplesSplit = n }
}

// WithMinSamplesLeaf sets the minimum number of samples required in a leaf
func WithMinSamplesLeaf(n int) Option {
	return func(dt *DecisionTreeClassifier) { dt.minSamplesLeaf = n }
}

// WithMaxFeatures sets how many features are examined per split; 0 means all
func WithMaxFeatures(n int) Option {
	return func(dt *DecisionTreeClassifier) { dt.maxFeatures = n }
}

// WithRandomState sets the seed used to order candidate features
func WithRandomState(seed int64) Option {
	return func(dt *DecisionTreeClassifier) { dt.randomState = seed }
}

// WithClasses fixes the class set instead of deriving it from y. Ensembles use it so
// that every member reports probabilities over the same columns.
func WithClasses(classes []float64) Option {
	return func(dt *DecisionTreeClassifier) {
		dt.fixedClasses = append([]float64(nil), classes...)
		sort.Float64s(dt.fixedClasses)
	}
}

func (dt *DecisionTreeClassifier) validate() error {
	switch dt.criterion {
	case "gini", "entropy":
	default:
		return errors.NewValidationError("criterion", "must be 'gini' or 'entropy'", dt.criterion)
	}
	if dt.maxDepth < 0 {
		return errors.NewValidationError("max_depth", "must be >= 0", dt.maxDepth)
	}
	if dt.minSamplesSplit < 2 {
		return errors.NewValidationError("min_samples_split", "must be >= 2", dt.minSamplesSplit)
	}
	if dt.minSamplesLeaf < 1 {
		return errors.NewValidationError("min_samples_leaf", "must be >= 1", dt.minSamplesLeaf)
	}
	if dt.maxFeatures < 0 {
		return errors.NewValidationError("max_features", "must be >= 0", dt.maxFeatures)
	}
	return nil
}

// Fit builds the tree from the training set (X, y). y is an n×1 column of labels.
func (dt *DecisionTreeClassifier) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "DecisionTreeClassifier.Fit")

	if err := dt.validate(); err != nil {
		return err
	}
	rows, cols := X.Dims()
	if rows == 0 || cols == 0 {
		return errors.NewModelError("DecisionTreeClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	yRows, _ := y.Dims()
	if yRows != rows {
		return errors.NewDimensionError("DecisionTreeClassifier.Fit", rows, yRows, 0)
	}
	if err := errors.CheckMatrix("DecisionTreeClassifier.Fit", X, rows, cols, 0); err != nil {
		return err
	}

	classes := dt.fixedClasses
	if len(classes) == 0 {
		classes = uniqueSorted(y, rows)
	}
	index := make(map[float64]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	labels := make([]int, rows)
	for i := 0; i < rows; i++ {
		k, ok := index[y.At(i, 0)]
		if !ok {
			return errors.NewValueError("DecisionTreeClassifier.Fit", "label not among the configured classes")
		}
		labels[i] = k
	}

	b := &builder{
		dt:       dt,
		X:        mat.DenseCopyOf(X),
		labels:   labels,
		nClasses: len(classes),
		nFeature: cols,
		gain:     make([]float64, cols),
	}
	if dt.maxFeatures > 0 && dt.maxFeatures < cols {
		b.rng = rand.New(rand.NewSource(dt.randomState))
	}
	samples := make([]int, rows)
	for i := range samples {
		samples[i] = i
	}

	dt.state.Clear()
	dt.nodes = dt.nodes[:0]
	dt.depth_, dt.nLeaves_ = 0, 0
	b.build(samples, 0)

	dt.classes_ = append([]float64(nil), classes...)
	dt.nClasses_ = len(classes)
	dt.nFeatures_ = cols
	dt.featureImportances_ = normalize(b.gain)
	dt.state.MarkFitted(cols, rows)
	return nil
}

func uniqueSorted(y mat.Matrix, rows int) []float64 {
	seen := make(map[float64]struct{})
	for i := 0; i < rows; i++ {
		seen[y.At(i, 0)] = struct{}{}
	}
	out := make([]float64, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}

func normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	total := 0.0
	for _, x := range v {
		total += x
	}
	if total <= 0 {
		return out
	}
	for i, x := range v {
		out[i] = x / total
	}
	return out
}

type builder struct {
	dt       *DecisionTreeClassifier
	X        *mat.Dense
	labels   []int
	nClasses int
	nFeature int
	rng      *rand.Rand
	gain     []float64 // weighted impurity decrease per feature
}

type candidate struct {
	feature   int
	threshold float64
	impurity  float64 // weighted child impurity
	left      []int
	right     []int
}

// build appends the subtree for samples and returns its node index.
func (b *builder) build(samples []int, depth int) int {
	dt := b.dt
	counts := make([]float64, b.nClasses)
	for _, s := range samples {
		counts[b.labels[s]]++
	}
	n := float64(len(samples))
	imp := impurity(dt.criterion, counts, n)

	value := make([]float64, b.nClasses)
	for k, c := range counts {
		value[k] = c / n
	}
	id := len(dt.nodes)
	dt.nodes = append(dt.nodes, Node{Feature: -1, Value: value, Impurity: imp, NSamples: len(samples)})
	if depth > dt.depth_ {
		dt.depth_ = depth
	}

	if imp <= 0 ||
		len(samples) < dt.minSamplesSplit ||
		len(samples) < 2*dt.minSamplesLeaf ||
		(dt.maxDepth > 0 && depth >= dt.maxDepth) {
		dt.nLeaves_++
		return id
	}

	best, ok := b.bestSplit(samples)
	if !ok {
		dt.nLeaves_++
		return id
	}
	b.gain[best.feature] += n*imp - float64(len(samples))*best.impurity

	left := b.build(best.left, depth+1)
	right := b.build(best.right, depth+1)
	node := &dt.nodes[id]
	node.Feature = best.feature
	node.Threshold = best.threshold
	node.Left = left
	node.Right = right
	return id
}

func (b *builder) featureOrder() []int {
	if b.rng != nil {
		return b.rng.Perm(b.nFeature)
	}
	order := make([]int, b.nFeature)
	for i := range order {
		order[i] = i
	}
	return order
}

// bestSplit scans features in featureOrder. With maxFeatures set, the scan stops after
// that many non-constant features once a valid split exists.
func (b *builder) bestSplit(samples []int) (candidate, bool) {
	dt := b.dt
	limit := b.nFeature
	if dt.maxFeatures > 0 && dt.maxFeatures < limit {
		limit = dt.maxFeatures
	}

	n := len(samples)
	sorted := make([]int, n)
	leftCounts := make([]float64, b.nClasses)
	rightCounts := make([]float64, b.nClasses)

	var best candidate
	found := false
	visited := 0
	for _, f := range b.featureOrder() {
		if visited >= limit && found {
			break
		}
		copy(sorted, samples)
		sort.SliceStable(sorted, func(i, j int) bool { return b.X.At(sorted[i], f) < b.X.At(sorted[j], f) })
		if b.X.At(sorted[0], f) == b.X.At(sorted[n-1], f) {
			continue // constant at this node
		}
		visited++

		for k := range leftCounts {
			leftCounts[k], rightCounts[k] = 0, 0
		}
		for _, s := range sorted {
			rightCounts[b.labels[s]]++
		}
		for i := 0; i < n-1; i++ {
			c := b.labels[sorted[i]]
			leftCounts[c]++
			rightCounts[c]--

			nLeft, nRight := i+1, n-i-1
			if nLeft < dt.minSamplesLeaf || nRight < dt.minSamplesLeaf {
				continue
			}
			lo, hi := b.X.At(sorted[i], f), b.X.At(sorted[i+1], f)
			if lo == hi {
				continue
			}
			w := (float64(nLeft)*impurity(dt.criterion, leftCounts, float64(nLeft)) +
				float64(nRight)*impurity(dt.criterion, rightCounts, float64(nRight))) / float64(n)
			if !found || w < best.impurity {
				threshold := lo + (hi-lo)/2
				if threshold >= hi {
					threshold = lo
				}
				best = candidate{feature: f, threshold: threshold, impurity: w}
				found = true
			}
		}
	}
	if !found {
		return best, false
	}

	for _, s := range samples {
		if b.X.At(s, best.feature) <= best.threshold {
			best.left = append(best.left, s)
		} else {
			best.right = append(best.right, s)
		}
	}
	return best, true
}

func impurity(criterion string, counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	switch criterion {
	case "entropy":
		h := 0.0
		for _, c := range counts {
			if c > 0 {
				p := c / n
				h -= p * math.Log2(p)
			}
		}
		return h
	default:
		g := 1.0
		for _, c := range counts {
			p := c / n
			g -= p * p
		}
		return g
	}
}

func (dt *DecisionTreeClassifier) leaf(x []float64) *Node {
	i := 0
	for {
		node := &dt.nodes[i]
		if node.IsLeaf() {
			return node
		}
		if x[node.Feature] <= node.Threshold {
			i = node.Left
		} else {
			i = node.Right
		}
	}
}

func (dt *DecisionTreeClassifier) checkInput(op string, X mat.Matrix) error {
	return dt.state.Check("DecisionTreeClassifier", op, X)
}

// PredictProba returns the class distribution of the leaf reached by each sample.
// Columns follow Classes().
func (dt *DecisionTreeClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := dt.checkInput("PredictProba", X); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	out := mat.NewDense(rows, dt.nClasses_, nil)
	x := make([]float64, cols)
	for i := 0; i < rows; i++ {
		mat.Row(x, i, X)
		out.SetRow(i, dt.leaf(x).Value)
	}
	return out, nil
}

// Predict returns the most probable class of each sample as an n×1 matrix.
func (dt *DecisionTreeClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := dt.checkInput("Predict", X); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	out := mat.NewDense(rows, 1, nil)
	x := make([]float64, cols)
	for i := 0; i < rows; i++ {
		mat.Row(x, i, X)
		out.Set(i, 0, dt.classes_[argmax(dt.leaf(x).Value)])
	}
	return out, nil
}

func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// Score returns the mean accuracy on the given test data and labels
func (dt *DecisionTreeClassifier) Score(X, y mat.Matrix) float64 {
	pred, err := dt.Predict(X)
	if err != nil {
		return 0
	}
	rows, _ := X.Dims()
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

// Classes returns the sorted class labels.
func (dt *DecisionTreeClassifier) Classes() []float64 {
	return append([]float64(nil), dt.classes_...)
}

// GetFeatureImportances returns the normalized total impurity decrease per feature.
func (dt *DecisionTreeClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), dt.featureImportances_...)
}

// GetDepth returns the depth of the fitted tree (a single leaf has depth 0).
func (dt *DecisionTreeClassifier) GetDepth() int { return dt.depth_ }

// GetNLeaves returns the number of leaves of the fitted tree.
func (dt *DecisionTreeClassifier) GetNLeaves() int { return dt.nLeaves_ }

// IsFitted returns whether the tree has been fitted
func (dt *DecisionTreeClassifier) IsFitted() bool { return dt.state.Fitted() }

// GetParams returns the hyperparameters
func (dt *DecisionTreeClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"criterion":         dt.criterion,
		"max_depth":         dt.maxDepth,
		"min_samples_split": dt.minSamplesSplit,
		"min_samples_leaf":  dt.minSamplesLeaf,
		"max_features":      dt.maxFeatures,
		"random_state":      dt.randomState,
	}
}

// SetParams sets the hyperparameters
func (dt *DecisionTreeClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		switch key {
		case "criterion":
			s, ok := value.(string)
			if !ok {
				return errors.NewValidationError(key, "must be a string", value)
			}
			dt.criterion = s
		case "max_depth", "min_samples_split", "min_samples_leaf", "max_features":
			n, ok := toInt(value)
			if !ok {
				return errors.NewValidationError(key, "must be an integer", value)
			}
			switch key {
			case "max_depth":
				dt.maxDepth = n
			case "min_samples_split":
				dt.minSamplesSplit = n
			case "min_samples_leaf":
				dt.minSamplesLeaf = n
			case "max_features":
				dt.maxFeatures = n
			}
		case "random_state":
			n, ok := toInt(value)
			if !ok {
				return errors.NewValidationError(key, "must be an integer", value)
			}
			dt.randomState = int64(n)
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
	}
	return dt.validate()
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == math.Trunc(n) {
			return int(n), true
		}
	}
	return 0, false
}

// treeSnapshot is the gob form of a DecisionTreeClassifier.
type treeSnapshot struct {
	Criterion       string
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int
	RandomState     int64
	Fitted          bool
	Nodes           []Node
	Classes         []float64
	NFeatures       int
	Importances     []float64
	Depth           int
	NLeaves         int
}

// GobEncode implements gob.GobEncoder
func (dt *DecisionTreeClassifier) GobEncode() ([]byte, error) {
	s := treeSnapshot{
		Criterion:       dt.criterion,
		MaxDepth:        dt.maxDepth,
		MinSamplesSplit: dt.minSamplesSplit,
		MinSamplesLeaf:  dt.minSamplesLeaf,
		MaxFeatures:     dt.maxFeatures,
		RandomState:     dt.randomState,
		Fitted:          dt.state.Fitted(),
		Nodes:           dt.nodes,
		Classes:         dt.classes_,
		NFeatures:       dt.nFeatures_,
		Importances:     dt.featureImportances_,
		Depth:           dt.depth_,
		NLeaves:         dt.nLeaves_,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, errors.Wrap(err, "encode decision tree")
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder
func (dt *DecisionTreeClassifier) GobDecode(data []byte) error {
	var s treeSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return errors.Wrap(err, "decode decision tree")
	}
	*dt = DecisionTreeClassifier{
		state:               model.NewFitState(),
		criterion:           s.Criterion,
		maxDepth:            s.MaxDepth,
		minSamplesSplit:     s.MinSamplesSplit,
		minSamplesLeaf:      s.MinSamplesLeaf,
		maxFeatures:         s.MaxFeatures,
		randomState:         s.RandomState,
		nodes:               s.Nodes,
		classes_:            s.Classes,
		nClasses_:           len(s.Classes),
		nFeatures_:          s.NFeatures,
		featureImportances_: s.Importances,
		depth_:              s.Depth,
		nLeaves_:            s.NLeaves,
	}
	if s.Fitted {
		dt.state.MarkFitted(s.NFeatures, 0)
	}
	return nil
}
