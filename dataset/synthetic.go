package dataset

import (
	"fmt"
	"math/rand"

	mlerrors "github.com/YuminosukeSato/mlops/pkg/errors"
)

// ClassificationOptions controls MakeClassification.
type ClassificationOptions struct {
	NSamples     int
	NFeatures    int
	NInformative int
	NClasses     int
	ClassSep     float64 // distance of each class centre from the origin along every informative axis
	FlipY        float64 // fraction of labels replaced by a random class
	Seed         int64
}

// DefaultClassificationOptions mirrors scikit-learn's make_classification defaults
// for a 1000×20 binary problem.
func DefaultClassificationOptions() ClassificationOptions {
	return ClassificationOptions{
		NSamples:     1000,
		NFeatures:    20,
		NInformative: 10,
		NClasses:     2,
		ClassSep:     1.0,
		FlipY:        0.01,
		Seed:         42,
	}
}

// MakeClassification generates a seeded synthetic classification dataset.
// Each class is a Gaussian cluster centred on a random vertex of a hypercube
// spanned by the informative features; remaining features are pure noise.
// Columns are named feature_0..feature_{n-1} followed by "target".
func MakeClassification(opts ClassificationOptions) (*Dataset, error) {
	if opts.NSamples <= 0 || opts.NFeatures <= 0 {
		return nil, mlerrors.NewValidationError("n_samples/n_features", "must be positive", [2]int{opts.NSamples, opts.NFeatures})
	}
	if opts.NInformative <= 0 || opts.NInformative > opts.NFeatures {
		return nil, mlerrors.NewValidationError("n_informative", "must be in [1, n_features]", opts.NInformative)
	}
	if opts.NClasses < 2 {
		return nil, mlerrors.NewValidationError("n_classes", "must be at least 2", opts.NClasses)
	}
	if opts.FlipY < 0 || opts.FlipY >= 1 {
		return nil, mlerrors.NewValidationError("flip_y", "must be in [0, 1)", opts.FlipY)
	}

	rng := rand.New(rand.NewSource(opts.Seed))

	// Distinct hypercube vertices for the class centroids.
	centroids := make([][]float64, opts.NClasses)
	used := make(map[string]bool)
	for k := range centroids {
		for attempt := 0; ; attempt++ {
			c := make([]float64, opts.NInformative)
			key := make([]byte, opts.NInformative)
			for j := range c {
				if rng.Intn(2) == 0 {
					c[j], key[j] = -opts.ClassSep, '0'
				} else {
					c[j], key[j] = opts.ClassSep, '1'
				}
			}
			if !used[string(key)] || attempt > 64 {
				used[string(key)] = true
				centroids[k] = c
				break
			}
		}
	}

	// Balanced labels in shuffled order.
	labels := make([]float64, opts.NSamples)
	for i := range labels {
		labels[i] = float64(i % opts.NClasses)
	}
	rng.Shuffle(len(labels), func(i, j int) { labels[i], labels[j] = labels[j], labels[i] })

	features := make([][]float64, opts.NFeatures)
	for j := range features {
		features[j] = make([]float64, opts.NSamples)
	}
	for i := 0; i < opts.NSamples; i++ {
		c := centroids[int(labels[i])]
		for j := 0; j < opts.NFeatures; j++ {
			v := rng.NormFloat64()
			if j < opts.NInformative {
				v += c[j]
			}
			features[j][i] = v
		}
	}

	for i := range labels {
		if rng.Float64() < opts.FlipY {
			labels[i] = float64(rng.Intn(opts.NClasses))
		}
	}

	cols := make([]*Column, 0, opts.NFeatures+1)
	for j, vals := range features {
		cols = append(cols, NewNumericColumn(fmt.Sprintf("feature_%d", j), vals))
	}
	cols = append(cols, NewNumericColumn("target", labels))
	return New(cols...)
}
